package service

import (
	"strings"
	"time"

	"shopino/crawler/internal/state"

	log "github.com/sirupsen/logrus"
)

func logSummary(sum state.Summary) {
	for _, tl := range sum.TopLevels {
		log.WithFields(log.Fields{
			"inserted":              tl.Inserted,
			"updated":               tl.Updated,
			"unchanged":             tl.Unchanged,
			"skipped":               tl.Skipped,
			"failed_images":         tl.FailedImages,
			"skipped_subcategories": tl.SkippedSubcategories,
		}).Infof("📊 %s", tl.Name)
	}

	for kind, urls := range sum.Failures {
		log.Warnf("⚠️ %s failures, for example: %s", kind, strings.Join(urls, ", "))
	}

	if sum.Aborted != "" {
		log.Errorf("❌ Crawl stopped early after %v: %s", sum.Duration().Round(time.Millisecond), sum.Aborted)
		return
	}

	t := sum.Totals
	log.Infof("✅ Crawl finished in %v: %d inserted, %d updated, %d unchanged, %d skipped, %d image failures",
		sum.Duration().Round(time.Millisecond), t.Inserted, t.Updated, t.Unchanged, t.Skipped, t.FailedImages)
}

func joinPath(path []string) string {
	return strings.Join(path, " > ")
}
