package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"shopino/crawler/internal/domain"
	"shopino/crawler/internal/state"

	"github.com/nao1215/markdown"
)

// failureSections lists the failure kinds in the order they are reported.
var failureSections = []struct {
	kind   domain.SkipKind
	header string
}{
	{domain.SkipPermanent, "Permanent fetch failures"},
	{domain.SkipTransient, "Transient fetch failures (retried with --resume)"},
	{domain.SkipExtraction, "Extraction failures"},
	{state.FailureSubcategory, "Skipped subcategories"},
	{state.FailureImage, "Image failures"},
}

// Write renders the run summary as Markdown.
func Write(w io.Writer, sum state.Summary) error {
	md := markdown.NewMarkdown(w)

	md.H1("Crawl Report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Started", sum.StartedAt.Format("2006-01-02 15:04:05 MST")},
			{"Duration", sum.Duration().Round(time.Second).String()},
			{"Products known at start", strconv.Itoa(sum.KnownAtStart)},
			{"Status", status(sum)},
		},
	})
	md.PlainText("")

	writeCounters(md, sum)
	writeFailures(md, sum)

	return md.Build()
}

// WriteFile writes the report to path, creating its directory.
func WriteFile(path string, sum state.Summary) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	defer f.Close()

	if err := Write(f, sum); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return f.Close()
}

func status(sum state.Summary) string {
	if sum.Aborted != "" {
		return "❌ Aborted - " + sum.Aborted
	}
	return "✅ Complete"
}

func writeCounters(md *markdown.Markdown, sum state.Summary) {
	md.H2("Results by category")
	md.PlainText("")

	rows := make([][]string, 0, len(sum.TopLevels)+1)
	for _, tl := range sum.TopLevels {
		rows = append(rows, counterRow(tl.Name, tl.Counters))
	}
	total := counterRow("**Total**", sum.Totals)
	for i := 1; i < len(total); i++ {
		total[i] = "**" + total[i] + "**"
	}
	rows = append(rows, total)

	md.Table(markdown.TableSet{
		Header: []string{"Category", "Inserted", "Updated", "Unchanged", "Skipped", "Failed images", "Skipped subcategories"},
		Rows:   rows,
	})
	md.PlainText("")
}

func counterRow(name string, c state.Counters) []string {
	return []string{
		name,
		strconv.Itoa(c.Inserted),
		strconv.Itoa(c.Updated),
		strconv.Itoa(c.Unchanged),
		strconv.Itoa(c.Skipped),
		strconv.Itoa(c.FailedImages),
		strconv.Itoa(c.SkippedSubcategories),
	}
}

func writeFailures(md *markdown.Markdown, sum state.Summary) {
	md.H2("Representative failures")
	md.PlainText("")

	written := false
	for _, section := range failureSections {
		urls := sum.Failures[section.kind]
		if len(urls) == 0 {
			continue
		}
		written = true

		md.H3(section.header)
		md.PlainText("")
		md.BulletList(urls...)
		md.PlainText("")
	}

	if !written {
		md.PlainText("No failures.")
		md.PlainText("")
	}
}
