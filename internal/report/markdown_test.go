package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"shopino/crawler/internal/domain"
	"shopino/crawler/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSummary() state.Summary {
	started := time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)
	return state.Summary{
		StartedAt:    started,
		FinishedAt:   started.Add(95 * time.Second),
		KnownAtStart: 12,
		TopLevels: []state.TopLevelSummary{
			{Name: "زنانه", Counters: state.Counters{Inserted: 3, Unchanged: 2, FailedImages: 1}},
			{Name: "مردانه", Counters: state.Counters{Updated: 1, Skipped: 1}},
		},
		Totals: state.Counters{Inserted: 3, Updated: 1, Unchanged: 2, Skipped: 1, FailedImages: 1},
		Failures: map[domain.SkipKind][]string{
			domain.SkipPermanent: {"https://shop.test/p/5"},
			state.FailureImage:   {"https://cdn.test/a.jpg"},
		},
	}
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleSummary()))

	out := buf.String()
	assert.Contains(t, out, "# Crawl Report")
	assert.Contains(t, out, "1m35s")
	assert.Contains(t, out, "✅ Complete")
	assert.Contains(t, out, "زنانه")
	assert.Contains(t, out, "**Total**")
	assert.Contains(t, out, "### Permanent fetch failures")
	assert.Contains(t, out, "https://shop.test/p/5")
	assert.Contains(t, out, "### Image failures")
	assert.NotContains(t, out, "### Extraction failures")
}

func TestWrite_AbortedWithoutFailures(t *testing.T) {
	sum := sampleSummary()
	sum.Failures = nil
	sum.Aborted = "5 consecutive persistence errors"

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sum))

	assert.Contains(t, buf.String(), "❌ Aborted - 5 consecutive persistence errors")
	assert.Contains(t, buf.String(), "No failures.")
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "run.md")
	require.NoError(t, WriteFile(path, sampleSummary()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "# Crawl Report")
}
