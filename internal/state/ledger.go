package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"shopino/crawler/internal/domain"

	"github.com/spf13/afero"
)

// Ledger remembers skipped items across runs. Permanent skips are never
// fetched again; transient ones are retried first by a resumed run.
type Ledger interface {
	Record(ctx context.Context, rec domain.SkipRecord) error
	// Clear forgets url after it was stored successfully.
	Clear(ctx context.Context, url string) error
	IsPermanent(ctx context.Context, url string) (bool, error)
	// Transient returns the items eligible for a retry, oldest first.
	Transient(ctx context.Context) ([]domain.SkipRecord, error)
	Close() error
}

// MemoryLedger keeps records in memory. With a path it is loaded from and
// saved to a JSON file, which lets runs without Redis resume.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]domain.SkipRecord
	fs      afero.Fs
	path    string
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[string]domain.SkipRecord)}
}

// OpenFileLedger loads the ledger stored at path, if any.
func OpenFileLedger(fs afero.Fs, path string) (*MemoryLedger, error) {
	l := NewMemoryLedger()
	l.fs = fs
	l.path = path

	raw, err := afero.ReadFile(fs, path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger %s: %w", path, err)
	}

	var records []domain.SkipRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("failed to decode ledger %s: %w", path, err)
	}
	for _, rec := range records {
		l.records[rec.URL] = rec
	}

	return l, nil
}

func (l *MemoryLedger) Record(_ context.Context, rec domain.SkipRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// A permanent verdict is not downgraded by a later transient failure
	if prev, ok := l.records[rec.URL]; ok && prev.Kind == domain.SkipPermanent && rec.Kind != domain.SkipPermanent {
		return nil
	}
	l.records[rec.URL] = rec
	return nil
}

func (l *MemoryLedger) Clear(_ context.Context, url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.records, url)
	return nil
}

func (l *MemoryLedger) IsPermanent(_ context.Context, url string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[url]
	return ok && rec.Kind == domain.SkipPermanent, nil
}

func (l *MemoryLedger) Transient(_ context.Context) ([]domain.SkipRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.SkipRecord
	for _, rec := range l.records {
		if rec.Kind == domain.SkipTransient {
			out = append(out, rec)
		}
	}
	sortRecords(out)
	return out, nil
}

// Close saves the ledger when it is file-backed.
func (l *MemoryLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fs == nil || l.path == "" {
		return nil
	}

	records := make([]domain.SkipRecord, 0, len(l.records))
	for _, rec := range l.records {
		records = append(records, rec)
	}
	sortRecords(records)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := l.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}
	if err := afero.WriteFile(l.fs, l.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write ledger %s: %w", l.path, err)
	}
	return nil
}

func sortRecords(records []domain.SkipRecord) {
	slices.SortFunc(records, func(a, b domain.SkipRecord) int {
		if c := a.RecordedAt.Compare(b.RecordedAt); c != 0 {
			return c
		}
		return strings.Compare(a.URL, b.URL)
	})
}
