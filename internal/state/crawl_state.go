package state

import (
	"slices"
	"sync"
	"time"

	"shopino/crawler/internal/domain"
)

// MaxRepresentativeFailures bounds the failing URLs kept per skip kind.
const MaxRepresentativeFailures = 5

// Failure kinds that are reported but never written to the ledger.
const (
	FailureImage       domain.SkipKind = "image"
	FailureSubcategory domain.SkipKind = "subcategory"
)

// Counters are the per-top-level results of a run.
type Counters struct {
	Inserted             int `json:"inserted"`
	Updated              int `json:"updated"`
	Unchanged            int `json:"unchanged"`
	Skipped              int `json:"skipped"`
	FailedImages         int `json:"failed_images"`
	SkippedSubcategories int `json:"skipped_subcategories"`
}

func (c *Counters) add(o Counters) {
	c.Inserted += o.Inserted
	c.Updated += o.Updated
	c.Unchanged += o.Unchanged
	c.Skipped += o.Skipped
	c.FailedImages += o.FailedImages
	c.SkippedSubcategories += o.SkippedSubcategories
}

type TopLevelSummary struct {
	Name string
	Counters
}

// Summary is a snapshot of a run.
type Summary struct {
	StartedAt    time.Time
	FinishedAt   time.Time
	KnownAtStart int
	TopLevels    []TopLevelSummary
	Totals       Counters
	Failures     map[domain.SkipKind][]string // Representative URLs per kind
	Aborted      string                       // Reason the run stopped early, if it did
}

func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// CrawlState is everything one run accumulates. Workers share it; it is
// discarded with Close when the run ends.
type CrawlState struct {
	mu sync.Mutex

	startedAt    time.Time
	knownAtStart int
	known        map[string]struct{}
	dispatched   map[string]struct{}
	counters     map[string]*Counters
	order        []string
	failures     map[domain.SkipKind][]string
	aborted      string
	closed       bool
}

// NewCrawlState starts a run with the product ids already in the store.
func NewCrawlState(known map[string]struct{}) *CrawlState {
	if known == nil {
		known = make(map[string]struct{})
	}
	return &CrawlState{
		startedAt:    time.Now(),
		knownAtStart: len(known),
		known:        known,
		dispatched:   make(map[string]struct{}),
		counters:     make(map[string]*Counters),
		failures:     make(map[domain.SkipKind][]string),
	}
}

// AddTopLevel registers a top-level category so it shows up in the summary
// even when nothing was crawled under it.
func (s *CrawlState) AddTopLevel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.top(name)
}

func (s *CrawlState) top(name string) *Counters {
	c, ok := s.counters[name]
	if !ok {
		c = &Counters{}
		s.counters[name] = c
		s.order = append(s.order, name)
	}
	return c
}

// Dispatch reports whether productID is seen for the first time in this run.
// Products listed under several subcategories are processed once.
func (s *CrawlState) Dispatch(productID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if _, ok := s.dispatched[productID]; ok {
		return false
	}
	s.dispatched[productID] = struct{}{}
	return true
}

func (s *CrawlState) Known(productID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.known[productID]
	return ok
}

func (s *CrawlState) RecordOutcome(topLevel, productID string, outcome domain.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.top(topLevel)
	switch outcome {
	case domain.OutcomeInserted:
		c.Inserted++
		s.known[productID] = struct{}{}
	case domain.OutcomeUpdated:
		c.Updated++
	case domain.OutcomeUnchanged:
		c.Unchanged++
	}
}

func (s *CrawlState) RecordSkip(rec domain.SkipRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.top(rec.TopLevel).Skipped++
	s.remember(rec.Kind, rec.URL)
}

func (s *CrawlState) RecordImageFailure(topLevel, imageURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.top(topLevel).FailedImages++
	s.remember(FailureImage, imageURL)
}

// RecordSkippedSubcategory counts a subcategory that could not be listed.
// topLevel may be empty when the failure happened during discovery.
func (s *CrawlState) RecordSkippedSubcategory(topLevel, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if topLevel != "" {
		s.top(topLevel).SkippedSubcategories++
	}
	s.remember(FailureSubcategory, url)
}

func (s *CrawlState) remember(kind domain.SkipKind, url string) {
	urls := s.failures[kind]
	if len(urls) >= MaxRepresentativeFailures || slices.Contains(urls, url) {
		return
	}
	s.failures[kind] = append(urls, url)
}

// Abort stores why the run stopped early. The first reason wins.
func (s *CrawlState) Abort(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted == "" {
		s.aborted = reason
	}
}

func (s *CrawlState) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		StartedAt:    s.startedAt,
		FinishedAt:   time.Now(),
		KnownAtStart: s.knownAtStart,
		Failures:     make(map[domain.SkipKind][]string, len(s.failures)),
		Aborted:      s.aborted,
	}
	for _, name := range s.order {
		c := *s.counters[name]
		sum.TopLevels = append(sum.TopLevels, TopLevelSummary{Name: name, Counters: c})
		sum.Totals.add(c)
	}
	for kind, urls := range s.failures {
		sum.Failures[kind] = slices.Clone(urls)
	}
	return sum
}

// Close ends the run. Later dispatches are refused.
func (s *CrawlState) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.dispatched = nil
}
