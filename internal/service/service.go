package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"shopino/crawler/internal/domain"
	"shopino/crawler/internal/extractor"
	"shopino/crawler/internal/fetcher"
	"shopino/crawler/internal/repository"
	"shopino/crawler/internal/state"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrPersistenceAbort stops a run once the store keeps failing.
	ErrPersistenceAbort = errors.New("aborting crawl after repeated persistence errors")
	// ErrDiscovery means the category tree could not be read at all.
	ErrDiscovery = errors.New("category discovery failed")
)

type CategoryWalker interface {
	// Walk discovers the category tree and calls visit for each top-level
	// category once its subtree is known.
	Walk(ctx context.Context, visit func(tree *domain.CategoryTree, top *domain.Category) error) (*domain.CategoryTree, error)
	Listings(ctx context.Context, tree *domain.CategoryTree, cat *domain.Category) iter.Seq2[domain.ProductListing, error]
}

type ProductExtractor interface {
	Extract(html string, ec extractor.Context) (*domain.Product, error)
}

type ProductStore interface {
	Upsert(ctx context.Context, crawl *state.CrawlState, p *domain.Product) (domain.Outcome, error)
}

// KnownIDsLoader returns the ids already stored before a run starts.
type KnownIDsLoader interface {
	KnownIDs(ctx context.Context) (map[string]struct{}, error)
}

type Options struct {
	WorkerCount          int
	MaxPersistenceErrors int
	ShutdownGrace        time.Duration
	Resume               bool
}

// Service runs a crawl: discovery feeds a bounded queue that a fixed pool of
// workers drains through fetch, extract and upsert. Workers start before
// discovery, so listing a top-level category overlaps with walking the next.
type Service struct {
	walker    CategoryWalker
	fetcher   fetcher.PageFetcher
	extractor ProductExtractor
	store     ProductStore
	known     KnownIDsLoader
	ledger    state.Ledger
	opts      Options

	active atomic.Pointer[state.CrawlState]
}

func NewService(
	walker CategoryWalker,
	pageFetcher fetcher.PageFetcher,
	productExtractor ProductExtractor,
	store ProductStore,
	known KnownIDsLoader,
	ledger state.Ledger,
	opts Options,
) *Service {
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 4
	}
	if opts.MaxPersistenceErrors <= 0 {
		opts.MaxPersistenceErrors = 5
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 15 * time.Second
	}

	return &Service{
		walker:    walker,
		fetcher:   pageFetcher,
		extractor: productExtractor,
		store:     store,
		known:     known,
		ledger:    ledger,
		opts:      opts,
	}
}

// Run crawls the site once and returns the run summary. The error is non-nil
// when discovery fails, the store keeps failing or ctx is cancelled.
func (s *Service) Run(ctx context.Context) (state.Summary, error) {
	known, err := s.known.KnownIDs(ctx)
	if err != nil {
		return state.Summary{}, fmt.Errorf("failed to load known products: %w", err)
	}

	crawl := state.NewCrawlState(known)
	s.active.Store(crawl)
	defer func() {
		s.active.Store(nil)
		crawl.Close()
	}()

	log.Infof("🚀 Starting crawl with %d workers, %d products already stored", s.opts.WorkerCount, len(known))

	err = s.crawl(ctx, crawl)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		crawl.Abort("interrupted")
	case errors.Is(err, ErrDiscovery):
		crawl.Abort("category discovery failed")
	}

	summary := crawl.Summary()
	logSummary(summary)

	return summary, err
}

func (s *Service) crawl(ctx context.Context, crawl *state.CrawlState) error {
	workCtx, cancelWork := graceContext(ctx, s.opts.ShutdownGrace)
	defer cancelWork()

	g, gctx := errgroup.WithContext(workCtx)

	// Dispatch stops as soon as the caller cancels; in-flight items keep gctx
	dispatchCtx, stopDispatch := context.WithCancel(gctx)
	defer stopDispatch()
	stopAfter := context.AfterFunc(ctx, stopDispatch)
	defer stopAfter()

	jobs := make(chan domain.ProductListing, s.opts.WorkerCount*2)

	g.Go(func() error {
		defer close(jobs)
		return s.produce(dispatchCtx, crawl, jobs)
	})

	var consecutive atomic.Int32
	for i := range s.opts.WorkerCount {
		workerID := i + 1
		g.Go(func() error {
			log.Debugf("🚀 Starting worker %d", workerID)
			for listing := range jobs {
				// Queued items are dropped once cancelled; they are found again next run
				if ctx.Err() != nil || gctx.Err() != nil {
					return nil
				}

				err := s.process(gctx, crawl, listing)
				if err == nil {
					consecutive.Store(0)
					continue
				}

				n := consecutive.Add(1)
				log.Errorf("❌ Failed to store %s (%d in a row): %v", listing.ProductURL, n, err)
				if int(n) >= s.opts.MaxPersistenceErrors {
					crawl.Abort(fmt.Sprintf("%d consecutive persistence errors", n))
					return fmt.Errorf("%w: %w", ErrPersistenceAbort, err)
				}
			}
			log.Debugf("🛑 Worker %d stopping", workerID)
			return nil
		})
	}

	return g.Wait()
}

// produce feeds jobs with resumed items first and then the listings of each
// top-level category as soon as its subtree is discovered. It only fails when
// the category tree cannot be read at all.
func (s *Service) produce(ctx context.Context, crawl *state.CrawlState, jobs chan<- domain.ProductListing) error {
	if s.opts.Resume {
		records, err := s.ledger.Transient(ctx)
		if err != nil {
			log.Errorf("❌ Failed to read skipped items to resume: %v", err)
		}
		if len(records) > 0 {
			log.Infof("🔄 Resuming %d items skipped by earlier runs", len(records))
		}
		for _, rec := range records {
			if !s.enqueue(ctx, crawl, rec.Listing(), jobs) {
				return nil
			}
		}
	}

	_, err := s.walker.Walk(ctx, func(tree *domain.CategoryTree, top *domain.Category) error {
		crawl.AddTopLevel(top.Name)
		s.dispatchTopLevel(ctx, crawl, tree, top, jobs)
		return ctx.Err()
	})
	if ctx.Err() != nil {
		log.Warnf("🛑 Dispatch stopped: %v", context.Cause(ctx))
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDiscovery, err)
	}
	return nil
}

func (s *Service) dispatchTopLevel(ctx context.Context, crawl *state.CrawlState, tree *domain.CategoryTree, top *domain.Category, jobs chan<- domain.ProductListing) {
	for _, cat := range tree.SubcategoriesOf(top.ID) {
		log.Infof("🔄 Listing %s", joinPath(tree.Path(cat.ID)))

		for listing, err := range s.walker.Listings(ctx, tree, cat) {
			if err != nil {
				if ctx.Err() == nil {
					log.Warnf("⚠️ Skipped subcategory %s: %v", joinPath(tree.Path(cat.ID)), err)
					crawl.RecordSkippedSubcategory(cat.TopLevel, cat.URL)
				}
				break
			}
			if !s.enqueue(ctx, crawl, listing, jobs) {
				return
			}
		}

		if ctx.Err() != nil {
			return
		}
	}
}

// enqueue hands listing to the workers unless it was already dispatched in
// this run or failed permanently before. It returns false once ctx is done.
func (s *Service) enqueue(ctx context.Context, crawl *state.CrawlState, listing domain.ProductListing, jobs chan<- domain.ProductListing) bool {
	if !crawl.Dispatch(domain.ProductID(listing.ProductURL)) {
		return true
	}

	permanent, err := s.ledger.IsPermanent(ctx, listing.ProductURL)
	if err != nil {
		log.Warnf("⚠️ Failed to check skip ledger for %s: %v", listing.ProductURL, err)
	}
	if permanent {
		log.Debugf("Skipping %s, it failed permanently before", listing.ProductURL)
		return true
	}

	select {
	case jobs <- listing:
		return true
	case <-ctx.Done():
		return false
	}
}

// process fetches, extracts and stores one product. Only persistence errors
// are returned; every other failure is recorded as a skip.
func (s *Service) process(ctx context.Context, crawl *state.CrawlState, listing domain.ProductListing) error {
	page, err := s.fetcher.Fetch(ctx, listing.ProductURL)
	if err != nil {
		kind := domain.SkipTransient
		if fetcher.IsPermanent(err) {
			kind = domain.SkipPermanent
		}
		s.skip(ctx, crawl, listing, kind, err)
		return nil
	}

	product, err := s.extractor.Extract(page.HTML(), extractor.Context{
		ProductURL:      listing.ProductURL,
		TopLevel:        listing.TopLevel,
		SubcategoryPath: listing.SubcategoryPath,
		FetchedAt:       time.Now().UTC(),
	})
	if err != nil {
		s.skip(ctx, crawl, listing, domain.SkipExtraction, err)
		return nil
	}
	if product.NeedsReview {
		log.Warnf("⚠️ Price missing or unreadable for %s, stored for review", listing.ProductURL)
	}

	outcome, err := s.store.Upsert(ctx, crawl, product)
	if err != nil {
		if ctx.Err() != nil || !repository.IsPersistence(err) {
			s.skip(ctx, crawl, listing, domain.SkipTransient, err)
			return nil
		}
		return err
	}

	crawl.RecordOutcome(listing.TopLevel, product.ID, outcome)
	if err := s.ledger.Clear(context.WithoutCancel(ctx), listing.ProductURL); err != nil {
		log.Warnf("⚠️ Failed to clear skip record of %s: %v", listing.ProductURL, err)
	}

	return nil
}

func (s *Service) skip(ctx context.Context, crawl *state.CrawlState, listing domain.ProductListing, kind domain.SkipKind, err error) {
	rec := domain.SkipRecord{
		URL:             listing.ProductURL,
		Kind:            kind,
		Reason:          err.Error(),
		TopLevel:        listing.TopLevel,
		SubcategoryID:   listing.SubcategoryID,
		SubcategoryPath: listing.SubcategoryPath,
		RecordedAt:      time.Now().UTC(),
	}

	log.Warnf("⚠️ Skipped %s (%s): %v", listing.ProductURL, kind, err)
	crawl.RecordSkip(rec)

	// Skips found while shutting down must still reach the ledger
	if err := s.ledger.Record(context.WithoutCancel(ctx), rec); err != nil {
		log.Errorf("❌ Failed to record skip of %s: %v", listing.ProductURL, err)
	}
}

// RecordSkippedSubcategory counts a subcategory discovery could not read.
func (s *Service) RecordSkippedSubcategory(topLevel, url string, _ error) {
	if crawl := s.active.Load(); crawl != nil {
		crawl.RecordSkippedSubcategory(topLevel, url)
	}
}

// graceContext returns a context that outlives parent by grace. Work started
// before the cancellation gets that long to finish.
func graceContext(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))

	stop := context.AfterFunc(parent, func() {
		log.Warnf("🛑 Interrupted, giving in-flight products %v to finish", grace)
		timer := time.AfterFunc(grace, cancel)
		context.AfterFunc(ctx, func() { timer.Stop() })
	})

	return ctx, func() {
		stop()
		cancel()
	}
}
