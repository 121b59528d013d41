package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"shopino/crawler/internal/domain"
	"shopino/crawler/internal/fetcher"
	"shopino/crawler/internal/repository"
	"shopino/crawler/internal/state"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

type Options struct {
	AssetsDir   string
	MaxFilename int
	Fs          afero.Fs // Defaults to the OS filesystem

	// Ledger remembers image URLs that failed for good so later runs do not
	// request them again. Without one they are retried on every run.
	Ledger ImageLedger
}

// ImageLedger is the part of the skip ledger the store uses.
type ImageLedger interface {
	Record(ctx context.Context, rec domain.SkipRecord) error
	IsPermanent(ctx context.Context, url string) (bool, error)
}

// Store decides whether a product is new, changed or unchanged and keeps its
// images and JSON export in line with the database.
type Store struct {
	repo    repository.ProductRepository
	fetcher fetcher.PageFetcher
	fs      afero.Fs
	opts    Options
	locks   *keyedMutex
}

func New(repo repository.ProductRepository, f fetcher.PageFetcher, opts Options) *Store {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.AssetsDir == "" {
		opts.AssetsDir = "assets"
	}
	if opts.MaxFilename <= 0 {
		opts.MaxFilename = 80
	}

	return &Store{
		repo:    repo,
		fetcher: f,
		fs:      opts.Fs,
		opts:    opts,
		locks:   newKeyedMutex(),
	}
}

// Upsert stores p and reports what happened. Concurrent calls for the same id
// run one after another. Only repository failures are returned; image
// failures are logged and counted in crawl.
//
// Ids that crawl does not know are inserted without reading the repository
// first. A nil crawl always looks the product up.
func (s *Store) Upsert(ctx context.Context, crawl *state.CrawlState, p *domain.Product) (domain.Outcome, error) {
	if p.ID == "" {
		p.ID = domain.ProductID(p.URL)
	}

	unlock := s.locks.Lock(p.ID)
	defer unlock()

	if crawl != nil && !crawl.Known(p.ID) {
		return s.insert(ctx, crawl, p)
	}

	stored, err := s.repo.GetProduct(ctx, p.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return s.insert(ctx, crawl, p)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load product %s: %w", p.URL, err)
	}

	changed := !stored.SameContent(p)
	missing := s.withoutDeadImages(ctx, stored.MissingImages(p.ImageURLs))
	if !changed && len(missing) == 0 {
		return domain.OutcomeUnchanged, nil
	}

	if changed {
		if err := s.repo.SaveProduct(ctx, p); err != nil {
			return "", fmt.Errorf("failed to update product %s: %w", p.URL, err)
		}
	}

	assets, err := s.storeImages(ctx, crawl, p, stored.Images, missing)
	if err != nil {
		return "", err
	}
	s.export(p, assets)

	log.Debugf("♻️ Updated %s (%d new images)", p.URL, len(missing))
	return domain.OutcomeUpdated, nil
}

func (s *Store) insert(ctx context.Context, crawl *state.CrawlState, p *domain.Product) (domain.Outcome, error) {
	if err := s.repo.SaveProduct(ctx, p); err != nil {
		return "", fmt.Errorf("failed to insert product %s: %w", p.URL, err)
	}

	assets, err := s.storeImages(ctx, crawl, p, nil, s.withoutDeadImages(ctx, p.ImageURLs))
	if err != nil {
		return "", err
	}
	s.export(p, assets)

	log.Debugf("🆕 Inserted %s", p.URL)
	return domain.OutcomeInserted, nil
}

// withoutDeadImages drops the URLs the ledger knows to fail for good.
func (s *Store) withoutDeadImages(ctx context.Context, urls []string) []string {
	if s.opts.Ledger == nil || len(urls) == 0 {
		return urls
	}

	live := make([]string, 0, len(urls))
	for _, u := range urls {
		dead, err := s.opts.Ledger.IsPermanent(ctx, u)
		if err != nil {
			log.Warnf("⚠️ Failed to check skip ledger for image %s: %v", u, err)
		}
		if dead {
			log.Debugf("Skipping image %s, it failed permanently before", u)
			continue
		}
		live = append(live, u)
	}
	return live
}

// productDir is <assets>/<top-level>/<subcategory>/<product-id>.
func (s *Store) productDir(p *domain.Product) string {
	top := p.TopLevel
	if top == "" && len(p.SubcategoryPath) > 0 {
		top = p.SubcategoryPath[0]
	}
	sub := top
	if n := len(p.SubcategoryPath); n > 0 {
		sub = p.SubcategoryPath[n-1]
	}

	return filepath.Join(s.opts.AssetsDir,
		SanitizeFilename(top, s.opts.MaxFilename),
		SanitizeFilename(sub, s.opts.MaxFilename),
		p.ID)
}
