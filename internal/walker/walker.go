package walker

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"shopino/crawler/internal/domain"
	"shopino/crawler/internal/fetcher"

	log "github.com/sirupsen/logrus"
)

var ErrNoTopLevel = errors.New("no top-level categories found")

type Options struct {
	BaseURL                string
	Selectors              Selectors
	MaxTopLevel            int
	MaxDepth               int
	MaxPages               int
	ProductsPerSubcategory int

	// OnSkip is called for every subcategory that could not be walked. topLevel
	// is empty for broken links on the home page.
	OnSkip func(topLevel, name, url string, err error)
}

// Walker discovers the category tree and paginates subcategory listings.
type Walker struct {
	fetcher fetcher.PageFetcher
	opts    Options
}

func New(f fetcher.PageFetcher, opts Options) *Walker {
	if opts.MaxTopLevel <= 0 {
		opts.MaxTopLevel = 3
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 3
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 50
	}

	return &Walker{
		fetcher: f,
		opts:    opts,
	}
}

// Discover walks top-level categories depth-first and the subcategories of each
// breadth-first. Only a failure to read the home page is returned as an error;
// broken subcategories are skipped.
func (w *Walker) Discover(ctx context.Context) (*domain.CategoryTree, error) {
	return w.Walk(ctx, nil)
}

// Walk discovers the tree like Discover and hands each top-level category to
// visit as soon as its own subtree is complete, so listing can start before
// the remaining top-levels are walked. visit runs on the caller's goroutine and
// the tree keeps growing after it returns. An error from visit stops the walk
// and is returned.
func (w *Walker) Walk(ctx context.Context, visit func(tree *domain.CategoryTree, top *domain.Category) error) (*domain.CategoryTree, error) {
	home, err := w.fetcher.Fetch(ctx, w.opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch home page: %w", err)
	}

	homePage, err := parseListingPage(home.HTML(), w.opts.BaseURL, Selectors{Subcategory: w.opts.Selectors.TopLevel})
	if err != nil {
		return nil, fmt.Errorf("failed to parse home page: %w", err)
	}

	tree := domain.NewCategoryTree()
	visited := map[string]struct{}{w.opts.BaseURL: {}}

	var tops []*domain.Category
	for _, link := range homePage.Subcategories {
		if len(tops) == w.opts.MaxTopLevel {
			break
		}
		if link.Err != nil {
			w.skip("", link.Name, link.URL, link.Err)
			continue
		}
		if _, seen := visited[link.URL]; seen {
			continue
		}
		visited[link.URL] = struct{}{}

		top := &domain.Category{Name: link.Name, URL: link.URL}
		if tree.Add(top) {
			tops = append(tops, top)
		}
	}

	if len(tops) == 0 {
		return nil, ErrNoTopLevel
	}

	for _, top := range tops {
		if err := ctx.Err(); err != nil {
			return tree, err
		}

		log.Infof("🔄 Discovering subcategories of %s", top.Name)
		w.walkBreadthFirst(ctx, tree, top, visited)

		if visit != nil {
			if err := visit(tree, top); err != nil {
				return tree, err
			}
		}
	}

	log.Infof("✅ Discovered %d categories, %d listing subcategories", tree.Len(), len(tree.Subcategories()))
	return tree, nil
}

func (w *Walker) walkBreadthFirst(ctx context.Context, tree *domain.CategoryTree, top *domain.Category, visited map[string]struct{}) {
	queue := []*domain.Category{top}

	for len(queue) > 0 && ctx.Err() == nil {
		current := queue[0]
		queue = queue[1:]

		if current.Depth+1 > w.opts.MaxDepth {
			continue
		}

		page, err := w.fetcher.Fetch(ctx, current.URL)
		if err != nil {
			tree.MarkSkipped(current.ID)
			w.skip(top.Name, current.Name, current.URL, err)
			continue
		}

		listing, err := parseListingPage(page.HTML(), current.URL, Selectors{Subcategory: w.opts.Selectors.Subcategory})
		if err != nil {
			tree.MarkSkipped(current.ID)
			w.skip(top.Name, current.Name, current.URL, err)
			continue
		}

		for _, link := range listing.Subcategories {
			if link.Err != nil {
				w.skip(top.Name, link.Name, link.URL, link.Err)
				continue
			}
			if _, seen := visited[link.URL]; seen {
				continue
			}
			visited[link.URL] = struct{}{}

			child := &domain.Category{Name: link.Name, URL: link.URL, ParentID: current.ID}
			if tree.Add(child) {
				queue = append(queue, child)
			}
		}
	}
}

func (w *Walker) skip(topLevel, name, url string, err error) {
	log.Warnf("⚠️ Skipped subcategory %q (%s): %v", name, url, err)
	if w.opts.OnSkip != nil {
		w.opts.OnSkip(topLevel, name, url, err)
	}
}

// Listings lazily paginates a subcategory. Every call starts a fresh walk from
// the subcategory URL. The sequence ends after the configured product cap, the
// page limit, an empty page or the last page; a fetch failure is yielded once as
// an error and ends the sequence.
func (w *Walker) Listings(ctx context.Context, tree *domain.CategoryTree, cat *domain.Category) iter.Seq2[domain.ProductListing, error] {
	path := tree.Path(cat.ID)
	limit := w.opts.ProductsPerSubcategory

	return func(yield func(domain.ProductListing, error) bool) {
		pageURL := cat.URL
		seen := make(map[string]struct{})
		yielded := 0

		for pageNum := 1; pageURL != "" && pageNum <= w.opts.MaxPages; pageNum++ {
			if limit > 0 && yielded >= limit {
				return
			}
			if err := ctx.Err(); err != nil {
				return
			}

			page, err := w.fetcher.Fetch(ctx, pageURL)
			if err != nil {
				yield(domain.ProductListing{}, fmt.Errorf("listing page %d of %q: %w", pageNum, cat.Name, err))
				return
			}

			listing, err := parseListingPage(page.HTML(), pageURL, w.opts.Selectors)
			if err != nil {
				yield(domain.ProductListing{}, fmt.Errorf("listing page %d of %q: %w", pageNum, cat.Name, err))
				return
			}

			fresh := 0
			for _, productURL := range listing.Products {
				if _, dup := seen[productURL]; dup {
					continue
				}
				seen[productURL] = struct{}{}
				fresh++

				item := domain.ProductListing{
					ProductURL:      productURL,
					SubcategoryID:   cat.ID,
					TopLevel:        cat.TopLevel,
					SubcategoryPath: path,
					Page:            pageNum,
				}
				if !yield(item, nil) {
					return
				}

				yielded++
				if limit > 0 && yielded >= limit {
					return
				}
			}

			// A page without new products means the site is repeating itself or ran out
			if fresh == 0 {
				log.Debugf("No new products on page %d of %s", pageNum, cat.Name)
				return
			}

			pageURL = w.nextPage(listing, cat.URL, pageURL, pageNum)
		}
	}
}

func (w *Walker) nextPage(listing *ListingPage, categoryURL, currentURL string, pageNum int) string {
	if listing.NextPage != "" && listing.NextPage != currentURL {
		return listing.NextPage
	}
	if w.opts.Selectors.PageParam == "" {
		return ""
	}

	next, err := withPage(categoryURL, w.opts.Selectors.PageParam, pageNum+1)
	if err != nil {
		return ""
	}
	return next
}
