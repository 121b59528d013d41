package walker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"shopino/crawler/internal/domain"
	"shopino/crawler/internal/fetcher"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBase = "https://shop.test/"

// fakeSite serves canned pages; unknown URLs are permanent 404s and URLs in
// broken fail transiently.
type fakeSite struct {
	mu     sync.Mutex
	pages  map[string]string
	broken map[string]bool
	hits   map[string]int
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		pages:  make(map[string]string),
		broken: make(map[string]bool),
		hits:   make(map[string]int),
	}
}

func (s *fakeSite) Fetch(_ context.Context, url string) (*fetcher.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hits[url]++
	if s.broken[url] {
		return nil, &fetcher.FetchError{URL: url, Kind: fetcher.Transient, StatusCode: http.StatusBadGateway, Attempts: 3}
	}
	html, ok := s.pages[url]
	if !ok {
		return nil, &fetcher.FetchError{URL: url, Kind: fetcher.Permanent, StatusCode: http.StatusNotFound, Attempts: 1}
	}
	return &fetcher.Page{URL: url, StatusCode: http.StatusOK, Body: []byte(html)}, nil
}

func testSelectors() Selectors {
	return Selectors{
		TopLevel:    "nav a.top-category",
		Subcategory: "a.subcategory",
		Product:     "article a.product-link",
		NextPage:    "a[rel='next']",
		PageParam:   "page",
	}
}

func homeHTML(tops ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><nav>")
	for _, top := range tops {
		b.WriteString(top)
	}
	b.WriteString("</nav></body></html>")
	return b.String()
}

func categoryHTML(links ...string) string {
	return "<html><body><aside>" + strings.Join(links, "") + "</aside></body></html>"
}

func listingHTML(productIDs []int, next string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, id := range productIDs {
		fmt.Fprintf(&b, `<article><a class="product-link" href="/product/%d">p%d</a></article>`, id, id)
	}
	if next != "" {
		fmt.Fprintf(&b, `<a rel="next" href="%s">next</a>`, next)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func seq(from, to int) []int {
	var out []int
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func TestDiscover(t *testing.T) {
	site := newFakeSite()
	site.pages[testBase] = homeHTML(
		`<a class="top-category" href="/women">زنانه</a>`,
		`<a class="top-category" href="/men">مردانه</a>`,
		`<a class="top-category" href="/kids">بچه گانه</a>`,
		`<a class="top-category" href="/sale">حراج</a>`,
	)
	site.pages[testBase+"women"] = categoryHTML(
		`<a class="subcategory" href="/women/dresses">پیراهن</a>`,
		`<a class="subcategory" href="/women/broken">خراب</a>`,
		`<a class="subcategory">بدون لینک</a>`,
		`<a class="subcategory" href="/women/shoes">کفش</a>`,
		`<a class="subcategory" href="/women/all"><svg></svg></a>`,
	)
	site.pages[testBase+"women/dresses"] = categoryHTML(`<a class="subcategory" href="/women/dresses/summer">تابستانی</a>`)
	site.pages[testBase+"women/dresses/summer"] = categoryHTML()
	site.pages[testBase+"women/shoes"] = categoryHTML(`<a class="subcategory" href="/women">زنانه</a>`)
	site.broken[testBase+"women/broken"] = true
	site.pages[testBase+"men"] = categoryHTML(`<a class="subcategory" href="/men/shirts">پیراهن مردانه</a>`)
	site.pages[testBase+"men/shirts"] = categoryHTML()
	site.pages[testBase+"kids"] = categoryHTML()

	var skipped []string
	w := New(site, Options{
		BaseURL:     testBase,
		Selectors:   testSelectors(),
		MaxTopLevel: 3,
		MaxDepth:    3,
		OnSkip:      func(_, name, _ string, _ error) { skipped = append(skipped, name) },
	})

	tree, err := w.Discover(context.Background())
	require.NoError(t, err)

	roots := tree.Roots()
	require.Len(t, roots, 3)
	assert.Equal(t, []string{"زنانه", "مردانه", "بچه گانه"}, []string{roots[0].Name, roots[1].Name, roots[2].Name})

	var leaves []string
	for _, c := range tree.Subcategories() {
		leaves = append(leaves, strings.Join(tree.Path(c.ID), " > "))
	}
	assert.Equal(t, []string{
		"زنانه > کفش",
		"زنانه > پیراهن > تابستانی",
		"مردانه > پیراهن مردانه",
		"بچه گانه",
	}, leaves)

	assert.ElementsMatch(t, []string{"بدون لینک", "خراب"}, skipped)
	assert.Zero(t, site.hits[testBase+"sale"], "fourth top-level is ignored")
}

func TestDiscover_Deterministic(t *testing.T) {
	site := newFakeSite()
	site.pages[testBase] = homeHTML(`<a class="top-category" href="/women">W</a>`)
	site.pages[testBase+"women"] = categoryHTML(
		`<a class="subcategory" href="/women/a">A</a>`,
		`<a class="subcategory" href="/women/b">B</a>`,
	)
	site.pages[testBase+"women/a"] = categoryHTML()
	site.pages[testBase+"women/b"] = categoryHTML()

	w := New(site, Options{BaseURL: testBase, Selectors: testSelectors()})

	first, err := w.Discover(context.Background())
	require.NoError(t, err)
	second, err := w.Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Subcategories(), second.Subcategories())
}

func TestDiscover_HomeUnreachable(t *testing.T) {
	site := newFakeSite()
	site.broken[testBase] = true

	_, err := New(site, Options{BaseURL: testBase, Selectors: testSelectors()}).Discover(context.Background())
	require.Error(t, err)
	assert.True(t, fetcher.IsTransient(err))
}

func TestDiscover_NoTopLevel(t *testing.T) {
	site := newFakeSite()
	site.pages[testBase] = homeHTML()

	_, err := New(site, Options{BaseURL: testBase, Selectors: testSelectors()}).Discover(context.Background())
	assert.ErrorIs(t, err, ErrNoTopLevel)
}

func singleSubcategory(site *fakeSite, url string) (*domain.CategoryTree, *domain.Category) {
	tree := domain.NewCategoryTree()
	top := &domain.Category{Name: "زنانه", URL: testBase + "women"}
	tree.Add(top)
	sub := &domain.Category{Name: "پیراهن", URL: url, ParentID: top.ID}
	tree.Add(sub)
	return tree, sub
}

func collect(t *testing.T, listings func(yield func(domain.ProductListing, error) bool)) ([]domain.ProductListing, error) {
	t.Helper()

	var out []domain.ProductListing
	for item, err := range listings {
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
	return out, nil
}

func TestListings_StopsAtProductCap(t *testing.T) {
	site := newFakeSite()
	sub := testBase + "women/dresses"
	site.pages[sub] = listingHTML(seq(1, 10), "/women/dresses?p=2")
	site.pages[sub+"?p=2"] = listingHTML(seq(11, 20), "/women/dresses?p=3")
	site.pages[sub+"?p=3"] = listingHTML(seq(21, 30), "/women/dresses?p=4")
	site.pages[sub+"?p=4"] = listingHTML(seq(31, 35), "")
	tree, cat := singleSubcategory(site, sub)

	w := New(site, Options{BaseURL: testBase, Selectors: testSelectors(), ProductsPerSubcategory: 20})

	items, err := collect(t, w.Listings(context.Background(), tree, cat))
	require.NoError(t, err)
	require.Len(t, items, 20)

	for i, item := range items {
		assert.Equal(t, fmt.Sprintf("%sproduct/%d", testBase, i+1), item.ProductURL)
		assert.Equal(t, []string{"زنانه", "پیراهن"}, item.SubcategoryPath)
		assert.Equal(t, "زنانه", item.TopLevel)
	}
	assert.Equal(t, 2, items[19].Page)
	assert.Zero(t, site.hits[sub+"?p=3"], "no page is fetched past the cap")
}

func TestListings_AllPagesUnderCap(t *testing.T) {
	site := newFakeSite()
	sub := testBase + "women/dresses"
	site.pages[sub] = listingHTML(seq(1, 10), "/women/dresses?p=2")
	site.pages[sub+"?p=2"] = listingHTML(seq(11, 15), "")
	tree, cat := singleSubcategory(site, sub)

	w := New(site, Options{BaseURL: testBase, Selectors: Selectors{
		Product:  "article a.product-link",
		NextPage: "a[rel='next']",
	}, ProductsPerSubcategory: 100})

	items, err := collect(t, w.Listings(context.Background(), tree, cat))
	require.NoError(t, err)
	assert.Len(t, items, 15)
}

func TestListings_EmptySubcategory(t *testing.T) {
	site := newFakeSite()
	sub := testBase + "women/empty"
	site.pages[sub] = listingHTML(nil, "")
	tree, cat := singleSubcategory(site, sub)

	w := New(site, Options{BaseURL: testBase, Selectors: testSelectors(), ProductsPerSubcategory: 20})

	items, err := collect(t, w.Listings(context.Background(), tree, cat))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestListings_PageParamFallback(t *testing.T) {
	site := newFakeSite()
	sub := testBase + "kids"
	site.pages[sub] = listingHTML(seq(1, 3), "")
	site.pages[sub+"?page=2"] = listingHTML(seq(4, 6), "")
	site.pages[sub+"?page=3"] = listingHTML(nil, "")
	tree, cat := singleSubcategory(site, sub)

	w := New(site, Options{BaseURL: testBase, Selectors: testSelectors(), ProductsPerSubcategory: 20})

	items, err := collect(t, w.Listings(context.Background(), tree, cat))
	require.NoError(t, err)
	assert.Len(t, items, 6)
	assert.Equal(t, 1, site.hits[sub+"?page=3"])
}

func TestListings_MaxPagesGuard(t *testing.T) {
	site := newFakeSite()
	sub := testBase + "loop"
	for page := 1; page <= 10; page++ {
		url := sub
		if page > 1 {
			url = fmt.Sprintf("%s?p=%d", sub, page)
		}
		site.pages[url] = listingHTML([]int{page}, fmt.Sprintf("/loop?p=%d", page+1))
	}
	tree, cat := singleSubcategory(site, sub)

	w := New(site, Options{BaseURL: testBase, Selectors: testSelectors(), MaxPages: 4, ProductsPerSubcategory: 100})

	items, err := collect(t, w.Listings(context.Background(), tree, cat))
	require.NoError(t, err)
	assert.Len(t, items, 4)
}

func TestListings_RepeatedPageEnds(t *testing.T) {
	site := newFakeSite()
	sub := testBase + "same"
	site.pages[sub] = listingHTML(seq(1, 2), "")
	site.pages[sub+"?page=2"] = listingHTML(seq(1, 2), "")
	tree, cat := singleSubcategory(site, sub)

	w := New(site, Options{BaseURL: testBase, Selectors: testSelectors(), ProductsPerSubcategory: 20})

	items, err := collect(t, w.Listings(context.Background(), tree, cat))
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestListings_Restartable(t *testing.T) {
	site := newFakeSite()
	sub := testBase + "women/dresses"
	site.pages[sub] = listingHTML(seq(1, 5), "/women/dresses?p=2")
	site.pages[sub+"?p=2"] = listingHTML(seq(6, 8), "")
	tree, cat := singleSubcategory(site, sub)

	w := New(site, Options{BaseURL: testBase, Selectors: testSelectors(), ProductsPerSubcategory: 20})
	listings := w.Listings(context.Background(), tree, cat)

	first, err := collect(t, listings)
	require.NoError(t, err)
	second, err := collect(t, listings)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestListings_FetchErrorEndsSequence(t *testing.T) {
	site := newFakeSite()
	sub := testBase + "women/dresses"
	site.pages[sub] = listingHTML(seq(1, 3), "/women/dresses?p=2")
	site.broken[sub+"?p=2"] = true
	tree, cat := singleSubcategory(site, sub)

	w := New(site, Options{BaseURL: testBase, Selectors: testSelectors(), ProductsPerSubcategory: 20})

	items, err := collect(t, w.Listings(context.Background(), tree, cat))
	require.Error(t, err)
	assert.True(t, fetcher.IsTransient(err))
	assert.Len(t, items, 3)
}

func TestListings_EarlyBreak(t *testing.T) {
	site := newFakeSite()
	sub := testBase + "women/dresses"
	site.pages[sub] = listingHTML(seq(1, 5), "/women/dresses?p=2")
	tree, cat := singleSubcategory(site, sub)

	w := New(site, Options{BaseURL: testBase, Selectors: testSelectors(), ProductsPerSubcategory: 20})

	count := 0
	for range w.Listings(context.Background(), tree, cat) {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
	assert.Zero(t, site.hits[sub+"?p=2"])
}

func TestWalk_VisitsTopLevelsAsTheyComplete(t *testing.T) {
	site := newFakeSite()
	site.pages[testBase] = homeHTML(
		`<a class="top-category" href="/women">زنانه</a>`,
		`<a class="top-category" href="/men">مردانه</a>`,
	)
	site.pages[testBase+"women"] = categoryHTML(
		`<a class="subcategory" href="/women/shoes">کفش</a>`,
		`<a class="subcategory" href="/women/bags">کیف</a>`,
	)
	site.pages[testBase+"women/shoes"] = categoryHTML()
	site.pages[testBase+"women/bags"] = categoryHTML()
	site.pages[testBase+"men"] = categoryHTML(`<a class="subcategory" href="/men/shirts">پیراهن مردانه</a>`)
	site.pages[testBase+"men/shirts"] = categoryHTML()

	w := New(site, Options{BaseURL: testBase, Selectors: testSelectors(), MaxTopLevel: 3, MaxDepth: 3})

	type visit struct {
		top       string
		leaves    []string
		menWalked bool
	}
	var visits []visit
	_, err := w.Walk(context.Background(), func(tree *domain.CategoryTree, top *domain.Category) error {
		v := visit{top: top.Name, menWalked: site.hits[testBase+"men"] > 0}
		for _, c := range tree.SubcategoriesOf(top.ID) {
			v.leaves = append(v.leaves, c.Name)
		}
		visits = append(visits, v)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []visit{
		{top: "زنانه", leaves: []string{"کفش", "کیف"}, menWalked: false},
		{top: "مردانه", leaves: []string{"پیراهن مردانه"}, menWalked: true},
	}, visits)
}

func TestWalk_VisitErrorStopsTheWalk(t *testing.T) {
	site := newFakeSite()
	site.pages[testBase] = homeHTML(
		`<a class="top-category" href="/women">زنانه</a>`,
		`<a class="top-category" href="/men">مردانه</a>`,
	)
	site.pages[testBase+"women"] = categoryHTML()
	site.pages[testBase+"men"] = categoryHTML()

	w := New(site, Options{BaseURL: testBase, Selectors: testSelectors(), MaxTopLevel: 3, MaxDepth: 3})

	stop := errors.New("stop")
	_, err := w.Walk(context.Background(), func(*domain.CategoryTree, *domain.Category) error { return stop })

	assert.ErrorIs(t, err, stop)
	assert.Zero(t, site.hits[testBase+"men"])
}
