package extractor

import (
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopino/crawler/internal/domain"
)

const productURL = "https://shop.test/product/42"

const fullProductHTML = `<!DOCTYPE html>
<html lang="fa" dir="rtl">
<body>
  <h1> پیراهن نخی زنانه  </h1>
  <a class="shop-info" href="/shop/nika"><img src="/logo.png" alt="فروشگاه نیکا"></a>
  <div class="price discounted">۹۰٬۰۰۰ تومان</div>
  <div class="old-price">۱۰۰٬۰۰۰</div>
  <div class="discount-percentage">۱۰٪</div>
  <pre>جنس: نخ
سایز: M, L</pre>
  <div class="gallery">
    <img class="product-image" src="https://cdn.shop.test/img/a.jpg">
    <img class="product-image" src="//cdn.shop.test/img/b.jpg">
    <img class="product-image" src="/img/c.webp">
    <img class="product-image" src="https://cdn.shop.test/img/a.jpg">
    <img class="product-image">
  </div>
  <div class="address-container"><div class="description"><ul>
    <li><a class="hover:underline" href="/l/1">شلوار</a></li>
    <li><a class="hover:underline" href="/l/2">دامن</a></li>
  </ul></div></div>
</body>
</html>`

func testContext() Context {
	return Context{
		ProductURL:      productURL,
		TopLevel:        "زنانه",
		SubcategoryPath: []string{"زنانه", "پیراهن"},
		FetchedAt:       time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestExtract_FullPage(t *testing.T) {
	p, err := New(nil).Extract(fullProductHTML, testContext())
	require.NoError(t, err)

	assert.Equal(t, domain.ProductID(productURL), p.ID)
	assert.Equal(t, productURL, p.URL)
	assert.Equal(t, "پیراهن نخی زنانه", p.Title)
	assert.Equal(t, "90000", p.PriceNew.Decimal.String())
	assert.Equal(t, "100000", p.PriceOld.Decimal.String())
	assert.Equal(t, "۱۰٪", p.Discount)
	assert.Equal(t, "جنس: نخ\nسایز: M, L", p.Description)
	assert.Equal(t, []string{
		"https://cdn.shop.test/img/a.jpg",
		"https://cdn.shop.test/img/b.jpg",
		"https://shop.test/img/c.webp",
	}, p.ImageURLs)
	assert.Equal(t, "https://shop.test/shop/nika", p.SellerURL)
	assert.Equal(t, "فروشگاه نیکا", p.SellerName)
	assert.Equal(t, []string{"شلوار", "دامن"}, p.RelatedNames)
	assert.Equal(t, []string{"زنانه", "پیراهن"}, p.SubcategoryPath)
	assert.False(t, p.NeedsReview)
	assert.Equal(t, testContext().FetchedAt, p.FetchedAt)
}

func TestExtract_MissingPriceIsNotAnError(t *testing.T) {
	html := strings.Replace(fullProductHTML, `<div class="price discounted">۹۰٬۰۰۰ تومان</div>`, "", 1)
	html = strings.Replace(html, `<div class="old-price">۱۰۰٬۰۰۰</div>`, "", 1)

	p, err := New(nil).Extract(html, testContext())
	require.NoError(t, err)

	assert.False(t, p.PriceNew.Valid)
	assert.False(t, p.PriceOld.Valid)
	assert.True(t, p.NeedsReview)
}

func TestExtract_UnparseablePrice(t *testing.T) {
	html := strings.Replace(fullProductHTML, "۹۰٬۰۰۰ تومان", "ناموجود", 1)

	p, err := New(nil).Extract(html, testContext())
	require.NoError(t, err)

	assert.True(t, p.PriceNew.Valid, "old price is promoted")
	assert.Equal(t, "100000", p.PriceNew.Decimal.String())
	assert.False(t, p.PriceOld.Valid)
	assert.True(t, p.NeedsReview)
}

func TestExtract_RequiredFields(t *testing.T) {
	tests := []struct {
		name  string
		drop  string
		field Field
	}{
		{name: "title", drop: "<h1> پیراهن نخی زنانه  </h1>", field: FieldTitle},
		{name: "seller", drop: `<a class="shop-info" href="/shop/nika"><img src="/logo.png" alt="فروشگاه نیکا"></a>`, field: FieldSellerURL},
		{name: "blank title", drop: "پیراهن نخی زنانه", field: FieldTitle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			html := strings.Replace(fullProductHTML, tt.drop, "", 1)

			p, err := New(nil).Extract(html, testContext())
			assert.Nil(t, p)

			var extractionErr *ExtractionError
			require.ErrorAs(t, err, &extractionErr)
			assert.Equal(t, tt.field, extractionErr.Field)
			assert.Equal(t, productURL, extractionErr.URL)
		})
	}
}

func TestExtract_OptionalFieldsDegrade(t *testing.T) {
	html := `<html><body><h1>Shirt</h1><a class="shop-info" href="https://shop.test/s/1">shop</a></body></html>`

	p, err := New(nil).Extract(html, testContext())
	require.NoError(t, err)

	assert.Empty(t, p.Description)
	assert.NotNil(t, p.ImageURLs)
	assert.Empty(t, p.ImageURLs)
	assert.Empty(t, p.SellerName)
}

func TestExtract_SchemaOverride(t *testing.T) {
	schema, err := DefaultSchema().WithOverrides(map[string]string{
		"title":      "h2.name",
		"seller_url": "a.vendor@data-href",
	})
	require.NoError(t, err)

	html := `<html><body><h1>ignored</h1><h2 class="name">کیف</h2><a class="vendor" data-href="/v/9">v</a></body></html>`

	p, err := New(schema).Extract(html, testContext())
	require.NoError(t, err)
	assert.Equal(t, "کیف", p.Title)
	assert.Equal(t, "https://shop.test/v/9", p.SellerURL)

	rule, ok := DefaultSchema().Rule(FieldTitle)
	require.True(t, ok)
	assert.Equal(t, "h1", rule.Selector, "defaults are not mutated")
}

func TestSchema_WithOverridesErrors(t *testing.T) {
	_, err := DefaultSchema().WithOverrides(map[string]string{"colour": "span"})
	assert.Error(t, err)

	_, err = DefaultSchema().WithOverrides(map[string]string{"title": "@href"})
	assert.Error(t, err)
}

func TestRule_Lookup(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<ul><li data-x="1"> a </li><li data-x="">b</li><li data-x="1">c</li><li data-x="2">d</li></ul>`))
	require.NoError(t, err)

	tests := []struct {
		name string
		rule Rule
		want []string
	}{
		{name: "single text", rule: Rule{Selector: "li"}, want: []string{"a"}},
		{name: "multiple text", rule: Rule{Selector: "li", Multiple: true}, want: []string{"a", "b", "c", "d"}},
		{name: "attribute skips empty and duplicates", rule: Rule{Selector: "li", Attr: "data-x", Multiple: true}, want: []string{"1", "2"}},
		{name: "no match", rule: Rule{Selector: "table"}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Lookup(doc.Selection))
		})
	}
}
