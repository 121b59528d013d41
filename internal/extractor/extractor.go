package extractor

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"shopino/crawler/internal/domain"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
)

// ExtractionError means a required field is missing and the page cannot be
// stored. The markup probably changed.
type ExtractionError struct {
	URL   string
	Field Field
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %s: required field %q not found", e.URL, e.Field)
}

// Context carries what the listing knew about the product.
type Context struct {
	ProductURL      string
	TopLevel        string
	SubcategoryPath []string
	FetchedAt       time.Time
}

type Extractor struct {
	schema Schema
}

func New(schema Schema) *Extractor {
	if len(schema) == 0 {
		schema = DefaultSchema()
	}
	return &Extractor{schema: schema}
}

func (e *Extractor) Schema() Schema {
	return e.schema
}

// Extract builds a product from a detail page. It performs no I/O.
func (e *Extractor) Extract(html string, ec Context) (*domain.Product, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	base, err := url.Parse(ec.ProductURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse product URL: %w", err)
	}

	values := make(map[Field][]string, len(e.schema))
	for _, rule := range e.schema {
		v := rule.Lookup(doc.Selection)
		if rule.Required && len(v) == 0 {
			return nil, &ExtractionError{URL: ec.ProductURL, Field: rule.Field}
		}
		values[rule.Field] = v
	}

	first := func(f Field) string {
		if v := values[f]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	sellerURL := resolveURL(base, first(FieldSellerURL))
	if sellerURL == "" {
		return nil, &ExtractionError{URL: ec.ProductURL, Field: FieldSellerURL}
	}

	fetchedAt := ec.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}

	product := &domain.Product{
		ID:              domain.ProductID(ec.ProductURL),
		URL:             ec.ProductURL,
		Title:           first(FieldTitle),
		Discount:        first(FieldDiscount),
		Description:     first(FieldDescription),
		ImageURLs:       resolveAll(base, values[FieldImages]),
		SellerURL:       sellerURL,
		SellerName:      first(FieldSellerName),
		RelatedNames:    values[FieldRelated],
		TopLevel:        ec.TopLevel,
		SubcategoryPath: ec.SubcategoryPath,
		FetchedAt:       fetchedAt,
	}
	if product.ImageURLs == nil {
		product.ImageURLs = []string{}
	}

	product.PriceNew, product.PriceOld, product.NeedsReview = prices(first(FieldPriceNew), first(FieldPriceOld))

	return product, nil
}

// prices keeps price_new present whenever any price is known. A product with
// no usable price, or with price text that does not parse, needs review.
func prices(rawNew, rawOld string) (priceNew, priceOld decimal.NullDecimal, needsReview bool) {
	priceNew = ParsePrice(rawNew)
	priceOld = ParsePrice(rawOld)

	unparsed := (rawNew != "" && !priceNew.Valid) || (rawOld != "" && !priceOld.Valid)

	if !priceNew.Valid && priceOld.Valid {
		priceNew, priceOld = priceOld, decimal.NullDecimal{}
	}

	return priceNew, priceOld, unparsed || !priceNew.Valid
}

func resolveURL(base *url.URL, href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = base.Scheme + ":" + href
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	return abs.String()
}

func resolveAll(base *url.URL, hrefs []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(hrefs))
	for _, h := range hrefs {
		u := resolveURL(base, h)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
