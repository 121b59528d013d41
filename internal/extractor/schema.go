package extractor

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

type Field string

const (
	FieldTitle       Field = "title"
	FieldPriceNew    Field = "price_new"
	FieldPriceOld    Field = "price_old"
	FieldDiscount    Field = "discount"
	FieldDescription Field = "description"
	FieldImages      Field = "images"
	FieldSellerURL   Field = "seller_url"
	FieldSellerName  Field = "seller_name"
	FieldRelated     Field = "related_names"
)

// Rule tells how one logical field is found on a product page. An empty Attr
// reads the element text.
type Rule struct {
	Field    Field
	Selector string
	Attr     string
	Multiple bool
	Required bool
}

// Schema is the ordered field table used by the extractor.
type Schema []Rule

func DefaultSchema() Schema {
	return Schema{
		{Field: FieldTitle, Selector: "h1", Required: true},
		{Field: FieldPriceNew, Selector: ".price"},
		{Field: FieldPriceOld, Selector: ".old-price"},
		{Field: FieldDiscount, Selector: ".discount-percentage"},
		{Field: FieldDescription, Selector: "pre"},
		{Field: FieldImages, Selector: "img.product-image", Attr: "src", Multiple: true},
		{Field: FieldSellerURL, Selector: "a.shop-info", Attr: "href", Required: true},
		{Field: FieldSellerName, Selector: "a.shop-info img", Attr: "alt"},
		{Field: FieldRelated, Selector: ".address-container .description li a", Multiple: true},
	}
}

// Rule returns the rule for field.
func (s Schema) Rule(field Field) (Rule, bool) {
	for _, r := range s {
		if r.Field == field {
			return r, true
		}
	}
	return Rule{}, false
}

// WithOverrides returns a copy of the schema with selectors replaced. Values use
// "selector" or "selector@attr".
func (s Schema) WithOverrides(overrides map[string]string) (Schema, error) {
	out := make(Schema, len(s))
	copy(out, s)

	for name, spec := range overrides {
		idx := -1
		for i, r := range out {
			if string(r.Field) == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("unknown product field %q", name)
		}

		selector, attr, _ := strings.Cut(spec, "@")
		selector = strings.TrimSpace(selector)
		if selector == "" {
			return nil, fmt.Errorf("empty selector for product field %q", name)
		}
		out[idx].Selector = selector
		out[idx].Attr = strings.TrimSpace(attr)
	}

	return out, nil
}

// Lookup returns the trimmed non-empty values the rule matches, in document
// order. Single-valued rules return at most one value.
func (r Rule) Lookup(doc *goquery.Selection) []string {
	var values []string
	seen := make(map[string]struct{})

	doc.Find(r.Selector).EachWithBreak(func(i int, s *goquery.Selection) bool {
		var v string
		if r.Attr != "" {
			v, _ = s.Attr(r.Attr)
		} else {
			v = s.Text()
		}

		v = strings.TrimSpace(v)
		if v == "" {
			return true
		}
		if _, dup := seen[v]; dup {
			return true
		}
		seen[v] = struct{}{}
		values = append(values, v)

		return r.Multiple
	})

	return values
}
