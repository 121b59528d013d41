package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestProductID_Stable(t *testing.T) {
	url := "https://shop.test/product/123"

	assert.Equal(t, ProductID(url), ProductID(url))
	assert.Len(t, ProductID(url), 32)
	assert.NotEqual(t, ProductID(url), ProductID("https://shop.test/product/124"))
}

func TestProduct_SameContent(t *testing.T) {
	base := func() *Product {
		return &Product{
			Title:       "پیراهن",
			Description: "نخی",
			PriceNew:    decimal.NewNullDecimal(decimal.RequireFromString("100")),
			ImageURLs:   []string{"https://img.test/a.jpg", "https://img.test/b.jpg"},
		}
	}

	tests := []struct {
		name   string
		modify func(p *Product)
		same   bool
	}{
		{name: "identical", modify: func(p *Product) {}, same: true},
		{name: "image order ignored", modify: func(p *Product) {
			p.ImageURLs = []string{"https://img.test/b.jpg", "https://img.test/a.jpg"}
		}, same: true},
		{name: "equal price different scale", modify: func(p *Product) {
			p.PriceNew = decimal.NewNullDecimal(decimal.RequireFromString("100.00"))
		}, same: true},
		{name: "price changed", modify: func(p *Product) {
			p.PriceNew = decimal.NewNullDecimal(decimal.RequireFromString("90"))
		}},
		{name: "price removed", modify: func(p *Product) { p.PriceNew = decimal.NullDecimal{} }},
		{name: "old price added", modify: func(p *Product) {
			p.PriceOld = decimal.NewNullDecimal(decimal.RequireFromString("120"))
		}},
		{name: "title changed", modify: func(p *Product) { p.Title = "other" }},
		{name: "description changed", modify: func(p *Product) { p.Description = "" }},
		{name: "image added", modify: func(p *Product) {
			p.ImageURLs = append(p.ImageURLs, "https://img.test/c.jpg")
		}},
		{name: "seller is not tracked", modify: func(p *Product) { p.SellerURL = "https://shop.test/s/2" }, same: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := base()
			tt.modify(other)
			assert.Equal(t, tt.same, base().SameContent(other))
		})
	}
}

func TestStoredProduct_MissingImages(t *testing.T) {
	stored := &StoredProduct{Images: []ImageAsset{{SourceURL: "https://img.test/a.jpg"}}}

	missing := stored.MissingImages([]string{"https://img.test/a.jpg", "https://img.test/b.jpg", "https://img.test/b.jpg"})
	assert.Equal(t, []string{"https://img.test/b.jpg"}, missing)
}
