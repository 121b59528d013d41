package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// ProductListing is a product link found on a listing page, not yet fetched.
type ProductListing struct {
	ProductURL      string   `json:"product_url"`
	SubcategoryID   string   `json:"subcategory_id"`
	TopLevel        string   `json:"top_level"`
	SubcategoryPath []string `json:"subcategory_path"`
	Page            int      `json:"page"`
}

type Product struct {
	ID              string              `json:"id"`
	URL             string              `json:"url"`
	Title           string              `json:"title"`
	PriceOld        decimal.NullDecimal `json:"price_old"`
	PriceNew        decimal.NullDecimal `json:"price_new"`
	Discount        string              `json:"discount,omitempty"`
	Description     string              `json:"description"`
	ImageURLs       []string            `json:"image_urls"`
	SellerURL       string              `json:"seller_url"`
	SellerName      string              `json:"seller_name,omitempty"`
	RelatedNames    []string            `json:"related_names,omitempty"`
	TopLevel        string              `json:"top_level"`
	SubcategoryPath []string            `json:"subcategory_path"`
	NeedsReview     bool                `json:"needs_review"` // Price missing or unparseable
	FetchedAt       time.Time           `json:"fetched_at"`
}

// ProductID derives the stable record id from the product URL. Title or price
// changes never affect it.
func ProductID(productURL string) string {
	sum := sha256.Sum256([]byte(productURL))
	return hex.EncodeToString(sum[:16])
}

// SameContent reports whether the tracked fields (title, prices, description,
// image set) are equal.
func (p *Product) SameContent(other *Product) bool {
	if p.Title != other.Title || p.Description != other.Description {
		return false
	}
	if !sameDecimal(p.PriceNew, other.PriceNew) || !sameDecimal(p.PriceOld, other.PriceOld) {
		return false
	}
	return sameSet(p.ImageURLs, other.ImageURLs)
}

func sameDecimal(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

func sameSet(a, b []string) bool {
	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(slices.Compact(x), slices.Compact(y))
}

// ImageAsset is a downloaded product image. (ProductID, SourceURL) is unique;
// URLs serving the same bytes share one LocalPath.
type ImageAsset struct {
	ProductID   string `json:"product_id"`
	SourceURL   string `json:"source_url"`
	LocalPath   string `json:"local_path"`
	ContentHash string `json:"content_hash"`
}

// StoredProduct is a product as read back from the repository.
type StoredProduct struct {
	Product
	Images []ImageAsset
}

// MissingImages returns the product image URLs that have no stored asset.
func (s *StoredProduct) MissingImages(urls []string) []string {
	have := make(map[string]struct{}, len(s.Images))
	for _, img := range s.Images {
		have[img.SourceURL] = struct{}{}
	}

	var missing []string
	for _, u := range urls {
		if _, ok := have[u]; !ok && !slices.Contains(missing, u) {
			missing = append(missing, u)
		}
	}
	return missing
}
