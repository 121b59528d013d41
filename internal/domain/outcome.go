package domain

import "time"

type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
)

func (o Outcome) String() string {
	return string(o)
}

type SkipKind string

const (
	SkipTransient  SkipKind = "transient"  // Eligible for a later run
	SkipPermanent  SkipKind = "permanent"  // Never retried
	SkipExtraction SkipKind = "extraction" // Markup changed, needs an operator
)

// SkipRecord describes an item that was not persisted in a run.
type SkipRecord struct {
	URL             string    `json:"url"`
	Kind            SkipKind  `json:"kind"`
	Reason          string    `json:"reason"`
	TopLevel        string    `json:"top_level"`
	SubcategoryID   string    `json:"subcategory_id,omitempty"`
	SubcategoryPath []string  `json:"subcategory_path,omitempty"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// Listing rebuilds the listing item a skip was recorded for.
func (r *SkipRecord) Listing() ProductListing {
	return ProductListing{
		ProductURL:      r.URL,
		SubcategoryID:   r.SubcategoryID,
		TopLevel:        r.TopLevel,
		SubcategoryPath: r.SubcategoryPath,
	}
}
