// Package listing contains the core domain types for the Bazos deal watcher.
package listing

import "time"

// PriceKind distinguishes a concrete amount from the seller's
// negotiability sentinels used on Bazos listings.
type PriceKind string

const (
	PriceSpecified  PriceKind = "specified"   // numeric amount present
	PriceNegotiable PriceKind = "negotiable"  // "Dohodou"
	PriceInText     PriceKind = "in_text"     // "V texte"
	PriceAbsent     PriceKind = "absent"      // no price element at all
)

// Price is a negotiability-aware price. Amount is meaningful only when
// Kind is PriceSpecified.
type Price struct {
	Amount float64   `json:"amount,omitempty"`
	Kind   PriceKind `json:"kind"`
}

// PriceOf returns a concrete price.
func PriceOf(amount float64) Price {
	return Price{Amount: amount, Kind: PriceSpecified}
}

// Known reports whether the price carries a usable numeric amount.
func (p Price) Known() bool {
	return p.Kind == PriceSpecified
}

// RawListing is one item extracted from a Bazos list page.
// Immutable once constructed; the field content is untrusted seller text.
type RawListing struct {
	ExternalID   string    `json:"external_id"` // stable per source
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	Price        Price     `json:"price"`
	Location     string    `json:"location"`
	PostalCode   string    `json:"postal_code,omitempty"`
	Summary      string    `json:"summary,omitempty"` // truncated list-page description
	PostedAt     time.Time `json:"posted_at,omitempty"`
	ViewCount    int       `json:"view_count,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
}

// DetailListing is a RawListing enriched with detail-page fields.
type DetailListing struct {
	RawListing
	Description string   `json:"description"`
	ImageURLs   []string `json:"image_urls,omitempty"`
}

// Detail wraps a raw listing as a DetailListing with no detail-page
// fields, for change detection of records that never left the list page.
func (l RawListing) Detail() DetailListing {
	return DetailListing{RawListing: l}
}

// Snapshot is one immutable, timestamped capture of a listing's fields,
// keyed by (source, category, listing ID, capture time).
type Snapshot struct {
	CapturedAt time.Time     `json:"captured_at"`
	Source     string        `json:"source"`
	Category   string        `json:"category"`
	ListingID  string        `json:"listing_id"`
	Listing    DetailListing `json:"listing"`
}

// ChangeReport says whether a candidate differs from the latest stored
// snapshot on the tracked field subset, and which fields differ.
type ChangeReport struct {
	Changed   bool     `json:"changed"`
	FirstSeen bool     `json:"first_seen"`
	Fields    []string `json:"fields,omitempty"`
}
