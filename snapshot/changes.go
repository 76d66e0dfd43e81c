package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"bazos-watcher/pkg/listing"
)

// trackedFields is the fixed set of fields compared for change detection.
// Everything else on a listing may differ without triggering a new
// version.
var trackedFields = []string{"title", "description", "price", "location"}

// Detector compares incoming listing records against their latest stored
// snapshot.
type Detector struct {
	store  *Store
	logger *slog.Logger
}

// NewDetector creates a change detector backed by the given store.
func NewDetector(store *Store, logger *slog.Logger) *Detector {
	return &Detector{store: store, logger: logger}
}

// Detect reports whether the candidate differs from the latest stored
// snapshot. A listing with no prior snapshot counts as changed with
// FirstSeen set. Comparison is exact equality per tracked field.
func (d *Detector) Detect(ctx context.Context, source, category, id string, cand listing.DetailListing) (listing.ChangeReport, error) {
	latest, err := d.store.Latest(ctx, source, category, id)
	if errors.Is(err, ErrNotFound) {
		return listing.ChangeReport{
			Changed:   true,
			FirstSeen: true,
			Fields:    append([]string(nil), trackedFields...),
		}, nil
	}
	if err != nil {
		return listing.ChangeReport{}, err
	}

	prev := latest.Listing
	var fields []string
	if prev.Title != cand.Title {
		fields = append(fields, "title")
	}
	if prev.Description != cand.Description {
		fields = append(fields, "description")
	}
	if prev.Price != cand.Price {
		fields = append(fields, "price")
	}
	if prev.Location != cand.Location {
		fields = append(fields, "location")
	}

	return listing.ChangeReport{Changed: len(fields) > 0, Fields: fields}, nil
}

// Record runs change detection and appends the full candidate as a new
// version only when something changed. Unchanged listings leave the store
// untouched.
func (d *Detector) Record(ctx context.Context, source, category, id string, cand listing.DetailListing, capturedAt time.Time) (listing.ChangeReport, error) {
	report, err := d.Detect(ctx, source, category, id, cand)
	if err != nil {
		return listing.ChangeReport{}, err
	}
	if !report.Changed {
		d.logger.Debug("Listing unchanged", "source", source, "category", category, "listing_id", id)
		return report, nil
	}

	if err := d.store.Append(ctx, source, category, id, cand, capturedAt); err != nil {
		return report, err
	}
	d.logger.Info("Listing snapshot recorded",
		"source", source, "category", category, "listing_id", id,
		"first_seen", report.FirstSeen, "changed_fields", report.Fields)
	return report, nil
}
