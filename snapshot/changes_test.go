package snapshot

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"bazos-watcher/pkg/listing"
)

func newTestDetector(t *testing.T) (*Detector, *Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := New(nil, "", t.TempDir(), logger)
	return NewDetector(store, logger), store
}

func TestDetectFirstSighting(t *testing.T) {
	detector, _ := newTestDetector(t)

	report, err := detector.Detect(context.Background(), "bazos", "reality", "148812345", testListing("Pozemok", 350000))
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if !report.Changed {
		t.Error("Detect() first sighting not reported as changed")
	}
	if !report.FirstSeen {
		t.Error("Detect() first sighting without FirstSeen flag")
	}
}

func TestDetectTrackedFields(t *testing.T) {
	base := testListing("Pozemok 45000 m2", 350000)

	changed := base
	changed.Price = listing.PriceOf(320000)

	relocated := base
	relocated.Location = "Trnava"
	relocated.Description = "Predám pozemok, nová lokalita."

	viewsOnly := base
	viewsOnly.ViewCount = 999

	tests := []struct {
		name       string
		candidate  listing.DetailListing
		wantFields []string
	}{
		{
			name:       "identical record",
			candidate:  base,
			wantFields: nil,
		},
		{
			name:       "price drop reports only price",
			candidate:  changed,
			wantFields: []string{"price"},
		},
		{
			name:       "multiple tracked fields",
			candidate:  relocated,
			wantFields: []string{"description", "location"},
		},
		{
			name:       "untracked field ignored",
			candidate:  viewsOnly,
			wantFields: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detector, store := newTestDetector(t)
			ctx := context.Background()

			at := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
			if err := store.Append(ctx, "bazos", "reality", "148812345", base, at); err != nil {
				t.Fatalf("Append() error: %v", err)
			}

			report, err := detector.Detect(ctx, "bazos", "reality", "148812345", tt.candidate)
			if err != nil {
				t.Fatalf("Detect() error: %v", err)
			}
			if report.Changed != (len(tt.wantFields) > 0) {
				t.Errorf("Detect() changed = %v, want %v", report.Changed, len(tt.wantFields) > 0)
			}
			if report.FirstSeen {
				t.Error("Detect() reported FirstSeen for known listing")
			}
			if !reflect.DeepEqual(report.Fields, tt.wantFields) {
				t.Errorf("Detect() fields = %v, want %v", report.Fields, tt.wantFields)
			}
		})
	}
}

func TestRecordSkipsUnchanged(t *testing.T) {
	detector, store := newTestDetector(t)
	ctx := context.Background()

	base := testListing("Pozemok", 350000)
	t1 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)

	report, err := detector.Record(ctx, "bazos", "reality", "148812345", base, t1)
	if err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if !report.FirstSeen {
		t.Error("Record() first call without FirstSeen")
	}

	report, err = detector.Record(ctx, "bazos", "reality", "148812345", base, t2)
	if err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if report.Changed {
		t.Error("Record() reported change for identical record")
	}

	history, err := store.History(ctx, "bazos", "reality", "148812345")
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("History() has %d snapshots after unchanged record, want 1", len(history))
	}
}

func TestRecordStoresFullCandidate(t *testing.T) {
	detector, store := newTestDetector(t)
	ctx := context.Background()

	base := testListing("Pozemok", 350000)
	t1 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	if _, err := detector.Record(ctx, "bazos", "reality", "148812345", base, t1); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	// Only the price is a tracked change, but the stored version must be
	// the complete incoming record, not a merge of tracked fields.
	updated := base
	updated.Price = listing.PriceOf(320000)
	updated.ViewCount = 57
	updated.ImageURLs = []string{"https://www.bazos.sk/img/1/148812345.jpg"}

	t2 := time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)
	report, err := detector.Record(ctx, "bazos", "reality", "148812345", updated, t2)
	if err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if !reflect.DeepEqual(report.Fields, []string{"price"}) {
		t.Errorf("Record() fields = %v, want [price]", report.Fields)
	}

	latest, err := store.Latest(ctx, "bazos", "reality", "148812345")
	if err != nil {
		t.Fatalf("Latest() error: %v", err)
	}
	if !reflect.DeepEqual(latest.Listing, updated) {
		t.Errorf("Latest() listing = %+v, want full candidate %+v", latest.Listing, updated)
	}
}
