// Package watch runs the scrape, snapshot and match cycle over the
// configured categories.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bazos-watcher/config"
	"bazos-watcher/deals"
	"bazos-watcher/filter"
	"bazos-watcher/pkg/listing"
	"bazos-watcher/snapshot"
)

// Scraper interface for fetching category and detail pages.
type Scraper interface {
	Listings(ctx context.Context, categoryURL string, maxPages int) ([]listing.RawListing, error)
	Detail(ctx context.Context, raw listing.RawListing) (listing.DetailListing, error)
}

// Engine interface for listing classification.
type Engine interface {
	QuickFilter(raw listing.RawListing, c filter.Criteria) bool
	FullFilter(det listing.DetailListing, c filter.Criteria) filter.Result
}

// Recorder interface for versioned snapshot recording.
type Recorder interface {
	Record(ctx context.Context, source, category, id string, cand listing.DetailListing, capturedAt time.Time) (listing.ChangeReport, error)
}

// DealStore interface for deal persistence.
type DealStore interface {
	EnsureCategory(ctx context.Context, source, name, url string) (int64, error)
	UpsertDeal(ctx context.Context, categoryID int64, det listing.DetailListing, areaM2 float64, now time.Time) error
	MarkInactive(ctx context.Context, categoryID int64, seenExternalIDs []string, now time.Time) (int64, error)
	CreateRun(ctx context.Context, source, category string, startedAt time.Time) (int64, error)
	FinishRun(ctx context.Context, runID int64, stats deals.RunStats, finishedAt time.Time) error
}

// Monitor drives one full cycle over all watched categories.
type Monitor struct {
	scraper  Scraper
	engine   Engine
	recorder Recorder
	deals    DealStore // nil disables deal persistence
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a watch monitor. dealStore may be nil when no database is
// configured; snapshots are recorded either way.
func New(scraper Scraper, engine Engine, recorder Recorder, dealStore DealStore, logger *slog.Logger) *Monitor {
	return &Monitor{
		scraper:  scraper,
		engine:   engine,
		recorder: recorder,
		deals:    dealStore,
		logger:   logger,
		now:      time.Now,
	}
}

// CheckAll processes every watch in order. A failing watch is logged
// and does not stop the others.
func (m *Monitor) CheckAll(ctx context.Context, watches []config.Watch) error {
	m.logger.Info("Checking watches", "count", len(watches))

	for _, w := range watches {
		select {
		case <-ctx.Done():
			m.logger.Info("Context cancelled, stopping watch cycle", "error", ctx.Err())
			return ctx.Err()
		default:
		}

		if err := m.checkWatch(ctx, w); err != nil {
			m.logger.Warn("Watch check failed", "source", w.Source, "category", w.Category, "error", err)
		}
	}
	return nil
}

func (m *Monitor) checkWatch(ctx context.Context, w config.Watch) error {
	startedAt := m.now()
	m.logger.Info("Starting watch check",
		"source", w.Source,
		"category", w.Category,
		"url", w.URL)

	var (
		runID      int64
		categoryID int64
		err        error
	)
	if m.deals != nil {
		if runID, err = m.deals.CreateRun(ctx, w.Source, w.Category, startedAt); err != nil {
			return fmt.Errorf("create scraping run: %w", err)
		}
		if categoryID, err = m.deals.EnsureCategory(ctx, w.Source, w.Category, w.URL); err != nil {
			return fmt.Errorf("ensure category: %w", err)
		}
	}

	listings, err := m.scraper.Listings(ctx, w.URL, w.MaxPages)
	if err != nil && len(listings) == 0 {
		return fmt.Errorf("fetch listings: %w", err)
	}
	if err != nil {
		// Partial page set: process what we have, count the failure.
		m.logger.Warn("Listing fetch incomplete, processing partial results",
			"source", w.Source, "category", w.Category, "fetched", len(listings), "error", err)
	}

	var stats deals.RunStats
	if err != nil {
		stats.Errors++
	}
	seen := make([]string, 0, len(listings))

	for _, raw := range listings {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		seen = append(seen, raw.ExternalID)
		stats.ListingsSeen++

		// Every sighting goes through change detection; the quick filter
		// only decides whether the detail page is worth fetching.
		if !m.engine.QuickFilter(raw, w.Criteria) {
			m.recordVersion(ctx, w, raw.Detail(), &stats)
			continue
		}

		det, detErr := m.scraper.Detail(ctx, raw)
		if detErr != nil {
			m.logger.Warn("Detail fetch failed",
				"source", w.Source, "category", w.Category,
				"listing_id", raw.ExternalID, "error", detErr)
			stats.Errors++
			continue
		}
		m.recordVersion(ctx, w, det, &stats)

		result := m.engine.FullFilter(det, w.Criteria)
		if !result.Passed {
			continue
		}
		stats.DealsMatched++

		if m.deals != nil {
			if upErr := m.deals.UpsertDeal(ctx, categoryID, det, result.Area, m.now()); upErr != nil {
				m.logger.Warn("Deal upsert failed",
					"listing_id", det.ExternalID, "error", upErr)
				stats.Errors++
			}
		}
	}

	if m.deals != nil {
		if _, inErr := m.deals.MarkInactive(ctx, categoryID, seen, m.now()); inErr != nil {
			m.logger.Warn("Marking inactive deals failed", "category_id", categoryID, "error", inErr)
			stats.Errors++
		}
		if fErr := m.deals.FinishRun(ctx, runID, stats, m.now()); fErr != nil {
			m.logger.Warn("Finishing scraping run failed", "run_id", runID, "error", fErr)
		}
	}

	m.logger.Info("Watch check completed",
		"source", w.Source,
		"category", w.Category,
		"listings_seen", stats.ListingsSeen,
		"listings_changed", stats.ListingsChanged,
		"deals_matched", stats.DealsMatched,
		"errors", stats.Errors,
		"duration_ms", m.now().Sub(startedAt).Milliseconds())
	return nil
}

func (m *Monitor) recordVersion(ctx context.Context, w config.Watch, det listing.DetailListing, stats *deals.RunStats) {
	report, err := m.recorder.Record(ctx, w.Source, w.Category, det.ExternalID, det, m.now())
	if err != nil {
		if snapshot.IsWriteConflict(err) {
			m.logger.Warn("Snapshot write conflict, keeping existing version",
				"listing_id", det.ExternalID, "error", err)
		} else {
			m.logger.Warn("Snapshot recording failed",
				"listing_id", det.ExternalID, "error", err)
		}
		stats.Errors++
		return
	}
	if report.Changed {
		stats.ListingsChanged++
		m.logger.Debug("Listing changed",
			"listing_id", det.ExternalID,
			"first_seen", report.FirstSeen,
			"fields", report.Fields)
	}
}
