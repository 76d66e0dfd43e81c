// Package deals persists matched listings and their price history in
// Postgres.
package deals

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"bazos-watcher/pkg/listing"
)

// Deal is a matched listing as stored in the deals table.
type Deal struct {
	ID         int64
	CategoryID int64
	ExternalID string
	Title      string
	URL        string
	Price      listing.Price
	Location   string
	PostalCode string
	AreaM2     float64
	ViewCount  int
	IsActive   bool
	FirstSeen  time.Time
	LastSeen   time.Time
}

// PricePoint is one entry of a deal's price history.
type PricePoint struct {
	Price      listing.Price
	RecordedAt time.Time
}

// RunStats summarizes one scraping run for the scraping_runs table.
type RunStats struct {
	ListingsSeen    int
	ListingsChanged int
	DealsMatched    int
	Errors          int
}

// Repository wraps database access for deals, price history and
// scraping runs.
type Repository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRepository creates a repository on an open database handle.
func NewRepository(db *sql.DB, logger *slog.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// EnsureCategory creates or refreshes a watched category and returns
// its id.
func (r *Repository) EnsureCategory(ctx context.Context, source, name, url string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO categories (source, name, url)
		VALUES ($1, $2, $3)
		ON CONFLICT (source, name) DO UPDATE SET url = EXCLUDED.url
		RETURNING id`,
		source, name, url).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure category %s/%s: %w", source, name, err)
	}
	return id, nil
}

// UpsertDeal inserts a new deal or refreshes an existing one. A price
// different from the stored one appends a price_history row; the
// last_seen timestamp and volatile fields are refreshed either way.
func (r *Repository) UpsertDeal(ctx context.Context, categoryID int64, det listing.DetailListing, areaM2 float64, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.logger.Warn("Failed to roll back transaction", "error", rbErr)
		}
	}()

	var (
		dealID    int64
		prevPrice sql.NullFloat64
		prevKind  string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, price, price_kind FROM deals
		WHERE category_id = $1 AND external_id = $2`,
		categoryID, det.ExternalID).Scan(&dealID, &prevPrice, &prevKind)

	priceChanged := false
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = tx.QueryRowContext(ctx, `
			INSERT INTO deals (category_id, external_id, title, url, description,
				price, price_kind, location, postal_code, area_m2, view_count,
				image_urls, is_active, first_seen_at, last_seen_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, TRUE, $13, $13)
			RETURNING id`,
			categoryID, det.ExternalID, det.Title, det.URL, det.Description,
			nullPrice(det.Price), string(det.Price.Kind), det.Location, det.PostalCode,
			areaM2, det.ViewCount, pq.Array(det.ImageURLs), now).Scan(&dealID)
		if err != nil {
			return fmt.Errorf("insert deal %s: %w", det.ExternalID, err)
		}
		priceChanged = true
	case err != nil:
		return fmt.Errorf("look up deal %s: %w", det.ExternalID, err)
	default:
		priceChanged = string(det.Price.Kind) != prevKind ||
			(det.Price.Known() && (!prevPrice.Valid || prevPrice.Float64 != det.Price.Amount))
		_, err = tx.ExecContext(ctx, `
			UPDATE deals SET title = $1, description = $2, price = $3, price_kind = $4,
				location = $5, postal_code = $6, area_m2 = $7, view_count = $8,
				image_urls = $9, is_active = TRUE, last_seen_at = $10
			WHERE id = $11`,
			det.Title, det.Description, nullPrice(det.Price), string(det.Price.Kind),
			det.Location, det.PostalCode, areaM2, det.ViewCount,
			pq.Array(det.ImageURLs), now, dealID)
		if err != nil {
			return fmt.Errorf("update deal %s: %w", det.ExternalID, err)
		}
	}

	if priceChanged {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO price_history (deal_id, price, price_kind, recorded_at)
			VALUES ($1, $2, $3, $4)`,
			dealID, nullPrice(det.Price), string(det.Price.Kind), now)
		if err != nil {
			return fmt.Errorf("record price history for %s: %w", det.ExternalID, err)
		}
		r.logger.Info("Deal price recorded",
			"external_id", det.ExternalID,
			"price_kind", det.Price.Kind,
			"price", det.Price.Amount)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit deal %s: %w", det.ExternalID, err)
	}
	return nil
}

// PriceHistory returns a deal's recorded prices, oldest first.
func (r *Repository) PriceHistory(ctx context.Context, dealID int64) ([]PricePoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT price, price_kind, recorded_at FROM price_history
		WHERE deal_id = $1 ORDER BY recorded_at`, dealID)
	if err != nil {
		return nil, fmt.Errorf("query price history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.Warn("Failed to close rows", "error", closeErr)
		}
	}()

	var points []PricePoint
	for rows.Next() {
		var (
			amount sql.NullFloat64
			kind   string
			at     time.Time
		)
		if err := rows.Scan(&amount, &kind, &at); err != nil {
			return nil, fmt.Errorf("scan price point: %w", err)
		}
		p := listing.Price{Kind: listing.PriceKind(kind)}
		if amount.Valid {
			p.Amount = amount.Float64
		}
		points = append(points, PricePoint{Price: p, RecordedAt: at})
	}
	return points, rows.Err()
}

// ActiveExternalIDs lists external ids of active deals in a category.
func (r *Repository) ActiveExternalIDs(ctx context.Context, categoryID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT external_id FROM deals
		WHERE category_id = $1 AND is_active`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("query active deals: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.Warn("Failed to close rows", "error", closeErr)
		}
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan external id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkInactive deactivates deals in a category that are no longer among
// the seen external ids. Returns the number of deals deactivated.
func (r *Repository) MarkInactive(ctx context.Context, categoryID int64, seenExternalIDs []string, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE deals SET is_active = FALSE, deactivated_at = $3
		WHERE category_id = $1 AND is_active AND NOT (external_id = ANY($2))`,
		categoryID, pq.Array(seenExternalIDs), now)
	if err != nil {
		return 0, fmt.Errorf("mark deals inactive: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		r.logger.Info("Deals marked inactive", "category_id", categoryID, "count", n)
	}
	return n, nil
}

// CreateRun opens a scraping_runs row and returns its id.
func (r *Repository) CreateRun(ctx context.Context, source, category string, startedAt time.Time) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO scraping_runs (source, category, started_at)
		VALUES ($1, $2, $3) RETURNING id`,
		source, category, startedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create scraping run: %w", err)
	}
	return id, nil
}

// FinishRun closes a scraping run with its final counters.
func (r *Repository) FinishRun(ctx context.Context, runID int64, stats RunStats, finishedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scraping_runs
		SET finished_at = $1, listings_seen = $2, listings_changed = $3,
			deals_matched = $4, errors = $5
		WHERE id = $6`,
		finishedAt, stats.ListingsSeen, stats.ListingsChanged,
		stats.DealsMatched, stats.Errors, runID)
	if err != nil {
		return fmt.Errorf("finish scraping run %d: %w", runID, err)
	}
	return nil
}

func nullPrice(p listing.Price) sql.NullFloat64 {
	if !p.Known() {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: p.Amount, Valid: true}
}
