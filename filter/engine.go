// Package filter implements the classification engine for scraped
// listings: locale-aware text normalization, keyword matching, area
// extraction with land/floor disambiguation, and per-unit-price
// rejection, combined into a two-stage quick/full decision.
package filter

import (
	"log/slog"

	"bazos-watcher/pkg/listing"
)

// Reason identifies the criterion a listing failed on.
type Reason string

const (
	ReasonExcludedKeyword    Reason = "excluded_keyword"
	ReasonMissingRequiredAll Reason = "missing_required_keyword"
	ReasonMissingRequiredAny Reason = "no_alternative_keyword"
	ReasonPriceBelowMin      Reason = "price_below_min"
	ReasonPriceAboveMax      Reason = "price_above_max"
	ReasonPricePerUnit       Reason = "price_per_unit_suspected"
	ReasonAreaNotFound       Reason = "area_not_found"
	ReasonAreaBelowMin       Reason = "area_below_min"
)

// Result is the outcome of a full classification pass. A non-match is a
// normal outcome, not an error.
type Result struct {
	Passed bool
	Failed Reason  // empty when Passed
	Area   float64 // selected land area in m2, 0 when not evaluated
	Price  float64 // validated price, 0 when unknown
}

// Engine classifies listings against Criteria values. Both filter stages
// are stateless, side-effect-free functions of their inputs; the engine
// only carries a logger.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates a classification engine.
func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{logger: logger}
}

// QuickFilter is the cheap first pass over list-page fields, used to
// decide whether a detail fetch is worth it. It only applies checks that
// can never reject a listing FullFilter would accept: excluded keywords
// (present in the title implies present in the full text) and price
// bounds. Required keywords are deliberately not checked here, since they
// may appear only in the detail description.
func (e *Engine) QuickFilter(raw listing.RawListing, c Criteria) bool {
	if !Match(raw.Title, nil, nil, c.KeywordsExcluded) {
		e.logger.Debug("Quick-rejected: excluded keyword in title", "external_id", raw.ExternalID)
		return false
	}

	if reason, ok := checkPriceBounds(raw.Price, c); !ok {
		e.logger.Debug("Quick-rejected: price out of bounds", "external_id", raw.ExternalID, "reason", reason)
		return false
	}

	return true
}

// FullFilter runs the complete classification over detail-page fields.
// All criteria combine with AND semantics; the first failing criterion is
// reported in the result.
func (e *Engine) FullFilter(det listing.DetailListing, c Criteria) Result {
	combined := det.Title + " " + det.Description

	if reason, ok := checkKeywords(combined, c); !ok {
		return e.reject(det, reason)
	}

	if reason, ok := checkPriceBounds(det.Price, c); !ok {
		return e.reject(det, reason)
	}

	result := Result{Passed: true}
	if det.Price.Known() {
		result.Price = det.Price.Amount
		if c.rejectPricePerM2() && !e.ValidateTotalPrice(det.Price.Amount, combined, c) {
			return e.reject(det, ReasonPricePerUnit)
		}
	}

	if c.AreaMin > 0 {
		candidates := e.ExtractArea(combined, c.areaUnits())
		area, ok := SelectLandArea(candidates, c.landFallbackMin())
		if !ok {
			// Covers both "no quantity in the text" and "no description
			// at all": an absent field means the criterion cannot be
			// satisfied.
			return e.reject(det, ReasonAreaNotFound)
		}
		if area < c.AreaMin {
			return e.reject(det, ReasonAreaBelowMin)
		}
		result.Area = area
	}

	e.logger.Info("Listing matches criteria",
		"external_id", det.ExternalID,
		"area_m2", result.Area,
		"price", result.Price)
	return result
}

func (e *Engine) reject(det listing.DetailListing, reason Reason) Result {
	e.logger.Debug("Listing rejected", "external_id", det.ExternalID, "reason", string(reason))
	return Result{Failed: reason}
}

func checkKeywords(text string, c Criteria) (Reason, bool) {
	switch {
	case !Match(text, nil, nil, c.KeywordsExcluded):
		return ReasonExcludedKeyword, false
	case !Match(text, c.KeywordsRequiredAll, nil, nil):
		return ReasonMissingRequiredAll, false
	case !Match(text, nil, c.KeywordsRequiredAny, nil):
		return ReasonMissingRequiredAny, false
	}
	return "", true
}

// checkPriceBounds applies the numeric bounds. Negotiable and
// in-description prices have no amount to compare and pass through; the
// detail-stage checks see the resolved amount if one exists.
func checkPriceBounds(p listing.Price, c Criteria) (Reason, bool) {
	if !p.Known() {
		return "", true
	}
	if c.PriceMin != nil && p.Amount < *c.PriceMin {
		return ReasonPriceBelowMin, false
	}
	if c.PriceMax != nil && p.Amount > *c.PriceMax {
		return ReasonPriceAboveMax, false
	}
	return "", true
}
