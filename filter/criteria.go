package filter

// Default thresholds carried over from the original watcher configuration.
const (
	// DefaultLandFallbackMin is the heuristic "probably land" cutoff for
	// untagged area candidates: floor areas rarely exceed 5,000 m2. This
	// is tunable, not guaranteed-correct; both false positives and false
	// negatives are possible.
	DefaultLandFallbackMin = 5000.0

	// DefaultMinTotalPrice rejects amounts below this as likely per-unit
	// prices: genuine totals in the watched categories are never this low.
	DefaultMinTotalPrice = 100.0
)

// DefaultAreaUnits maps recognized unit tokens to their square-meter
// conversion factors. "m²" folds to "m2" during normalization. The are
// factor (100) and hectare factor (10,000) are exact.
func DefaultAreaUnits() map[string]float64 {
	return map[string]float64{
		"m2":       1,
		"ha":       10000,
		"hektar":   10000,
		"hektara":  10000,
		"hektare":  10000,
		"hektarov": 10000,
		"ar":       100,
		"arov":     100,
	}
}

// Criteria is one watch's matching configuration. A zero value passes
// everything except the per-unit-price check, which defaults on.
// Criteria values are read-only once loaded.
type Criteria struct {
	KeywordsRequiredAll []string `json:"keywords_required_all,omitempty"`
	KeywordsRequiredAny []string `json:"keywords_required_any,omitempty"`
	KeywordsExcluded    []string `json:"keywords_excluded,omitempty"`

	PriceMin *float64 `json:"price_min,omitempty"`
	PriceMax *float64 `json:"price_max,omitempty"`

	// AreaMin is the minimum land area in square meters; zero disables
	// the area criterion.
	AreaMin float64 `json:"area_min,omitempty"`

	// RecognizedAreaUnits maps unit tokens to square-meter factors.
	// Nil means DefaultAreaUnits.
	RecognizedAreaUnits map[string]float64 `json:"recognized_area_units,omitempty"`

	// LandFallbackMin overrides DefaultLandFallbackMin when non-nil.
	LandFallbackMin *float64 `json:"land_fallback_min,omitempty"`

	// MinTotalPrice overrides DefaultMinTotalPrice when non-nil.
	MinTotalPrice *float64 `json:"min_total_price,omitempty"`

	// RejectPricePerM2 toggles the per-unit-price heuristic; nil means on.
	RejectPricePerM2 *bool `json:"reject_price_per_m2,omitempty"`
}

func (c Criteria) areaUnits() map[string]float64 {
	if c.RecognizedAreaUnits != nil {
		return c.RecognizedAreaUnits
	}
	return DefaultAreaUnits()
}

func (c Criteria) landFallbackMin() float64 {
	if c.LandFallbackMin != nil {
		return *c.LandFallbackMin
	}
	return DefaultLandFallbackMin
}

func (c Criteria) minTotalPrice() float64 {
	if c.MinTotalPrice != nil {
		return *c.MinTotalPrice
	}
	return DefaultMinTotalPrice
}

func (c Criteria) rejectPricePerM2() bool {
	if c.RejectPricePerM2 != nil {
		return *c.RejectPricePerM2
	}
	return true
}
