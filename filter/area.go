package filter

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// AreaTag classifies what an extracted quantity most likely measures.
type AreaTag string

const (
	AreaLand    AreaTag = "land"    // plot/parcel area
	AreaFloor   AreaTag = "floor"   // interior building area
	AreaUnknown AreaTag = "unknown" // no contextual signal either way
)

// AreaCandidate is one numeric quantity with a recognized area unit found
// in listing text. Value is the magnitude as written, before unit
// conversion; canonicalization to square meters happens once, at
// selection time.
type AreaCandidate struct {
	Value  float64 // magnitude in the matched unit
	Unit   string  // normalized unit token
	Factor float64 // square-meter conversion factor for Unit
	Start  int     // byte span of the match in the normalized text
	End    int
	Window string // fixed-width context surrounding the match
	Tag    AreaTag
}

// M2 returns the candidate's magnitude converted to square meters.
func (c AreaCandidate) M2() float64 {
	return c.Value * c.Factor
}

// contextRunes is how far the classification window extends on each side
// of a match.
const contextRunes = 60

// hectareFactor marks the hectare unit family; any unit with at least
// this factor is treated as a land-area unit outright.
const hectareFactor = 10000

// Contextual terms, in normalized form. Land stems are prefixes so that
// inflected forms ("pozemok", "pozemku", "parcele") all hit.
var (
	landStems  = []string{"pozem", "parcel"}
	floorTerms = []string{
		"podlahova plocha",
		"uzitkova plocha",
		"zastavana plocha",
		"obytna plocha",
	}
)

// magnitudePattern matches a number in normalized text: an integer part
// optionally grouped by single spaces into exact thousands triples, with
// an optional decimal tail. Spaces are only accepted as 3-digit group
// separators so the magnitude can never swallow an adjacent number.
const magnitudePattern = `\d+(?: \d{3})*(?:[.,]\d+)?`

// ExtractArea scans text for quantities carrying one of the recognized
// area unit tokens and returns a candidate per match, in text order.
// A magnitude that fails to parse discards only that candidate; the rest
// of the text is still scanned.
func (e *Engine) ExtractArea(text string, units map[string]float64) []AreaCandidate {
	normalized := Normalize(text)
	if normalized == "" || len(units) == 0 {
		return nil
	}

	re, factors := areaPattern(units)

	var candidates []AreaCandidate
	for _, m := range re.FindAllStringSubmatchIndex(normalized, -1) {
		magnitude := normalized[m[2]:m[3]]
		unit := normalized[m[4]:m[5]]

		value, err := parseMagnitude(magnitude)
		if err != nil {
			e.logger.Debug("Discarding malformed quantity", "magnitude", magnitude, "unit", unit, "error", err)
			continue
		}

		cand := AreaCandidate{
			Value:  value,
			Unit:   unit,
			Factor: factors[unit],
			Start:  m[0],
			End:    m[1],
			Window: contextWindow(normalized, m[0], m[1]),
		}
		cand.Tag = classifyArea(cand)
		candidates = append(candidates, cand)
	}

	return candidates
}

// SelectLandArea applies the selection policy: the largest candidate
// tagged land wins, converted to square meters. With no land candidate,
// the largest unknown candidate is used only if it exceeds fallbackMin,
// the "floor areas rarely run that large" heuristic, which can misfire
// in both directions. Equal magnitudes keep the first occurrence: the
// scan uses a strict greater-than.
func SelectLandArea(candidates []AreaCandidate, fallbackMin float64) (float64, bool) {
	var best float64
	found := false
	for _, c := range candidates {
		if c.Tag != AreaLand {
			continue
		}
		if !found || c.M2() > best {
			best = c.M2()
			found = true
		}
	}
	if found {
		return best, true
	}

	for _, c := range candidates {
		if c.Tag != AreaUnknown || c.M2() <= fallbackMin {
			continue
		}
		if !found || c.M2() > best {
			best = c.M2()
			found = true
		}
	}
	return best, found
}

// areaPattern compiles the magnitude-plus-unit pattern for a unit set and
// returns it with the token-to-factor map in normalized form. The unit is
// captured separately from the magnitude and anchored with \b so unit
// characters can never consume the digits of a following number.
func areaPattern(units map[string]float64) (*regexp.Regexp, map[string]float64) {
	factors := make(map[string]float64, len(units))
	tokens := make([]string, 0, len(units))
	for token, factor := range units {
		normalized := Normalize(token)
		if normalized == "" {
			continue
		}
		if _, dup := factors[normalized]; !dup {
			tokens = append(tokens, normalized)
		}
		factors[normalized] = factor
	}

	// Longest first so "hektarov" is not shadowed by "hektar".
	sort.Slice(tokens, func(i, j int) bool {
		if len(tokens[i]) != len(tokens[j]) {
			return len(tokens[i]) > len(tokens[j])
		}
		return tokens[i] < tokens[j]
	})
	for i, t := range tokens {
		tokens[i] = regexp.QuoteMeta(t)
	}

	re := regexp.MustCompile(`(` + magnitudePattern + `) ?(` + strings.Join(tokens, "|") + `)\b`)
	return re, factors
}

func parseMagnitude(s string) (float64, error) {
	s = strings.ReplaceAll(s, " ", "")
	// Slovak decimal comma.
	s = strings.ReplaceAll(s, ",", ".")
	return strconv.ParseFloat(s, 64)
}

func classifyArea(c AreaCandidate) AreaTag {
	if c.Factor >= hectareFactor {
		return AreaLand
	}
	for _, stem := range landStems {
		if strings.Contains(c.Window, stem) {
			return AreaLand
		}
	}
	if containsAny(c.Window, floorTerms) {
		return AreaFloor
	}
	return AreaUnknown
}

// contextWindow slices up to contextRunes runes on each side of the byte
// span [start,end), always cutting on rune boundaries.
func contextWindow(text string, start, end int) string {
	lo := start
	for i := 0; i < contextRunes && lo > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(text[:lo])
		lo -= size
	}
	hi := end
	for i := 0; i < contextRunes && hi < len(text); i++ {
		_, size := utf8.DecodeRuneInString(text[hi:])
		hi += size
	}
	return text[lo:hi]
}
