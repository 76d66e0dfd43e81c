package filter

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// perUnitMarkers are the normalized per-unit-price spellings seen on
// Bazos listings. "/m2" also covers "eur/m2" and "€/m2".
var perUnitMarkers = []string{"/m2", "za m2", "za meter"}

// markerRunes is how far past an amount occurrence a per-unit marker is
// still considered to refer to it.
const markerRunes = 30

// ValidateTotalPrice reports whether amount is plausible as a total price
// rather than a per-unit one. It rejects amounts below the configured
// floor (genuine totals in the watched categories are never that low) and
// amounts immediately followed in the text by a per-unit marker. Both
// checks are heuristics; an amount that never appears in the text cannot
// be correlated with a marker and is accepted on the floor check alone.
func (e *Engine) ValidateTotalPrice(amount float64, rawText string, c Criteria) bool {
	if amount < c.minTotalPrice() {
		e.logger.Debug("Price rejected as likely per-unit", "amount", amount, "floor", c.minTotalPrice())
		return false
	}

	normalized := Normalize(rawText)
	for _, form := range amountForms(amount) {
		from := 0
		for {
			i := strings.Index(normalized[from:], form)
			if i < 0 {
				break
			}
			after := from + i + len(form)
			if markerNear(normalized[after:]) {
				e.logger.Debug("Price rejected: per-unit marker near amount", "amount", amount, "form", form)
				return false
			}
			from = after
		}
	}

	return true
}

// amountForms lists the spellings an amount may take in listing text:
// plain, decimal-comma, and space-grouped thousands.
func amountForms(amount float64) []string {
	plain := strconv.FormatFloat(amount, 'f', -1, 64)
	forms := []string{plain}
	if comma := strings.ReplaceAll(plain, ".", ","); comma != plain {
		forms = append(forms, comma)
	}
	if grouped := groupThousands(plain); grouped != plain {
		forms = append(forms, grouped)
	}
	return forms
}

func groupThousands(s string) string {
	intPart, frac, hasFrac := strings.Cut(s, ".")
	if len(intPart) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(intPart[i : i+3])
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}

func markerNear(tail string) bool {
	// Cut to markerRunes runes, on a rune boundary.
	end := 0
	for i := 0; i < markerRunes && end < len(tail); i++ {
		_, size := utf8.DecodeRuneInString(tail[end:])
		end += size
	}
	return containsAny(tail[:end], perUnitMarkers)
}
