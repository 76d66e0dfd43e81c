package filter

import "strings"

// Match evaluates keyword criteria over normalized text using substring
// containment. Substring (not token-boundary) matching is deliberate: it
// tolerates Slovak inflected and compound forms ("pozemok", "pozemkom",
// "stavebny pozemok"), at the cost of incidental collisions with longer
// unrelated words.
//
// Semantics: any excluded keyword present fails; a non-empty requiredAll
// with any member absent fails; a non-empty requiredAny with no member
// present fails. Empty sets are vacuously satisfied.
func Match(text string, requiredAll, requiredAny, excluded []string) bool {
	normalized := Normalize(text)

	for _, kw := range excluded {
		if kw == "" {
			continue
		}
		if strings.Contains(normalized, Normalize(kw)) {
			return false
		}
	}

	for _, kw := range requiredAll {
		if !strings.Contains(normalized, Normalize(kw)) {
			return false
		}
	}

	if len(requiredAny) > 0 {
		found := false
		for _, kw := range requiredAny {
			if strings.Contains(normalized, Normalize(kw)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// containsAny reports whether already-normalized text contains any of the
// given already-normalized terms.
func containsAny(normalized string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(normalized, t) {
			return true
		}
	}
	return false
}
