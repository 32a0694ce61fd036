package storage

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldText lowercases s, strips diacritics and collapses everything that is
// not a letter or digit into single spaces, so "Café-Tour" matches "cafe tour".
func foldText(s string) string {
	stripped, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		stripped = s
	}
	folded := cases.Fold().String(stripped)
	return strings.Join(strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}), " ")
}

// searchTerms splits a query into folded terms.
func searchTerms(query string) []string {
	return strings.Fields(foldText(query))
}

// matchesAllTerms reports whether every term occurs in one of the fields.
func matchesAllTerms(terms []string, fields ...string) bool {
	if len(terms) == 0 {
		return true
	}
	haystack := " " + foldText(strings.Join(fields, " ")) + " "
	for _, term := range terms {
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}
