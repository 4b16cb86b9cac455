package shared

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FoldSearch lowercases s and strips diacritics so "Éric" matches "eric".
func FoldSearch(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.Join(strings.Fields(folded), " "))
}

// SearchKey folds and joins the searchable fields of a record.
func SearchKey(fields ...string) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = FoldSearch(f); f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, " ")
}

// LikePattern builds a LIKE pattern for a folded term, escaping wildcards.
func LikePattern(term string) string {
	term = FoldSearch(term)
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(term) + "%"
}
