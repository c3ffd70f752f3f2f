// Package ingest loads service points, street networks and population grids
// from their source formats into the domain types, and writes results back
// out. Loaders skip malformed rows with a debug log and never leak encoder
// types.
package ingest

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName canonicalizes a point name or id for matching: diacritics
// folded away, case lowered, runs of whitespace collapsed to single spaces.
func NormalizeName(s string) string {
	folded, _, err := transform.String(transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	), s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
