package cag

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize canonicalizes a query for cache identity: lowercase, collapsed
// whitespace, trailing punctuation stripped, diacritics folded. Two queries
// normalizing to the same string share one cache entry.
func Normalize(query string) string {
	s := strings.ToLower(query)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	return foldDiacritics(s)
}

// QueryID derives the cache key for a normalized query.
func QueryID(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// foldDiacritics strips combining marks, so "résumé" and "resume" collide.
// The transformer chain is stateful and built per call.
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}
