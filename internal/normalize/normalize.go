// Package normalize cleans and tokenizes merchant names and bank
// descriptions for comparison. Pure functions: same input, same output.
package normalize

import (
	"regexp"
	"strings"
)

var (
	// Point-of-sale processor prefixes that carry no merchant identity,
	// e.g. "TST* BACON BACON", "SQ *COFFEE CART", "PAYPAL *VENDOR".
	noisePrefixRe = regexp.MustCompile(`^(TST|SQ|PY|PP|PAYPAL|IN|SP)\s*\*\s*`)

	// Trailing card fragments and reference numbers, e.g. "DELTA 0061234".
	trailingDigitsRe = regexp.MustCompile(`\s+\d{4,}$`)

	nonAlnumRe = regexp.MustCompile(`[^A-Z0-9 ]+`)
	spacesRe   = regexp.MustCompile(`\s+`)
)

// Clean uppercases text and strips processor prefixes, trailing card
// fragments, trailing city/state suffixes ("... - SAN FRANCISCO"), and
// punctuation, collapsing whitespace.
func Clean(text string) string {
	s := strings.ToUpper(strings.TrimSpace(text))
	s = noisePrefixRe.ReplaceAllString(s, "")

	// Bank descriptors append the city/state after a dash; the merchant
	// identity is on the left.
	if idx := strings.LastIndex(s, " - "); idx > 0 {
		s = s[:idx]
	}

	s = trailingDigitsRe.ReplaceAllString(s, "")
	s = nonAlnumRe.ReplaceAllString(s, " ")
	s = spacesRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Tokens returns the whitespace-delimited tokens of the cleaned text.
func Tokens(text string) []string {
	s := Clean(text)
	if s == "" {
		return nil
	}
	return strings.Split(s, " ")
}

// SignificantWords returns the set of tokens of at least minLength
// characters. These are the unit of fuzzy merchant comparison: short
// tokens ("THE", "LLC", "INC") match everything and identify nothing.
func SignificantWords(text string, minLength int) map[string]struct{} {
	words := make(map[string]struct{})
	for _, tok := range Tokens(text) {
		if len(tok) >= minLength {
			words[tok] = struct{}{}
		}
	}
	return words
}

// ContainsAnyWord reports whether the cleaned text contains any of the
// given words. Substring containment, not token equality: abbreviated bank
// descriptors run words together ("SOUTHWES0612345").
func ContainsAnyWord(text string, words map[string]struct{}) bool {
	if len(words) == 0 {
		return false
	}
	s := Clean(text)
	if s == "" {
		return false
	}
	for w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
