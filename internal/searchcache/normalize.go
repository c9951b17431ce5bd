package searchcache

import "strings"

// Normalize maps raw query text to its cache key: surrounding whitespace is
// stripped and the text is lower-cased. Nothing else: no stemming, no
// stop-word removal, no unicode folding beyond case. Length limits documented
// in the tool schema are advisory; over-long input passes through unchanged.
func Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
