// Package extract mines document text for commodity codes and product names.
package extract

import (
	"regexp"
	"strings"
)

var codePatterns = []*regexp.Regexp{
	// 8517.12.00, 0901.11
	regexp.MustCompile(`\b\d{2,4}(?:\.\d{2,4}){1,3}\b`),
	// 8517-12-00
	regexp.MustCompile(`\b\d{2,4}(?:-\d{2,4}){1,3}\b`),
	// 85171200
	regexp.MustCompile(`\b\d{6,10}\b`),
}

// ExtractCodes returns the distinct commodity codes in text, in first-seen order
// per pattern.
func ExtractCodes(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, re := range codePatterns {
		for _, m := range re.FindAllString(text, -1) {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

// WordCount counts whitespace-separated tokens.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// Confidence scores indicator density as min(1, (codes+products)/max(words,10)).
// It is not a calibrated probability; use it to rank documents against each other.
func Confidence(codes, products, words int) float64 {
	hits := codes + products
	if hits <= 0 {
		return 0
	}
	return min(1, float64(hits)/float64(max(words, 10)))
}
