package extract

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	boundaryBefore = `(?:^|[^\p{L}\p{N}\p{M}])`
	boundaryAfter  = `(?:$|[^\p{L}\p{N}\p{M}])`
)

type keywordPattern struct {
	canonical string
	re        *regexp.Regexp
}

// Matcher finds dictionary keywords at letter/number boundaries.
type Matcher struct {
	patterns []keywordPattern
}

// NewMatcher compiles keywords. Duplicates (after normalization) keep the first
// spelling as the canonical form.
func NewMatcher(keywords []string) *Matcher {
	m := &Matcher{}
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		canonical := strings.TrimSpace(norm.NFC.String(kw))
		key := matchKey(canonical)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		words := strings.Fields(key)
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		m.patterns = append(m.patterns, keywordPattern{
			canonical: canonical,
			re:        regexp.MustCompile(boundaryBefore + strings.Join(words, `\s+`) + boundaryAfter),
		})
	}
	return m
}

// Len reports the number of distinct keywords.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.patterns)
}

// Match returns the canonical form of every keyword found in text.
func (m *Matcher) Match(text string) []string {
	if m == nil || text == "" {
		return nil
	}
	haystack := matchKey(text)
	var out []string
	for _, p := range m.patterns {
		if p.re.MatchString(haystack) {
			out = append(out, p.canonical)
		}
	}
	return out
}

func matchKey(s string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(s)))
}
