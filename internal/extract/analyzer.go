package extract

import (
	"context"

	"golang.org/x/text/unicode/norm"

	"github.com/JakeFAU/customs-regdocs/internal/crawler"
)

// MatcherSource supplies the current keyword matcher.
type MatcherSource interface {
	Matcher(ctx context.Context) *Matcher
}

// Analyzer runs the code, product and confidence passes over a text.
type Analyzer struct {
	keywords MatcherSource
}

// NewAnalyzer returns an Analyzer using keywords for product matching.
func NewAnalyzer(keywords MatcherSource) *Analyzer {
	return &Analyzer{keywords: keywords}
}

// Analyze extracts codes and products from text.
func (a *Analyzer) Analyze(ctx context.Context, text string) crawler.Extraction {
	text = norm.NFC.String(text)
	codes := ExtractCodes(text)
	var products []string
	if a.keywords != nil {
		products = a.keywords.Matcher(ctx).Match(text)
	}
	words := WordCount(text)
	return crawler.Extraction{
		Codes:      nonNil(codes),
		Products:   nonNil(products),
		WordCount:  words,
		Confidence: Confidence(len(codes), len(products), words),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
