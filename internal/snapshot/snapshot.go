// Package snapshot produces markdown renderings of registry pages for the fallback parsers.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"github.com/JakeFAU/customs-regdocs/internal/crawler"
)

// ErrEmptySnapshot is returned when a source produced no usable text.
var ErrEmptySnapshot = errors.New("empty snapshot")

// ReaderMirror fetches a text rendering from a reader proxy that accepts the
// target URL appended to its base, e.g. https://r.jina.ai/https://host/page.
type ReaderMirror struct {
	base    string
	fetcher crawler.PageFetcher
}

// NewReaderMirror builds a mirror source rooted at base.
func NewReaderMirror(base string, fetcher crawler.PageFetcher) *ReaderMirror {
	return &ReaderMirror{base: base, fetcher: fetcher}
}

// Snapshot fetches the mirrored rendering of pageURL.
func (m *ReaderMirror) Snapshot(ctx context.Context, pageURL string) ([]byte, error) {
	body, err := m.fetcher.FetchPage(ctx, m.URL(pageURL))
	if err != nil {
		return nil, fmt.Errorf("fetch reader mirror: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, ErrEmptySnapshot
	}
	return body, nil
}

// URL returns the mirror address for pageURL.
func (m *ReaderMirror) URL(pageURL string) string {
	if strings.HasSuffix(m.base, "/") {
		return m.base + pageURL
	}
	return m.base + "/" + pageURL
}

// LocalRenderer converts the page HTML to markdown in-process.
type LocalRenderer struct {
	fetcher   crawler.PageFetcher
	converter *converter.Converter
}

// NewLocalRenderer builds a renderer with table support so listing rows survive as pipe tables.
func NewLocalRenderer(fetcher crawler.PageFetcher) *LocalRenderer {
	return &LocalRenderer{
		fetcher: fetcher,
		converter: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Snapshot fetches pageURL and renders it.
func (r *LocalRenderer) Snapshot(ctx context.Context, pageURL string) ([]byte, error) {
	body, err := r.fetcher.FetchPage(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("fetch page for local render: %w", err)
	}
	md, err := r.Render(string(body), pageURL)
	if err != nil {
		return nil, err
	}
	return []byte(md), nil
}

// Render converts html to markdown, resolving links against pageURL.
func (r *LocalRenderer) Render(html, pageURL string) (string, error) {
	md, err := r.converter.ConvertString(html, converter.WithDomain(pageURL))
	if err != nil {
		return "", fmt.Errorf("convert html to markdown: %w", err)
	}
	if strings.TrimSpace(md) == "" {
		return "", ErrEmptySnapshot
	}
	return md, nil
}

// Chain tries each source in order and returns the first non-empty snapshot.
type Chain []crawler.SnapshotSource

// Snapshot implements crawler.SnapshotSource.
func (c Chain) Snapshot(ctx context.Context, pageURL string) ([]byte, error) {
	if len(c) == 0 {
		return nil, ErrEmptySnapshot
	}
	var errs []error
	for _, src := range c {
		body, err := src.Snapshot(ctx, pageURL)
		if err == nil {
			return body, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}
