package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// minListingCells is the column count of a listing row:
// number/link, issuing agency, issue date, title/link.
const minListingCells = 4

// ListingParser turns a listing page body into entries with absolute detail URLs.
type ListingParser interface {
	ParseListing(body []byte, pageURL *url.URL) ([]ListingEntry, error)
}

// HTMLListingParser reads listing rows from HTML tables.
type HTMLListingParser struct{}

// ParseListing implements ListingParser.
func (HTMLListingParser) ParseListing(body []byte, pageURL *url.URL) ([]ListingEntry, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}

	var entries []ListingEntry
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td")
		if cells.Length() < minListingCells {
			return
		}
		href, ok := anchorHref(cells.First())
		if !ok {
			href, ok = anchorHref(cells.Last())
		}
		if !ok {
			return
		}
		link, ok := resolveLink(pageURL, href)
		if !ok {
			return
		}
		entry := ListingEntry{
			DocumentNumber: cleanText(cells.Eq(0).Text()),
			IssuingAgency:  cleanText(cells.Eq(1).Text()),
			IssueDate:      cleanText(cells.Eq(2).Text()),
			Title:          cleanText(cells.Eq(3).Text()),
			DetailURL:      link.String(),
		}
		if entry.DocumentNumber == "" {
			return
		}
		entries = append(entries, entry)
	})
	return entries, nil
}

func anchorHref(sel *goquery.Selection) (string, bool) {
	href, ok := sel.Find("a[href]").First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return "", false
	}
	return href, true
}

// MarkdownListingParser reads listing rows from a pipe-table snapshot.
// Links pointing back at the registry are re-stamped with the required query
// parameters, which reader snapshots tend to drop.
type MarkdownListingParser struct {
	RequiredParams url.Values
	// MirrorBase is stripped from links that the reader rewrote to point at itself.
	MirrorBase string
}

// ParseListing implements ListingParser.
func (p MarkdownListingParser) ParseListing(body []byte, pageURL *url.URL) ([]ListingEntry, error) {
	var entries []ListingEntry
	for _, line := range strings.Split(cleanLines(string(body)), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "|") {
			continue
		}
		cells := splitMarkdownRow(line)
		if len(cells) < minListingCells || isSeparatorRow(cells) {
			continue
		}
		links := markdownLinks(cells[0])
		if len(links) == 0 {
			links = markdownLinks(cells[len(cells)-1])
		}
		if len(links) == 0 {
			continue
		}
		link, ok := p.restamp(pageURL, links[0].href)
		if !ok {
			continue
		}
		entry := ListingEntry{
			DocumentNumber: markdownText(cells[0]),
			IssuingAgency:  markdownText(cells[1]),
			IssueDate:      markdownText(cells[2]),
			Title:          markdownText(cells[3]),
			DetailURL:      link,
		}
		if entry.DocumentNumber == "" {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (p MarkdownListingParser) restamp(pageURL *url.URL, href string) (string, bool) {
	u, ok := resolveLink(pageURL, stripMirror(p.MirrorBase, href))
	if !ok {
		return "", false
	}
	if pageURL != nil && strings.EqualFold(u.Host, pageURL.Host) && len(p.RequiredParams) > 0 {
		q := u.Query()
		for key, values := range p.RequiredParams {
			if q.Get(key) == "" {
				q[key] = append([]string(nil), values...)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), true
}

func cleanLines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
