package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/JakeFAU/customs-regdocs/internal/labels"
	"github.com/JakeFAU/customs-regdocs/internal/metrics"
)

// DefaultAttachmentLabels are the phrases marking the attachment link on detail pages.
var DefaultAttachmentLabels = []string{"Tải về", "File đính kèm", "Tệp đính kèm"}

// DetailExtractor reads labeled metadata and the attachment link from detail pages.
type DetailExtractor struct {
	pages            PageFetcher
	snapshots        SnapshotSource
	labels           LabelLookup
	attachmentLabels []string
	mirrorBase       string
	logger           *zap.Logger
}

// NewDetailExtractor builds an extractor. snapshots may be nil to disable the
// markdown fallback.
func NewDetailExtractor(pages PageFetcher, snapshots SnapshotSource, lookup LabelLookup, attachmentLabels []string, mirrorBase string, logger *zap.Logger) *DetailExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(attachmentLabels) == 0 {
		attachmentLabels = DefaultAttachmentLabels
	}
	phrases := make([]string, 0, len(attachmentLabels))
	for _, l := range attachmentLabels {
		if l = cleanText(l); l != "" {
			phrases = append(phrases, l)
		}
	}
	return &DetailExtractor{
		pages:            pages,
		snapshots:        snapshots,
		labels:           lookup,
		attachmentLabels: phrases,
		mirrorBase:       mirrorBase,
		logger:           logger.Named("detail"),
	}
}

// Extract resolves the detail record for a listing entry. ok is false when the
// record has no attachment URL and should be skipped. An error is returned only when
// neither the page nor its snapshot could be retrieved.
func (e *DetailExtractor) Extract(ctx context.Context, entry ListingEntry) (DetailRecord, bool, error) {
	pageURL, err := url.Parse(entry.DetailURL)
	if err != nil || pageURL.Host == "" {
		metrics.IncDocument("invalid_url")
		return DetailRecord{}, false, fmt.Errorf("parse detail url %q: invalid", entry.DetailURL)
	}

	var (
		record   DetailRecord
		matched  bool
		fetchErr error
	)
	body, err := e.pages.FetchPage(ctx, entry.DetailURL)
	if err != nil {
		fetchErr = err
		e.logger.Warn("detail page fetch failed", zap.String("url", entry.DetailURL), zap.Error(err))
	} else {
		record, matched, err = e.parseHTML(body, pageURL)
		if err != nil {
			e.logger.Warn("detail html parse failed", zap.String("url", entry.DetailURL), zap.Error(err))
		}
	}

	if !matched && e.snapshots != nil && ctx.Err() == nil {
		md, err := e.snapshots.Snapshot(ctx, entry.DetailURL)
		switch {
		case err != nil:
			e.logger.Warn("detail snapshot failed", zap.String("url", entry.DetailURL), zap.Error(err))
			if fetchErr != nil {
				return DetailRecord{}, false, fmt.Errorf("fetch detail %s: %w", entry.DetailURL, errors.Join(fetchErr, err))
			}
		default:
			fetchErr = nil
			if mdRecord, mdMatched := e.parseMarkdown(md, pageURL); mdMatched || mdRecord.FileURL != "" {
				record = mdRecord
			}
		}
	}
	if fetchErr != nil {
		return DetailRecord{}, false, fmt.Errorf("fetch detail %s: %w", entry.DetailURL, fetchErr)
	}

	record = record.MergeListing(entry)
	if record.FileURL == "" {
		metrics.IncDocument("no_attachment")
		e.logger.Info("detail has no attachment, skipping",
			zap.String("document_number", record.DocumentNumber),
			zap.String("url", entry.DetailURL),
		)
		return record, false, nil
	}
	return record, true, nil
}

// parseHTML reads label/value cells: every cell that maps to a known label takes the
// next cell as its value, so leading index cells or odd cell counts don't shift the
// pairs. matched reports whether any label or the attachment was found.
func (e *DetailExtractor) parseHTML(body []byte, pageURL *url.URL) (DetailRecord, bool, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return DetailRecord{}, false, fmt.Errorf("parse detail html: %w", err)
	}

	var (
		record DetailRecord
		fields int
	)
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td, th")
		for i := 0; i+1 < cells.Length(); i++ {
			field, ok := e.labels.Lookup(cleanText(cells.Eq(i).Text()))
			if !ok {
				continue
			}
			if setField(&record, field, cleanText(cells.Eq(i+1).Text())) {
				fields++
			}
			i++
		}
	})

	if href, text, ok := e.htmlAttachment(doc); ok {
		if link, ok := resolveLink(pageURL, href); ok {
			record.FileURL = link.String()
			record.FileName = e.fileName(text, link)
		}
	}
	return record, fields > 0 || record.FileURL != "", nil
}

// htmlAttachment looks for the attachment link in rows mentioning an attachment
// phrase, then in anchors carrying the phrase, then in list items and blocks.
func (e *DetailExtractor) htmlAttachment(doc *goquery.Document) (string, string, bool) {
	var href, text string
	found := false

	doc.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		if !e.hasPhrase(row.Text()) {
			return true
		}
		href, text, found = firstAnchor(row)
		return !found
	})
	if found {
		return href, text, true
	}

	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if !e.hasPhrase(a.Text()) && !e.hasPhrase(a.AttrOr("title", "")) {
			return true
		}
		if h := strings.TrimSpace(a.AttrOr("href", "")); h != "" {
			href, text, found = h, a.Text(), true
		}
		return !found
	})
	if found {
		return href, text, true
	}

	// Innermost containers come last in document order.
	blocks := doc.Find("li, p, div")
	for i := blocks.Length() - 1; i >= 0; i-- {
		block := blocks.Eq(i)
		if !e.hasPhrase(block.Text()) {
			continue
		}
		if href, text, found = firstAnchor(block); found {
			return href, text, true
		}
	}
	return "", "", false
}

func firstAnchor(sel *goquery.Selection) (string, string, bool) {
	a := sel.Find("a[href]").First()
	href := strings.TrimSpace(a.AttrOr("href", ""))
	if href == "" {
		return "", "", false
	}
	return href, a.Text(), true
}

func (e *DetailExtractor) hasPhrase(s string) bool {
	s = strings.ToLower(cleanText(s))
	for _, phrase := range e.attachmentLabels {
		if strings.Contains(s, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

// fileName prefers the anchor text unless it is just the attachment phrase.
func (e *DetailExtractor) fileName(anchorText string, link *url.URL) string {
	name := markdownText(anchorText)
	if name == "" || e.hasPhrase(name) {
		return fileNameFromURL(link)
	}
	return name
}

// parseMarkdown applies per-label patterns to a snapshot.
func (e *DetailExtractor) parseMarkdown(body []byte, pageURL *url.URL) (DetailRecord, bool) {
	md := norm.NFC.String(strings.ReplaceAll(string(body), "\u00a0", " "))

	var (
		record DetailRecord
		fields int
	)
	for _, label := range e.labels.RawLabels() {
		field, ok := e.labels.Lookup(label)
		if !ok {
			continue
		}
		m := labelPattern(label).FindStringSubmatch(md)
		if m == nil {
			continue
		}
		if setField(&record, field, markdownText(m[1])) {
			fields++
		}
	}

	if href, text, ok := e.markdownAttachment(md); ok {
		if link, ok := resolveLink(pageURL, stripMirror(e.mirrorBase, href)); ok {
			record.FileURL = link.String()
			record.FileName = e.fileName(text, link)
		}
	}
	return record, fields > 0
}

// labelPattern matches "Label: value", "| Label | value |" and their emphasized forms.
func labelPattern(label string) *regexp.Regexp {
	quoted := strings.Join(strings.Fields(regexp.QuoteMeta(norm.NFC.String(strings.TrimSpace(label)))), `\s+`)
	return regexp.MustCompile(`(?im)(?:^|\|)[ \t*_>#-]*` + quoted + `[ \t*_]*(?:[:：][ \t*_]*\|?|\|)[ \t]*([^|\n]+)`)
}

// markdownAttachment prefers a link whose text carries the attachment phrase, then
// the first link after the phrase.
func (e *DetailExtractor) markdownAttachment(md string) (string, string, bool) {
	for _, link := range markdownLinks(md) {
		if e.hasPhrase(link.text) {
			return link.href, link.text, true
		}
	}
	for _, phrase := range e.attachmentLabels {
		re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(phrase))
		loc := re.FindStringIndex(md)
		if loc == nil {
			continue
		}
		if links := markdownLinks(md[loc[1]:]); len(links) > 0 {
			return links[0].href, links[0].text, true
		}
	}
	return "", "", false
}

// setField stores value under field unless it is blank or already set.
func setField(r *DetailRecord, field, value string) bool {
	if value == "" {
		return false
	}
	var target *string
	switch field {
	case labels.FieldDocumentNumber:
		target = &r.DocumentNumber
	case labels.FieldDocumentType:
		target = &r.DocumentType
	case labels.FieldIssuingAgency:
		target = &r.IssuingAgency
	case labels.FieldIssueDate:
		target = &r.IssueDate
	case labels.FieldSigner:
		target = &r.Signer
	case labels.FieldTitle:
		target = &r.Title
	case labels.FieldSummary:
		target = &r.Summary
	case labels.FieldEffectiveDate:
		target = &r.EffectiveDate
	default:
		return false
	}
	if *target != "" {
		return false
	}
	*target = value
	return true
}
