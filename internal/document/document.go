// Package document turns crawled listing and detail records into persisted documents.
package document

import (
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/customs-regdocs/internal/crawler"
)

const maxExternalIDLen = 64

var (
	digitsRe   = regexp.MustCompile(`^\d+$`)
	unsafeIDRe = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
	dashRunRe  = regexp.MustCompile(`-{2,}`)
)

// DeriveExternalID picks a stable registry identifier for a document: the detail
// URL's id query parameter, else its last all-digit path segment, else the sanitized
// fallback, else a timestamp.
func DeriveExternalID(detailURL, fallback string, now time.Time) string {
	if u, err := url.Parse(strings.TrimSpace(detailURL)); err == nil && detailURL != "" {
		if id := strings.TrimSpace(u.Query().Get("id")); id != "" {
			return id
		}
		segments := strings.Split(strings.Trim(path.Clean(u.Path), "/"), "/")
		for i := len(segments) - 1; i >= 0; i-- {
			seg := segments[i]
			if ext := path.Ext(seg); ext != "" && digitsRe.MatchString(strings.TrimSuffix(seg, ext)) {
				seg = strings.TrimSuffix(seg, ext)
			}
			if digitsRe.MatchString(seg) {
				return seg
			}
		}
	}

	id := dashRunRe.ReplaceAllString(unsafeIDRe.ReplaceAllString(fallback, "-"), "-")
	id = strings.Trim(id, "-")
	if len(id) > maxExternalIDLen {
		id = strings.TrimRight(id[:maxExternalIDLen], "-")
	}
	if id != "" {
		return id
	}
	return "ts-" + strconv.FormatInt(now.UnixMilli(), 10)
}

// FromDetail builds the upsert payload for a resolved detail record. New documents
// start pending and unprocessed; stores keep the existing workflow state on update.
func FromDetail(record crawler.DetailRecord, entry crawler.ListingEntry, now time.Time) crawler.Document {
	record = record.MergeListing(entry)
	return crawler.Document{
		CustomsDocID:    DeriveExternalID(entry.DetailURL, record.DocumentNumber, now),
		DocumentNumber:  record.DocumentNumber,
		Title:           record.Title,
		DocumentType:    record.DocumentType,
		IssuingAgency:   record.IssuingAgency,
		IssueDate:       record.IssueDate,
		Signer:          record.Signer,
		FileURL:         record.FileURL,
		FileName:        record.FileName,
		Summary:         record.Summary,
		DetailURL:       entry.DetailURL,
		Status:          crawler.DocumentStatusPending,
		ProcessedStatus: crawler.ProcessedStatusNew,
		Tags:            []string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// FromFields builds a manually created document. The document number is required.
func FromFields(doc crawler.Document, now time.Time) (crawler.Document, error) {
	doc.DocumentNumber = strings.TrimSpace(doc.DocumentNumber)
	if doc.DocumentNumber == "" {
		return crawler.Document{}, ErrMissingNumber
	}
	if doc.CustomsDocID == "" {
		doc.CustomsDocID = DeriveExternalID(doc.DetailURL, doc.DocumentNumber, now)
	}
	if doc.Status == "" {
		doc.Status = crawler.DocumentStatusPending
	}
	if doc.ProcessedStatus == "" {
		doc.ProcessedStatus = crawler.ProcessedStatusNew
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	doc.CreatedAt, doc.UpdatedAt = now, now
	return doc, nil
}
