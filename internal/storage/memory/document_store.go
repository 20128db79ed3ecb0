package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/customs-regdocs/internal/crawler"
)

// DocumentStore keeps documents unique by document number.
type DocumentStore struct {
	mu       sync.RWMutex
	nextID   int64
	docs     map[int64]crawler.Document
	byNumber map[string]int64
	now      func() time.Time
}

// NewDocumentStore constructs an empty DocumentStore.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		docs:     make(map[int64]crawler.Document),
		byNumber: make(map[string]int64),
		now:      time.Now,
	}
}

// Upsert inserts doc or refreshes the crawled metadata of the existing row with the
// same document number. Status, processed status, notes and tags of an existing
// row are kept.
func (s *DocumentStore) Upsert(_ context.Context, doc crawler.Document) (crawler.Document, error) {
	key := numberKey(doc.DocumentNumber)
	if key == "" {
		return crawler.Document{}, errMissingNumber
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	id, ok := s.byNumber[key]
	if !ok {
		return s.insertLocked(doc, now), nil
	}
	cur := s.docs[id]
	cur.CustomsDocID = doc.CustomsDocID
	cur.Title = doc.Title
	cur.DocumentType = doc.DocumentType
	cur.IssuingAgency = doc.IssuingAgency
	cur.IssueDate = doc.IssueDate
	cur.Signer = doc.Signer
	cur.FileURL = doc.FileURL
	cur.FileName = doc.FileName
	cur.Summary = doc.Summary
	cur.DetailURL = doc.DetailURL
	cur.UpdatedAt = now
	s.docs[id] = cur
	return clone(cur), nil
}

// Create inserts doc and fails with crawler.ErrDuplicate when the number exists.
func (s *DocumentStore) Create(_ context.Context, doc crawler.Document) (crawler.Document, error) {
	key := numberKey(doc.DocumentNumber)
	if key == "" {
		return crawler.Document{}, errMissingNumber
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byNumber[key]; ok {
		return crawler.Document{}, crawler.ErrDuplicate
	}
	return s.insertLocked(doc, s.now().UTC()), nil
}

func (s *DocumentStore) insertLocked(doc crawler.Document, now time.Time) crawler.Document {
	s.nextID++
	doc.ID = s.nextID
	doc.DocumentNumber = strings.TrimSpace(doc.DocumentNumber)
	if doc.Status == "" {
		doc.Status = crawler.DocumentStatusPending
	}
	if doc.ProcessedStatus == "" {
		doc.ProcessedStatus = crawler.ProcessedStatusNew
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	doc.CreatedAt = now
	doc.UpdatedAt = now
	s.docs[doc.ID] = clone(doc)
	s.byNumber[numberKey(doc.DocumentNumber)] = doc.ID
	return clone(doc)
}

// GetByID returns the document with id.
func (s *DocumentStore) GetByID(_ context.Context, id int64) (crawler.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return crawler.Document{}, crawler.ErrNotFound
	}
	return clone(doc), nil
}

// List returns documents newest first.
func (s *DocumentStore) List(_ context.Context, filter crawler.ListFilter) ([]crawler.Document, error) {
	s.mu.RLock()
	out := make([]crawler.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		out = append(out, clone(doc))
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b crawler.Document) int { return int(b.ID - a.ID) })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []crawler.Document{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// UpdateStatus sets the document status. An empty processed status is left unchanged.
func (s *DocumentStore) UpdateStatus(
	_ context.Context,
	id int64,
	status crawler.DocumentStatus,
	processed crawler.ProcessedStatus,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return crawler.ErrNotFound
	}
	doc.Status = status
	if processed != "" {
		doc.ProcessedStatus = processed
	}
	doc.UpdatedAt = s.now().UTC()
	s.docs[id] = doc
	return nil
}

func numberKey(number string) string {
	return strings.ToLower(strings.TrimSpace(number))
}

func clone(doc crawler.Document) crawler.Document {
	doc.Tags = append([]string{}, doc.Tags...)
	return doc
}
