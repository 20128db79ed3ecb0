package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/customs-regdocs/internal/crawler"
)

var errMissingNumber = errors.New("document number is required")

// ExtractionStore holds the latest extraction run per document.
type ExtractionStore struct {
	mu        sync.RWMutex
	nextID    int64
	items     map[int64][]crawler.ExtractedDataItem
	artifacts map[int64]crawler.OcrArtifact
	stats     map[int64]crawler.OcrStatistics
	now       func() time.Time
}

// NewExtractionStore constructs an empty ExtractionStore.
func NewExtractionStore() *ExtractionStore {
	return &ExtractionStore{
		items:     make(map[int64][]crawler.ExtractedDataItem),
		artifacts: make(map[int64]crawler.OcrArtifact),
		stats:     make(map[int64]crawler.OcrStatistics),
		now:       time.Now,
	}
}

// Replace drops every prior item and artifact of the document and stores run.
func (s *ExtractionStore) Replace(_ context.Context, run crawler.ExtractionRun) error {
	if run.DocumentID <= 0 {
		return errors.New("document id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()

	items := make([]crawler.ExtractedDataItem, 0, len(run.Items))
	for _, it := range run.Items {
		s.nextID++
		it.ID = s.nextID
		it.DocumentID = run.DocumentID
		if it.CreatedAt.IsZero() {
			it.CreatedAt = now
		}
		items = append(items, it)
	}
	s.items[run.DocumentID] = items

	art := run.Artifact
	art.DocumentID = run.DocumentID
	art.HSCodes = append([]string{}, art.HSCodes...)
	art.ProductNames = append([]string{}, art.ProductNames...)
	if art.CreatedAt.IsZero() {
		art.CreatedAt = now
	}
	s.artifacts[run.DocumentID] = art

	st := run.Statistics
	st.DocumentID = run.DocumentID
	st.UpdatedAt = now
	s.stats[run.DocumentID] = st
	return nil
}

// Items returns the extracted values of a document.
func (s *ExtractionStore) Items(_ context.Context, documentID int64) ([]crawler.ExtractedDataItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.ExtractedDataItem{}, s.items[documentID]...), nil
}

// Artifact returns the latest raw text artifact of a document.
func (s *ExtractionStore) Artifact(_ context.Context, documentID int64) (crawler.OcrArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	art, ok := s.artifacts[documentID]
	if !ok {
		return crawler.OcrArtifact{}, crawler.ErrNotFound
	}
	return art, nil
}

// Statistics returns the aggregate of the latest run.
func (s *ExtractionStore) Statistics(_ context.Context, documentID int64) (crawler.OcrStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stats[documentID]
	if !ok {
		return crawler.OcrStatistics{}, crawler.ErrNotFound
	}
	return st, nil
}
