package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/customs-regdocs/internal/crawler"
	"github.com/JakeFAU/customs-regdocs/internal/document"
	"github.com/JakeFAU/customs-regdocs/internal/jobs"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// DocumentDetail is a document with its latest extraction output.
type DocumentDetail struct {
	Document crawler.Document            `json:"document"`
	Items    []crawler.ExtractedDataItem `json:"items"`
	Artifact *crawler.OcrArtifact        `json:"artifact,omitempty"`
}

// DocumentPage is one page of a document listing.
type DocumentPage struct {
	Documents []crawler.Document `json:"documents"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
}

// Documents serves document reads, manual creation and extraction requests.
type Documents struct {
	docs        crawler.DocumentStore
	extractions crawler.ExtractionStore
	executor    jobs.Executor
	clock       crawler.Clock
	logger      *zap.Logger
}

// NewDocuments wires the document service.
func NewDocuments(
	docs crawler.DocumentStore,
	extractions crawler.ExtractionStore,
	executor jobs.Executor,
	clock crawler.Clock,
	logger *zap.Logger,
) *Documents {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Documents{
		docs:        docs,
		extractions: extractions,
		executor:    executor,
		clock:       clock,
		logger:      logger.Named("documents"),
	}
}

// List returns documents newest first. limit defaults to 50 and is capped at 500.
func (s *Documents) List(ctx context.Context, limit, offset int, status string) Result {
	switch {
	case limit < 0:
		return failure(KindInvalid, "invalid limit", nil)
	case limit == 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	if offset < 0 {
		return failure(KindInvalid, "invalid offset", nil)
	}
	st := crawler.DocumentStatus(strings.ToLower(strings.TrimSpace(status)))
	switch st {
	case "", crawler.DocumentStatusPending, crawler.DocumentStatusDownloaded, crawler.DocumentStatusFailed:
	default:
		return failure(KindInvalid, fmt.Sprintf("invalid status %q", status), nil)
	}

	docs, err := s.docs.List(ctx, crawler.ListFilter{Limit: limit, Offset: offset, Status: st})
	if err != nil {
		s.logger.Error("list documents failed", zap.Error(err))
		return failure(KindInternal, "failed to list documents", err)
	}
	if docs == nil {
		docs = []crawler.Document{}
	}
	return ok(fmt.Sprintf("%d documents", len(docs)), DocumentPage{Documents: docs, Limit: limit, Offset: offset})
}

// GetByID returns a document with its extracted items and latest artifact.
func (s *Documents) GetByID(ctx context.Context, id int64) Result {
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return s.lookupFailure(id, err)
	}
	detail := DocumentDetail{Document: doc, Items: []crawler.ExtractedDataItem{}}
	if s.extractions != nil {
		items, err := s.extractions.Items(ctx, id)
		if err != nil {
			s.logger.Error("load extracted items failed", zap.Int64("document_id", id), zap.Error(err))
			return failure(KindInternal, "failed to load extracted data", err)
		}
		if items != nil {
			detail.Items = items
		}
		artifact, err := s.extractions.Artifact(ctx, id)
		switch {
		case err == nil:
			detail.Artifact = &artifact
		case !errors.Is(err, crawler.ErrNotFound):
			s.logger.Error("load artifact failed", zap.Int64("document_id", id), zap.Error(err))
			return failure(KindInternal, "failed to load extraction artifact", err)
		}
	}
	return ok("document found", detail)
}

// Create persists a manually entered document.
func (s *Documents) Create(ctx context.Context, fields crawler.Document) Result {
	doc, err := document.FromFields(fields, s.clock.Now().UTC())
	if err != nil {
		return failure(KindInvalid, "invalid document", err)
	}
	created, err := s.docs.Create(ctx, doc)
	if errors.Is(err, crawler.ErrDuplicate) {
		return failure(KindInvalid, fmt.Sprintf("document %s already exists", doc.DocumentNumber), err)
	}
	if err != nil {
		s.logger.Error("create document failed", zap.String("document_number", doc.DocumentNumber), zap.Error(err))
		return failure(KindInternal, "failed to create document", err)
	}
	s.logger.Info("document created", zap.Int64("document_id", created.ID), zap.String("document_number", created.DocumentNumber))
	return ok("document created", created)
}

// ProcessDocument submits an extraction job for the document's attachment.
func (s *Documents) ProcessDocument(ctx context.Context, id int64) Result {
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return s.lookupFailure(id, err)
	}
	if strings.TrimSpace(doc.FileURL) == "" {
		return failure(KindInvalid, "document has no attachment", nil)
	}
	return s.enqueue(ctx, crawler.JobPayload{DocumentID: doc.ID, AttachmentURL: doc.FileURL})
}

// SubmitText runs extraction over manually supplied text instead of the attachment.
func (s *Documents) SubmitText(ctx context.Context, id int64, text string) Result {
	if strings.TrimSpace(text) == "" {
		return failure(KindInvalid, "text is required", nil)
	}
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return s.lookupFailure(id, err)
	}
	return s.enqueue(ctx, crawler.JobPayload{DocumentID: doc.ID, SuppliedText: text})
}

func (s *Documents) enqueue(ctx context.Context, payload crawler.JobPayload) Result {
	if s.executor == nil {
		return failure(KindUnavailable, "job executor unavailable", nil)
	}
	res, err := s.executor.Enqueue(ctx, payload)
	if err != nil {
		s.logger.Warn("extraction failed",
			zap.Int64("document_id", payload.DocumentID),
			zap.String("mode", s.executor.Mode()),
			zap.Error(err),
		)
		out := failure(KindInternal, "extraction failed", err)
		if res.JobID != "" {
			out.Data = res
		}
		return out
	}
	if res.Status == jobs.StatusQueued {
		return ok("extraction queued", res)
	}
	return ok("extraction completed", res)
}

func (s *Documents) lookupFailure(id int64, err error) Result {
	if errors.Is(err, crawler.ErrNotFound) {
		return failure(KindNotFound, fmt.Sprintf("document %d not found", id), err)
	}
	s.logger.Error("load document failed", zap.Int64("document_id", id), zap.Error(err))
	return failure(KindInternal, "failed to load document", err)
}
