package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/customs-regdocs/internal/crawler"
	"github.com/JakeFAU/customs-regdocs/internal/pdftext"
	"github.com/JakeFAU/customs-regdocs/internal/telemetry"
)

const tracerName = "github.com/JakeFAU/customs-regdocs/internal/jobs"

// Runner executes the extraction procedure for one payload.
type Runner interface {
	Process(ctx context.Context, payload crawler.JobPayload) (ProcessResult, error)
}

// TextSource turns an attachment into normalized text.
type TextSource interface {
	Text(ctx context.Context, att pdftext.Attachment) (pdftext.Result, error)
}

// Analyzer mines codes and product names from text.
type Analyzer interface {
	Analyze(ctx context.Context, text string) crawler.Extraction
}

// ProcessResult summarizes one extraction run.
type ProcessResult struct {
	DocumentID int64                  `json:"document_id"`
	Status     crawler.DocumentStatus `json:"status"`
	Codes      []string               `json:"codes"`
	Products   []string               `json:"products"`
	Confidence float64                `json:"confidence"`
	WordCount  int                    `json:"word_count"`
	TextLength int                    `json:"text_length"`
	Pages      int                    `json:"pages,omitempty"`
	ArchiveURI string                 `json:"archive_uri,omitempty"`
	Duration   time.Duration          `json:"duration"`
}

// ProcessorConfig tunes archiving.
type ProcessorConfig struct {
	ArchivePrefix string
	ContentType   string
}

// Processor is the idempotent per-document extraction procedure.
type Processor struct {
	docs        crawler.DocumentStore
	extractions crawler.ExtractionStore
	text        TextSource
	analyzer    Analyzer
	blobs       crawler.BlobStore
	hasher      crawler.Hasher
	clock       crawler.Clock
	cfg         ProcessorConfig
	logger      *zap.Logger
}

// NewProcessor wires a Processor. blobs and hasher may be nil to skip archiving.
func NewProcessor(
	docs crawler.DocumentStore,
	extractions crawler.ExtractionStore,
	text TextSource,
	analyzer Analyzer,
	blobs crawler.BlobStore,
	hasher crawler.Hasher,
	clock crawler.Clock,
	cfg ProcessorConfig,
	logger *zap.Logger,
) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/pdf"
	}
	return &Processor{
		docs:        docs,
		extractions: extractions,
		text:        text,
		analyzer:    analyzer,
		blobs:       blobs,
		hasher:      hasher,
		clock:       clock,
		cfg:         cfg,
		logger:      logger.Named("processor"),
	}
}

// Process extracts text, mines it and replaces the document's extraction output.
// A failed extraction still replaces prior output with an empty run and marks the
// document failed; store errors are returned without touching the document.
func (p *Processor) Process(ctx context.Context, payload crawler.JobPayload) (ProcessResult, error) {
	ctx, span := telemetry.Start(ctx, tracerName, "process_document",
		attribute.Int64("document_id", payload.DocumentID),
		attribute.String("job_id", payload.JobID),
		attribute.Bool("supplied_text", payload.SuppliedText != ""),
	)
	res, err := p.process(ctx, payload)
	span.SetAttributes(attribute.Int("codes", len(res.Codes)), attribute.Int("products", len(res.Products)))
	telemetry.End(span, err)
	return res, err
}

func (p *Processor) process(ctx context.Context, payload crawler.JobPayload) (ProcessResult, error) {
	start := p.clock.Now()
	doc, err := p.docs.GetByID(ctx, payload.DocumentID)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("load document %d: %w", payload.DocumentID, err)
	}
	att := pdftext.Attachment{
		URL:          firstNonEmpty(payload.AttachmentURL, doc.FileURL),
		SuppliedText: payload.SuppliedText,
	}

	text, err := p.text.Text(ctx, att)
	if err != nil {
		return p.recordFailure(ctx, doc, start, err)
	}
	ex := p.analyzer.Analyze(ctx, text.Text)
	result := ProcessResult{
		DocumentID: doc.ID,
		Status:     crawler.DocumentStatusDownloaded,
		Codes:      ex.Codes,
		Products:   ex.Products,
		Confidence: ex.Confidence,
		WordCount:  ex.WordCount,
		TextLength: len([]rune(text.Text)),
		Pages:      text.Pages,
	}
	result.ArchiveURI = p.archive(ctx, doc, text.Raw)
	result.Duration = p.clock.Now().Sub(start)

	run := crawler.ExtractionRun{
		DocumentID: doc.ID,
		Items:      items(doc.ID, ex),
		Artifact: crawler.OcrArtifact{
			RawText:      text.Text,
			HSCodes:      ex.Codes,
			ProductNames: ex.Products,
			TextLength:   result.TextLength,
			WordCount:    ex.WordCount,
			ProcessingMs: result.Duration.Milliseconds(),
			ArchiveURI:   result.ArchiveURI,
		},
		Statistics: crawler.OcrStatistics{
			Succeeded:      1,
			UniqueCodes:    len(ex.Codes),
			UniqueProducts: len(ex.Products),
		},
	}
	if err := p.extractions.Replace(ctx, run); err != nil {
		return ProcessResult{}, fmt.Errorf("store extraction: %w", err)
	}
	if err := p.docs.UpdateStatus(ctx, doc.ID, crawler.DocumentStatusDownloaded, crawler.ProcessedStatusProcessed); err != nil {
		return ProcessResult{}, fmt.Errorf("update document status: %w", err)
	}
	p.logger.Info("document processed",
		zap.Int64("document_id", doc.ID),
		zap.Int("codes", len(ex.Codes)),
		zap.Int("products", len(ex.Products)),
		zap.Float64("confidence", ex.Confidence),
		zap.Bool("supplied_text", text.Supplied),
	)
	return result, nil
}

func (p *Processor) recordFailure(
	ctx context.Context,
	doc crawler.Document,
	start time.Time,
	cause error,
) (ProcessResult, error) {
	elapsed := p.clock.Now().Sub(start)
	p.logger.Warn("attachment extraction failed",
		zap.Int64("document_id", doc.ID),
		zap.String("file_url", doc.FileURL),
		zap.Error(cause),
	)
	run := crawler.ExtractionRun{
		DocumentID: doc.ID,
		Artifact:   crawler.OcrArtifact{ProcessingMs: elapsed.Milliseconds()},
		Statistics: crawler.OcrStatistics{Failed: 1},
	}
	err := fmt.Errorf("extract text for document %d: %w", doc.ID, cause)
	if rErr := p.extractions.Replace(ctx, run); rErr != nil {
		return ProcessResult{}, errors.Join(err, fmt.Errorf("store failed run: %w", rErr))
	}
	if uErr := p.docs.UpdateStatus(ctx, doc.ID, crawler.DocumentStatusFailed, ""); uErr != nil {
		return ProcessResult{}, errors.Join(err, fmt.Errorf("update document status: %w", uErr))
	}
	return ProcessResult{DocumentID: doc.ID, Status: crawler.DocumentStatusFailed, Duration: elapsed}, err
}

// archive stores the raw attachment under its digest. Failures are logged only.
func (p *Processor) archive(ctx context.Context, doc crawler.Document, raw []byte) string {
	if p.blobs == nil || p.hasher == nil || len(raw) == 0 {
		return ""
	}
	digest, err := p.hasher.Hash(raw)
	if err != nil {
		p.logger.Warn("hash attachment failed", zap.Int64("document_id", doc.ID), zap.Error(err))
		return ""
	}
	uri, err := p.blobs.PutObject(ctx, archivePath(p.cfg.ArchivePrefix, digest), p.cfg.ContentType, raw)
	if err != nil {
		p.logger.Warn("archive attachment failed", zap.Int64("document_id", doc.ID), zap.Error(err))
		return ""
	}
	return uri
}

func archivePath(prefix, digest string) string {
	shard := digest
	if len(shard) > 2 {
		shard = shard[:2]
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.pdf", shard, digest)
	}
	return fmt.Sprintf("%s/%s/%s.pdf", prefix, shard, digest)
}

func items(documentID int64, ex crawler.Extraction) []crawler.ExtractedDataItem {
	pct := ex.ConfidencePercent()
	out := make([]crawler.ExtractedDataItem, 0, len(ex.Codes)+len(ex.Products))
	for _, c := range ex.Codes {
		out = append(out, crawler.ExtractedDataItem{DocumentID: documentID, DataType: crawler.DataTypeHSCode, Value: c, Confidence: pct})
	}
	for _, name := range ex.Products {
		out = append(out, crawler.ExtractedDataItem{DocumentID: documentID, DataType: crawler.DataTypeProductName, Value: name, Confidence: pct})
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
