package service

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/customs-regdocs/internal/crawler"
	"github.com/JakeFAU/customs-regdocs/internal/document"
	"github.com/JakeFAU/customs-regdocs/internal/jobs"
	"github.com/JakeFAU/customs-regdocs/internal/metrics"
	"github.com/JakeFAU/customs-regdocs/internal/progress"
	"github.com/JakeFAU/customs-regdocs/internal/telemetry"
)

const tracerName = "github.com/JakeFAU/customs-regdocs/internal/service"

// Lister walks listing pages.
type Lister interface {
	Crawl(ctx context.Context, opts crawler.CrawlOptions, progress crawler.ListingProgress) ([]crawler.ListingEntry, error)
}

// DetailSource resolves a listing entry into a detail record.
type DetailSource interface {
	Extract(ctx context.Context, entry crawler.ListingEntry) (crawler.DetailRecord, bool, error)
}

// CrawlRequest bounds one crawl. Zero values take the configured defaults.
type CrawlRequest struct {
	FromPage     int               `json:"from_page"`
	MaxPages     int               `json:"max_pages"`
	MaxDocuments int               `json:"max_documents"`
	Query        map[string]string `json:"query,omitempty"`
}

// CrawlStarted is returned by Start.
type CrawlStarted struct {
	CrawlID string `json:"crawl_id"`
}

// Crawls runs the listing, detail, normalize, upsert and enqueue pipeline.
type Crawls struct {
	listing  Lister
	details  DetailSource
	docs     crawler.DocumentStore
	executor jobs.Executor
	registry *progress.Registry
	ids      crawler.IDGenerator
	clock    crawler.Clock
	defaults crawler.CrawlOptions
	logger   *zap.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCrawls wires the crawl service. defaults supplies MaxPages and MaxDocuments when
// a request leaves them unset.
func NewCrawls(
	listing Lister,
	details DetailSource,
	docs crawler.DocumentStore,
	executor jobs.Executor,
	registry *progress.Registry,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	defaults crawler.CrawlOptions,
	logger *zap.Logger,
) *Crawls {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = progress.NewRegistry(0, clock.Now)
	}
	base, cancel := context.WithCancel(context.Background())
	return &Crawls{
		listing:  listing,
		details:  details,
		docs:     docs,
		executor: executor,
		registry: registry,
		ids:      ids,
		clock:    clock,
		defaults: defaults,
		logger:   logger.Named("crawls"),
		base:     base,
		cancel:   cancel,
	}
}

// Start launches a crawl in the background and returns its id immediately. The crawl
// is not bound to the caller's context; Close cancels it.
func (s *Crawls) Start(_ context.Context, req CrawlRequest) Result {
	opts, err := s.options(req)
	if err != nil {
		return failure(KindInvalid, "invalid crawl request", err)
	}
	if err := s.base.Err(); err != nil {
		return failure(KindUnavailable, "crawl service is shutting down", err)
	}
	crawlID, err := s.ids.NewID()
	if err != nil {
		return failure(KindInternal, "failed to allocate crawl id", err)
	}
	tracker := s.registry.Start(crawlID)

	runCtx, cancel := context.WithCancel(s.base)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		tracker.Finish(s.crawl(runCtx, crawlID, opts, tracker))
	}()
	s.logger.Info("crawl started", zap.String("crawl_id", crawlID), zap.Int("max_pages", opts.MaxPages))
	return ok("crawl started", CrawlStarted{CrawlID: crawlID})
}

// Run crawls synchronously and returns the final progress state.
func (s *Crawls) Run(ctx context.Context, req CrawlRequest) Result {
	opts, err := s.options(req)
	if err != nil {
		return failure(KindInvalid, "invalid crawl request", err)
	}
	crawlID, err := s.ids.NewID()
	if err != nil {
		return failure(KindInternal, "failed to allocate crawl id", err)
	}
	tracker := s.registry.Start(crawlID)
	err = s.crawl(ctx, crawlID, opts, tracker)
	tracker.Finish(err)
	state := tracker.Snapshot()
	if err != nil {
		res := failure(KindInternal, "crawl failed", err)
		res.Data = state
		return res
	}
	return ok(fmt.Sprintf("crawl finished: %d saved, %d skipped, %d failed",
		state.DocumentsSaved, state.DocumentsSkipped, state.DocumentsFailed), state)
}

// Progress returns the current state of a crawl.
func (s *Crawls) Progress(crawlID string) Result {
	tracker, found := s.registry.Get(crawlID)
	if !found {
		return failure(KindNotFound, fmt.Sprintf("crawl %s not found", crawlID), nil)
	}
	return ok("crawl progress", tracker.Snapshot())
}

// List returns the known crawls, newest first.
func (s *Crawls) List() Result {
	states := s.registry.List()
	return ok(fmt.Sprintf("%d crawls", len(states)), states)
}

// Tracker exposes the live tracker of a crawl for streaming transports.
func (s *Crawls) Tracker(crawlID string) (*progress.Tracker, bool) {
	return s.registry.Get(crawlID)
}

// Close cancels background crawls and waits for them to stop.
func (s *Crawls) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Crawls) options(req CrawlRequest) (crawler.CrawlOptions, error) {
	if req.FromPage < 0 || req.MaxPages < 0 || req.MaxDocuments < 0 {
		return crawler.CrawlOptions{}, fmt.Errorf("page and document bounds must not be negative")
	}
	opts := crawler.CrawlOptions{
		FromPage:     max(req.FromPage, 1),
		MaxPages:     req.MaxPages,
		MaxDocuments: req.MaxDocuments,
	}
	if opts.MaxPages == 0 {
		opts.MaxPages = max(s.defaults.MaxPages, 1)
	}
	if opts.MaxDocuments == 0 {
		opts.MaxDocuments = s.defaults.MaxDocuments
	}
	if len(req.Query) > 0 {
		opts.Query = url.Values{}
		for k, v := range req.Query {
			opts.Query.Set(k, v)
		}
	}
	return opts, nil
}

// crawl returns an error only when the listing could not be walked; per-document
// failures are counted on the tracker.
func (s *Crawls) crawl(ctx context.Context, crawlID string, opts crawler.CrawlOptions, tracker *progress.Tracker) (err error) {
	ctx, span := telemetry.Start(ctx, tracerName, "crawl",
		attribute.String("crawl_id", crawlID),
		attribute.Int("from_page", opts.FromPage),
		attribute.Int("max_pages", opts.MaxPages),
	)
	defer func() { telemetry.End(span, err) }()

	logger := s.logger.With(zap.String("crawl_id", crawlID))
	entries, err := s.listing.Crawl(ctx, opts, tracker)
	if err != nil {
		logger.Warn("listing crawl interrupted", zap.Int("entries", len(entries)), zap.Error(err))
		return err
	}
	logger.Info("listing collected", zap.Int("entries", len(entries)))

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("crawl documents: %w", err)
		}
		s.processEntry(ctx, logger, entry, tracker)
	}
	state := tracker.Snapshot()
	logger.Info("crawl finished",
		zap.Int("saved", state.DocumentsSaved),
		zap.Int("skipped", state.DocumentsSkipped),
		zap.Int("failed", state.DocumentsFailed),
		zap.Int("jobs", state.JobsEnqueued),
	)
	return nil
}

func (s *Crawls) processEntry(ctx context.Context, logger *zap.Logger, entry crawler.ListingEntry, tracker *progress.Tracker) {
	logger = logger.With(zap.String("document_number", entry.DocumentNumber))

	record, found, err := s.details.Extract(ctx, entry)
	if err != nil {
		metrics.IncDocument("detail_failed")
		tracker.DocumentFailed(err)
		logger.Warn("detail extraction failed", zap.String("url", entry.DetailURL), zap.Error(err))
		return
	}
	if !found {
		tracker.DocumentSkipped()
		return
	}

	doc, err := s.docs.Upsert(ctx, document.FromDetail(record, entry, s.clock.Now().UTC()))
	if err != nil {
		metrics.IncDocument("save_failed")
		tracker.DocumentFailed(err)
		logger.Error("save document failed", zap.Error(err))
		return
	}
	metrics.IncDocument("saved")
	tracker.DocumentSaved()

	if doc.FileURL == "" || s.executor == nil {
		return
	}
	res, err := s.executor.Enqueue(ctx, crawler.JobPayload{DocumentID: doc.ID, AttachmentURL: doc.FileURL})
	if err != nil {
		logger.Warn("extraction job failed", zap.Int64("document_id", doc.ID), zap.Error(err))
		return
	}
	tracker.JobEnqueued()
	logger.Debug("extraction job submitted",
		zap.Int64("document_id", doc.ID),
		zap.String("job_id", res.JobID),
		zap.String("status", string(res.Status)),
	)
}
