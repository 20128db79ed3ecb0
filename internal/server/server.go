// Package server builds the application's dependencies and runs its processes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/customs-regdocs/internal/api"
	"github.com/JakeFAU/customs-regdocs/internal/clock/system"
	"github.com/JakeFAU/customs-regdocs/internal/config"
	"github.com/JakeFAU/customs-regdocs/internal/crawler"
	"github.com/JakeFAU/customs-regdocs/internal/dispatcher"
	"github.com/JakeFAU/customs-regdocs/internal/extract"
	headlessfetcher "github.com/JakeFAU/customs-regdocs/internal/fetcher/headless"
	"github.com/JakeFAU/customs-regdocs/internal/hash/sha256"
	"github.com/JakeFAU/customs-regdocs/internal/headless/detector"
	"github.com/JakeFAU/customs-regdocs/internal/id/uuid"
	"github.com/JakeFAU/customs-regdocs/internal/jobs"
	"github.com/JakeFAU/customs-regdocs/internal/labels"
	"github.com/JakeFAU/customs-regdocs/internal/netclient"
	"github.com/JakeFAU/customs-regdocs/internal/pdftext"
	"github.com/JakeFAU/customs-regdocs/internal/policy/ratelimit"
	"github.com/JakeFAU/customs-regdocs/internal/progress"
	memorypublisher "github.com/JakeFAU/customs-regdocs/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/customs-regdocs/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/customs-regdocs/internal/queue/memory"
	queueRedis "github.com/JakeFAU/customs-regdocs/internal/queue/redis"
	"github.com/JakeFAU/customs-regdocs/internal/service"
	"github.com/JakeFAU/customs-regdocs/internal/snapshot"
	gcsstorage "github.com/JakeFAU/customs-regdocs/internal/storage/gcs"
	localstorage "github.com/JakeFAU/customs-regdocs/internal/storage/local"
	memoryStorage "github.com/JakeFAU/customs-regdocs/internal/storage/memory"
	pgstore "github.com/JakeFAU/customs-regdocs/internal/storage/postgres"
	"github.com/JakeFAU/customs-regdocs/internal/telemetry"
	"github.com/JakeFAU/customs-regdocs/internal/worker"
)

// ErrInlineMode is returned by RunWorkers when no durable queue is in use.
var ErrInlineMode = errors.New("no durable job queue configured; jobs run inline")

// ErrProcessLocalQueue is returned by RequireSharedQueue for the in-memory queue.
var ErrProcessLocalQueue = errors.New("queue.backend=memory only delivers jobs inside serve")

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	clock  *system.Clock
	ids    *uuid.Generator
	hasher *sha256.Hasher

	pool        *pgxpool.Pool
	docs        crawler.DocumentStore
	extractions crawler.ExtractionStore
	jobLog      crawler.JobLogStore
	reference   crawler.ReferenceDataStore

	blobs      crawler.BlobStore
	closeBlobs func() error
	publisher  crawler.Publisher
	pubsub     *gcppublisher.Publisher

	queue      crawler.JobQueue
	closeQueue func()
	executor   jobs.Executor
	processor  *jobs.Processor

	shutdownTracing telemetry.ShutdownFunc

	net      *netclient.Client
	renderer *headlessfetcher.Renderer
	labels   *labels.FileProvider

	documents *service.Documents
	crawls    *service.Crawls
	labelSvc  *service.Labels
	apiServer *api.Server
}

// Build creates the application's dependencies. Close releases them.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
		hasher: sha256.New(),
	}
	logger.Info("building application dependencies", zap.Int("server_port", cfg.Server.Port))

	if err := app.setupTelemetry(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	if err := app.setupDatabase(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	if err := app.setupStorage(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	if err := app.setupPublisher(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	if err := app.setupFetchers(); err != nil {
		app.Close(ctx)
		return nil, err
	}
	app.setupQueue(ctx)
	app.setupJobs(ctx)
	app.setupServices()
	return app, nil
}

// Documents returns the document service.
func (a *App) Documents() *service.Documents { return a.documents }

// Crawls returns the crawl service.
func (a *App) Crawls() *service.Crawls { return a.crawls }

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// ExecutorMode reports whether jobs run inline or through the durable queue.
func (a *App) ExecutorMode() string { return a.executor.Mode() }

func (a *App) setupTelemetry(ctx context.Context) error {
	projectID := a.cfg.Telemetry.ProjectID
	if projectID == "" {
		projectID = a.cfg.PubSub.ProjectID
	}
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     a.cfg.Telemetry.TracingEnabled,
		ServiceName: a.cfg.Telemetry.ServiceName,
		ProjectID:   projectID,
		SampleRatio: a.cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("telemetry init failed: %w", err)
	}
	a.shutdownTracing = shutdown
	if a.cfg.Telemetry.TracingEnabled {
		a.logger.Info("tracing enabled", zap.String("project", projectID))
	}
	return nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no database DSN configured, using in-memory stores")
		a.docs = memoryStorage.NewDocumentStore()
		a.extractions = memoryStorage.NewExtractionStore()
		a.jobLog = memoryStorage.NewJobStore()
		a.reference = memoryStorage.NewReferenceStore()
		return nil
	}
	pool, err := pgstore.Open(ctx, pgstore.Config{
		DSN:      a.cfg.DB.DSN,
		MaxConns: int32(max(a.cfg.DB.MaxConns, 0)),
	})
	if err != nil {
		return fmt.Errorf("database init failed: %w", err)
	}
	a.pool = pool
	if a.cfg.DB.AutoMigrate {
		if err := pgstore.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		a.logger.Info("database schema applied")
	}
	a.docs = pgstore.NewDocumentStore(pool)
	a.extractions = pgstore.NewExtractionStore(pool)
	a.jobLog = pgstore.NewJobStore(pool)
	a.reference = pgstore.NewReferenceStore(pool)
	a.logger.Info("postgres stores initialized", zap.Int("max_conns", a.cfg.DB.MaxConns))
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case "gcs":
		store, closeFn, err := gcsstorage.Open(ctx, gcsstorage.Config{
			Bucket: a.cfg.Storage.GCSBucket,
			Prefix: a.cfg.Storage.Prefix,
		})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.blobs, a.closeBlobs = store, closeFn
		a.logger.Info("using GCS attachment archive", zap.String("bucket", a.cfg.Storage.GCSBucket))
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = store
		a.logger.Info("using local attachment archive", zap.String("path", a.cfg.Storage.LocalDir))
	case "memory":
		a.blobs = memoryStorage.NewBlobStore()
		a.logger.Info("using in-memory attachment archive")
	default:
		a.logger.Info("attachment archive disabled")
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	pub, err := gcppublisher.Open(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.pubsub, a.publisher = pub, pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupFetchers() error {
	netCfg := netclient.Config{
		UserAgent:    a.cfg.HTTP.UserAgent,
		Timeout:      a.cfg.RequestTimeout(),
		Retries:      a.cfg.HTTP.MaxRetries,
		BackoffBase:  time.Duration(a.cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		BackoffMax:   time.Duration(a.cfg.HTTP.BackoffMaxMs) * time.Millisecond,
		MaxBodyBytes: a.cfg.HTTP.MaxBodyBytes,
		Limiter: ratelimit.New(ratelimit.Config{
			RPS:   a.cfg.HTTP.RequestsPerSecond,
			Burst: a.cfg.HTTP.Burst,
		}),
	}
	if a.cfg.HTTP.FallbackCommand != "" {
		netCfg.Fallback = netclient.NewCommandFallback(a.cfg.HTTP.FallbackCommand, a.logger)
	}
	a.net = netclient.New(netCfg, a.logger)

	if a.cfg.Headless.Enabled {
		renderer, err := headlessfetcher.New(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.HTTP.UserAgent,
			NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
			Wait:              time.Duration(a.cfg.Headless.WaitSeconds) * time.Second,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("headless renderer init failed: %w", err)
		}
		a.renderer = renderer
		a.logger.Info("headless renderer enabled",
			zap.Int("max_parallel", a.cfg.Headless.MaxParallel),
			zap.Bool("always", a.cfg.Headless.Always),
		)
	}

	a.labels = labels.NewFileProvider(labels.Config{
		Path:         a.cfg.Labels.File,
		Watch:        a.cfg.Labels.Watch,
		PollInterval: time.Duration(a.cfg.Labels.PollSeconds) * time.Second,
		Debounce:     time.Duration(a.cfg.Labels.DebounceMs) * time.Millisecond,
	}, a.logger)
	return nil
}

// pageSource is the HTML source for listing and detail pages.
func (a *App) pageSource() crawler.PageFetcher {
	switch {
	case a.renderer == nil:
		return a.net
	case a.cfg.Headless.Always:
		return a.renderer
	default:
		return headlessfetcher.NewPromoting(a.net, a.renderer, detector.NewHeuristic(a.cfg.Headless.PromoteMinBytes), a.logger)
	}
}

func (a *App) snapshots() crawler.SnapshotSource {
	var chain snapshot.Chain
	if a.cfg.Snapshot.ReaderBase != "" {
		chain = append(chain, snapshot.NewReaderMirror(a.cfg.Snapshot.ReaderBase, a.net))
	}
	if a.cfg.Snapshot.LocalRender {
		chain = append(chain, snapshot.NewLocalRenderer(a.pageSource()))
	}
	if len(chain) == 0 {
		return nil
	}
	return chain
}

func (a *App) setupQueue(ctx context.Context) {
	switch {
	case a.cfg.Queue.Backend == "memory":
		q := queueMemory.NewQueue(a.cfg.Queue.Depth)
		a.queue, a.closeQueue = q, q.Close
		a.logger.Warn("using in-memory job queue; jobs do not survive restarts")
	case a.cfg.Queue.URL != "":
		q, err := queueRedis.Open(ctx, queueRedis.Config{
			URL:        a.cfg.Queue.URL,
			Prefix:     a.cfg.Queue.Prefix,
			Visibility: time.Duration(a.cfg.Queue.VisibilitySeconds) * time.Second,
		})
		if err != nil {
			a.logger.Warn("redis job queue unavailable, running jobs inline", zap.Error(err))
			return
		}
		a.queue = q
		a.closeQueue = func() {
			if err := q.Close(); err != nil {
				a.logger.Warn("redis queue close failed", zap.Error(err))
			}
		}
	}
}

func (a *App) setupJobs(ctx context.Context) {
	keywords := extract.NewKeywordSource(
		a.reference,
		a.cfg.Extract.KeywordDataType,
		time.Duration(a.cfg.Extract.CacheSeconds)*time.Second,
		a.logger,
	)
	a.processor = jobs.NewProcessor(
		a.docs,
		a.extractions,
		pdftext.New(a.net, a.logger),
		extract.NewAnalyzer(keywords),
		a.blobs,
		a.hasher,
		a.clock,
		jobs.ProcessorConfig{ArchivePrefix: a.cfg.Storage.Prefix},
		a.logger,
	)
	opts := jobs.Options{
		JobLog:    a.jobLog,
		Processor: a.processor,
		IDs:       a.ids,
		Clock:     a.clock,
		Policy: crawler.RetryPolicy{
			Attempts:      a.cfg.Queue.Attempts,
			Backoff:       time.Duration(a.cfg.Queue.BackoffSeconds) * time.Second,
			KeepCompleted: a.cfg.Queue.KeepCompleted,
			KeepFailed:    a.cfg.Queue.KeepFailed,
		},
		Logger: a.logger,
	}
	if a.queue != nil {
		opts.Queue = a.queue
	}
	a.executor = jobs.NewExecutor(ctx, opts)
}

func (a *App) setupServices() {
	registry := a.cfg.Registry
	regCfg := crawler.RegistryConfig{
		BaseURL:          registry.BaseURL,
		ListPath:         registry.ListPath,
		PageParam:        registry.PageParam,
		RequiredParams:   url.Values{},
		AttachmentLabels: registry.AttachmentLabels,
	}
	for k, v := range registry.RequiredParams {
		regCfg.RequiredParams.Set(k, v)
	}
	pages, snaps := a.pageSource(), a.snapshots()
	listing := crawler.NewListingCrawler(regCfg, pages, snaps, a.cfg.Snapshot.ReaderBase, a.logger)
	details := crawler.NewDetailExtractor(pages, snaps, a.labels, registry.AttachmentLabels, a.cfg.Snapshot.ReaderBase, a.logger)

	a.documents = service.NewDocuments(a.docs, a.extractions, a.executor, a.clock, a.logger)
	a.crawls = service.NewCrawls(
		listing,
		details,
		a.docs,
		a.executor,
		progress.NewRegistry(0, a.clock.Now),
		a.ids,
		a.clock,
		crawler.CrawlOptions{MaxPages: registry.MaxPages, MaxDocuments: registry.MaxDocuments},
		a.logger,
	)
	a.labelSvc = service.NewLabels(a.labels, a.logger)

	checks := map[string]api.Check{}
	if a.pool != nil {
		checks["database"] = a.pool.Ping
	}
	if a.queue != nil {
		checks["queue"] = a.queue.Ping
	}
	a.apiServer = api.NewServer(api.Services{
		Documents: a.documents,
		Crawls:    a.crawls,
		Labels:    a.labelSvc,
		Checks:    checks,
	}, a.cfg, a.logger)
}

func (a *App) dispatcher() *dispatcher.Dispatcher {
	return dispatcher.NewPool(a.cfg.Worker.Concurrency, func(idx int) *worker.Worker {
		return worker.New(
			a.queue,
			a.jobLog,
			a.processor,
			a.publisher,
			a.clock,
			worker.Config{
				Topic:        a.cfg.PubSub.TopicName,
				PollInterval: time.Duration(a.cfg.Queue.PollMs) * time.Millisecond,
			},
			a.logger.Named("worker").With(zap.Int("index", idx)),
		)
	})
}

// Serve runs the HTTP API, the label watcher and, in durable mode, the worker pool
// until ctx is canceled or one of them fails.
func (a *App) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		a.crawls.Close()
		return nil
	})
	g.Go(func() error {
		return a.watchLabels(ctx)
	})
	if a.executor.Mode() == jobs.ModeDurable {
		g.Go(func() error {
			d := a.dispatcher()
			a.logger.Info("dispatcher started", zap.Int("workers", d.Size()))
			d.Run(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (a *App) handler() http.Handler {
	if !a.cfg.Telemetry.TracingEnabled {
		return a.apiServer.Handler()
	}
	return otelhttp.NewHandler(a.apiServer.Handler(), "regdocs-api")
}

// RunWorkers runs only the worker pool until ctx is canceled.
func (a *App) RunWorkers(ctx context.Context) error {
	if a.executor.Mode() != jobs.ModeDurable {
		return ErrInlineMode
	}
	d := a.dispatcher()
	a.logger.Info("dispatcher started", zap.Int("workers", d.Size()))
	d.Run(ctx)
	return nil
}

// RequireSharedQueue fails when jobs would go to a queue that lives only in this
// process. One-shot commands exit before any worker could drain it.
func (a *App) RequireSharedQueue() error {
	if a.executor.Mode() == jobs.ModeDurable && a.cfg.Queue.Backend == "memory" {
		return ErrProcessLocalQueue
	}
	return nil
}

// watchLabels keeps the label dictionary fresh and logs every table change.
func (a *App) watchLabels(ctx context.Context) error {
	if err := a.labels.Start(ctx); err != nil {
		a.logger.Warn("label watcher not started", zap.Error(err))
	}
	updates, unsubscribe := a.labels.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case table, ok := <-updates:
			if !ok {
				return nil
			}
			a.logger.Info("label dictionary changed", zap.Int("labels", len(table)))
		}
	}
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeoutSeconds > 0 {
		return time.Duration(a.cfg.Server.ShutdownTimeoutSeconds) * time.Second
	}
	return 10 * time.Second
}

// Close gracefully releases the application's resources.
func (a *App) Close(ctx context.Context) {
	if a.crawls != nil {
		a.crawls.Close()
	}
	if a.labels != nil {
		if err := a.labels.Close(); err != nil {
			a.logger.Warn("label watcher close failed", zap.Error(err))
		}
	}
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.closeQueue != nil {
		a.closeQueue()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.closeBlobs != nil {
		if err := a.closeBlobs(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
}
