// Package worker consumes durable extraction jobs.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/customs-regdocs/internal/backoff"
	"github.com/JakeFAU/customs-regdocs/internal/crawler"
	"github.com/JakeFAU/customs-regdocs/internal/jobs"
	"github.com/JakeFAU/customs-regdocs/internal/metrics"
)

const (
	settleTimeout = 10 * time.Second
	// stalledError is recorded for jobs the queue gave up on after an expired reservation.
	stalledError = "stalled: attempts exhausted"
)

// Config controls Worker behavior.
type Config struct {
	// Topic receives completion events; empty disables publishing.
	Topic string
	// PollInterval is the wait after an empty reserve.
	PollInterval time.Duration
}

// Worker reserves jobs from the queue, runs the processor and settles the
// delivery and its job log row.
type Worker struct {
	queue     crawler.JobQueue
	jobLog    crawler.JobLogStore
	processor jobs.Runner
	publisher crawler.Publisher
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue crawler.JobQueue,
	jobLog crawler.JobLogStore,
	processor jobs.Runner,
	publisher crawler.Publisher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Worker{
		queue:     queue,
		jobLog:    jobLog,
		processor: processor,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming jobs until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		w.settleStalled(ctx)
		d, err := w.queue.Reserve(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, crawler.ErrQueueEmpty) {
				w.logger.Error("queue reserve failed", zap.Error(err))
			}
			if backoff.Sleep(ctx, w.cfg.PollInterval) != nil {
				return
			}
			continue
		}
		w.logger.Debug("reserved job", zap.String("job_id", d.Item.JobID), zap.Int("attempt", d.Attempt))
		w.processJob(ctx, d)
	}
}

func (w *Worker) processJob(ctx context.Context, d crawler.Delivery) {
	jobID := d.Item.JobID
	start := w.clock.Now()
	if err := w.jobLog.MarkProcessing(ctx, jobID, max(d.Attempt-1, 0), start); err != nil {
		w.logger.Warn("mark job processing failed", zap.String("job_id", jobID), zap.Error(err))
	}

	metrics.IncActiveJobs()
	res, procErr := w.processor.Process(ctx, d.Item.Payload)
	metrics.DecActiveJobs()
	elapsed := w.clock.Now().Sub(start)

	// Settle even when ctx was canceled mid-job so the job log matches the queue.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if procErr == nil {
		w.complete(settleCtx, d, res, elapsed)
		return
	}
	w.fail(settleCtx, d, procErr, elapsed)
}

func (w *Worker) complete(ctx context.Context, d crawler.Delivery, res jobs.ProcessResult, elapsed time.Duration) {
	jobID := d.Item.JobID
	if err := w.queue.Ack(ctx, d); err != nil {
		w.logger.Error("ack job failed", zap.String("job_id", jobID), zap.Error(err))
	}
	if err := w.jobLog.FinishJob(ctx, jobID, crawler.JobStatusCompleted, "", w.clock.Now(), elapsed); err != nil {
		w.logger.Error("final job status update failed", zap.String("job_id", jobID), zap.Error(err))
	}
	metrics.ObserveJob(jobs.ModeDurable, string(crawler.JobStatusCompleted), elapsed)
	w.logger.Info("job completed",
		zap.String("job_id", jobID),
		zap.Int64("document_id", d.Item.Payload.DocumentID),
		zap.Int("attempt", d.Attempt),
		zap.Duration("duration", elapsed),
	)
	w.publish(ctx, jobs.CompletionEvent{
		JobID:      jobID,
		DocumentID: d.Item.Payload.DocumentID,
		Status:     string(crawler.JobStatusCompleted),
		Attempt:    d.Attempt,
		Codes:      res.Codes,
		Products:   res.Products,
		Confidence: res.Confidence,
		ArchiveURI: res.ArchiveURI,
		FinishedAt: w.clock.Now().UTC(),
	})
}

func (w *Worker) fail(ctx context.Context, d crawler.Delivery, cause error, elapsed time.Duration) {
	jobID := d.Item.JobID
	final, err := w.queue.Fail(ctx, d, cause)
	if err != nil {
		w.logger.Error("fail job failed", zap.String("job_id", jobID), zap.Error(err))
	}
	status := crawler.JobStatusPending
	outcome := "retry"
	if final {
		status = crawler.JobStatusFailed
		outcome = string(crawler.JobStatusFailed)
	}
	if err := w.jobLog.FinishJob(ctx, jobID, status, cause.Error(), w.clock.Now(), elapsed); err != nil {
		w.logger.Error("final job status update failed", zap.String("job_id", jobID), zap.Error(err))
	}
	metrics.ObserveJob(jobs.ModeDurable, outcome, elapsed)
	w.logger.Warn("job failed",
		zap.String("job_id", jobID),
		zap.Int64("document_id", d.Item.Payload.DocumentID),
		zap.Int("attempt", d.Attempt),
		zap.Int("max_attempts", d.MaxAttempts),
		zap.Bool("final", final),
		zap.Error(cause),
	)
	if final {
		w.publish(ctx, jobs.CompletionEvent{
			JobID:      jobID,
			DocumentID: d.Item.Payload.DocumentID,
			Status:     string(crawler.JobStatusFailed),
			Attempt:    d.Attempt,
			Error:      cause.Error(),
			FinishedAt: w.clock.Now().UTC(),
		})
	}
}

// settleStalled records jobs the queue failed on its own because their last
// reservation expired, usually after a worker crashed mid-job.
func (w *Worker) settleStalled(ctx context.Context) {
	sq, ok := w.queue.(crawler.StalledQueue)
	if !ok {
		return
	}
	items, err := sq.Stalled(ctx)
	if err != nil && ctx.Err() == nil {
		w.logger.Error("drain stalled jobs failed", zap.Error(err))
	}
	for _, item := range items {
		now := w.clock.Now()
		if err := w.jobLog.FinishJob(ctx, item.JobID, crawler.JobStatusFailed, stalledError, now, 0); err != nil {
			w.logger.Error("final job status update failed", zap.String("job_id", item.JobID), zap.Error(err))
		}
		metrics.ObserveJob(jobs.ModeDurable, string(crawler.JobStatusFailed), 0)
		w.logger.Warn("stalled job failed",
			zap.String("job_id", item.JobID),
			zap.Int64("document_id", item.Payload.DocumentID),
		)
		w.publish(ctx, jobs.CompletionEvent{
			JobID:      item.JobID,
			DocumentID: item.Payload.DocumentID,
			Status:     string(crawler.JobStatusFailed),
			Error:      stalledError,
			FinishedAt: now.UTC(),
		})
	}
}

func (w *Worker) publish(ctx context.Context, event jobs.CompletionEvent) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
		w.logger.Warn("publish completion event failed", zap.String("job_id", event.JobID), zap.Error(err))
	}
}
