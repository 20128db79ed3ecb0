package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/customs-regdocs/internal/crawler"
	"github.com/JakeFAU/customs-regdocs/internal/metrics"
)

// EnqueueStatus tells the caller where the job went.
type EnqueueStatus string

// Enqueue outcomes.
const (
	StatusQueued    EnqueueStatus = "queued"
	StatusProcessed EnqueueStatus = "processed"
)

// Execution modes reported by Executor.Mode and used as metric labels.
const (
	ModeInline  = "inline"
	ModeDurable = "durable"
)

// EnqueueResult is returned by Executor.Enqueue. Result is set for inline runs.
type EnqueueResult struct {
	Status EnqueueStatus  `json:"status"`
	JobID  string         `json:"job_id"`
	Result *ProcessResult `json:"result,omitempty"`
}

// Executor runs or schedules extraction jobs.
type Executor interface {
	Enqueue(ctx context.Context, payload crawler.JobPayload) (EnqueueResult, error)
	Mode() string
}

// Options select and configure an Executor.
type Options struct {
	// Queue is the durable backend; nil selects inline execution.
	Queue     crawler.JobQueue
	JobLog    crawler.JobLogStore
	Processor Runner
	IDs       crawler.IDGenerator
	Clock     crawler.Clock
	Policy    crawler.RetryPolicy
	Logger    *zap.Logger
}

// NewExecutor picks the durable executor when a queue is configured and reachable,
// otherwise the inline one. The choice is made once.
func NewExecutor(ctx context.Context, opts Options) Executor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Queue != nil && opts.JobLog != nil {
		err := opts.Queue.Ping(ctx)
		if err == nil {
			logger.Info("job executor selected", zap.String("mode", ModeDurable))
			return NewDurable(opts.Queue, opts.JobLog, opts.IDs, opts.Clock, opts.Policy, logger)
		}
		logger.Warn("job queue unreachable, running jobs inline", zap.Error(err))
	} else {
		logger.Info("job executor selected", zap.String("mode", ModeInline))
	}
	return NewInline(opts.Processor, opts.IDs, opts.Clock, logger)
}

// Inline runs the processor synchronously. It writes no job log rows.
type Inline struct {
	processor Runner
	ids       crawler.IDGenerator
	clock     crawler.Clock
	logger    *zap.Logger
}

// NewInline returns an inline executor.
func NewInline(processor Runner, ids crawler.IDGenerator, clock crawler.Clock, logger *zap.Logger) *Inline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inline{processor: processor, ids: ids, clock: clock, logger: logger.Named("inline")}
}

// Mode implements Executor.
func (e *Inline) Mode() string { return ModeInline }

// Enqueue runs the job immediately.
func (e *Inline) Enqueue(ctx context.Context, payload crawler.JobPayload) (EnqueueResult, error) {
	jobID, err := ensureJobID(e.ids, &payload)
	if err != nil {
		return EnqueueResult{}, err
	}
	start := e.clock.Now()
	metrics.IncActiveJobs()
	res, err := e.processor.Process(ctx, payload)
	metrics.DecActiveJobs()
	elapsed := e.clock.Now().Sub(start)
	if err != nil {
		metrics.ObserveJob(ModeInline, string(crawler.JobStatusFailed), elapsed)
		e.logger.Warn("inline job failed", zap.String("job_id", jobID), zap.Int64("document_id", payload.DocumentID), zap.Error(err))
		return EnqueueResult{Status: StatusProcessed, JobID: jobID, Result: &res}, err
	}
	metrics.ObserveJob(ModeInline, string(crawler.JobStatusCompleted), elapsed)
	return EnqueueResult{Status: StatusProcessed, JobID: jobID, Result: &res}, nil
}

// Durable records a pending job log row and hands the job to the queue.
type Durable struct {
	queue  crawler.JobQueue
	jobLog crawler.JobLogStore
	ids    crawler.IDGenerator
	clock  crawler.Clock
	policy crawler.RetryPolicy
	logger *zap.Logger
}

// NewDurable returns a queue-backed executor. A zero policy uses crawler.DefaultRetryPolicy.
func NewDurable(
	queue crawler.JobQueue,
	jobLog crawler.JobLogStore,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	policy crawler.RetryPolicy,
	logger *zap.Logger,
) *Durable {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Attempts <= 0 {
		policy = crawler.DefaultRetryPolicy()
	}
	return &Durable{queue: queue, jobLog: jobLog, ids: ids, clock: clock, policy: policy, logger: logger.Named("durable")}
}

// Mode implements Executor.
func (e *Durable) Mode() string { return ModeDurable }

// Enqueue writes the pending job log row and enqueues the job. Re-submitting an
// existing job id is a no-op that reports the job as queued.
func (e *Durable) Enqueue(ctx context.Context, payload crawler.JobPayload) (EnqueueResult, error) {
	jobID, err := ensureJobID(e.ids, &payload)
	if err != nil {
		return EnqueueResult{}, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("marshal payload: %w", err)
	}
	now := e.clock.Now().UTC()
	err = e.jobLog.CreateJob(ctx, crawler.JobRecord{
		JobID:      jobID,
		DocumentID: payload.DocumentID,
		Type:       crawler.JobTypeExtract,
		Status:     crawler.JobStatusPending,
		Payload:    raw,
		CreatedAt:  now,
	})
	if errors.Is(err, crawler.ErrDuplicate) {
		e.logger.Info("job already submitted", zap.String("job_id", jobID))
		return EnqueueResult{Status: StatusQueued, JobID: jobID}, nil
	}
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("create job log: %w", err)
	}

	item := crawler.QueueItem{JobID: jobID, Type: crawler.JobTypeExtract, Payload: payload, Submitted: now.Unix()}
	if err := e.queue.Enqueue(ctx, item, e.policy); err != nil && !errors.Is(err, crawler.ErrDuplicate) {
		if fErr := e.jobLog.FinishJob(ctx, jobID, crawler.JobStatusFailed, err.Error(), e.clock.Now(), 0); fErr != nil {
			e.logger.Error("mark unqueued job failed", zap.String("job_id", jobID), zap.Error(fErr))
		}
		return EnqueueResult{}, fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	e.logger.Debug("job queued", zap.String("job_id", jobID), zap.Int64("document_id", payload.DocumentID))
	return EnqueueResult{Status: StatusQueued, JobID: jobID}, nil
}

func ensureJobID(ids crawler.IDGenerator, payload *crawler.JobPayload) (string, error) {
	if payload.JobID != "" {
		return payload.JobID, nil
	}
	id, err := ids.NewJobID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	payload.JobID = id
	return id, nil
}
