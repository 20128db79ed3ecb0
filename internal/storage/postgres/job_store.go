package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/customs-regdocs/internal/crawler"
)

// JobStore is the durable job log.
type JobStore struct {
	db DB
}

// NewJobStore wraps db.
func NewJobStore(db DB) *JobStore {
	return &JobStore{db: db}
}

// CreateJob inserts a job log row; an existing id yields crawler.ErrDuplicate.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.JobRecord) error {
	status := job.Status
	if status == "" {
		status = crawler.JobStatusPending
	}
	payload := []byte(job.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	tag, err := s.db.Exec(ctx, `INSERT INTO job_logs (job_id, document_id, job_type, status, payload)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (job_id) DO NOTHING`, job.JobID, job.DocumentID, job.Type, string(status), payload)
	if err != nil {
		return fmt.Errorf("insert job log %s: %w", job.JobID, err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrDuplicate
	}
	return nil
}

// MarkProcessing records the start of an attempt. Terminal jobs are not touched.
func (s *JobStore) MarkProcessing(ctx context.Context, jobID string, retryCount int, startedAt time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE job_logs
SET status = $2, retry_count = $3, started_at = $4
WHERE job_id = $1 AND status NOT IN ('completed', 'failed')`,
		jobID, string(crawler.JobStatusProcessing), retryCount, startedAt.UTC())
	if err != nil {
		return fmt.Errorf("mark job %s processing: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// FinishJob records an attempt outcome. finished_at is only set for terminal states.
func (s *JobStore) FinishJob(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	finishedAt time.Time,
	duration time.Duration,
) error {
	var finished *time.Time
	if status.Terminal() {
		t := finishedAt.UTC()
		finished = &t
	}
	tag, err := s.db.Exec(ctx, `UPDATE job_logs
SET status = $2, error_message = $3, finished_at = $4, duration_ms = $5
WHERE job_id = $1 AND status NOT IN ('completed', 'failed')`,
		jobID, string(status), errText, finished, duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("finish job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// GetJob fetches a job log row.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.JobRecord, error) {
	var (
		job     crawler.JobRecord
		status  string
		payload []byte
	)
	err := s.db.QueryRow(ctx, `SELECT job_id, document_id, job_type, status, payload, created_at,
	started_at, finished_at, duration_ms, retry_count, error_message
FROM job_logs WHERE job_id = $1`, jobID).Scan(
		&job.JobID, &job.DocumentID, &job.Type, &status, &payload, &job.CreatedAt,
		&job.StartedAt, &job.FinishedAt, &job.DurationMs, &job.RetryCount, &job.ErrorMessage,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.JobRecord{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.JobRecord{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	job.Status = crawler.JobStatus(status)
	job.Payload = payload
	return job, nil
}
