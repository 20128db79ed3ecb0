package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/customs-regdocs/internal/crawler"
)

// JobStore is an in-memory job log.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]crawler.JobRecord
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]crawler.JobRecord)}
}

// CreateJob stores a new job log row.
func (s *JobStore) CreateJob(_ context.Context, job crawler.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.JobID]; exists {
		return crawler.ErrDuplicate
	}
	if job.Status == "" {
		job.Status = crawler.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	s.jobs[job.JobID] = job
	return nil
}

// MarkProcessing records the start of an attempt. Terminal jobs are left alone.
func (s *JobStore) MarkProcessing(_ context.Context, jobID string, retryCount int, startedAt time.Time) error {
	return s.update(jobID, func(job *crawler.JobRecord) {
		job.Status = crawler.JobStatusProcessing
		job.RetryCount = retryCount
		job.StartedAt = pointerTime(startedAt)
	})
}

// FinishJob records the outcome of an attempt. A pending status means the job
// will be retried.
func (s *JobStore) FinishJob(
	_ context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	finishedAt time.Time,
	duration time.Duration,
) error {
	return s.update(jobID, func(job *crawler.JobRecord) {
		job.Status = status
		job.ErrorMessage = errText
		job.DurationMs = duration.Milliseconds()
		if status.Terminal() {
			job.FinishedAt = pointerTime(finishedAt)
		}
	})
}

func (s *JobStore) update(jobID string, fn func(*crawler.JobRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status.Terminal() {
		return crawler.ErrNotFound
	}
	fn(&job)
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.JobRecord{}, crawler.ErrNotFound
	}
	return job, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t.UTC()
	return &ts
}
