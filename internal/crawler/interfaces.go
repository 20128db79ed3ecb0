package crawler

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique key already exists.
	ErrDuplicate = errors.New("duplicate key")
	// ErrQueueEmpty is returned by non-blocking queue reads.
	ErrQueueEmpty = errors.New("queue empty")
)

// PageFetcher returns the raw HTML of a page.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) ([]byte, error)
}

// SnapshotSource returns a markdown/plain-text rendering of a page.
type SnapshotSource interface {
	Snapshot(ctx context.Context, pageURL string) ([]byte, error)
}

// LabelLookup maps a localized label to a canonical field key.
type LabelLookup interface {
	Lookup(label string) (string, bool)
	RawLabels() []string
}

// DocumentStore persists documents keyed by their unique document number.
type DocumentStore interface {
	Upsert(ctx context.Context, doc Document) (Document, error)
	Create(ctx context.Context, doc Document) (Document, error)
	GetByID(ctx context.Context, id int64) (Document, error)
	List(ctx context.Context, filter ListFilter) ([]Document, error)
	UpdateStatus(ctx context.Context, id int64, status DocumentStatus, processed ProcessedStatus) error
}

// ExtractionStore replaces the extraction output of a document atomically.
type ExtractionStore interface {
	Replace(ctx context.Context, run ExtractionRun) error
	Items(ctx context.Context, documentID int64) ([]ExtractedDataItem, error)
	Artifact(ctx context.Context, documentID int64) (OcrArtifact, error)
}

// JobLogStore records the lifecycle of durable jobs.
type JobLogStore interface {
	CreateJob(ctx context.Context, job JobRecord) error
	MarkProcessing(ctx context.Context, jobID string, retryCount int, startedAt time.Time) error
	FinishJob(ctx context.Context, jobID string, status JobStatus, errText string, finishedAt time.Time, duration time.Duration) error
	GetJob(ctx context.Context, jobID string) (JobRecord, error)
}

// ReferenceDataStore exposes read-only reference rows by data type.
type ReferenceDataStore interface {
	ValuesByType(ctx context.Context, dataType string) ([]string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for archived attachments.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl and job identifiers.
type IDGenerator interface {
	NewID() (string, error)
	NewJobID() (string, error)
}

// RetryPolicy is the backend-owned retry budget for a job.
type RetryPolicy struct {
	Attempts      int
	Backoff       time.Duration
	KeepCompleted int
	KeepFailed    int
}

// DefaultRetryPolicy allows three attempts with 30s exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 30 * time.Second, KeepCompleted: 100, KeepFailed: 500}
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string     `json:"job_id"`
	Type      string     `json:"type"`
	Payload   JobPayload `json:"payload"`
	Submitted int64      `json:"submitted"`
}

// Delivery is a reserved queue item. Attempt starts at 1.
type Delivery struct {
	Item        QueueItem
	Attempt     int
	MaxAttempts int
}

// JobQueue is a backend owning persistence, retry and redelivery of jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, item QueueItem, policy RetryPolicy) error
	Reserve(ctx context.Context) (Delivery, error)
	Ack(ctx context.Context, d Delivery) error
	// Fail reschedules the delivery or, when attempts are exhausted, settles it as failed.
	Fail(ctx context.Context, d Delivery, cause error) (final bool, err error)
	Ping(ctx context.Context) error
}

// StalledQueue is implemented by queues that settle jobs whose reservation expired
// on the last attempt. Stalled drains them so the consumer can record the failure.
type StalledQueue interface {
	Stalled(ctx context.Context) ([]QueueItem, error)
}
