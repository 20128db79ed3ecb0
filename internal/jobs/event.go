package jobs

import (
	"strconv"
	"time"
)

// CompletionEvent is published after a durable job settles.
type CompletionEvent struct {
	JobID      string    `json:"job_id"`
	DocumentID int64     `json:"document_id"`
	Status     string    `json:"status"`
	Attempt    int       `json:"attempt"`
	Codes      []string  `json:"codes,omitempty"`
	Products   []string  `json:"products,omitempty"`
	Confidence float64   `json:"confidence"`
	ArchiveURI string    `json:"archive_uri,omitempty"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Attributes are attached to the published message for subscription filters.
func (e CompletionEvent) Attributes() map[string]string {
	return map[string]string{
		"event":       "document.processed",
		"status":      e.Status,
		"document_id": strconv.FormatInt(e.DocumentID, 10),
	}
}
