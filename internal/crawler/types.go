package crawler

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"
)

// ListingEntry is one row of a registry listing page.
type ListingEntry struct {
	DocumentNumber string `json:"document_number"`
	IssuingAgency  string `json:"issuing_agency"`
	IssueDate      string `json:"issue_date"`
	Title          string `json:"title"`
	DetailURL      string `json:"detail_url"`
}

// DetailRecord holds the metadata read from a document detail page.
type DetailRecord struct {
	DocumentNumber string `json:"document_number"`
	DocumentType   string `json:"document_type"`
	IssuingAgency  string `json:"issuing_agency"`
	IssueDate      string `json:"issue_date"`
	Signer         string `json:"signer"`
	Title          string `json:"title"`
	Summary        string `json:"summary,omitempty"`
	EffectiveDate  string `json:"effective_date,omitempty"`
	FileURL        string `json:"file_url"`
	FileName       string `json:"file_name"`
}

// MergeListing fills blank detail fields from the listing row. Detail values always win.
func (d DetailRecord) MergeListing(entry ListingEntry) DetailRecord {
	d.DocumentNumber = firstNonEmpty(d.DocumentNumber, entry.DocumentNumber)
	d.IssuingAgency = firstNonEmpty(d.IssuingAgency, entry.IssuingAgency)
	d.IssueDate = firstNonEmpty(d.IssueDate, entry.IssueDate)
	d.Title = firstNonEmpty(d.Title, entry.Title)
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// DocumentStatus tracks attachment download state.
type DocumentStatus string

// Document status values.
const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusDownloaded DocumentStatus = "downloaded"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// ProcessedStatus tracks whether extraction has run.
type ProcessedStatus string

// Processed status values.
const (
	ProcessedStatusNew       ProcessedStatus = "new"
	ProcessedStatusProcessed ProcessedStatus = "processed"
)

// Document is the persisted record, unique by DocumentNumber.
type Document struct {
	ID              int64           `json:"id"`
	CustomsDocID    string          `json:"customs_doc_id"`
	DocumentNumber  string          `json:"document_number"`
	Title           string          `json:"title"`
	DocumentType    string          `json:"document_type"`
	IssuingAgency   string          `json:"issuing_agency"`
	IssueDate       string          `json:"issue_date"`
	Signer          string          `json:"signer"`
	FileURL         string          `json:"file_url"`
	FileName        string          `json:"file_name"`
	Summary         string          `json:"summary"`
	DetailURL       string          `json:"detail_url"`
	Status          DocumentStatus  `json:"status"`
	ProcessedStatus ProcessedStatus `json:"processed_status"`
	Notes           string          `json:"notes"`
	Tags            []string        `json:"tags"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// DataType classifies an extracted value.
type DataType string

// Extracted data types.
const (
	DataTypeHSCode      DataType = "hs_code"
	DataTypeProductName DataType = "product_name"
)

// ExtractedDataItem is one mined value. Confidence is an integer percentage.
type ExtractedDataItem struct {
	ID         int64     `json:"id,omitempty"`
	DocumentID int64     `json:"document_id"`
	DataType   DataType  `json:"data_type"`
	Value      string    `json:"value"`
	Confidence int       `json:"confidence"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// Extraction is the outcome of one structured extraction pass over a text.
// Confidence is a density heuristic in [0,1] useful for ranking only.
type Extraction struct {
	Codes      []string `json:"codes"`
	Products   []string `json:"products"`
	WordCount  int      `json:"word_count"`
	Confidence float64  `json:"confidence"`
}

// ConfidencePercent converts Confidence to the stored 0-100 scale.
func (e Extraction) ConfidencePercent() int {
	pct := int(e.Confidence*100 + 0.5)
	return min(max(pct, 0), 100)
}

// OcrArtifact keeps the raw text and counts of the latest processing run.
type OcrArtifact struct {
	DocumentID   int64     `json:"document_id"`
	RawText      string    `json:"raw_text"`
	HSCodes      []string  `json:"hs_codes"`
	ProductNames []string  `json:"product_names"`
	TextLength   int       `json:"text_length"`
	WordCount    int       `json:"word_count"`
	ProcessingMs int64     `json:"processing_ms"`
	ArchiveURI   string    `json:"archive_uri,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// OcrStatistics aggregates the latest run per document.
type OcrStatistics struct {
	DocumentID     int64     `json:"document_id"`
	Succeeded      int       `json:"succeeded"`
	Failed         int       `json:"failed"`
	UniqueCodes    int       `json:"unique_codes"`
	UniqueProducts int       `json:"unique_products"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ExtractionRun is everything a processing run writes for one document.
type ExtractionRun struct {
	DocumentID int64
	Items      []ExtractedDataItem
	Artifact   OcrArtifact
	Statistics OcrStatistics
}

// JobStatus is the lifecycle state of an extraction job.
type JobStatus string

// Job status values persisted in the job log.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobTypeExtract labels attachment extraction jobs.
const JobTypeExtract = "extract_attachment"

// JobPayload is the unit of work handed to executors and queue backends.
type JobPayload struct {
	JobID         string `json:"job_id"`
	DocumentID    int64  `json:"document_id"`
	AttachmentURL string `json:"attachment_url,omitempty"`
	SuppliedText  string `json:"supplied_text,omitempty"`
}

// JobRecord is a job log row.
type JobRecord struct {
	JobID        string          `json:"job_id"`
	DocumentID   int64           `json:"document_id"`
	Type         string          `json:"type"`
	Status       JobStatus       `json:"status"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	DurationMs   int64           `json:"duration_ms"`
	RetryCount   int             `json:"retry_count"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// RegistryConfig describes the crawled registry's URL shape.
type RegistryConfig struct {
	BaseURL          string
	ListPath         string
	PageParam        string
	RequiredParams   url.Values
	AttachmentLabels []string
}

// CrawlOptions bound one crawl invocation.
type CrawlOptions struct {
	FromPage     int        `json:"from_page"`
	MaxPages     int        `json:"max_pages"`
	MaxDocuments int        `json:"max_documents"`
	Query        url.Values `json:"query,omitempty"`
}

// ListFilter narrows document listings.
type ListFilter struct {
	Limit  int
	Offset int
	Status DocumentStatus
}
