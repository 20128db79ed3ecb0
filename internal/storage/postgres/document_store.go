package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/customs-regdocs/internal/crawler"
)

const documentColumns = `id, customs_doc_id, document_number, title, document_type, issuing_agency,
	issue_date, signer, file_url, file_name, summary, detail_url, status, processed_status,
	notes, tags, created_at, updated_at`

const insertDocumentSQL = `INSERT INTO documents (customs_doc_id, document_number, title, document_type,
	issuing_agency, issue_date, signer, file_url, file_name, summary, detail_url, status,
	processed_status, notes, tags)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

// Crawled metadata is refreshed on conflict; workflow columns keep their values.
const upsertDocumentSQL = insertDocumentSQL + `
ON CONFLICT (document_number) DO UPDATE SET
	customs_doc_id = EXCLUDED.customs_doc_id,
	title = EXCLUDED.title,
	document_type = EXCLUDED.document_type,
	issuing_agency = EXCLUDED.issuing_agency,
	issue_date = EXCLUDED.issue_date,
	signer = EXCLUDED.signer,
	file_url = EXCLUDED.file_url,
	file_name = EXCLUDED.file_name,
	summary = EXCLUDED.summary,
	detail_url = EXCLUDED.detail_url,
	updated_at = now()
RETURNING ` + documentColumns

// DocumentStore persists documents unique by document number.
type DocumentStore struct {
	db DB
}

// NewDocumentStore wraps db.
func NewDocumentStore(db DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// Upsert inserts doc or refreshes the existing row with the same document number.
func (s *DocumentStore) Upsert(ctx context.Context, doc crawler.Document) (crawler.Document, error) {
	if strings.TrimSpace(doc.DocumentNumber) == "" {
		return crawler.Document{}, fmt.Errorf("upsert document: document number is required")
	}
	out, err := scanDocument(s.db.QueryRow(ctx, upsertDocumentSQL, documentArgs(doc)...))
	if err != nil {
		return crawler.Document{}, fmt.Errorf("upsert document %q: %w", doc.DocumentNumber, err)
	}
	return out, nil
}

// Create inserts doc and returns crawler.ErrDuplicate when the number exists.
func (s *DocumentStore) Create(ctx context.Context, doc crawler.Document) (crawler.Document, error) {
	if strings.TrimSpace(doc.DocumentNumber) == "" {
		return crawler.Document{}, fmt.Errorf("create document: document number is required")
	}
	out, err := scanDocument(s.db.QueryRow(ctx, insertDocumentSQL+"\nRETURNING "+documentColumns, documentArgs(doc)...))
	if isUniqueViolation(err) {
		return crawler.Document{}, crawler.ErrDuplicate
	}
	if err != nil {
		return crawler.Document{}, fmt.Errorf("create document %q: %w", doc.DocumentNumber, err)
	}
	return out, nil
}

// GetByID returns the document with id.
func (s *DocumentStore) GetByID(ctx context.Context, id int64) (crawler.Document, error) {
	doc, err := scanDocument(s.db.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Document{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Document{}, fmt.Errorf("get document %d: %w", id, err)
	}
	return doc, nil
}

// List returns documents newest first.
func (s *DocumentStore) List(ctx context.Context, filter crawler.ListFilter) ([]crawler.Document, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `SELECT `+documentColumns+` FROM documents
WHERE ($1 = '' OR status = $1)
ORDER BY id DESC
LIMIT $2 OFFSET $3`, string(filter.Status), limit, max(filter.Offset, 0))
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []crawler.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// UpdateStatus sets the document status. An empty processed status is left unchanged.
func (s *DocumentStore) UpdateStatus(
	ctx context.Context,
	id int64,
	status crawler.DocumentStatus,
	processed crawler.ProcessedStatus,
) error {
	tag, err := s.db.Exec(ctx, `UPDATE documents
SET status = $2, processed_status = COALESCE(NULLIF($3, ''), processed_status), updated_at = now()
WHERE id = $1`, id, string(status), string(processed))
	if err != nil {
		return fmt.Errorf("update document %d status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

func documentArgs(doc crawler.Document) []any {
	status := doc.Status
	if status == "" {
		status = crawler.DocumentStatusPending
	}
	processed := doc.ProcessedStatus
	if processed == "" {
		processed = crawler.ProcessedStatusNew
	}
	tags := doc.Tags
	if tags == nil {
		tags = []string{}
	}
	return []any{
		doc.CustomsDocID,
		strings.TrimSpace(doc.DocumentNumber),
		doc.Title,
		doc.DocumentType,
		doc.IssuingAgency,
		doc.IssueDate,
		doc.Signer,
		doc.FileURL,
		doc.FileName,
		doc.Summary,
		doc.DetailURL,
		string(status),
		string(processed),
		doc.Notes,
		tags,
	}
}

func scanDocument(row pgx.Row) (crawler.Document, error) {
	var (
		doc       crawler.Document
		status    string
		processed string
	)
	err := row.Scan(
		&doc.ID,
		&doc.CustomsDocID,
		&doc.DocumentNumber,
		&doc.Title,
		&doc.DocumentType,
		&doc.IssuingAgency,
		&doc.IssueDate,
		&doc.Signer,
		&doc.FileURL,
		&doc.FileName,
		&doc.Summary,
		&doc.DetailURL,
		&status,
		&processed,
		&doc.Notes,
		&doc.Tags,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return crawler.Document{}, err
	}
	doc.Status = crawler.DocumentStatus(status)
	doc.ProcessedStatus = crawler.ProcessedStatus(processed)
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	return doc, nil
}
