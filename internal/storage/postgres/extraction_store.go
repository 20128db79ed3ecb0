package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/customs-regdocs/internal/crawler"
)

// ExtractionStore writes extraction runs. Each run replaces the previous one.
type ExtractionStore struct {
	db DB
}

// NewExtractionStore wraps db.
func NewExtractionStore(db DB) *ExtractionStore {
	return &ExtractionStore{db: db}
}

// Replace deletes the prior items and artifacts of the document and writes run in
// a single transaction.
func (s *ExtractionStore) Replace(ctx context.Context, run crawler.ExtractionRun) error {
	if run.DocumentID <= 0 {
		return fmt.Errorf("replace extraction: document id is required")
	}
	codes, err := json.Marshal(nonNil(run.Artifact.HSCodes))
	if err != nil {
		return fmt.Errorf("marshal codes: %w", err)
	}
	products, err := json.Marshal(nonNil(run.Artifact.ProductNames))
	if err != nil {
		return fmt.Errorf("marshal products: %w", err)
	}

	err = inTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM extracted_data WHERE document_id = $1`, run.DocumentID); err != nil {
			return fmt.Errorf("delete extracted data: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM ocr_results WHERE document_id = $1`, run.DocumentID); err != nil {
			return fmt.Errorf("delete ocr results: %w", err)
		}
		if len(run.Items) > 0 {
			types := make([]string, len(run.Items))
			values := make([]string, len(run.Items))
			confidences := make([]int32, len(run.Items))
			for i, it := range run.Items {
				types[i] = string(it.DataType)
				values[i] = it.Value
				confidences[i] = int32(min(max(it.Confidence, 0), 100))
			}
			if _, err := tx.Exec(ctx, `INSERT INTO extracted_data (document_id, data_type, value, confidence)
SELECT $1, t.data_type, t.value, t.confidence
FROM unnest($2::text[], $3::text[], $4::int[]) AS t(data_type, value, confidence)`,
				run.DocumentID, types, values, confidences); err != nil {
				return fmt.Errorf("insert extracted data: %w", err)
			}
		}
		a := run.Artifact
		if _, err := tx.Exec(ctx, `INSERT INTO ocr_results (document_id, raw_text, hs_codes, product_names,
	text_length, word_count, processing_ms, archive_uri)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			run.DocumentID, a.RawText, codes, products, a.TextLength, a.WordCount, a.ProcessingMs, a.ArchiveURI,
		); err != nil {
			return fmt.Errorf("insert ocr result: %w", err)
		}
		st := run.Statistics
		if _, err := tx.Exec(ctx, `INSERT INTO ocr_statistics (document_id, succeeded, failed, unique_codes, unique_products)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (document_id) DO UPDATE SET
	succeeded = EXCLUDED.succeeded,
	failed = EXCLUDED.failed,
	unique_codes = EXCLUDED.unique_codes,
	unique_products = EXCLUDED.unique_products,
	updated_at = now()`,
			run.DocumentID, st.Succeeded, st.Failed, st.UniqueCodes, st.UniqueProducts,
		); err != nil {
			return fmt.Errorf("upsert ocr statistics: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace extraction for document %d: %w", run.DocumentID, err)
	}
	return nil
}

// Items returns the extracted values of a document.
func (s *ExtractionStore) Items(ctx context.Context, documentID int64) ([]crawler.ExtractedDataItem, error) {
	rows, err := s.db.Query(ctx, `SELECT id, document_id, data_type, value, confidence, created_at
FROM extracted_data WHERE document_id = $1 ORDER BY id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query extracted data: %w", err)
	}
	defer rows.Close()

	items := []crawler.ExtractedDataItem{}
	for rows.Next() {
		var (
			it       crawler.ExtractedDataItem
			dataType string
		)
		if err := rows.Scan(&it.ID, &it.DocumentID, &dataType, &it.Value, &it.Confidence, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan extracted data: %w", err)
		}
		it.DataType = crawler.DataType(dataType)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query extracted data: %w", err)
	}
	return items, nil
}

// Artifact returns the latest raw text artifact of a document.
func (s *ExtractionStore) Artifact(ctx context.Context, documentID int64) (crawler.OcrArtifact, error) {
	var (
		a        crawler.OcrArtifact
		codes    []byte
		products []byte
	)
	err := s.db.QueryRow(ctx, `SELECT document_id, raw_text, hs_codes, product_names, text_length,
	word_count, processing_ms, archive_uri, created_at
FROM ocr_results WHERE document_id = $1
ORDER BY id DESC LIMIT 1`, documentID).Scan(
		&a.DocumentID, &a.RawText, &codes, &products, &a.TextLength,
		&a.WordCount, &a.ProcessingMs, &a.ArchiveURI, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.OcrArtifact{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.OcrArtifact{}, fmt.Errorf("get ocr result for document %d: %w", documentID, err)
	}
	if err := json.Unmarshal(codes, &a.HSCodes); err != nil {
		return crawler.OcrArtifact{}, fmt.Errorf("decode codes: %w", err)
	}
	if err := json.Unmarshal(products, &a.ProductNames); err != nil {
		return crawler.OcrArtifact{}, fmt.Errorf("decode products: %w", err)
	}
	return a, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
