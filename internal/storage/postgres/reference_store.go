package postgres

import (
	"context"
	"fmt"
)

// ReferenceStore reads the reference_data table.
type ReferenceStore struct {
	db DB
}

// NewReferenceStore wraps db.
func NewReferenceStore(db DB) *ReferenceStore {
	return &ReferenceStore{db: db}
}

// ValuesByType returns the values of dataType in insertion order.
func (s *ReferenceStore) ValuesByType(ctx context.Context, dataType string) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT value FROM reference_data WHERE data_type = $1 ORDER BY id`, dataType)
	if err != nil {
		return nil, fmt.Errorf("query reference data %q: %w", dataType, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan reference data: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query reference data %q: %w", dataType, err)
	}
	return values, nil
}
