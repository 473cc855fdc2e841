package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/CivicPipe/internal/models"
)

// recordColumns is the column list shared by every record query.
const recordColumns = `id, reference, kind, user_id, fields, legal_basis, document_path, attachment_path, created_at`

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// encodeFields serializes ordered fields for the fields column.
func encodeFields(fields []models.Field) (string, error) {
	if fields == nil {
		fields = []models.Field{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode fields: %w", err)
	}
	return string(b), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans a Record from a row or rows cursor.
func scanRecord(row rowScanner) (models.Record, error) {
	var r models.Record
	var kind, fieldsJSON string
	var legalBasis, documentPath, attachmentPath sql.NullString
	err := row.Scan(&r.ID, &r.Reference, &kind, &r.UserID, &fieldsJSON, &legalBasis, &documentPath, &attachmentPath, &r.CreatedAt)
	if err != nil {
		return r, err
	}
	r.Kind = models.FlowKind(kind)
	if err := json.Unmarshal([]byte(fieldsJSON), &r.Fields); err != nil {
		return r, fmt.Errorf("failed to decode fields of record %d: %w", r.ID, err)
	}
	r.LegalBasis = legalBasis.String
	r.DocumentPath = documentPath.String
	r.AttachmentPath = attachmentPath.String
	return r, nil
}

// collectRecords drains rows into a slice.
func collectRecords(rows *sql.Rows) ([]models.Record, error) {
	defer rows.Close()
	var out []models.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate record rows: %w", err)
	}
	return out, nil
}
