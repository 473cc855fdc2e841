package models

import "time"

// Record is the immutable snapshot of a completed session plus derived
// fields. It is created by the finalizer and never mutated afterwards.
type Record struct {
	ID             int64     `json:"id"`
	Reference      string    `json:"reference"`
	Kind           FlowKind  `json:"kind"`
	UserID         string    `json:"user_id"`
	Fields         []Field   `json:"fields"`
	LegalBasis     string    `json:"legal_basis,omitempty"`
	DocumentPath   string    `json:"document_path,omitempty"`
	AttachmentPath string    `json:"attachment_path,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Field returns the value stored under key, or "" when absent.
func (r Record) Field(key FieldKey) string {
	for _, f := range r.Fields {
		if f.Key == key {
			return f.Value
		}
	}
	return ""
}

// WithID returns a copy of the record carrying the persisted identifier.
func (r Record) WithID(id int64) Record {
	r.Fields = append([]Field(nil), r.Fields...)
	r.ID = id
	return r
}

// RecordTitle returns the human-readable document title for a flow kind.
func RecordTitle(kind FlowKind) string {
	switch kind {
	case FlowFiling:
		return "Complaint / FIR Application"
	case FlowInformationRequest:
		return "Application under the Right to Information Act, 2005"
	case FlowViolationReport:
		return "Traffic Violation Report"
	default:
		return "Record"
	}
}
