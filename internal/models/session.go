// Package models defines session structures for CivicPipe flows.
package models

import (
	"time"

	"github.com/elliotchance/orderedmap/v3"
)

// Field is a single collected value, used for ordered snapshots.
type Field struct {
	Key   FieldKey `json:"key"`
	Value string   `json:"value"`
}

// Fields is an insertion-ordered mapping of field keys to values.
// The zero value is not usable; call NewFields.
type Fields struct {
	m *orderedmap.OrderedMap[FieldKey, string]
}

// NewFields returns an empty ordered field map.
func NewFields() *Fields {
	return &Fields{m: orderedmap.NewOrderedMap[FieldKey, string]()}
}

// FieldsFrom builds an ordered field map from a snapshot.
func FieldsFrom(pairs []Field) *Fields {
	f := NewFields()
	for _, p := range pairs {
		f.Set(p.Key, p.Value)
	}
	return f
}

// Set stores value under key. Re-setting an existing key keeps its position.
func (f *Fields) Set(key FieldKey, value string) {
	f.m.Set(key, value)
}

// Get returns the value stored under key.
func (f *Fields) Get(key FieldKey) (string, bool) {
	return f.m.Get(key)
}

// Value returns the value stored under key, or "" when absent.
func (f *Fields) Value(key FieldKey) string {
	v, _ := f.m.Get(key)
	return v
}

// Delete removes key.
func (f *Fields) Delete(key FieldKey) {
	f.m.Delete(key)
}

// Len returns the number of stored fields.
func (f *Fields) Len() int {
	return f.m.Len()
}

// Pairs returns the fields in insertion order.
func (f *Fields) Pairs() []Field {
	pairs := make([]Field, 0, f.m.Len())
	for el := f.m.Front(); el != nil; el = el.Next() {
		pairs = append(pairs, Field{Key: el.Key, Value: el.Value})
	}
	return pairs
}

// Clone returns a deep copy.
func (f *Fields) Clone() *Fields {
	return FieldsFrom(f.Pairs())
}

// Session is the in-progress record of one user's progress through one flow.
// It is owned by the session store and mutated only by the conversation engine,
// one inbound event at a time.
type Session struct {
	UserID            string
	Flow              FlowKind
	State             StepName
	Fields            *Fields
	Attempts          int    // incorrect one-time-code submissions
	PhoneVerified     bool
	AttachmentPath    string // identity or evidence attachment, empty when none
	SuggestedCategory string // filing flow only
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewSession creates a session positioned at the given first step.
func NewSession(userID string, flow FlowKind, first StepName, now time.Time) *Session {
	return &Session{
		UserID:    userID,
		Flow:      flow,
		State:     first,
		Fields:    NewFields(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	if s.Fields != nil {
		c.Fields = s.Fields.Clone()
	} else {
		c.Fields = NewFields()
	}
	return &c
}

// Snapshot is a comparable, immutable view of a session.
type Snapshot struct {
	UserID            string
	Flow              FlowKind
	State             StepName
	Fields            []Field
	Attempts          int
	PhoneVerified     bool
	AttachmentPath    string
	SuggestedCategory string
}

// Snapshot returns a comparable view of the session, excluding timestamps.
func (s *Session) Snapshot() Snapshot {
	var pairs []Field
	if s.Fields != nil {
		pairs = s.Fields.Pairs()
	}
	return Snapshot{
		UserID:            s.UserID,
		Flow:              s.Flow,
		State:             s.State,
		Fields:            pairs,
		Attempts:          s.Attempts,
		PhoneVerified:     s.PhoneVerified,
		AttachmentPath:    s.AttachmentPath,
		SuggestedCategory: s.SuggestedCategory,
	}
}
