// Package store provides persistence backends for finalized records.
//
// It includes an in-memory store for tests and SQLite and PostgreSQL stores
// for deployments.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/BTreeMap/CivicPipe/internal/models"
)

// DefaultListLimit caps ListRecords when no limit is given.
const DefaultListLimit = 50

// Store persists finalized records.
type Store interface {
	// SaveRecord persists rec and returns its distinct identifier.
	SaveRecord(ctx context.Context, rec models.Record) (int64, error)
	// GetRecord returns the record with id, or models.ErrRecordNotFound.
	GetRecord(ctx context.Context, id int64) (models.Record, error)
	// ListRecords returns the newest records first, optionally filtered by kind.
	ListRecords(ctx context.Context, kind models.FlowKind, limit int) ([]models.Record, error)
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DSN types returned by DetectDSNType.
const (
	DSNTypeSQLite   = "sqlite3"
	DSNTypePostgres = "postgres"
)

// DetectDSNType reports which backend a DSN addresses. URLs with a postgres
// scheme and libpq key=value strings are PostgreSQL; anything else is
// treated as an SQLite file path.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DSNTypePostgres
	case strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "user="):
		return DSNTypePostgres
	default:
		return DSNTypeSQLite
	}
}

// Open creates the store backend addressed by dsn.
func Open(dsn string) (Store, error) {
	switch DetectDSNType(dsn) {
	case DSNTypePostgres:
		return NewPostgresStore(WithPostgresDSN(dsn))
	default:
		return NewSQLiteStore(WithSQLiteDSN(dsn))
	}
}

// InMemoryStore is a simple in-memory store for records.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []models.Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) SaveRecord(ctx context.Context, rec models.Record) (int64, error) {
	if rec.Kind == "" || !rec.Kind.IsValid() {
		return 0, fmt.Errorf("%w: %q", models.ErrUnknownFlow, rec.Kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := int64(len(s.records) + 1)
	s.records = append(s.records, rec.WithID(id))
	slog.Debug("InMemoryStore SaveRecord succeeded", "id", id, "kind", rec.Kind)
	return id, nil
}

func (s *InMemoryStore) GetRecord(ctx context.Context, id int64) (models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id < 1 || id > int64(len(s.records)) {
		return models.Record{}, models.ErrRecordNotFound
	}
	return s.records[id-1].WithID(id), nil
}

func (s *InMemoryStore) ListRecords(ctx context.Context, kind models.FlowKind, limit int) ([]models.Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Record
	for _, r := range s.records {
		if kind != "" && r.Kind != kind {
			continue
		}
		out = append(out, r.WithID(r.ID))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
