// Package store provides persistence backends for CivicPipe records.
//
// This file implements a PostgreSQL-backed record store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/BTreeMap/CivicPipe/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveRecord(ctx context.Context, rec models.Record) (int64, error) {
	if !rec.Kind.IsValid() {
		return 0, fmt.Errorf("%w: %q", models.ErrUnknownFlow, rec.Kind)
	}
	fields, err := encodeFields(rec.Fields)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO records (reference, kind, user_id, fields, legal_basis, document_path, attachment_path, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		rec.Reference, string(rec.Kind), rec.UserID, fields,
		nilIfEmpty(rec.LegalBasis), nilIfEmpty(rec.DocumentPath), nilIfEmpty(rec.AttachmentPath), rec.CreatedAt,
	).Scan(&id)
	if err != nil {
		slog.Error("PostgresStore SaveRecord failed", "error", err, "kind", rec.Kind, "user", rec.UserID)
		return 0, fmt.Errorf("failed to insert record for %s: %w", rec.UserID, err)
	}
	slog.Debug("PostgresStore SaveRecord succeeded", "id", id, "kind", rec.Kind, "user", rec.UserID)
	return id, nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, id int64) (models.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = $1`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Record{}, models.ErrRecordNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetRecord failed", "error", err, "id", id)
		return models.Record{}, fmt.Errorf("failed to get record %d: %w", id, err)
	}
	return r, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, kind models.FlowKind, limit int) ([]models.Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var rows *sql.Rows
	var err error
	if kind == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM records ORDER BY id DESC LIMIT $1`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM records WHERE kind = $1 ORDER BY id DESC LIMIT $2`, string(kind), limit)
	}
	if err != nil {
		slog.Error("PostgresStore ListRecords query failed", "error", err)
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	records, err := collectRecords(rows)
	if err != nil {
		slog.Error("PostgresStore ListRecords failed", "error", err)
		return nil, err
	}
	slog.Debug("PostgresStore ListRecords succeeded", "count", len(records), "kind", kind)
	return records, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	return s.db.Close()
}
