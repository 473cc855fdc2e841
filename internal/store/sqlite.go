// Package store provides persistence backends for CivicPipe records.
//
// This file implements an SQLite-backed record store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/BTreeMap/CivicPipe/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY under concurrent finalization.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dsn", dsn)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveRecord(ctx context.Context, rec models.Record) (int64, error) {
	if !rec.Kind.IsValid() {
		return 0, fmt.Errorf("%w: %q", models.ErrUnknownFlow, rec.Kind)
	}
	fields, err := encodeFields(rec.Fields)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO records (reference, kind, user_id, fields, legal_basis, document_path, attachment_path, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Reference, string(rec.Kind), rec.UserID, fields,
		nilIfEmpty(rec.LegalBasis), nilIfEmpty(rec.DocumentPath), nilIfEmpty(rec.AttachmentPath), rec.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveRecord failed", "error", err, "kind", rec.Kind, "user", rec.UserID)
		return 0, fmt.Errorf("failed to insert record for %s: %w", rec.UserID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read record id: %w", err)
	}
	slog.Debug("SQLiteStore SaveRecord succeeded", "id", id, "kind", rec.Kind, "user", rec.UserID)
	return id, nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id int64) (models.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Record{}, models.ErrRecordNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetRecord failed", "error", err, "id", id)
		return models.Record{}, fmt.Errorf("failed to get record %d: %w", id, err)
	}
	return r, nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context, kind models.FlowKind, limit int) ([]models.Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var rows *sql.Rows
	var err error
	if kind == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM records ORDER BY id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM records WHERE kind = ? ORDER BY id DESC LIMIT ?`, string(kind), limit)
	}
	if err != nil {
		slog.Error("SQLiteStore ListRecords query failed", "error", err)
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	records, err := collectRecords(rows)
	if err != nil {
		slog.Error("SQLiteStore ListRecords failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLiteStore ListRecords succeeded", "count", len(records), "kind", kind)
	return records, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
