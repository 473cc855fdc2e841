// Package api provides the reviewer HTTP API for CivicPipe.
//
// It exposes read-only endpoints over finalized records and the number of
// in-progress sessions. Records are created only by the conversation engine.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BTreeMap/CivicPipe/internal/models"
	"github.com/BTreeMap/CivicPipe/internal/storage"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// DefaultShutdownTimeout bounds graceful shutdown.
const DefaultShutdownTimeout = 10 * time.Second

// RecordReader reads finalized records.
type RecordReader interface {
	GetRecord(ctx context.Context, id int64) (models.Record, error)
	ListRecords(ctx context.Context, kind models.FlowKind, limit int) ([]models.Record, error)
}

// SessionCounter reports the number of in-progress sessions.
type SessionCounter interface {
	Len() int
}

// Server serves the reviewer API.
type Server struct {
	router   *chi.Mux
	records  RecordReader
	sessions SessionCounter
	files    storage.Storage
	now      func() time.Time
}

// NewServer builds the router. files may be nil, in which case documents
// cannot be downloaded.
func NewServer(records RecordReader, sessions SessionCounter, files storage.Storage) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		records:  records,
		sessions: sessions,
		files:    files,
		now:      time.Now,
	}

	router.Get("/health", s.healthHandler)
	router.Get("/sessions", s.sessionsHandler)
	router.Route("/records", func(r chi.Router) {
		r.Get("/", s.listRecordsHandler)
		r.Get("/{id}", s.getRecordHandler)
		r.Get("/{id}/document", s.documentHandler)
	})
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		slog.Error("API server failed", "error", err, "addr", addr)
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown failed", "error", err)
		return err
	}
	slog.Info("API server stopped")
	return nil
}
