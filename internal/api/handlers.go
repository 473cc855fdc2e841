package api

import (
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BTreeMap/CivicPipe/internal/models"
	"github.com/BTreeMap/CivicPipe/internal/storage"
)

// MaxListLimit caps the limit query parameter.
const MaxListLimit = 500

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	count := 0
	if s.sessions != nil {
		count = s.sessions.Len()
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]int{"active_sessions": count}))
}

func (s *Server) listRecordsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := models.FlowKind(q.Get("kind"))
	if kind != "" && !kind.IsValid() {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("unknown record kind: "+string(kind)))
		return
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be a positive integer"))
			return
		}
		limit = min(n, MaxListLimit)
	}

	recs, err := s.records.ListRecords(r.Context(), kind, limit)
	if err != nil {
		slog.Error("Server.listRecordsHandler: failed to list records", "error", err, "kind", kind)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list records"))
		return
	}
	if recs == nil {
		recs = []models.Record{}
	}
	slog.Debug("Server.listRecordsHandler: listed records", "kind", kind, "count", len(recs))
	writeJSONResponse(w, http.StatusOK, models.Success(recs))
}

// recordFromPath loads the record named by the {id} URL parameter, writing
// the error response itself when it cannot.
func (s *Server) recordFromPath(w http.ResponseWriter, r *http.Request) (models.Record, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("record id must be a positive integer"))
		return models.Record{}, false
	}
	rec, err := s.records.GetRecord(r.Context(), id)
	if errors.Is(err, models.ErrRecordNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("record not found"))
		return models.Record{}, false
	}
	if err != nil {
		slog.Error("Server.recordFromPath: failed to get record", "error", err, "id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get record"))
		return models.Record{}, false
	}
	return rec, true
}

func (s *Server) getRecordHandler(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.recordFromPath(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(rec))
}

func (s *Server) documentHandler(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.recordFromPath(w, r)
	if !ok {
		return
	}
	if s.files == nil || rec.DocumentPath == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("document not available"))
		return
	}
	data, err := s.files.Read(r.Context(), rec.DocumentPath)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("document not found"))
		return
	}
	if err != nil {
		slog.Error("Server.documentHandler: failed to read document", "error", err, "id", rec.ID, "path", rec.DocumentPath)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read document"))
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(rec.DocumentPath)+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("Server.documentHandler: failed to write document", "error", err, "id", rec.ID)
	}
}
