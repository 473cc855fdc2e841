package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BTreeMap/CivicPipe/internal/models"
	"github.com/BTreeMap/CivicPipe/internal/storage"
	"github.com/BTreeMap/CivicPipe/internal/store"
	"github.com/BTreeMap/CivicPipe/internal/testutil"
)

type fixedCounter int

func (c fixedCounter) Len() int { return int(c) }

type failingReader struct{}

func (failingReader) GetRecord(ctx context.Context, id int64) (models.Record, error) {
	return models.Record{}, errors.New("connection refused")
}

func (failingReader) ListRecords(ctx context.Context, kind models.FlowKind, limit int) ([]models.Record, error) {
	return nil, errors.New("connection refused")
}

func newTestServer(t *testing.T) (*Server, *store.InMemoryStore, *storage.Local) {
	t.Helper()
	files, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	records := store.NewInMemoryStore()
	ctx := context.Background()
	seed := []models.Record{
		{Kind: models.FlowFiling, UserID: "+911111111111", Fields: []models.Field{{Key: models.FieldName, Value: "Jane"}}, DocumentPath: "documents/filing/a.pdf", CreatedAt: time.Now()},
		{Kind: models.FlowViolationReport, UserID: "+912222222222", Fields: []models.Field{{Key: models.FieldVehicleNumber, Value: "AP09 1234"}}, CreatedAt: time.Now()},
		{Kind: models.FlowFiling, UserID: "+913333333333", DocumentPath: "documents/filing/missing.pdf", CreatedAt: time.Now()},
	}
	for _, rec := range seed {
		if _, err := records.SaveRecord(ctx, rec); err != nil {
			t.Fatalf("SaveRecord failed: %v", err)
		}
	}
	if err := files.Write(ctx, "documents/filing/a.pdf", []byte("%PDF-1.4"), "application/pdf"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	return NewServer(records, fixedCounter(2), files), records, files
}

func serve(t *testing.T, s *Server, method, url string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, testutil.CreateHTTPRequest(t, method, url, nil))
	return rr
}

func TestHealthHandler(t *testing.T) {
	s, _, _ := newTestServer(t)
	rr := serve(t, s, http.MethodGet, "/health")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")
	testutil.AssertJSONResponse(t, rr, "healthy")
}

func TestSessionsHandler(t *testing.T) {
	s, _, _ := newTestServer(t)
	rr := serve(t, s, http.MethodGet, "/sessions")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "sessions")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	result, _ := resp["result"].(map[string]interface{})
	if result["active_sessions"] != float64(2) {
		t.Errorf("expected 2 active sessions, got %v", result["active_sessions"])
	}
}

func TestListRecordsHandler(t *testing.T) {
	s, _, _ := newTestServer(t)
	tests := []struct {
		name      string
		url       string
		status    int
		wantCount int
	}{
		{name: "all kinds", url: "/records", status: http.StatusOK, wantCount: 3},
		{name: "filter by kind", url: "/records?kind=filing", status: http.StatusOK, wantCount: 2},
		{name: "limit", url: "/records?limit=1", status: http.StatusOK, wantCount: 1},
		{name: "no matches", url: "/records?kind=information_request", status: http.StatusOK, wantCount: 0},
		{name: "unknown kind", url: "/records?kind=bogus", status: http.StatusBadRequest},
		{name: "bad limit", url: "/records?limit=-3", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(t, s, http.MethodGet, tt.url)
			testutil.AssertHTTPStatus(t, tt.status, rr.Code, tt.url)
			if tt.status != http.StatusOK {
				testutil.AssertJSONResponse(t, rr, "error")
				return
			}
			resp := testutil.AssertJSONResponse(t, rr, "ok")
			list, ok := resp["result"].([]interface{})
			if !ok {
				t.Fatalf("expected a list result, got %T", resp["result"])
			}
			if len(list) != tt.wantCount {
				t.Errorf("expected %d records, got %d", tt.wantCount, len(list))
			}
		})
	}
}

func TestListRecordsNewestFirst(t *testing.T) {
	s, _, _ := newTestServer(t)
	rr := serve(t, s, http.MethodGet, "/records?kind=filing")
	var resp struct {
		Result []models.Record `json:"result"`
	}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &resp)
	if len(resp.Result) != 2 || resp.Result[0].ID != 3 || resp.Result[1].ID != 1 {
		t.Errorf("expected records 3 then 1, got %+v", resp.Result)
	}
}

func TestGetRecordHandler(t *testing.T) {
	s, _, _ := newTestServer(t)

	rr := serve(t, s, http.MethodGet, "/records/2")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "get record")
	var resp struct {
		Status string        `json:"status"`
		Result models.Record `json:"result"`
	}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &resp)
	if resp.Result.ID != 2 || resp.Result.Field(models.FieldVehicleNumber) != "AP09 1234" {
		t.Errorf("unexpected record %+v", resp.Result)
	}

	testutil.AssertHTTPStatus(t, http.StatusNotFound, serve(t, s, http.MethodGet, "/records/99").Code, "missing record")
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, serve(t, s, http.MethodGet, "/records/abc").Code, "bad id")
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, serve(t, s, http.MethodPost, "/records/1").Code, "post record")
}

func TestDocumentHandler(t *testing.T) {
	s, _, _ := newTestServer(t)

	rr := serve(t, s, http.MethodGet, "/records/1/document")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "document")
	if ct := rr.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("expected application/pdf, got %q", ct)
	}
	if rr.Body.String() != "%PDF-1.4" {
		t.Errorf("unexpected body %q", rr.Body.String())
	}

	testutil.AssertHTTPStatus(t, http.StatusNotFound, serve(t, s, http.MethodGet, "/records/2/document").Code, "no document path")
	testutil.AssertHTTPStatus(t, http.StatusNotFound, serve(t, s, http.MethodGet, "/records/3/document").Code, "document missing from storage")
}

func TestStoreFailuresReturn500(t *testing.T) {
	s := NewServer(failingReader{}, nil, nil)

	rr := serve(t, s, http.MethodGet, "/records")
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "list")
	testutil.AssertJSONResponse(t, rr, "error")

	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, serve(t, s, http.MethodGet, "/records/1").Code, "get")

	rr = serve(t, s, http.MethodGet, "/sessions")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	if result, _ := resp["result"].(map[string]interface{}); result["active_sessions"] != float64(0) {
		t.Errorf("expected 0 sessions without a counter, got %v", result["active_sessions"])
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}
