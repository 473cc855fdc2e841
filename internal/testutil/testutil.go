// Package testutil provides common test utilities and helpers for CivicPipe tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// T is the subset of testing.T used by the assertion helpers.
type T interface {
	Helper()
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return nil
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Errorf("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t T, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}

// SentMessage is a text message captured by RecordingMessenger.
type SentMessage struct {
	To   string
	Body string
}

// SentDocument is a document captured by RecordingMessenger.
type SentDocument struct {
	To       string
	FileName string
	Data     []byte
	Caption  string
}

// RecordingMessenger records outbound messages and documents. It is safe for
// concurrent use.
type RecordingMessenger struct {
	mu        sync.Mutex
	messages  []SentMessage
	documents []SentDocument

	// Err, when set, is returned from every send.
	Err error
}

// NewRecordingMessenger creates an empty RecordingMessenger.
func NewRecordingMessenger() *RecordingMessenger {
	return &RecordingMessenger{}
}

func (m *RecordingMessenger) SendMessage(ctx context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.messages = append(m.messages, SentMessage{To: to, Body: body})
	return nil
}

func (m *RecordingMessenger) SendDocument(ctx context.Context, to, filename string, data []byte, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.documents = append(m.documents, SentDocument{To: to, FileName: filename, Data: append([]byte(nil), data...), Caption: caption})
	return nil
}

// Messages returns the bodies sent to a recipient, oldest first.
func (m *RecordingMessenger) Messages(to string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, msg := range m.messages {
		if msg.To == to {
			out = append(out, msg.Body)
		}
	}
	return out
}

// Last returns the most recent body sent to a recipient, or "".
func (m *RecordingMessenger) Last(to string) string {
	msgs := m.Messages(to)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

// Contains reports whether any message to a recipient contains substr.
func (m *RecordingMessenger) Contains(to, substr string) bool {
	for _, body := range m.Messages(to) {
		if strings.Contains(body, substr) {
			return true
		}
	}
	return false
}

// Documents returns the documents sent to a recipient.
func (m *RecordingMessenger) Documents(to string) []SentDocument {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SentDocument
	for _, d := range m.documents {
		if d.To == to {
			out = append(out, d)
		}
	}
	return out
}

// Reset forgets everything recorded so far.
func (m *RecordingMessenger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
	m.documents = nil
}
