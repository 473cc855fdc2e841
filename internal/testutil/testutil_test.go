package testutil

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestAssertHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		expected   int
		actual     int
		context    string
		shouldFail bool
	}{
		{
			name:       "matching status codes",
			expected:   200,
			actual:     200,
			context:    "test context",
			shouldFail: false,
		},
		{
			name:       "different status codes",
			expected:   200,
			actual:     404,
			context:    "test context",
			shouldFail: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Create a mock testing.T to capture failures
			mockT := &mockTestingT{}

			AssertHTTPStatus(mockT, tt.expected, tt.actual, tt.context)

			if tt.shouldFail && !mockT.failed {
				t.Error("Expected test to fail but it passed")
			}
			if !tt.shouldFail && mockT.failed {
				t.Error("Expected test to pass but it failed")
			}
		})
	}
}

func TestAssertJSONResponse(t *testing.T) {
	tests := []struct {
		name           string
		jsonBody       string
		expectedStatus string
		shouldFail     bool
	}{
		{
			name:           "valid JSON with matching status",
			jsonBody:       `{"status":"ok","data":"test"}`,
			expectedStatus: "ok",
			shouldFail:     false,
		},
		{
			name:           "valid JSON with different status",
			jsonBody:       `{"status":"error","data":"test"}`,
			expectedStatus: "ok",
			shouldFail:     true,
		},
		{
			name:           "invalid JSON",
			jsonBody:       `{"status":}`,
			expectedStatus: "ok",
			shouldFail:     true,
		},
		{
			name:           "missing status field",
			jsonBody:       `{"data":"test"}`,
			expectedStatus: "ok",
			shouldFail:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &mockTestingT{}
			rr := httptest.NewRecorder()
			rr.Body.WriteString(tt.jsonBody)

			var response map[string]interface{}

			// Handle potential panic from Fatalf calls
			defer func() {
				if r := recover(); r != nil {
					// Expected for invalid JSON cases
					if !tt.shouldFail {
						t.Errorf("Unexpected panic: %v", r)
					}
				}
			}()

			response = AssertJSONResponse(mockT, rr, tt.expectedStatus)

			if tt.shouldFail && !mockT.failed {
				t.Error("Expected test to fail but it passed")
			}
			if !tt.shouldFail && mockT.failed {
				t.Errorf("Expected test to pass but it failed: %s", mockT.errorMsg)
			}
			if !tt.shouldFail && response == nil {
				t.Error("Expected response map to be returned")
			}
		})
	}
}

func TestCreateHTTPRequest(t *testing.T) {
	tests := []struct {
		name   string
		method string
		url    string
		body   interface{}
	}{
		{name: "GET request with no body", method: "GET", url: "/records", body: nil},
		{name: "POST request with JSON body", method: "POST", url: "/records", body: map[string]string{"kind": "filing"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := CreateHTTPRequest(t, tt.method, tt.url, tt.body)
			if req == nil {
				t.Fatal("Expected request to be created, got nil")
			}
			if req.Method != tt.method {
				t.Errorf("Expected method %s, got %s", tt.method, req.Method)
			}
			if req.URL.Path != tt.url {
				t.Errorf("Expected URL %s, got %s", tt.url, req.URL.Path)
			}
		})
	}
}

func TestMustMarshalJSON(t *testing.T) {
	result := MustMarshalJSON(t, map[string]interface{}{"key1": "value1", "key2": 123})
	if len(result) == 0 {
		t.Error("Expected non-empty JSON data")
	}
}

func TestMustUnmarshalJSON(t *testing.T) {
	var target map[string]interface{}
	MustUnmarshalJSON(t, []byte(`{"key":"value","number":123}`), &target)

	if target["key"] != "value" {
		t.Errorf("Expected key to be 'value', got %v", target["key"])
	}
	if target["number"].(float64) != 123 {
		t.Errorf("Expected number to be 123, got %v", target["number"])
	}
}

func TestRecordingMessengerPerRecipient(t *testing.T) {
	m := NewRecordingMessenger()
	ctx := context.Background()

	_ = m.SendMessage(ctx, "alice", "first")
	_ = m.SendMessage(ctx, "bob", "other")
	_ = m.SendMessage(ctx, "alice", "second")
	_ = m.SendDocument(ctx, "alice", "doc.pdf", []byte("%PDF"), "caption")

	if got := m.Messages("alice"); len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("unexpected messages for alice: %v", got)
	}
	if m.Last("bob") != "other" {
		t.Errorf("expected last message for bob to be 'other', got %q", m.Last("bob"))
	}
	if m.Last("carol") != "" {
		t.Errorf("expected no messages for carol, got %q", m.Last("carol"))
	}
	if !m.Contains("alice", "sec") {
		t.Error("expected Contains to match substring")
	}
	docs := m.Documents("alice")
	if len(docs) != 1 || docs[0].FileName != "doc.pdf" || docs[0].Caption != "caption" {
		t.Errorf("unexpected documents: %+v", docs)
	}

	m.Reset()
	if len(m.Messages("alice")) != 0 || len(m.Documents("alice")) != 0 {
		t.Error("expected Reset to clear recordings")
	}
}

func TestRecordingMessengerError(t *testing.T) {
	m := NewRecordingMessenger()
	m.Err = errors.New("offline")

	if err := m.SendMessage(context.Background(), "alice", "hi"); err == nil {
		t.Error("expected injected error from SendMessage")
	}
	if err := m.SendDocument(context.Background(), "alice", "a.pdf", nil, ""); err == nil {
		t.Error("expected injected error from SendDocument")
	}
	if len(m.Messages("alice")) != 0 {
		t.Error("failed sends must not be recorded")
	}
}

func TestRecordingMessengerConcurrent(t *testing.T) {
	m := NewRecordingMessenger()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.SendMessage(context.Background(), "alice", fmt.Sprintf("msg-%d", i))
		}(i)
	}
	wg.Wait()
	if n := len(m.Messages("alice")); n != 20 {
		t.Errorf("expected 20 messages, got %d", n)
	}
}

// mockTestingT implements a subset of testing.T for testing our test helpers
type mockTestingT struct {
	failed   bool
	errorMsg string
	helper   bool
}

func (m *mockTestingT) Helper() {
	m.helper = true
}

func (m *mockTestingT) Errorf(format string, args ...interface{}) {
	m.failed = true
	if len(args) > 0 {
		m.errorMsg = fmt.Sprintf(format, args...)
	} else {
		m.errorMsg = format
	}
}

func (m *mockTestingT) Error(args ...interface{}) {
	m.failed = true
	if len(args) > 0 {
		m.errorMsg = fmt.Sprintf("%v", args[0])
	}
}

func (m *mockTestingT) Fatalf(format string, args ...interface{}) {
	m.failed = true
	if len(args) > 0 {
		m.errorMsg = fmt.Sprintf(format, args...)
	} else {
		m.errorMsg = format
	}
	panic("test failed") // Simulate fatal error
}

func (m *mockTestingT) Fatal(args ...interface{}) {
	m.failed = true
	if len(args) > 0 {
		m.errorMsg = fmt.Sprintf("%v", args[0])
	}
	panic("test failed") // Simulate fatal error
}
