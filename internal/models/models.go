// Package models defines the core data structures for CivicPipe.
//
// It includes sessions, inbound transport events, finalized records, and the
// JSON envelope used by the reviewer API. Types here are shared across modules
// and carry no behavior beyond small helpers.
package models

import "errors"

// Error variables shared by several modules.
var (
	ErrEmptyUserID     = errors.New("user id cannot be empty")
	ErrUnknownFlow     = errors.New("unknown flow kind")
	ErrRecordNotFound  = errors.New("record not found")
	ErrSessionNotFound = errors.New("session not found")
)

// APIStatus represents the status value used in API responses.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
