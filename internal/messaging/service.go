// Package messaging connects chat transports to the conversation engine.
package messaging

import (
	"context"
	"errors"

	"github.com/BTreeMap/CivicPipe/internal/models"
)

// ErrServiceStopped is returned when a stopped service or dispatcher is used.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service defines a pluggable message delivery abstraction.
// It supports sending text and documents and provides a channel of inbound events.
type Service interface {
	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// SendDocument sends a file with an optional caption.
	SendDocument(ctx context.Context, to, filename string, data []byte, caption string) error

	// Start begins any background processing (e.g., event subscription).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the events channel.
	Stop() error

	// Events returns a channel of inbound user events.
	Events() <-chan models.Event
}
