package models

import (
	"context"
	"strings"
	"time"
)

// EventKind classifies an inbound transport event.
type EventKind string

const (
	EventText     EventKind = "text"
	EventImage    EventKind = "image"
	EventDocument EventKind = "document"
	EventLocation EventKind = "location"
)

// Media describes an inbound file. Fetch downloads the payload and is only
// called once the file has been accepted.
type Media struct {
	MimeType string
	FileName string
	Fetch    func(ctx context.Context) ([]byte, error)
}

// IsImage reports whether the declared media type is an image type.
func (m *Media) IsImage() bool {
	return m != nil && strings.HasPrefix(strings.ToLower(m.MimeType), "image/")
}

// Location is a shared coordinate.
type Location struct {
	Latitude  float64
	Longitude float64
}

// Event is one inbound message from the chat transport, tagged with the
// sender's identity.
type Event struct {
	UserID   string
	Kind     EventKind
	Text     string
	Media    *Media
	Location *Location
	Time     time.Time
}

// TextEvent builds a plain text event.
func TextEvent(userID, text string) Event {
	return Event{UserID: userID, Kind: EventText, Text: text, Time: time.Now()}
}
