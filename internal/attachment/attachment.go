// Package attachment validates inbound files and persists accepted images
// under deterministic, human-inspectable paths.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/BTreeMap/CivicPipe/internal/models"
	"github.com/BTreeMap/CivicPipe/internal/storage"
)

// TimestampLayout is the timestamp format embedded in stored file names.
const TimestampLayout = "20060102150405"

// DefaultExtension is used when no better extension can be derived.
const DefaultExtension = "jpg"

// Purpose namespaces stored attachments by what they prove.
type Purpose string

const (
	PurposeIdentity Purpose = "identity"
	PurposeEvidence Purpose = "evidence"
)

var (
	// ErrNotImage indicates the inbound file is not an acceptable image.
	ErrNotImage = errors.New("attachment is not an image")
	// ErrNoPayload indicates the event carried no fetchable file.
	ErrNoPayload = errors.New("attachment has no payload")
)

// Capturer validates and persists inbound image attachments.
type Capturer struct {
	storage storage.Storage
	now     func() time.Time
}

// NewCapturer creates a Capturer writing through st.
func NewCapturer(st storage.Storage) *Capturer {
	return &Capturer{storage: st, now: time.Now}
}

// SetClock overrides the clock used for file name timestamps.
func (c *Capturer) SetClock(now func() time.Time) {
	c.now = now
}

// Accepts reports whether the event carries an acceptable image, without
// fetching the payload.
func Accepts(ev models.Event) error {
	switch ev.Kind {
	case models.EventImage:
		if ev.Media == nil || ev.Media.Fetch == nil {
			return ErrNoPayload
		}
		return nil
	case models.EventDocument:
		if ev.Media == nil || ev.Media.Fetch == nil {
			return ErrNoPayload
		}
		if !ev.Media.IsImage() {
			return ErrNotImage
		}
		return nil
	default:
		return ErrNotImage
	}
}

// Capture validates the event's file, fetches it, and stores it. It returns
// the storage path. Rejected files are never fetched or written.
func (c *Capturer) Capture(ctx context.Context, flow models.FlowKind, userID string, purpose Purpose, ev models.Event) (string, error) {
	if err := Accepts(ev); err != nil {
		slog.Debug("Attachment rejected", "user", userID, "flow", flow, "kind", ev.Kind, "error", err)
		return "", err
	}

	data, err := ev.Media.Fetch(ctx)
	if err != nil {
		slog.Error("Attachment download failed", "error", err, "user", userID, "flow", flow)
		return "", fmt.Errorf("failed to download attachment: %w", err)
	}
	if len(data) == 0 {
		return "", ErrNoPayload
	}

	p := BuildPath(flow, userID, purpose, extensionFor(ev), c.now())
	contentType := ev.Media.MimeType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	if err := c.storage.Write(ctx, p, data, contentType); err != nil {
		slog.Error("Attachment store failed", "error", err, "user", userID, "flow", flow, "path", p)
		return "", fmt.Errorf("failed to store attachment: %w", err)
	}

	slog.Info("Attachment captured", "user", userID, "flow", flow, "purpose", purpose, "path", p, "bytes", len(data))
	return p, nil
}

// BuildPath returns the storage path for an attachment:
// <purpose>/<flow>/<purpose>_<flow>_<user>_<timestamp>.<ext>
func BuildPath(flow models.FlowKind, userID string, purpose Purpose, ext string, at time.Time) string {
	name := fmt.Sprintf("%s_%s_%s_%s.%s", purpose, flow, SafeSegment(userID), at.Format(TimestampLayout), ext)
	return path.Join(string(purpose), string(flow), name)
}

// SafeSegment strips characters that are not safe in a single path segment.
func SafeSegment(s string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return -1
		}
	}, s)
	if out == "" {
		return "unknown"
	}
	return out
}

func extensionFor(ev models.Event) string {
	if ev.Kind == models.EventImage {
		return DefaultExtension
	}
	if ext := strings.TrimPrefix(strings.ToLower(path.Ext(ev.Media.FileName)), "."); ext != "" && SafeSegment(ext) == ext {
		return ext
	}
	if exts, err := mime.ExtensionsByType(ev.Media.MimeType); err == nil && len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	return DefaultExtension
}
