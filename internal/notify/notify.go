// Package notify hands finalized records off to downstream reviewers over NATS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/BTreeMap/CivicPipe/internal/models"
)

// SubjectPrefix prefixes every record subject; the flow kind is appended.
const SubjectPrefix = "civicpipe.records"

// Subject returns the subject records of kind are published on.
func Subject(kind models.FlowKind) string {
	return SubjectPrefix + "." + string(kind)
}

// RecordEvent is the payload published for each finalized record.
type RecordEvent struct {
	ID           int64          `json:"id"`
	Reference    string         `json:"reference"`
	Kind         string         `json:"kind"`
	UserID       string         `json:"user_id"`
	Fields       []models.Field `json:"fields"`
	DocumentPath string         `json:"document_path"`
	CreatedAt    time.Time      `json:"created_at"`
}

// NewRecordEvent builds the event for rec.
func NewRecordEvent(rec models.Record) RecordEvent {
	return RecordEvent{
		ID:           rec.ID,
		Reference:    rec.Reference,
		Kind:         string(rec.Kind),
		UserID:       rec.UserID,
		Fields:       rec.Fields,
		DocumentPath: rec.DocumentPath,
		CreatedAt:    rec.CreatedAt,
	}
}

// Publisher announces finalized records.
type Publisher interface {
	Publish(ctx context.Context, rec models.Record) error
	Close()
}

// NopPublisher discards every record. It is used when NATS is not configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, rec models.Record) error { return nil }
func (NopPublisher) Close()                                               {}

// conn is the subset of *nats.Conn used by NATSPublisher.
type conn interface {
	Publish(subject string, data []byte) error
	Close()
}

// NATSPublisher publishes RecordEvents as JSON on per-flow subjects.
type NATSPublisher struct {
	conn conn
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url, token string) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("civicpipe"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	slog.Info("NATS publisher connected", "url", url)
	return &NATSPublisher{conn: nc}, nil
}

// Publish sends rec on its flow's subject.
func (p *NATSPublisher) Publish(ctx context.Context, rec models.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(NewRecordEvent(rec))
	if err != nil {
		return fmt.Errorf("marshal record event: %w", err)
	}
	subject := Subject(rec.Kind)
	if err := p.conn.Publish(subject, payload); err != nil {
		slog.Error("NATSPublisher Publish failed", "error", err, "subject", subject, "id", rec.ID)
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	slog.Debug("NATSPublisher Publish succeeded", "subject", subject, "id", rec.ID)
	return nil
}

// Close closes the connection.
func (p *NATSPublisher) Close() {
	p.conn.Close()
}
