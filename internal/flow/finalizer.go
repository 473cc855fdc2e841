package flow

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/CivicPipe/internal/models"
	"github.com/BTreeMap/CivicPipe/internal/notify"
	"github.com/BTreeMap/CivicPipe/internal/storage"
)

// LegalAdvisor looks up the statutory basis for a complaint.
type LegalAdvisor interface {
	LegalBasis(ctx context.Context, category, description string) (string, error)
}

// Renderer turns a record into a stored document and returns its path.
type Renderer interface {
	Render(ctx context.Context, rec models.Record) (string, error)
}

// RecordSaver persists a record and returns its identifier.
type RecordSaver interface {
	SaveRecord(ctx context.Context, rec models.Record) (int64, error)
}

// Result is what the engine sends back to the user after finalization.
type Result struct {
	Record       models.Record
	Summary      string
	DocumentName string
	Document     []byte
	Caption      string
}

// Finalizer turns a completed session into a rendered, persisted record.
type Finalizer struct {
	legal     LegalAdvisor
	renderer  Renderer
	records   RecordSaver
	files     storage.Storage
	publisher notify.Publisher
	now       func() time.Time
	newRef    func() string
}

// NewFinalizer creates a Finalizer. legal may be nil, in which case no legal
// basis is looked up; publisher may be nil to skip publication.
func NewFinalizer(legal LegalAdvisor, renderer Renderer, records RecordSaver, files storage.Storage, publisher notify.Publisher) *Finalizer {
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	return &Finalizer{
		legal:     legal,
		renderer:  renderer,
		records:   records,
		files:     files,
		publisher: publisher,
		now:       time.Now,
		newRef:    uuid.NewString,
	}
}

// SetClock overrides the record timestamp clock.
func (f *Finalizer) SetClock(now func() time.Time) {
	f.now = now
}

// Finalize runs legal-basis lookup, record assembly, rendering, persistence,
// summary generation and publication, in that order. Only rendering and
// persistence failures are returned; the rest degrade.
func (f *Finalizer) Finalize(ctx context.Context, s *models.Session) (*Result, error) {
	def, ok := Get(s.Flow)
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownFlow, s.Flow)
	}
	slog.Debug("Finalizer Finalize invoked", "user", s.UserID, "flow", s.Flow)

	description := composeDescription(s)
	var legal string
	if s.Flow == models.FlowFiling && f.legal != nil {
		var err error
		legal, err = f.legal.LegalBasis(ctx, s.Fields.Value(models.FieldCategory), description)
		if err != nil {
			slog.Warn("Finalizer legal basis lookup failed, continuing without it", "error", err, "user", s.UserID)
			legal = ""
		}
	}

	rec := assembleRecord(s, description)
	rec.Reference = f.newRef()
	rec.LegalBasis = legal
	rec.CreatedAt = f.now()

	docPath, err := f.renderer.Render(ctx, rec)
	if err != nil {
		slog.Error("Finalizer render failed", "error", err, "user", s.UserID, "flow", s.Flow)
		return nil, fmt.Errorf("failed to render document: %w", err)
	}
	rec.DocumentPath = docPath

	id, err := f.records.SaveRecord(ctx, rec)
	if err != nil {
		slog.Error("Finalizer save failed", "error", err, "user", s.UserID, "flow", s.Flow)
		return nil, fmt.Errorf("failed to save record: %w", err)
	}
	rec = rec.WithID(id)

	res := &Result{
		Record:       rec,
		Summary:      def.Summary(rec),
		DocumentName: path.Base(docPath),
		Caption:      def.Caption(rec),
	}
	if f.files != nil {
		data, err := f.files.Read(ctx, docPath)
		if err != nil {
			slog.Error("Finalizer document read failed", "error", err, "path", docPath)
			res.Summary += "\n\n⚠️ Your document was saved but could not be attached here. Quote ID #" + strconv.FormatInt(id, 10) + " when you follow up."
		} else {
			res.Document = data
		}
	}

	if err := f.publisher.Publish(ctx, rec); err != nil {
		slog.Warn("Finalizer publish failed", "error", err, "id", id)
	}

	slog.Info("Finalizer Finalize succeeded", "user", s.UserID, "flow", s.Flow, "id", id, "document", docPath)
	return res, nil
}

// composeDescription merges the incident summary with any additional details.
func composeDescription(s *models.Session) string {
	switch s.Flow {
	case models.FlowFiling:
		initial := s.Fields.Value(models.FieldIncidentSummary)
		if extra := s.Fields.Value(models.FieldAdditionalDetails); extra != "" {
			return initial + "\n\nAdditional Details: " + extra
		}
		return initial
	default:
		return s.Fields.Value(models.FieldDescription)
	}
}

// assembleRecord snapshots the session's fields in collection order and
// appends the fields derived for the flow.
func assembleRecord(s *models.Session, description string) models.Record {
	fields := s.Fields.Clone()
	switch s.Flow {
	case models.FlowFiling:
		fields.Set(models.FieldDescription, description)
		if loc := fields.Value(models.FieldIncidentLocation); loc != "" {
			fields.Set(models.FieldPoliceStation, "Nearest Police Station in "+loc)
		}
	case models.FlowViolationReport:
		if s.AttachmentPath != "" {
			fields.Set(models.FieldPhotoPath, s.AttachmentPath)
		}
	}
	return models.Record{
		Kind:           s.Flow,
		UserID:         s.UserID,
		Fields:         fields.Pairs(),
		AttachmentPath: s.AttachmentPath,
	}
}
