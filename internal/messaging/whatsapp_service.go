package messaging

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/CivicPipe/internal/models"
	"github.com/BTreeMap/CivicPipe/internal/whatsapp"
)

// Constants for WhatsAppService configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the events channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines how long an inbound event may wait for buffer space
	DefaultChannelTimeout = 1 * time.Second
)

var errNoDownloader = errors.New("media download not available")

type mediaDownloader interface {
	Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error)
}

type eventSource interface {
	AddEventHandler(fn func(evt interface{})) uint32
}

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client     whatsapp.WhatsAppSender
	source     eventSource
	downloader mediaDownloader

	mu      sync.RWMutex
	stopped bool
	events  chan models.Event
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
// Inbound events are only produced when client is a full *whatsapp.Client.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	s := &WhatsAppService{
		client: client,
		events: make(chan models.Event, DefaultChannelBufferSize),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		s.source = waClient
		s.downloader = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return s
}

// Start subscribes to WhatsApp events.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}
	if s.source == nil {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
		return nil
	}
	s.source.AddEventHandler(s.handleEvent)
	slog.Info("WhatsAppService event handler registered")
	return nil
}

// Stop closes the events channel. Events arriving afterwards are dropped.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.events)
	slog.Info("WhatsAppService stopped and channel closed")
	return nil
}

// SendMessage sends a text message.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	slog.Debug("WhatsAppService SendMessage invoked", "to", to, "body_length", len(body))
	if err := s.client.SendMessage(ctx, to, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", to)
		return err
	}
	return nil
}

// SendDocument sends a file with a caption.
func (s *WhatsAppService) SendDocument(ctx context.Context, to, filename string, data []byte, caption string) error {
	slog.Debug("WhatsAppService SendDocument invoked", "to", to, "file", filename, "bytes", len(data))
	if err := s.client.SendDocument(ctx, to, filename, data, caption); err != nil {
		slog.Error("WhatsAppService SendDocument error", "error", err, "to", to, "file", filename)
		return err
	}
	return nil
}

// Events returns the channel of inbound events.
func (s *WhatsAppService) Events() <-chan models.Event {
	return s.events
}

func (s *WhatsAppService) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		if ev, ok := eventFromMessage(v, s.downloader); ok {
			s.emit(ev)
		}
	case *events.Connected:
		slog.Info("WhatsAppService connected")
	case *events.Disconnected:
		slog.Warn("WhatsAppService disconnected")
	}
}

func (s *WhatsAppService) emit(ev models.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Debug("WhatsAppService stopped, dropping event", "user", ev.UserID)
		return
	}
	select {
	case s.events <- ev:
		slog.Debug("WhatsAppService event forwarded", "user", ev.UserID, "kind", ev.Kind)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService events channel blocked, dropping event", "user", ev.UserID, "timeout", DefaultChannelTimeout)
	}
}

// eventFromMessage maps a direct WhatsApp message onto a transport event.
// Own messages, group messages and unsupported message types are ignored.
func eventFromMessage(evt *events.Message, dl mediaDownloader) (models.Event, bool) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return models.Event{}, false
	}
	user := evt.Info.Sender.User
	if user == "" {
		return models.Event{}, false
	}
	if !strings.HasPrefix(user, "+") {
		user = "+" + user
	}
	ev := models.Event{UserID: user, Time: evt.Info.Timestamp}

	msg := evt.Message
	switch {
	case msg.GetConversation() != "":
		ev.Kind = models.EventText
		ev.Text = msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		ev.Kind = models.EventText
		ev.Text = msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		ev.Kind = models.EventImage
		ev.Media = &models.Media{MimeType: img.GetMimetype(), Fetch: fetcher(dl, img)}
	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		ev.Kind = models.EventDocument
		ev.Media = &models.Media{MimeType: doc.GetMimetype(), FileName: doc.GetFileName(), Fetch: fetcher(dl, doc)}
	case msg.GetLocationMessage() != nil:
		loc := msg.GetLocationMessage()
		ev.Kind = models.EventLocation
		ev.Location = &models.Location{Latitude: loc.GetDegreesLatitude(), Longitude: loc.GetDegreesLongitude()}
	default:
		slog.Debug("WhatsAppService ignoring unsupported message", "from", user)
		return models.Event{}, false
	}
	return ev, true
}

func fetcher(dl mediaDownloader, msg whatsmeow.DownloadableMessage) func(ctx context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		if dl == nil {
			return nil, errNoDownloader
		}
		return dl.Download(ctx, msg)
	}
}
