// Package whatsapp wraps the Whatsmeow client for WhatsApp integration in CivicPipe.
//
// It provides methods for sending text and documents, downloading inbound
// media, and registering event handlers.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"strings"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/BTreeMap/CivicPipe/internal/store"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for WhatsApp/whatsmeow SQLite database
	DefaultSQLitePath = "/var/lib/civicpipe/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users
	JIDSuffix = "s.whatsapp.net"
	// DefaultDocumentMimeType is used when a file name has no known extension.
	DefaultDocumentMimeType = "application/octet-stream"
)

var (
	errNotInitialized = errors.New("whatsapp client not initialized")
	errEmptyRecipient = errors.New("recipient cannot be empty")
)

// WhatsAppSender is an interface for sending WhatsApp messages (for production and testing)
type WhatsAppSender interface {
	SendMessage(ctx context.Context, to string, body string) error
	SendDocument(ctx context.Context, to, filename string, data []byte, caption string) error
}

// Opts holds configuration options for the WhatsApp client.
// This focuses solely on WhatsApp/whatsmeow database configuration and login settings.
type Opts struct {
	DBDSN       string // WhatsApp/whatsmeow database connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // use numeric login code instead of QR code
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the WhatsApp/whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput instructs the WhatsApp client to write the login QR code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode instructs the WhatsApp client to use numeric login code instead of QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// Client wraps the Whatsmeow client for modular use
type Client struct {
	waClient *whatsmeow.Client
}

// driverFor picks the database/sql driver for the device store DSN.
func driverFor(dsn string) string {
	if store.DetectDSNType(dsn) == store.DSNTypePostgres {
		return store.DSNTypePostgres
	}
	return store.DSNTypeSQLite
}

// NewClient creates a new WhatsApp client, applying any provided options for customization.
// On first run it walks the user through QR (or numeric code) login.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("WhatsApp NewClient options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("No WhatsApp database DSN provided, using default SQLite path", "default_path", dbDSN)
	}

	dbDriver := driverFor(dbDSN)
	if dbDriver == store.DSNTypeSQLite && !strings.Contains(dbDSN, "foreign_keys") {
		slog.Warn("SQLite database for WhatsApp does not appear to have foreign keys enabled. "+
			"Consider adding '?_foreign_keys=on' to your connection string.",
			"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
	}

	slog.Debug("WhatsApp NewClient initializing DB store", "driver", dbDriver)
	container, err := sqlstore.New(ctx, dbDriver, dbDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		slog.Error("Failed to initialize WhatsApp DB store", "error", err)
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("Failed to get first device from store", "error", err)
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))

	if waClient.Store.ID != nil {
		slog.Debug("WhatsApp already logged in, connecting to server")
		if err := waClient.Connect(); err != nil {
			slog.Error("Failed to connect to WhatsApp server", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
		slog.Info("WhatsApp client connected successfully")
		return &Client{waClient: waClient}, nil
	}

	slog.Info("WhatsApp login required; starting QR code flow")
	qrChan, _ := waClient.GetQRChannel(ctx)
	if err := waClient.Connect(); err != nil {
		slog.Error("Failed to connect to WhatsApp during login", "error", err)
		return nil, fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}
	writer := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, ferr := os.Create(cfg.QRPath)
		if ferr != nil {
			slog.Error("Failed to create QR file", "error", ferr)
			return nil, fmt.Errorf("failed to create QR file: %w", ferr)
		}
		defer f.Close()
		writer = f
	}
	for evt := range qrChan {
		if evt.Event == "code" {
			if cfg.NumericCode {
				fmt.Fprintln(writer, evt.Code)
			} else {
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
			}
			continue
		}
		slog.Info("WhatsApp login event", "event", evt.Event)
	}
	slog.Info("WhatsApp client connected successfully")
	return &Client{waClient: waClient}, nil
}

// JIDFor converts a user identifier such as "+919876543210" to a WhatsApp JID.
func JIDFor(to string) types.JID {
	return types.NewJID(strings.TrimPrefix(strings.TrimSpace(to), "+"), JIDSuffix)
}

func (c *Client) ready(to string) error {
	if c.waClient == nil || c.waClient.Store == nil {
		return errNotInitialized
	}
	if to == "" {
		return errEmptyRecipient
	}
	return nil
}

// SendMessage sends a WhatsApp text message to the specified recipient.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if err := c.ready(to); err != nil {
		return err
	}
	if body == "" {
		return fmt.Errorf("message body cannot be empty")
	}

	slog.Debug("Sending WhatsApp message", "to", to, "body_length", len(body))
	if _, err := c.waClient.SendMessage(ctx, JIDFor(to), &waE2E.Message{Conversation: proto.String(body)}); err != nil {
		slog.Error("Failed to send WhatsApp message", "error", err, "to", to)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("WhatsApp message sent successfully", "to", to)
	return nil
}

// SendDocument uploads data and sends it to the recipient as a document.
func (c *Client) SendDocument(ctx context.Context, to, filename string, data []byte, caption string) error {
	if err := c.ready(to); err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("document %s is empty", filename)
	}

	slog.Debug("Uploading WhatsApp document", "to", to, "file", filename, "bytes", len(data))
	up, err := c.waClient.Upload(ctx, data, whatsmeow.MediaDocument)
	if err != nil {
		slog.Error("Failed to upload WhatsApp document", "error", err, "to", to, "file", filename)
		return fmt.Errorf("failed to upload %s: %w", filename, err)
	}

	msg := &waE2E.Message{DocumentMessage: DocumentMessage(up, filename, caption)}
	if _, err := c.waClient.SendMessage(ctx, JIDFor(to), msg); err != nil {
		slog.Error("Failed to send WhatsApp document", "error", err, "to", to, "file", filename)
		return fmt.Errorf("failed to send document to %s: %w", to, err)
	}
	slog.Info("WhatsApp document sent", "to", to, "file", filename)
	return nil
}

// DocumentMessage builds the document payload for an uploaded file.
func DocumentMessage(up whatsmeow.UploadResponse, filename, caption string) *waE2E.DocumentMessage {
	mimeType := mime.TypeByExtension(path.Ext(filename))
	if mimeType == "" {
		mimeType = DefaultDocumentMimeType
	}
	doc := &waE2E.DocumentMessage{
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
		Mimetype:      proto.String(mimeType),
		FileName:      proto.String(filename),
		Title:         proto.String(filename),
	}
	if caption != "" {
		doc.Caption = proto.String(caption)
	}
	return doc
}

// Download fetches and decrypts an inbound media message.
func (c *Client) Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error) {
	if c.waClient == nil {
		return nil, errNotInitialized
	}
	data, err := c.waClient.Download(ctx, msg)
	if err != nil {
		slog.Error("Failed to download WhatsApp media", "error", err)
		return nil, fmt.Errorf("failed to download media: %w", err)
	}
	return data, nil
}

// AddEventHandler registers fn for every whatsmeow event.
func (c *Client) AddEventHandler(fn func(evt interface{})) uint32 {
	return c.waClient.AddEventHandler(fn)
}

// Disconnect closes the connection to WhatsApp.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// MockClient records outbound messages instead of sending them (for tests).
type MockClient struct {
	Messages  []string
	Documents []string
	Err       error
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	if m.Err != nil {
		return m.Err
	}
	m.Messages = append(m.Messages, to+": "+body)
	return nil
}

func (m *MockClient) SendDocument(ctx context.Context, to, filename string, data []byte, caption string) error {
	if m.Err != nil {
		return m.Err
	}
	m.Documents = append(m.Documents, to+": "+filename)
	return nil
}
