// Package whatsapp wraps the Whatsmeow client for WhatsApp integration in labbot.
//
// It provides methods for sending text and image messages and for subscribing
// to WhatsApp events.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/BTreeMap/labbot/internal/models"
	"github.com/BTreeMap/labbot/internal/store"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for WhatsApp/whatsmeow SQLite database
	DefaultSQLitePath = "/var/lib/labbot/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users
	JIDSuffix = types.DefaultUserServer
)

// Sender is the send side of a WhatsApp client (for production and testing).
type Sender interface {
	SendText(ctx context.Context, to string, body string) error
	SendImage(ctx context.Context, to string, image []byte, caption string) error
}

// Opts holds configuration options for the WhatsApp client.
// This focuses solely on WhatsApp/whatsmeow database configuration and login settings.
type Opts struct {
	DBDSN       string // WhatsApp/whatsmeow database connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // print the raw pairing code instead of a QR code
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

// WithNumericCode instructs the WhatsApp client to print the pairing code as text.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// Client wraps the Whatsmeow client for modular use
type Client struct {
	waClient *whatsmeow.Client

	mu        sync.Mutex
	loggedOut bool
}

// driverFor picks the database/sql driver for a whatsmeow store DSN.
func driverFor(dsn string) string {
	if store.DetectDSNType(dsn) == "postgres" {
		return "postgres"
	}
	return "sqlite3"
}

// hasForeignKeys reports whether a SQLite DSN enables foreign keys, which
// whatsmeow strongly recommends.
func hasForeignKeys(dsn string) bool {
	return strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "foreign_keys")
}

// NewClient creates a new WhatsApp client, applying any provided options for customization.
// On first run it prints a login QR code and blocks until pairing completes.
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
	if dbDriver == "sqlite3" && !hasForeignKeys(dbDSN) {
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
	waClient.EnableAutoReconnect = true
	c := &Client{waClient: waClient}
	waClient.AddEventHandler(c.handleConnectionEvent)

	if waClient.Store.ID == nil {
		if err := c.login(ctx, cfg); err != nil {
			return nil, err
		}
	} else {
		slog.Debug("WhatsApp already logged in, connecting to server")
		if err := waClient.Connect(); err != nil {
			slog.Error("Failed to connect to WhatsApp server", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
	}
	slog.Info("WhatsApp client connected successfully")
	return c, nil
}

func (c *Client) login(ctx context.Context, cfg Opts) error {
	slog.Info("WhatsApp login required; starting QR code flow")
	qrChan, _ := c.waClient.GetQRChannel(ctx)
	if err := c.waClient.Connect(); err != nil {
		slog.Error("Failed to connect to WhatsApp during login", "error", err)
		return fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}
	writer := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			slog.Error("Failed to create QR file", "error", err)
			return fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		writer = f
	}
	for evt := range qrChan {
		if evt.Event == whatsmeow.QRChannelEventCode {
			if cfg.NumericCode {
				fmt.Fprintln(writer, evt.Code)
			} else {
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
			}
			continue
		}
		slog.Info("WhatsApp login event", "event", evt.Event)
		if evt.Error != nil {
			return fmt.Errorf("whatsapp login failed: %w", evt.Error)
		}
	}
	return nil
}

// handleConnectionEvent logs connection changes. whatsmeow reconnects on its
// own after a drop; a logout is final and stops the client.
func (c *Client) handleConnectionEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		slog.Info("WhatsApp connected")
	case *events.Disconnected:
		slog.Warn("WhatsApp disconnected, waiting for reconnect")
	case *events.LoggedOut:
		slog.Error("WhatsApp session logged out; remove the device store and pair again", "reason", v.Reason)
		c.mu.Lock()
		c.loggedOut = true
		c.mu.Unlock()
		go c.waClient.Disconnect()
	}
}

// LoggedOut reports whether the linked device was logged out.
func (c *Client) LoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

// RecipientJID turns a bare phone number or a full JID string into a user JID.
func RecipientJID(to string) (types.JID, error) {
	if to == "" {
		return types.JID{}, models.ErrEmptyRecipient
	}
	if strings.Contains(to, "@") {
		jid, err := types.ParseJID(to)
		if err != nil {
			return types.JID{}, fmt.Errorf("invalid recipient %q: %w", to, err)
		}
		return jid.ToNonAD(), nil
	}
	return types.NewJID(strings.TrimPrefix(to, "+"), JIDSuffix), nil
}

func (c *Client) ready() error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if c.waClient.Store == nil {
		return fmt.Errorf("whatsapp client store not available")
	}
	return nil
}

// SendText sends a WhatsApp text message to the specified recipient.
func (c *Client) SendText(ctx context.Context, to string, body string) error {
	if err := c.ready(); err != nil {
		return err
	}
	if body == "" {
		return models.ErrEmptyBody
	}
	jid, err := RecipientJID(to)
	if err != nil {
		return err
	}

	slog.Debug("Sending WhatsApp message", "to", jid.String(), "body_length", len(body))
	if _, err := c.waClient.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(body)}); err != nil {
		slog.Error("Failed to send WhatsApp message", "error", err, "to", to)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("WhatsApp message sent successfully", "to", to)
	return nil
}

// SendImage uploads image to the WhatsApp media servers and sends it with caption.
func (c *Client) SendImage(ctx context.Context, to string, image []byte, caption string) error {
	if err := c.ready(); err != nil {
		return err
	}
	if len(image) == 0 {
		return models.ErrEmptyBody
	}
	jid, err := RecipientJID(to)
	if err != nil {
		return err
	}

	uploaded, err := c.waClient.Upload(ctx, image, whatsmeow.MediaImage)
	if err != nil {
		slog.Error("Failed to upload WhatsApp image", "error", err, "to", to, "size", len(image))
		return fmt.Errorf("failed to upload image for %s: %w", to, err)
	}
	msg := &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
		Caption:       proto.String(caption),
		Mimetype:      proto.String(http.DetectContentType(image)),
		URL:           proto.String(uploaded.URL),
		DirectPath:    proto.String(uploaded.DirectPath),
		MediaKey:      uploaded.MediaKey,
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    proto.Uint64(uploaded.FileLength),
	}}
	if _, err := c.waClient.SendMessage(ctx, jid, msg); err != nil {
		slog.Error("Failed to send WhatsApp image", "error", err, "to", to)
		return fmt.Errorf("failed to send image to %s: %w", to, err)
	}
	slog.Debug("WhatsApp image sent successfully", "to", to, "size", len(image))
	return nil
}

// Disconnect closes the connection to WhatsApp.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// GetClient returns the underlying whatsmeow client for event handling
func (c *Client) GetClient() *whatsmeow.Client {
	return c.waClient
}

// MessageText extracts the text of a plain or extended text message. Other
// message kinds yield "".
func MessageText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if msg.Conversation != nil {
		return msg.GetConversation()
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return ""
}

// SenderJID returns the phone-number JID of a message sender, preferring the
// alternate address when WhatsApp delivered the message from a hidden (LID)
// identity.
func SenderJID(info types.MessageInfo) types.JID {
	sender := info.Sender
	if sender.Server == types.HiddenUserServer && !info.SenderAlt.IsEmpty() {
		sender = info.SenderAlt
	}
	return sender.ToNonAD()
}

// SentText is a text recorded by MockClient.
type SentText struct {
	To   string
	Body string
}

// SentImage is an image recorded by MockClient.
type SentImage struct {
	To      string
	Image   []byte
	Caption string
}

// MockClient implements Sender and records what it was asked to send.
// In tests, use whatsapp.NewMockClient() instead of NewClient to avoid real WhatsApp connections.
type MockClient struct {
	mu     sync.Mutex
	Texts  []SentText
	Images []SentImage
	// Err, when set, is returned by every send.
	Err error
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// SendText records a text message.
func (m *MockClient) SendText(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Texts = append(m.Texts, SentText{To: to, Body: body})
	return nil
}

// SendImage records an image message.
func (m *MockClient) SendImage(ctx context.Context, to string, image []byte, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Images = append(m.Images, SentImage{To: to, Image: image, Caption: caption})
	return nil
}
