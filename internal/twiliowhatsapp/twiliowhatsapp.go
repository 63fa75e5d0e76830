// Package twiliowhatsapp wraps the Twilio API for WhatsApp integration in labbot.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Sender sends WhatsApp messages through Twilio. Images are referenced by a
// public URL that Twilio fetches.
type Sender interface {
	SendText(ctx context.Context, to string, body string) error
	SendMedia(ctx context.Context, to string, mediaURL string, caption string) error
}

// Opts holds configuration options for the Twilio WhatsApp client.
// This focuses solely on Twilio API requirements
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending number, with or without the "whatsapp:" prefix.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps Twilio REST API for WhatsApp
type Client struct {
	client    *twilio.RestClient
	fromWhats string // WhatsApp number in "whatsapp:+1234567890" format
}

// whatsappAddress formats a number as a Twilio WhatsApp address.
func whatsappAddress(number string) string {
	number = strings.TrimPrefix(strings.TrimSpace(number), "whatsapp:")
	if !strings.HasPrefix(number, "+") {
		number = "+" + number
	}
	return "whatsapp:" + number
}

// NewClient creates a Twilio client. Missing options fall back to
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)
	return &Client{
		client:    client,
		fromWhats: whatsappAddress(cfg.FromWhats),
	}, nil
}

func (c *Client) create(params *twilioApi.CreateMessageParams, to string) error {
	params.SetTo(whatsappAddress(to))
	params.SetFrom(c.fromWhats)
	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio CreateMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	if resp.Sid != nil {
		slog.Debug("Twilio message sent", "to", to, "sid", *resp.Sid)
	}
	return nil
}

// SendText sends a WhatsApp text message using Twilio API.
func (c *Client) SendText(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetBody(body)
	return c.create(params, to)
}

// SendMedia sends the picture at mediaURL with caption as the message body.
func (c *Client) SendMedia(ctx context.Context, to string, mediaURL string, caption string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetMediaUrl([]string{mediaURL})
	if caption != "" {
		params.SetBody(caption)
	}
	return c.create(params, to)
}

// SentMessage is a message recorded by MockClient.
type SentMessage struct {
	To       string
	Body     string
	MediaURL string
}

// MockClient implements Sender in memory for tests.
type MockClient struct {
	mu           sync.Mutex
	SentMessages []SentMessage
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}}
}

// SendText records a text message.
func (m *MockClient) SendText(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

// SendMedia records a media message.
func (m *MockClient) SendMedia(ctx context.Context, to string, mediaURL string, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: caption, MediaURL: mediaURL})
	return nil
}
