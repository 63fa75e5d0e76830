package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/labbot/internal/models"
	"github.com/BTreeMap/labbot/internal/twiliowhatsapp"
)

// TwilioService implements the Service interface using Twilio API
type TwilioService struct {
	client    twiliowhatsapp.Sender // Could be real Twilio client or MockClient
	mediaURL  string
	responses chan models.Inbound

	mu      sync.RWMutex
	stopped bool
}

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithMediaURL sets the public URL Twilio fetches when an image reply is sent.
// Twilio cannot upload raw bytes, so image replies reference this URL.
func WithMediaURL(url string) TwilioOption {
	return func(s *TwilioService) {
		s.mediaURL = url
	}
}

// NewTwilioService creates a new TwilioService around a Twilio sender.
func NewTwilioService(client twiliowhatsapp.Sender, opts ...TwilioOption) *TwilioService {
	service := &TwilioService{
		client:    client,
		responses: make(chan models.Inbound, DefaultChannelBufferSize),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
// It removes all non-numeric characters and validates the result has at least 6 digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := canonicalPhone(strings.TrimPrefix(recipient, "whatsapp:"))
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op for Twilio; inbound messages arrive through the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the inbound channel.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.responses)
	return nil
}

func (s *TwilioService) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// SendText sends a message via Twilio.
func (s *TwilioService) SendText(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendText validation error", "error", err, "to", to)
		return err
	}
	return s.client.SendText(ctx, canonicalTo, body)
}

// SendImage sends the configured media URL with caption. Without a media URL
// only the caption is sent.
func (s *TwilioService) SendImage(ctx context.Context, to string, image []byte, caption string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendImage validation error", "error", err, "to", to)
		return err
	}
	if s.mediaURL == "" {
		slog.Warn("TwilioService SendImage: no media URL configured, sending caption only", "to", canonicalTo)
		return s.client.SendText(ctx, canonicalTo, caption)
	}
	return s.client.SendMedia(ctx, canonicalTo, s.mediaURL, caption)
}

// Responses returns the channel for incoming messages.
func (s *TwilioService) Responses() <-chan models.Inbound {
	return s.responses
}

// TwilioWebhookHandler handles inbound Twilio webhook requests.
// It parses incoming messages and emits them into the Responses() channel.
// Media-only messages carry no Body and are acknowledged without being forwarded.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" {
		slog.Warn("Twilio webhook missing sender")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(body) != "" {
		s.emit(models.Inbound{
			MessageID: r.FormValue("MessageSid"),
			From:      strings.TrimPrefix(from, "whatsapp:"),
			Body:      body,
			Time:      time.Now().Unix(),
		})
	} else {
		slog.Debug("Twilio webhook without text ignored", "from", from)
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// emit safely pushes an inbound message into the responses channel.
func (s *TwilioService) emit(in models.Inbound) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("TwilioService dropping inbound message (service stopped)", "from", in.From)
		return
	}
	select {
	case s.responses <- in:
		slog.Debug("TwilioService emitted inbound message", "from", in.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService responses channel blocked, dropping message", "from", in.From)
	}
}
