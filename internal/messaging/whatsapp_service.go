package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/labbot/internal/models"
	"github.com/BTreeMap/labbot/internal/whatsapp"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client    whatsapp.Sender
	waClient  *whatsapp.Client // Access to underlying client for event handling
	responses chan models.Inbound

	mu        sync.RWMutex
	stopped   bool
	handlerID uint32
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given Sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client:    client,
		responses: make(chan models.Inbound, DefaultChannelBufferSize),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return service
}

// ValidateAndCanonicalizeRecipient accepts a JID string or a phone number.
// JIDs are normalized to their device-less form; numbers to bare digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if strings.Contains(recipient, "@") {
		jid, err := whatsapp.RecipientJID(recipient)
		if err != nil {
			return "", err
		}
		return jid.String(), nil
	}
	return canonicalPhone(recipient)
}

// Start subscribes to WhatsApp message events.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
		return nil
	}
	s.mu.Lock()
	s.handlerID = s.waClient.GetClient().AddEventHandler(s.handleEvent)
	s.mu.Unlock()
	slog.Debug("WhatsAppService event handler registered")
	return nil
}

// Stop unsubscribes from events and closes the inbound channel.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	id := s.handlerID
	s.mu.Unlock()

	// whatsmeow holds its handler lock while dispatching into emit, so the
	// handler is removed without holding s.mu.
	if s.waClient != nil && s.waClient.GetClient() != nil {
		s.waClient.GetClient().RemoveEventHandler(id)
	}
	s.mu.Lock()
	close(s.responses)
	s.mu.Unlock()
	slog.Info("WhatsAppService stopped and channels closed")
	return nil
}

func (s *WhatsAppService) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// SendText sends a text message.
func (s *WhatsAppService) SendText(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendText validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendText(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService SendText error", "error", err, "to", canonicalTo)
		return err
	}
	slog.Debug("WhatsAppService message sent", "to", canonicalTo)
	return nil
}

// SendImage sends a picture with caption.
func (s *WhatsAppService) SendImage(ctx context.Context, to string, image []byte, caption string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendImage validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendImage(ctx, canonicalTo, image, caption); err != nil {
		slog.Error("WhatsAppService SendImage error", "error", err, "to", canonicalTo)
		return err
	}
	slog.Debug("WhatsAppService image sent", "to", canonicalTo)
	return nil
}

// Responses returns a channel of inbound messages.
func (s *WhatsAppService) Responses() <-chan models.Inbound {
	return s.responses
}

func (s *WhatsAppService) handleEvent(evt interface{}) {
	if msg, ok := evt.(*events.Message); ok {
		s.handleIncomingMessage(msg)
	}
}

// handleIncomingMessage forwards direct text messages. Group and broadcast
// traffic and non-text messages are dropped here.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Info.IsGroup || evt.Info.Chat.Server == types.BroadcastServer {
		return
	}
	text := whatsapp.MessageText(evt.Message)
	from := whatsapp.SenderJID(evt.Info).String()
	if text == "" {
		slog.Debug("WhatsAppService ignoring non-text message", "from", from)
		return
	}
	s.emit(models.Inbound{
		MessageID: evt.Info.ID,
		From:      from,
		Body:      text,
		Time:      evt.Info.Timestamp.Unix(),
		FromSelf:  evt.Info.IsFromMe,
	})
}

// emit pushes an inbound message, waiting at most DefaultChannelTimeout.
func (s *WhatsAppService) emit(in models.Inbound) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("WhatsAppService dropping inbound message (service stopped)", "from", in.From)
		return
	}
	select {
	case s.responses <- in:
		slog.Debug("WhatsAppService incoming message forwarded", "from", in.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService responses channel blocked, dropping message", "from", in.From, "timeout", DefaultChannelTimeout)
	}
}
