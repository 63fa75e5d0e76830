package messaging

import (
	"context"
	"strings"
	"sync"

	"github.com/BTreeMap/labbot/internal/models"
)

// Sent is a message recorded by MockService.
type Sent struct {
	To      string
	Text    string
	Image   []byte
	Caption string
}

// MockService is an in-memory Service for tests. Inbound messages are
// injected with Emit.
type MockService struct {
	mu        sync.Mutex
	sent      []Sent
	responses chan models.Inbound
	stopped   bool
	// SendErr, when set, is returned by every send.
	SendErr error
}

var _ Service = (*MockService)(nil)

// NewMockService creates a MockService.
func NewMockService() *MockService {
	return &MockService{responses: make(chan models.Inbound, DefaultChannelBufferSize)}
}

// ValidateAndCanonicalizeRecipient trims the recipient and rejects empty ones.
func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}
	return recipient, nil
}

// SendText records a text message.
func (m *MockService) SendText(ctx context.Context, to string, body string) error {
	return m.record(Sent{To: to, Text: body})
}

// SendImage records a picture.
func (m *MockService) SendImage(ctx context.Context, to string, image []byte, caption string) error {
	return m.record(Sent{To: to, Image: image, Caption: caption})
}

func (m *MockService) record(s Sent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrServiceStopped
	}
	if m.SendErr != nil {
		return m.SendErr
	}
	m.sent = append(m.sent, s)
	return nil
}

// Sent returns a copy of everything sent so far.
func (m *MockService) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sent(nil), m.sent...)
}

// Emit injects an inbound message.
func (m *MockService) Emit(in models.Inbound) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped {
		m.responses <- in
	}
}

// Start is a no-op.
func (m *MockService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the inbound channel.
func (m *MockService) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped {
		m.stopped = true
		close(m.responses)
	}
	return nil
}

// Responses returns the inbound channel.
func (m *MockService) Responses() <-chan models.Inbound {
	return m.responses
}
