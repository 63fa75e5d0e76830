// Package messaging connects the WhatsApp transports to the conversation
// machine: services deliver replies and emit inbound messages, and the
// ResponseHandler dispatches each inbound message and sends back the replies.
package messaging

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/BTreeMap/labbot/internal/models"
)

// Constants for service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the inbound channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines how long an emit waits on a full inbound channel
	DefaultChannelTimeout = 1 * time.Second
	// minPhoneDigits is the shortest number accepted as a recipient
	minPhoneDigits = 6
)

// ErrServiceStopped is returned by sends after Stop.
var ErrServiceStopped = models.ErrServiceStopped

var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service defines a pluggable message delivery abstraction.
// It supports sending text and images and provides a channel of inbound messages.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendText sends a text message to a recipient.
	SendText(ctx context.Context, to string, body string) error

	// SendImage sends a picture with a caption to a recipient.
	SendImage(ctx context.Context, to string, image []byte, caption string) error

	// Start begins any background processing (e.g., subscribing to events).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the inbound channel.
	Stop() error

	// Responses returns a channel of inbound messages.
	Responses() <-chan models.Inbound
}

// canonicalPhone strips every non-digit and checks the result is long enough
// to be a phone number.
func canonicalPhone(recipient string) (string, error) {
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < minPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, minPhoneDigits)
	}
	return canonical, nil
}

// Deliver sends replies to a recipient in order, stopping at the first failure.
func Deliver(ctx context.Context, svc Service, to string, replies []models.Outbound) error {
	for i, r := range replies {
		var err error
		if r.IsImage() {
			err = svc.SendImage(ctx, to, r.Image, r.Caption)
		} else {
			err = svc.SendText(ctx, to, r.Text)
		}
		if err != nil {
			return fmt.Errorf("failed to deliver reply %d of %d: %w", i+1, len(replies), err)
		}
	}
	return nil
}
