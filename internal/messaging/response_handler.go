package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/labbot/internal/models"
)

// DefaultErrorMessage is sent to a sender whose turn failed.
const DefaultErrorMessage = "⚠️ Não foi possível concluir sua solicitação agora. Tente novamente em instantes."

// DefaultTurnTimeout bounds the store and network work of a single turn.
const DefaultTurnTimeout = 30 * time.Second

// Handler turns one inbound message into replies.
type Handler interface {
	Handle(ctx context.Context, in models.Inbound) ([]models.Outbound, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, in models.Inbound) ([]models.Outbound, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, in models.Inbound) ([]models.Outbound, error) {
	return f(ctx, in)
}

// ResponseOption configures a ResponseHandler.
type ResponseOption func(*ResponseHandler)

// WithErrorMessage overrides the apology sent when a turn fails.
func WithErrorMessage(msg string) ResponseOption {
	return func(rh *ResponseHandler) {
		rh.errorMessage = msg
	}
}

// WithTurnTimeout overrides the per-turn deadline.
func WithTurnTimeout(d time.Duration) ResponseOption {
	return func(rh *ResponseHandler) {
		rh.turnTimeout = d
	}
}

// ResponseHandler consumes inbound messages one at a time, runs them through
// the handler and delivers the replies through the same service.
type ResponseHandler struct {
	msgService   Service
	handler      Handler
	errorMessage string
	turnTimeout  time.Duration
	done         chan struct{}
}

// NewResponseHandler creates a new ResponseHandler with the given messaging service.
func NewResponseHandler(msgService Service, handler Handler, opts ...ResponseOption) *ResponseHandler {
	rh := &ResponseHandler{
		msgService:   msgService,
		handler:      handler,
		errorMessage: DefaultErrorMessage,
		turnTimeout:  DefaultTurnTimeout,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rh)
	}
	return rh
}

// ProcessResponse handles one inbound message. A handler failure is reported
// to the sender with the error message and returned; the sender's session is
// left as it was, so other senders are unaffected.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, in models.Inbound) error {
	canonicalFrom, err := rh.msgService.ValidateAndCanonicalizeRecipient(in.From)
	if err != nil {
		slog.Error("ResponseHandler ProcessResponse validation failed", "error", err, "from", in.From)
		return fmt.Errorf("invalid sender: %w", err)
	}
	in.From = canonicalFrom

	turnCtx, cancel := context.WithTimeout(ctx, rh.turnTimeout)
	defer cancel()

	replies, err := rh.handler.Handle(turnCtx, in)
	if err != nil {
		slog.Error("ResponseHandler turn failed", "error", err, "from", canonicalFrom)
		if sendErr := rh.msgService.SendText(ctx, canonicalFrom, rh.errorMessage); sendErr != nil {
			slog.Error("ResponseHandler failed to send error message", "error", sendErr, "from", canonicalFrom)
		}
		return fmt.Errorf("turn failed: %w", err)
	}
	if len(replies) == 0 {
		return nil
	}
	if err := Deliver(ctx, rh.msgService, canonicalFrom, replies); err != nil {
		slog.Error("ResponseHandler failed to deliver replies", "error", err, "from", canonicalFrom)
		return err
	}
	slog.Debug("ResponseHandler replies delivered", "from", canonicalFrom, "count", len(replies))
	return nil
}

// Start begins processing inbound messages from the messaging service in a
// single goroutine, so messages are handled strictly in arrival order.
func (rh *ResponseHandler) Start(ctx context.Context) {
	slog.Info("ResponseHandler starting response processing")

	go func() {
		defer close(rh.done)
		defer slog.Info("ResponseHandler stopped response processing")

		for {
			select {
			case in, ok := <-rh.msgService.Responses():
				if !ok {
					slog.Debug("ResponseHandler responses channel closed")
					return
				}
				if err := rh.ProcessResponse(ctx, in); err != nil {
					slog.Error("ResponseHandler failed to process response", "error", err, "from", in.From)
				}
			case <-ctx.Done():
				slog.Debug("ResponseHandler stopping due to context cancellation")
				return
			}
		}
	}()
}

// Done is closed when the processing loop started by Start exits.
func (rh *ResponseHandler) Done() <-chan struct{} {
	return rh.done
}
