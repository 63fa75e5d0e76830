package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/labbot/internal/metrics"
)

// DefaultDigestTimeout bounds one digest run.
const DefaultDigestTimeout = 2 * time.Minute

// DigestSource produces the digest text and its recipients.
type DigestSource interface {
	AdminNumbers(ctx context.Context) ([]string, error)
	DailyDigest(ctx context.Context) (string, error)
}

// TextSender delivers a text message.
type TextSender interface {
	SendText(ctx context.Context, to string, body string) error
}

// Digest sends the deadline summary to every admin.
type Digest struct {
	source  DigestSource
	sender  TextSender
	metrics *metrics.Metrics
	timeout time.Duration
}

// NewDigest creates a Digest. m may be nil.
func NewDigest(source DigestSource, sender TextSender, m *metrics.Metrics) *Digest {
	return &Digest{source: source, sender: sender, metrics: m, timeout: DefaultDigestTimeout}
}

// Run renders the digest once and sends it to each admin. A failed delivery
// does not stop the others; all failures are joined into the returned error.
func (d *Digest) Run(ctx context.Context) error {
	admins, err := d.source.AdminNumbers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list admins: %w", err)
	}
	if len(admins) == 0 {
		slog.Info("Digest.Run: no admins registered, skipping")
		return nil
	}
	body, err := d.source.DailyDigest(ctx)
	if err != nil {
		return fmt.Errorf("failed to render digest: %w", err)
	}

	var errs []error
	sent := 0
	for _, to := range admins {
		if err := d.sender.SendText(ctx, to, body); err != nil {
			slog.Error("Digest.Run: send failed", "to", to, "error", err)
			errs = append(errs, fmt.Errorf("send to %s: %w", to, err))
			continue
		}
		sent++
		d.metrics.DigestSent()
	}
	slog.Info("Digest.Run: digest delivered", "sent", sent, "admins", len(admins))
	return errors.Join(errs...)
}

// Schedule registers the digest on s under expr.
func (d *Digest) Schedule(ctx context.Context, s *Scheduler, expr string) error {
	return s.AddJob(expr, func() {
		runCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		if err := d.Run(runCtx); err != nil {
			slog.Error("Digest: scheduled run failed", "error", err)
		}
	})
}
