// Package api wires labbot's modules together and serves its HTTP surface.
//
// Run opens the tabular store, builds the domain layer, the session store and
// the conversation machine, connects the configured WhatsApp provider and
// dispatches inbound messages until the process is signalled to stop.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/BTreeMap/labbot/internal/flow"
	"github.com/BTreeMap/labbot/internal/lab"
	"github.com/BTreeMap/labbot/internal/messaging"
	"github.com/BTreeMap/labbot/internal/metrics"
	"github.com/BTreeMap/labbot/internal/models"
	"github.com/BTreeMap/labbot/internal/scheduler"
	"github.com/BTreeMap/labbot/internal/session"
	"github.com/BTreeMap/labbot/internal/store"
	"github.com/BTreeMap/labbot/internal/twiliowhatsapp"
	"github.com/BTreeMap/labbot/internal/whatsapp"
)

// Messaging providers.
const (
	ProviderWhatsApp = "whatsapp"
	ProviderTwilio   = "twilio"
)

// Tabular data backends.
const (
	BackendSheets = "sheets"
	BackendSQL    = "sql"
)

const (
	// DefaultServerAddress is the listen address of the HTTP server.
	DefaultServerAddress = ":8080"
	// DefaultDigestCron sends the deadline digest at 07:00, Monday to Saturday.
	DefaultDigestCron = "0 7 * * 1-6"
	// DigestDisabled turns the scheduled digest off.
	DigestDisabled = "off"
	// DefaultShutdownTimeout bounds the graceful shutdown.
	DefaultShutdownTimeout = 15 * time.Second
)

// Opts holds configuration options for the service.
type Opts struct {
	Addr             string
	Provider         string
	DataBackend      string
	SessionTimeout   time.Duration
	TurnTimeout      time.Duration
	CatalogImagePath string
	CatalogImageURL  string // public URL Twilio fetches for the catalog picture
	CatalogLink      string
	LabName          string
	DigestCron       string
	WebhookAuthToken string // Twilio auth token used to verify webhook signatures
	WebhookURL       string // public URL Twilio posts to, as signed
}

// Option defines a configuration option for the service.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithProvider selects the messaging provider, "whatsapp" or "twilio".
func WithProvider(p string) Option {
	return func(o *Opts) {
		o.Provider = p
	}
}

// WithDataBackend selects the tabular backend, "sheets" or "sql".
func WithDataBackend(b string) Option {
	return func(o *Opts) {
		o.DataBackend = b
	}
}

// WithSessionTimeout overrides the idle expiry of conversations.
func WithSessionTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.SessionTimeout = d
	}
}

// WithTurnTimeout overrides the per-message processing deadline.
func WithTurnTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.TurnTimeout = d
	}
}

// WithCatalogImage sets the picture file sent to registered prospects.
func WithCatalogImage(path string) Option {
	return func(o *Opts) {
		o.CatalogImagePath = path
	}
}

// WithCatalogImageURL sets the public URL of the catalog picture.
func WithCatalogImageURL(url string) Option {
	return func(o *Opts) {
		o.CatalogImageURL = url
	}
}

// WithCatalogLink sets the catalog link in the prospect caption.
func WithCatalogLink(link string) Option {
	return func(o *Opts) {
		o.CatalogLink = link
	}
}

// WithLabName sets the lab name used in greetings.
func WithLabName(name string) Option {
	return func(o *Opts) {
		o.LabName = name
	}
}

// WithDigestCron sets the cron expression of the admin digest ("off" disables it).
func WithDigestCron(expr string) Option {
	return func(o *Opts) {
		o.DigestCron = expr
	}
}

// WithWebhookValidation enables Twilio signature checks on the webhook.
func WithWebhookValidation(authToken, publicURL string) Option {
	return func(o *Opts) {
		o.WebhookAuthToken = authToken
		o.WebhookURL = publicURL
	}
}

func buildOpts(opts []Option) Opts {
	cfg := Opts{
		Addr:        DefaultServerAddress,
		Provider:    ProviderWhatsApp,
		DataBackend: BackendSheets,
		DigestCron:  DefaultDigestCron,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Run starts every module and blocks until SIGINT or SIGTERM, then shuts
// down in reverse order.
func Run(waOpts []whatsapp.Option, twilioOpts []twiliowhatsapp.Option, storeOpts []store.Option, labOpts []lab.Option, apiOpts []Option) error {
	cfg := buildOpts(apiOpts)
	slog.Debug("api.Run: configuration", "addr", cfg.Addr, "provider", cfg.Provider, "backend", cfg.DataBackend,
		"digest_cron", cfg.DigestCron, "session_timeout", cfg.SessionTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg.DataBackend, storeOpts)
	if err != nil {
		return err
	}
	defer closeStore()

	labSvc := lab.New(st, labOpts...)
	if definer, ok := st.(lab.SheetDefiner); ok {
		if err := labSvc.DefineSheets(ctx, definer); err != nil {
			return fmt.Errorf("failed to prepare tables: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	sessionOpts := []session.Option{session.WithExpiryHook(func(s *models.Session) {
		slog.Info("api.Run: session expired", "sender", s.SenderID, "stage", s.Stage)
		m.SessionExpired()
	})}
	if cfg.SessionTimeout > 0 {
		sessionOpts = append(sessionOpts, session.WithTimeout(cfg.SessionTimeout))
	}
	sessions := session.NewMemoryStore(sessionOpts...)
	metrics.RegisterSessionGauge(reg, sessions.Count)

	flowOpts := []flow.Option{flow.WithMetrics(m)}
	if cfg.CatalogImagePath != "" {
		image, err := os.ReadFile(cfg.CatalogImagePath)
		if err != nil {
			return fmt.Errorf("failed to read catalog image: %w", err)
		}
		flowOpts = append(flowOpts, flow.WithCatalogImage(image))
	}
	if cfg.CatalogLink != "" {
		flowOpts = append(flowOpts, flow.WithCatalogLink(cfg.CatalogLink))
	}
	if cfg.LabName != "" {
		flowOpts = append(flowOpts, flow.WithLabName(cfg.LabName))
	}
	machine := flow.NewMachine(labSvc, sessions, flowOpts...)

	conn, err := connect(ctx, cfg, waOpts, twilioOpts)
	if err != nil {
		return err
	}
	defer conn.close()
	msgService := conn.service
	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}

	var respOpts []messaging.ResponseOption
	if cfg.TurnTimeout > 0 {
		respOpts = append(respOpts, messaging.WithTurnTimeout(cfg.TurnTimeout))
	}
	respHandler := messaging.NewResponseHandler(msgService, machine, respOpts...)
	respHandler.Start(ctx)

	sched := scheduler.NewScheduler(scheduler.WithLocation(labSvc.Location()))
	if strings.EqualFold(cfg.DigestCron, DigestDisabled) || cfg.DigestCron == "" {
		slog.Info("api.Run: admin digest disabled")
	} else if err := scheduler.NewDigest(labSvc, msgService, m).Schedule(ctx, sched, cfg.DigestCron); err != nil {
		sched.Stop(ctx)
		return fmt.Errorf("invalid digest schedule %q: %w", cfg.DigestCron, err)
	}

	serverOpts := []ServerOption{WithGatherer(reg), WithReadiness(conn.ready)}
	if conn.webhook != nil {
		serverOpts = append(serverOpts, WithTwilioWebhook(conn.webhook, cfg.WebhookAuthToken, cfg.WebhookURL))
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewServer(sessions, serverOpts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("labbot API server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("api.Run: shutdown signal received")
	case err := <-serverErr:
		runErr = fmt.Errorf("API server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("api.Run: HTTP shutdown failed", "error", err)
	}
	sched.Stop(shutdownCtx)
	if err := msgService.Stop(); err != nil {
		slog.Error("api.Run: messaging stop failed", "error", err)
	}
	select {
	case <-respHandler.Done():
	case <-shutdownCtx.Done():
		slog.Warn("api.Run: response handler did not finish in time")
	}
	slog.Info("api.Run: shutdown complete", "sessions_dropped", sessions.Count())
	return runErr
}

// openStore builds the tabular backend. SQL backends pick SQLite or Postgres
// from the DSN.
func openStore(ctx context.Context, backend string, opts []store.Option) (store.Store, func(), error) {
	switch backend {
	case BackendSheets:
		st, err := store.NewSheetsStore(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sheets store: %w", err)
		}
		slog.Info("api.openStore: using Google Sheets backend")
		return st, func() {}, nil
	case BackendSQL:
		var cfg store.Opts
		for _, opt := range opts {
			opt(&cfg)
		}
		if store.DetectDSNType(cfg.DSN) == "postgres" {
			st, err := store.NewPostgresStore(opts...)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
			}
			slog.Info("api.openStore: using PostgreSQL backend")
			return st, closer(st), nil
		}
		st, err := store.NewSQLiteStore(opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		slog.Info("api.openStore: using SQLite backend")
		return st, closer(st), nil
	default:
		return nil, nil, fmt.Errorf("unknown data backend %q", backend)
	}
}

func closer(c interface{ Close() error }) func() {
	return func() {
		if err := c.Close(); err != nil {
			slog.Error("api: failed to close store", "error", err)
		}
	}
}

// connection bundles a messaging service with its provider-specific extras.
type connection struct {
	service messaging.Service
	webhook http.HandlerFunc
	ready   func() error
	close   func()
}

// connect builds the messaging service of the configured provider.
func connect(ctx context.Context, cfg Opts, waOpts []whatsapp.Option, twilioOpts []twiliowhatsapp.Option) (*connection, error) {
	switch cfg.Provider {
	case ProviderWhatsApp:
		waClient, err := whatsapp.NewClient(ctx, waOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return &connection{
			service: messaging.NewWhatsAppService(waClient),
			ready: func() error {
				if waClient.LoggedOut() {
					return errors.New("whatsapp session logged out")
				}
				return nil
			},
			close: waClient.Disconnect,
		}, nil
	case ProviderTwilio:
		twClient, err := twiliowhatsapp.NewClient(twilioOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		var svcOpts []messaging.TwilioOption
		if cfg.CatalogImageURL != "" {
			svcOpts = append(svcOpts, messaging.WithMediaURL(cfg.CatalogImageURL))
		}
		svc := messaging.NewTwilioService(twClient, svcOpts...)
		return &connection{
			service: svc,
			webhook: svc.TwilioWebhookHandler,
			ready:   func() error { return nil },
			close:   func() {},
		}, nil
	default:
		return nil, fmt.Errorf("unknown messaging provider %q", cfg.Provider)
	}
}
