package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twilio/twilio-go/client"

	"github.com/BTreeMap/labbot/internal/models"
)

// SessionCounter reports how many conversations are live.
type SessionCounter interface {
	Count() int
}

// Server serves labbot's HTTP surface: health, Prometheus metrics and, when
// Twilio is the provider, the inbound message webhook.
type Server struct {
	sessions  SessionCounter
	gatherer  prometheus.Gatherer
	ready     func() error
	startedAt time.Time

	webhook          http.HandlerFunc
	webhookURL       string
	webhookValidator *client.RequestValidator
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithGatherer exposes the metrics of g on /metrics.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithReadiness sets a check run by /health; a non-nil error reports the
// service as degraded.
func WithReadiness(check func() error) ServerOption {
	return func(s *Server) {
		s.ready = check
	}
}

// WithTwilioWebhook mounts h on /webhook/twilio. When authToken is set, every
// request must carry a valid X-Twilio-Signature computed over publicURL.
func WithTwilioWebhook(h http.HandlerFunc, authToken, publicURL string) ServerOption {
	return func(s *Server) {
		s.webhook = h
		s.webhookURL = publicURL
		if authToken != "" {
			v := client.NewRequestValidator(authToken)
			s.webhookValidator = &v
		}
	}
}

// NewServer creates a Server reporting the session count of sessions.
func NewServer(sessions SessionCounter, opts ...ServerOption) *Server {
	s := &Server{sessions: sessions, startedAt: time.Now()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	if s.webhook != nil {
		mux.HandleFunc("/webhook/twilio", s.twilioWebhookHandler)
	}
	return mux
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	}
	if s.sessions != nil {
		healthData["active_sessions"] = s.sessions.Count()
	}

	statusCode := http.StatusOK
	if s.ready != nil {
		if err := s.ready(); err != nil {
			slog.Warn("Server.healthHandler: readiness check failed", "error", err)
			healthData["status"] = "degraded"
			healthData["error"] = err.Error()
			statusCode = http.StatusServiceUnavailable
		}
	}

	writeJSONResponse(w, statusCode, healthData)
}

// twilioWebhookHandler checks the request method and signature before handing
// the form to the messaging service.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	if s.webhookValidator != nil {
		if err := r.ParseForm(); err != nil {
			slog.Warn("Server.twilioWebhookHandler: bad form", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Bad request"))
			return
		}
		params := make(map[string]string, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		if !s.webhookValidator.Validate(s.webhookURL, params, r.Header.Get("X-Twilio-Signature")) {
			slog.Warn("Server.twilioWebhookHandler: invalid signature", "remote", r.RemoteAddr)
			writeJSONResponse(w, http.StatusForbidden, models.Error("Invalid signature"))
			return
		}
	}
	s.webhook(w, r)
}
