// Package metrics defines the Prometheus collectors exported by labbot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "labbot"

// Turn outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeIgnored = "ignored"
	OutcomeNoop    = "noop"
	OutcomeError   = "error"
	OutcomeDropped = "dropped"
)

// Metrics groups the counters updated by the conversation machine and the
// session store. A nil *Metrics is valid and records nothing.
type Metrics struct {
	turns           *prometheus.CounterVec
	sessionsStarted *prometheus.CounterVec
	sessionsExpired prometheus.Counter
	ordersSaved     prometheus.Counter
	prospects       prometheus.Counter
	digestsSent     prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Inbound messages processed, by sender profile and outcome.",
		}, []string{"profile", "outcome"}),
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Sessions created on first contact, by sender profile.",
		}, []string{"profile"}),
		sessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Sessions removed by the idle timeout.",
		}),
		ordersSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_saved_total",
			Help:      "Orders written to PEDIDOS through the bot.",
		}),
		prospects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prospects_registered_total",
			Help:      "Unknown senders registered on CLI_APR.",
		}),
		digestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "digests_sent_total",
			Help:      "Scheduled deadline digests delivered to admins.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.turns, m.sessionsStarted, m.sessionsExpired, m.ordersSaved, m.prospects, m.digestsSent)
	}
	return m
}

// RegisterSessionGauge exports the live session count read from count.
func RegisterSessionGauge(reg prometheus.Registerer, count func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Conversations currently held in memory.",
	}, func() float64 { return float64(count()) }))
}

// Turn counts one processed inbound message.
func (m *Metrics) Turn(profile, outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(profile, outcome).Inc()
}

// SessionStarted counts a new session.
func (m *Metrics) SessionStarted(profile string) {
	if m == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(profile).Inc()
}

// SessionExpired counts an idle expiry.
func (m *Metrics) SessionExpired() {
	if m == nil {
		return
	}
	m.sessionsExpired.Inc()
}

// OrderSaved counts a completed order.
func (m *Metrics) OrderSaved() {
	if m == nil {
		return
	}
	m.ordersSaved.Inc()
}

// ProspectRegistered counts a CLI_APR registration.
func (m *Metrics) ProspectRegistered() {
	if m == nil {
		return
	}
	m.prospects.Inc()
}

// DigestSent counts a delivered admin digest.
func (m *Metrics) DigestSent() {
	if m == nil {
		return
	}
	m.digestsSent.Inc()
}
