// Package flow implements the conversation state machine: for each inbound
// message it looks up the sender's session, runs the transition registered for
// the session's (profile, stage) pair and returns the replies to send.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/BTreeMap/labbot/internal/lab"
	"github.com/BTreeMap/labbot/internal/metrics"
	"github.com/BTreeMap/labbot/internal/models"
	"github.com/BTreeMap/labbot/internal/session"
)

// exitToken aborts the order pipeline and the name/CRO prompt.
const exitToken = "sair"

// Domain is the set of lab queries the machine depends on.
type Domain interface {
	IdentifyProfile(ctx context.Context, sender string) (lab.Identity, error)
	Products(ctx context.Context) ([]models.Product, error)
	ResolveCatalogPrice(ctx context.Context, product string) (string, error)
	SaveOrder(ctx context.Context, clientName string, draft models.OrderDraft) (int, error)
	RenderClientOrders(ctx context.Context, clientName string, viewer models.Profile) (string, error)

	ReceivablesReport(ctx context.Context) (string, error)
	DeadlineBuckets(ctx context.Context) (models.DeadlineBuckets, error)
	RenderDeadlineBucket(ctx context.Context, b models.DeadlineBuckets, n int) (string, error)
	StatusSummary(ctx context.Context) ([]lab.StatusCount, error)
	OrdersByStatus(ctx context.Context, status string) (string, error)
	ClientBalances(ctx context.Context) ([]lab.ClientBalance, error)

	ListClients(ctx context.Context) (string, error)
	ListPatients(ctx context.Context) (string, error)
	ListProducts(ctx context.Context) (string, error)
	ListProspects(ctx context.Context) (string, error)
	ListAdmins(ctx context.Context) (string, error)
	RegisterProspect(ctx context.Context, phone, response string) error
}

var _ Domain = (*lab.Lab)(nil)

// Turn is the unit of work a Transition operates on. Session is a private copy
// that is committed only if the transition returns nil.
type Turn struct {
	Session *models.Session
	Text    string

	replies []models.Outbound
	end     bool
}

// Reply queues a text message.
func (t *Turn) Reply(text string) {
	t.replies = append(t.replies, models.Text(text))
}

// ReplyImage queues a picture with a caption.
func (t *Turn) ReplyImage(image []byte, caption string) {
	t.replies = append(t.replies, models.Outbound{Image: image, Caption: caption})
}

// End terminates the session once the turn completes.
func (t *Turn) End() {
	t.end = true
}

// Replies returns the queued messages.
func (t *Turn) Replies() []models.Outbound {
	return t.replies
}

// Goto moves the session to stage.
func (t *Turn) Goto(stage models.Stage) {
	t.Session.Stage = stage
}

// Transition handles one message for a (profile, stage) pair.
type Transition func(ctx context.Context, t *Turn) error

// Opts holds configuration options for Machine.
type Opts struct {
	Clock        session.Clock
	Metrics      *metrics.Metrics
	CatalogImage []byte
	CatalogLink  string
	LabName      string
}

// Option defines a configuration option for Machine.
type Option func(*Opts)

// WithClock sets the clock used to stamp new sessions.
func WithClock(c session.Clock) Option {
	return func(o *Opts) {
		o.Clock = c
	}
}

// WithMetrics sets the collectors updated on every turn.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) {
		o.Metrics = m
	}
}

// WithCatalogImage sets the picture sent to newly registered prospects.
func WithCatalogImage(image []byte) Option {
	return func(o *Opts) {
		o.CatalogImage = image
	}
}

// WithCatalogLink sets the catalog URL appended to the prospect caption.
func WithCatalogLink(link string) Option {
	return func(o *Opts) {
		o.CatalogLink = link
	}
}

// WithLabName sets the lab name shown to unknown senders.
func WithLabName(name string) Option {
	return func(o *Opts) {
		o.LabName = name
	}
}

// Machine routes inbound messages through the per-profile stage graphs.
type Machine struct {
	domain   Domain
	sessions session.Store
	clock    session.Clock
	metrics  *metrics.Metrics

	catalogImage []byte
	catalogLink  string
	labName      string

	table map[models.Profile]map[models.Stage]Transition
}

// NewMachine creates a Machine over the given domain and session store.
func NewMachine(domain Domain, sessions session.Store, opts ...Option) *Machine {
	cfg := Opts{Clock: session.RealClock{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	m := &Machine{
		domain:       domain,
		sessions:     sessions,
		clock:        cfg.Clock,
		metrics:      cfg.Metrics,
		catalogImage: cfg.CatalogImage,
		catalogLink:  cfg.CatalogLink,
		labName:      cfg.LabName,
	}
	m.table = map[models.Profile]map[models.Stage]Transition{
		models.ProfileAdmin: {
			models.StageAdminMenu:     m.adminHub,
			models.StageAdminDeadline: m.adminDeadline,
			models.StageAdminStatus:   m.adminStatus,
			models.StageAdminClients:  m.adminClients,
			models.StageAdminRegistry: m.adminRegistry,
		},
		models.ProfileClient: {
			models.StageClientMenu:    m.clientMenu,
			models.StageOrderPatient:  m.orderPatient,
			models.StageOrderProduct:  m.orderProduct,
			models.StageOrderQuantity: m.orderQuantity,
			models.StageOrderColor:    m.orderColor,
			models.StageOrderItemMenu: m.orderItemMenu,
			models.StageOrderNote:     m.orderNote,
		},
		models.ProfileUnknown: {
			models.StageUnknownMenu:      m.unknownMenu,
			models.StageAwaitNameLicense: m.awaitNameLicense,
		},
	}
	return m
}

// Lookup returns the transition registered for a profile and stage.
func (m *Machine) Lookup(p models.Profile, stage models.Stage) (Transition, bool) {
	t, ok := m.table[p][stage]
	return t, ok
}

// Handle processes one inbound message and returns the replies to deliver.
// Empty and self-sent messages are ignored. A returned error means the turn
// was aborted and the session left as it was.
func (m *Machine) Handle(ctx context.Context, in models.Inbound) ([]models.Outbound, error) {
	text := strings.TrimSpace(in.Body)
	if in.FromSelf || text == "" {
		slog.Debug("Machine.Handle: ignored", "sender", in.From, "from_self", in.FromSelf)
		m.metrics.Turn("", metrics.OutcomeIgnored)
		return nil, nil
	}
	log := slog.With("turn_id", uuid.NewString(), "sender", in.From)

	// Every turn after the first restarts the idle timer before any work.
	if !m.sessions.ResetExpiry(in.From) {
		return m.start(ctx, log, in.From)
	}
	sess, ok := m.sessions.Get(in.From)
	if !ok {
		return m.start(ctx, log, in.From)
	}
	log = log.With("profile", sess.Profile, "stage", sess.Stage)
	profile := string(sess.Profile)

	transition, ok := m.Lookup(sess.Profile, sess.Stage)
	if !ok {
		log.Warn("Machine.Handle: no transition for stage")
		m.metrics.Turn(profile, metrics.OutcomeNoop)
		return nil, nil
	}

	turn := &Turn{Session: sess, Text: text}
	if err := transition(ctx, turn); err != nil {
		log.Error("Machine.Handle: transition failed", "error", err)
		m.metrics.Turn(profile, metrics.OutcomeError)
		return nil, fmt.Errorf("%s/%s: %w", sess.Profile, sess.Stage, err)
	}

	if turn.end {
		m.sessions.Delete(sess.SenderID)
		log.Info("Machine.Handle: session ended")
		m.metrics.Turn(profile, metrics.OutcomeOK)
		return turn.replies, nil
	}
	if err := sess.Validate(); err != nil {
		log.Error("Machine.Handle: transition left an invalid session", "next_stage", sess.Stage, "error", err)
		m.metrics.Turn(profile, metrics.OutcomeError)
		return nil, err
	}
	if err := m.sessions.Save(sess); err != nil {
		if errors.Is(err, models.ErrSessionGone) {
			log.Warn("Machine.Handle: session expired during turn, state dropped")
			m.metrics.Turn(profile, metrics.OutcomeDropped)
			return turn.replies, nil
		}
		return nil, err
	}
	log.Debug("Machine.Handle: turn committed", "next_stage", sess.Stage, "replies", len(turn.replies))
	m.metrics.Turn(profile, metrics.OutcomeOK)
	return turn.replies, nil
}

// start identifies a new sender, creates the session, sends the profile's
// greeting and only then arms the idle timer.
func (m *Machine) start(ctx context.Context, log *slog.Logger, sender string) ([]models.Outbound, error) {
	id, err := m.domain.IdentifyProfile(ctx, sender)
	if err != nil {
		log.Error("Machine.start: identify failed", "error", err)
		m.metrics.Turn("", metrics.OutcomeError)
		return nil, fmt.Errorf("identify sender: %w", err)
	}
	sess := models.NewSession(sender, id.Phone, id.Profile, id.DisplayName, m.clock.Now())
	sess.ClientName = id.ClientName
	if _, err := m.sessions.Create(sess); err != nil {
		return nil, err
	}

	var greeting string
	switch id.Profile {
	case models.ProfileAdmin:
		greeting = adminGreeting(id.DisplayName)
	case models.ProfileClient:
		greeting = clientGreeting(id.DisplayName)
	default:
		greeting = unknownGreeting(m.labName)
	}
	m.sessions.ResetExpiry(sender)

	log.Info("Machine.start: session created", "profile", id.Profile, "phone", id.Phone)
	m.metrics.SessionStarted(string(id.Profile))
	m.metrics.Turn(string(id.Profile), metrics.OutcomeOK)
	return []models.Outbound{models.Text(greeting)}, nil
}

// parseIndex reads a 1-based menu choice into a list of n entries.
func parseIndex(text string, n int) (int, bool) {
	i, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || i < 1 || i > n {
		return 0, false
	}
	return i, true
}

func isExit(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), exitToken)
}
