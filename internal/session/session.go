// Package session keeps per-sender conversation state in memory and expires
// idle sessions.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/labbot/internal/models"
)

// DefaultTimeout is how long a session survives without inbound activity.
const DefaultTimeout = 120 * time.Second

// Store holds at most one session per sender.
type Store interface {
	// Get returns a copy of the sender's session.
	Get(senderID string) (*models.Session, bool)
	// Create stores a new session and assigns its generation. It fails with
	// ErrSessionExists if the sender already has one. No expiry is scheduled.
	Create(s *models.Session) (*models.Session, error)
	// Save replaces the stored session. It fails with ErrSessionGone if the
	// session was deleted or recreated since s was read.
	Save(s *models.Session) error
	// Delete removes the sender's session and cancels its expiry.
	Delete(senderID string) bool
	// ResetExpiry cancels any pending expiry and schedules a new one a full
	// timeout from now. It returns false if the sender has no session.
	ResetExpiry(senderID string) bool
	// Count returns the number of live sessions.
	Count() int
}

// Opts configures a MemoryStore.
type Opts struct {
	Clock    Clock
	Timeout  time.Duration
	OnExpire func(s *models.Session)
}

// Option defines a configuration option for MemoryStore.
type Option func(*Opts)

// WithClock sets the clock used for timestamps and expiry timers.
func WithClock(c Clock) Option {
	return func(o *Opts) {
		o.Clock = c
	}
}

// WithTimeout sets the idle timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// WithExpiryHook registers a callback run after a session expires.
func WithExpiryHook(f func(s *models.Session)) Option {
	return func(o *Opts) {
		o.OnExpire = f
	}
}

type entry struct {
	session *models.Session
	timer   Timer
	// seq identifies the currently scheduled expiry; a firing timer whose seq
	// no longer matches was superseded and does nothing.
	seq uint64
}

// MemoryStore is the in-process session Store.
type MemoryStore struct {
	mu       sync.Mutex
	clock    Clock
	timeout  time.Duration
	onExpire func(s *models.Session)
	entries  map[string]*entry
	nextGen  uint64
	nextSeq  uint64
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty session store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	cfg := Opts{Clock: RealClock{}, Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	slog.Debug("session.NewMemoryStore: created", "timeout", cfg.Timeout)
	return &MemoryStore{
		clock:    cfg.Clock,
		timeout:  cfg.Timeout,
		onExpire: cfg.OnExpire,
		entries:  make(map[string]*entry),
	}
}

// Timeout returns the configured idle timeout.
func (m *MemoryStore) Timeout() time.Duration {
	return m.timeout
}

// Now returns the store clock's current time.
func (m *MemoryStore) Now() time.Time {
	return m.clock.Now()
}

// Get returns a copy of the sender's session.
func (m *MemoryStore) Get(senderID string) (*models.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[senderID]
	if !ok {
		return nil, false
	}
	return e.session.Clone(), true
}

// Create stores s as a new session.
func (m *MemoryStore) Create(s *models.Session) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[s.SenderID]; ok {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionExists, s.SenderID)
	}
	m.nextGen++
	stored := s.Clone()
	stored.Generation = m.nextGen
	m.entries[s.SenderID] = &entry{session: stored}
	slog.Debug("SessionStore.Create", "sender", s.SenderID, "profile", s.Profile, "generation", stored.Generation)
	return stored.Clone(), nil
}

// Save replaces the stored session if it is still the one s was read from.
func (m *MemoryStore) Save(s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[s.SenderID]
	if !ok || e.session.Generation != s.Generation {
		slog.Debug("SessionStore.Save: session gone", "sender", s.SenderID, "generation", s.Generation)
		return fmt.Errorf("%w: %s", models.ErrSessionGone, s.SenderID)
	}
	e.session = s.Clone()
	return nil
}

// Delete removes the sender's session.
func (m *MemoryStore) Delete(senderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[senderID]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(m.entries, senderID)
	slog.Debug("SessionStore.Delete", "sender", senderID)
	return true
}

// ResetExpiry reschedules the sender's expiry a full timeout from now.
func (m *MemoryStore) ResetExpiry(senderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[senderID]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	m.nextSeq++
	seq := m.nextSeq
	e.seq = seq
	e.session.LastActivityAt = m.clock.Now()
	e.timer = m.clock.AfterFunc(m.timeout, func() { m.expire(senderID, seq) })
	return true
}

func (m *MemoryStore) expire(senderID string, seq uint64) {
	m.mu.Lock()
	e, ok := m.entries[senderID]
	if !ok || e.seq != seq {
		m.mu.Unlock()
		return
	}
	delete(m.entries, senderID)
	expired := e.session
	m.mu.Unlock()

	slog.Info("SessionStore: session expired", "sender", senderID, "profile", expired.Profile, "stage", expired.Stage)
	if m.onExpire != nil {
		m.onExpire(expired)
	}
}

// Count returns the number of live sessions.
func (m *MemoryStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
