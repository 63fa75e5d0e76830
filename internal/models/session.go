package models

import (
	"fmt"
	"time"
)

// Session is the per-sender conversation state tracked between messages.
type Session struct {
	SenderID    string
	Phone       string
	Profile     Profile
	DisplayName string
	// ClientName is the registered NOME_CLI of a client, without title.
	ClientName string
	Stage      Stage

	Order       *OrderDraft
	CurrentItem *OrderItem

	// Lists shown to the user on the previous turn, addressed by 1-based index.
	Products   []Product
	Deadlines  *DeadlineBuckets
	Statuses   []string
	ClientList []string

	CreatedAt      time.Time
	LastActivityAt time.Time
	// Generation is assigned by the session store on creation and used to
	// reject writes to a session that expired while a turn was in flight.
	Generation uint64
}

// NewSession creates a session positioned at the profile's initial stage.
func NewSession(senderID, phone string, profile Profile, displayName string, now time.Time) *Session {
	return &Session{
		SenderID:       senderID,
		Phone:          phone,
		Profile:        profile,
		DisplayName:    displayName,
		Stage:          InitialStage(profile),
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Clone returns a deep copy so a turn can mutate it without touching the stored value.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Order != nil {
		o := *s.Order
		o.Items = append([]OrderItem(nil), s.Order.Items...)
		c.Order = &o
	}
	if s.CurrentItem != nil {
		it := *s.CurrentItem
		c.CurrentItem = &it
	}
	if s.Deadlines != nil {
		d := *s.Deadlines
		d.Overdue = append([]Order(nil), s.Deadlines.Overdue...)
		d.Today = append([]Order(nil), s.Deadlines.Today...)
		d.Future = append([]Order(nil), s.Deadlines.Future...)
		c.Deadlines = &d
	}
	c.Products = append([]Product(nil), s.Products...)
	c.Statuses = append([]string(nil), s.Statuses...)
	c.ClientList = append([]string(nil), s.ClientList...)
	return &c
}

// ClearScratch drops every stashed list and the order in progress.
func (s *Session) ClearScratch() {
	s.Order = nil
	s.CurrentItem = nil
	s.Products = nil
	s.Deadlines = nil
	s.Statuses = nil
	s.ClientList = nil
}

// Validate checks the session invariants.
func (s *Session) Validate() error {
	if !IsStageOf(s.Profile, s.Stage) {
		return fmt.Errorf("%w: %s/%s", ErrInvalidStage, s.Profile, s.Stage)
	}
	if IsOrderStage(s.Stage) != (s.Order != nil) {
		return fmt.Errorf("order draft presence does not match stage %s", s.Stage)
	}
	if s.Order != nil {
		for _, it := range s.Order.Items {
			if err := it.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}
