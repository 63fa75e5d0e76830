package session

import (
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/labbot/internal/models"
)

var start = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*MemoryStore, *ManualClock, *[]string) {
	t.Helper()
	clock := NewManualClock(start)
	var expired []string
	s := NewMemoryStore(WithClock(clock), WithExpiryHook(func(sess *models.Session) {
		expired = append(expired, sess.SenderID)
	}))
	return s, clock, &expired
}

func create(t *testing.T, s *MemoryStore, sender string) *models.Session {
	t.Helper()
	sess, err := s.Create(models.NewSession(sender, sender, models.ProfileClient, "Dr. X", start))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return sess
}

func TestSessionExpiresAfterTimeout(t *testing.T) {
	s, clock, expired := newTestStore(t)
	create(t, s, "a")
	s.ResetExpiry("a")

	clock.Advance(119 * time.Second)
	if _, ok := s.Get("a"); !ok {
		t.Fatal("session should survive 119s")
	}
	clock.Advance(time.Second)
	if _, ok := s.Get("a"); ok {
		t.Fatal("session should expire at 120s")
	}
	if len(*expired) != 1 || (*expired)[0] != "a" {
		t.Errorf("expiry hook calls = %v", *expired)
	}
}

func TestResetExpiryRestartsTheClock(t *testing.T) {
	s, clock, _ := newTestStore(t)
	create(t, s, "a")
	s.ResetExpiry("a")

	clock.Advance(119 * time.Second)
	if !s.ResetExpiry("a") {
		t.Fatal("ResetExpiry should find the session")
	}
	clock.Advance(119 * time.Second)
	if _, ok := s.Get("a"); !ok {
		t.Fatal("session should survive 119s after a reset")
	}
	if clock.Pending() != 1 {
		t.Errorf("expected exactly one pending timer, got %d", clock.Pending())
	}
	clock.Advance(time.Second)
	if _, ok := s.Get("a"); ok {
		t.Fatal("session should expire 120s after the last reset")
	}
}

func TestCreateDoesNotStartTimer(t *testing.T) {
	s, clock, _ := newTestStore(t)
	create(t, s, "a")
	if clock.Pending() != 0 {
		t.Errorf("Create scheduled %d timers", clock.Pending())
	}
	clock.Advance(time.Hour)
	if _, ok := s.Get("a"); !ok {
		t.Error("session without a timer should not expire")
	}
}

func TestStaleTimerDoesNotDeleteRecreatedSession(t *testing.T) {
	s, clock, expired := newTestStore(t)
	create(t, s, "a")
	s.ResetExpiry("a")

	clock.Advance(60 * time.Second)
	s.Delete("a")
	create(t, s, "a")
	s.ResetExpiry("a")

	clock.Advance(60 * time.Second)
	if _, ok := s.Get("a"); !ok {
		t.Fatal("recreated session removed by the previous session's timer")
	}
	clock.Advance(60 * time.Second)
	if _, ok := s.Get("a"); ok {
		t.Fatal("recreated session should expire on its own schedule")
	}
	if len(*expired) != 1 {
		t.Errorf("expiry hook calls = %v", *expired)
	}
}

func TestSaveAfterExpiryIsRejected(t *testing.T) {
	s, clock, _ := newTestStore(t)
	sess := create(t, s, "a")
	s.ResetExpiry("a")

	sess.Stage = models.StageOrderPatient
	sess.Order = &models.OrderDraft{}
	clock.Advance(DefaultTimeout)

	if err := s.Save(sess); !errors.Is(err, models.ErrSessionGone) {
		t.Fatalf("expected ErrSessionGone, got %v", err)
	}
	if s.Count() != 0 {
		t.Error("rejected save must not resurrect the session")
	}
}

func TestSaveAfterRecreateIsRejected(t *testing.T) {
	s, _, _ := newTestStore(t)
	old := create(t, s, "a")
	s.Delete("a")
	create(t, s, "a")

	old.Stage = models.StageOrderPatient
	if err := s.Save(old); !errors.Is(err, models.ErrSessionGone) {
		t.Fatalf("expected ErrSessionGone, got %v", err)
	}
	cur, _ := s.Get("a")
	if cur.Stage != models.StageClientMenu {
		t.Errorf("stale save overwrote the new session: stage %s", cur.Stage)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s, _, _ := newTestStore(t)
	create(t, s, "a")
	sess, _ := s.Get("a")
	sess.Stage = models.StageOrderNote
	again, _ := s.Get("a")
	if again.Stage != models.StageClientMenu {
		t.Error("mutating a Get result changed the stored session")
	}
	sess, _ = s.Get("a")
	sess.Stage = models.StageOrderPatient
	sess.Order = &models.OrderDraft{PatientName: "Ana"}
	if err := s.Save(sess); err != nil {
		t.Fatalf("Save: %v", err)
	}
	again, _ = s.Get("a")
	if again.Stage != models.StageOrderPatient || again.Order.PatientName != "Ana" {
		t.Errorf("Save not applied: %+v", again)
	}
}

func TestCreateTwiceFails(t *testing.T) {
	s, _, _ := newTestStore(t)
	create(t, s, "a")
	_, err := s.Create(models.NewSession("a", "a", models.ProfileUnknown, "", start))
	if !errors.Is(err, models.ErrSessionExists) {
		t.Errorf("expected ErrSessionExists, got %v", err)
	}
}

func TestDeleteCancelsTimer(t *testing.T) {
	s, clock, expired := newTestStore(t)
	create(t, s, "a")
	s.ResetExpiry("a")
	if !s.Delete("a") {
		t.Fatal("Delete should report the session existed")
	}
	if clock.Pending() != 0 {
		t.Errorf("Delete left %d timers pending", clock.Pending())
	}
	clock.Advance(DefaultTimeout)
	if len(*expired) != 0 {
		t.Errorf("deleted session reported as expired: %v", *expired)
	}
	if s.ResetExpiry("a") {
		t.Error("ResetExpiry on a missing session should return false")
	}
}

func TestResetExpiryStampsActivity(t *testing.T) {
	s, clock, _ := newTestStore(t)
	create(t, s, "a")
	clock.Advance(30 * time.Second)
	s.ResetExpiry("a")
	sess, _ := s.Get("a")
	if !sess.LastActivityAt.Equal(start.Add(30 * time.Second)) {
		t.Errorf("LastActivityAt = %v", sess.LastActivityAt)
	}
}

func TestRealClockTimerStops(t *testing.T) {
	var c RealClock
	timer := c.AfterFunc(time.Hour, func() {})
	if !timer.Stop() {
		t.Error("Stop on a pending real timer should return true")
	}
}
