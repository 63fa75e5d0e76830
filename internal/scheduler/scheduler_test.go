package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/BTreeMap/labbot/internal/metrics"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler(WithLocation(time.UTC))
	defer s.Stop(context.Background())

	// Should add a valid cron job without error
	if err := s.AddJob("0 7 * * 1-6", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob("@daily", func() {}); err != nil {
		t.Errorf("Expected descriptor to be accepted, got %v", err)
	}
	if err := s.AddJob("not a cron", func() {}); err == nil {
		t.Error("Expected error for invalid expression")
	}
	if s.Jobs() != 2 {
		t.Errorf("Jobs() = %d, want 2", s.Jobs())
	}
}

type fakeSource struct {
	admins    []string
	adminsErr error
	digest    string
}

func (f fakeSource) AdminNumbers(ctx context.Context) ([]string, error) {
	return f.admins, f.adminsErr
}

func (f fakeSource) DailyDigest(ctx context.Context) (string, error) {
	return f.digest, nil
}

type recordingSender struct {
	sent   map[string]string
	failTo string
}

func (r *recordingSender) SendText(ctx context.Context, to string, body string) error {
	if to == r.failTo {
		return errors.New("offline")
	}
	if r.sent == nil {
		r.sent = make(map[string]string)
	}
	r.sent[to] = body
	return nil
}

func TestDigestRunSendsToEveryAdmin(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	sender := &recordingSender{failTo: "5565999990007"}
	d := NewDigest(fakeSource{
		admins: []string{"5565999990001", "5565999990007", "5565999990008"},
		digest: "resumo",
	}, sender, m)

	err := d.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "5565999990007") {
		t.Fatalf("expected the failed admin in the error, got %v", err)
	}
	if len(sender.sent) != 2 || sender.sent["5565999990001"] != "resumo" || sender.sent["5565999990008"] != "resumo" {
		t.Errorf("sent = %v", sender.sent)
	}

	got, err := testutil.GatherAndCount(reg, "labbot_digests_sent_total")
	if err != nil || got != 1 {
		t.Fatalf("GatherAndCount = %d, %v", got, err)
	}
	expected := `
# HELP labbot_digests_sent_total Scheduled deadline digests delivered to admins.
# TYPE labbot_digests_sent_total counter
labbot_digests_sent_total 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "labbot_digests_sent_total"); err != nil {
		t.Errorf("unexpected metric: %v", err)
	}
}

func TestDigestRunWithoutAdmins(t *testing.T) {
	sender := &recordingSender{}
	if err := NewDigest(fakeSource{digest: "resumo"}, sender, nil).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("nothing should be sent, got %v", sender.sent)
	}
}

func TestDigestRunSourceFailure(t *testing.T) {
	sender := &recordingSender{}
	err := NewDigest(fakeSource{adminsErr: errors.New("sheet down")}, sender, nil).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "sheet down") {
		t.Errorf("expected source error, got %v", err)
	}
}
