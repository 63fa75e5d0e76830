package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BTreeMap/labbot/internal/messaging"
	"github.com/BTreeMap/labbot/internal/metrics"
	"github.com/BTreeMap/labbot/internal/store"
	"github.com/BTreeMap/labbot/internal/testutil"
	"github.com/BTreeMap/labbot/internal/twiliowhatsapp"
)

type fixedCounter int

func (c fixedCounter) Count() int { return int(c) }

const (
	testAuthToken  = "12345"
	testWebhookURL = "https://labbot.example.com/webhook/twilio"
)

// twilioSignature signs a form the way Twilio does: the URL followed by every
// parameter name and value in name order, HMAC-SHA1 with the auth token.
func twilioSignature(token, u string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(u)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func webhookRequest(form url.Values, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set("X-Twilio-Signature", signature)
	}
	return req
}

func TestHealthHandler(t *testing.T) {
	h := NewServer(fixedCounter(3)).Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")
	body := testutil.AssertJSONResponse(t, rr, "healthy")
	if body["active_sessions"].(float64) != 3 {
		t.Errorf("active_sessions = %v", body["active_sessions"])
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/health", nil))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "health POST")
}

func TestHealthHandlerDegraded(t *testing.T) {
	h := NewServer(fixedCounter(0), WithReadiness(func() error {
		return errors.New("whatsapp session logged out")
	})).Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	testutil.AssertHTTPStatus(t, http.StatusServiceUnavailable, rr.Code, "degraded health")
	body := testutil.AssertJSONResponse(t, rr, "degraded")
	if body["error"] != "whatsapp session logged out" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	metrics.RegisterSessionGauge(reg, func() int { return 2 })
	m.OrderSaved()

	h := NewServer(fixedCounter(2), WithGatherer(reg)).Handler()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "metrics")
	out, _ := io.ReadAll(rr.Body)
	for _, want := range []string{"labbot_orders_saved_total 1", "labbot_active_sessions 2"} {
		if !strings.Contains(string(out), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestRoutesWithoutOptionalHandlers(t *testing.T) {
	h := NewServer(fixedCounter(0)).Handler()
	for _, path := range []string{"/metrics", "/webhook/twilio"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, path)
	}
}

func TestTwilioWebhookSignature(t *testing.T) {
	svc := messaging.NewTwilioService(twiliowhatsapp.NewMockClient())
	h := NewServer(fixedCounter(0), WithTwilioWebhook(svc.TwilioWebhookHandler, testAuthToken, testWebhookURL)).Handler()
	form := url.Values{"From": {"whatsapp:+5565999990002"}, "Body": {"1"}, "MessageSid": {"SM1"}}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, webhookRequest(form, ""))
	testutil.AssertHTTPStatus(t, http.StatusForbidden, rr.Code, "unsigned webhook")
	testutil.AssertJSONResponse(t, rr, "error")

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, webhookRequest(form, twilioSignature("wrong", testWebhookURL, form)))
	testutil.AssertHTTPStatus(t, http.StatusForbidden, rr.Code, "badly signed webhook")

	select {
	case in := <-svc.Responses():
		t.Fatalf("rejected request reached the service: %+v", in)
	default:
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, webhookRequest(form, twilioSignature(testAuthToken, testWebhookURL, form)))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "signed webhook")
	select {
	case in := <-svc.Responses():
		if in.From != "+5565999990002" || in.Body != "1" {
			t.Errorf("unexpected inbound: %+v", in)
		}
	default:
		t.Fatal("signed request was not forwarded")
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/webhook/twilio", nil))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "webhook GET")
}

func TestTwilioWebhookWithoutValidation(t *testing.T) {
	svc := messaging.NewTwilioService(twiliowhatsapp.NewMockClient())
	h := NewServer(fixedCounter(0), WithTwilioWebhook(svc.TwilioWebhookHandler, "", "")).Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, webhookRequest(url.Values{"From": {"whatsapp:+5565999990002"}, "Body": {"oi"}}, ""))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "webhook without validation")
	if len(svc.Responses()) != 1 {
		t.Errorf("expected one queued inbound message, got %d", len(svc.Responses()))
	}
}

func TestBuildOptsDefaults(t *testing.T) {
	cfg := buildOpts(nil)
	if cfg.Addr != DefaultServerAddress || cfg.Provider != ProviderWhatsApp || cfg.DataBackend != BackendSheets || cfg.DigestCron != DefaultDigestCron {
		t.Errorf("unexpected defaults: %+v", cfg)
	}

	cfg = buildOpts([]Option{
		WithAddr(":9090"),
		WithProvider(ProviderTwilio),
		WithDataBackend(BackendSQL),
		WithSessionTimeout(time.Minute),
		WithTurnTimeout(5 * time.Second),
		WithCatalogImage("/tmp/catalogo.png"),
		WithCatalogImageURL("https://example.com/catalogo.png"),
		WithCatalogLink("https://example.com/catalogo"),
		WithLabName("Aura"),
		WithDigestCron(DigestDisabled),
		WithWebhookValidation(testAuthToken, testWebhookURL),
	})
	if cfg.Addr != ":9090" || cfg.Provider != ProviderTwilio || cfg.DataBackend != BackendSQL ||
		cfg.SessionTimeout != time.Minute || cfg.TurnTimeout != 5*time.Second ||
		cfg.CatalogImagePath != "/tmp/catalogo.png" || cfg.CatalogImageURL == "" || cfg.CatalogLink == "" ||
		cfg.LabName != "Aura" || cfg.DigestCron != DigestDisabled ||
		cfg.WebhookAuthToken != testAuthToken || cfg.WebhookURL != testWebhookURL {
		t.Errorf("options not applied: %+v", cfg)
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	st, closeStore, err := openStore(ctx, BackendSQL, []store.Option{store.WithSQLiteDSN(filepath.Join(t.TempDir(), "lab.db"))})
	if err != nil {
		t.Fatalf("openStore sql: %v", err)
	}
	defer closeStore()
	if _, ok := st.(*store.SQLiteStore); !ok {
		t.Errorf("expected SQLite store, got %T", st)
	}

	if _, _, err := openStore(ctx, "excel", nil); err == nil {
		t.Error("expected error for unknown backend")
	}
	if _, _, err := openStore(ctx, BackendSheets, nil); err == nil {
		t.Error("expected error for sheets without credentials")
	}
}

func TestConnectTwilio(t *testing.T) {
	cfg := buildOpts([]Option{WithProvider(ProviderTwilio), WithCatalogImageURL("https://example.com/catalogo.png")})
	conn, err := connect(context.Background(), cfg, nil, []twiliowhatsapp.Option{
		twiliowhatsapp.WithAccountSID("AC123"),
		twiliowhatsapp.WithAuthToken(testAuthToken),
		twiliowhatsapp.WithFromWhats("+15550001111"),
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.close()
	if _, ok := conn.service.(*messaging.TwilioService); !ok {
		t.Errorf("expected Twilio service, got %T", conn.service)
	}
	if conn.webhook == nil {
		t.Error("Twilio connection should expose a webhook")
	}
	if err := conn.ready(); err != nil {
		t.Errorf("ready: %v", err)
	}

	if _, err := connect(context.Background(), buildOpts([]Option{WithProvider("telegram")}), nil, nil); err == nil {
		t.Error("expected error for unknown provider")
	}
}
