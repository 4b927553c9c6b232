package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/AckPipe/internal/clock"
	"github.com/BTreeMap/AckPipe/internal/feedback"
	"github.com/BTreeMap/AckPipe/internal/messaging"
	"github.com/BTreeMap/AckPipe/internal/models"
	"github.com/BTreeMap/AckPipe/internal/store"
	"github.com/BTreeMap/AckPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/AckPipe/internal/whatsapp"
)

func newTestServer(t *testing.T) (*Server, *whatsapp.MockClient, *feedback.Registry, *store.InMemoryStore) {
	t.Helper()
	mock := whatsapp.NewMockClient()
	registry := feedback.NewRegistry()
	dedup := store.NewInMemoryStore()
	return NewServer(messaging.NewWhatsAppService(mock), registry, dedup), mock, registry, dedup
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rr.Body.String(), err)
	}
	return body
}

func assertHTTPStatus(t *testing.T, want, got int, label string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: expected status %d, got %d", label, want, got)
	}
}

func TestHealthHandler(t *testing.T) {
	server, _, registry, _ := newTestServer(t)
	registry.Add(feedback.New("chat", "m1", feedback.DefaultConfig(), feedback.Deps{Dispatch: feedback.Sync}))

	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assertHTTPStatus(t, http.StatusOK, rr.Code, "health")

	body := decodeResponse(t, rr)
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
	if body["active_sessions"] != float64(1) {
		t.Errorf("expected 1 active session, got %v", body["active_sessions"])
	}
	if body["transport"] != TransportWhatsApp {
		t.Errorf("expected whatsapp transport, got %v", body["transport"])
	}

	rr = httptest.NewRecorder()
	server.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/health", nil))
	assertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "health POST")
}

func TestSessionsHandler(t *testing.T) {
	server, mock, registry, _ := newTestServer(t)
	fc := clock.Fake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	sess := feedback.New("chat", "m1", feedback.DefaultConfig(), feedback.Deps{
		Reactions: messaging.NewWhatsAppService(mock),
		Clock:     fc,
		Dispatch:  feedback.Sync,
		RunID:     "run-1",
	})
	sess.OnRunStart()
	registry.Add(sess)

	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	assertHTTPStatus(t, http.StatusOK, rr.Code, "sessions")

	var resp struct {
		Status string                     `json:"status"`
		Result []feedback.SessionSnapshot `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Status != "ok" || len(resp.Result) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Result[0].RunID != "run-1" || resp.Result[0].State != feedback.StateProcessing {
		t.Errorf("unexpected snapshot %+v", resp.Result[0])
	}

	rr = httptest.NewRecorder()
	server.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sessions/chat/m1", nil))
	assertHTTPStatus(t, http.StatusOK, rr.Code, "single session")

	rr = httptest.NewRecorder()
	server.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sessions/chat/missing", nil))
	assertHTTPStatus(t, http.StatusNotFound, rr.Code, "missing session")
}

func TestInboundHandler(t *testing.T) {
	server, _, _, dedup := newTestServer(t)
	if _, err := dedup.RecordInbound(context.Background(), "chat", "m1", "user"); err != nil {
		t.Fatal(err)
	}
	if err := dedup.MarkProcessed(context.Background(), "chat", "m1", store.OutcomeReplied); err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/inbound/chat/m1", nil))
	assertHTTPStatus(t, http.StatusOK, rr.Code, "inbound")
	if !strings.Contains(rr.Body.String(), `"outcome":"replied"`) {
		t.Errorf("expected outcome in body, got %s", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	server.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/inbound/chat/m2", nil))
	assertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown inbound")
}

func TestSendHandler(t *testing.T) {
	server, mock, _, _ := newTestServer(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/send", bytes.NewBufferString(`{"to":"+15551234567","body":"hi"}`))
	server.ServeHTTP(rr, req)
	assertHTTPStatus(t, http.StatusOK, rr.Code, "send")
	calls := mock.Snapshot()
	if len(calls) != 1 || calls[0].Op != "post" || calls[0].Body != "hi" {
		t.Errorf("unexpected calls %+v", calls)
	}

	for _, body := range []string{`{"to":"","body":"hi"}`, `not json`} {
		rr = httptest.NewRecorder()
		server.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/send", bytes.NewBufferString(body)))
		assertHTTPStatus(t, http.StatusBadRequest, rr.Code, "send "+body)
		if decodeResponse(t, rr)["status"] != string(models.APIStatusError) {
			t.Errorf("expected error status for %s", body)
		}
	}

	rr = httptest.NewRecorder()
	server.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/send", nil))
	assertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "send GET")
}

func TestTwilioWebhookMounted(t *testing.T) {
	tw := messaging.NewTwilioService(twiliowhatsapp.NewMockClient())
	server := NewServer(tw, nil, nil)

	form := url.Values{"From": {"whatsapp:+15551234567"}, "Body": {"hello"}, "MessageSid": {"SM1"}}
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)
	assertHTTPStatus(t, http.StatusOK, rr.Code, "twilio webhook")

	select {
	case msg := <-tw.Inbound():
		if msg.MessageID != "SM1" {
			t.Errorf("unexpected inbound %+v", msg)
		}
	default:
		t.Fatal("expected inbound message")
	}

	rr = httptest.NewRecorder()
	server.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/inbound/a/b", nil))
	assertHTTPStatus(t, http.StatusServiceUnavailable, rr.Code, "inbound without store")
}

func TestNewMessagingService_UnknownTransport(t *testing.T) {
	cfg := defaultOpts()
	cfg.Transport = "carrier-pigeon"
	if _, _, err := newMessagingService(context.Background(), cfg, nil, nil); err == nil {
		t.Fatal("expected error for unknown transport")
	}
}

func TestRun_FailsWithoutOpenAIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	err := Run(context.Background(), nil, nil, nil, nil, []Option{WithStateDir(t.TempDir())})
	if err == nil || !strings.Contains(err.Error(), "GenAI") {
		t.Fatalf("expected GenAI error, got %v", err)
	}
}
