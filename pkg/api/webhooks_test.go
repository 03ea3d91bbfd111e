package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grvsrs/codexbot/pkg/config"
	"github.com/grvsrs/codexbot/pkg/events"
	"github.com/grvsrs/codexbot/pkg/storage"
)

type webhookCollector struct {
	mu     sync.Mutex
	events []*events.WebhookEvent
}

func (c *webhookCollector) handle(ctx context.Context, event events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if webhook, ok := event.(*events.WebhookEvent); ok {
		c.events = append(c.events, webhook)
	}
	return nil
}

func (c *webhookCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *webhookCollector) last() *events.WebhookEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return nil
	}
	return c.events[len(c.events)-1]
}

func newTestServer(t *testing.T) (*Server, *webhookCollector) {
	t.Helper()

	store, err := storage.Open(filepath.Join(t.TempDir(), "api_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := events.NewBus()
	collector := &webhookCollector{}
	bus.Subscribe(events.TypeWebhook, collector.handle)
	bus.Start()
	t.Cleanup(bus.Stop)

	cfg := config.GatewayConfig{
		Host:                "127.0.0.1",
		Port:                8090,
		APIKey:              "management-key",
		GitHubWebhookSecret: "gh-secret",
		WebhookAPISecret:    "shared-secret",
	}

	return NewServer(cfg, bus, store, nil), collector
}

func signGitHub(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func waitForEvents(t *testing.T, collector *webhookCollector, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return collector.count() >= n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestGitHubWebhookAccepted(t *testing.T) {
	server, collector := newTestServer(t)
	handler := server.Handler()

	body := []byte(`{"action": "opened", "number": 42}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", signGitHub("gh-secret", body))
	req.Header.Set("X-GitHub-Event", "pull_request")
	req.Header.Set("X-GitHub-Delivery", "delivery-1")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp["status"])
	assert.NotEmpty(t, resp["event_id"])

	waitForEvents(t, collector, 1)
	event := collector.last()
	assert.Equal(t, "github", event.Provider)
	assert.Equal(t, "pull_request", event.EventTypeName)
	assert.Equal(t, "delivery-1", event.DeliveryID)
	assert.Equal(t, "opened", event.Payload["action"])
}

func TestGitHubWebhookRejectsBadSignature(t *testing.T) {
	server, collector := newTestServer(t)
	handler := server.Handler()

	body := []byte(`{"action": "opened"}`)

	tests := []struct {
		name      string
		signature string
	}{
		{"missing signature", ""},
		{"wrong secret", signGitHub("wrong-secret", body)},
		{"malformed signature", "sha1=deadbeef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
			if tt.signature != "" {
				req.Header.Set("X-Hub-Signature-256", tt.signature)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	assert.Equal(t, 0, collector.count())
}

func TestGenericWebhookSharedSecret(t *testing.T) {
	server, collector := newTestServer(t)
	handler := server.Handler()

	body := []byte(`{"alert": "disk full"}`)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/monitoring", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer shared-secret")
	req.Header.Set("X-Event-Type", "alert.fired")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	waitForEvents(t, collector, 1)
	event := collector.last()
	assert.Equal(t, "monitoring", event.Provider)
	assert.Equal(t, "alert.fired", event.EventTypeName)
	assert.NotEmpty(t, event.DeliveryID)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/monitoring", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookFailsClosedWithoutSecret(t *testing.T) {
	server, _ := newTestServer(t)
	server.cfg.GitHubWebhookSecret = ""
	server.cfg.WebhookAPISecret = ""
	handler := server.Handler()

	body := []byte(`{}`)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", signGitHub("", body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/custom", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer ")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDuplicateDeliveryIgnored(t *testing.T) {
	server, collector := newTestServer(t)
	handler := server.Handler()

	body := []byte(`{"action": "opened"}`)
	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
		req.Header.Set("X-Hub-Signature-256", signGitHub("gh-secret", body))
		req.Header.Set("X-GitHub-Event", "push")
		req.Header.Set("X-GitHub-Delivery", "dup-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	require.Equal(t, http.StatusAccepted, first.Code)
	waitForEvents(t, collector, 1)

	second := send()
	require.Equal(t, http.StatusOK, second.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.Equal(t, "duplicate", resp["status"])

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, collector.count())
}

func TestNonJSONBodyBecomesRawPayload(t *testing.T) {
	server, collector := newTestServer(t)
	handler := server.Handler()

	body := []byte("plain text alert")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/pager", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer shared-secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	waitForEvents(t, collector, 1)
	event := collector.last()
	assert.Equal(t, "plain text alert", event.Payload["raw_body"])
	assert.Equal(t, "unknown", event.EventTypeName)
}

func TestManagementEndpointsRequireAPIKey(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	req.Header.Set("Authorization", "Bearer management-key")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	// Scheduler is nil in this fixture, so the route answers 404 once
	// auth passes.
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpointIsOpen(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}
