package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wolfman30/retail-chat-bot/internal/channels/whatsapp"
	"github.com/wolfman30/retail-chat-bot/internal/conversation"
	"github.com/wolfman30/retail-chat-bot/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/retail-chat-bot/internal/http/middleware"
	"github.com/wolfman30/retail-chat-bot/internal/ingest"
	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

const testSecret = "router-test-secret"

type noopChannel struct{}

func (noopChannel) SendText(context.Context, string, string, bool) (string, error) {
	return "wamid.1", nil
}

func (noopChannel) SendInteractive(context.Context, string, string, []conversation.Button) (string, error) {
	return "wamid.2", nil
}

func newTestRouter(t *testing.T, checks map[string]HealthCheck, rateLimit int) (http.Handler, *ingest.MemoryQueue) {
	t.Helper()

	logger := logging.NewWithWriter("error", io.Discard)
	store := conversation.NewMemoryStore()
	queue := ingest.NewMemoryQueue(16)
	webhook := whatsapp.NewWebhookHandler("verify-me", "", false, ingest.NewPublisher(queue, logger), logger)
	admin := handlers.NewAdminHandler(handlers.AdminConfig{
		Store:     store,
		Messenger: conversation.NewMessenger(store, noopChannel{}),
		Logger:    logger,
	})

	cfg := &Config{
		Logger:           logger,
		Webhook:          webhook,
		Admin:            admin,
		MetricsHandler:   http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "# metrics") }),
		AdminAuthSecret:  testSecret,
		WebhookRateLimit: rateLimit,
		Checks:           checks,
	}
	return New(cfg), queue
}

func TestRouterHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil, 0)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", resp["status"])
	}
}

func TestRouterHealthReportsFailingDependency(t *testing.T) {
	router, _ := newTestRouter(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}, 0)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var resp healthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Checks["postgres"] != "ok" || resp.Checks["redis"] != "connection refused" {
		t.Fatalf("unexpected checks %+v", resp.Checks)
	}
}

func TestRouterWebhookVerification(t *testing.T) {
	router, _ := newTestRouter(t, nil, 0)

	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || rr.Body.String() != "42" {
		t.Fatalf("expected challenge echo, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestRouterWebhookEnqueues(t *testing.T) {
	router, queue := newTestRouter(t, nil, 0)

	body := `{"object":"whatsapp_business_account","entry":[{"changes":[{"field":"messages","value":{"messages":[{"from":"5491111111111","id":"wamid.A","timestamp":"1700000000","type":"text","text":{"body":"hola"}}]}}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if queue.Len() != 1 {
		t.Fatalf("expected one queued job, got %d", queue.Len())
	}
}

func TestRouterWebhookRateLimit(t *testing.T) {
	router, _ := newTestRouter(t, nil, 2)

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=1", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		last = rr.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on third call, got %d", last)
	}
}

func TestRouterAPIRequiresToken(t *testing.T) {
	router, _ := newTestRouter(t, nil, 0)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/conversations", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	token, err := httpmiddleware.SignAdminToken(testSecret, "agent-1", "SELLER", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d body=%s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Cache-Control") == "" {
		t.Fatalf("expected no-cache headers on panel API")
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil, 0)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "# metrics") {
		t.Fatalf("unexpected metrics response %d %q", rr.Code, rr.Body.String())
	}
}
