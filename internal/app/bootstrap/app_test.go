package bootstrap

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/go-chi/chi/v5"

	appconfig "github.com/wolfman30/retail-chat-bot/internal/config"
	"github.com/wolfman30/retail-chat-bot/internal/conversation"
	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

type graphRecorder struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (g *graphRecorder) handler(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	g.mu.Lock()
	g.bodies = append(g.bodies, body)
	g.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"messages":[{"id":"wamid.reply"}]}`)
}

func (g *graphRecorder) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.bodies)
}

func testConfig(t *testing.T, graphBase string) *appconfig.Config {
	t.Helper()
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "catalog.json")
	items := `[{"id":"ps5","name":"Consola PlayStation 5","price":899999,"category":"consolas"},{"id":"tv55","name":"Smart TV 55 pulgadas","price_raw":"$ 650.000","category":"tv"}]`
	if err := os.WriteFile(catalogPath, []byte(items), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return &appconfig.Config{
		LogLevel:             "error",
		AdminJWTSecret:       "secret",
		UseMemoryQueue:       true,
		WorkerCount:          1,
		MetaWAToken:          "token",
		MetaPhoneNumberID:    "123",
		MetaVerifyToken:      "verify",
		WebhookSignatureMode: "optional",
		MetaGraphBase:        graphBase,
		CatalogPath:          catalogPath,
		LLMProvider:          "none",
		EmailProvider:        "stub",
		Engine:               appconfig.DefaultEngineConfig(),
	}
}

func TestBuildRunsWebhookThroughTheEngine(t *testing.T) {
	graph := &graphRecorder{}
	graphSrv := httptest.NewServer(http.HandlerFunc(graph.handler))
	defer graphSrv.Close()

	cfg := testConfig(t, graphSrv.URL)
	app, err := Build(context.Background(), cfg, aws.Config{}, logging.NewWithWriter("error", io.Discard))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer app.Close()

	if !app.InProcessQueue() {
		t.Fatalf("expected in-process queue without INGEST_QUEUE_URL")
	}
	if app.Followups != nil {
		t.Fatalf("follow-ups need redis")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app.StartIngest(ctx)

	body := `{"object":"whatsapp_business_account","entry":[{"changes":[{"field":"messages","value":{"messages":[{"from":"5491155550000","id":"wamid.in1","timestamp":"1700000000","type":"text","text":{"body":"hola, busco una ps5"}}]}}]}]}`
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook: expected 200, got %d", rec.Code)
	}

	deadline := time.Now().Add(3 * time.Second)
	for graph.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if graph.count() == 0 {
		t.Fatalf("expected the bot to reply through the graph api")
	}

	conv, err := app.Store.FindByIdentity(context.Background(), "5491155550000")
	if err != nil {
		t.Fatalf("conversation not stored: %v", err)
	}
	msgs, err := app.Store.ListMessages(context.Background(), conv.ID, 10)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) < 2 || msgs[0].Direction != conversation.DirectionIn {
		t.Fatalf("expected inbound message followed by a reply, got %d messages", len(msgs))
	}

	cancel()
	app.Wait()
}

func TestBuildFailsWithoutCatalog(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.CatalogPath = filepath.Join(t.TempDir(), "missing.json")
	if _, err := Build(context.Background(), cfg, aws.Config{}, logging.NewWithWriter("error", io.Discard)); err == nil {
		t.Fatalf("expected error for missing catalog")
	}
}

func TestBuildRequiresNATSURL(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.RealtimeBroker = "nats"
	if _, err := Build(context.Background(), cfg, aws.Config{}, logging.NewWithWriter("error", io.Discard)); err == nil {
		t.Fatalf("expected error for nats broker without url")
	}
}

func TestHandlerServesHealthAndMetrics(t *testing.T) {
	cfg := testConfig(t, "")
	app, err := Build(context.Background(), cfg, aws.Config{}, logging.NewWithWriter("error", io.Discard))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer app.Close()

	h := app.Handler()
	for _, path := range []string{"/health", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}

	var routes []string
	_ = chi.Walk(h.(chi.Routes), func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, method+" "+route)
		return nil
	})
	joined := strings.Join(routes, "\n")
	for _, want := range []string{"POST /api/conversations/{id}/send", "GET /ws", "POST /webhook/"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("route %q not registered:\n%s", want, joined)
		}
	}
}
