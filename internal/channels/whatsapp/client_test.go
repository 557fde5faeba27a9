package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wolfman30/retail-chat-bot/internal/conversation"
)

func newTestServer(t *testing.T, received *SendRequest, status int, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/PHONE_ID/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test_token" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(received); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(base string) *Client {
	c := NewClient("test_token", "PHONE_ID")
	c.SetGraphAPIBase(base)
	return c
}

func TestSendText(t *testing.T) {
	var received SendRequest
	srv := newTestServer(t, &received, http.StatusOK, `{"messages":[{"id":"wamid.OUT1"}]}`)

	id, err := newTestClient(srv.URL).SendText(context.Background(), "5491100000001", "Hola!", true)
	if err != nil {
		t.Fatal(err)
	}
	if id != "wamid.OUT1" {
		t.Errorf("id = %s, want wamid.OUT1", id)
	}
	if received.MessagingProduct != "whatsapp" || received.Type != "text" || received.To != "5491100000001" {
		t.Errorf("unexpected request %+v", received)
	}
	if received.Text == nil || received.Text.Body != "Hola!" || !received.Text.PreviewURL {
		t.Errorf("unexpected text body %+v", received.Text)
	}
}

func TestSendInteractiveClipsTitles(t *testing.T) {
	var received SendRequest
	srv := newTestServer(t, &received, http.StatusOK, `{"messages":[{"id":"wamid.OUT2"}]}`)

	buttons := []conversation.Button{
		{ID: "HUMAN", Title: "Hablar con un asesor ahora mismo"},
		{ID: "MORE", Title: "Ver más"},
	}
	id, err := newTestClient(srv.URL).SendInteractive(context.Background(), "5491100000001", "¿Qué hacemos?", buttons)
	if err != nil {
		t.Fatal(err)
	}
	if id != "wamid.OUT2" {
		t.Errorf("id = %s", id)
	}
	if received.Interactive == nil || received.Interactive.Type != "button" {
		t.Fatalf("unexpected interactive %+v", received.Interactive)
	}
	got := received.Interactive.Action.Buttons
	if len(got) != 2 || got[0].Type != "reply" || got[0].Reply.ID != "HUMAN" {
		t.Fatalf("unexpected buttons %+v", got)
	}
	if n := len([]rune(got[0].Reply.Title)); n != MaxButtonTitle {
		t.Errorf("title not clipped: %q (%d runes)", got[0].Reply.Title, n)
	}
	if got[1].Reply.Title != "Ver más" {
		t.Errorf("short title changed: %q", got[1].Reply.Title)
	}
}

func TestSendInteractiveRejectsTooManyButtons(t *testing.T) {
	c := newTestClient("http://127.0.0.1:0")
	buttons := []conversation.Button{{ID: "1"}, {ID: "2"}, {ID: "3"}, {ID: "4"}}
	if _, err := c.SendInteractive(context.Background(), "549", "x", buttons); !errors.Is(err, ErrTooManyButtons) {
		t.Fatalf("expected ErrTooManyButtons, got %v", err)
	}
}

func TestSendSurfacesAPIError(t *testing.T) {
	var received SendRequest
	srv := newTestServer(t, &received, http.StatusBadRequest, `{"error":{"message":"Invalid parameter","code":100}}`)

	_, err := newTestClient(srv.URL).SendText(context.Background(), "549", "x", false)
	if err == nil {
		t.Fatal("expected error")
	}
	if want := "whatsapp: API error 100: Invalid parameter"; err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}
