package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wolfman30/retail-chat-bot/internal/ingest"
	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

const testSecret = "test_app_secret"

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type recordingSink struct {
	messages []ingest.Inbound
	statuses []ingest.Status
	err      error
}

func (s *recordingSink) PublishMessage(_ context.Context, in ingest.Inbound) error {
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, in)
	return nil
}

func (s *recordingSink) PublishStatus(_ context.Context, st ingest.Status) error {
	s.statuses = append(s.statuses, st)
	return nil
}

const samplePayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "5491100000000", "phone_number_id": "PHONE_ID"},
        "messages": [
          {"from": "5491100000001", "id": "wamid.TEXT", "timestamp": "1772463845", "type": "text", "text": {"body": "busco zapatillas"}},
          {"from": "5491100000001", "id": "wamid.BTN", "timestamp": "1772463846", "type": "interactive",
           "interactive": {"type": "button_reply", "button_reply": {"id": "INSTALLMENTS", "title": "Ver cuotas"}}},
          {"from": "5491100000001", "id": "wamid.IMG", "timestamp": "1772463847", "type": "image"},
          {"from": "5491100000001", "id": "wamid.STK", "timestamp": "1772463848", "type": "sticker"}
        ],
        "statuses": [
          {"id": "wamid.OUT", "status": "read", "timestamp": "1772463849", "recipient_id": "5491100000001"}
        ]
      }
    }]
  }]
}`

func TestParseWebhook(t *testing.T) {
	at := time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC)
	messages, statuses, err := ParseWebhook([]byte(samplePayload), at)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(messages))
	}

	text := messages[0]
	if text.Kind != ingest.KindText || text.Text != "busco zapatillas" || text.ExternalID != "wamid.TEXT" || !text.ReceivedAt.Equal(at) {
		t.Errorf("unexpected text message %+v", text)
	}
	btn := messages[1]
	if btn.Kind != ingest.KindInteractive || btn.ActionID != "INSTALLMENTS" || btn.Text != "Ver cuotas" {
		t.Errorf("unexpected button message %+v", btn)
	}
	if img := messages[2]; img.Kind != ingest.KindImage || img.Text != "" || img.StoredText() != "[image]" {
		t.Errorf("unexpected image message %+v", img)
	}
	if stk := messages[3]; stk.Kind != ingest.KindOther || stk.StoredText() != "[sticker]" {
		t.Errorf("unexpected sticker message %+v", stk)
	}

	if len(statuses) != 1 {
		t.Fatalf("expected 1 status, got %d", len(statuses))
	}
	if st := statuses[0]; st.Status != "read" || st.RecipientID != "5491100000001" || st.Timestamp.Unix() != 1772463849 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestParseWebhookRejectsGarbage(t *testing.T) {
	if _, _, err := ParseWebhook([]byte("{"), time.Now()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(samplePayload)
	valid := sign(body)

	tests := []struct {
		name      string
		secret    string
		body      []byte
		signature string
		want      bool
	}{
		{"valid signature", testSecret, body, valid, true},
		{"wrong signature", testSecret, body, "sha256=0000000000000000000000000000000000000000000000000000000000000000", false},
		{"not hex", testSecret, body, "sha256=zz", false},
		{"empty signature", testSecret, body, "", false},
		{"empty secret", "", body, valid, false},
		{"missing prefix", testSecret, body, valid[len("sha256="):], false},
		{"tampered body", testSecret, []byte(`tampered`), valid, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(tt.secret, tt.body, tt.signature); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func quiet() *logging.Logger {
	return logging.NewWithWriter("error", io.Discard)
}

func TestHandleVerification(t *testing.T) {
	h := NewWebhookHandler("verify_me", testSecret, true, &recordingSink{}, quiet())

	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=verify_me&hub.challenge=CH_1", nil)
	w := httptest.NewRecorder()
	h.HandleVerification(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "CH_1" {
		t.Fatalf("expected challenge echo, got %d %q", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=CH_1", nil)
	w = httptest.NewRecorder()
	h.HandleVerification(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func post(h *WebhookHandler, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	w := httptest.NewRecorder()
	h.HandleInbound(w, req)
	return w
}

func TestHandleInbound(t *testing.T) {
	body := []byte(samplePayload)

	t.Run("valid signature enqueues", func(t *testing.T) {
		sink := &recordingSink{}
		h := NewWebhookHandler("v", testSecret, true, sink, quiet())
		if w := post(h, body, sign(body)); w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if len(sink.messages) != 4 || len(sink.statuses) != 1 {
			t.Fatalf("unexpected sink %d/%d", len(sink.messages), len(sink.statuses))
		}
	})

	t.Run("required mode rejects bad signature", func(t *testing.T) {
		sink := &recordingSink{}
		h := NewWebhookHandler("v", testSecret, true, sink, quiet())
		if w := post(h, body, "sha256=00"); w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
		if len(sink.messages) != 0 {
			t.Fatalf("nothing should be enqueued")
		}
	})

	t.Run("optional mode accepts bad signature", func(t *testing.T) {
		sink := &recordingSink{}
		h := NewWebhookHandler("v", testSecret, false, sink, quiet())
		if w := post(h, body, ""); w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if len(sink.messages) != 4 {
			t.Fatalf("expected messages enqueued, got %d", len(sink.messages))
		}
	})

	t.Run("queue failure asks for redelivery", func(t *testing.T) {
		h := NewWebhookHandler("v", testSecret, true, &recordingSink{err: errors.New("queue full")}, quiet())
		if w := post(h, body, sign(body)); w.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", w.Code)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		bad := []byte("{")
		h := NewWebhookHandler("v", testSecret, true, &recordingSink{}, quiet())
		if w := post(h, bad, sign(bad)); w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})
}
