package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/retail-chat-bot/internal/ingest"
	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

const maxWebhookBody = 1 << 20

// Sink receives parsed webhook events. *ingest.Publisher implements it.
type Sink interface {
	PublishMessage(ctx context.Context, in ingest.Inbound) error
	PublishStatus(ctx context.Context, st ingest.Status) error
}

// WebhookHandler handles webhook verification and inbound deliveries.
type WebhookHandler struct {
	verifyToken      string
	appSecret        string
	requireSignature bool
	sink             Sink
	logger           *logging.Logger
	now              func() time.Time
}

// NewWebhookHandler creates a webhook handler. When requireSignature is
// false, deliveries with a bad or missing signature are logged and accepted.
func NewWebhookHandler(verifyToken, appSecret string, requireSignature bool, sink Sink, logger *logging.Logger) *WebhookHandler {
	if sink == nil {
		panic("whatsapp: sink cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		verifyToken:      verifyToken,
		appSecret:        appSecret,
		requireSignature: requireSignature,
		sink:             sink,
		logger:           logger,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// HandleVerification answers Meta's GET subscription challenge.
func (h *WebhookHandler) HandleVerification(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && h.verifyToken != "" && token == h.verifyToken {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, challenge)
		return
	}

	http.Error(w, "Forbidden", http.StatusForbidden)
}

// HandleInbound verifies and enqueues a POSTed delivery. The response is
// sent once events are queued; the bot runs in the ingest worker. A queue
// failure answers 500 so Meta redelivers.
func (h *WebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if !VerifySignature(h.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		if h.requireSignature {
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}
		h.logger.Warn("whatsapp: webhook signature invalid, accepting in optional mode")
	}

	messages, statuses, err := ParseWebhook(body, h.now())
	if err != nil {
		h.logger.Warn("whatsapp: malformed webhook payload", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	for _, msg := range messages {
		if err := h.sink.PublishMessage(ctx, msg); err != nil {
			h.logger.Error("whatsapp: enqueue message failed", "external_id", msg.ExternalID, "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}
	for _, st := range statuses {
		if err := h.sink.PublishStatus(ctx, st); err != nil {
			// Receipts are informational; a lost one is not worth a redelivery.
			h.logger.Warn("whatsapp: enqueue status failed", "external_id", st.ExternalID, "error", err)
		}
	}

	w.WriteHeader(http.StatusOK)
}

// ParseWebhook extracts customer messages and delivery statuses from a
// webhook body. receivedAt stamps each message for latency tracking.
func ParseWebhook(body []byte, receivedAt time.Time) ([]ingest.Inbound, []ingest.Status, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, fmt.Errorf("whatsapp: decode webhook: %w", err)
	}

	var (
		messages []ingest.Inbound
		statuses []ingest.Status
	)
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				if m.From == "" {
					continue
				}
				messages = append(messages, normalizeMessage(m, receivedAt))
			}
			for _, s := range change.Value.Statuses {
				statuses = append(statuses, ingest.Status{
					ExternalID:  s.ID,
					Status:      s.Status,
					RecipientID: s.RecipientID,
					Timestamp:   parseUnix(s.Timestamp),
				})
			}
		}
	}
	return messages, statuses, nil
}

func normalizeMessage(m InboundMessage, receivedAt time.Time) ingest.Inbound {
	in := ingest.Inbound{
		From:       m.From,
		ExternalID: m.ID,
		RawType:    m.Type,
		ReceivedAt: receivedAt,
	}
	switch m.Type {
	case "text":
		in.Kind = ingest.KindText
		if m.Text != nil {
			in.Text = m.Text.Body
		}
	case "interactive":
		in.Kind = ingest.KindInteractive
		reply := (*Reply)(nil)
		if m.Interactive != nil {
			reply = m.Interactive.ButtonReply
			if reply == nil {
				reply = m.Interactive.ListReply
			}
		}
		if reply != nil {
			in.ActionID = reply.ID
			in.Text = reply.Title
		}
		if in.Text == "" {
			in.Text = "interactive"
		}
	case "button":
		in.Kind = ingest.KindInteractive
		if m.Button != nil {
			in.ActionID = m.Button.Payload
			in.Text = m.Button.Text
		}
	case "image":
		in.Kind = ingest.KindImage
	case "audio", "voice":
		in.Kind = ingest.KindAudio
	default:
		in.Kind = ingest.KindOther
	}
	return in
}

func parseUnix(s string) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

// VerifySignature checks the X-Hub-Signature-256 header ("sha256=<hex>")
// against an HMAC of body.
func VerifySignature(appSecret string, body []byte, signature string) bool {
	if appSecret == "" || signature == "" {
		return false
	}
	const prefix = "sha256="
	if !strings.HasPrefix(signature, prefix) {
		return false
	}
	got, err := hex.DecodeString(signature[len(prefix):])
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), got)
}
