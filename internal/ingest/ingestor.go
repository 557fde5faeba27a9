package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/retail-chat-bot/internal/bot"
	"github.com/wolfman30/retail-chat-bot/internal/conversation"
	"github.com/wolfman30/retail-chat-bot/internal/observability/metrics"
	"github.com/wolfman30/retail-chat-bot/internal/realtime"
	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

var tracer = otel.Tracer("retailbot.internal.ingest")

// TurnHandler runs the bot for one persisted customer message.
type TurnHandler interface {
	HandleIncoming(ctx context.Context, conv *conversation.Conversation, text, actionID string) (bot.Result, error)
}

// Outcome describes what Ingest did with a message.
type Outcome struct {
	ConversationID string
	Duplicate      bool
	Turn           bot.Result
}

// Ingestor persists inbound messages exactly once and hands them to the
// engine. Messages from the same customer are processed one at a time.
type Ingestor struct {
	store   conversation.Store
	engine  TurnHandler
	emitter realtime.Emitter
	events  *conversation.EventRecorder
	metrics *metrics.MessagingMetrics
	logger  *logging.Logger
	locks   *keyedMutex
	now     func() time.Time
}

func NewIngestor(store conversation.Store, engine TurnHandler, logger *logging.Logger) *Ingestor {
	if store == nil {
		panic("ingest: store cannot be nil")
	}
	if engine == nil {
		panic("ingest: engine cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Ingestor{
		store:   store,
		engine:  engine,
		emitter: realtime.Nop{},
		events:  conversation.NewEventRecorder(store, logger),
		logger:  logger,
		locks:   newKeyedMutex(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (i *Ingestor) WithEmitter(e realtime.Emitter) *Ingestor {
	if e != nil {
		i.emitter = e
	}
	return i
}

func (i *Ingestor) WithMetrics(m *metrics.MessagingMetrics) *Ingestor {
	i.metrics = m
	return i
}

func (i *Ingestor) WithClock(now func() time.Time) *Ingestor {
	if now != nil {
		i.now = now
	}
	return i
}

// Ingest stores in and runs a bot turn for it. Redeliveries of an external id
// already stored are reported as Duplicate and do nothing. Engine failures are
// logged, not returned: the message is already persisted and a retry would be
// deduplicated anyway.
func (i *Ingestor) Ingest(ctx context.Context, in Inbound) (Outcome, error) {
	from := strings.TrimSpace(in.From)
	if from == "" {
		return Outcome{}, errors.New("ingest: sender identity is required")
	}

	ctx, span := tracer.Start(ctx, "ingest.message", trace.WithAttributes(
		attribute.String("ingest.kind", string(in.Kind)),
		attribute.String("ingest.external_id", in.ExternalID),
	))
	defer span.End()

	unlock := i.locks.Lock(from)
	defer unlock()

	out, err := i.ingest(ctx, from, in)
	status := "accepted"
	switch {
	case err != nil:
		status = "error"
		span.RecordError(err)
	case out.Duplicate:
		status = "duplicate"
	}
	i.metrics.ObserveInbound(string(in.Kind), status)
	if !in.ReceivedAt.IsZero() {
		i.metrics.ObserveWebhookLatency(string(in.Kind), i.now().Sub(in.ReceivedAt).Seconds())
	}
	return out, err
}

func (i *Ingestor) ingest(ctx context.Context, from string, in Inbound) (Outcome, error) {
	if in.ExternalID != "" {
		exists, err := i.store.MessageExists(ctx, in.ExternalID)
		if err != nil {
			return Outcome{}, fmt.Errorf("ingest: dedupe lookup: %w", err)
		}
		if exists {
			i.logger.Debug("ingest: duplicate delivery ignored", "external_id", in.ExternalID)
			return Outcome{Duplicate: true}, nil
		}
	}

	conv, err := i.store.UpsertByIdentity(ctx, from)
	if err != nil {
		return Outcome{}, fmt.Errorf("ingest: upsert conversation: %w", err)
	}
	out := Outcome{ConversationID: conv.ID}

	now := i.now()
	text := in.StoredText()
	msg := &conversation.Message{
		ConversationID: conv.ID,
		Direction:      conversation.DirectionIn,
		Sender:         conversation.SenderCustomer,
		Type:           in.messageType(),
		Text:           &text,
		CreatedAt:      now,
	}
	if in.ExternalID != "" {
		externalID := in.ExternalID
		msg.ExternalID = &externalID
	}
	if err := i.store.InsertMessage(ctx, msg); err != nil {
		if errors.Is(err, conversation.ErrDuplicateMessage) {
			// Lost a race with a concurrent delivery on another instance.
			out.Duplicate = true
			return out, nil
		}
		return out, fmt.Errorf("ingest: insert message: %w", err)
	}
	if err := i.store.Update(ctx, conv.ID, conversation.Patch{LastCustomerMessageAt: &now}); err != nil {
		return out, fmt.Errorf("ingest: stamp customer activity: %w", err)
	}

	i.emitter.Emit(ctx, realtime.EventMessageNew, map[string]any{
		"conversationId": conv.ID,
		"messageId":      msg.ID,
	})

	// The engine acts on the persisted row, not the copy from the upsert.
	current, err := i.store.Get(ctx, conv.ID)
	if err != nil {
		return out, fmt.Errorf("ingest: reload conversation: %w", err)
	}

	res, err := i.engine.HandleIncoming(ctx, current, in.Text, in.ActionID)
	if err != nil {
		i.logger.Error("ingest: bot turn failed", "conversation_id", conv.ID, "external_id", in.ExternalID, "error", err)
	}
	out.Turn = res

	i.emitter.Emit(ctx, realtime.EventConversationUpdated, map[string]any{"conversationId": conv.ID})
	return out, nil
}

// IngestStatus records a delivery receipt on the recipient's conversation.
// Receipts for unknown recipients are dropped.
func (i *Ingestor) IngestStatus(ctx context.Context, st Status) error {
	recipient := strings.TrimSpace(st.RecipientID)
	if recipient == "" {
		return nil
	}
	conv, err := i.store.FindByIdentity(ctx, recipient)
	if errors.Is(err, conversation.ErrNotFound) {
		i.logger.Debug("ingest: status for unknown recipient", "external_id", st.ExternalID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("ingest: find conversation for status: %w", err)
	}

	payload := map[string]any{
		"externalId": st.ExternalID,
		"status":     st.Status,
	}
	if !st.Timestamp.IsZero() {
		payload["timestamp"] = st.Timestamp.UTC().Format(time.RFC3339)
	}
	if err := i.events.Record(ctx, conv.ID, conversation.EventChannelStatus, payload); err != nil {
		return fmt.Errorf("ingest: record status: %w", err)
	}
	i.metrics.ObserveInbound("status", st.Status)
	return nil
}
