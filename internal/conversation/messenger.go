package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/retail-chat-bot/internal/observability/metrics"
)

// ChannelClient sends outbound messages on the customer's chat channel and
// returns the provider message id.
type ChannelClient interface {
	SendText(ctx context.Context, to, text string, preview bool) (string, error)
	SendInteractive(ctx context.Context, to, body string, buttons []Button) (string, error)
}

// Messenger sends a message and then records it as an outbound Message.
type Messenger struct {
	store   Store
	channel ChannelClient
	metrics *metrics.MessagingMetrics
	now     func() time.Time
}

// NewMessenger wires a channel client to the store.
func NewMessenger(store Store, channel ChannelClient) *Messenger {
	if store == nil {
		panic("conversation: store cannot be nil")
	}
	if channel == nil {
		panic("conversation: channel client cannot be nil")
	}
	return &Messenger{
		store:   store,
		channel: channel,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock used for outbound timestamps.
func (m *Messenger) WithClock(now func() time.Time) *Messenger {
	if now != nil {
		m.now = now
	}
	return m
}

// WithMetrics counts outbound sends by sender and outcome.
func (m *Messenger) WithMetrics(mm *metrics.MessagingMetrics) *Messenger {
	m.metrics = mm
	return m
}

// SendText delivers a text message on behalf of sender.
func (m *Messenger) SendText(ctx context.Context, conv *Conversation, sender Sender, text string, preview bool) error {
	externalID, err := m.channel.SendText(ctx, conv.Identity, text, preview)
	if err != nil {
		m.metrics.ObserveOutbound(string(sender), "failed")
		return fmt.Errorf("conversation: send text: %w", err)
	}
	m.metrics.ObserveOutbound(string(sender), "sent")
	return m.record(ctx, conv, sender, text, externalID)
}

// SendButtons delivers a bot message with up to three quick-reply buttons.
func (m *Messenger) SendButtons(ctx context.Context, conv *Conversation, body string, buttons []Button) error {
	externalID, err := m.channel.SendInteractive(ctx, conv.Identity, body, buttons)
	if err != nil {
		m.metrics.ObserveOutbound(string(SenderBot), "failed")
		return fmt.Errorf("conversation: send interactive: %w", err)
	}
	m.metrics.ObserveOutbound(string(SenderBot), "sent")
	return m.record(ctx, conv, SenderBot, body, externalID)
}

func (m *Messenger) record(ctx context.Context, conv *Conversation, sender Sender, text, externalID string) error {
	now := m.now()
	msg := &Message{
		ConversationID: conv.ID,
		Direction:      DirectionOut,
		Sender:         sender,
		Type:           MessageText,
		Text:           stringPtr(text),
		CreatedAt:      now,
	}
	if externalID != "" {
		msg.ExternalID = stringPtr(externalID)
	}
	if err := m.store.InsertMessage(ctx, msg); err != nil {
		return fmt.Errorf("conversation: record outbound: %w", err)
	}

	var patch Patch
	switch sender {
	case SenderBot:
		patch.LastBotMessageAt = &now
	case SenderHuman:
		patch.LastHumanMessageAt = &now
	default:
		return nil
	}
	return m.store.Update(ctx, conv.ID, patch)
}
