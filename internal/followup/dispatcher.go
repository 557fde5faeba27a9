package followup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/retail-chat-bot/internal/conversation"
	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

// Sender delivers the follow-up text. conversation.Messenger implements it.
type Sender interface {
	SendText(ctx context.Context, conv *conversation.Conversation, sender conversation.Sender, text string, preview bool) error
}

// Dispatcher sends follow-ups to conversations the bot still owns.
type Dispatcher struct {
	store    conversation.Store
	sender   Sender
	recorder *conversation.EventRecorder
	logger   *logging.Logger
	now      func() time.Time
}

func NewDispatcher(store conversation.Store, sender Sender, logger *logging.Logger) *Dispatcher {
	if store == nil {
		panic("followup: store cannot be nil")
	}
	if sender == nil {
		panic("followup: sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		store:    store,
		sender:   sender,
		recorder: conversation.NewEventRecorder(store, logger),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	if now != nil {
		d.now = now
	}
	return d
}

// Dispatch sends job. Conversations a seller owns or that are paused are
// skipped; an after-hours follow-up waits until a seller is online.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) error {
	conv, err := d.store.Get(ctx, job.ConversationID)
	if errors.Is(err, conversation.ErrNotFound) {
		return fmt.Errorf("%w: conversation %s not found", ErrSkipped, job.ConversationID)
	}
	if err != nil {
		return fmt.Errorf("followup: load conversation: %w", err)
	}
	if conv.State == conversation.StateHumanTakeover {
		return fmt.Errorf("%w: conversation in takeover", ErrSkipped)
	}
	if conv.Paused(d.now()) {
		return fmt.Errorf("%w: bot paused", ErrSkipped)
	}

	var text, event string
	switch job.Kind {
	case KindHotLostReminder:
		text, event = HotLostReminder(), conversation.EventFollowupHotLostSent
	case KindAfterHours:
		sellers, err := d.store.ListSellersOnline(ctx)
		if err != nil {
			return fmt.Errorf("followup: list sellers: %w", err)
		}
		if len(sellers) == 0 {
			return ErrNotReady
		}
		text, event = AfterHoursMessage(), conversation.EventFollowupAfterHoursSent
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrSkipped, job.Kind)
	}

	if err := d.sender.SendText(ctx, conv, conversation.SenderBot, text, false); err != nil {
		return fmt.Errorf("followup: send: %w", err)
	}
	if err := d.recorder.Record(ctx, conv.ID, event, map[string]any{"jobId": job.ID, "attempt": job.Attempt}); err != nil {
		d.logger.Warn("failed to record follow-up event", "conversation_id", conv.ID, "error", err)
	}
	return nil
}
