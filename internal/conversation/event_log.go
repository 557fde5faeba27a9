package conversation

import (
	"context"
	"fmt"

	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

// EventRecorder appends conversation events to the store and logs each one
// with the kind as a top-level attribute:
//
//	grep '"event":"HANDOFF_REQUESTED"' /var/log/app.log
//	grep '"conversation_id":"<id>"' /var/log/app.log
type EventRecorder struct {
	store  Store
	logger *logging.Logger
}

func NewEventRecorder(store Store, logger *logging.Logger) *EventRecorder {
	if logger == nil {
		logger = logging.Default()
	}
	return &EventRecorder{store: store, logger: logger}
}

// Record logs the event, then persists it. The log line is written even when
// the store rejects the event.
func (e *EventRecorder) Record(ctx context.Context, conversationID, kind string, data map[string]any) error {
	if e == nil {
		return nil
	}
	args := []any{"event", kind, "conversation_id", conversationID}
	if len(data) > 0 {
		args = append(args, "data", data)
	}
	e.logger.InfoContext(ctx, "conversation event", args...)

	if e.store == nil {
		return nil
	}
	if err := e.store.AppendEvent(ctx, conversationID, kind, data); err != nil {
		return fmt.Errorf("conversation: record %s: %w", kind, err)
	}
	return nil
}

// WithStore returns a recorder writing to store, used inside job locks.
func (e *EventRecorder) WithStore(store Store) *EventRecorder {
	if e == nil {
		return NewEventRecorder(store, nil)
	}
	return &EventRecorder{store: store, logger: e.logger}
}
