// Package realtime pushes conversation activity to connected panel clients.
//
// Producers call Emit and never wait on the outcome. A Hub serves the panel
// websockets of one process; RedisBroker and NATSBroker fan events out so
// every API instance's Hub sees them.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
)

// Events observed by the panel.
const (
	EventMessageNew          = "message:new"
	EventConversationUpdated = "conversation:updated"
)

// Emitter publishes a notification. Implementations must not block the caller
// on slow consumers.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any)
}

// Broadcaster delivers an encoded envelope to local subscribers.
type Broadcaster interface {
	Broadcast(data []byte)
}

// Envelope is the wire shape sent to clients and across brokers.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Encode builds the JSON envelope for event.
func Encode(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("realtime: encode payload: %w", err)
	}
	data, err := json.Marshal(Envelope{Event: event, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("realtime: encode envelope: %w", err)
	}
	return data, nil
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(context.Context, string, any) {}
