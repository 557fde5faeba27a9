// Package ingest turns channel deliveries into persisted customer messages
// and engine turns.
package ingest

import (
	"time"

	"github.com/wolfman30/retail-chat-bot/internal/conversation"
)

// Kind is the channel message type.
type Kind string

const (
	KindText        Kind = "text"
	KindInteractive Kind = "interactive"
	KindImage       Kind = "image"
	KindAudio       Kind = "audio"
	KindOther       Kind = "other"
)

// Inbound is one normalized customer message.
type Inbound struct {
	From       string    `json:"from"`
	ExternalID string    `json:"external_id"`
	Text       string    `json:"text"`
	ActionID   string    `json:"action_id,omitempty"`
	Kind       Kind      `json:"kind"`
	RawType    string    `json:"raw_type,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// StoredText is the text persisted for the message. Media and unsupported
// types are stored as a "[type]" placeholder.
func (in Inbound) StoredText() string {
	if in.Text != "" {
		return in.Text
	}
	t := in.RawType
	if t == "" {
		t = string(in.Kind)
	}
	return "[" + t + "]"
}

func (in Inbound) messageType() conversation.MessageType {
	switch in.Kind {
	case KindText, KindInteractive:
		return conversation.MessageText
	case KindImage:
		return conversation.MessageImage
	case KindAudio:
		return conversation.MessageAudio
	default:
		return conversation.MessageSystem
	}
}

// Status is a delivery receipt for an outbound message.
type Status struct {
	ExternalID  string         `json:"external_id"`
	Status      string         `json:"status"`
	RecipientID string         `json:"recipient_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Raw         map[string]any `json:"raw,omitempty"`
}
