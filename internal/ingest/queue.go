package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type queueClient interface {
	Send(ctx context.Context, msg outgoing) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// outgoing carries the FIFO routing keys next to the body. Queues that do not
// order or deduplicate ignore them.
type outgoing struct {
	Body     string
	GroupID  string
	DedupeID string
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type jobType string

const (
	jobTypeMessage jobType = "message"
	jobTypeStatus  jobType = "status"
)

type queuePayload struct {
	ID      string   `json:"id"`
	Kind    jobType  `json:"kind"`
	Message *Inbound `json:"message,omitempty"`
	Status  *Status  `json:"status,omitempty"`
}

func encodePayload(payload queuePayload) (queuePayload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("ingest: failed to encode payload: %w", err)
	}

	return payload, string(body), nil
}
