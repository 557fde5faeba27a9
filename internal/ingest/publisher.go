package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

// Publisher enqueues webhook deliveries for asynchronous ingestion.
type Publisher struct {
	queue  queueClient
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue queueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("ingest: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:  queue,
		logger: logger,
	}
}

// PublishMessage enqueues an inbound customer message.
func (p *Publisher) PublishMessage(ctx context.Context, in Inbound) error {
	return p.enqueue(ctx, queuePayload{Kind: jobTypeMessage, Message: &in}, in.From, in.ExternalID)
}

// PublishStatus enqueues a delivery receipt.
func (p *Publisher) PublishStatus(ctx context.Context, st Status) error {
	dedupe := ""
	if st.ExternalID != "" {
		dedupe = st.ExternalID + ":" + strings.ToLower(st.Status)
	}
	return p.enqueue(ctx, queuePayload{Kind: jobTypeStatus, Status: &st}, st.RecipientID, dedupe)
}

func (p *Publisher) enqueue(ctx context.Context, payload queuePayload, group, dedupe string) error {
	payload, body, err := encodePayload(payload)
	if err != nil {
		return err
	}

	if err := p.queue.Send(ctx, outgoing{Body: body, GroupID: group, DedupeID: dedupe}); err != nil {
		return fmt.Errorf("ingest: failed to enqueue job: %w", err)
	}

	p.logger.Debug("ingest job enqueued", "job_id", payload.ID, "kind", payload.Kind)
	return nil
}
