package realtime

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

// DefaultChannel is the Pub/Sub channel shared by all API instances.
const DefaultChannel = "realtime:events"

// RedisBroker publishes events on a Redis channel and relays what it receives
// to a local Broadcaster.
type RedisBroker struct {
	redis   *redis.Client
	channel string
	local   Broadcaster
	tracer  trace.Tracer
	logger  *logging.Logger
}

func NewRedisBroker(client *redis.Client, local Broadcaster, logger *logging.Logger) *RedisBroker {
	if client == nil {
		panic("realtime: redis client cannot be nil")
	}
	if local == nil {
		panic("realtime: local broadcaster cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisBroker{
		redis:   client,
		channel: DefaultChannel,
		local:   local,
		tracer:  otel.Tracer("retailbot.internal.realtime"),
		logger:  logger,
	}
}

func (b *RedisBroker) Emit(ctx context.Context, event string, payload any) {
	ctx, span := b.tracer.Start(ctx, "realtime.redis.publish",
		trace.WithAttributes(attribute.String("realtime.event", event)))
	defer span.End()

	data, err := Encode(event, payload)
	if err != nil {
		span.RecordError(err)
		b.logger.Warn("realtime: dropping event", "event", event, "error", err)
		return
	}
	if err := b.redis.Publish(ctx, b.channel, data).Err(); err != nil {
		span.RecordError(err)
		b.logger.Warn("realtime: publish failed", "event", event, "error", err)
	}
}

// Run relays channel messages to the local broadcaster until ctx is done.
func (b *RedisBroker) Run(ctx context.Context) error {
	sub := b.redis.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("realtime: subscribe %s: %w", b.channel, err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.local.Broadcast([]byte(msg.Payload))
		}
	}
}
