package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

// DefaultSubject is the NATS subject shared by all API instances.
const DefaultSubject = "retailbot.realtime"

// ConnectNATS dials url with reconnects enabled.
func ConnectNATS(url string, logger *logging.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = logging.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("retail-chat-bot"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("realtime: connect nats: %w", err)
	}
	return nc, nil
}

// NATSBroker is the NATS flavour of RedisBroker.
type NATSBroker struct {
	conn    *nats.Conn
	subject string
	local   Broadcaster
	logger  *logging.Logger
}

func NewNATSBroker(conn *nats.Conn, local Broadcaster, logger *logging.Logger) *NATSBroker {
	if conn == nil {
		panic("realtime: nats connection cannot be nil")
	}
	if local == nil {
		panic("realtime: local broadcaster cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &NATSBroker{conn: conn, subject: DefaultSubject, local: local, logger: logger}
}

func (b *NATSBroker) Emit(_ context.Context, event string, payload any) {
	data, err := Encode(event, payload)
	if err != nil {
		b.logger.Warn("realtime: dropping event", "event", event, "error", err)
		return
	}
	if err := b.conn.Publish(b.subject, data); err != nil {
		b.logger.Warn("realtime: publish failed", "event", event, "error", err)
	}
}

func (b *NATSBroker) Run(ctx context.Context) error {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		b.local.Broadcast(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("realtime: subscribe %s: %w", b.subject, err)
	}
	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
		b.logger.Warn("realtime: unsubscribe failed", "error", err)
	}
	return nil
}
