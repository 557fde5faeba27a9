package realtime

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

const clientBuffer = 32

// Hub tracks the websocket clients of this process and broadcasts events to
// all of them. A client whose buffer is full misses the event.
type Hub struct {
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Emit broadcasts to local clients only.
func (h *Hub) Emit(_ context.Context, event string, payload any) {
	data, err := Encode(event, payload)
	if err != nil {
		h.logger.Warn("realtime: dropping event", "event", event, "error", err)
		return
	}
	h.Broadcast(data)
}

func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("realtime: client buffer full, event dropped")
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams events until the client leaves.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(h.serve).ServeHTTP(w, r)
}

func (h *Hub) serve(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	h.register(c)
	defer h.unregister(c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for data := range c.send {
			if err := websocket.Message.Send(conn, string(data)); err != nil {
				h.logger.Debug("realtime: write failed", "error", err)
				_ = conn.Close()
				return
			}
		}
	}()

	// The panel only listens; reads detect disconnects.
	for {
		var discard string
		if err := websocket.Message.Receive(conn, &discard); err != nil {
			break
		}
	}
	h.unregister(c)
	<-done
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("realtime: client connected", "clients", n)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}
