package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Hub relays bus messages between websocket connections. Connections are
// grouped by origin and a message is delivered to every other connection
// of the sender's origin.
type Hub struct {
	clients    map[*conn]bool
	origins    map[string]map[*conn]bool // origin -> connections
	register   chan *conn
	unregister chan *conn
	broadcast  chan *originMessage
	done       chan struct{}
	mu         sync.RWMutex
	logger     *zap.Logger
}

type originMessage struct {
	origin  string
	sender  *conn
	payload []byte
}

// NewHub creates a new Hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*conn]bool),
		origins:    make(map[string]map[*conn]bool),
		register:   make(chan *conn),
		unregister: make(chan *conn),
		broadcast:  make(chan *originMessage, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run processes hub events. Call this in a goroutine.
// Returns when context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("bus hub shutting down")
			h.shutdown()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			if h.origins[c.origin] == nil {
				h.origins[c.origin] = make(map[*conn]bool)
			}
			h.origins[c.origin][c] = true
			h.mu.Unlock()
			h.logger.Debug("bus client registered",
				zap.String("connID", c.connID),
				zap.String("origin", c.origin),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				if conns, ok := h.origins[c.origin]; ok {
					delete(conns, c)
					if len(conns) == 0 {
						delete(h.origins, c.origin)
					}
				}
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Debug("bus client unregistered", zap.String("connID", c.connID))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.origins[msg.origin] {
				if c == msg.sender {
					continue
				}
				select {
				case c.send <- msg.payload:
				default:
					// Buffer full, schedule disconnect
					go h.drop(c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Clients returns the number of connections registered for origin.
func (h *Hub) Clients(origin string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.origins[origin])
}

func (h *Hub) publish(msg *originMessage) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

func (h *Hub) drop(c *conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// shutdown closes all client connections.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	close(h.done)
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.origins = make(map[string]map[*conn]bool)
}
