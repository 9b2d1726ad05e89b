package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSBus is a Bus endpoint connected to a Hub over websocket, letting
// separate processes act as tabs of the same origin.
type WSBus struct {
	ws     *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	subs   subscribers
	closed bool

	done chan struct{}
}

// Dial connects to the hub at rawURL and joins origin.
func Dial(ctx context.Context, rawURL, origin string, logger *zap.Logger) (*WSBus, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing bus url: %w", err)
	}
	q := u.Query()
	q.Set("origin", origin)
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dialing bus: %w", err)
	}
	ws.SetReadLimit(maxMessageSize)

	b := &WSBus{
		ws:     ws,
		logger: logger,
		subs:   newSubscribers(),
		done:   make(chan struct{}),
	}
	go b.readLoop()
	return b, nil
}

func (b *WSBus) Publish(msg Message) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding bus message: %w", err)
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := b.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing bus message: %w", err)
	}
	return nil
}

func (b *WSBus) Subscribe(fn func(Message)) func() {
	b.mu.Lock()
	id := b.subs.add(fn)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs.fns, id)
		b.mu.Unlock()
	}
}

// Done is closed when the connection to the hub is gone.
func (b *WSBus) Done() <-chan struct{} {
	return b.done
}

func (b *WSBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.writeMu.Lock()
	_ = b.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	b.writeMu.Unlock()
	return b.ws.Close()
}

func (b *WSBus) readLoop() {
	defer close(b.done)

	for {
		_, data, err := b.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Debug("bus read error", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			b.logger.Debug("dropping malformed bus message", zap.Error(err))
			continue
		}

		b.mu.Lock()
		fns := b.subs.snapshot()
		b.mu.Unlock()
		for _, fn := range fns {
			fn(msg)
		}
	}
}

var _ Bus = (*WSBus)(nil)
