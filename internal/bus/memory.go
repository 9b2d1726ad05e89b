package bus

import (
	"sync"
)

const inboxSize = 256

// MemoryHub connects in-process tabs. Each tab joins once and gets its own
// MemoryBus endpoint.
type MemoryHub struct {
	mu      sync.RWMutex
	members map[*MemoryBus]struct{}
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{members: make(map[*MemoryBus]struct{})}
}

// Join attaches a new endpoint to the hub.
func (h *MemoryHub) Join() *MemoryBus {
	b := &MemoryBus{
		hub:   h,
		inbox: make(chan Message, inboxSize),
		subs:  newSubscribers(),
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	h.members[b] = struct{}{}
	h.mu.Unlock()

	go b.deliver()
	return b
}

// Members returns the number of attached endpoints.
func (h *MemoryHub) Members() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

// MemoryBus is one tab's endpoint on a MemoryHub. Messages are delivered
// asynchronously, in publish order, on a goroutine owned by the endpoint.
type MemoryBus struct {
	hub   *MemoryHub
	inbox chan Message
	done  chan struct{}

	mu     sync.Mutex
	subs   subscribers
	closed bool
}

func (b *MemoryBus) Publish(msg Message) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	b.hub.mu.RLock()
	defer b.hub.mu.RUnlock()
	for m := range b.hub.members {
		if m == b {
			continue
		}
		select {
		case m.inbox <- msg:
		default:
			// Receiver is not keeping up; the message is dropped.
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(fn func(Message)) func() {
	b.mu.Lock()
	id := b.subs.add(fn)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs.fns, id)
		b.mu.Unlock()
	}
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.hub.mu.Lock()
	delete(b.hub.members, b)
	b.hub.mu.Unlock()

	close(b.done)
	return nil
}

func (b *MemoryBus) deliver() {
	for {
		select {
		case <-b.done:
			return
		case msg := <-b.inbox:
			b.mu.Lock()
			fns := b.subs.snapshot()
			b.mu.Unlock()
			for _, fn := range fns {
				fn(msg)
			}
		}
	}
}

var _ Bus = (*MemoryBus)(nil)
