// Package bus provides the cross-tab broadcast channel used for ephemeral
// signaling. Delivery is fire-and-forget and a publisher never receives its
// own messages.
package bus

import (
	"encoding/json"
	"errors"
)

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("bus closed")

// Message is the envelope exchanged between tabs.
type Message struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	SenderID string          `json:"senderId,omitempty"`
}

// Bus is a publish/subscribe channel shared by all tabs of one origin.
type Bus interface {
	Publish(msg Message) error
	// Subscribe registers fn for every message published by other tabs.
	// The returned function removes the subscription.
	Subscribe(fn func(Message)) (unsubscribe func())
	Close() error
}

// subscribers is the callback registry shared by the bus implementations.
type subscribers struct {
	fns    map[uint64]func(Message)
	nextID uint64
}

func newSubscribers() subscribers {
	return subscribers{fns: make(map[uint64]func(Message))}
}

func (s *subscribers) add(fn func(Message)) uint64 {
	id := s.nextID
	s.nextID++
	s.fns[id] = fn
	return id
}

func (s *subscribers) snapshot() []func(Message) {
	out := make([]func(Message), 0, len(s.fns))
	for _, fn := range s.fns {
		out = append(out, fn)
	}
	return out
}
