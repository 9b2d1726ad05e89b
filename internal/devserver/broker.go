// Package devserver is a development realtime backend: an in-memory queue
// broker served over the register/poll/heartbeat endpoints, plus the
// websocket bus hub that lets separate processes act as tabs.
package devserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dgnsrekt/realtime-sync/internal/model"
)

var (
	ErrQueueNotFound   = errors.New("queue not found")
	ErrCatchupRequired = errors.New("catchup required")
)

// queue holds one client's pending events. Event ids are assigned per queue
// and increase by one per published event.
type queue struct {
	id       string
	userID   int64
	events   []model.Event
	lastID   int64
	lastSeen time.Time
	wake     chan struct{}
}

// oldestID is the id of the oldest retained event, or lastID+1 when empty.
func (q *queue) oldestID() int64 {
	if len(q.events) == 0 {
		return q.lastID + 1
	}
	return q.events[0].EventID
}

func (q *queue) since(lastEventID int64) []model.Event {
	var out []model.Event
	for _, ev := range q.events {
		if ev.EventID > lastEventID {
			out = append(out, ev)
		}
	}
	return out
}

// Broker fans published events out to every registered queue.
type Broker struct {
	mu      sync.Mutex
	queues  map[string]*queue
	backlog int
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

func NewBroker(backlog int, ttl time.Duration, logger *zap.Logger) *Broker {
	if backlog < 1 {
		backlog = 1
	}
	return &Broker{
		queues:  make(map[string]*queue),
		backlog: backlog,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
	}
}

// Register creates a queue for userID. The returned cursor is the queue's
// current position, so the client only sees events published afterwards.
func (b *Broker) Register(userID int64) (string, int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := &queue{
		id:       uuid.NewString(),
		userID:   userID,
		lastSeen: b.now(),
		wake:     make(chan struct{}),
	}
	b.queues[q.id] = q

	b.logger.Info("queue registered",
		zap.String("queueId", q.id),
		zap.Int64("userId", userID),
		zap.Int("queues", len(b.queues)),
	)
	return q.id, q.lastID
}

// Publish appends ev to every queue and wakes waiting polls. It returns the
// number of queues reached.
func (b *Broker) Publish(ev model.Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, q := range b.queues {
		q.lastID++
		e := ev
		e.EventID = q.lastID
		q.events = append(q.events, e)
		if len(q.events) > b.backlog {
			q.events = append([]model.Event(nil), q.events[len(q.events)-b.backlog:]...)
		}
		close(q.wake)
		q.wake = make(chan struct{})
	}
	return len(b.queues)
}

// Poll returns the events after lastEventID, waiting up to timeout for new
// ones. An empty result with the unchanged cursor means the wait elapsed.
func (b *Broker) Poll(ctx context.Context, userID int64, queueID string, lastEventID int64, timeout time.Duration) ([]model.Event, int64, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		b.mu.Lock()
		q, ok := b.queues[queueID]
		if !ok || q.userID != userID {
			b.mu.Unlock()
			return nil, 0, ErrQueueNotFound
		}
		q.lastSeen = b.now()
		// A cursor behind the backlog or ahead of the queue cannot be served.
		if lastEventID+1 < q.oldestID() || lastEventID > q.lastID {
			b.mu.Unlock()
			return nil, 0, ErrCatchupRequired
		}
		if events := q.since(lastEventID); len(events) > 0 {
			last := q.lastID
			b.mu.Unlock()
			return events, last, nil
		}
		wake := q.wake
		b.mu.Unlock()

		select {
		case <-wake:
		case <-timer.C:
			return nil, lastEventID, nil
		case <-ctx.Done():
			return nil, lastEventID, ctx.Err()
		}
	}
}

// Heartbeat keeps queueID alive.
func (b *Broker) Heartbeat(userID int64, queueID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queueID]
	if !ok || q.userID != userID {
		return ErrQueueNotFound
	}
	q.lastSeen = b.now()
	return nil
}

// Evict drops queues not seen for longer than the TTL and returns how many
// were removed.
func (b *Broker) Evict() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-b.ttl)
	removed := 0
	for id, q := range b.queues {
		if q.lastSeen.Before(cutoff) {
			delete(b.queues, id)
			close(q.wake)
			removed++
			b.logger.Info("queue evicted", zap.String("queueId", id), zap.Time("lastSeen", q.lastSeen))
		}
	}
	return removed
}

// RunJanitor evicts idle queues every interval until ctx is done.
func (b *Broker) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Evict()
		}
	}
}

func (b *Broker) Queues() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues)
}
