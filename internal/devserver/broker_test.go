package devserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/realtime-sync/internal/model"
)

func newTestBroker(backlog int) *Broker {
	return NewBroker(backlog, time.Minute, zap.NewNop())
}

func sampleEvent(typ model.EventType) model.Event {
	return model.Event{Type: typ, Data: model.EventData{ArticleID: 5, CommunityID: 9}}
}

func TestBroker_PerQueueIDs(t *testing.T) {
	b := newTestBroker(10)

	qa, lastA := b.Register(1)
	b.Publish(sampleEvent(model.EventNewDiscussion))
	qb, lastB := b.Register(1)
	b.Publish(sampleEvent(model.EventNewComment))

	// Each queue numbers its own events from 1.
	if lastA != 0 || lastB != 0 {
		t.Errorf("expected registration cursors 0 and 0, got %d and %d", lastA, lastB)
	}

	events, last, err := b.Poll(context.Background(), 1, qa, lastA, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].EventID != 1 || events[1].EventID != 2 || last != 2 {
		t.Errorf("queue a: unexpected events %v last=%d", events, last)
	}

	events, last, err = b.Poll(context.Background(), 1, qb, lastB, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].EventID != 1 || events[0].Type != model.EventNewComment || last != 1 {
		t.Errorf("queue b: unexpected events %v last=%d", events, last)
	}
}

func TestBroker_LongPollWakesOnPublish(t *testing.T) {
	b := newTestBroker(10)
	q, last := b.Register(1)

	done := make(chan []model.Event, 1)
	go func() {
		events, _, _ := b.Poll(context.Background(), 1, q, last, 5*time.Second)
		done <- events
	}()

	time.Sleep(20 * time.Millisecond)
	b.Publish(sampleEvent(model.EventNewDiscussion))

	select {
	case events := <-done:
		if len(events) != 1 {
			t.Errorf("expected 1 event, got %d", len(events))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not wake up")
	}
}

func TestBroker_PollTimeout(t *testing.T) {
	b := newTestBroker(10)
	q, last := b.Register(1)

	events, got, err := b.Poll(context.Background(), 1, q, last, 10*time.Millisecond)
	if err != nil || len(events) != 0 || got != last {
		t.Errorf("expected empty result, got %v last=%d err=%v", events, got, err)
	}
}

func TestBroker_CatchupRequired(t *testing.T) {
	b := newTestBroker(2)
	q, last := b.Register(1)
	for range 3 {
		b.Publish(sampleEvent(model.EventNewDiscussion))
	}

	if _, _, err := b.Poll(context.Background(), 1, q, last, time.Second); !errors.Is(err, ErrCatchupRequired) {
		t.Fatalf("expected catch-up, got %v", err)
	}

	events, _, err := b.Poll(context.Background(), 1, q, 1, time.Second)
	if err != nil || len(events) != 2 {
		t.Errorf("cursor inside backlog should succeed, got %d events err=%v", len(events), err)
	}
}

func TestBroker_CursorAheadOfQueue(t *testing.T) {
	b := newTestBroker(10)
	q, _ := b.Register(1)
	b.Publish(sampleEvent(model.EventNewDiscussion))

	start := time.Now()
	_, _, err := b.Poll(context.Background(), 1, q, 7, 5*time.Second)
	if !errors.Is(err, ErrCatchupRequired) {
		t.Fatalf("expected catch-up, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("poll with a foreign cursor should not wait for the timeout")
	}
}

func TestBroker_QueueOwnership(t *testing.T) {
	b := newTestBroker(10)
	q, _ := b.Register(1)

	if _, _, err := b.Poll(context.Background(), 2, q, 0, time.Second); !errors.Is(err, ErrQueueNotFound) {
		t.Errorf("other user's poll: expected ErrQueueNotFound, got %v", err)
	}
	if err := b.Heartbeat(2, q); !errors.Is(err, ErrQueueNotFound) {
		t.Errorf("other user's heartbeat: expected ErrQueueNotFound, got %v", err)
	}
	if err := b.Heartbeat(1, q); err != nil {
		t.Errorf("owner heartbeat failed: %v", err)
	}
}

func TestBroker_Evict(t *testing.T) {
	b := newTestBroker(10)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	stale, _ := b.Register(1)
	now = now.Add(30 * time.Second)
	fresh, _ := b.Register(1)
	now = now.Add(45 * time.Second)

	if removed := b.Evict(); removed != 1 {
		t.Fatalf("expected 1 eviction, got %d", removed)
	}
	if err := b.Heartbeat(1, stale); !errors.Is(err, ErrQueueNotFound) {
		t.Errorf("stale queue should be gone, got %v", err)
	}
	if err := b.Heartbeat(1, fresh); err != nil {
		t.Errorf("fresh queue should survive, got %v", err)
	}
}

func TestBroker_EvictWakesPoll(t *testing.T) {
	b := newTestBroker(10)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	q, _ := b.Register(1)

	done := make(chan error, 1)
	go func() {
		_, _, err := b.Poll(context.Background(), 1, q, 0, 5*time.Second)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	b.mu.Lock()
	now = now.Add(2 * time.Minute)
	b.mu.Unlock()
	b.Evict()

	select {
	case err := <-done:
		if !errors.Is(err, ErrQueueNotFound) {
			t.Errorf("expected ErrQueueNotFound, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not return after eviction")
	}
}
