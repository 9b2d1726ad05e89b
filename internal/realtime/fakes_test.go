package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/realtime-sync/internal/api"
	"github.com/dgnsrekt/realtime-sync/internal/bus"
	"github.com/dgnsrekt/realtime-sync/internal/model"
	"github.com/dgnsrekt/realtime-sync/internal/notify"
	"github.com/dgnsrekt/realtime-sync/internal/querycache"
	"github.com/dgnsrekt/realtime-sync/internal/sharedstate"
)

// fakeBackend scripts the realtime API. Unset funcs succeed (register,
// heartbeat) or block until cancelled (poll).
type fakeBackend struct {
	mu         sync.Mutex
	registers  int
	polls      int
	heartbeats int
	pollCtxs   []context.Context

	registerFn  func(n int) (*api.RegisterResponse, error)
	pollFn      func(ctx context.Context, n int, queueID string, last int64) (*api.PollResponse, error)
	heartbeatFn func(n int) error
}

func (f *fakeBackend) Register(ctx context.Context, token string) (*api.RegisterResponse, error) {
	f.mu.Lock()
	f.registers++
	n, fn := f.registers, f.registerFn
	f.mu.Unlock()

	if fn != nil {
		return fn(n)
	}
	return &api.RegisterResponse{QueueID: fmt.Sprintf("q-%d", n), LastEventID: 0}, nil
}

func (f *fakeBackend) Poll(ctx context.Context, token, queueID string, last int64) (*api.PollResponse, error) {
	f.mu.Lock()
	f.polls++
	f.pollCtxs = append(f.pollCtxs, ctx)
	n, fn := f.polls, f.pollFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, n, queueID, last)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeBackend) Heartbeat(ctx context.Context, token, queueID string) error {
	f.mu.Lock()
	f.heartbeats++
	n, fn := f.heartbeats, f.heartbeatFn
	f.mu.Unlock()

	if fn != nil {
		return fn(n)
	}
	return nil
}

func (f *fakeBackend) counts() (registers, polls, heartbeats int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registers, f.polls, f.heartbeats
}

func (f *fakeBackend) lastPollCtx() context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pollCtxs) == 0 {
		return nil
	}
	return f.pollCtxs[len(f.pollCtxs)-1]
}

// blockPoll waits for cancellation like an idle long poll.
func blockPoll(ctx context.Context) (*api.PollResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type recordingToaster struct {
	mu     sync.Mutex
	toasts []notify.Toast
}

func (r *recordingToaster) Toast(_ context.Context, t notify.Toast) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, t)
	return nil
}

func (r *recordingToaster) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, t := range r.toasts {
		out = append(out, t.Title)
	}
	return out
}

type countingSound struct {
	mu    sync.Mutex
	plays int
}

func (c *countingSound) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plays++
	return nil
}

type unreadCall struct {
	CommunityID int64
	ArticleID   int64
	Item        model.UnreadItem
}

type recordingLedger struct {
	mu    sync.Mutex
	calls []unreadCall
}

func (r *recordingLedger) AddUnreadItem(communityID, articleID int64, item model.UnreadItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, unreadCall{communityID, articleID, item})
	return nil
}

func (r *recordingLedger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// tab bundles one engine with its private collaborators.
type tab struct {
	engine  *Engine
	cache   *querycache.Cache
	toaster *recordingToaster
	ledger  *recordingLedger
	bus     *bus.MemoryBus
}

func testConfig(tabID string) Config {
	return Config{
		TabID:             tabID,
		PollTimeout:       5 * time.Second,
		HeartbeatInterval: time.Hour,
		LeaseTTL:          20 * time.Millisecond,
		BackoffFloor:      time.Millisecond,
		BackoffCap:        8 * time.Millisecond,
		MaxRetries:        3,
	}
}

func newTab(t *testing.T, cfg Config, store sharedstate.Store, hub *bus.MemoryHub, backend api.Client, active ActiveContextProvider) *tab {
	t.Helper()

	b := hub.Join()
	tb := &tab{
		cache:   querycache.New(),
		toaster: &recordingToaster{},
		ledger:  &recordingLedger{},
		bus:     b,
	}
	engine, err := New(cfg, Deps{
		Store:   store,
		Bus:     b,
		Backend: backend,
		Cache:   tb.cache,
		Ledger:  tb.ledger,
		Toaster: tb.toaster,
		Context: active,
		Logger:  zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	tb.engine = engine
	t.Cleanup(func() {
		engine.Stop()
		b.Close()
	})
	return tb
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func discussionEvent(eventID, discussionID int64, typ model.EventType, payload string) model.Event {
	return model.Event{
		Type:    typ,
		EventID: eventID,
		Data: model.EventData{
			ArticleID:    5,
			CommunityID:  9,
			DiscussionID: model.Int64(discussionID),
			Discussion:   json.RawMessage(payload),
		},
	}
}

func commentEvent(eventID int64, typ model.EventType, discussionID int64, parentID *int64, payload string) model.Event {
	return model.Event{
		Type:    typ,
		EventID: eventID,
		Data: model.EventData{
			ArticleID:    5,
			CommunityID:  9,
			DiscussionID: model.Int64(discussionID),
			ParentID:     parentID,
			Comment:      json.RawMessage(payload),
		},
	}
}

func relayMessage(t *testing.T, sender string, events ...model.Event) bus.Message {
	t.Helper()
	payload, err := json.Marshal(events)
	if err != nil {
		t.Fatal(err)
	}
	return bus.Message{Type: MessageEvents, Payload: payload, SenderID: sender}
}

var listKey = querycache.DiscussionKey{ArticleID: 5, CommunityID: 9}

var signedIn = Credentials{AccessToken: "tok", UserID: 1}
