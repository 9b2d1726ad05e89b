package realtime

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/dgnsrekt/realtime-sync/internal/bus"
	"github.com/dgnsrekt/realtime-sync/internal/model"
	"github.com/dgnsrekt/realtime-sync/internal/sharedstate"
)

func seedCache(tb *tab) {
	tb.cache.SetDiscussions(listKey, []model.Discussion{{ID: 42, Topic: "X", CommentCount: 1}})
	tb.cache.SetComments(42, []model.Comment{{ID: 1, DiscussionID: 42, Body: "first"}})
}

// newIdleTab returns a signed-in tab that is not started, so events reach
// it only through ingest and OnMessage.
func newIdleTab(t *testing.T, tabID string, hub *bus.MemoryHub) *tab {
	t.Helper()
	tb := newTab(t, testConfig(tabID), sharedstate.NewMemory(), hub, &fakeBackend{}, nil)
	tb.engine.OnAuthChange(signedIn)
	seedCache(tb)
	return tb
}

func TestRelay_IdempotentAcrossDeliveryOrders(t *testing.T) {
	batch1 := []model.Event{
		discussionEvent(10, 43, model.EventNewDiscussion, `{"id":43,"topic":"Y","authorId":7}`),
		commentEvent(11, model.EventNewComment, 42, nil, `{"id":2,"body":"second","authorId":7}`),
	}
	batch2 := []model.Event{
		commentEvent(11, model.EventNewComment, 42, nil, `{"id":2,"body":"second","authorId":7}`),
		commentEvent(12, model.EventNewComment, 42, model.Int64(2), `{"id":3,"body":"reply","authorId":7}`),
		discussionEvent(13, 42, model.EventUpdatedDiscussion, `{"id":42,"topic":"X2"}`),
	}

	type delivery struct {
		relay bool
		batch []model.Event
	}
	orders := []struct {
		name       string
		deliveries []delivery
	}{
		{"poll then relay", []delivery{{false, batch1}, {true, batch1}, {false, batch2}, {true, batch2}}},
		{"relay then poll", []delivery{{true, batch1}, {false, batch1}, {true, batch2}, {false, batch2}}},
		{"interleaved", []delivery{{true, batch2}, {false, batch1}, {true, batch1}, {false, batch2}}},
	}

	var (
		wantList []model.Discussion
		wantTree []model.Comment
	)
	for i, order := range orders {
		t.Run(order.name, func(t *testing.T) {
			tb := newIdleTab(t, "tab-"+order.name, bus.NewMemoryHub())
			for _, d := range order.deliveries {
				if d.relay {
					tb.engine.OnMessage(relayMessage(t, "other", d.batch...))
				} else {
					tb.engine.ingest(t.Context(), d.batch)
				}
			}

			list, _ := tb.cache.Discussions(listKey)
			tree, _ := tb.cache.Comments(42)

			if i == 0 {
				wantList, wantTree = list, tree
				if len(list) != 2 || list[1].Topic != "X2" || list[1].CommentCount != 2 {
					t.Errorf("unexpected list: %+v", list)
				}
				if len(tree) != 2 || len(tree[1].Replies) != 1 {
					t.Errorf("unexpected tree: %+v", tree)
				}
			}
			if i > 0 {
				if diff := cmp.Diff(wantList, list, cmpopts.EquateEmpty()); diff != "" {
					t.Errorf("list differs from reference order (-want +got):\n%s", diff)
				}
				if diff := cmp.Diff(wantTree, tree, cmpopts.EquateEmpty()); diff != "" {
					t.Errorf("tree differs from reference order (-want +got):\n%s", diff)
				}
			}
			if got := tb.ledger.count(); got != 3 {
				t.Errorf("expected each new item recorded once, got %d", got)
			}
		})
	}
}

func TestRelay_TwoTabsConverge(t *testing.T) {
	hub := bus.NewMemoryHub()
	a := newIdleTab(t, "a", hub)
	b := newIdleTab(t, "b", hub)

	events := []model.Event{
		discussionEvent(20, 44, model.EventNewDiscussion, `{"id":44,"topic":"Z","authorId":7}`),
		commentEvent(21, model.EventNewComment, 42, model.Int64(1), `{"id":5,"body":"r","authorId":7}`),
	}

	// a applies as if it had polled; b gets the relay, then the same batch
	// again as if it became leader and re-polled from an older cursor.
	a.engine.ingest(t.Context(), events)
	b.engine.OnMessage(relayMessage(t, "a", events...))
	b.engine.ingest(t.Context(), events)
	a.engine.OnMessage(relayMessage(t, "b", events...))

	listA, _ := a.cache.Discussions(listKey)
	listB, _ := b.cache.Discussions(listKey)
	if diff := cmp.Diff(listA, listB); diff != "" {
		t.Errorf("lists diverged (-a +b):\n%s", diff)
	}
	treeA, _ := a.cache.Comments(42)
	treeB, _ := b.cache.Comments(42)
	if diff := cmp.Diff(treeA, treeB); diff != "" {
		t.Errorf("trees diverged (-a +b):\n%s", diff)
	}
	if len(listA) != 2 {
		t.Errorf("expected 2 discussions, got %d", len(listA))
	}
	if a.ledger.count() != 2 || b.ledger.count() != 2 {
		t.Errorf("expected 2 unread items per tab, got a=%d b=%d", a.ledger.count(), b.ledger.count())
	}
}

func TestOnMessage_Ignored(t *testing.T) {
	tb := newTab(t, testConfig("self"), sharedstate.NewMemory(), bus.NewMemoryHub(), &fakeBackend{}, nil)
	seedCache(tb)
	ev := discussionEvent(30, 45, model.EventNewDiscussion, `{"id":45}`)

	// Signed out: relays are dropped.
	tb.engine.OnMessage(relayMessage(t, "other", ev))
	tb.engine.OnAuthChange(signedIn)
	// Own messages are dropped.
	tb.engine.OnMessage(relayMessage(t, "self", ev))
	// Malformed payloads are dropped.
	tb.engine.OnMessage(bus.Message{Type: MessageEvents, Payload: []byte(`{`), SenderID: "other"})
	// Unknown status values are dropped.
	tb.engine.OnMessage(bus.Message{Type: MessageStatus, Payload: []byte(`"bogus"`), SenderID: "other"})

	list, _ := tb.cache.Discussions(listKey)
	if len(list) != 1 {
		t.Errorf("expected list untouched, got %+v", list)
	}
	if tb.engine.Status() != StatusIdle {
		t.Errorf("expected idle, got %s", tb.engine.Status())
	}
}
