package realtime

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"

	"github.com/dgnsrekt/realtime-sync/internal/model"
	"github.com/dgnsrekt/realtime-sync/internal/querycache"
)

func newTestReconciler(cache *querycache.Cache, active ActiveContextProvider, clock Clock) *Reconciler {
	return NewReconciler(cache, active, clock, 30*time.Second, zap.NewNop())
}

func sampleTree() []model.Comment {
	return []model.Comment{
		{ID: 1, Body: "root one", Replies: []model.Comment{
			{ID: 2, ParentID: model.Int64(1), Body: "reply", Replies: []model.Comment{
				{ID: 3, ParentID: model.Int64(2), Body: "deep a"},
				{ID: 4, ParentID: model.Int64(2), Body: "deep b"},
			}},
			{ID: 5, ParentID: model.Int64(1), Body: "sibling"},
		}},
		{ID: 6, Body: "root two"},
	}
}

func TestReconciler_NewDiscussionIsIdempotent(t *testing.T) {
	cache := querycache.New()
	cache.SetDiscussions(listKey, []model.Discussion{{ID: 42, Topic: "X"}})
	r := newTestReconciler(cache, nil, nil)

	ev := discussionEvent(1, 42, model.EventNewDiscussion, `{"id":42,"topic":"changed"}`)
	if got := r.Apply(ev); got != OutcomeUnchanged {
		t.Errorf("expected unchanged, got %s", got)
	}
	items, _ := cache.Discussions(listKey)
	if diff := cmp.Diff([]model.Discussion{{ID: 42, Topic: "X"}}, items); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}
}

func TestReconciler_DiscussionFamily(t *testing.T) {
	tests := []struct {
		name    string
		event   model.Event
		want    []model.Discussion
		outcome Outcome
	}{
		{
			name:    "update merges present fields",
			event:   discussionEvent(1, 2, model.EventUpdatedDiscussion, `{"id":2,"topic":"renamed"}`),
			want:    []model.Discussion{{ID: 1, Topic: "a"}, {ID: 2, Topic: "renamed", Body: "keep", CommentCount: 3}},
			outcome: OutcomeMerged,
		},
		{
			name:    "delete removes by id",
			event:   discussionEvent(1, 1, model.EventDeletedDiscussion, `{"id":1}`),
			want:    []model.Discussion{{ID: 2, Topic: "b", Body: "keep", CommentCount: 3}},
			outcome: OutcomeMerged,
		},
		{
			name:    "delete with routing key only",
			event:   discussionEvent(1, 2, model.EventDeletedDiscussion, ``),
			want:    []model.Discussion{{ID: 1, Topic: "a"}},
			outcome: OutcomeMerged,
		},
		{
			name:    "update of unknown id is a no-op",
			event:   discussionEvent(1, 99, model.EventUpdatedDiscussion, `{"id":99,"topic":"?"}`),
			want:    []model.Discussion{{ID: 1, Topic: "a"}, {ID: 2, Topic: "b", Body: "keep", CommentCount: 3}},
			outcome: OutcomeUnchanged,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := querycache.New()
			cache.SetDiscussions(listKey, []model.Discussion{
				{ID: 1, Topic: "a"},
				{ID: 2, Topic: "b", Body: "keep", CommentCount: 3},
			})
			r := newTestReconciler(cache, nil, nil)

			if got := r.Apply(tt.event); got != tt.outcome {
				t.Errorf("expected %s, got %s", tt.outcome, got)
			}
			items, _ := cache.Discussions(listKey)
			if diff := cmp.Diff(tt.want, items, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("list mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReconciler_CommentFamily(t *testing.T) {
	tests := []struct {
		name  string
		event model.Event
		want  func() []model.Comment
	}{
		{
			name:  "top-level comment appended",
			event: commentEvent(1, model.EventNewComment, 42, nil, `{"id":7,"body":"new"}`),
			want: func() []model.Comment {
				tree := sampleTree()
				return append(tree, model.Comment{ID: 7, DiscussionID: 42, Body: "new"})
			},
		},
		{
			name:  "reply inserted at depth",
			event: commentEvent(1, model.EventNewComment, 42, model.Int64(3), `{"id":8,"body":"deeper"}`),
			want: func() []model.Comment {
				tree := sampleTree()
				tree[0].Replies[0].Replies[0].Replies = []model.Comment{{ID: 8, DiscussionID: 42, ParentID: model.Int64(3), Body: "deeper"}}
				return tree
			},
		},
		{
			name:  "duplicate reply ignored",
			event: commentEvent(1, model.EventNewComment, 42, model.Int64(1), `{"id":5,"body":"again"}`),
			want:  sampleTree,
		},
		{
			name:  "update merges at depth and keeps replies",
			event: commentEvent(1, model.EventUpdatedComment, 42, nil, `{"id":2,"body":"edited"}`),
			want: func() []model.Comment {
				tree := sampleTree()
				tree[0].Replies[0].Body = "edited"
				return tree
			},
		},
		{
			name:  "delete at depth two leaves siblings and ancestors",
			event: commentEvent(1, model.EventDeletedComment, 42, nil, `{"id":3}`),
			want: func() []model.Comment {
				tree := sampleTree()
				tree[0].Replies[0].Replies = []model.Comment{{ID: 4, ParentID: model.Int64(2), Body: "deep b"}}
				return tree
			},
		},
		{
			name:  "delete subtree root",
			event: commentEvent(1, model.EventDeletedComment, 42, nil, `{"id":2}`),
			want: func() []model.Comment {
				tree := sampleTree()
				tree[0].Replies = []model.Comment{{ID: 5, ParentID: model.Int64(1), Body: "sibling"}}
				return tree
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := querycache.New()
			cache.SetComments(42, sampleTree())
			r := newTestReconciler(cache, nil, nil)

			r.Apply(tt.event)

			got, _ := cache.Comments(42)
			if diff := cmp.Diff(tt.want(), got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("tree mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReconciler_TopLevelCommentBumpsCount(t *testing.T) {
	cache := querycache.New()
	cache.SetDiscussions(listKey, []model.Discussion{{ID: 42, CommentCount: 2}})
	cache.SetComments(42, nil)
	r := newTestReconciler(cache, nil, nil)

	r.Apply(commentEvent(1, model.EventNewComment, 42, nil, `{"id":7}`))
	r.Apply(commentEvent(2, model.EventNewComment, 42, model.Int64(7), `{"id":8}`))
	// Same comment again (for example after a resync) must not count twice.
	r.Apply(commentEvent(3, model.EventNewComment, 42, nil, `{"id":7}`))

	items, _ := cache.Discussions(listKey)
	if items[0].CommentCount != 3 {
		t.Errorf("expected comment count 3, got %d", items[0].CommentCount)
	}
}

func TestReconciler_NotMaterializedInvalidates(t *testing.T) {
	cache := querycache.New()
	var got []querycache.Invalidation
	cache.OnInvalidate(func(inv querycache.Invalidation) { got = append(got, inv) })
	r := newTestReconciler(cache, nil, nil)

	if out := r.Apply(discussionEvent(1, 42, model.EventNewDiscussion, `{"id":42}`)); out != OutcomeInvalidated {
		t.Errorf("expected invalidated, got %s", out)
	}
	if out := r.Apply(commentEvent(2, model.EventNewComment, 42, nil, `{"id":7}`)); out != OutcomeInvalidated {
		t.Errorf("expected invalidated, got %s", out)
	}

	want := []querycache.Invalidation{
		{Family: querycache.FamilyDiscussions, Key: "5/9"},
		{Family: querycache.FamilyComments, Key: "42"},
		{Family: querycache.FamilyDiscussions, Key: "5/9"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("invalidations mismatch (-want +got):\n%s", diff)
	}
}

func TestReconciler_MissingParentInvalidates(t *testing.T) {
	cache := querycache.New()
	cache.SetComments(42, sampleTree())
	r := newTestReconciler(cache, nil, nil)

	if out := r.Apply(commentEvent(1, model.EventNewComment, 42, model.Int64(404), `{"id":9}`)); out != OutcomeInvalidated {
		t.Errorf("expected invalidated, got %s", out)
	}
	if !cache.CommentsStale(42) {
		t.Error("tree should be stale")
	}
}

func TestReconciler_RelevanceGate(t *testing.T) {
	clock := newFakeClock()
	elsewhere := ActiveContext{ArticleID: 1, CommunityID: 2, ViewingDiscussions: true}

	tests := []struct {
		name      string
		focusedAt time.Time
		want      Outcome
	}{
		{"fresh context elsewhere invalidates", clock.Now().Add(-time.Second), OutcomeInvalidated},
		{"stale context elsewhere merges", clock.Now().Add(-time.Minute), OutcomeMerged},
		{"never focused merges", time.Time{}, OutcomeMerged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := querycache.New()
			cache.SetDiscussions(listKey, nil)
			ac := elsewhere
			ac.FocusedAt = tt.focusedAt
			r := newTestReconciler(cache, StaticContext(ac), clock)

			if got := r.Apply(discussionEvent(1, 42, model.EventNewDiscussion, `{"id":42}`)); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}

	partial := []struct {
		name string
		ac   ActiveContext
		want Outcome
	}{
		{"article only", ActiveContext{ArticleID: 5}, OutcomeMerged},
		{"community only", ActiveContext{CommunityID: 9}, OutcomeMerged},
		{"article only elsewhere", ActiveContext{ArticleID: 6}, OutcomeInvalidated},
	}
	for _, tt := range partial {
		t.Run(tt.name, func(t *testing.T) {
			cache := querycache.New()
			cache.SetDiscussions(listKey, nil)
			ac := tt.ac
			ac.FocusedAt = clock.Now()
			r := newTestReconciler(cache, StaticContext(ac), clock)

			if got := r.Apply(discussionEvent(1, 42, model.EventNewDiscussion, `{"id":42}`)); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
			if tt.want != OutcomeMerged {
				return
			}
			items, _ := cache.Discussions(listKey)
			if len(items) != 1 || items[0].ID != 42 {
				t.Errorf("expected discussion 42 at the head, got %+v", items)
			}
		})
	}

	t.Run("open discussion merges comments", func(t *testing.T) {
		ac := elsewhere
		ac.ViewingComments = true
		ac.DiscussionID = 42
		ac.FocusedAt = clock.Now()

		cache := querycache.New()
		cache.SetComments(42, []model.Comment{{ID: 1, DiscussionID: 42}})
		cache.SetComments(43, []model.Comment{{ID: 1, DiscussionID: 43}})
		r := newTestReconciler(cache, StaticContext(ac), clock)

		open := commentEvent(1, model.EventNewComment, 42, model.Int64(1), `{"id":7}`)
		if got := r.Apply(open); got != OutcomeMerged {
			t.Errorf("comment on the open discussion: expected merged, got %s", got)
		}
		other := commentEvent(2, model.EventNewComment, 43, model.Int64(1), `{"id":8}`)
		if got := r.Apply(other); got != OutcomeInvalidated {
			t.Errorf("comment on another discussion: expected invalidated, got %s", got)
		}
	})

	t.Run("matching context merges", func(t *testing.T) {
		cache := querycache.New()
		cache.SetDiscussions(listKey, nil)
		ac := ActiveContext{ArticleID: 5, CommunityID: 9, FocusedAt: clock.Now()}
		r := newTestReconciler(cache, StaticContext(ac), clock)
		if got := r.Apply(discussionEvent(1, 42, model.EventNewDiscussion, `{"id":42}`)); got != OutcomeMerged {
			t.Errorf("expected merged, got %s", got)
		}
	})
}

func TestReconciler_SkipsMalformed(t *testing.T) {
	r := newTestReconciler(querycache.New(), nil, nil)
	ev := model.Event{Type: model.EventNewComment, EventID: 1, Data: model.EventData{ArticleID: 5, CommunityID: 9}}
	if got := r.Apply(ev); got != OutcomeSkipped {
		t.Errorf("expected skipped, got %s", got)
	}
	if got := r.Apply(model.Event{Type: "reaction_added", EventID: 2}); got != OutcomeSkipped {
		t.Errorf("expected skipped for unknown type, got %s", got)
	}
}
