package realtime

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/dgnsrekt/realtime-sync/internal/model"
)

func TestDispatcher_NewItems(t *testing.T) {
	toaster := &recordingToaster{}
	sound := &countingSound{}
	ledger := &recordingLedger{}
	d := NewDispatcher(toaster, sound, StaticSettings{Sound: true}, ledger, zap.NewNop())
	ctx := context.Background()

	if !d.Dispatch(ctx, discussionEvent(1, 42, model.EventNewDiscussion, `{"id":42,"topic":"Hi","authorId":7,"authorName":"Ada"}`), signedIn) {
		t.Fatal("expected notification for new discussion")
	}
	if !d.Dispatch(ctx, commentEvent(2, model.EventNewComment, 42, model.Int64(3), `{"id":8,"body":"yes","authorId":7,"authorName":"Ada"}`), signedIn) {
		t.Fatal("expected notification for new reply")
	}

	if diff := cmp.Diff([]string{"Ada started a discussion", "Ada replied"}, toaster.titles()); diff != "" {
		t.Errorf("titles mismatch (-want +got):\n%s", diff)
	}
	if sound.plays != 2 {
		t.Errorf("expected 2 sounds, got %d", sound.plays)
	}

	want := []unreadCall{
		{CommunityID: 9, ArticleID: 5, Item: model.UnreadItem{ID: 42, Type: model.EventNewDiscussion}},
		{CommunityID: 9, ArticleID: 5, Item: model.UnreadItem{
			ID:           8,
			Type:         model.EventNewComment,
			DiscussionID: model.Int64(42),
			ParentID:     model.Int64(3),
		}},
	}
	if diff := cmp.Diff(want, ledger.calls); diff != "" {
		t.Errorf("ledger calls mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatcher_Skips(t *testing.T) {
	tests := []struct {
		name  string
		event model.Event
	}{
		{"own discussion", discussionEvent(1, 42, model.EventNewDiscussion, `{"id":42,"authorId":1}`)},
		{"own comment", commentEvent(1, model.EventNewComment, 42, nil, `{"id":8,"authorId":1}`)},
		{"updated discussion", discussionEvent(1, 42, model.EventUpdatedDiscussion, `{"id":42,"authorId":7}`)},
		{"deleted comment", commentEvent(1, model.EventDeletedComment, 42, nil, `{"id":8}`)},
		{"missing payload", discussionEvent(1, 42, model.EventNewDiscussion, ``)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			toaster := &recordingToaster{}
			ledger := &recordingLedger{}
			d := NewDispatcher(toaster, nil, nil, ledger, zap.NewNop())

			if d.Dispatch(context.Background(), tt.event, signedIn) {
				t.Error("expected no notification")
			}
			if len(toaster.titles()) != 0 || ledger.count() != 0 {
				t.Errorf("expected no side effects, got toasts=%v ledger=%d", toaster.titles(), ledger.count())
			}
		})
	}
}

func TestDispatcher_SoundFollowsSetting(t *testing.T) {
	sound := &countingSound{}
	d := NewDispatcher(&recordingToaster{}, sound, StaticSettings{Sound: false}, nil, zap.NewNop())

	d.Dispatch(context.Background(), discussionEvent(1, 42, model.EventNewDiscussion, `{"id":42}`), signedIn)
	if sound.plays != 0 {
		t.Errorf("sound disabled, got %d plays", sound.plays)
	}
}

func TestDispatcher_Syncing(t *testing.T) {
	toaster := &recordingToaster{}
	NewDispatcher(toaster, nil, nil, nil, zap.NewNop()).Syncing(context.Background())

	if diff := cmp.Diff([]string{"Syncing…"}, toaster.titles()); diff != "" {
		t.Errorf("titles mismatch (-want +got):\n%s", diff)
	}
}
