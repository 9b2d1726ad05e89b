package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dgnsrekt/realtime-sync/internal/model"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "state", "ledger.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	tick := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return l
}

func TestLedger_AddIsIdempotent(t *testing.T) {
	l := openTestLedger(t)

	disc := model.UnreadItem{ID: 42, Type: model.EventNewDiscussion}
	reply := model.UnreadItem{ID: 8, Type: model.EventNewComment, DiscussionID: model.Int64(42), ParentID: model.Int64(3)}

	for _, item := range []model.UnreadItem{disc, reply, disc} {
		if err := l.AddUnreadItem(9, 5, item); err != nil {
			t.Fatalf("AddUnreadItem failed: %v", err)
		}
	}

	n, err := l.Count(9, 5)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 items, got %d err=%v", n, err)
	}

	entries, err := l.Items(9, 5)
	if err != nil {
		t.Fatal(err)
	}
	var items []model.UnreadItem
	for _, e := range entries {
		items = append(items, e.Item)
	}
	if diff := cmp.Diff([]model.UnreadItem{disc, reply}, items); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
}

func TestLedger_ScopesAndMarkRead(t *testing.T) {
	l := openTestLedger(t)

	_ = l.AddUnreadItem(9, 5, model.UnreadItem{ID: 1, Type: model.EventNewDiscussion})
	_ = l.AddUnreadItem(9, 5, model.UnreadItem{ID: 2, Type: model.EventNewComment})
	_ = l.AddUnreadItem(3, 7, model.UnreadItem{ID: 4, Type: model.EventNewDiscussion})

	scopes, err := l.Scopes()
	if err != nil {
		t.Fatal(err)
	}
	want := []Scope{{CommunityID: 3, ArticleID: 7, Unread: 1}, {CommunityID: 9, ArticleID: 5, Unread: 2}}
	if diff := cmp.Diff(want, scopes); diff != "" {
		t.Errorf("scopes mismatch (-want +got):\n%s", diff)
	}

	if err := l.MarkRead(9, 5, "new_comment:2"); err != nil {
		t.Fatal(err)
	}
	if n, _ := l.Count(9, 5); n != 1 {
		t.Errorf("expected 1 left, got %d", n)
	}

	if err := l.MarkRead(9, 5); err != nil {
		t.Fatal(err)
	}
	if n, _ := l.Count(9, 5); n != 0 {
		t.Errorf("expected scope cleared, got %d", n)
	}
	// Marking an unknown scope read is a no-op.
	if err := l.MarkRead(1, 1); err != nil {
		t.Errorf("MarkRead of unknown scope failed: %v", err)
	}
}

func TestLedger_SharedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	a, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := a.AddUnreadItem(9, 5, model.UnreadItem{ID: 1, Type: model.EventNewDiscussion}); err != nil {
		t.Fatal(err)
	}
	if n, err := b.Count(9, 5); err != nil || n != 1 {
		t.Errorf("second handle should see the item, got %d err=%v", n, err)
	}
}

func TestParseScopeKey(t *testing.T) {
	if c, a, err := parseScopeKey("9/5"); err != nil || c != 9 || a != 5 {
		t.Errorf("parseScopeKey(9/5) = %d, %d, %v", c, a, err)
	}
	for _, bad := range []string{"9", "x/5", "9/y"} {
		if _, _, err := parseScopeKey(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}
