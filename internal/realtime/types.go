package realtime

import (
	"context"
	"time"

	"github.com/dgnsrekt/realtime-sync/internal/model"
	"github.com/dgnsrekt/realtime-sync/internal/notify"
	"github.com/dgnsrekt/realtime-sync/internal/querycache"
)

// Status is the connection state shown to the UI.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusError        Status = "error"
	StatusDisabled     Status = "disabled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusConnecting, StatusConnected, StatusReconnecting, StatusError, StatusDisabled:
		return true
	}
	return false
}

// QueueState is the server-side queue handle and the read cursor within it.
// Both fields are persisted and cleared together.
type QueueState struct {
	QueueID     string
	LastEventID int64
}

// Credentials is the session the engine acts for. An empty AccessToken means
// signed out.
type Credentials struct {
	AccessToken string
	UserID      int64
}

func (c Credentials) Authenticated() bool {
	return c.AccessToken != ""
}

// ActiveContext describes what the tab is showing right now.
type ActiveContext struct {
	ArticleID          int64
	CommunityID        int64
	DiscussionID       int64
	ViewingDiscussions bool
	ViewingComments    bool
	FocusedAt          time.Time
}

// ActiveContextProvider reports the tab's current ActiveContext.
type ActiveContextProvider interface {
	ActiveContext() ActiveContext
}

// StaticContext is an ActiveContextProvider with a fixed value.
type StaticContext ActiveContext

func (s StaticContext) ActiveContext() ActiveContext {
	return ActiveContext(s)
}

// CacheStore is the query cache the reconciler mutates.
type CacheStore interface {
	UpdateDiscussions(key querycache.DiscussionKey, fn func([]model.Discussion) []model.Discussion) bool
	UpdateComments(discussionID int64, fn func([]model.Comment) []model.Comment) bool
	InvalidateDiscussions(key querycache.DiscussionKey)
	InvalidateComments(discussionID int64)
	InvalidateFamily(family querycache.Family)
}

// UnreadLedger records new items the user has not seen yet.
type UnreadLedger interface {
	AddUnreadItem(communityID, articleID int64, item model.UnreadItem) error
}

// Toaster shows transient notifications.
type Toaster interface {
	Toast(ctx context.Context, t notify.Toast) error
}

// SoundPlayer plays the notification sound.
type SoundPlayer interface {
	Play() error
}

// Settings exposes user preferences.
type Settings interface {
	SoundEnabled() bool
}

// StaticSettings is a Settings with fixed values.
type StaticSettings struct {
	Sound bool
}

func (s StaticSettings) SoundEnabled() bool {
	return s.Sound
}

// Clock supplies wall-clock time for lease timestamps and freshness checks.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the real clock.
var SystemClock Clock = systemClock{}
