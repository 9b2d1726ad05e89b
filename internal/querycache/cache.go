// Package querycache holds the client-side query results the realtime engine
// reconciles: discussion lists keyed by (article, community) and comment trees
// keyed by discussion.
package querycache

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgnsrekt/realtime-sync/internal/model"
)

// Family groups query keys that are invalidated together.
type Family string

const (
	FamilyDiscussions Family = "discussions"
	FamilyComments    Family = "comments"
)

// DiscussionKey identifies a discussion list.
type DiscussionKey struct {
	ArticleID   int64
	CommunityID int64
}

func (k DiscussionKey) String() string {
	return fmt.Sprintf("%d/%d", k.ArticleID, k.CommunityID)
}

// Invalidation describes one invalidation. An empty Key covers the whole family.
type Invalidation struct {
	Family Family
	Key    string
}

type discussionEntry struct {
	items     []model.Discussion
	stale     bool
	updatedAt time.Time
}

type commentEntry struct {
	items     []model.Comment
	stale     bool
	updatedAt time.Time
}

// Cache is safe for concurrent use. A key is materialized once Set has been
// called for it; invalidation marks it stale but keeps the data.
type Cache struct {
	mu           sync.RWMutex
	discussions  map[DiscussionKey]*discussionEntry
	comments     map[int64]*commentEntry
	onInvalidate func(Invalidation)
	now          func() time.Time
}

func New() *Cache {
	return &Cache{
		discussions: make(map[DiscussionKey]*discussionEntry),
		comments:    make(map[int64]*commentEntry),
		now:         time.Now,
	}
}

// OnInvalidate sets a hook called after every invalidation, outside the lock.
func (c *Cache) OnInvalidate(fn func(Invalidation)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onInvalidate = fn
}

// Discussions returns a copy of the list stored under key.
func (c *Cache) Discussions(key DiscussionKey) ([]model.Discussion, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.discussions[key]
	if !ok {
		return nil, false
	}
	return append([]model.Discussion(nil), e.items...), true
}

func (c *Cache) SetDiscussions(key DiscussionKey, items []model.Discussion) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.discussions[key] = &discussionEntry{
		items:     append([]model.Discussion(nil), items...),
		updatedAt: c.now(),
	}
}

// UpdateDiscussions replaces the list under key with fn's result. It returns
// false without calling fn when the key is not materialized.
func (c *Cache) UpdateDiscussions(key DiscussionKey, fn func([]model.Discussion) []model.Discussion) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.discussions[key]
	if !ok {
		return false
	}
	e.items = fn(append([]model.Discussion(nil), e.items...))
	e.updatedAt = c.now()
	return true
}

// Comments returns a deep copy of the tree stored for discussionID.
func (c *Cache) Comments(discussionID int64) ([]model.Comment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.comments[discussionID]
	if !ok {
		return nil, false
	}
	return CloneComments(e.items), true
}

func (c *Cache) SetComments(discussionID int64, items []model.Comment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.comments[discussionID] = &commentEntry{
		items:     CloneComments(items),
		updatedAt: c.now(),
	}
}

// UpdateComments replaces the tree for discussionID with fn's result. It
// returns false without calling fn when the tree is not materialized.
func (c *Cache) UpdateComments(discussionID int64, fn func([]model.Comment) []model.Comment) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.comments[discussionID]
	if !ok {
		return false
	}
	e.items = fn(CloneComments(e.items))
	e.updatedAt = c.now()
	return true
}

func (c *Cache) InvalidateDiscussions(key DiscussionKey) {
	c.mu.Lock()
	if e, ok := c.discussions[key]; ok {
		e.stale = true
	}
	hook := c.onInvalidate
	c.mu.Unlock()

	if hook != nil {
		hook(Invalidation{Family: FamilyDiscussions, Key: key.String()})
	}
}

func (c *Cache) InvalidateComments(discussionID int64) {
	c.mu.Lock()
	if e, ok := c.comments[discussionID]; ok {
		e.stale = true
	}
	hook := c.onInvalidate
	c.mu.Unlock()

	if hook != nil {
		hook(Invalidation{Family: FamilyComments, Key: fmt.Sprint(discussionID)})
	}
}

// InvalidateFamily marks every key of family stale.
func (c *Cache) InvalidateFamily(family Family) {
	c.mu.Lock()
	switch family {
	case FamilyDiscussions:
		for _, e := range c.discussions {
			e.stale = true
		}
	case FamilyComments:
		for _, e := range c.comments {
			e.stale = true
		}
	}
	hook := c.onInvalidate
	c.mu.Unlock()

	if hook != nil {
		hook(Invalidation{Family: family})
	}
}

func (c *Cache) DiscussionsStale(key DiscussionKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.discussions[key]
	return ok && e.stale
}

func (c *Cache) CommentsStale(discussionID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.comments[discussionID]
	return ok && e.stale
}

// CloneComments deep-copies a comment tree.
func CloneComments(items []model.Comment) []model.Comment {
	if items == nil {
		return nil
	}
	out := make([]model.Comment, len(items))
	for i, c := range items {
		out[i] = c
		if c.ParentID != nil {
			out[i].ParentID = model.Int64(*c.ParentID)
		}
		out[i].Replies = CloneComments(c.Replies)
	}
	return out
}
