package model

import (
	"encoding/json"
	"fmt"
)

// EventType identifies the kind of domain change carried by an Event.
type EventType string

const (
	EventNewDiscussion     EventType = "new_discussion"
	EventUpdatedDiscussion EventType = "updated_discussion"
	EventDeletedDiscussion EventType = "deleted_discussion"
	EventNewComment        EventType = "new_comment"
	EventUpdatedComment    EventType = "updated_comment"
	EventDeletedComment    EventType = "deleted_comment"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventNewDiscussion, EventUpdatedDiscussion, EventDeletedDiscussion,
		EventNewComment, EventUpdatedComment, EventDeletedComment:
		return true
	}
	return false
}

// IsDiscussion reports whether t targets the discussion-list family.
func (t EventType) IsDiscussion() bool {
	return t == EventNewDiscussion || t == EventUpdatedDiscussion || t == EventDeletedDiscussion
}

// IsComment reports whether t targets the comment-tree family.
func (t EventType) IsComment() bool {
	return t == EventNewComment || t == EventUpdatedComment || t == EventDeletedComment
}

// Event is a server-originated domain event. Events are immutable once received
// and are identified by EventID, which increases monotonically per queue.
type Event struct {
	Type         EventType `json:"type"`
	EventID      int64     `json:"eventId"`
	Data         EventData `json:"data"`
	CommunityIDs []int64   `json:"communityIds,omitempty"`
	Timestamp    string    `json:"timestamp,omitempty"`
}

// EventData carries the routing keys and the (partial) item payload.
// Discussion and Comment stay raw so updates merge only the fields present.
type EventData struct {
	ArticleID    int64           `json:"articleId"`
	CommunityID  int64           `json:"communityId"`
	DiscussionID *int64          `json:"discussionId,omitempty"`
	ParentID     *int64          `json:"parentId,omitempty"`
	Discussion   json.RawMessage `json:"discussion,omitempty"`
	Comment      json.RawMessage `json:"comment,omitempty"`
}

func (e Event) String() string {
	return fmt.Sprintf("%s#%d article=%d community=%d", e.Type, e.EventID, e.Data.ArticleID, e.Data.CommunityID)
}

// DecodeDiscussion decodes the discussion payload, if any.
func (e Event) DecodeDiscussion() (Discussion, bool) {
	var d Discussion
	if len(e.Data.Discussion) == 0 {
		return d, false
	}
	if err := json.Unmarshal(e.Data.Discussion, &d); err != nil {
		return d, false
	}
	return d, true
}

// DecodeComment decodes the comment payload, if any.
func (e Event) DecodeComment() (Comment, bool) {
	var c Comment
	if len(e.Data.Comment) == 0 {
		return c, false
	}
	if err := json.Unmarshal(e.Data.Comment, &c); err != nil {
		return c, false
	}
	return c, true
}

// TargetDiscussionID returns the discussion a comment event belongs to,
// preferring the explicit routing key over the payload.
func (e Event) TargetDiscussionID() (int64, bool) {
	if e.Data.DiscussionID != nil {
		return *e.Data.DiscussionID, true
	}
	if c, ok := e.DecodeComment(); ok && c.DiscussionID != 0 {
		return c.DiscussionID, true
	}
	return 0, false
}

// TargetParentID returns the parent comment id of a reply, if any.
func (e Event) TargetParentID() (int64, bool) {
	if e.Data.ParentID != nil {
		return *e.Data.ParentID, true
	}
	if c, ok := e.DecodeComment(); ok && c.ParentID != nil {
		return *c.ParentID, true
	}
	return 0, false
}

// Discussion is a normalized discussion-list item.
type Discussion struct {
	ID           int64  `json:"id"`
	ArticleID    int64  `json:"articleId,omitempty"`
	CommunityID  int64  `json:"communityId,omitempty"`
	Topic        string `json:"topic,omitempty"`
	Body         string `json:"body,omitempty"`
	AuthorID     int64  `json:"authorId,omitempty"`
	AuthorName   string `json:"authorName,omitempty"`
	CommentCount int    `json:"commentCount"`
	CreatedAt    string `json:"createdAt,omitempty"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
}

// Comment is a node of a discussion's comment tree.
type Comment struct {
	ID           int64     `json:"id"`
	DiscussionID int64     `json:"discussionId,omitempty"`
	ParentID     *int64    `json:"parentId,omitempty"`
	AuthorID     int64     `json:"authorId,omitempty"`
	AuthorName   string    `json:"authorName,omitempty"`
	Body         string    `json:"body,omitempty"`
	CreatedAt    string    `json:"createdAt,omitempty"`
	UpdatedAt    string    `json:"updatedAt,omitempty"`
	Replies      []Comment `json:"replies,omitempty"`
}

// UnreadItem is the marker forwarded to the unread ledger for new items.
type UnreadItem struct {
	ID           int64     `json:"id"`
	Type         EventType `json:"type"`
	DiscussionID *int64    `json:"discussionId,omitempty"`
	ParentID     *int64    `json:"parentId,omitempty"`
}

// Key returns the ledger key of the item, unique per type and id.
func (u UnreadItem) Key() string {
	return fmt.Sprintf("%s:%d", u.Type, u.ID)
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}
