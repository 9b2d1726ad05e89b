package realtime

import (
	"encoding/json"
	"slices"

	"github.com/dgnsrekt/realtime-sync/internal/model"
)

// Discussion list mutations. Each returns the new slice and whether it
// changed anything.

func prependDiscussion(items []model.Discussion, d model.Discussion) ([]model.Discussion, bool) {
	if slices.ContainsFunc(items, func(x model.Discussion) bool { return x.ID == d.ID }) {
		return items, false
	}
	return append([]model.Discussion{d}, items...), true
}

// mergeDiscussion overlays the fields present in raw onto the item with id.
func mergeDiscussion(items []model.Discussion, id int64, raw json.RawMessage) ([]model.Discussion, bool) {
	i := slices.IndexFunc(items, func(x model.Discussion) bool { return x.ID == id })
	if i < 0 {
		return items, false
	}
	merged := items[i]
	if err := json.Unmarshal(raw, &merged); err != nil {
		return items, false
	}
	merged.ID = id
	items[i] = merged
	return items, true
}

func removeDiscussion(items []model.Discussion, id int64) ([]model.Discussion, bool) {
	out := slices.DeleteFunc(items, func(x model.Discussion) bool { return x.ID == id })
	return out, len(out) != len(items)
}

func bumpCommentCount(items []model.Discussion, id int64, delta int) ([]model.Discussion, bool) {
	i := slices.IndexFunc(items, func(x model.Discussion) bool { return x.ID == id })
	if i < 0 {
		return items, false
	}
	items[i].CommentCount = max(items[i].CommentCount+delta, 0)
	return items, true
}

// Comment tree mutations work at any depth.

func containsComment(items []model.Comment, id int64) bool {
	for _, c := range items {
		if c.ID == id || containsComment(c.Replies, id) {
			return true
		}
	}
	return false
}

// insertComment appends c to the top level, or to the replies of parentID
// when set. parentFound is false when the parent is not in the tree.
func insertComment(items []model.Comment, c model.Comment, parentID *int64) (out []model.Comment, inserted, parentFound bool) {
	if containsComment(items, c.ID) {
		return items, false, true
	}
	if parentID == nil {
		return append(items, c), true, true
	}
	out, parentFound = appendReply(items, *parentID, c)
	return out, parentFound, parentFound
}

func appendReply(items []model.Comment, parentID int64, c model.Comment) ([]model.Comment, bool) {
	for i := range items {
		if items[i].ID == parentID {
			items[i].Replies = append(items[i].Replies, c)
			return items, true
		}
		if replies, ok := appendReply(items[i].Replies, parentID, c); ok {
			items[i].Replies = replies
			return items, true
		}
	}
	return items, false
}

// mergeComment overlays the fields present in raw onto the comment with id,
// keeping its replies.
func mergeComment(items []model.Comment, id int64, raw json.RawMessage) ([]model.Comment, bool) {
	for i := range items {
		if items[i].ID == id {
			merged := items[i]
			if err := json.Unmarshal(raw, &merged); err != nil {
				return items, false
			}
			merged.ID = id
			merged.Replies = items[i].Replies
			items[i] = merged
			return items, true
		}
		if replies, ok := mergeComment(items[i].Replies, id, raw); ok {
			items[i].Replies = replies
			return items, true
		}
	}
	return items, false
}

func removeComment(items []model.Comment, id int64) ([]model.Comment, bool) {
	for i := range items {
		if items[i].ID == id {
			return slices.Delete(items, i, i+1), true
		}
		if replies, ok := removeComment(items[i].Replies, id); ok {
			items[i].Replies = replies
			return items, true
		}
	}
	return items, false
}
