package realtime

import (
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/realtime-sync/internal/model"
	"github.com/dgnsrekt/realtime-sync/internal/querycache"
)

// Outcome reports how the reconciler handled an event.
type Outcome string

const (
	OutcomeMerged      Outcome = "merged"
	OutcomeUnchanged   Outcome = "unchanged"
	OutcomeInvalidated Outcome = "invalidated"
	OutcomeSkipped     Outcome = "skipped"
)

// Reconciler turns events into targeted cache mutations, falling back to
// invalidation when the target is not materialized or belongs to a context
// the user is not looking at.
type Reconciler struct {
	cache     CacheStore
	context   ActiveContextProvider
	clock     Clock
	freshness time.Duration
	logger    *zap.Logger
}

func NewReconciler(cache CacheStore, active ActiveContextProvider, clock Clock, freshness time.Duration, logger *zap.Logger) *Reconciler {
	if clock == nil {
		clock = SystemClock
	}
	if freshness <= 0 {
		freshness = DefaultFreshnessWindow
	}
	return &Reconciler{
		cache:     cache,
		context:   active,
		clock:     clock,
		freshness: freshness,
		logger:    logger,
	}
}

// Apply mutates the cache for ev.
func (r *Reconciler) Apply(ev model.Event) Outcome {
	switch {
	case ev.Type.IsDiscussion():
		return r.applyDiscussion(ev)
	case ev.Type.IsComment():
		return r.applyComment(ev)
	default:
		r.logger.Debug("ignoring unknown event type", zap.String("type", string(ev.Type)), zap.Int64("eventId", ev.EventID))
		return OutcomeSkipped
	}
}

// InvalidateAll marks both query families stale.
func (r *Reconciler) InvalidateAll() {
	r.cache.InvalidateFamily(querycache.FamilyDiscussions)
	r.cache.InvalidateFamily(querycache.FamilyComments)
}

// relevant reports whether the event may be merged in place. Events outside
// the active context are only merged while the context is stale, that is,
// when the tab has not been focused recently.
func (r *Reconciler) relevant(ev model.Event) bool {
	if r.context == nil {
		return true
	}
	ac := r.context.ActiveContext()
	if inContext(ac, ev) {
		return true
	}
	fresh := !ac.FocusedAt.IsZero() && r.clock.Now().Sub(ac.FocusedAt) <= r.freshness
	return !fresh
}

// inContext matches ev against ac. A zero article or community id in ac
// matches any value. Comments on the discussion open in the tab always match.
func inContext(ac ActiveContext, ev model.Event) bool {
	if ac.ViewingComments && ac.DiscussionID != 0 && ev.Type.IsComment() {
		if id, ok := ev.TargetDiscussionID(); ok && id == ac.DiscussionID {
			return true
		}
	}
	return (ac.ArticleID == 0 || ac.ArticleID == ev.Data.ArticleID) &&
		(ac.CommunityID == 0 || ac.CommunityID == ev.Data.CommunityID)
}

func discussionKey(ev model.Event) querycache.DiscussionKey {
	return querycache.DiscussionKey{ArticleID: ev.Data.ArticleID, CommunityID: ev.Data.CommunityID}
}

func (r *Reconciler) applyDiscussion(ev model.Event) Outcome {
	key := discussionKey(ev)

	d, ok := ev.DecodeDiscussion()
	id := d.ID
	if id == 0 && ev.Data.DiscussionID != nil {
		id = *ev.Data.DiscussionID
	}
	if id == 0 || (!ok && ev.Type != model.EventDeletedDiscussion) {
		r.logger.Debug("discussion event without payload", zap.Stringer("event", ev))
		return OutcomeSkipped
	}

	if !r.relevant(ev) {
		r.cache.InvalidateDiscussions(key)
		return OutcomeInvalidated
	}

	changed := false
	materialized := r.cache.UpdateDiscussions(key, func(items []model.Discussion) []model.Discussion {
		switch ev.Type {
		case model.EventNewDiscussion:
			if d.ArticleID == 0 {
				d.ArticleID = ev.Data.ArticleID
			}
			if d.CommunityID == 0 {
				d.CommunityID = ev.Data.CommunityID
			}
			items, changed = prependDiscussion(items, d)
		case model.EventUpdatedDiscussion:
			items, changed = mergeDiscussion(items, id, ev.Data.Discussion)
		case model.EventDeletedDiscussion:
			items, changed = removeDiscussion(items, id)
		}
		return items
	})
	if !materialized {
		r.cache.InvalidateDiscussions(key)
		return OutcomeInvalidated
	}
	if !changed {
		return OutcomeUnchanged
	}
	return OutcomeMerged
}

func (r *Reconciler) applyComment(ev model.Event) Outcome {
	discussionID, ok := ev.TargetDiscussionID()
	if !ok {
		r.logger.Debug("comment event without discussion", zap.Stringer("event", ev))
		return OutcomeSkipped
	}

	c, decoded := ev.DecodeComment()
	if c.ID == 0 || (!decoded && ev.Type != model.EventDeletedComment) {
		r.logger.Debug("comment event without payload", zap.Stringer("event", ev))
		return OutcomeSkipped
	}

	var parentID *int64
	if pid, ok := ev.TargetParentID(); ok {
		parentID = model.Int64(pid)
	}
	topLevelNew := ev.Type == model.EventNewComment && parentID == nil

	if !r.relevant(ev) {
		r.cache.InvalidateComments(discussionID)
		if topLevelNew {
			r.cache.InvalidateDiscussions(discussionKey(ev))
		}
		return OutcomeInvalidated
	}

	changed, parentMissing := false, false
	materialized := r.cache.UpdateComments(discussionID, func(items []model.Comment) []model.Comment {
		switch ev.Type {
		case model.EventNewComment:
			c.DiscussionID = discussionID
			c.ParentID = parentID
			var parentFound bool
			items, changed, parentFound = insertComment(items, c, parentID)
			parentMissing = !parentFound
		case model.EventUpdatedComment:
			items, changed = mergeComment(items, c.ID, ev.Data.Comment)
		case model.EventDeletedComment:
			items, changed = removeComment(items, c.ID)
		}
		return items
	})

	outcome := OutcomeMerged
	switch {
	case !materialized || parentMissing:
		r.cache.InvalidateComments(discussionID)
		outcome = OutcomeInvalidated
	case !changed:
		outcome = OutcomeUnchanged
	}

	// A comment already present in a materialized tree was counted before.
	if topLevelNew && (changed || !materialized) {
		key := discussionKey(ev)
		if !r.cache.UpdateDiscussions(key, func(items []model.Discussion) []model.Discussion {
			items, _ = bumpCommentCount(items, discussionID, 1)
			return items
		}) {
			r.cache.InvalidateDiscussions(key)
		}
	}
	return outcome
}
