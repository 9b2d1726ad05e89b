package realtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/dgnsrekt/realtime-sync/internal/model"
	"github.com/dgnsrekt/realtime-sync/internal/notify"
)

// Dispatcher notifies the user about new discussions and comments and
// records them as unread.
type Dispatcher struct {
	toaster  Toaster
	sound    SoundPlayer
	settings Settings
	ledger   UnreadLedger
	logger   *zap.Logger
}

func NewDispatcher(toaster Toaster, sound SoundPlayer, settings Settings, ledger UnreadLedger, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		toaster:  toaster,
		sound:    sound,
		settings: settings,
		ledger:   ledger,
		logger:   logger,
	}
}

// Dispatch handles one freshly applied event. It reports whether a
// notification was emitted.
func (d *Dispatcher) Dispatch(ctx context.Context, ev model.Event, self Credentials) bool {
	var (
		toast    notify.Toast
		item     model.UnreadItem
		authorID int64
	)

	switch ev.Type {
	case model.EventNewDiscussion:
		disc, ok := ev.DecodeDiscussion()
		if !ok || disc.ID == 0 {
			return false
		}
		authorID = disc.AuthorID
		toast = notify.FormatDiscussionToast(disc.AuthorName, disc.Topic, disc.Body)
		item = model.UnreadItem{ID: disc.ID, Type: ev.Type}

	case model.EventNewComment:
		c, ok := ev.DecodeComment()
		if !ok || c.ID == 0 {
			return false
		}
		authorID = c.AuthorID
		item = model.UnreadItem{ID: c.ID, Type: ev.Type}
		if did, ok := ev.TargetDiscussionID(); ok {
			item.DiscussionID = model.Int64(did)
		}
		if pid, ok := ev.TargetParentID(); ok {
			item.ParentID = model.Int64(pid)
		}
		toast = notify.FormatCommentToast(c.AuthorName, c.Body, item.ParentID != nil)

	default:
		return false
	}

	if self.UserID != 0 && authorID == self.UserID {
		return false
	}

	if d.toaster != nil {
		if err := d.toaster.Toast(ctx, toast); err != nil {
			d.logger.Warn("toast failed", zap.Int64("eventId", ev.EventID), zap.Error(err))
		}
	}
	if d.sound != nil && d.settings != nil && d.settings.SoundEnabled() {
		if err := d.sound.Play(); err != nil {
			d.logger.Debug("notification sound failed", zap.Error(err))
		}
	}
	if d.ledger != nil {
		if err := d.ledger.AddUnreadItem(ev.Data.CommunityID, ev.Data.ArticleID, item); err != nil {
			d.logger.Warn("recording unread item failed",
				zap.String("item", item.Key()),
				zap.Error(err),
			)
		}
	}
	return true
}

// Syncing shows the informational toast after a resynchronization.
func (d *Dispatcher) Syncing(ctx context.Context) {
	if d.toaster == nil {
		return
	}
	if err := d.toaster.Toast(ctx, notify.SyncingToast()); err != nil {
		d.logger.Warn("toast failed", zap.Error(err))
	}
}
