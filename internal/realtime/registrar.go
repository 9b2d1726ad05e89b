package realtime

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/dgnsrekt/realtime-sync/internal/api"
)

// registerQueue makes sure a server-side queue exists. Unless force is set,
// a complete persisted QueueState is reused without a network call.
func (e *Engine) registerQueue(ctx context.Context, force bool) bool {
	creds := e.credentials()
	if !creds.Authenticated() {
		e.halt(false)
		return false
	}

	if !force {
		qs, err := loadQueueState(e.store)
		if err == nil && qs.QueueID != "" {
			return true
		}
	}

	resp, err := e.backend.Register(ctx, creds.AccessToken)
	switch {
	case err == nil:
		if !e.storeQueueState(ctx, QueueState{QueueID: resp.QueueID, LastEventID: resp.LastEventID}) {
			return false
		}
		e.metrics.RegistrationCompleted(ResultOK)
		e.logger.Info("queue registered",
			zap.String("queueId", resp.QueueID),
			zap.Int64("lastEventId", resp.LastEventID),
		)
		e.setLoopStatus(ctx, StatusConnected)
		return true

	case api.IsAuth(err):
		e.metrics.RegistrationCompleted(ResultAuth)
		e.logger.Warn("registration rejected, disabling realtime", zap.Error(err))
		e.halt(true)
		return false

	case errors.Is(err, api.ErrNotConfigured):
		e.logger.Warn("realtime endpoint not configured")
		e.halt(false)
		return false

	case ctx.Err() != nil:
		e.metrics.RegistrationCompleted(ResultCancelled)
		return false

	default:
		e.metrics.RegistrationCompleted(ResultError)
		e.logger.Warn("registration failed", zap.Error(err))
		e.setLoopStatus(ctx, StatusError)
		return false
	}
}
