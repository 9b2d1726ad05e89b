package realtime

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/realtime-sync/internal/api"
)

func (e *Engine) heartbeatLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sendHeartbeat(ctx)
		}
	}
}

// sendHeartbeat keeps the queue alive. A failed heartbeat is not retried;
// the queue is re-registered instead since the server may have evicted it.
func (e *Engine) sendHeartbeat(ctx context.Context) {
	if !e.active(ctx) {
		return
	}
	creds := e.credentials()
	if !creds.Authenticated() {
		return
	}
	qs, err := loadQueueState(e.store)
	if err != nil || qs.QueueID == "" {
		return
	}

	err = e.backend.Heartbeat(ctx, creds.AccessToken, qs.QueueID)
	switch {
	case err == nil:
		e.metrics.HeartbeatCompleted(ResultOK)

	case api.IsAuth(err):
		e.metrics.HeartbeatCompleted(ResultAuth)
		e.logger.Warn("heartbeat rejected, disabling realtime", zap.Error(err))
		e.halt(true)

	case ctx.Err() != nil:

	default:
		e.metrics.HeartbeatCompleted(ResultError)
		e.logger.Warn("heartbeat failed, re-registering", zap.String("queueId", qs.QueueID), zap.Error(err))
		e.registerQueue(ctx, true)
	}
}
