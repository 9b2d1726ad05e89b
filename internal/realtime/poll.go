package realtime

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/realtime-sync/internal/api"
)

// runLeader makes sure a queue exists, then polls until leadership ends.
func (e *Engine) runLeader(ctx context.Context) {
	defer e.wg.Done()

	e.setLoopStatus(ctx, StatusConnecting)
	for !e.registerQueue(ctx, false) {
		if !e.active(ctx) {
			return
		}
		delay, ok := e.recordFailure(ctx)
		if !ok || !e.sleep(ctx, delay) {
			return
		}
	}
	e.resetBackoff()

	e.pollLoop(ctx)
}

// pollLoop runs poll cycles one after another. Each cycle returns the delay
// before the next one, or ends the loop.
func (e *Engine) pollLoop(ctx context.Context) {
	for {
		delay, again := e.pollCycle(ctx)
		if !again {
			return
		}
		if !e.sleep(ctx, delay) {
			return
		}
	}
}

func (e *Engine) pollCycle(ctx context.Context) (time.Duration, bool) {
	creds := e.credentials()
	if !creds.Authenticated() {
		e.halt(false)
		return 0, false
	}
	if !e.active(ctx) {
		return 0, false
	}

	qs, err := loadQueueState(e.store)
	if err != nil {
		e.logger.Warn("reading queue state failed", zap.Error(err))
		return e.recordFailure(ctx)
	}
	if qs.QueueID == "" {
		// Halting releases leadership so another tab can take over.
		if !e.registerQueue(ctx, true) {
			if e.active(ctx) {
				e.halt(false)
			}
			return 0, false
		}
		if qs, err = loadQueueState(e.store); err != nil || qs.QueueID == "" {
			if e.active(ctx) {
				e.halt(false)
			}
			return 0, false
		}
	}

	if !e.beginPoll() {
		// A poll from an earlier leadership term is still outstanding.
		return e.cfg.BackoffFloor, true
	}
	pollCtx, cancel := context.WithTimeout(ctx, e.cfg.PollTimeout)
	resp, err := e.backend.Poll(pollCtx, creds.AccessToken, qs.QueueID, qs.LastEventID)
	cancel()
	e.endPoll()

	switch {
	case err == nil:
		e.handleBatch(ctx, qs, resp)
		return 0, true

	case api.IsAuth(err):
		e.metrics.PollCompleted(ResultAuth)
		e.logger.Warn("poll rejected, disabling realtime", zap.Error(err))
		e.halt(true)
		return 0, false

	case ctx.Err() != nil:
		e.metrics.PollCompleted(ResultCancelled)
		return 0, false

	case api.IsResourceLoss(err):
		e.metrics.PollCompleted(ResultCatchup)
		return e.resync(ctx, err)

	default:
		e.metrics.PollCompleted(ResultError)
		e.logger.Warn("poll failed", zap.String("queueId", qs.QueueID), zap.Error(err))
		return e.recordFailure(ctx)
	}
}

func (e *Engine) handleBatch(ctx context.Context, qs QueueState, resp *api.PollResponse) {
	if len(resp.Events) > 0 {
		e.metrics.PollCompleted(ResultEvents)
	} else {
		e.metrics.PollCompleted(ResultOK)
	}

	// Events fetched after losing leadership are left for the next leader,
	// which resumes from the persisted cursor.
	if !e.active(ctx) {
		return
	}

	fresh := e.ingest(ctx, resp.Events)
	if len(fresh) > 0 {
		e.relayEvents(ctx, fresh)
	}
	e.advanceCursor(ctx, qs.QueueID, resp.LastEventID)

	e.resetBackoff()
	e.setLoopStatus(ctx, StatusConnected)
}

// resync recovers from a lost queue or a cursor the server can no longer
// serve. Exact deltas are gone, so both cache families are invalidated.
func (e *Engine) resync(ctx context.Context, cause error) (time.Duration, bool) {
	e.logger.Info("queue lost, re-registering", zap.Error(cause))
	e.setLoopStatus(ctx, StatusReconnecting)

	if e.registerQueue(ctx, true) {
		e.reconciler.InvalidateAll()
		e.dispatcher.Syncing(ctx)
		e.resetBackoff()
		return 0, true
	}
	if !e.active(ctx) {
		return 0, false
	}
	return e.recordFailure(ctx)
}

// recordFailure books a failed cycle and returns the backoff delay. After
// MaxRetries consecutive failures the engine disables itself.
func (e *Engine) recordFailure(ctx context.Context) (time.Duration, bool) {
	e.mu.Lock()
	if ctx.Err() != nil || e.stopped {
		e.mu.Unlock()
		return 0, false
	}
	delay, exhausted := e.loop.fail(e.cfg.BackoffCap, e.cfg.MaxRetries)
	retries := e.loop.RetryCount
	e.mu.Unlock()

	if exhausted {
		e.logger.Warn("realtime retries exhausted, disabling", zap.Int("failures", retries))
		e.halt(false)
		return 0, false
	}

	e.logger.Info("retrying realtime",
		zap.Int("retry", retries),
		zap.Duration("backoff", delay),
	)
	e.setLoopStatus(ctx, StatusReconnecting)
	return delay, true
}

func (e *Engine) resetBackoff() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loop.succeed(e.cfg.BackoffFloor)
}

func (e *Engine) beginPoll() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight {
		return false
	}
	e.inFlight = true
	return true
}

func (e *Engine) endPoll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inFlight = false
}
