package realtime

import (
	"context"

	"go.uber.org/zap"
)

// tryBecomeLeader claims the lease when it is absent, stale or already ours,
// and yields to a valid lease held by another tab. Two tabs may both pass
// the staleness check at once; the write is re-read so that at most the last
// writer keeps leadership, and the other demotes on its next lease
// notification or tick.
func (e *Engine) tryBecomeLeader() bool {
	now := e.clock.Now()

	rec, ok, err := loadLease(e.store)
	if err != nil {
		e.logger.Warn("reading lease failed", zap.Error(err))
		return e.IsLeader()
	}
	if ok && rec.HolderID != e.tabID && !rec.Stale(now, e.cfg.LeaseTTL) {
		e.releaseLeadership()
		return false
	}

	if err := saveLease(e.store, LeaseRecord{HolderID: e.tabID, RenewedAtMillis: now.UnixMilli()}); err != nil {
		e.logger.Warn("writing lease failed", zap.Error(err))
		return e.IsLeader()
	}

	rec, ok, err = loadLease(e.store)
	if err != nil || !ok || rec.HolderID != e.tabID {
		e.releaseLeadership()
		return false
	}

	e.promote()
	return true
}

// onLeaseChanged handles a lease change made by any tab. It never writes
// unless the lease is free, so tabs do not trigger each other in a loop.
func (e *Engine) onLeaseChanged() {
	if !e.running() {
		return
	}

	rec, ok, err := loadLease(e.store)
	if err != nil {
		return
	}
	valid := ok && !rec.Stale(e.clock.Now(), e.cfg.LeaseTTL)

	if e.IsLeader() {
		if valid && rec.HolderID != e.tabID {
			e.logger.Info("lease taken over", zap.String("holder", rec.HolderID))
			e.releaseLeadership()
		}
		return
	}
	if !valid {
		e.tryBecomeLeader()
	}
}

// promote starts the leader-only work: registration, the poll loop and
// heartbeats.
func (e *Engine) promote() {
	e.mu.Lock()
	if e.leader || e.stopped || !e.started || e.runCtx.Err() != nil {
		e.mu.Unlock()
		return
	}
	e.leader = true
	ctx, cancel := context.WithCancel(e.runCtx)
	e.leaderCancel = cancel
	e.wg.Add(2)
	e.mu.Unlock()

	e.logger.Info("became leader")
	e.metrics.LeaderChanged(true)

	go e.runLeader(ctx)
	go e.heartbeatLoop(ctx)
}

// releaseLeadership stops leader-only work, aborting an in-flight poll. The
// shared lease record is left to expire.
func (e *Engine) releaseLeadership() {
	e.mu.Lock()
	if !e.leader {
		e.mu.Unlock()
		return
	}
	e.leader = false
	cancel := e.leaderCancel
	e.leaderCancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.logger.Info("released leadership")
	e.metrics.LeaderChanged(false)
}
