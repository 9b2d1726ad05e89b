// Package realtime keeps the query caches of many tabs of one session in
// sync with the server's event stream. One tab per origin is elected to
// long-poll the backend; it applies each batch locally and relays it to the
// other tabs over the bus.
package realtime

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dgnsrekt/realtime-sync/internal/api"
	"github.com/dgnsrekt/realtime-sync/internal/bus"
	"github.com/dgnsrekt/realtime-sync/internal/sharedstate"
)

// Deps are the collaborators an Engine works with. Store, Bus and Cache are
// required. A nil Backend leaves the engine disabled.
type Deps struct {
	Store    sharedstate.Store
	Bus      bus.Bus
	Backend  api.Client
	Cache    CacheStore
	Ledger   UnreadLedger
	Toaster  Toaster
	Sound    SoundPlayer
	Settings Settings
	Context  ActiveContextProvider
	Clock    Clock
	Metrics  Metrics
	Logger   *zap.Logger
}

// Snapshot is a point-in-time view of the engine state.
type Snapshot struct {
	TabID      string
	Status     Status
	Leader     bool
	Stopped    bool
	Backoff    time.Duration
	RetryCount int
}

// Engine is one tab's realtime client. Create with New, then drive it with
// Start, Stop and OnAuthChange. OnTick and OnMessage are called by the
// engine's own goroutines and may also be called directly.
type Engine struct {
	cfg     Config
	tabID   string
	store   sharedstate.Store
	bus     bus.Bus
	backend api.Client
	clock   Clock
	metrics Metrics
	logger  *zap.Logger

	dedup      *Deduplicator
	reconciler *Reconciler
	dispatcher *Dispatcher

	// sleep waits between poll cycles; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) bool

	mu           sync.Mutex
	creds        Credentials
	started      bool
	stopped      bool
	leader       bool
	inFlight     bool
	loop         loopState
	runCtx       context.Context
	runCancel    context.CancelFunc
	leaderCancel context.CancelFunc
	unsubscribe  func()
	unwatch      func()
	statusHooks  []func(Status)

	// stateMu orders writes of the persisted queue state.
	stateMu sync.Mutex

	wg sync.WaitGroup
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("realtime: shared store is required")
	}
	if deps.Bus == nil {
		return nil, errors.New("realtime: bus is required")
	}
	if deps.Cache == nil {
		return nil, errors.New("realtime: cache is required")
	}

	cfg = cfg.withDefaults()
	if cfg.TabID == "" {
		cfg.TabID = uuid.NewString()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock
	}
	if deps.Metrics == nil {
		deps.Metrics = NoopMetrics{}
	}
	logger := deps.Logger.With(zap.String("tab", cfg.TabID))

	return &Engine{
		cfg:        cfg,
		tabID:      cfg.TabID,
		store:      deps.Store,
		bus:        deps.Bus,
		backend:    deps.Backend,
		clock:      deps.Clock,
		metrics:    deps.Metrics,
		logger:     logger,
		dedup:      NewDeduplicator(cfg.DedupCapacity, cfg.DedupKeep),
		reconciler: NewReconciler(deps.Cache, deps.Context, deps.Clock, cfg.FreshnessWindow, logger),
		dispatcher: NewDispatcher(deps.Toaster, deps.Sound, deps.Settings, deps.Ledger, logger),
		sleep:      sleepContext,
		loop:       newLoopState(cfg.BackoffFloor),
	}, nil
}

func (e *Engine) TabID() string {
	return e.tabID
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loop.Status
}

func (e *Engine) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leader
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		TabID:      e.tabID,
		Status:     e.loop.Status,
		Leader:     e.leader,
		Stopped:    e.stopped,
		Backoff:    e.loop.Backoff,
		RetryCount: e.loop.RetryCount,
	}
}

// QueueState returns the persisted queue handle.
func (e *Engine) QueueState() (QueueState, error) {
	return loadQueueState(e.store)
}

// OnStatus registers fn to be called after every status change.
func (e *Engine) OnStatus(fn func(Status)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statusHooks = append(e.statusHooks, fn)
}

// Start attaches the engine to the bus and the shared store and begins
// leader election. The engine runs until Stop is called or ctx is done.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("realtime: engine already started")
	}
	e.started = true
	e.runCtx, e.runCancel = context.WithCancel(ctx)
	runCtx := e.runCtx
	authenticated := e.creds.Authenticated()
	e.unsubscribe = e.bus.Subscribe(e.OnMessage)
	e.unwatch = e.store.Watch(func(key string) {
		if key == KeyLeader {
			e.onLeaseChanged()
		}
	})
	e.mu.Unlock()

	e.logger.Info("realtime engine starting",
		zap.Duration("leaseTTL", e.cfg.LeaseTTL),
		zap.Duration("pollTimeout", e.cfg.PollTimeout),
	)

	if e.backend == nil {
		e.logger.Warn("realtime endpoint not configured, staying disabled")
		e.halt(false)
		return nil
	}
	if !authenticated {
		e.halt(false)
	}

	e.wg.Add(1)
	go e.electionLoop(runCtx)

	e.OnTick()
	return nil
}

// Stop detaches the engine and waits for its goroutines. The persisted queue
// state is kept so a later Start resumes from the same cursor. A lease held
// by this tab is erased so another tab can take over without waiting for it
// to expire.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	wasLeader := e.leader
	e.leader = false
	e.leaderCancel = nil
	e.runCancel()
	unsubscribe, unwatch := e.unsubscribe, e.unwatch
	e.unsubscribe, e.unwatch = nil, nil
	e.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if unwatch != nil {
		unwatch()
	}
	e.wg.Wait()

	if wasLeader {
		e.metrics.LeaderChanged(false)
	}
	if rec, ok, err := loadLease(e.store); err == nil && ok && rec.HolderID == e.tabID {
		if err := e.store.Delete(KeyLeader); err != nil {
			e.logger.Warn("releasing lease failed", zap.Error(err))
		}
	}
	e.logger.Info("realtime engine stopped")
}

// OnAuthChange reacts to a session change. Signing out stops all network
// activity and clears the queue state. Signing in, or switching to another
// user, re-initializes the engine. A refreshed token for the same session
// is picked up by the next request.
func (e *Engine) OnAuthChange(creds Credentials) {
	e.mu.Lock()
	prev := e.creds
	e.creds = creds
	wasStopped := e.stopped
	started := e.started
	e.mu.Unlock()

	if !creds.Authenticated() {
		if prev.Authenticated() {
			e.logger.Info("signed out, stopping realtime")
		}
		e.halt(true)
		return
	}

	if e.backend == nil {
		e.halt(false)
		return
	}

	switchedUser := prev.Authenticated() && prev.UserID != creds.UserID
	if prev.Authenticated() && !wasStopped && !switchedUser {
		return
	}

	e.logger.Info("session started, initializing realtime", zap.Int64("userId", creds.UserID))
	e.releaseLeadership()
	if switchedUser {
		e.dropQueueState()
	}

	e.mu.Lock()
	e.stopped = false
	e.loop.succeed(e.cfg.BackoffFloor)
	e.mu.Unlock()
	e.setStatus(StatusIdle)

	if started {
		e.OnTick()
	}
}

// OnTick runs one election step: a leader renews its lease, anyone else
// tries to acquire it.
func (e *Engine) OnTick() {
	if !e.running() {
		return
	}
	e.tryBecomeLeader()
}

func (e *Engine) electionLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.LeaseTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.OnTick()
		}
	}
}

// halt stops the engine until the next sign-in and reports it disabled.
func (e *Engine) halt(clearQueue bool) {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()

	e.setStatus(StatusDisabled)
	e.releaseLeadership()
	if clearQueue {
		e.dropQueueState()
	}
}

func (e *Engine) credentials() Credentials {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.creds
}

// running reports whether the engine may take part in election.
func (e *Engine) running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started && !e.stopped && e.runCtx.Err() == nil && e.creds.Authenticated()
}

// active reports whether leader work bound to ctx should continue.
func (e *Engine) active(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ctx.Err() == nil && e.leader && !e.stopped
}

func (e *Engine) baseContext() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runCtx != nil {
		return e.runCtx
	}
	return context.Background()
}

// setStatus changes the status unconditionally.
func (e *Engine) setStatus(s Status) {
	e.updateStatus(s, func() bool { return true })
}

// setLoopStatus changes the status only while ctx is live and the engine
// has not been stopped.
func (e *Engine) setLoopStatus(ctx context.Context, s Status) bool {
	return e.updateStatus(s, func() bool { return ctx.Err() == nil && !e.stopped })
}

// updateStatus applies s if guard, evaluated under the lock, allows it.
func (e *Engine) updateStatus(s Status, guard func() bool) bool {
	e.mu.Lock()
	if !guard() {
		e.mu.Unlock()
		return false
	}
	if e.loop.Status == s {
		e.mu.Unlock()
		return true
	}
	e.loop.Status = s
	leader := e.leader
	hooks := slices.Clone(e.statusHooks)
	e.mu.Unlock()

	e.logger.Info("realtime status changed", zap.String("status", string(s)))
	e.metrics.StatusChanged(s)
	if leader {
		e.relayStatus(s)
	}
	for _, fn := range hooks {
		fn(s)
	}
	return true
}

// storeQueueState persists qs unless ctx has ended.
func (e *Engine) storeQueueState(ctx context.Context, qs QueueState) bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if ctx.Err() != nil {
		return false
	}
	if err := saveQueueState(e.store, qs); err != nil {
		e.logger.Warn("persisting queue state failed", zap.Error(err))
		return false
	}
	return true
}

// advanceCursor moves the persisted cursor forward for queueID. A cursor for
// a queue that has since been replaced is discarded.
func (e *Engine) advanceCursor(ctx context.Context, queueID string, lastEventID int64) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if ctx.Err() != nil {
		return
	}
	current, err := loadQueueState(e.store)
	if err != nil {
		e.logger.Warn("reading queue state failed", zap.Error(err))
		return
	}
	if current.QueueID != queueID || lastEventID <= current.LastEventID {
		return
	}
	current.LastEventID = lastEventID
	if err := saveQueueState(e.store, current); err != nil {
		e.logger.Warn("persisting cursor failed", zap.Error(err))
	}
}

func (e *Engine) dropQueueState() {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if err := clearQueueState(e.store); err != nil {
		e.logger.Warn("clearing queue state failed", zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
