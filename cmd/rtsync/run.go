package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/realtime-sync/internal/api"
	"github.com/dgnsrekt/realtime-sync/internal/bus"
	"github.com/dgnsrekt/realtime-sync/internal/ledger"
	"github.com/dgnsrekt/realtime-sync/internal/notify"
	"github.com/dgnsrekt/realtime-sync/internal/querycache"
	"github.com/dgnsrekt/realtime-sync/internal/realtime"
	"github.com/dgnsrekt/realtime-sync/internal/sharedstate"
	"github.com/dgnsrekt/realtime-sync/internal/telemetry"
)

// focusedContext is the context of a terminal tab, which counts as focused
// for as long as it runs.
type focusedContext struct {
	articleID   int64
	communityID int64
}

func (f focusedContext) ActiveContext() realtime.ActiveContext {
	return realtime.ActiveContext{
		ArticleID:          f.articleID,
		CommunityID:        f.communityID,
		ViewingDiscussions: true,
		FocusedAt:          time.Now(),
	}
}

func runCmd() *cobra.Command {
	var (
		tabID       string
		articleID   int64
		communityID int64
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one tab until interrupted",
		Long: `Run one tab of the realtime client. Tabs started with the same
state directory and bus elect a single leader that long-polls the backend and
relays events to the others.

Examples:
  # Start a tab against the local dev server
  RTSYNC_ACCESS_TOKEN=dev-token rtsync run --article 5 --community 9

  # Second tab in another terminal, sharing the bus
  rtsync run --article 5 --community 9 --tab-id second

  # Expose Prometheus metrics
  rtsync run --metrics-addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if cmd.Flags().Changed("tab-id") {
				cfg.Realtime.TabID = tabID
			}
			if cmd.Flags().Changed("article") {
				cfg.Context.ArticleID = articleID
			}
			if cmd.Flags().Changed("community") {
				cfg.Context.CommunityID = communityID
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.Metrics.Addr = metricsAddr
			}

			return runTab(ctx)
		},
	}

	cmd.Flags().StringVar(&tabID, "tab-id", "", "tab id (random by default)")
	cmd.Flags().Int64Var(&articleID, "article", 0, "article shown by this tab")
	cmd.Flags().Int64Var(&communityID, "community", 0, "community shown by this tab")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func runTab(ctx context.Context) error {
	store, err := sharedstate.OpenFile(cfg.State.Directory, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	tabBus, err := openBus(ctx)
	if err != nil {
		return err
	}
	defer tabBus.Close()

	unread, err := ledger.Open(cfg.State.LedgerPath)
	if err != nil {
		return err
	}

	toaster := newToaster()

	var backend api.Client
	if cfg.API.Configured() {
		backend = api.NewClient(cfg.API.BaseURL, cfg.API.RatePerSecond, cfg.API.RequestTimeout(), logger)
	}

	var metrics realtime.Metrics = realtime.NoopMetrics{}
	if cfg.Metrics.Addr != "" {
		registry := prometheus.NewRegistry()
		metrics = telemetry.NewPrometheusMetrics(registry)
		stop := serveMetrics(cfg.Metrics.Addr, registry)
		defer stop()
	}

	cache := querycache.New()
	cache.OnInvalidate(func(inv querycache.Invalidation) {
		logger.Debug("query invalidated", zap.String("family", string(inv.Family)), zap.String("key", inv.Key))
	})
	listKey := querycache.DiscussionKey{ArticleID: cfg.Context.ArticleID, CommunityID: cfg.Context.CommunityID}
	cache.SetDiscussions(listKey, nil)

	engine, err := realtime.New(realtime.Config{
		TabID:             cfg.Realtime.TabID,
		PollTimeout:       cfg.Realtime.PollTimeout,
		HeartbeatInterval: cfg.Realtime.HeartbeatInterval,
		LeaseTTL:          cfg.Realtime.LeaseTTL,
		BackoffFloor:      cfg.Realtime.BackoffFloor,
		BackoffCap:        cfg.Realtime.BackoffCap,
		MaxRetries:        cfg.Realtime.MaxRetries,
		FreshnessWindow:   cfg.Realtime.FreshnessWindow,
	}, realtime.Deps{
		Store:    store,
		Bus:      tabBus,
		Backend:  backend,
		Cache:    cache,
		Ledger:   unread,
		Toaster:  toaster,
		Sound:    notify.NewBell(os.Stdout),
		Settings: realtime.StaticSettings{Sound: cfg.Notify.Sound},
		Context:  focusedContext{articleID: cfg.Context.ArticleID, communityID: cfg.Context.CommunityID},
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	engine.OnStatus(func(s realtime.Status) {
		fmt.Fprintf(os.Stderr, "[%s] status: %s\n", engine.TabID(), s)
	})
	engine.OnAuthChange(realtime.Credentials{AccessToken: cfg.API.AccessToken, UserID: cfg.API.UserID})

	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer engine.Stop()

	logger.Info("tab running",
		zap.String("tab", engine.TabID()),
		zap.String("stateDir", cfg.State.Directory),
		zap.Bool("authenticated", cfg.API.AccessToken != ""),
	)

	var busDone <-chan struct{}
	if ws, ok := tabBus.(*bus.WSBus); ok {
		busDone = ws.Done()
	}

	select {
	case <-ctx.Done():
	case <-busDone:
		logger.Warn("bus connection lost, stopping tab")
	}

	items, _ := cache.Discussions(listKey)
	logger.Info("tab stopping", zap.Int("discussions", len(items)), zap.String("status", string(engine.Status())))
	return nil
}

// openBus dials the websocket hub when configured. Without one, the tab
// gets a private in-process bus and no peers.
func openBus(ctx context.Context) (bus.Bus, error) {
	if cfg.Bus.URL == "" {
		logger.Warn("no bus url configured, tabs in other processes will not receive relays")
		return bus.NewMemoryHub().Join(), nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ws, err := bus.Dial(dialCtx, cfg.Bus.URL, cfg.Bus.Origin, logger)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

func newToaster() notify.Notifier {
	ntfy := cfg.Notify.Ntfy
	toasters := notify.Multi{notify.New(&notify.Config{
		Enabled:  ntfy.Enabled,
		Server:   ntfy.Server,
		Topic:    ntfy.Topic,
		Priority: ntfy.Priority,
		Tags:     ntfy.Tags,
		Token:    ntfy.Token,
	}, logger)}
	if cfg.Notify.LogToasts {
		toasters = append(toasters, notify.NewLogToaster(logger))
	}
	return toasters
}

func metricsRouter(registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return r
}

func serveMetrics(addr string, registry *prometheus.Registry) func() {
	srv := &http.Server{Addr: addr, Handler: metricsRouter(registry), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
