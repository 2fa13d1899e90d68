// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initInfra      — external connections (Redis when configured)
//  2. initWhitelist  — load the chainId -> URL whitelist
//  3. initServices   — cache, prober, selector, dispatcher, metrics, logger
//  4. initServer     — HTTP front-end + management routes
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	rpcCache "github.com/nulpointcorp/rpcproxy/internal/cache"
	"github.com/nulpointcorp/rpcproxy/internal/config"
	"github.com/nulpointcorp/rpcproxy/internal/dispatcher"
	"github.com/nulpointcorp/rpcproxy/internal/httpapi"
	"github.com/nulpointcorp/rpcproxy/internal/metrics"
	"github.com/nulpointcorp/rpcproxy/internal/prober"
	"github.com/nulpointcorp/rpcproxy/internal/reqlog"
	"github.com/nulpointcorp/rpcproxy/internal/rpcproxy"
	"github.com/nulpointcorp/rpcproxy/internal/selector"
	"github.com/nulpointcorp/rpcproxy/internal/whitelist"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	// Optional external connections — nil when not configured.
	rdb *redis.Client

	reqLogger  *reqlog.Logger
	memCache   *rpcCache.MemoryCache
	chainCache *rpcCache.ChainCache

	prom *metrics.Registry

	wl   *whitelist.Provider
	prb  *prober.Prober
	sel  *selector.Selector
	disp *dispatcher.Dispatcher

	mgmt *httpapi.ManagementRoutes
	srv  *httpapi.Server
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"whitelist", a.initWhitelist},
		{"services", a.initServices},
		{"server", a.initServer},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or an error
// occurs. It closes the app gracefully when returning.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	a.log.Info("starting rpcproxy",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.String("cache_mode", a.cfg.CacheMode),
		slog.Int("chains", len(a.wl.ChainIds())),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.srv.Start(addr, a.mgmt)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times in sequence; concurrent calls are not synchronized with each other.
func (a *App) Close() {
	if a.reqLogger != nil {
		if err := a.reqLogger.Close(); err != nil {
			a.log.Error("reqlog close error", slog.String("error", err.Error()))
		}
		a.reqLogger = nil
	}
	if a.memCache != nil {
		a.memCache.Close()
		a.memCache = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis close error", slog.String("error", err.Error()))
		}
		a.rdb = nil
	}
}

// ── Private helpers ──────────────────────────────────────────────────────

// connectRedis parses the URL and verifies connectivity with a PING.
// Returns an error — callers decide whether to fatal or degrade.
func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return rdb, nil
}

// readinessAdapter implements httpapi.ReadinessChecker: ready once the
// chosen cache backend answers, or always ready in memory mode.
type readinessAdapter struct {
	rdb *redis.Client
}

func (r readinessAdapter) Ready() bool {
	if r.rdb == nil {
		return true
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return r.rdb.Ping(pingCtx).Err() == nil
}

// dispatchSender adapts *dispatcher.Dispatcher to httpapi.Sender while also
// recording the outcome through the async request logger. Dispatch-level
// metrics are recorded by the Dispatcher itself (SetMetrics), which has
// finer-grained outcome labels than a single ok/error split.
type dispatchSender struct {
	d  *dispatcher.Dispatcher
	rl *reqlog.Logger
}

func (s *dispatchSender) Send(ctx context.Context, chainId rpcproxy.ChainId, method string, params json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	result, err := s.d.Send(ctx, chainId, method, params)
	latency := time.Since(start)

	if s.rl != nil {
		entry := reqlog.DispatchLog{
			ChainId:   chainId,
			Method:    method,
			LatencyMs: uint32(latency.Milliseconds()),
			Success:   err == nil,
			CreatedAt: time.Now(),
		}
		if err != nil {
			entry.Error = err.Error()
		}
		s.rl.Log(entry)
	}
	return result, err
}
