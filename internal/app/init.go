package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	rpcCache "github.com/nulpointcorp/rpcproxy/internal/cache"
	"github.com/nulpointcorp/rpcproxy/internal/dispatcher"
	"github.com/nulpointcorp/rpcproxy/internal/httpapi"
	"github.com/nulpointcorp/rpcproxy/internal/metrics"
	"github.com/nulpointcorp/rpcproxy/internal/prober"
	"github.com/nulpointcorp/rpcproxy/internal/reqlog"
	"github.com/nulpointcorp/rpcproxy/internal/rpcclient"
	"github.com/nulpointcorp/rpcproxy/internal/selector"
	"github.com/nulpointcorp/rpcproxy/internal/whitelist"
)

// initInfra establishes optional external connections.
// Redis is only required when CACHE_MODE=redis.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.CacheMode == "redis" {
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis connected")
	}

	return nil
}

// initWhitelist loads the chainId -> URL whitelist from a.cfg.WhitelistPath.
func (a *App) initWhitelist(_ context.Context) error {
	raw, err := whitelist.LoadFile(a.cfg.WhitelistPath)
	if err != nil {
		return fmt.Errorf("whitelist: %w", err)
	}

	a.wl = whitelist.NewProvider(raw)
	a.log.Info("whitelist loaded", slog.Int("chains", len(a.wl.ChainIds())))

	return nil
}

// initServices creates the cache backend, prober, selector, dispatcher,
// metrics registry, and async request logger.
func (a *App) initServices(ctx context.Context) error {
	var backend rpcCache.Cache

	switch a.cfg.CacheMode {
	case "redis":
		backend = rpcCache.NewRedisCacheFromClient(a.rdb)
		a.log.Info("cache backend: redis")

	case "memory":
		a.memCache = rpcCache.NewMemoryCache(ctx)
		backend = a.memCache
		a.log.Info("cache backend: memory (in-process)")

	default:
		return fmt.Errorf("unknown cache mode: %s", a.cfg.CacheMode)
	}

	a.chainCache = rpcCache.NewChainCache(backend, a.cfg.CacheKey, a.cfg.CacheTTL, a.cfg.DisableCache)

	if len(a.cfg.ExcludeChains) > 0 || len(a.cfg.ExcludeChainPatterns) > 0 {
		el, err := rpcCache.NewExclusionList(a.cfg.ExcludeChains, a.cfg.ExcludeChainPatterns)
		if err != nil {
			return fmt.Errorf("cache exclusions: %w", err)
		}
		a.chainCache.SetExclusions(el)
		a.log.Info("cache exclusions loaded", slog.Int("rules", el.Len()))
	}

	httpClient := &http.Client{}
	rpcCli := rpcclient.New(httpClient)

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)
	a.chainCache.SetMetrics(a.prom)

	a.prb = prober.New(rpcCli, a.cfg.LatencyTimeout)
	a.prb.SetMetrics(a.prom)
	a.sel = selector.New(a.wl, a.prb, a.chainCache, a.cfg.CacheTTL)
	a.sel.SetMetrics(a.prom)
	a.disp = dispatcher.New(a.sel, rpcCli, a.cfg.RequestTimeout, a.log)
	a.disp.SetMetrics(a.prom)

	reqLogger, err := reqlog.New(a.baseCtx, a.log)
	if err != nil {
		return fmt.Errorf("reqlog: %w", err)
	}
	a.reqLogger = reqLogger

	return nil
}

// initServer wires the HTTP front-end over the dispatcher.
func (a *App) initServer(_ context.Context) error {
	sender := &dispatchSender{d: a.disp, rl: a.reqLogger}
	handler := httpapi.NewHandler(sender, a.log)

	ready := readinessAdapter{rdb: a.rdb}
	a.srv = httpapi.NewServer(handler, a.cfg.CORSOrigins, ready)
	a.srv.SetMetrics(a.prom)

	a.mgmt = &httpapi.ManagementRoutes{
		Metrics: a.prom.Handler(),
	}

	return nil
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
