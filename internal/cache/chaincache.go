package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nulpointcorp/rpcproxy/internal/rpcproxy"
)

// defaultCacheKey is the KV key under which the entire CacheRoot is stored.
const defaultCacheKey = "permit2RpcManagerCache"

// MetricsRecorder is the subset of metrics.Registry's cache API ChainCache
// depends on — kept narrow to avoid an import cycle and to let tests stub it.
type MetricsRecorder interface {
	CacheGetHit()
	CacheGetMiss()
	CacheGetBypass()
	CacheSetOK()
	CacheSetError()
}

// ChainCache implements the whole-root read/write described by the spec:
// one JSON document under one key holds every chain's entry. Reads and
// writes are whole-root; a mutex serializes the read-modify-write so two
// concurrent Put calls (for different chains) never race on the same
// underlying blob.
type ChainCache struct {
	backend  Cache
	key      string
	ttl      time.Duration
	disabled bool

	mu      sync.Mutex
	exclu   *ExclusionList
	metrics MetricsRecorder
}

// NewChainCache wraps backend. key defaults to "permit2RpcManagerCache"
// when empty. disabled turns every read into a miss and every write into
// a no-op, matching the DISABLE_RPC_CACHE / disableCache config contract.
func NewChainCache(backend Cache, key string, ttl time.Duration, disabled bool) *ChainCache {
	if key == "" {
		key = defaultCacheKey
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ChainCache{backend: backend, key: key, ttl: ttl, disabled: disabled}
}

// SetExclusions wires an ExclusionList: chains it matches always
// behave as if disableCache were set, regardless of TTL.
func (c *ChainCache) SetExclusions(el *ExclusionList) {
	c.exclu = el
}

// SetMetrics wires an optional MetricsRecorder; nil (the default) disables
// cache metrics entirely.
func (c *ChainCache) SetMetrics(m MetricsRecorder) {
	c.metrics = m
}

// GetFresh returns chainId's entry only if present and within the TTL
// window. Disabled mode (or an excluded chain) always returns nil.
func (c *ChainCache) GetFresh(ctx context.Context, chainId rpcproxy.ChainId) *rpcproxy.ChainCacheEntry {
	entry := c.GetRaw(ctx, chainId)
	if entry == nil {
		return nil
	}
	if !entry.IsFresh(time.Now().UnixMilli(), c.ttl.Milliseconds()) {
		return nil
	}
	return entry
}

// GetRaw returns chainId's entry regardless of freshness, or nil on a
// miss, on a disabled/excluded chain, or on a KV/decode failure (logged,
// never surfaced to the caller).
func (c *ChainCache) GetRaw(ctx context.Context, chainId rpcproxy.ChainId) *rpcproxy.ChainCacheEntry {
	if c.isDisabledFor(chainId) {
		if c.metrics != nil {
			c.metrics.CacheGetBypass()
		}
		return nil
	}

	root, ok := c.readRoot(ctx)
	if !ok {
		if c.metrics != nil {
			c.metrics.CacheGetMiss()
		}
		return nil
	}
	entry := root[chainId]
	if c.metrics != nil {
		if entry != nil {
			c.metrics.CacheGetHit()
		} else {
			c.metrics.CacheGetMiss()
		}
	}
	return entry
}

// Put replaces chainId's entry with a fresh snapshot and persists the
// entire root. A write failure is logged and swallowed — the in-memory
// selection for the current call still proceeds using probeMap/fastest.
func (c *ChainCache) Put(ctx context.Context, chainId rpcproxy.ChainId, probeMap map[rpcproxy.URL]rpcproxy.ProbeResult, fastestURL *rpcproxy.URL) {
	if c.isDisabledFor(chainId) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	root, _ := c.readRoot(ctx)
	if root == nil {
		root = make(rpcproxy.CacheRoot)
	}

	root[chainId] = &rpcproxy.ChainCacheEntry{
		LastTestedUnixMs: time.Now().UnixMilli(),
		ProbeMap:         probeMap,
		FastestURL:       fastestURL,
	}

	data, err := json.Marshal(root)
	if err != nil {
		slog.Warn("chaincache_marshal_error", slog.String("error", err.Error()))
		if c.metrics != nil {
			c.metrics.CacheSetError()
		}
		return
	}

	if err := c.backend.Set(ctx, c.key, data, 0); err != nil {
		slog.Warn("chaincache_write_error", slog.String("error", err.Error()))
		if c.metrics != nil {
			c.metrics.CacheSetError()
		}
		return
	}
	if c.metrics != nil {
		c.metrics.CacheSetOK()
	}
}

func (c *ChainCache) isDisabledFor(chainId rpcproxy.ChainId) bool {
	if c.disabled {
		return true
	}
	if c.exclu != nil && c.exclu.MatchesChain(chainId) {
		return true
	}
	return false
}

func (c *ChainCache) readRoot(ctx context.Context) (rpcproxy.CacheRoot, bool) {
	raw, ok := c.backend.Get(ctx, c.key)
	if !ok {
		return nil, false
	}
	var root rpcproxy.CacheRoot
	if err := json.Unmarshal(raw, &root); err != nil {
		slog.Warn("chaincache_decode_error", slog.String("error", err.Error()))
		return nil, false
	}
	return root, true
}
