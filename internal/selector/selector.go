// Package selector owns the per-chain ranked-list logic: consult the
// cache, trigger a single-flight probe when stale or invalid, write the
// result back, and return an ordered list of usable URLs.
//
// The single-flight guard is golang.org/x/sync/singleflight — the teacher
// already depends on golang.org/x/sync (for errgroup in internal/app), so
// this reuses the same module rather than hand-rolling a mutex+map, per
// the source's own suggestion of "a shared future" (spec design notes).
package selector

import (
	"context"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nulpointcorp/rpcproxy/internal/cache"
	"github.com/nulpointcorp/rpcproxy/internal/prober"
	"github.com/nulpointcorp/rpcproxy/internal/rpcproxy"
	"github.com/nulpointcorp/rpcproxy/internal/whitelist"
)

// MetricsRecorder is the subset of metrics.Registry's selection API the
// Selector depends on — kept narrow to avoid an import cycle.
type MetricsRecorder interface {
	RecordSingleflightJoin(chainId uint64)
	SetRankedEndpoints(chainId uint64, n int)
}

// Selector resolves a chain's ranked URL list, probing as needed.
type Selector struct {
	whitelist *whitelist.Provider
	prober    *prober.Prober
	cache     *cache.ChainCache
	ttlMs     int64
	metrics   MetricsRecorder

	inFlight singleflight.Group
}

// New builds a Selector. ttl is the cache freshness window (default 1h).
func New(wl *whitelist.Provider, pr *prober.Prober, c *cache.ChainCache, ttl time.Duration) *Selector {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Selector{whitelist: wl, prober: pr, cache: c, ttlMs: ttl.Milliseconds()}
}

// SetMetrics wires an optional MetricsRecorder; nil (the default) disables
// selection metrics entirely.
func (s *Selector) SetMetrics(m MetricsRecorder) {
	s.metrics = m
}

// GetRankedList returns the ordered list of usable URLs for chainId,
// triggering at most one in-flight probe for this chain even under a
// concurrent burst of callers.
func (s *Selector) GetRankedList(ctx context.Context, chainId rpcproxy.ChainId) []rpcproxy.URL {
	entry := s.cache.GetRaw(ctx, chainId)
	if s.isValid(entry) {
		ranked := rank(entry)
		if s.metrics != nil {
			s.metrics.SetRankedEndpoints(chainId, len(ranked))
		}
		return ranked
	}

	urls := s.whitelist.UrlsFor(chainId)
	if len(urls) == 0 {
		return nil
	}

	key := chainKey(chainId)
	// singleflight reports shared=true to the caller that ran the probe as
	// well as to the joiners; ranProbe tells the two apart.
	ranProbe := false
	v, shared, _ := s.inFlight.Do(key, func() (interface{}, error) {
		ranProbe = true
		probeMap := s.prober.Probe(ctx, chainId, urls)
		newEntry := &rpcproxy.ChainCacheEntry{ProbeMap: probeMap}
		newEntry.SetURLOrder(urls)
		ranked := rank(newEntry)
		var fastest *rpcproxy.URL
		if len(ranked) > 0 {
			fastest = &ranked[0]
		}
		s.cache.Put(ctx, chainId, probeMap, fastest)
		return newEntry, nil
	})
	if shared && !ranProbe && s.metrics != nil {
		s.metrics.RecordSingleflightJoin(chainId)
	}

	ranked := rank(v.(*rpcproxy.ChainCacheEntry))
	if s.metrics != nil {
		s.metrics.SetRankedEndpoints(chainId, len(ranked))
	}
	return ranked
}

// isValid reports whether entry can be used without re-probing: present
// and fresh. When the cached entry does name a fastestURL, that URL's
// recorded status must still be acceptable — this catches a tier dropping
// out from under a stale-but-unexpired cache read (scenario S7). A fresh
// entry with no fastestURL (every URL hard-failed last probe, scenario S5)
// is still valid: re-probing an all-dead chain every call within the TTL
// would defeat the point of caching the negative result.
func (s *Selector) isValid(entry *rpcproxy.ChainCacheEntry) bool {
	if entry == nil {
		return false
	}
	now := time.Now().UnixMilli()
	if !entry.IsFresh(now, s.ttlMs) {
		return false
	}
	if entry.FastestURL == nil {
		return true
	}
	result, ok := entry.ProbeMap[*entry.FastestURL]
	if !ok {
		return false
	}
	return rpcproxy.IsAccepted(result.Status)
}

// rank stably sorts entry.ProbeMap's acceptable results by (status tier,
// latency), breaking ties by the entry's recorded insertion order, falling
// back to lexical URL order when no insertion order was recorded (e.g.
// after a reload from persisted JSON).
func rank(entry *rpcproxy.ChainCacheEntry) []rpcproxy.URL {
	if entry == nil {
		return nil
	}

	order := entry.URLOrder()
	position := make(map[rpcproxy.URL]int, len(order))
	for i, u := range order {
		position[u] = i
	}

	type candidate struct {
		url    rpcproxy.URL
		result rpcproxy.ProbeResult
		seq    int
	}

	candidates := make([]candidate, 0, len(entry.ProbeMap))
	urls := make([]rpcproxy.URL, 0, len(entry.ProbeMap))
	for u := range entry.ProbeMap {
		urls = append(urls, u)
	}
	if len(order) == 0 {
		sort.Strings(urls)
	}
	for _, u := range urls {
		r := entry.ProbeMap[u]
		if !rpcproxy.IsAccepted(r.Status) {
			continue
		}
		seq, ok := position[u]
		if !ok {
			seq = len(position)
			position[u] = seq
		}
		candidates = append(candidates, candidate{url: u, result: r, seq: seq})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		ti, tj := rpcproxy.AcceptIndex(ci.result.Status), rpcproxy.AcceptIndex(cj.result.Status)
		if ti != tj {
			return ti < tj
		}
		if ci.result.LatencyMs != cj.result.LatencyMs {
			return ci.result.LatencyMs < cj.result.LatencyMs
		}
		return ci.seq < cj.seq
	})

	out := make([]rpcproxy.URL, len(candidates))
	for i, c := range candidates {
		out[i] = c.url
	}
	return out
}

func chainKey(chainId rpcproxy.ChainId) string {
	return strconv.FormatUint(chainId, 10)
}
