// Package rpcproxy holds the shared data model for the RPC selection,
// probing, caching, and fallback engine: the types that flow between the
// whitelist, prober, cache, selector, and dispatcher packages.
package rpcproxy

import "math"

// ChainId identifies an EVM network (e.g. 1, 100). Always positive.
type ChainId = uint64

// URL is an opaque upstream endpoint. Always begins with "https://" and
// never contains an unresolved "${" placeholder — enforced at whitelist
// construction time, not here.
type URL = string

// ProbeStatus is the closed set of outcomes a probe can classify a URL as.
type ProbeStatus string

const (
	StatusOK            ProbeStatus = "ok"
	StatusWrongBytecode ProbeStatus = "wrong_bytecode"
	StatusSyncing       ProbeStatus = "syncing"
	StatusTimeout       ProbeStatus = "timeout"
	StatusHTTPError     ProbeStatus = "http_error"
	StatusRPCError      ProbeStatus = "rpc_error"
	StatusNetworkError  ProbeStatus = "network_error"
)

// Accept is the ordered tuple of statuses usable for selection. Index in
// this slice is the ranking's primary sort key — lower index wins.
var Accept = []ProbeStatus{StatusOK, StatusWrongBytecode, StatusSyncing}

// AcceptIndex returns the rank of status within Accept, or -1 if the
// status is not acceptable for selection.
func AcceptIndex(status ProbeStatus) int {
	for i, s := range Accept {
		if s == status {
			return i
		}
	}
	return -1
}

// IsAccepted reports whether status is usable for selection.
func IsAccepted(status ProbeStatus) bool {
	return AcceptIndex(status) >= 0
}

// InfLatency represents the "+∞" latency of a hard-failed probe.
const InfLatency = math.MaxFloat64

// ProbeResult is the outcome of probing a single URL.
//
// Invariant: Status in {timeout, http_error, rpc_error, network_error} implies
// LatencyMs == InfLatency; Status in {ok, syncing, wrong_bytecode} implies
// 0 <= LatencyMs < InfLatency.
type ProbeResult struct {
	URL       URL         `json:"url"`
	LatencyMs float64     `json:"latencyMs"`
	Status    ProbeStatus `json:"status"`
	ErrorText string      `json:"errorText,omitempty"`
}

// ChainCacheEntry is the durable, per-chain probe snapshot.
type ChainCacheEntry struct {
	LastTestedUnixMs int64                  `json:"lastTestedUnixMs"`
	ProbeMap         map[URL]ProbeResult    `json:"probeMap"`
	FastestURL       *URL                   `json:"fastestURL"`
	// urlOrder preserves probeMap iteration/insertion order for
	// tie-breaking during ranking. Not part of the spec'd JSON shape but
	// needed because Go map iteration order is random; populated by
	// whoever builds the entry (the prober's URL list order).
	urlOrder []URL
}

// SetURLOrder records the insertion order used to break ranking ties.
func (e *ChainCacheEntry) SetURLOrder(order []URL) {
	e.urlOrder = append([]URL(nil), order...)
}

// URLOrder returns the recorded insertion order, or nil if unset (in which
// case the selector's ranking breaks exact status+latency ties by lexical
// URL order).
func (e *ChainCacheEntry) URLOrder() []URL {
	return e.urlOrder
}

// CacheRoot is the entire persisted cache: one entry per chain, stored
// under a single KV key.
type CacheRoot map[ChainId]*ChainCacheEntry

// IsFresh reports whether entry was last tested within ttl of now.
func (e *ChainCacheEntry) IsFresh(nowUnixMs int64, ttlMs int64) bool {
	if e == nil {
		return false
	}
	return nowUnixMs-e.LastTestedUnixMs < ttlMs
}
