// Package prober issues the two-call liveness/capability probe
// (eth_getCode + eth_syncing) against a set of upstream URLs and classifies
// each into a rpcproxy.ProbeResult. Grounded on the teacher's
// internal/proxy/healthchecker.go probe() fan-out: one goroutine per
// target under a shared sync.WaitGroup, a settled join that never
// short-circuits on a single target's failure.
package prober

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nulpointcorp/rpcproxy/internal/rpcclient"
	"github.com/nulpointcorp/rpcproxy/internal/rpcproxy"
)

// MetricsRecorder is the subset of metrics.Registry's probe API the Prober
// depends on — kept narrow to avoid an import cycle.
type MetricsRecorder interface {
	ObserveProbe(chainId uint64, status string, dur time.Duration)
}

// Prober fans a probe out across a URL list using a shared rpcclient.Client.
type Prober struct {
	client  *rpcclient.Client
	timeout time.Duration
	metrics MetricsRecorder
}

// New builds a Prober. timeout is the shared per-call deadline applied to
// both the eth_getCode and eth_syncing calls (default 5s, per spec).
func New(client *rpcclient.Client, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{client: client, timeout: timeout}
}

// SetMetrics wires an optional MetricsRecorder; nil (the default) disables
// probe metrics entirely.
func (p *Prober) SetMetrics(m MetricsRecorder) {
	p.metrics = m
}

// Probe concurrently probes every URL and returns a URL -> ProbeResult map.
// A URL-level failure never affects another URL's outcome. chainId is used
// only to label metrics.
func (p *Prober) Probe(ctx context.Context, chainId rpcproxy.ChainId, urls []rpcproxy.URL) map[rpcproxy.URL]rpcproxy.ProbeResult {
	results := make(map[rpcproxy.URL]rpcproxy.ProbeResult, len(urls))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, u := range urls {
		u := u
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			r := p.probeOne(ctx, u)
			if p.metrics != nil {
				p.metrics.ObserveProbe(chainId, string(r.Status), time.Since(start))
			}
			mu.Lock()
			results[u] = r
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func (p *Prober) probeOne(ctx context.Context, url rpcproxy.URL) rpcproxy.ProbeResult {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	epochMs := time.Now().UnixMilli()

	var getCodeResult, syncingResult json.RawMessage
	var getCodeErr, syncingErr error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		params, _ := json.Marshal([]string{permit2Address, "latest"})
		getCodeResult, getCodeErr = p.client.Call(callCtx, url, "eth_getCode", params,
			fmt.Sprintf("latency-test-eth_getCode-%d", epochMs))
	}()
	go func() {
		defer wg.Done()
		syncingResult, syncingErr = p.client.Call(callCtx, url, "eth_syncing", json.RawMessage("[]"),
			fmt.Sprintf("latency-test-eth_syncing-%d", epochMs))
	}()
	wg.Wait()

	latencyMs := float64(time.Since(start).Milliseconds())

	// Priority order — first matching rule wins.
	if callCtx.Err() != nil {
		return rpcproxy.ProbeResult{URL: url, Status: rpcproxy.StatusTimeout, LatencyMs: rpcproxy.InfLatency,
			ErrorText: "deadline exceeded"}
	}
	if netErr, ok := asNetworkError(getCodeErr); ok {
		return rpcproxy.ProbeResult{URL: url, Status: rpcproxy.StatusNetworkError, LatencyMs: rpcproxy.InfLatency,
			ErrorText: netErr.Error()}
	}
	if netErr, ok := asNetworkError(syncingErr); ok {
		return rpcproxy.ProbeResult{URL: url, Status: rpcproxy.StatusNetworkError, LatencyMs: rpcproxy.InfLatency,
			ErrorText: netErr.Error()}
	}
	if httpErr, ok := asHTTPError(getCodeErr); ok {
		return rpcproxy.ProbeResult{URL: url, Status: rpcproxy.StatusHTTPError, LatencyMs: rpcproxy.InfLatency,
			ErrorText: httpErr.Error()}
	}
	if httpErr, ok := asHTTPError(syncingErr); ok {
		return rpcproxy.ProbeResult{URL: url, Status: rpcproxy.StatusHTTPError, LatencyMs: rpcproxy.InfLatency,
			ErrorText: httpErr.Error()}
	}
	if rpcErr, ok := asRPCError(getCodeErr); ok {
		return rpcproxy.ProbeResult{URL: url, Status: rpcproxy.StatusRPCError, LatencyMs: rpcproxy.InfLatency,
			ErrorText: rpcErr.Error()}
	}
	if rpcErr, ok := asRPCError(syncingErr); ok {
		return rpcproxy.ProbeResult{URL: url, Status: rpcproxy.StatusRPCError, LatencyMs: rpcproxy.InfLatency,
			ErrorText: rpcErr.Error()}
	}
	// Any remaining error (malformed response, etc.) counts as rpc_error:
	// the call reached the server and returned something we could not use.
	if getCodeErr != nil {
		return rpcproxy.ProbeResult{URL: url, Status: rpcproxy.StatusRPCError, LatencyMs: rpcproxy.InfLatency,
			ErrorText: getCodeErr.Error()}
	}
	if syncingErr != nil {
		return rpcproxy.ProbeResult{URL: url, Status: rpcproxy.StatusRPCError, LatencyMs: rpcproxy.InfLatency,
			ErrorText: syncingErr.Error()}
	}

	var syncing interface{}
	if err := json.Unmarshal(syncingResult, &syncing); err != nil {
		return rpcproxy.ProbeResult{URL: url, Status: rpcproxy.StatusRPCError, LatencyMs: rpcproxy.InfLatency,
			ErrorText: "unparsable eth_syncing result"}
	}
	if b, isBool := syncing.(bool); !isBool || b != false {
		return rpcproxy.ProbeResult{URL: url, Status: rpcproxy.StatusSyncing, LatencyMs: latencyMs}
	}

	var code string
	if err := json.Unmarshal(getCodeResult, &code); err != nil {
		return rpcproxy.ProbeResult{URL: url, Status: rpcproxy.StatusWrongBytecode, LatencyMs: latencyMs,
			ErrorText: "eth_getCode result is not a string"}
	}
	if !strings.HasPrefix(code, permit2BytecodePrefix) {
		return rpcproxy.ProbeResult{URL: url, Status: rpcproxy.StatusWrongBytecode, LatencyMs: latencyMs}
	}

	return rpcproxy.ProbeResult{URL: url, Status: rpcproxy.StatusOK, LatencyMs: latencyMs}
}

func asNetworkError(err error) (*rpcproxy.NetworkError, bool) {
	ne, ok := err.(*rpcproxy.NetworkError)
	return ne, ok
}

func asHTTPError(err error) (*rpcproxy.HTTPError, bool) {
	he, ok := err.(*rpcproxy.HTTPError)
	return he, ok
}

func asRPCError(err error) (*rpcproxy.RPCError, bool) {
	re, ok := err.(*rpcproxy.RPCError)
	return re, ok
}
