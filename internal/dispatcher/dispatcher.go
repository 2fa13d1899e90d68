// Package dispatcher implements Send, the proxy's public entry point:
// obtain a ranked URL list from the selector, pick a round-robin start
// index, and walk the list on failure until one attempt succeeds or all
// are exhausted.
//
// Adapted from the teacher's internal/proxy/failover.go requestWithFailover
// — same candidate-walk/lastErr/attempt-count shape, generalized from named
// providers with a static fallback order to ranked URLs with a rotating
// start index.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nulpointcorp/rpcproxy/internal/rpcclient"
	"github.com/nulpointcorp/rpcproxy/internal/rpcproxy"
)

// RankedLister is the subset of the selector's interface the dispatcher
// depends on — kept narrow so tests can supply a stub.
type RankedLister interface {
	GetRankedList(ctx context.Context, chainId rpcproxy.ChainId) []rpcproxy.URL
}

// MetricsRecorder is the subset of metrics.Registry's dispatch API the
// Dispatcher depends on — kept narrow to avoid an import cycle.
type MetricsRecorder interface {
	ObserveDispatchAttempt(chainId uint64, outcome string, dur time.Duration)
	RecordDispatch(chainId uint64, outcome string)
}

// Dispatcher executes Send(chainId, method, params).
type Dispatcher struct {
	selector RankedLister
	client   *rpcclient.Client
	timeout  time.Duration
	log      *slog.Logger
	metrics  MetricsRecorder

	rr roundRobin
}

// New builds a Dispatcher. requestTimeout is the per-attempt deadline
// (default 10s per spec). log may be nil (defaults to slog.Default()).
func New(selector RankedLister, client *rpcclient.Client, requestTimeout time.Duration, log *slog.Logger) *Dispatcher {
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{selector: selector, client: client, timeout: requestTimeout, log: log}
}

// SetMetrics wires an optional MetricsRecorder; nil (the default) disables
// per-attempt dispatch metrics entirely.
func (d *Dispatcher) SetMetrics(m MetricsRecorder) {
	d.metrics = m
}

// Send obtains chainId's ranked list, advances its round-robin index
// exactly once, and walks the list starting at that index until one
// ExecuteOne attempt succeeds or every entry has been tried exactly once.
func (d *Dispatcher) Send(ctx context.Context, chainId rpcproxy.ChainId, method string, params json.RawMessage) (json.RawMessage, error) {
	list := d.selector.GetRankedList(ctx, chainId)
	n := len(list)
	if n == 0 {
		if d.metrics != nil {
			d.metrics.RecordDispatch(chainId, "no_endpoints")
		}
		return nil, &rpcproxy.NoEndpoints{ChainId: chainId}
	}

	start := d.rr.next(chainId, n)

	var lastErr error
	for k := 0; k < n; k++ {
		if ctx.Err() != nil {
			if d.metrics != nil {
				d.metrics.RecordDispatch(chainId, "canceled")
			}
			return nil, ctx.Err()
		}

		url := list[(start+k)%n]
		attemptStart := time.Now()
		result, err := d.ExecuteOne(ctx, url, method, params)
		if d.metrics != nil {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			d.metrics.ObserveDispatchAttempt(chainId, outcome, time.Since(attemptStart))
		}
		if err == nil {
			if d.metrics != nil {
				d.metrics.RecordDispatch(chainId, "ok")
			}
			return result, nil
		}
		if ctx.Err() != nil {
			// The caller's own deadline/cancellation fired, not just this
			// attempt's per-request timeout — surface it immediately
			// rather than trying the remaining ranked URLs.
			if d.metrics != nil {
				d.metrics.RecordDispatch(chainId, "canceled")
			}
			return nil, ctx.Err()
		}

		lastErr = err
		d.log.WarnContext(ctx, "dispatch_attempt_failed",
			slog.Uint64("chain_id", chainId),
			slog.String("url", url),
			slog.String("method", method),
			slog.Int("attempt", k),
			slog.String("error", err.Error()),
		)
	}

	if d.metrics != nil {
		d.metrics.RecordDispatch(chainId, "failed")
	}
	return nil, &rpcproxy.AllEndpointsFailed{ChainId: chainId, LastError: lastErr}
}

// ExecuteOne issues a single JSON-RPC call to url under a per-attempt
// deadline. Never retried by the caller for the same url within one Send.
func (d *Dispatcher) ExecuteOne(ctx context.Context, url rpcproxy.URL, method string, params json.RawMessage) (json.RawMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	id := fmt.Sprintf("rpc-call-%d", time.Now().UnixMilli())
	result, err := d.client.Call(callCtx, url, method, params, id)
	if err != nil {
		if rpcclient.IsTimeout(err) && ctx.Err() == nil {
			return nil, &rpcproxy.TimeoutError{DeadlineMs: d.timeout.Milliseconds()}
		}
		return nil, err
	}
	return result, nil
}
