// Package metrics provides a Prometheus metrics registry for the proxy.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when embedded in other
// applications. The /metrics HTTP handler is exposed via Handler().
//
// Adapted from the teacher's internal/metrics/prometheus.go — same
// private-registry/fasthttpadaptor shape, generalized from LLM
// provider/circuit-breaker/token gauges to probe/rank/dispatch gauges.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// rpcproxy_inflight_requests
	inFlight prometheus.Gauge

	// rpcproxy_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// rpcproxy_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// rpcproxy_dispatch_total{chain_id,outcome}
	dispatchTotal *prometheus.CounterVec

	// rpcproxy_dispatch_attempts_total{chain_id,outcome}
	dispatchAttempts *prometheus.CounterVec

	// rpcproxy_dispatch_duration_seconds{chain_id,outcome}
	dispatchDuration *prometheus.HistogramVec

	// rpcproxy_probe_results_total{chain_id,status}
	probeResults *prometheus.CounterVec

	// rpcproxy_probe_duration_seconds{chain_id}
	probeDuration *prometheus.HistogramVec

	// rpcproxy_cache_operations_total{op,result}
	cacheOps *prometheus.CounterVec

	// rpcproxy_singleflight_joins_total{chain_id}
	singleflightJoins *prometheus.CounterVec

	// rpcproxy_ranked_endpoints{chain_id} — size of the last ranked list
	rankedEndpoints *prometheus.GaugeVec

	// rpcproxy_build_info{version}
	buildInfo *prometheus.GaugeVec

	metricsHandler fasthttp.RequestHandler
}

// New builds a Registry with a private prometheus.Registry, registers the
// Go/process collectors plus all proxy-specific metrics, and precomputes
// the /metrics HTTP handler.
func New() *Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rpcproxy_inflight_requests",
			Help: "Current number of in-flight HTTP requests handled by the proxy",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpcproxy_http_requests_total",
				Help: "Total number of HTTP requests handled by the proxy",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rpcproxy_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds (end-to-end, includes cache + dispatch)",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"route"},
		),

		dispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpcproxy_dispatch_total",
				Help: "Total Dispatcher.Send calls by outcome",
			},
			[]string{"chain_id", "outcome"},
		),

		dispatchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpcproxy_dispatch_attempts_total",
				Help: "Total per-URL dispatch attempts by outcome (includes failovers)",
			},
			[]string{"chain_id", "outcome"},
		),

		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rpcproxy_dispatch_duration_seconds",
				Help:    "Dispatch attempt duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"chain_id", "outcome"},
		),

		probeResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpcproxy_probe_results_total",
				Help: "Total probe results by chain and status",
			},
			[]string{"chain_id", "status"},
		),

		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rpcproxy_probe_duration_seconds",
				Help:    "Per-URL probe round-trip duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"chain_id"},
		),

		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpcproxy_cache_operations_total",
				Help: "Cache operations by type and result",
			},
			[]string{"op", "result"},
		),

		singleflightJoins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpcproxy_singleflight_joins_total",
				Help: "Calls that joined an in-flight probe instead of triggering a new one",
			},
			[]string{"chain_id"},
		),

		rankedEndpoints: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rpcproxy_ranked_endpoints",
				Help: "Number of endpoints in the last ranked list produced for a chain",
			},
			[]string{"chain_id"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rpcproxy_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.inFlight,
		r.httpRequestsTotal,
		r.httpDuration,
		r.dispatchTotal,
		r.dispatchAttempts,
		r.dispatchDuration,
		r.probeResults,
		r.probeDuration,
		r.cacheOps,
		r.singleflightJoins,
		r.rankedEndpoints,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

// ObserveHTTP records end-to-end HTTP metrics for one request.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration) {
	status := strconv.Itoa(statusCode)
	r.httpRequestsTotal.WithLabelValues(route, status).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
}

// RecordDispatch records the terminal outcome of one Dispatcher.Send call.
func (r *Registry) RecordDispatch(chainId uint64, outcome string) {
	r.dispatchTotal.WithLabelValues(strconv.FormatUint(chainId, 10), outcome).Inc()
}

// ObserveDispatchAttempt records one per-URL attempt inside Send.
func (r *Registry) ObserveDispatchAttempt(chainId uint64, outcome string, dur time.Duration) {
	chain := strconv.FormatUint(chainId, 10)
	r.dispatchAttempts.WithLabelValues(chain, outcome).Inc()
	r.dispatchDuration.WithLabelValues(chain, outcome).Observe(dur.Seconds())
}

// ObserveProbe records one Prober result for a single URL.
func (r *Registry) ObserveProbe(chainId uint64, status string, dur time.Duration) {
	chain := strconv.FormatUint(chainId, 10)
	r.probeResults.WithLabelValues(chain, status).Inc()
	r.probeDuration.WithLabelValues(chain).Observe(dur.Seconds())
}

func (r *Registry) CacheGetHit()   { r.cacheOps.WithLabelValues("get", "hit").Inc() }
func (r *Registry) CacheGetMiss()  { r.cacheOps.WithLabelValues("get", "miss").Inc() }
func (r *Registry) CacheGetBypass() { r.cacheOps.WithLabelValues("get", "bypass").Inc() }
func (r *Registry) CacheSetOK()    { r.cacheOps.WithLabelValues("set", "ok").Inc() }
func (r *Registry) CacheSetError() { r.cacheOps.WithLabelValues("set", "error").Inc() }

// RecordSingleflightJoin records a GetRankedList call that joined an
// already-running probe rather than starting its own.
func (r *Registry) RecordSingleflightJoin(chainId uint64) {
	r.singleflightJoins.WithLabelValues(strconv.FormatUint(chainId, 10)).Inc()
}

// SetRankedEndpoints records the size of the most recent ranked list
// produced for chainId.
func (r *Registry) SetRankedEndpoints(chainId uint64, n int) {
	r.rankedEndpoints.WithLabelValues(strconv.FormatUint(chainId, 10)).Set(float64(n))
}

func (r *Registry) SetBuildInfo(version string) {
	r.buildInfo.WithLabelValues(version).Set(1)
}

func (r *Registry) Handler() fasthttp.RequestHandler   { return r.metricsHandler }
func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
