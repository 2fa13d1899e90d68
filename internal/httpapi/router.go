package httpapi

import (
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
)

// ManagementRoutes holds optional management API handlers registered
// alongside the dispatch route.
type ManagementRoutes struct {
	Metrics fasthttp.RequestHandler
}

// HTTPMetricsRecorder is the subset of metrics.Registry's HTTP API the
// Server depends on — kept narrow to avoid an import cycle.
type HTTPMetricsRecorder interface {
	IncInFlight()
	DecInFlight()
	ObserveHTTP(route string, statusCode int, dur time.Duration)
}

// Server owns the fasthttp.Server and route table.
type Server struct {
	handler     *Handler
	corsOrigins []string
	readiness   ReadinessChecker
	metrics     HTTPMetricsRecorder
}

// NewServer builds a Server over handler.
func NewServer(handler *Handler, corsOrigins []string, readiness ReadinessChecker) *Server {
	return &Server{handler: handler, corsOrigins: corsOrigins, readiness: readiness}
}

// SetMetrics wires an optional HTTPMetricsRecorder; nil (the default)
// disables request-level HTTP metrics entirely.
func (s *Server) SetMetrics(m HTTPMetricsRecorder) {
	s.metrics = m
}

// Start starts the HTTP server on addr (e.g. ":8080").
func (s *Server) Start(addr string, mgmt *ManagementRoutes) error {
	r := router.New()

	r.POST("/{chainId}", s.handler.HandleDispatch)
	r.OPTIONS("/{chainId}", func(ctx *fasthttp.RequestCtx) {}) // CORS middleware answers preflight
	r.GET("/health", s.handler.HandleHealth)
	r.GET("/readiness", HandleReadiness(s.readiness))

	if mgmt != nil && mgmt.Metrics != nil {
		r.GET("/metrics", mgmt.Metrics)
	}

	mws := []func(fasthttp.RequestHandler) fasthttp.RequestHandler{
		recovery,
		requestID,
		timing,
		corsHandler(s.corsOrigins),
		securityHeaders,
	}
	if s.metrics != nil {
		mws = append(mws, httpMetrics(s.metrics))
	}

	handler := applyMiddleware(r.Handler, mws...)

	srv := &fasthttp.Server{
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	return srv.ListenAndServe(addr)
}
