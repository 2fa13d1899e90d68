// Package httpapi is the HTTP front-end collaborator named in the core's
// external interfaces: it accepts POST /{chainId}, validates and unwraps
// single or batched JSON-RPC 2.0 requests, calls the core's Send for each
// item, and wraps results/errors back into the wire envelope. It owns CORS,
// health, readiness, and metrics — none of which are part of the core
// selection/probing/caching/fallback engine.
//
// Adapted from the teacher's internal/proxy/router.go + gateway.go request
// handling — same router/middleware/writeJSON shape, generalized from a
// fixed OpenAI-style route set to a single parametric `/{chainId}` route
// fanning out over a JSON-RPC batch.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"

	"github.com/nulpointcorp/rpcproxy/internal/rpcproxy"
	"github.com/nulpointcorp/rpcproxy/pkg/rpcerr"
)

const maxBatchSize = 100

// Sender is the core's public entry point, as named in §6 of the design:
// Send(chainId, method, params) -> (result, error).
type Sender interface {
	Send(ctx context.Context, chainId rpcproxy.ChainId, method string, params json.RawMessage) (json.RawMessage, error)
}

// rpcRequest is one JSON-RPC 2.0 request object.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// rpcResponse is one JSON-RPC 2.0 response object.
type rpcResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      json.RawMessage  `json:"id,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *rpcerr.RPCError `json:"error,omitempty"`
}

// Handler implements the HTTP-to-core translation described above.
type Handler struct {
	sender Sender
	log    *slog.Logger
}

// NewHandler builds a Handler over the given Sender (a *dispatcher.Dispatcher
// in production, a stub in tests).
func NewHandler(sender Sender, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{sender: sender, log: log}
}

// HandleDispatch serves POST /{chainId}. The body is either one JSON-RPC
// request object or a JSON array of request objects (a batch); the
// response mirrors that shape.
func (h *Handler) HandleDispatch(ctx *fasthttp.RequestCtx) {
	chainIdStr, _ := ctx.UserValue("chainId").(string)
	chainId, err := strconv.ParseUint(chainIdStr, 10, 64)
	if err != nil {
		rpcerr.WriteInvalidRequest(ctx, nil, "chain id must be a positive integer")
		return
	}

	body := ctx.PostBody()

	var batch []rpcRequest
	isBatch := len(body) > 0 && body[0] == '['
	if isBatch {
		if err := json.Unmarshal(body, &batch); err != nil {
			rpcerr.WriteParseError(ctx)
			return
		}
		if len(batch) == 0 {
			rpcerr.WriteInvalidRequest(ctx, nil, "empty batch")
			return
		}
		if len(batch) > maxBatchSize {
			rpcerr.WriteInvalidRequest(ctx, nil, "batch too large")
			return
		}
	} else {
		var single rpcRequest
		if err := json.Unmarshal(body, &single); err != nil {
			rpcerr.WriteParseError(ctx)
			return
		}
		batch = []rpcRequest{single}
	}

	for i, req := range batch {
		if req.JSONRPC != "2.0" || req.Method == "" {
			rpcerr.WriteInvalidRequest(ctx, rawID(req.ID), "each entry must carry jsonrpc:\"2.0\" and a method")
			return
		}
		batch[i] = req
	}

	responses := make([]rpcResponse, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	for i, req := range batch {
		i, req := i, req
		g.Go(func() error {
			result, err := h.sender.Send(gctx, chainId, req.Method, req.Params)
			responses[i] = toResponse(req.ID, result, err)
			return nil
		})
	}
	_ = g.Wait()

	ctx.SetContentType("application/json")
	var out any = responses
	if !isBatch {
		out = responses[0]
	}
	body, _ = json.Marshal(out)
	ctx.SetBody(body)
}

func toResponse(id json.RawMessage, result json.RawMessage, err error) rpcResponse {
	resp := rpcResponse{JSONRPC: "2.0", ID: id}
	if err != nil {
		resp.Error = &rpcerr.RPCError{Code: rpcerr.CodeServerError, Message: err.Error()}
		return resp
	}
	resp.Result = result
	return resp
}

func rawID(id json.RawMessage) any {
	if len(id) == 0 {
		return nil
	}
	var v any
	_ = json.Unmarshal(id, &v)
	return v
}

// ReadinessChecker reports whether the proxy's dependencies (cache backend)
// are reachable.
type ReadinessChecker interface {
	Ready() bool
}

// HandleHealth serves GET /health with a fixed liveness payload.
func (h *Handler) HandleHealth(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

// HandleReadiness serves GET /readiness, delegating to an optional
// ReadinessChecker (nil means always ready).
func HandleReadiness(checker ReadinessChecker) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if checker == nil || checker.Ready() {
			writeJSON(ctx, map[string]string{"status": "ok"})
			return
		}
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		writeJSON(ctx, map[string]string{"status": "unavailable"})
	}
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
