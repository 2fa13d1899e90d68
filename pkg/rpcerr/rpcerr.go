// Package rpcerr writes JSON-RPC 2.0 error envelopes to a fasthttp
// response, mapping the proxy's internal error taxonomy to the standard
// JSON-RPC error codes.
//
// Adapted from the teacher's pkg/apierr/apierr.go — same
// Write/envelope/status-mapping shape, generalized from the OpenAI error
// format to JSON-RPC 2.0's {code,message} error object.
package rpcerr

import (
	"encoding/json"
	"errors"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/rpcproxy/internal/rpcproxy"
)

// JSON-RPC 2.0 reserved error codes (see spec.md §6/§7).
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeServerError    = -32000
)

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Envelope is the full JSON-RPC 2.0 error response.
type Envelope struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Error   RPCError    `json:"error"`
}

// Write writes a JSON-RPC error envelope with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, httpStatus, rpcCode int, id interface{}, message string) {
	ctx.SetStatusCode(httpStatus)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(Envelope{
		JSONRPC: "2.0",
		ID:      id,
		Error:   RPCError{Code: rpcCode, Message: message},
	})
	ctx.SetBody(body)
}

// WriteParseError writes a -32700 parse error (malformed JSON body).
func WriteParseError(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusBadRequest, CodeParseError, nil, "parse error")
}

// WriteInvalidRequest writes a -32600 invalid request error (well-formed
// JSON that isn't a valid JSON-RPC 2.0 request object).
func WriteInvalidRequest(ctx *fasthttp.RequestCtx, id interface{}, reason string) {
	Write(ctx, fasthttp.StatusBadRequest, CodeInvalidRequest, id, "invalid request: "+reason)
}

// WriteDispatchError inspects err's concrete type (via the StatusCoder
// interface implemented by internal/rpcproxy's error taxonomy) and writes
// the matching HTTP status and JSON-RPC error code/message.
func WriteDispatchError(ctx *fasthttp.RequestCtx, id interface{}, err error) {
	status := fasthttp.StatusBadGateway
	var coder rpcproxy.StatusCoder
	if errors.As(err, &coder) {
		status = coder.HTTPStatus()
	}

	code := CodeServerError
	var rpcErr *rpcproxy.RPCError
	if errors.As(err, &rpcErr) {
		code = rpcErr.Code
	}

	Write(ctx, status, code, id, err.Error())
}
