// Package rpcclient is the single place that speaks raw JSON-RPC 2.0 over
// HTTP to upstream nodes. Both the prober (eth_getCode/eth_syncing) and the
// dispatcher (arbitrary method calls) go through it.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nulpointcorp/rpcproxy/internal/rpcproxy"
)

// Client issues JSON-RPC 2.0 POST requests with a shared *http.Client.
type Client struct {
	http *http.Client
}

// New builds a Client. httpClient may be shared across probers and
// dispatchers; per-call deadlines are applied via context, not the
// client's own Timeout field.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{http: httpClient}
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      string          `json:"id"`
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcErrorBody   `json:"error"`
}

// Call issues a single JSON-RPC 2.0 call to url and returns the raw
// "result" value. id is the caller-supplied request id (the prober and
// dispatcher each construct their own per spec.md's id format).
//
// Classification, in priority order: context deadline/cancellation ⇒
// context.DeadlineExceeded/context.Canceled; non-2xx HTTP ⇒ *rpcproxy.HTTPError;
// transport failure ⇒ *rpcproxy.NetworkError; a response "error" object ⇒
// *rpcproxy.RPCError; neither "result" nor "error" present ⇒
// *rpcproxy.MalformedResponse.
func (c *Client) Call(ctx context.Context, url, method string, params json.RawMessage, id string) (json.RawMessage, error) {
	if params == nil {
		params = json.RawMessage("[]")
	}

	body, err := json.Marshal(request{JSONRPC: "2.0", Method: method, Params: params, ID: id})
	if err != nil {
		return nil, fmt.Errorf("rpcclient: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rpcclient: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &rpcproxy.NetworkError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &rpcproxy.HTTPError{Status: resp.StatusCode}
	}

	var rb response
	if err := json.NewDecoder(resp.Body).Decode(&rb); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &rpcproxy.MalformedResponse{Cause: err}
	}

	if rb.Error != nil {
		return nil, &rpcproxy.RPCError{Code: rb.Error.Code, Message: rb.Error.Message}
	}
	if rb.Result == nil {
		return nil, &rpcproxy.MalformedResponse{}
	}
	return rb.Result, nil
}

// IsTimeout reports whether err represents a deadline/cancellation outcome.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
