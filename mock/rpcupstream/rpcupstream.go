// Package rpcupstream implements a lightweight, configurable mock EVM
// JSON-RPC HTTP server for exercising the Prober and Dispatcher in tests
// and local load runs without a real node.
//
// Adapted from the teacher's mock/providers/common.go + the per-provider
// handler shape (newAnthropicHandler etc.) — same
// Config/applyLatency/writeJSON/mux-per-instance pattern, generalized from
// simulated LLM completions to simulated eth_getCode/eth_syncing/arbitrary
// JSON-RPC responses.
package rpcupstream

import (
	"encoding/json"
	"net/http"
	"time"
)

// Outcome selects the behavior an Upstream simulates for every request.
type Outcome string

const (
	// OutcomeOK answers eth_getCode with mockBytecodePrefix and
	// eth_syncing with false; any other method echoes Result.
	OutcomeOK Outcome = "ok"
	// OutcomeSyncing answers eth_syncing with a non-false value.
	OutcomeSyncing Outcome = "syncing"
	// OutcomeWrongBytecode answers eth_getCode with "0x" (no contract).
	OutcomeWrongBytecode Outcome = "wrong_bytecode"
	// OutcomeTimeout never responds within the test's deadline.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeHTTPError answers every request with HTTP 500.
	OutcomeHTTPError Outcome = "http_error"
	// OutcomeRPCError answers every request with a JSON-RPC error object.
	OutcomeRPCError Outcome = "rpc_error"
)

// mockBytecodePrefix mirrors the Permit2 bytecode prefix the real Prober
// checks against (internal/prober/bytecode.go), so a Prober run against an
// OutcomeOK Upstream classifies it as "ok" rather than "wrong_bytecode".
const mockBytecodePrefix = "0x6040608081526004908136101561001557600080fd5b600090813560e01c9081630d58b1db14" +
	"615a3c5750806302de5c1f14615927578063040ff0b71461570e5780630847cd5c1461542057806308a1c41f1461514f578063170e01261461" +
	"4dc65780631d0a05ae14614a0b578063236c4675146147965780632b67b5701461454e5780632dbd4e1a146142ea578063304f0de8146140" +
	"fd5780634038c65e14613e97578063444c1c7b14613b65578063502dcbda146138fc5780635876f4341461369e57806365f56de41461345e" +
	"578063695c47441461313c57806379bed21b14612eb9578063829e694f14612c73578063942d2f09146129fc5780639b40245d146127a857"

// Config configures one Upstream instance.
type Config struct {
	Outcome     Outcome
	LatencyMS   int
	Result      any // used verbatim for methods other than eth_getCode/eth_syncing under OutcomeOK
	HoldTimeout time.Duration // response delay for OutcomeTimeout; should exceed the caller's deadline
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// NewHandler returns an http.Handler simulating one upstream node behaving
// per cfg for every request, regardless of path.
func NewHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		applyLatency(cfg)

		if cfg.Outcome == OutcomeTimeout {
			hold := cfg.HoldTimeout
			if hold <= 0 {
				hold = 30 * time.Second
			}
			select {
			case <-r.Context().Done():
			case <-time.After(hold):
			}
			return
		}

		if cfg.Outcome == OutcomeHTTPError {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: -32700, Message: "parse error"}})
			return
		}

		if cfg.Outcome == OutcomeRPCError {
			writeJSON(w, http.StatusOK, rpcResponse{
				JSONRPC: "2.0", ID: req.ID,
				Error: &rpcError{Code: -32601, Message: "method not found"},
			})
			return
		}

		writeJSON(w, http.StatusOK, respond(req, cfg))
	})
	return mux
}

func respond(req rpcRequest, cfg Config) rpcResponse {
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "eth_getCode":
		switch cfg.Outcome {
		case OutcomeWrongBytecode:
			resp.Result = "0x"
		default:
			resp.Result = mockBytecodePrefix
		}

	case "eth_syncing":
		if cfg.Outcome == OutcomeSyncing {
			resp.Result = map[string]any{"startingBlock": "0x0", "currentBlock": "0x1", "highestBlock": "0x100"}
		} else {
			resp.Result = false
		}

	default:
		if cfg.Result != nil {
			resp.Result = cfg.Result
		} else {
			resp.Result = "0x64"
		}
	}

	return resp
}

func applyLatency(cfg Config) {
	if cfg.LatencyMS > 0 {
		time.Sleep(time.Duration(cfg.LatencyMS) * time.Millisecond)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
