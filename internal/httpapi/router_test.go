package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/nulpointcorp/rpcproxy/internal/rpcproxy"
)

type stubSender struct {
	result json.RawMessage
	err    error
	calls  int
}

func (s *stubSender) Send(_ context.Context, _ rpcproxy.ChainId, _ string, _ json.RawMessage) (json.RawMessage, error) {
	s.calls++
	return s.result, s.err
}

func serve(t *testing.T, srv *Server, mgmt *ManagementRoutes) (*http.Client, func()) {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()

	handler := buildHandler(srv, mgmt)

	go func() { _ = fasthttp.Serve(ln, handler) }()

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return ln.Dial()
			},
		},
	}
	return client, func() { ln.Close() }
}

func TestHandleDispatch_Single(t *testing.T) {
	sender := &stubSender{result: json.RawMessage(`"0x1"`)}
	h := NewHandler(sender, nil)
	srv := NewServer(h, nil, nil)

	client, cleanup := serve(t, srv, nil)
	defer cleanup()

	resp, err := client.Post("http://proxy/1", "application/json",
		bytes.NewBufferString(`{"jsonrpc":"2.0","method":"eth_chainId","id":1}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out map[string]any
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v (%s)", err, body)
	}
	if out["result"] != "0x1" {
		t.Fatalf("got %v", out)
	}
}

func TestHandleDispatch_Batch(t *testing.T) {
	sender := &stubSender{result: json.RawMessage(`"0x1"`)}
	h := NewHandler(sender, nil)
	srv := NewServer(h, nil, nil)

	client, cleanup := serve(t, srv, nil)
	defer cleanup()

	batch := `[{"jsonrpc":"2.0","method":"eth_chainId","id":1},{"jsonrpc":"2.0","method":"eth_blockNumber","id":2}]`
	resp, err := client.Post("http://proxy/1", "application/json", bytes.NewBufferString(batch))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out []map[string]any
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v (%s)", err, body)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(out))
	}
	if sender.calls != 2 {
		t.Fatalf("expected 2 dispatch calls, got %d", sender.calls)
	}
}

func TestHandleDispatch_EmptyBatchIsInvalidRequest(t *testing.T) {
	sender := &stubSender{result: json.RawMessage(`"0x1"`)}
	h := NewHandler(sender, nil)
	srv := NewServer(h, nil, nil)

	client, cleanup := serve(t, srv, nil)
	defer cleanup()

	resp, err := client.Post("http://proxy/1", "application/json", bytes.NewBufferString(`[]`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	var out map[string]any
	body, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(body, &out)
	errObj, _ := out["error"].(map[string]any)
	if errObj == nil || errObj["code"].(float64) != -32600 {
		t.Fatalf("expected -32600 invalid request, got %v", out)
	}
}

func TestHandleDispatch_MalformedJSON(t *testing.T) {
	sender := &stubSender{}
	h := NewHandler(sender, nil)
	srv := NewServer(h, nil, nil)

	client, cleanup := serve(t, srv, nil)
	defer cleanup()

	resp, err := client.Post("http://proxy/1", "application/json", bytes.NewBufferString(`{not json`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out map[string]any
	body, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(body, &out)
	errObj, _ := out["error"].(map[string]any)
	if errObj == nil || errObj["code"].(float64) != -32700 {
		t.Fatalf("expected -32700 parse error, got %v", out)
	}
}

func TestHandleDispatch_SendError(t *testing.T) {
	sender := &stubSender{err: &rpcproxy.NoEndpoints{ChainId: 1}}
	h := NewHandler(sender, nil)
	srv := NewServer(h, nil, nil)

	client, cleanup := serve(t, srv, nil)
	defer cleanup()

	resp, err := client.Post("http://proxy/1", "application/json",
		bytes.NewBufferString(`{"jsonrpc":"2.0","method":"eth_chainId","id":1}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out map[string]any
	body, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(body, &out)
	if out["error"] == nil {
		t.Fatalf("expected an error field, got %v", out)
	}
}

func TestCORSPreflight(t *testing.T) {
	sender := &stubSender{}
	h := NewHandler(sender, nil)
	srv := NewServer(h, []string{"*"}, nil)

	client, cleanup := serve(t, srv, nil)
	defer cleanup()

	req, _ := http.NewRequest(http.MethodOptions, "http://proxy/1", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("got %s", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); got != "POST, OPTIONS" {
		t.Fatalf("got %s", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Headers"); got != "Content-Type, Authorization" {
		t.Fatalf("got %s", got)
	}
}

func TestHandleHealth(t *testing.T) {
	h := NewHandler(&stubSender{}, nil)
	srv := NewServer(h, nil, nil)

	client, cleanup := serve(t, srv, nil)
	defer cleanup()

	resp, err := client.Get("http://proxy/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

type stubReadiness struct{ ready bool }

func (s stubReadiness) Ready() bool { return s.ready }

func TestHandleReadiness_Unavailable(t *testing.T) {
	h := NewHandler(&stubSender{}, nil)
	srv := NewServer(h, nil, stubReadiness{ready: false})

	client, cleanup := serve(t, srv, nil)
	defer cleanup()

	resp, err := client.Get("http://proxy/readiness")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

var errBoom = errors.New("boom")

// buildHandler mirrors Server.Start's route table and middleware chain
// without binding a real network listener, so tests can drive it over an
// in-memory connection.
func buildHandler(s *Server, mgmt *ManagementRoutes) fasthttp.RequestHandler {
	return applyMiddleware(routesFor(s, mgmt),
		recovery,
		requestID,
		timing,
		corsHandler(s.corsOrigins),
		securityHeaders,
	)
}

func routesFor(s *Server, mgmt *ManagementRoutes) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		method := string(ctx.Method())

		switch {
		case path == "/health" && method == fasthttp.MethodGet:
			s.handler.HandleHealth(ctx)
		case path == "/readiness" && method == fasthttp.MethodGet:
			HandleReadiness(s.readiness)(ctx)
		case mgmt != nil && mgmt.Metrics != nil && path == "/metrics" && method == fasthttp.MethodGet:
			mgmt.Metrics(ctx)
		case method == fasthttp.MethodOptions:
			// answered by corsHandler before reaching here
		case method == fasthttp.MethodPost:
			ctx.SetUserValue("chainId", path[1:])
			s.handler.HandleDispatch(ctx)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}
}
