package dispatcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nulpointcorp/rpcproxy/internal/rpcclient"
	"github.com/nulpointcorp/rpcproxy/internal/rpcproxy"
)

type stubLister struct {
	urls []rpcproxy.URL
}

func (s stubLister) GetRankedList(_ context.Context, _ rpcproxy.ChainId) []rpcproxy.URL {
	return s.urls
}

func rpcServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestSend_HappyPath(t *testing.T) {
	srv := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":"0x1"}`))
	})

	d := New(stubLister{urls: []rpcproxy.URL{srv.URL}}, rpcclient.New(nil), time.Second, nil)
	result, err := d.Send(context.Background(), 1, "eth_chainId", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != `"0x1"` {
		t.Fatalf("got %s", result)
	}
}

func TestSend_RoundRobinRotatesStart(t *testing.T) {
	var hitsA, hitsB int32
	a := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		hitsA++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":"a"}`))
	})
	b := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		hitsB++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":"b"}`))
	})

	d := New(stubLister{urls: []rpcproxy.URL{a.URL, b.URL}}, rpcclient.New(nil), time.Second, nil)

	var results []string
	for i := 0; i < 2; i++ {
		result, err := d.Send(context.Background(), 7, "eth_chainId", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var v string
		_ = json.Unmarshal(result, &v)
		results = append(results, v)
	}

	if results[0] == results[1] {
		t.Fatalf("expected round-robin to alternate start index, got %v", results)
	}
	if hitsA != 1 || hitsB != 1 {
		t.Fatalf("expected exactly one hit per endpoint across 2 calls, got a=%d b=%d", hitsA, hitsB)
	}
}

func TestSend_FallsBackOnPrimaryFailure(t *testing.T) {
	dead := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	alive := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":"ok"}`))
	})

	d := New(stubLister{urls: []rpcproxy.URL{dead.URL, alive.URL}}, rpcclient.New(nil), time.Second, nil)
	result, err := d.Send(context.Background(), 1, "eth_chainId", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v string
	_ = json.Unmarshal(result, &v)
	if v != "ok" {
		t.Fatalf("expected fallback to the alive endpoint, got %s", v)
	}
}

func TestSend_AllEndpointsFail(t *testing.T) {
	dead1 := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	dead2 := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	d := New(stubLister{urls: []rpcproxy.URL{dead1.URL, dead2.URL}}, rpcclient.New(nil), time.Second, nil)
	_, err := d.Send(context.Background(), 1, "eth_chainId", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var failed *rpcproxy.AllEndpointsFailed
	e, ok := err.(*rpcproxy.AllEndpointsFailed)
	if !ok {
		t.Fatalf("expected *rpcproxy.AllEndpointsFailed, got %T: %v", err, err)
	}
	failed = e
	if failed.ChainId != 1 {
		t.Fatalf("got chain id %d", failed.ChainId)
	}
}

func TestSend_NoEndpoints(t *testing.T) {
	d := New(stubLister{urls: nil}, rpcclient.New(nil), time.Second, nil)
	_, err := d.Send(context.Background(), 42, "eth_chainId", nil)
	if _, ok := err.(*rpcproxy.NoEndpoints); !ok {
		t.Fatalf("expected *rpcproxy.NoEndpoints, got %T: %v", err, err)
	}
}
