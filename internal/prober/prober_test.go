package prober

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nulpointcorp/rpcproxy/internal/rpcclient"
	"github.com/nulpointcorp/rpcproxy/internal/rpcproxy"
	"github.com/nulpointcorp/rpcproxy/mock/rpcupstream"
)

func newServer(t *testing.T, cfg rpcupstream.Config) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(rpcupstream.NewHandler(cfg))
	t.Cleanup(srv.Close)
	return srv
}

func probeOne(t *testing.T, p *Prober, url string) rpcproxy.ProbeResult {
	t.Helper()
	results := p.Probe(context.Background(), 1, []rpcproxy.URL{url})
	r, ok := results[url]
	if !ok {
		t.Fatalf("no result for %s", url)
	}
	return r
}

func TestProbe_OK(t *testing.T) {
	srv := newServer(t, rpcupstream.Config{Outcome: rpcupstream.OutcomeOK})
	p := New(rpcclient.New(nil), time.Second)
	r := probeOne(t, p, srv.URL)
	if r.Status != rpcproxy.StatusOK {
		t.Fatalf("got status %s (%s)", r.Status, r.ErrorText)
	}
	if r.LatencyMs < 0 || r.LatencyMs == rpcproxy.InfLatency {
		t.Fatalf("expected finite latency, got %v", r.LatencyMs)
	}
}

func TestProbe_Syncing(t *testing.T) {
	srv := newServer(t, rpcupstream.Config{Outcome: rpcupstream.OutcomeSyncing})
	p := New(rpcclient.New(nil), time.Second)
	r := probeOne(t, p, srv.URL)
	if r.Status != rpcproxy.StatusSyncing {
		t.Fatalf("got status %s", r.Status)
	}
}

func TestProbe_WrongBytecode(t *testing.T) {
	srv := newServer(t, rpcupstream.Config{Outcome: rpcupstream.OutcomeWrongBytecode})
	p := New(rpcclient.New(nil), time.Second)
	r := probeOne(t, p, srv.URL)
	if r.Status != rpcproxy.StatusWrongBytecode {
		t.Fatalf("got status %s", r.Status)
	}
}

func TestProbe_HTTPError(t *testing.T) {
	srv := newServer(t, rpcupstream.Config{Outcome: rpcupstream.OutcomeHTTPError})
	p := New(rpcclient.New(nil), time.Second)
	r := probeOne(t, p, srv.URL)
	if r.Status != rpcproxy.StatusHTTPError {
		t.Fatalf("got status %s", r.Status)
	}
	if r.LatencyMs != rpcproxy.InfLatency {
		t.Fatalf("expected infinite latency, got %v", r.LatencyMs)
	}
}

func TestProbe_RPCError(t *testing.T) {
	srv := newServer(t, rpcupstream.Config{Outcome: rpcupstream.OutcomeRPCError})
	p := New(rpcclient.New(nil), time.Second)
	r := probeOne(t, p, srv.URL)
	if r.Status != rpcproxy.StatusRPCError {
		t.Fatalf("got status %s", r.Status)
	}
}

func TestProbe_Timeout(t *testing.T) {
	srv := newServer(t, rpcupstream.Config{Outcome: rpcupstream.OutcomeTimeout, HoldTimeout: 2 * time.Second})
	p := New(rpcclient.New(nil), 30*time.Millisecond)
	r := probeOne(t, p, srv.URL)
	if r.Status != rpcproxy.StatusTimeout {
		t.Fatalf("got status %s", r.Status)
	}
	if r.LatencyMs != rpcproxy.InfLatency {
		t.Fatalf("expected infinite latency, got %v", r.LatencyMs)
	}
}

func TestProbe_NetworkError(t *testing.T) {
	p := New(rpcclient.New(nil), time.Second)
	r := probeOne(t, p, "http://127.0.0.1:1")
	if r.Status != rpcproxy.StatusNetworkError {
		t.Fatalf("got status %s", r.Status)
	}
}

func TestProbe_Concurrent_IndependentFailures(t *testing.T) {
	ok := newServer(t, rpcupstream.Config{Outcome: rpcupstream.OutcomeOK})
	bad := newServer(t, rpcupstream.Config{Outcome: rpcupstream.OutcomeHTTPError})

	p := New(rpcclient.New(nil), time.Second)
	results := p.Probe(context.Background(), 1, []rpcproxy.URL{ok.URL, bad.URL})

	if results[ok.URL].Status != rpcproxy.StatusOK {
		t.Fatalf("expected ok endpoint unaffected, got %s", results[ok.URL].Status)
	}
	if results[bad.URL].Status != rpcproxy.StatusHTTPError {
		t.Fatalf("expected bad endpoint to fail independently, got %s", results[bad.URL].Status)
	}
}
