package cache

import (
	"context"
	"testing"
	"time"

	"github.com/nulpointcorp/rpcproxy/internal/rpcproxy"
)

func TestChainCache_PutThenGetFresh(t *testing.T) {
	mem := NewMemoryCache(context.Background())
	defer mem.Close()
	cc := NewChainCache(mem, "", time.Hour, false)

	url := rpcproxy.URL("https://eth.example.com")
	probeMap := map[rpcproxy.URL]rpcproxy.ProbeResult{
		url: {URL: url, Status: rpcproxy.StatusOK, LatencyMs: 10},
	}
	cc.Put(context.Background(), 1, probeMap, &url)

	entry := cc.GetFresh(context.Background(), 1)
	if entry == nil {
		t.Fatal("expected a fresh entry")
	}
	if *entry.FastestURL != url {
		t.Fatalf("got %v", *entry.FastestURL)
	}
}

func TestChainCache_GetFresh_StaleReturnsNil(t *testing.T) {
	mem := NewMemoryCache(context.Background())
	defer mem.Close()
	cc := NewChainCache(mem, "", time.Millisecond, false)

	url := rpcproxy.URL("https://eth.example.com")
	cc.Put(context.Background(), 1, map[rpcproxy.URL]rpcproxy.ProbeResult{
		url: {URL: url, Status: rpcproxy.StatusOK, LatencyMs: 10},
	}, &url)

	time.Sleep(5 * time.Millisecond)

	if entry := cc.GetFresh(context.Background(), 1); entry != nil {
		t.Fatalf("expected stale entry to be treated as absent, got %+v", entry)
	}
	// GetRaw still returns it regardless of freshness.
	if entry := cc.GetRaw(context.Background(), 1); entry == nil {
		t.Fatal("expected GetRaw to ignore freshness")
	}
}

func TestChainCache_WholeRootHoldsMultipleChains(t *testing.T) {
	mem := NewMemoryCache(context.Background())
	defer mem.Close()
	cc := NewChainCache(mem, "", time.Hour, false)

	url1 := rpcproxy.URL("https://chain1.example.com")
	url100 := rpcproxy.URL("https://chain100.example.com")
	cc.Put(context.Background(), 1, map[rpcproxy.URL]rpcproxy.ProbeResult{
		url1: {URL: url1, Status: rpcproxy.StatusOK},
	}, &url1)
	cc.Put(context.Background(), 100, map[rpcproxy.URL]rpcproxy.ProbeResult{
		url100: {URL: url100, Status: rpcproxy.StatusOK},
	}, &url100)

	if e := cc.GetRaw(context.Background(), 1); e == nil || *e.FastestURL != url1 {
		t.Fatalf("chain 1 entry missing or wrong: %+v", e)
	}
	if e := cc.GetRaw(context.Background(), 100); e == nil || *e.FastestURL != url100 {
		t.Fatalf("chain 100 entry missing or wrong: %+v", e)
	}
}

func TestChainCache_Disabled_AlwaysMisses(t *testing.T) {
	mem := NewMemoryCache(context.Background())
	defer mem.Close()
	cc := NewChainCache(mem, "", time.Hour, true)

	url := rpcproxy.URL("https://eth.example.com")
	cc.Put(context.Background(), 1, map[rpcproxy.URL]rpcproxy.ProbeResult{
		url: {URL: url, Status: rpcproxy.StatusOK},
	}, &url)

	if entry := cc.GetRaw(context.Background(), 1); entry != nil {
		t.Fatalf("expected disabled cache to never store, got %+v", entry)
	}
}

func TestChainCache_ExcludedChainAlwaysMisses(t *testing.T) {
	mem := NewMemoryCache(context.Background())
	defer mem.Close()
	cc := NewChainCache(mem, "", time.Hour, false)

	el, err := NewExclusionList([]rpcproxy.ChainId{1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	cc.SetExclusions(el)

	url := rpcproxy.URL("https://eth.example.com")
	cc.Put(context.Background(), 1, map[rpcproxy.URL]rpcproxy.ProbeResult{
		url: {URL: url, Status: rpcproxy.StatusOK},
	}, &url)

	if entry := cc.GetRaw(context.Background(), 1); entry != nil {
		t.Fatalf("expected excluded chain to never cache, got %+v", entry)
	}

	// A non-excluded chain is unaffected.
	cc.Put(context.Background(), 100, map[rpcproxy.URL]rpcproxy.ProbeResult{
		url: {URL: url, Status: rpcproxy.StatusOK},
	}, &url)
	if entry := cc.GetRaw(context.Background(), 100); entry == nil {
		t.Fatal("expected chain 100 to cache normally")
	}
}
