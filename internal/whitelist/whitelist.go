// Package whitelist holds the curated, read-only chainId -> []URL mapping
// consulted by the rest of the proxy. Construction is the only place I/O
// happens; the resulting Provider is immutable and safe for concurrent use.
package whitelist

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/nulpointcorp/rpcproxy/internal/rpcproxy"
)

// RawWhitelist is the on-disk/config shape: { "rpcs": { "<chainId>": [url,…] } }.
type RawWhitelist struct {
	Rpcs map[string][]string `json:"rpcs"`
}

// Provider answers UrlsFor(chainId) from an immutable, filtered mapping.
type Provider struct {
	byChain map[rpcproxy.ChainId][]rpcproxy.URL
	order   []rpcproxy.ChainId
}

// NewProvider filters each URL list to entries starting with "https://"
// that contain no unresolved "${" placeholder, then freezes the result.
func NewProvider(data RawWhitelist) *Provider {
	p := &Provider{byChain: make(map[rpcproxy.ChainId][]rpcproxy.URL)}
	for key, urls := range data.Rpcs {
		chainID, err := strconv.ParseUint(key, 10, 64)
		if err != nil || chainID == 0 {
			continue
		}
		filtered := make([]rpcproxy.URL, 0, len(urls))
		for _, u := range urls {
			if isUsable(u) {
				filtered = append(filtered, u)
			}
		}
		p.byChain[chainID] = filtered
		p.order = append(p.order, chainID)
	}
	return p
}

func isUsable(u string) bool {
	return strings.HasPrefix(u, "https://") && !strings.Contains(u, "${")
}

// UrlsFor returns the (possibly empty) URL list for chainId, in insertion
// order. Returning empty is not an error.
func (p *Provider) UrlsFor(chainId rpcproxy.ChainId) []rpcproxy.URL {
	return p.byChain[chainId]
}

// ChainIds lists all known chain IDs. The order is the map iteration order
// of the raw whitelist at construction, so it is not deterministic.
func (p *Provider) ChainIds() []rpcproxy.ChainId {
	out := make([]rpcproxy.ChainId, len(p.order))
	copy(out, p.order)
	return out
}

// LoadFile reads and decodes a whitelist JSON document from path. Unknown
// fields are ignored by the default json.Unmarshal behavior.
func LoadFile(path string) (RawWhitelist, error) {
	var raw RawWhitelist
	data, err := os.ReadFile(path)
	if err != nil {
		return raw, fmt.Errorf("whitelist: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return raw, fmt.Errorf("whitelist: parse %s: %w", path, err)
	}
	return raw, nil
}
