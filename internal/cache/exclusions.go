package cache

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/nulpointcorp/rpcproxy/internal/rpcproxy"
)

// ExclusionList decides whether a given chain ID is exempt from TTL-based
// caching (CACHE_EXCLUDE_CHAINS): matched chains always re-probe on every
// Selector.GetRankedList call, regardless of cache freshness. Useful for
// fast-moving testnets where a 1h-stale ranking is actively harmful.
//
// It supports two matching modes:
//   - Exact match: the chain ID must equal the rule exactly.
//   - Regex match: the chain ID's decimal string is tested against a
//     compiled regexp (e.g. to exclude a whole family of test chain IDs).
//
// A nil *ExclusionList is safe to call — MatchesChain always returns false.
type ExclusionList struct {
	exact    map[rpcproxy.ChainId]struct{}
	patterns []*regexp.Regexp
}

// NewExclusionList compiles the given exact chain IDs and regex patterns
// into an ExclusionList. Returns an error if any pattern fails to compile
// so that misconfiguration is caught at startup.
func NewExclusionList(exact []rpcproxy.ChainId, patterns []string) (*ExclusionList, error) {
	el := &ExclusionList{
		exact: make(map[rpcproxy.ChainId]struct{}, len(exact)),
	}

	for _, e := range exact {
		if e != 0 {
			el.exact[e] = struct{}{}
		}
	}

	for _, p := range patterns {
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("cache exclusion: invalid pattern %q: %w", p, err)
		}
		el.patterns = append(el.patterns, re)
	}

	return el, nil
}

// MatchesChain reports whether chainId is excluded from TTL caching.
// Exact rules are checked first (O(1)), then regex patterns in order.
func (el *ExclusionList) MatchesChain(chainId rpcproxy.ChainId) bool {
	if el == nil {
		return false
	}
	if _, ok := el.exact[chainId]; ok {
		return true
	}
	if len(el.patterns) == 0 {
		return false
	}
	s := strconv.FormatUint(chainId, 10)
	for _, re := range el.patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// Len returns the total number of exclusion rules configured.
func (el *ExclusionList) Len() int {
	if el == nil {
		return 0
	}
	return len(el.exact) + len(el.patterns)
}
