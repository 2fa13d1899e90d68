package dispatcher

import (
	"sync"
	"sync/atomic"

	"github.com/nulpointcorp/rpcproxy/internal/rpcproxy"
)

// roundRobin is the process-local, per-chain rotating start index. It is
// never persisted — a process restart resets every chain back to 0.
type roundRobin struct {
	counters sync.Map // rpcproxy.ChainId -> *uint64
}

// next atomically advances chainId's counter and returns the start index
// to use for this call, in [0, n). Exactly one call to next advances the
// counter per Send, before the first attempt, so concurrent callers land
// on distinct starting positions whenever n > 1.
func (r *roundRobin) next(chainId rpcproxy.ChainId, n int) int {
	if n <= 0 {
		return 0
	}
	v, _ := r.counters.LoadOrStore(chainId, new(uint64))
	counter := v.(*uint64)
	i := atomic.AddUint64(counter, 1) - 1
	return int(i % uint64(n))
}
