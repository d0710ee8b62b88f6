// Package res implements non-blocking admission control against a
// single, global budget of "gimme" tickets. Callers that are holding a
// lock that must not sleep (an address-space mutex during a page-table
// walk, for instance) call Resadd_noblock before doing further
// allocation-shaped work; if the budget is exhausted they back out and
// return -defs.ENOHEAP rather than block or allocate unboundedly.
package res

import (
	"sync/atomic"

	"kernel/bounds"
)

// defaultBudget bounds the number of outstanding "gimme" tickets handed
// out system-wide. It is deliberately small: the budget exists to cap
// pathological cases (e.g. a user iovec with thousands of entries), not
// to model real memory pressure, which is the page allocator's job.
const defaultBudget = 1 << 20

var outstanding int64

// Budget is the configured ticket budget; tests may lower it to
// exercise the exhausted path without allocating a million buffers.
var Budget int64 = defaultBudget

// hits counts admission denials per call site, for diagnostics.
var hits [64]int64

// Resadd_noblock attempts to reserve one ticket for the named call
// site. It never blocks: on exhaustion it returns false immediately.
func Resadd_noblock(b bounds.Bound_t) bool {
	if atomic.AddInt64(&outstanding, 1) > Budget {
		atomic.AddInt64(&outstanding, -1)
		if int(b) < len(hits) {
			atomic.AddInt64(&hits[b], 1)
		}
		return false
	}
	return true
}

// Resdel releases a ticket reserved by Resadd_noblock. Most callers
// reserve and release within the same function and never need to
// track which token they used; release is therefore untyped.
func Resdel() {
	atomic.AddInt64(&outstanding, -1)
}

// Outstanding reports the number of unreleased tickets, for tests and
// diagnostics.
func Outstanding() int64 {
	return atomic.LoadInt64(&outstanding)
}

// Hits reports how many times admission was denied for b.
func Hits(b bounds.Bound_t) int64 {
	if int(b) >= len(hits) {
		return 0
	}
	return atomic.LoadInt64(&hits[b])
}
