// Package oommsg carries out-of-memory diagnostics from the physical
// page allocator (mem.Physmem_t) to anything observing OomCh, before
// the allocator's caller takes the hard-panic path spec §4.A and §7
// require. There is no reclaim path on the other end of OomCh in this
// design (see spec §9's note that the slab GC is an implementation
// mechanism, not a contract): the channel exists purely so a panic
// that is about to happen can be logged and, in tests, observed
// without needing to actually halt the process.
package oommsg

// Oommsg_t is sent on OomCh when memory is exhausted.
type Oommsg_t struct {
	Need int
}

// OomCh is notified when the allocator is about to fail an
// allocation. Sends are non-blocking: a boot with nothing listening
// must not wedge the allocator on the way to its panic.
var OomCh = make(chan Oommsg_t, 16)

// Notify reports an exhaustion event. Safe to call with no receiver.
func Notify(m Oommsg_t) {
	select {
	case OomCh <- m:
	default:
	}
}
