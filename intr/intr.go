// Package intr implements the interrupt fan-out (component H): a
// growing per-IRQ vector of (handler, opaque) pairs, invoked in
// registration order under that IRQ's own spinlock, with an
// end-of-interrupt issued afterward. Grounded on
// original_source/kernel/intr.c's irq_state/intr_add/intr_runall.
package intr

import (
	"sync"

	"kernel/arch"
	"kernel/ksync"
)

// Handler is one interrupt consumer: opaque is whatever context it
// registered with.
type Handler func(opaque interface{})

type registration struct {
	handler Handler
	opaque  interface{}
}

type irqState struct {
	lock     *ksync.Spinlock
	handlers []registration
}

// Dispatcher fans every hardware IRQ out to its registered handlers.
// One Dispatcher per arch.Port, installed at boot as the single hook
// the port's ISR trampoline calls.
type Dispatcher struct {
	port arch.Port
	mu   sync.Mutex
	irqs map[int]*irqState
}

// New returns an empty dispatcher bound to port.
func New(port arch.Port) *Dispatcher {
	return &Dispatcher{port: port, irqs: make(map[int]*irqState)}
}

// Add registers handler to run whenever irq fires, appended after any
// handler already registered for that IRQ (original_source's
// intr_add).
func (d *Dispatcher) Add(irq int, handler Handler, opaque interface{}) {
	st := d.stateFor(irq)
	st.lock.Lock()
	st.handlers = append(st.handlers, registration{handler, opaque})
	st.lock.Unlock()
}

func (d *Dispatcher) stateFor(irq int) *irqState {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.irqs[irq]
	if !ok {
		st = &irqState{lock: ksync.NewSpinlock(d.port)}
		d.irqs[irq] = st
	}
	return st
}

// Dispatch is the single hook the hardware ISR trampoline calls for
// irq: every registered handler runs in order under the IRQ's own
// spinlock, and an end-of-interrupt is issued once they have all run
// (spec §4.H: "invokes each registered handler in order and issues
// end-of-interrupt afterwards").
func (d *Dispatcher) Dispatch(irq int) {
	d.mu.Lock()
	st, ok := d.irqs[irq]
	d.mu.Unlock()
	if !ok {
		d.port.EndOfInterrupt(irq)
		return
	}
	st.lock.Lock()
	for _, r := range st.handlers {
		r.handler(r.opaque)
	}
	st.lock.Unlock()
	d.port.EndOfInterrupt(irq)
}

// Vector is one MSI interrupt vector, allocated out of the fixed pool
// a real chipset reserves for message-signalled interrupts.
type Vector uint

// Vectors tracks the fixed pool of MSI vectors available for dynamic
// assignment to devices that request one at attach time (adapted from
// msi.go's Msivecs_t/Msi_alloc/Msi_free: same fixed 56-63 pool, but
// instance-scoped to a Dispatcher rather than a package-level global,
// and routed through the port's panic chokepoint instead of a bare
// panic so a reference port can observe exhaustion/double-free in
// tests rather than killing the test binary).
type Vectors struct {
	port  arch.Port
	mu    sync.Mutex
	avail map[Vector]bool
}

// NewVectors returns the standard 8-entry MSI vector pool (56-63).
func NewVectors(port arch.Port) *Vectors {
	v := &Vectors{port: port, avail: make(map[Vector]bool, 8)}
	for i := Vector(56); i <= 63; i++ {
		v.avail[i] = true
	}
	return v
}

// Alloc reserves and returns one available vector. It panics via the
// port's chokepoint if the pool is exhausted.
func (v *Vectors) Alloc() Vector {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.avail {
		delete(v.avail, i)
		return i
	}
	v.port.Panic("intr: no more MSI vectors")
	return 0
}

// Free returns vector to the pool. It panics via the port's chokepoint
// on a double free.
func (v *Vectors) Free(vector Vector) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.avail[vector] {
		v.port.Panic("intr: double free of MSI vector %d", vector)
		return
	}
	v.avail[vector] = true
}
