package vm

import (
	"math/rand"
	"sync"

	"kernel/mem"
)

// ReverseMapCap is K: the number of reverse mappings a vmpage tracks
// before it must evict an existing slot (spec §4.C: "Reverse mappings
// are capped at K (default 3)").
const ReverseMapCap = 3

// revmap is one (address space, virtual address) a vmpage is known to
// be mapped into.
type revmap struct {
	as *AddrSpace
	va uintptr
}

// Vmpage is a tracked physical frame: mapping metadata plus COW state
// shared by every segment whose dirty object owns a reference.
type Vmpage struct {
	mu     sync.Mutex
	Frame  mem.Pa_t
	copies int // >0 means further writers must obtain a private copy
	rev    [ReverseMapCap]revmap
	nrev   int
}

// NewVmpage wraps an already-allocated frame.
func NewVmpage(frame mem.Pa_t) *Vmpage {
	return &Vmpage{Frame: frame}
}

// Copies reports the current COW share count.
func (p *Vmpage) Copies() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.copies
}

// trackMapping records that as/va now map this page, evicting a
// reverse-mapping slot under the rule spec §4.C gives: reuse a slot
// whose mapping is no longer live, else evict a pseudo-random victim
// and unmap it first.
func (p *Vmpage) trackMapping(mgr *Manager, as *AddrSpace, va uintptr) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < p.nrev; i++ {
		if p.rev[i].as == as && p.rev[i].va == va {
			return
		}
	}
	if p.nrev < ReverseMapCap {
		p.rev[p.nrev] = revmap{as, va}
		p.nrev++
		return
	}

	for i := 0; i < ReverseMapCap; i++ {
		r := p.rev[i]
		if !mgr.IsMapped(r.as, r.va) {
			p.rev[i] = revmap{as, va}
			return
		}
	}
	victim := rand.Intn(ReverseMapCap)
	mgr.Unmap(p.rev[victim].as, p.rev[victim].va)
	p.rev[victim] = revmap{as, va}
}

// putCopy increments the share count and marks every live reverse
// mapping read-only, per spec §4.C's vmpage_put_copy: once a page is
// shared, none of its existing mappings may keep writing straight
// through the frame out from under the new sharer.
func (p *Vmpage) putCopy(mgr *Manager) *Vmpage {
	p.mu.Lock()
	p.copies++
	rev := p.rev
	nrev := p.nrev
	frame := p.Frame
	p.mu.Unlock()

	for i := 0; i < nrev; i++ {
		r := rev[i]
		if mgr.IsMapped(r.as, r.va) && mgr.IsWriteable(r.as, r.va) {
			mgr.Map(r.as, r.va, frame, false, mgr.IsUser(r.as, r.va))
		}
	}
	return p
}

// getCopy allocates a fresh frame, copies the page content through
// the direct map (the "reserved scratch window" spec §4.C describes),
// decrements the share count, and returns a new vmpage owning the
// copy.
func getCopy(pages mem.Page_i, src *Vmpage) (*Vmpage, bool) {
	frame, ok := pages.AllocZero()
	if !ok {
		return nil, false
	}
	dst := pages.Dmap(frame)
	srcpg := pages.Dmap(src.Frame)
	*dst = *srcpg

	src.mu.Lock()
	if src.copies > 0 {
		src.copies--
	}
	src.mu.Unlock()

	return NewVmpage(frame), true
}
