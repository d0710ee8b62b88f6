// Package vm implements the address-space manager (component B) and
// the VM object/segment/vmpage layer (component C) on top of the
// physical page allocator (package mem) and the architecture port.
package vm

import (
	"sync"

	"kernel/arch"
	"kernel/mem"
)

// pte_t is one simulated page-table entry: a physical frame with the
// mem.PTE_* flag bits, the same on-the-wire layout the reference port
// documents (spec §6).
type pte_t = mem.Pa_t

// Pmap_t is a simulated hardware page table: a sparse map from
// page-aligned virtual address to PTE. A real port backs this with an
// actual multi-level page table reachable by the CPU; the map gives
// the portable core the same map/walk/lookup semantics without
// depending on any fixed number of translation levels.
type Pmap_t map[uintptr]pte_t

// AddrSpace is one process address space: a pmap plus the bookkeeping
// the fault handler and segment layer need. It does not itself hold a
// hardware slot; Manager assigns one on demand.
type AddrSpace struct {
	mu   sync.Mutex
	ID   int
	pmap Pmap_t

	segs *segList

	asidSlot int // -1 when not resident in the hardware pool
}

func newAddrSpace(id int) *AddrSpace {
	return &AddrSpace{
		ID:       id,
		pmap:     make(Pmap_t),
		segs:     newSegList(),
		asidSlot: -1,
	}
}

// Lock/Unlock expose the pmap mutex outside the package (segment.go
// takes as.mu directly), matching the teacher's Vm_t embedding a single
// lock over pmap, vmregion and the fault path (spec §5: "the
// address-space lock serializes page-table edits and segment lookup
// for one process").
func (as *AddrSpace) Lock()   { as.mu.Lock() }
func (as *AddrSpace) Unlock() { as.mu.Unlock() }

// Manager owns a small fixed pool of hardware page-table slots tagged
// by ASID, per spec §4.B. Every kernel-window entry is mirrored into
// every pool slot at install time and again whenever a slot is
// recycled to a different address space, so no address space ever
// loses kernel mappings it relies on mid-flight.
type Manager struct {
	mu            sync.Mutex
	port          arch.Port
	slots         []*AddrSpace // nil where the slot is free
	lru           []int        // slot indices, front = least recently used
	kernelEntries Pmap_t
	nextID        int
	rootOf        func(as *AddrSpace) uintptr
}

// NewManager constructs a manager with nslots hardware ASID slots.
// rootOf computes the value SetActiveRoot should load for an address
// space; tests may pass a trivial identity function since RefPort
// records whatever is given it.
func NewManager(port arch.Port, nslots int, rootOf func(as *AddrSpace) uintptr) *Manager {
	if nslots <= 0 {
		panic("vm: manager needs at least one ASID slot")
	}
	m := &Manager{
		port:          port,
		slots:         make([]*AddrSpace, nslots),
		kernelEntries: make(Pmap_t),
		rootOf:        rootOf,
	}
	for i := 0; i < nslots; i++ {
		m.lru = append(m.lru, i)
	}
	return m
}

// NewAddrSpace allocates a fresh, ASID-less address space. A caller
// must SetASID before mapping into it.
func (m *Manager) NewAddrSpace() *AddrSpace {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.mu.Unlock()
	return newAddrSpace(id)
}

// MirrorKernelEntry installs a kernel-window mapping into every
// resident slot and records it so future slot assignments inherit it
// too (spec §4.B: "all kernel-window directory entries are mirrored
// into every pool slot").
func (m *Manager) MirrorKernelEntry(va uintptr, pte pte_t) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kernelEntries[va] = pte
	for _, as := range m.slots {
		if as == nil {
			continue
		}
		as.mu.Lock()
		as.pmap[va] = pte
		as.mu.Unlock()
	}
}

// SetASID assigns as a hardware slot, evicting the least-recently-used
// resident address space if every slot is occupied. Safe to call
// again on an already-resident address space (a no-op touch of LRU
// order).
func (m *Manager) SetASID(as *AddrSpace) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if as.asidSlot >= 0 {
		m.touch(as.asidSlot)
		return
	}
	slot := m.pickSlot()
	if victim := m.slots[slot]; victim != nil {
		victim.asidSlot = -1
	}
	m.slots[slot] = as
	as.asidSlot = slot
	m.touch(slot)

	as.mu.Lock()
	for va, pte := range m.kernelEntries {
		as.pmap[va] = pte
	}
	as.mu.Unlock()

	if m.rootOf != nil {
		m.port.SetActiveRoot(slot, m.rootOf(as))
	}
}

// ReleaseASID evicts as from the hardware pool immediately, freeing
// its slot for reuse without waiting for LRU pressure. Used when an
// address space is being torn down.
func (m *Manager) ReleaseASID(as *AddrSpace) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if as.asidSlot < 0 {
		return
	}
	m.slots[as.asidSlot] = nil
	as.asidSlot = -1
}

// pickSlot returns the index of the least-recently-used slot,
// preferring an empty one, and moves it to the back of the LRU order.
func (m *Manager) pickSlot() int {
	for i, idx := range m.lru {
		if m.slots[idx] == nil {
			m.lru = append(m.lru[:i], m.lru[i+1:]...)
			m.lru = append(m.lru, idx)
			return idx
		}
	}
	idx := m.lru[0]
	m.lru = append(m.lru[1:], idx)
	return idx
}

func (m *Manager) touch(slot int) {
	for i, idx := range m.lru {
		if idx == slot {
			m.lru = append(m.lru[:i], m.lru[i+1:]...)
			break
		}
	}
	m.lru = append(m.lru, slot)
}

// Map installs a mapping for va in as, with rw/user governing
// PTE_W/PTE_U, and invalidates any stale local TLB entry for va (spec
// §4.B: "any mapping update performs a local TLB invalidation for that
// virtual address").
func (m *Manager) Map(as *AddrSpace, va uintptr, frame mem.Pa_t, rw, user bool) {
	perms := mem.PTE_P
	if rw {
		perms |= mem.PTE_W
	}
	if user {
		perms |= mem.PTE_U
	}
	as.mu.Lock()
	as.pmap[pageAlign(va)] = (frame &^ mem.PGOFFSET) | perms
	as.mu.Unlock()
	m.port.FlushTLB(va)
}

// Unmap removes any mapping for va in as.
func (m *Manager) Unmap(as *AddrSpace, va uintptr) {
	as.mu.Lock()
	delete(as.pmap, pageAlign(va))
	as.mu.Unlock()
	m.port.FlushTLB(va)
}

func (m *Manager) IsMapped(as *AddrSpace, va uintptr) bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	pte, ok := as.pmap[pageAlign(va)]
	return ok && pte&mem.PTE_P != 0
}

func (m *Manager) IsWriteable(as *AddrSpace, va uintptr) bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	pte, ok := as.pmap[pageAlign(va)]
	return ok && pte&mem.PTE_W != 0
}

func (m *Manager) IsUser(as *AddrSpace, va uintptr) bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	pte, ok := as.pmap[pageAlign(va)]
	return ok && pte&mem.PTE_U != 0
}

// GetPage returns the frame mapped at va, if any.
func (m *Manager) GetPage(as *AddrSpace, va uintptr) (mem.Pa_t, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	pte, ok := as.pmap[pageAlign(va)]
	if !ok || pte&mem.PTE_P == 0 {
		return 0, false
	}
	return pte & mem.PTE_ADDR, true
}

func pageAlign(va uintptr) uintptr {
	return va &^ uintptr(mem.PGOFFSET)
}
