// Package mem implements the physical page allocator (component A): a
// bitmap pool of free frames spanning the physical-memory ranges the
// boot contract announces (see arch.RangeKind). It is deliberately near
// the bottom of the dependency order in SYSTEM OVERVIEW — its only
// in-module imports are except, to raise OutOfMemory on exhaustion,
// oommsg, to report that exhaustion, and util.
package mem

import (
	"fmt"
	"sync"
	"unsafe"

	"kernel/except"
	"kernel/oommsg"
	"kernel/util"
)

// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = 0xfff

// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^(PGOFFSET)

// Present/writable/user/global/large-page bits, in the layout the
// reference architecture port (see arch.RefPort) encodes on the wire;
// see spec §6 "On-the-wire page table bits".
const (
	PTE_P  Pa_t = 1 << 0
	PTE_W  Pa_t = 1 << 1
	PTE_U  Pa_t = 1 << 2
	PTE_PS Pa_t = 1 << 7
	PTE_G  Pa_t = 1 << 8
	// PTE_COW is not a hardware bit; the reference port keeps it in an
	// otherwise-ignored PTE bit to remember which read-only mappings
	// are copy-on-write versus genuinely read-only.
	PTE_COW  Pa_t = 1 << 9
	PTE_ADDR Pa_t = PGMASK
)

// Pa_t represents a physical address (or, where noted, a physical
// frame number shifted left by PGSHIFT).
type Pa_t uintptr

// Bytepg_t is a byte-addressed page.
type Bytepg_t [PGSIZE]uint8

// Pg2bytes reinterprets a page-sized byte buffer as a Bytepg_t pointer.
func Pg2bytes(b []uint8) *Bytepg_t {
	if len(b) != PGSIZE {
		panic("mem: not a page")
	}
	return (*Bytepg_t)(unsafe.Pointer(&b[0]))
}

// Page_i abstracts physical page allocation for callers (vm, slab,
// fs block cache) that only need frames, not the allocator's bitmap
// internals.
type Page_i interface {
	Alloc() (Pa_t, bool)
	AllocZero() (Pa_t, bool)
	Free(Pa_t)
	Dmap(Pa_t) *Bytepg_t
}

// frameRange_t is one contiguous span of frames announced by the boot
// contract, tracked by a bitmap (bit n set == frame n free).
type frameRange_t struct {
	base   uint32 // first frame number in this range
	nframe uint32
	bitmap []uint64
	// backing simulates physical storage for this range: in a hosted
	// Go build there is no raw physical memory to point into, so each
	// range owns its own backing array and Dmap indexes into it. A
	// real architecture port backed by actual physical RAM would
	// instead point directly into the boot-time identity map; the
	// abstraction (Page_i.Dmap) is the same either way.
	backing [][PGSIZE]byte
}

// Physmem_t is the bitmap pool of free frames across every announced
// range. All mutation is serialized by one mutex, matching spec §5's
// "physical page allocator is serialized by its spinlock" — the single
// CPU this design targets makes a plain mutex equivalent to a spinlock
// that masks interrupts, without needing the masking itself here (mask
// is the caller's job if it calls from interrupt context; see ksync).
type Physmem_t struct {
	mu     sync.Mutex
	ranges []*frameRange_t
	free   int64
	total  int64
	// OnExhausted, if set, is consulted before the hard panic Alloc
	// otherwise raises. Tests use it to observe the exhaustion event
	// without actually halting the test binary.
	OnExhausted func()
}

// Physmem is the global physical memory allocator instance, populated
// by AddRange during boot before any other component runs (see
// SYSTEM OVERVIEW's A -> B,... initialization order).
var Physmem = &Physmem_t{}

// AddRange registers count frames starting at baseFrame as available.
// Called only during early boot, once per announced physical-memory
// range of kind arch.RangeAvailable.
func (p *Physmem_t) AddRange(baseFrame uint32, count uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	words := (count + 63) / 64
	r := &frameRange_t{
		base:    baseFrame,
		nframe:  count,
		bitmap:  make([]uint64, words),
		backing: make([][PGSIZE]byte, count),
	}
	for i := range r.bitmap {
		r.bitmap[i] = ^uint64(0)
	}
	if rem := count % 64; rem != 0 {
		r.bitmap[len(r.bitmap)-1] = (uint64(1) << rem) - 1
	}
	p.ranges = append(p.ranges, r)
	p.free += int64(count)
	p.total += int64(count)
}

// Alloc returns one free frame. Per spec §4.A, exhaustion here is a
// hard kernel fault with no reclaim path: once every announced range
// is out of frames, allocLocked throws except.OutOfMemory rather than
// returning failure — there is no caller in this design that can
// tolerate running out of physical memory. The bool return stays for
// symmetry with mem.Page_i's other methods and Dmap-adjacent helpers,
// but a false result never actually happens; callers that still check
// it (vm's page-fault handler among them) are checking dead code left
// over from before exhaustion became a throw, which is harmless.
func (p *Physmem_t) Alloc() (Pa_t, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocLocked()
}

// allocLocked scans bitmap words from the highest range downward,
// returning the first set bit, exactly as spec §4.A specifies. It
// tolerates fragmentation and makes no compaction guarantees.
func (p *Physmem_t) allocLocked() (Pa_t, bool) {
	for ri := len(p.ranges) - 1; ri >= 0; ri-- {
		r := p.ranges[ri]
		for wi := len(r.bitmap) - 1; wi >= 0; wi-- {
			w := r.bitmap[wi]
			if w == 0 {
				continue
			}
			bit := 63
			for ; bit >= 0; bit-- {
				if w&(uint64(1)<<uint(bit)) != 0 {
					break
				}
			}
			frameInWord := wi*64 + bit
			if uint32(frameInWord) >= r.nframe {
				continue
			}
			r.bitmap[wi] &^= uint64(1) << uint(bit)
			p.free--
			frame := r.base + uint32(frameInWord)
			return Pa_t(frame) << PGSHIFT, true
		}
	}
	oommsg.Notify(oommsg.Oommsg_t{Need: PGSIZE})
	if p.OnExhausted != nil {
		p.OnExhausted()
	}
	except.Throw(except.OutOfMemory, "mem", 0, "physical memory exhausted")
	panic("unreachable")
}

// AllocZero allocates a frame and zeroes its backing storage.
func (p *Physmem_t) AllocZero() (Pa_t, bool) {
	pa, ok := p.Alloc()
	if !ok {
		return 0, false
	}
	bpg := p.Dmap(pa)
	for i := range bpg {
		bpg[i] = 0
	}
	return pa, true
}

// Free returns pa's frame to its range's bitmap. Freeing an
// already-free frame is a caller bug and panics, matching the
// teacher's "XXXPANIC" treatment of impossible refcount states.
func (p *Physmem_t) Free(pa Pa_t) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, idx := p.locate(pa)
	wi, bit := idx/64, idx%64
	if r.bitmap[wi]&(uint64(1)<<uint(bit)) != 0 {
		panic("mem: double free")
	}
	r.bitmap[wi] |= uint64(1) << uint(bit)
	p.free++
}

// Dmap returns the direct-mapped byte page backing pa.
func (p *Physmem_t) Dmap(pa Pa_t) *Bytepg_t {
	p.mu.Lock()
	r, idx := p.locate(pa)
	p.mu.Unlock()
	return (*Bytepg_t)(unsafe.Pointer(&r.backing[idx]))
}

func (p *Physmem_t) locate(pa Pa_t) (*frameRange_t, uint32) {
	frame := uint32(pa >> PGSHIFT)
	for _, r := range p.ranges {
		if frame >= r.base && frame < r.base+r.nframe {
			return r, frame - r.base
		}
	}
	panic(fmt.Sprintf("mem: address %#x not in any announced range", pa))
}

// FreeCount reports the number of unallocated frames, summed across ranges.
func (p *Physmem_t) FreeCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free
}

// Total reports the number of frames ever announced via AddRange.
func (p *Physmem_t) Total() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// Reset discards all ranges. Tests use this between cases; production
// boot never calls it.
func (p *Physmem_t) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ranges = nil
	p.free = 0
	p.total = 0
}

// Round helpers mirror the teacher's util-based alignment idiom used
// throughout the VM layer.
func Pgroundup(v int) int   { return util.Roundup(v, PGSIZE) }
func Pgrounddown(v int) int { return util.Rounddown(v, PGSIZE) }
