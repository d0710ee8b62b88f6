package vm

import (
	"sort"

	"kernel/defs"
	"kernel/mem"
)

// Segment is a virtually contiguous region of one address space,
// backed by a single VM object (spec glossary: "Segment. Virtually
// contiguous region in an AS, backed by one or two VM objects" — the
// "two" case is a clean/dirty split the Object itself already tracks,
// so Segment needs only one Object reference).
type Segment struct {
	Base  uintptr
	Len   uintptr // bytes, page-aligned
	Perms mem.Pa_t
	Obj   *Object
}

func (s *Segment) contains(va uintptr) bool {
	return va >= s.Base && va < s.Base+s.Len
}

// segList keeps segments ordered by base address so the fault handler
// can binary-search for the segment covering a faulting address (spec
// §4.C step 1: "Locates the segment by an ordered map keyed on base
// address").
type segList struct {
	segs []*Segment
}

func newSegList() *segList { return &segList{} }

func (l *segList) insert(s *Segment) {
	i := sort.Search(len(l.segs), func(i int) bool { return l.segs[i].Base >= s.Base })
	l.segs = append(l.segs, nil)
	copy(l.segs[i+1:], l.segs[i:])
	l.segs[i] = s
}

func (l *segList) remove(s *Segment) {
	for i, c := range l.segs {
		if c == s {
			l.segs = append(l.segs[:i], l.segs[i+1:]...)
			return
		}
	}
}

// lookup returns the segment whose [Base, Base+Len) covers va.
func (l *segList) lookup(va uintptr) (*Segment, bool) {
	i := sort.Search(len(l.segs), func(i int) bool { return l.segs[i].Base+l.segs[i].Len > va })
	if i < len(l.segs) && l.segs[i].contains(va) {
		return l.segs[i], true
	}
	return nil, false
}

func (l *segList) all() []*Segment {
	out := make([]*Segment, len(l.segs))
	copy(out, l.segs)
	return out
}

// AddSegment installs seg into as at seg.Base.
func (as *AddrSpace) AddSegment(seg *Segment) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.segs.insert(seg)
}

// RemoveSegment drops seg from as. It does not unmap any already
// faulted-in page; callers tearing down an address space unmap every
// page explicitly first.
func (as *AddrSpace) RemoveSegment(seg *Segment) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.segs.remove(seg)
}

// lookupSegment finds the segment covering va, if any.
func (as *AddrSpace) lookupSegment(va uintptr) (*Segment, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.segs.lookup(va)
}

// Segments returns every installed segment, in base-address order.
func (as *AddrSpace) Segments() []*Segment {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.segs.all()
}

// SegmentCopy implements vm_segment_copy(seg, private): a shared copy
// reuses seg's object outright (both segments mutate the same dirty
// pages); a private copy clones the object so writes to either side
// fault independently and COW-share until then.
func SegmentCopy(mgr *Manager, seg *Segment, private bool) *Segment {
	if !private {
		return &Segment{Base: seg.Base, Len: seg.Len, Perms: seg.Perms, Obj: seg.Obj}
	}
	return &Segment{Base: seg.Base, Len: seg.Len, Perms: seg.Perms, Obj: seg.Obj.clone(mgr, true)}
}

// PageFault resolves a fault at faultVA in as, per spec §4.C's
// six-step algorithm. iswrite reflects the port's fault error code
// (mem.PTE_W bit).
func PageFault(mgr *Manager, pages mem.Page_i, as *AddrSpace, faultVA uintptr, iswrite bool) defs.Err_t {
	// Only the segment lookup holds as.mu: Map, IsMapped and the other
	// Manager calls below take it themselves.
	seg, ok := as.lookupSegment(faultVA)
	if !ok {
		return -defs.EFAULT
	}
	if seg.Perms == 0 {
		return -defs.EFAULT // guard page
	}
	if iswrite && seg.Perms&mem.PTE_W == 0 {
		return -defs.EFAULT
	}

	off := int64(pageAlign(faultVA) - seg.Base)
	obj := seg.Obj

	if obj.Kind == ObjDirect {
		mgr.Map(as, faultVA, obj.direct, seg.Perms&mem.PTE_W != 0, true)
		return 0
	}

	vp, indirty := obj.dirty[off]
	if !indirty {
		clean, inclean := obj.clean[off]
		if !inclean {
			frame, ok, err := fetchFrame(pages, obj, off)
			if err != 0 {
				return err
			}
			if !ok {
				return -defs.ENOMEM
			}
			clean = NewVmpage(frame)
			obj.clean[off] = clean
		}
		if iswrite {
			vp = clean.putCopy(mgr)
			obj.dirty[off] = vp
		} else {
			vp = clean
		}
	}

	if iswrite && vp.Copies() > 0 {
		nv, ok := getCopy(pages, vp)
		if !ok {
			return -defs.ENOMEM
		}
		obj.dirty[off] = nv
		vp = nv
	}

	// Only a write fault ever installs a writeable PTE, and only once
	// vp is this fault's sole owner — a read fault on a writeable
	// segment, or a write that still shares its frame with another
	// address space, must leave the mapping read-only (COW) so the
	// next write elsewhere still traps instead of corrupting a shared
	// frame (spec §4.C, §8 testable properties #1/#2).
	rw := iswrite && vp.Copies() == 0
	mgr.Map(as, faultVA, vp.Frame, rw, true)
	vp.trackMapping(mgr, as, faultVA)
	return 0
}

func fetchFrame(pages mem.Page_i, obj *Object, off int64) (mem.Pa_t, bool, defs.Err_t) {
	switch obj.Kind {
	case ObjDirect:
		return obj.direct, true, 0
	case ObjVnode:
		if obj.source == nil {
			return 0, false, -defs.EFAULT
		}
		frame, err := obj.source.GetPage(int64(obj.direct) + off)
		if err != 0 {
			return 0, false, err
		}
		return frame, true, 0
	default: // ObjZero, ObjAnon, ObjHeap
		frame, ok := pages.AllocZero()
		return frame, ok, 0
	}
}
