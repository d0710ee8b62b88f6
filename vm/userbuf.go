package vm

import (
	"sync"

	"kernel/defs"
	"kernel/mem"
)

// accessPage returns the byte page backing va in as, faulting it in
// (and, for a write, resolving COW) if it is not yet mapped the way
// the access requires. This is the shared engine behind Userbuf, and
// through it Useriovec, which drives one Userbuf per entry; the same
// role the teacher's Userdmap8_inner plays for Vm_t.
func accessPage(mgr *Manager, pages mem.Page_i, as *AddrSpace, va uintptr, write bool) (*mem.Bytepg_t, int, defs.Err_t) {
	needFault := true
	if frame, ok := mgr.GetPage(as, va); ok {
		if !write || mgr.IsWriteable(as, va) {
			needFault = false
			_ = frame
		}
	}
	if needFault {
		if err := PageFault(mgr, pages, as, va, write); err != 0 {
			return nil, 0, err
		}
	}
	frame, ok := mgr.GetPage(as, va)
	if !ok {
		return nil, 0, -defs.EFAULT
	}
	voff := int(va & uintptr(mem.PGOFFSET))
	return pages.Dmap(frame), voff, 0
}

// Userbuf is a cursor over one contiguous user-virtual-address range,
// transferring data a page at a time across the fault boundary (spec
// §4.C / §4.K's read/write loop over get_page(aligned(offset))).
type Userbuf struct {
	mgr    *Manager
	pages  mem.Page_i
	as     *AddrSpace
	userva uintptr
	len    int
	off    int
}

// NewUserbuf constructs a cursor over [userva, userva+length) in as.
func NewUserbuf(mgr *Manager, pages mem.Page_i, as *AddrSpace, userva uintptr, length int) *Userbuf {
	if length < 0 {
		panic("vm: negative userbuf length")
	}
	return &Userbuf{mgr: mgr, pages: pages, as: as, userva: userva, len: length}
}

func (ub *Userbuf) Remain() int   { return ub.len - ub.off }
func (ub *Userbuf) Totalsz() int  { return ub.len }

// Uioread copies from user memory into dst.
func (ub *Userbuf) Uioread(dst []uint8) (int, defs.Err_t) {
	return ub.tx(dst, false)
}

// Uiowrite copies src into user memory.
func (ub *Userbuf) Uiowrite(src []uint8) (int, defs.Err_t) {
	return ub.tx(src, true)
}

func (ub *Userbuf) tx(buf []uint8, write bool) (int, defs.Err_t) {
	ret := 0
	for len(buf) != 0 && ub.off != ub.len {
		va := ub.userva + uintptr(ub.off)
		pg, voff, err := accessPage(ub.mgr, ub.pages, ub.as, va, write)
		if err != 0 {
			return ret, err
		}
		avail := mem.PGSIZE - voff
		if left := ub.len - ub.off; left < avail {
			avail = left
		}
		n := len(buf)
		if n > avail {
			n = avail
		}
		if write {
			copy(pg[voff:voff+n], buf)
		} else {
			copy(buf, pg[voff:voff+n])
		}
		buf = buf[n:]
		ub.off += n
		ret += n
	}
	return ret, 0
}

// iovecEntry is one (user virtual address, length) pair, as parsed
// from a user-space iovec array.
type iovecEntry struct {
	uva uintptr
	sz  int
}

// Useriovec chains a sequence of Userbuf-style transfers across
// multiple discontiguous user ranges.
type Useriovec struct {
	mgr   *Manager
	pages mem.Page_i
	as    *AddrSpace
	iovs  []iovecEntry
	tsz   int
}

// NewUseriovec wraps an already-decoded iovec array. Decoding the
// array out of user memory is the caller's job, not this package's.
func NewUseriovec(mgr *Manager, pages mem.Page_i, as *AddrSpace, iovs []iovecEntry) *Useriovec {
	tot := 0
	for _, e := range iovs {
		tot += e.sz
	}
	return &Useriovec{mgr: mgr, pages: pages, as: as, iovs: iovs, tsz: tot}
}

func (iov *Useriovec) Remain() int {
	ret := 0
	for _, e := range iov.iovs {
		ret += e.sz
	}
	return ret
}

func (iov *Useriovec) Totalsz() int { return iov.tsz }

func (iov *Useriovec) Uioread(dst []uint8) (int, defs.Err_t) { return iov.tx(dst, false) }
func (iov *Useriovec) Uiowrite(src []uint8) (int, defs.Err_t) { return iov.tx(src, true) }

func (iov *Useriovec) tx(buf []uint8, write bool) (int, defs.Err_t) {
	did := 0
	for len(buf) > 0 && len(iov.iovs) > 0 {
		cur := &iov.iovs[0]
		ub := NewUserbuf(iov.mgr, iov.pages, iov.as, cur.uva, cur.sz)
		n, err := ub.tx(buf, write)
		cur.uva += uintptr(n)
		cur.sz -= n
		if cur.sz == 0 {
			iov.iovs = iov.iovs[1:]
		}
		buf = buf[n:]
		did += n
		if err != 0 {
			return did, err
		}
	}
	return did, 0
}

// Fakeubuf adapts a plain kernel byte slice to the same transfer
// interface as Userbuf, for code paths (like the syscall package's
// readWhole, which reads an execve image into a kernel slice) that
// treat a kernel buffer as though it were a user one.
type Fakeubuf struct {
	buf []uint8
	len int
}

func NewFakeubuf(buf []uint8) *Fakeubuf {
	return &Fakeubuf{buf: buf, len: len(buf)}
}

func (fb *Fakeubuf) Remain() int  { return len(fb.buf) }
func (fb *Fakeubuf) Totalsz() int { return fb.len }

func (fb *Fakeubuf) Uioread(dst []uint8) (int, defs.Err_t) { return fb.tx(dst, false) }
func (fb *Fakeubuf) Uiowrite(src []uint8) (int, defs.Err_t) { return fb.tx(src, true) }

func (fb *Fakeubuf) tx(buf []uint8, tofbuf bool) (int, defs.Err_t) {
	var n int
	if tofbuf {
		n = copy(fb.buf, buf)
	} else {
		n = copy(buf, fb.buf)
	}
	fb.buf = fb.buf[n:]
	return n, 0
}

// UbufPool is a sync.Pool of Userbuf values, the same
// allocation-avoidance idiom the teacher applies; no package in this
// module draws from it.
var UbufPool = sync.Pool{New: func() interface{} { return &Userbuf{} }}
