// Package circbuf implements a single-page circular byte buffer, the
// backing store pipes (spec §4.I, "two vnodes sharing a bounded ring
// buffer") build on. Adapted from the teacher's circbuf.go: same
// head/tail wraparound arithmetic and lazy page allocation, rewritten
// against this module's simpler mem.Page_i (no refcounting — a
// circular buffer owns its page outright, never shares it).
package circbuf

import (
	"kernel/defs"
	"kernel/fdops"
	"kernel/mem"
)

// Circbuf_t is not safe for concurrent use; callers (vfs's pipe vnode)
// serialize access with their own monitor.
type Circbuf_t struct {
	pages mem.Page_i
	buf   []uint8
	bufsz int
	p_pg  mem.Pa_t
	head  int
	tail  int
}

// Bufsz returns the configured capacity in bytes.
func (cb *Circbuf_t) Bufsz() int { return cb.bufsz }

// Init lazily reserves a backing page sized sz (spec's bounded ring
// buffer): allocation is deferred to the first Copyin/Copyout so
// construction itself cannot fail.
func (cb *Circbuf_t) Init(sz int, pages mem.Page_i) {
	if sz <= 0 || sz > mem.PGSIZE {
		panic("circbuf: bad size")
	}
	cb.pages = pages
	cb.bufsz = sz
	cb.head, cb.tail = 0, 0
}

func (cb *Circbuf_t) ensure() defs.Err_t {
	if cb.buf != nil {
		return 0
	}
	pa, ok := cb.pages.Alloc()
	if !ok {
		return -defs.ENOMEM
	}
	cb.p_pg = pa
	cb.buf = cb.pages.Dmap(pa)[:cb.bufsz]
	return 0
}

// Release frees the backing page, if one was ever allocated.
func (cb *Circbuf_t) Release() {
	if cb.buf == nil {
		return
	}
	cb.pages.Free(cb.p_pg)
	cb.buf = nil
	cb.head, cb.tail = 0, 0
}

func (cb *Circbuf_t) Full() bool  { return cb.head-cb.tail == cb.bufsz }
func (cb *Circbuf_t) Empty() bool { return cb.head == cb.tail }
func (cb *Circbuf_t) Left() int   { return cb.bufsz - (cb.head - cb.tail) }
func (cb *Circbuf_t) Used() int   { return cb.head - cb.tail }

// Copyin reads from src into the circular buffer, stopping at either
// src's EOF or a full buffer — never blocking (blocking-when-full is
// the caller's job, per spec §5's pipe_write semantics).
func (cb *Circbuf_t) Copyin(src fdops.Userio_i) (int, defs.Err_t) {
	if err := cb.ensure(); err != 0 {
		return 0, err
	}
	if cb.Full() {
		return 0, 0
	}
	hi := cb.head % cb.bufsz
	ti := cb.tail % cb.bufsz
	c := 0
	if ti <= hi {
		dst := cb.buf[hi:]
		wrote, err := src.Uioread(dst)
		if err != 0 {
			return 0, err
		}
		if wrote != len(dst) {
			cb.head += wrote
			return wrote, 0
		}
		c += wrote
		hi = (cb.head + wrote) % cb.bufsz
	}
	dst := cb.buf[hi:ti]
	wrote, err := src.Uioread(dst)
	c += wrote
	if err != 0 {
		return c, err
	}
	cb.head += c
	return c, 0
}

// Copyout writes the whole buffer's contents to dst.
func (cb *Circbuf_t) Copyout(dst fdops.Userio_i) (int, defs.Err_t) {
	return cb.CopyoutN(dst, 0)
}

// CopyoutN writes up to max bytes (0 meaning unlimited) to dst.
func (cb *Circbuf_t) CopyoutN(dst fdops.Userio_i, max int) (int, defs.Err_t) {
	if err := cb.ensure(); err != 0 {
		return 0, err
	}
	if cb.Empty() {
		return 0, 0
	}
	hi := cb.head % cb.bufsz
	ti := cb.tail % cb.bufsz
	c := 0
	if hi <= ti {
		src := cb.buf[ti:]
		if max != 0 && max < len(src) {
			src = src[:max]
		}
		wrote, err := dst.Uiowrite(src)
		if err != 0 {
			return 0, err
		}
		if wrote != len(src) || wrote == max {
			cb.tail += wrote
			return wrote, 0
		}
		c += wrote
		if max != 0 {
			max -= c
		}
		ti = (cb.tail + wrote) % cb.bufsz
	}
	src := cb.buf[ti:hi]
	if max != 0 && max < len(src) {
		src = src[:max]
	}
	wrote, err := dst.Uiowrite(src)
	if err != 0 {
		return 0, err
	}
	c += wrote
	cb.tail += c
	return c, 0
}
