// Package slab implements the slab and arena allocators (component D):
// fixed-size object pools carved out of page-sized chunks, and a
// page-aligned bump allocator with stack-style checkpoint/restore.
// There is no slab allocator among the retrieved example repos; this
// package follows the teacher's general allocator idiom (an owning
// struct, frames obtained through mem.Page_i) rather than any specific
// corpus file. Pool and Arena take no lock of their own.
package slab

import (
	"kernel/defs"
	"kernel/mem"
)

// MarkFunc is invoked on every live object in a managed chunk during a
// sweep, before any finalizer runs.
type MarkFunc func(obj []uint8)

// FinalizeFunc runs once per object when its owning chunk is
// reclaimed.
type FinalizeFunc func(obj []uint8)

// Class describes one slab type: element size, and optional mark/
// finalize hooks a "managed" chunk (one eligible for GC-triggered
// reclaim) runs before returning its frame.
type Class struct {
	ElemSize int
	Mark     MarkFunc
	Finalize FinalizeFunc
	managed  bool
}

// NewClass declares an unmanaged slab class: elements are freed
// explicitly, never reclaimed behind the caller's back.
func NewClass(elemSize int) *Class {
	return &Class{ElemSize: elemSize}
}

// NewManagedClass declares a class whose chunks may be reclaimed by a
// GC sweep. Sweep passes every allocated object to mark, but mark's
// outcome does not decide liveness: a chunk is reclaimed only once all
// of its elements have been freed, and finalize then runs on each of
// its slots before the chunk's frame is returned to the allocator.
func NewManagedClass(elemSize int, mark MarkFunc, finalize FinalizeFunc) *Class {
	return &Class{ElemSize: elemSize, Mark: mark, Finalize: finalize, managed: true}
}

// chunk is one page-sized extent backing a class's free list.
type chunk struct {
	frame mem.Pa_t
	free  []int // byte offsets within the page still free
	live  int   // elements handed out and not yet freed
}

// Pool is the free-list allocator for one Class. Each chunk is a
// single physical page; Alloc grows the pool by one chunk when every
// existing chunk is full.
type Pool struct {
	class  *Class
	pages  mem.Page_i
	chunks []*chunk
}

// NewPool constructs a pool drawing frames from pages.
func NewPool(class *Class, pages mem.Page_i) *Pool {
	if class.ElemSize <= 0 || class.ElemSize > mem.PGSIZE {
		panic("slab: bad element size")
	}
	return &Pool{class: class, pages: pages}
}

// Ptr names one live slab element: the frame it lives in and its byte
// offset within that frame's page. Free and the chunk lookup both key
// on this pair rather than a raw pointer, since mem.Page_i hands back
// *mem.Bytepg_t values the allocator does not otherwise track.
type Ptr struct {
	Frame mem.Pa_t
	Off   int
}

// Bytes returns the element's backing storage.
func (p *Ptr) Bytes(pages mem.Page_i, size int) []uint8 {
	bpg := pages.Dmap(p.Frame)
	return bpg[p.Off : p.Off+size]
}

// Alloc returns a zeroed element, growing the pool by one chunk if
// every existing chunk is full.
func (p *Pool) Alloc() (Ptr, defs.Err_t) {
	for _, c := range p.chunks {
		if len(c.free) > 0 {
			return p.take(c), 0
		}
	}
	c, err := p.grow()
	if err != 0 {
		return Ptr{}, err
	}
	return p.take(c), 0
}

func (p *Pool) take(c *chunk) Ptr {
	off := c.free[len(c.free)-1]
	c.free = c.free[:len(c.free)-1]
	c.live++
	bpg := p.pages.Dmap(c.frame)
	elem := bpg[off : off+p.class.ElemSize]
	for i := range elem {
		elem[i] = 0
	}
	return Ptr{Frame: c.frame, Off: off}
}

func (p *Pool) grow() (*chunk, defs.Err_t) {
	frame, ok := p.pages.AllocZero()
	if !ok {
		return nil, -defs.ENOMEM
	}
	c := &chunk{frame: frame}
	n := mem.PGSIZE / p.class.ElemSize
	for i := 0; i < n; i++ {
		c.free = append(c.free, i*p.class.ElemSize)
	}
	p.chunks = append(p.chunks, c)
	return c, 0
}

// Free returns ptr to its chunk's free list. When an unmanaged chunk's
// last live element is freed, the chunk's frame is returned
// immediately; managed chunks are reclaimed only by Sweep.
func (p *Pool) Free(ptr Ptr) {
	for i, c := range p.chunks {
		if c.frame != ptr.Frame {
			continue
		}
		c.free = append(c.free, ptr.Off)
		c.live--
		if c.live == 0 && !p.class.managed {
			p.pages.Free(c.frame)
			p.chunks = append(p.chunks[:i], p.chunks[i+1:]...)
		}
		return
	}
	panic("slab: free of untracked frame")
}

// Sweep runs Mark over every live object in every managed chunk (the
// caller's mark closure is expected to consult its own root set), then
// finalizes and reclaims any chunk left entirely dead. Unmanaged
// classes ignore Sweep — their objects are freed explicitly.
func (p *Pool) Sweep() {
	if !p.class.managed {
		return
	}
	for i := 0; i < len(p.chunks); {
		c := p.chunks[i]
		bpg := p.pages.Dmap(c.frame)
		freeSet := make(map[int]bool, len(c.free))
		for _, off := range c.free {
			freeSet[off] = true
		}
		anyLive := false
		for off := 0; off+p.class.ElemSize <= mem.PGSIZE; off += p.class.ElemSize {
			if freeSet[off] {
				continue
			}
			if p.class.Mark != nil {
				p.class.Mark(bpg[off : off+p.class.ElemSize])
			}
			anyLive = true
		}
		if !anyLive {
			if p.class.Finalize != nil {
				for off := 0; off+p.class.ElemSize <= mem.PGSIZE; off += p.class.ElemSize {
					p.class.Finalize(bpg[off : off+p.class.ElemSize])
				}
			}
			p.pages.Free(c.frame)
			p.chunks = append(p.chunks[:i], p.chunks[i+1:]...)
			continue
		}
		i++
	}
}
