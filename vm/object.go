package vm

import (
	"kernel/defs"
	"kernel/mem"
)

// PageSource is the capability a vnode-backed VM object needs from the
// file layer: fetch the page covering offset, and release one
// previously obtained. The vfs package's vnode type satisfies this
// without vm importing vfs, mirroring the teacher's fdops.Fdops_i
// decoupling between vm and the fs tree.
type PageSource interface {
	GetPage(offset int64) (mem.Pa_t, defs.Err_t)
	PutPage(pa mem.Pa_t)
}

// ObjectKind distinguishes the five page sources spec §4.C's glossary
// names: zero, anonymous, direct, vnode, heap.
type ObjectKind int

const (
	ObjZero ObjectKind = iota
	ObjAnon
	ObjDirect
	ObjVnode
	ObjHeap
)

// Object is a VM object: the source of physical pages a segment maps.
// clean holds pages not yet copy-on-write'd away from their backing
// source; dirty holds pages privately owned by this object, populated
// lazily by the fault handler per spec §4.C step 4.
type Object struct {
	Kind ObjectKind

	// Vnode/Direct sources only.
	source PageSource
	direct mem.Pa_t // Direct objects map one fixed frame everywhere; Vnode objects keep their file offset here

	clean map[int64]*Vmpage // offset -> page, pages shared read-only from source
	dirty map[int64]*Vmpage // offset -> page, privately owned copies
}

// NewZeroObject returns an object whose every page reads as zero until
// written, backing a fresh anonymous mapping before its first fault.
func NewZeroObject() *Object {
	return &Object{Kind: ObjZero, clean: map[int64]*Vmpage{}, dirty: map[int64]*Vmpage{}}
}

// NewAnonObject returns a private anonymous object with no backing
// source: every page originates from the zero page on first fault.
func NewAnonObject() *Object {
	return &Object{Kind: ObjAnon, clean: map[int64]*Vmpage{}, dirty: map[int64]*Vmpage{}}
}

// NewHeapObject is an anonymous object tagged Heap so brk's
// expand/contract can find and resize it among a process's segments.
func NewHeapObject() *Object {
	return &Object{Kind: ObjHeap, clean: map[int64]*Vmpage{}, dirty: map[int64]*Vmpage{}}
}

// NewDirectObject maps a single already-allocated frame at every
// offset in the segment; used for device/MMIO-style mappings.
func NewDirectObject(frame mem.Pa_t) *Object {
	return &Object{Kind: ObjDirect, direct: frame}
}

// NewVnodeObject backs a segment with pages fetched from src at
// foff+offset.
func NewVnodeObject(src PageSource, foff int64) *Object {
	return &Object{Kind: ObjVnode, source: src, clean: map[int64]*Vmpage{}, dirty: map[int64]*Vmpage{}, direct: mem.Pa_t(foff)}
}

// clone returns a new object for vm_segment_copy. When private is
// false the clean map is shared directly (additional references to
// the same vmpages); when true, dirty is deep-copied by reference-
// counting each vmpage through vmpage_put_copy, which also walks and
// demotes each page's existing reverse mappings to read-only — so the
// parent that faulted a page in as writable before forking loses that
// writability the instant the child starts sharing the frame.
func (o *Object) clone(mgr *Manager, private bool) *Object {
	switch o.Kind {
	case ObjDirect:
		return &Object{Kind: ObjDirect, direct: o.direct}
	}
	n := &Object{Kind: o.Kind, source: o.source, direct: o.direct, clean: map[int64]*Vmpage{}, dirty: map[int64]*Vmpage{}}
	for off, p := range o.clean {
		n.clean[off] = p
	}
	for off, p := range o.dirty {
		if private {
			n.dirty[off] = p.putCopy(mgr)
		} else {
			n.dirty[off] = p
		}
	}
	return n
}
