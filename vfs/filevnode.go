package vfs

import (
	"sync"

	"kernel/defs"
	"kernel/fdops"
	"kernel/mem"
	"kernel/ustr"
)

// FileVnode_t is an in-memory regular file: page-aligned offsets each
// lazily get their own frame the first time they're touched. Concrete
// persistent file formats are external collaborators per spec §1's
// "the core requires a vnode adapter"; this is what creat and
// open(O_CREAT) install when nothing richer is mounted.
type FileVnode_t struct {
	mu     sync.Mutex
	pages  mem.Page_i
	size   int64
	frames map[int64]mem.Pa_t
}

// NewFileVnode returns an empty regular file.
func NewFileVnode(pages mem.Page_i) *FileVnode_t {
	return &FileVnode_t{pages: pages, frames: map[int64]mem.Pa_t{}}
}

func (v *FileVnode_t) Size() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.size
}

func (v *FileVnode_t) IsDir() bool { return false }

// GetPage returns the frame backing the page at offset, allocating and
// zeroing it on first touch (vfs.Read/Write's get_page(aligned(offset))
// step, spec §4.I).
func (v *FileVnode_t) GetPage(offset int64) (mem.Pa_t, defs.Err_t) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if pa, ok := v.frames[offset]; ok {
		return pa, 0
	}
	pa, ok := v.pages.AllocZero()
	if !ok {
		return 0, -defs.ENOMEM
	}
	v.frames[offset] = pa
	if end := offset + int64(mem.PGSIZE); end > v.size {
		v.size = end
	}
	return pa, 0
}

func (v *FileVnode_t) PutPage(mem.Pa_t) {}

func (v *FileVnode_t) Lookup(name ustr.Ustr) (Vnode_i, defs.Err_t) {
	return nil, -defs.ENOTDIR
}

func (v *FileVnode_t) Getdents(offset int64, dst fdops.Userio_i) (int, int64, defs.Err_t) {
	return 0, offset, -defs.ENOTDIR
}
