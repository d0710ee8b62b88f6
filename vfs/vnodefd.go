package vfs

import (
	"sync"
	"sync/atomic"

	"kernel/defs"
	"kernel/fdops"
	"kernel/mem"
	"kernel/stat"
)

// vnodeFd_t adapts any Vnode_i to fdops.Fdops_i, the way pipeFd_t
// adapts a pipe end — generalized here because a plain vnode
// isn't its own file descriptor: it carries no open-file position, and
// the same vnode may be open at two different offsets at once (spec
// §4.K: "read/write advance the file pointer by the byte count
// returned from the vnode").
type vnodeFd_t struct {
	mu    sync.Mutex
	v     Vnode_i
	pages mem.Page_i
	off   int64
	refs  *int32
}

// NewVnodeFd wraps v as a freshly opened file descriptor backing,
// positioned at offset 0.
func NewVnodeFd(v Vnode_i, pages mem.Page_i) fdops.Fdops_i {
	r := int32(1)
	return &vnodeFd_t{v: v, pages: pages, refs: &r}
}

func (f *vnodeFd_t) Close() defs.Err_t {
	atomic.AddInt32(f.refs, -1)
	return 0
}

func (f *vnodeFd_t) Reopen() defs.Err_t {
	atomic.AddInt32(f.refs, 1)
	return 0
}

func (f *vnodeFd_t) Fstat(st *stat.Stat_t) defs.Err_t {
	mode := uint(0)
	if f.v.IsDir() {
		mode = 1
	}
	st.Wmode(mode)
	st.Wsize(uint(f.v.Size()))
	return 0
}

func (f *vnodeFd_t) Lseek(off int, whence int) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch whence {
	case fdops.SEEK_SET:
		f.off = int64(off)
	case fdops.SEEK_CUR:
		f.off += int64(off)
	case fdops.SEEK_END:
		f.off = f.v.Size() + int64(off)
	default:
		return 0, -defs.EINVAL
	}
	if f.off < 0 {
		f.off = 0
		return 0, -defs.EINVAL
	}
	return int(f.off), 0
}

func (f *vnodeFd_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	f.mu.Lock()
	off := f.off
	f.mu.Unlock()
	n, err := Read(f.v, f.pages, off, dst)
	if n > 0 {
		f.mu.Lock()
		f.off += int64(n)
		f.mu.Unlock()
	}
	return n, err
}

func (f *vnodeFd_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	f.mu.Lock()
	off := f.off
	f.mu.Unlock()
	n, err := Write(f.v, f.pages, off, src)
	if n > 0 {
		f.mu.Lock()
		f.off += int64(n)
		f.mu.Unlock()
	}
	return n, err
}

func (f *vnodeFd_t) Getdents(dst fdops.Userio_i) (int, defs.Err_t) {
	if !f.v.IsDir() {
		return 0, -defs.ENOTDIR
	}
	f.mu.Lock()
	off := f.off
	f.mu.Unlock()
	n, next, err := f.v.Getdents(off, dst)
	if err == 0 {
		f.mu.Lock()
		f.off = next
		f.mu.Unlock()
	}
	return n, err
}

// Getdents64 encodes in the 64-bit dirent width via DirReader, for
// fds backed by a directory vnode richer than the plain Vnode_i
// contract; non-DirReader directories fall back to -ENOSYS since they
// have no structured entries to re-encode at a different width.
func (f *vnodeFd_t) Getdents64(dst fdops.Userio_i) (int, defs.Err_t) {
	if !f.v.IsDir() {
		return 0, -defs.ENOTDIR
	}
	dr, ok := f.v.(DirReader)
	if !ok {
		return 0, -defs.ENOSYS
	}
	f.mu.Lock()
	off := f.off
	f.mu.Unlock()
	entries, _, err := dr.ReadDir(off)
	if err != 0 {
		return 0, err
	}
	n, consumed, werr := EncodeDirents64(dst, entries)
	if werr == 0 {
		f.mu.Lock()
		f.off = off + int64(consumed)
		f.mu.Unlock()
	}
	return n, werr
}

// Vnode exposes the wrapped vnode, for callers (execve's file lookup,
// chdir) that need the vnode itself rather than an open fd's I/O
// surface.
func (f *vnodeFd_t) Vnode() Vnode_i { return f.v }
