// Package vfs implements the VFS core (component I): the vnode
// contract, its default read/write loop over the page cache, path
// resolution, and pipes. Grounded on original_source/kernel/vfs.c and
// kernel/file.c's file_namev/path_split, and on the teacher's fs
// package for the vnode-as-interface shape (vm.PageSource is the same
// decoupling vm/as.go's fdops.Fdops_i gives the teacher between vm and
// the fs tree).
package vfs

import (
	"kernel/bpath"
	"kernel/defs"
	"kernel/except"
	"kernel/fdops"
	"kernel/mem"
	"kernel/ustr"
)

// Vnode_i is the only object the fs boundary requires (spec §4.I).
// GetPage/PutPage double as vm.PageSource so a vnode can back a VM
// object directly.
type Vnode_i interface {
	GetPage(offset int64) (mem.Pa_t, defs.Err_t)
	PutPage(pa mem.Pa_t)
	Size() int64
	IsDir() bool
	// Lookup resolves one path component below a directory vnode
	// (original_source's vnode_get_vnode).
	Lookup(name ustr.Ustr) (Vnode_i, defs.Err_t)
	// Getdents appends directory entries starting at offset into dst,
	// returning the bytes written and the offset to resume at.
	Getdents(offset int64, dst fdops.Userio_i) (n int, next int64, err defs.Err_t)
}

// Reparser is implemented by vnodes that mount another vnode in their
// place (original_source's vfs_reparse) — a devfs mountpoint or a
// union-mount stand-in, for instance. Namev calls it once per step.
type Reparser interface {
	Reparse() (Vnode_i, defs.Err_t)
}

func reparse(v Vnode_i) (Vnode_i, defs.Err_t) {
	if r, ok := v.(Reparser); ok {
		return r.Reparse()
	}
	return v, 0
}

// Read loops over GetPage(aligned(offset)) copying into dst, exactly
// as spec §4.I describes the core's default read. pages supplies the
// Dmap that turns a vnode's returned frame back into bytes.
func Read(v Vnode_i, pages mem.Page_i, offset int64, dst fdops.Userio_i) (int, defs.Err_t) {
	total := 0
	size := v.Size()
	for dst.Remain() > 0 && offset < size {
		aligned := offset &^ int64(mem.PGSIZE-1)
		pa, err := v.GetPage(aligned)
		if err != 0 {
			return total, err
		}
		voff := int(offset - aligned)
		avail := mem.PGSIZE - voff
		if remain := size - offset; int64(avail) > remain {
			avail = int(remain)
		}
		if dst.Remain() < avail {
			avail = dst.Remain()
		}
		frame := pages.Dmap(pa)
		n, werr := dst.Uiowrite(frame[voff : voff+avail])
		v.PutPage(pa)
		total += n
		offset += int64(n)
		if werr != 0 {
			return total, werr
		}
		if n < avail {
			break
		}
	}
	return total, 0
}

// Write loops over GetPage(aligned(offset)) copying from src, exactly
// as spec §4.I describes the core's default write.
func Write(v Vnode_i, pages mem.Page_i, offset int64, src fdops.Userio_i) (int, defs.Err_t) {
	total := 0
	for src.Remain() > 0 {
		aligned := offset &^ int64(mem.PGSIZE-1)
		pa, err := v.GetPage(aligned)
		if err != 0 {
			return total, err
		}
		voff := int(offset - aligned)
		avail := mem.PGSIZE - voff
		if src.Remain() < avail {
			avail = src.Remain()
		}
		frame := pages.Dmap(pa)
		n, rerr := src.Uioread(frame[voff : voff+avail])
		v.PutPage(pa)
		total += n
		offset += int64(n)
		if rerr != 0 {
			return total, rerr
		}
		if n < avail {
			break
		}
	}
	return total, 0
}

// Namev resolves path against root (absolute) or cwd (relative),
// splitting on '/', dropping empty components, treating every '.'
// component as a no-op step, and reparsing after each Lookup (spec §4.I's path
// resolution paragraph; original_source's file_namev/path_split).
// A missing step raises except.FileNotFound, matching spec wording.
func Namev(root, cwd Vnode_i, path ustr.Ustr) Vnode_i {
	v := cwd
	if path.IsAbsolute() {
		v = root
	}
	for _, comp := range bpath.Split(path) {
		if comp.Isdot() {
			continue
		}
		if !v.IsDir() {
			except.Throw(except.FileNotFound, "vfs", 0, "not a directory")
		}
		next, err := v.Lookup(comp)
		if err != 0 || next == nil {
			except.Throw(except.FileNotFound, "vfs", 0, "no such file or directory: %s", comp)
		}
		next, rerr := reparse(next)
		if rerr != 0 {
			except.Throw(except.FileNotFound, "vfs", 0, "reparse failed: %s", comp)
		}
		v = next
	}
	return v
}
