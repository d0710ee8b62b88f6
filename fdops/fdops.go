// Package fdops defines the narrow interfaces the fd table (component
// K) needs from whatever backs an open file descriptor — a vnode, a
// pipe end, or a device — without importing those packages directly,
// mirroring the teacher's fd/fdops split (vm/as.go stores a
// fdops.Fdops_i the same way).
package fdops

import (
	"kernel/defs"
	"kernel/stat"
)

// Userio_i is a cursor over a buffer, either user-virtual (vm.Userbuf,
// vm.Useriovec) or kernel-resident (vm.Fakeubuf). Read/write paths take
// this instead of a bare []byte so a single code path works whether the
// caller is a syscall shim or an in-kernel copy.
type Userio_i interface {
	Uioread(dst []uint8) (int, defs.Err_t)
	Uiowrite(src []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

// Fdops_i is everything an open file descriptor can do, independent of
// what it is backed by (spec §4.K).
type Fdops_i interface {
	Close() defs.Err_t
	Fstat(st *stat.Stat_t) defs.Err_t
	Lseek(off int, whence int) (int, defs.Err_t)
	Read(dst Userio_i) (int, defs.Err_t)
	Write(src Userio_i) (int, defs.Err_t)
	// Reopen is called by fd.Copyfd after its shallow struct copy: most
	// backings just bump a refcount. The fd table's Dup, Dup2 and Fork
	// share the Fd_t through the slot refcount and do not call it.
	Reopen() defs.Err_t
	// Getdents delegates to the vnode for directory fds; non-directory
	// backings return -ENOTDIR.
	Getdents(dst Userio_i) (int, defs.Err_t)
}

// Seek whence values, matching lseek(2).
const (
	SEEK_SET = 0
	SEEK_CUR = 1
	SEEK_END = 2
)
