package fd

import "sync"

import "kernel/bpath"
import "kernel/defs"
import "kernel/fdops"
import "kernel/ustr"

/// File descriptor permission bits.
const (
	FD_READ    = 0x1 /// read permission
	FD_WRITE   = 0x2 /// write permission
	FD_CLOEXEC = 0x4 /// close-on-exec flag
)

/// Fd_t represents an open file descriptor.
type Fd_t struct {
       // fops is an interface implemented via a "pointer receiver", thus fops
       // is a reference, not a value
       Fops  fdops.Fdops_i /// descriptor operations
       Perms int           /// permission bits
}

/// Copyfd duplicates an open file descriptor by reopening it.
func Copyfd(fd *Fd_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{}
	*nfd = *fd
	err := nfd.Fops.Reopen()
	if err != 0 {
		return nil, err
	}
	return nfd, 0
}

/// Close_panic closes the descriptor and panics on failure.
func Close_panic(f *Fd_t) {
	if f.Fops.Close() != 0 {
		panic("must succeed")
	}
}

/// Cwd_t tracks the current working directory for a process.
type Cwd_t struct {
       sync.Mutex // to serialize chdirs
       Fd   *Fd_t    /// current directory fd
       Path ustr.Ustr /// canonical path
}

/// Fullpath joins cwd with p if p is not already absolute.
func (cwd *Cwd_t) Fullpath(p ustr.Ustr) ustr.Ustr {
	if p.IsAbsolute() {
		return p
	} else {
		full := append(cwd.Path, '/')
		return append(full, p...)
	}
}

/// Canonicalpath resolves path components relative to cwd.
func (cwd *Cwd_t) Canonicalpath(p ustr.Ustr) ustr.Ustr {
	p1 := cwd.Fullpath(p)
	var parts []ustr.Ustr
	for _, c := range bpath.Split(p1) {
		switch {
		case c.Isdot():
		case c.Isdotdot():
			if len(parts) > 0 {
				parts = parts[:len(parts)-1]
			}
		default:
			parts = append(parts, c)
		}
	}
	return bpath.JoinAbsolute(parts)
}

/// MkRootCwd constructs a Cwd_t rooted at "/".
func MkRootCwd(fd *Fd_t) *Cwd_t {
	c := &Cwd_t{}
	c.Fd = fd
	c.Path = ustr.MkUstrRoot()
	return c
}

// MaxFile is the per-process descriptor table size (spec §4.K;
// original_source's file.c PROC_MAX_FILE).
const MaxFile = 1024

// entry_t is one table slot: the shared fd plus its own refcount,
// since dup/dup2 make two slots point at the same Fd_t (original
// source's file_t.refs).
type entry_t struct {
	fd   *Fd_t
	refs int
}

// Fdtable_t is a process's table of open file descriptors: a fixed-size
// array of slots, the lowest-numbered free one chosen by open/dup
// (original_source's file_get_fd linear scan).
type Fdtable_t struct {
	sync.Mutex
	tbl [MaxFile]*entry_t
}

// lowestFree finds the smallest unused slot, or -1 if the table is
// full. Caller must hold the table lock.
func (t *Fdtable_t) lowestFree() int {
	for i := 0; i < MaxFile; i++ {
		if t.tbl[i] == nil {
			return i
		}
	}
	return -1
}

// Install places fd at the lowest free slot and returns its number, or
// -EMFILE if the table is full.
func (t *Fdtable_t) Install(fd *Fd_t) (int, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	n := t.lowestFree()
	if n < 0 {
		return -1, -defs.EMFILE
	}
	t.tbl[n] = &entry_t{fd: fd, refs: 1}
	return n, 0
}

// Get returns the fd installed at n, or -EBADF if the slot is empty or
// out of range.
func (t *Fdtable_t) Get(n int) (*Fd_t, defs.Err_t) {
	if n < 0 || n >= MaxFile {
		return nil, -defs.EBADF
	}
	t.Lock()
	defer t.Unlock()
	e := t.tbl[n]
	if e == nil {
		return nil, -defs.EBADF
	}
	return e.fd, 0
}

// Close releases slot n, closing the underlying fd once its refcount
// drops to zero (original_source's file_release).
func (t *Fdtable_t) Close(n int) defs.Err_t {
	if n < 0 || n >= MaxFile {
		return -defs.EBADF
	}
	t.Lock()
	e := t.tbl[n]
	if e == nil {
		t.Unlock()
		return -defs.EBADF
	}
	t.tbl[n] = nil
	e.refs--
	rundown := e.refs == 0
	t.Unlock()
	if rundown {
		return e.fd.Fops.Close()
	}
	return 0
}

// Dup2 makes fdup refer to the same open fd as fd, closing whatever was
// previously at fdup (original_source's file_dup2). fd and fdup name
// the same entry when equal, a no-op.
func (t *Fdtable_t) Dup2(fdSrc, fdup int) (int, defs.Err_t) {
	if fdSrc < 0 || fdSrc >= MaxFile || fdup < 0 || fdup >= MaxFile {
		return -1, -defs.EBADF
	}
	t.Lock()
	src := t.tbl[fdSrc]
	if src == nil {
		t.Unlock()
		return -1, -defs.EBADF
	}
	if fdSrc == fdup {
		t.Unlock()
		return fdup, 0
	}
	old := t.tbl[fdup]
	src.refs++
	t.tbl[fdup] = src
	t.Unlock()
	if old != nil {
		old.refs--
		if old.refs == 0 {
			old.fd.Fops.Close()
		}
	}
	return fdup, 0
}

// Dup installs a new reference to fd at the lowest free slot
// (original_source's file_dup).
func (t *Fdtable_t) Dup(fdSrc int) (int, defs.Err_t) {
	t.Lock()
	n := t.lowestFree()
	t.Unlock()
	if n < 0 {
		return -1, -defs.EMFILE
	}
	return t.Dup2(fdSrc, n)
}

// Fork returns a child table sharing every slot's Fd_t with an
// incremented refcount (spec §4.L, "dups the fd table"). FD_CLOEXEC is
// not consulted here, and exec does not filter on it either.
func (t *Fdtable_t) Fork() *Fdtable_t {
	t.Lock()
	defer t.Unlock()
	n := &Fdtable_t{}
	for i, e := range t.tbl {
		if e != nil {
			e.refs++
			n.tbl[i] = e
		}
	}
	return n
}
