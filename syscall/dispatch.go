// Package syscall implements the POSIX system-call dispatcher
// (component M): a switch on the trap's request register, each case a
// shim that decodes the remaining registers, calls into
// proc/vfs/fd/vm, and maps any exception the call throws to a negative
// errno (spec §4.M, §6 "System-call surface", §7 "Policy"). Grounded on
// original_source/arch/i386/syscall.c's i386_syscall switch, kept as a
// switch over the same sc_* numbering so the registers-in/register-out
// convention survives unchanged.
package syscall

import (
	"sync"
	"time"

	"kernel/arch"
	"kernel/defs"
	"kernel/except"
	"kernel/fd"
	"kernel/fdops"
	"kernel/mem"
	"kernel/proc"
	"kernel/sched"
	"kernel/timer"
	"kernel/ustr"
	"kernel/vfs"
	"kernel/vm"
)

// binding is what Dispatcher remembers about one live thread: the
// process it belongs to and the scheduler's own handle for it, so a
// trap arriving with nothing but a register file can find its way back
// to a Process_t (spec §6: the dispatcher resolves the calling process
// from the trapping CPU). Go gives every goroutine its own stack but
// no goroutine-local storage, so this plays the same role
// tinfo.Threadinfo_t's byCur map already plays for accounting.
type binding struct {
	proc *proc.Process_t
	th   *sched.Thread
}

// Dispatcher is the syscall table: it decodes a trapped Regs, calls
// into proc/vfs/fd/vm on the bound process's behalf, and maps whatever
// exception escapes into a negative errno written back into Eax.
type Dispatcher struct {
	port  arch.Port
	mgr   *vm.Manager
	pages mem.Page_i
	sc    *sched.Scheduler
	tq    *timer.Queue

	mu      sync.Mutex
	current map[arch.ThreadHandle]*binding
}

// NewDispatcher wires a dispatcher to the subsystems every syscall
// shim needs.
func NewDispatcher(port arch.Port, mgr *vm.Manager, pages mem.Page_i, sc *sched.Scheduler, tq *timer.Queue) *Dispatcher {
	return &Dispatcher{port: port, mgr: mgr, pages: pages, sc: sc, tq: tq, current: map[arch.ThreadHandle]*binding{}}
}

// Bind records that th, running on behalf of p, may trap into this
// dispatcher — called once when a thread is spawned (boot's init
// thread, or fork's child entry) before it can reach user mode.
func (d *Dispatcher) Bind(th *sched.Thread, p *proc.Process_t) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current[th.Handle] = &binding{proc: p, th: th}
}

// Unbind forgets th, called once its process has reaped it (exit) and
// it will never trap again.
func (d *Dispatcher) Unbind(th *sched.Thread) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.current, th.Handle)
}

// currentBinding resolves the thread presently running on this CPU to
// its binding, or nil if the trap arrived on an unbound thread — a
// dispatcher bug, not a user error.
func (d *Dispatcher) currentBinding() *binding {
	h := d.port.CurrentThread()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current[h]
}

// copyinString reads a NUL-terminated string of at most max bytes from
// user memory at uva.
func (d *Dispatcher) copyinString(p *proc.Process_t, uva uintptr, max int) (string, defs.Err_t) {
	buf := make([]byte, max)
	ub := vm.NewUserbuf(d.mgr, d.pages, p.AS, uva, max)
	n, err := ub.Uioread(buf)
	if err != 0 {
		return "", err
	}
	return string(ustr.MkUstrSlice(buf[:n])), 0
}

// copyinStrArray reads a NULL-terminated array of string pointers (an
// execve argv/envp array) out of user memory.
func (d *Dispatcher) copyinStrArray(p *proc.Process_t, uva uintptr) ([]string, defs.Err_t) {
	var out []string
	for i := 0; ; i++ {
		ptrBuf := make([]byte, 4)
		ub := vm.NewUserbuf(d.mgr, d.pages, p.AS, uva+uintptr(4*i), 4)
		if _, err := ub.Uioread(ptrBuf); err != 0 {
			return nil, err
		}
		sptr := uintptr(ptrBuf[0]) | uintptr(ptrBuf[1])<<8 | uintptr(ptrBuf[2])<<16 | uintptr(ptrBuf[3])<<24
		if sptr == 0 {
			break
		}
		s, err := d.copyinString(p, sptr, 4096)
		if err != 0 {
			return nil, err
		}
		out = append(out, s)
	}
	return out, 0
}

// errnoOf maps a caught exception to the errno the taxonomy names for
// it; a kind with no user-facing errno (OutOfMemory, or anything
// unrecognized) panics through the port's single chokepoint instead
// (spec §7: "OutOfMemory -> kernel panic").
func errnoOf(c *except.Cause, port arch.Port) defs.Err_t {
	switch {
	case except.Matches(except.OutOfMemory, c):
		port.Panic("out of memory: %s", c.Message)
		return -defs.ENOMEM
	case except.Matches(except.InvalidPointer, c):
		return -defs.EFAULT
	case except.Matches(except.FileOverflow, c):
		return -defs.EOVERFLOW
	case except.Matches(except.FileNotFound, c):
		return -defs.ENOENT
	case except.Matches(except.ElfException, c):
		return -defs.ENOEXEC
	case except.Matches(except.Timeout, c):
		return -defs.ETIMEDOUT
	case except.Matches(except.BlockException, c):
		return -defs.EIO
	case except.Matches(except.IntBoundsException, c):
		return -defs.EINVAL
	default:
		port.Panic("unhandled exception reached syscall boundary: %s", c.String())
		return -defs.EINVAL
	}
}

// errRet packs a negative Err_t into the register convention: the
// request register holds the return value on exit, negative meaning
// -errno (spec §6).
func errRet(err defs.Err_t) uintptr {
	return uintptr(int32(err))
}

// Dispatch is the trap entry point: regs.Eax names the call on entry
// and on return holds the result, or a negative errno (spec §6).
func (d *Dispatcher) Dispatch(regs *Regs) {
	b := d.currentBinding()
	if b == nil {
		d.port.Panic("syscall trap from unbound thread")
		return
	}
	stack := &except.Stack{}
	var ret uintptr
	except.Try(stack, func() {
		ret = d.dispatchOne(b, regs, stack)
	}, nil, except.Handler{Type: except.Throwable, Do: func(c *except.Cause) {
		ret = errRet(errnoOf(c, d.port))
	}})
	regs.Eax = ret
}

func (d *Dispatcher) dispatchOne(b *binding, regs *Regs, stack *except.Stack) uintptr {
	p := b.proc
	switch regs.Eax {
	case SYS_EXIT:
		return d.sysExit(b, regs, stack)
	case SYS_FORK:
		return d.sysFork(b, regs)
	case SYS_READ:
		return d.sysReadWrite(p, regs, false)
	case SYS_WRITE:
		return d.sysReadWrite(p, regs, true)
	case SYS_OPEN:
		return d.sysOpen(p, regs)
	case SYS_CLOSE:
		return errRet(p.Fds.Close(int(regs.Ebx)))
	case SYS_WAITPID:
		return d.sysWaitpid(p, regs, stack)
	case SYS_CREAT:
		return d.sysCreat(p, regs)
	case SYS_LINK:
		return d.sysLink(p, regs)
	case SYS_UNLINK:
		return d.sysUnlink(p, regs)
	case SYS_EXECVE:
		return d.sysExecve(p, regs, stack)
	case SYS_CHDIR:
		return d.sysChdir(p, regs)
	case SYS_TIME:
		return uintptr(d.tq.Uptime() / time.Second)
	case SYS_GETPID:
		return uintptr(p.Pid)
	case SYS_PIPE:
		return d.sysPipe(p, regs)
	case SYS_DUP:
		n, err := p.Fds.Dup(int(regs.Ebx))
		if err != 0 {
			return errRet(err)
		}
		return uintptr(n)
	case SYS_DUP2:
		n, err := p.Fds.Dup2(int(regs.Ebx), int(regs.Ecx))
		if err != 0 {
			return errRet(err)
		}
		return uintptr(n)
	case SYS_BRK:
		return errRet(p.Brk(d.mgr, d.pages, regs.Ebx))
	case SYS_GETDENTS:
		return d.sysGetdents(p, regs, false)
	case SYS_GETDENTS64:
		return d.sysGetdents(p, regs, true)
	case SYS_NANOSLEEP:
		return d.sysNanosleep(p, regs)
	default:
		return errRet(-defs.ENOSYS)
	}
}

func (d *Dispatcher) sysExit(b *binding, regs *Regs, stack *except.Stack) uintptr {
	b.proc.Exit(int(regs.Ebx), stack)
	d.sc.Exit(b.th, int(regs.Ebx), stack)
	d.Unbind(b.th)
	return 0
}

// sysFork spawns the child's first thread via the scheduler's
// fork-returns-twice primitive and binds it so its own traps resolve
// to the new process (spec §4.E/§4.L). The child's Eax==0 "fork
// returns twice" contract is the architecture port's responsibility
// (ForkThread's doc comment), not this layer's.
func (d *Dispatcher) sysFork(b *binding, regs *Regs) uintptr {
	p := b.proc
	var child *proc.Process_t
	childEntry := func() {
		th := d.sc.Current()
		if th != nil && child != nil {
			d.Bind(th, child)
		}
	}
	child, ferr := p.Fork(d.mgr, d.sc, b.th, childEntry)
	if ferr != 0 {
		return errRet(ferr)
	}
	return uintptr(child.Pid)
}

func (d *Dispatcher) sysWaitpid(p *proc.Process_t, regs *Regs, stack *except.Stack) uintptr {
	pid, status, err := p.Waitpid(defs.Pid_t(int(regs.Ebx)), stack)
	if err != 0 {
		return errRet(err)
	}
	if regs.Ecx != 0 {
		ub := vm.NewUserbuf(d.mgr, d.pages, p.AS, regs.Ecx, 4)
		us := uint32(status)
		ub.Uiowrite([]byte{byte(us), byte(us >> 8), byte(us >> 16), byte(us >> 24)})
	}
	return uintptr(pid)
}

func (d *Dispatcher) sysReadWrite(p *proc.Process_t, regs *Regs, write bool) uintptr {
	fdesc, err := p.Fds.Get(int(regs.Ebx))
	if err != 0 {
		return errRet(err)
	}
	ub := vm.NewUserbuf(d.mgr, d.pages, p.AS, regs.Ecx, int(regs.Edx))
	var n int
	if write {
		n, err = fdesc.Fops.Write(ub)
	} else {
		n, err = fdesc.Fops.Read(ub)
	}
	if err != 0 {
		return errRet(err)
	}
	return uintptr(n)
}

// lookupPath resolves path (absolute, or relative to p's cwd) to a
// vnode, turning Namev's FileNotFound throw into -ENOENT.
func lookupPath(p *proc.Process_t, path string) (vfs.Vnode_i, defs.Err_t) {
	var v vfs.Vnode_i
	var rerr defs.Err_t
	s := &except.Stack{}
	except.Try(s, func() {
		v = vfs.Namev(p.Root, p.Cwd, ustr.Ustr(path))
	}, nil, except.Handler{Type: except.FileNotFound, Do: func(c *except.Cause) {
		rerr = -defs.ENOENT
	}})
	return v, rerr
}

// lastSlash returns the index of path's final '/', or -1 if there is
// none.
func lastSlash(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return i
		}
	}
	return -1
}

// splitPath divides path into its parent directory and final
// component, the way original_source's path_split does (a bare name
// with no slash resolves its parent against ".").
func splitPath(path string) (dir, name string) {
	i := lastSlash(path)
	if i < 0 {
		return ".", path
	}
	if i == 0 {
		return "/", path[1:]
	}
	return path[:i], path[i+1:]
}

// splitParent resolves path's parent directory, returning -ENOTDIR if
// it exists but isn't one (creat/link/unlink all need a directory
// vnode to mutate).
func splitParent(p *proc.Process_t, path string) (*vfs.DirVnode_t, string, defs.Err_t) {
	dirPath, name := splitPath(path)
	v, err := lookupPath(p, dirPath)
	if err != 0 {
		return nil, "", err
	}
	dir, ok := v.(*vfs.DirVnode_t)
	if !ok {
		return nil, "", -defs.ENOTDIR
	}
	return dir, name, 0
}

func (d *Dispatcher) sysOpen(p *proc.Process_t, regs *Regs) uintptr {
	path, err := d.copyinString(p, regs.Ebx, 4096)
	if err != 0 {
		return errRet(err)
	}
	flags := int(regs.Ecx)

	v, lerr := lookupPath(p, path)
	if lerr != 0 {
		if lerr != -defs.ENOENT || flags&O_CREAT == 0 {
			return errRet(lerr)
		}
		dir, name, serr := splitParent(p, path)
		if serr != 0 {
			return errRet(serr)
		}
		file := vfs.NewFileVnode(d.pages)
		if cerr := dir.Create(name, file, vfs.DT_REG); cerr != 0 {
			return errRet(cerr)
		}
		v = file
	}

	perms := fd.FD_READ
	switch flags & 0x3 {
	case O_WRONLY:
		perms = fd.FD_WRITE
	case O_RDWR:
		perms = fd.FD_READ | fd.FD_WRITE
	}
	n, ierr := p.Fds.Install(&fd.Fd_t{Fops: vfs.NewVnodeFd(v, d.pages), Perms: perms})
	if ierr != 0 {
		return errRet(ierr)
	}
	return uintptr(n)
}

func (d *Dispatcher) sysCreat(p *proc.Process_t, regs *Regs) uintptr {
	path, err := d.copyinString(p, regs.Ebx, 4096)
	if err != 0 {
		return errRet(err)
	}
	dir, name, serr := splitParent(p, path)
	if serr != 0 {
		return errRet(serr)
	}
	file := vfs.NewFileVnode(d.pages)
	if cerr := dir.Create(name, file, vfs.DT_REG); cerr != 0 {
		return errRet(cerr)
	}
	n, ierr := p.Fds.Install(&fd.Fd_t{Fops: vfs.NewVnodeFd(file, d.pages), Perms: fd.FD_READ | fd.FD_WRITE})
	if ierr != 0 {
		return errRet(ierr)
	}
	return uintptr(n)
}

func (d *Dispatcher) sysLink(p *proc.Process_t, regs *Regs) uintptr {
	oldpath, err := d.copyinString(p, regs.Ebx, 4096)
	if err != 0 {
		return errRet(err)
	}
	newpath, err := d.copyinString(p, regs.Ecx, 4096)
	if err != 0 {
		return errRet(err)
	}
	olddir, oldname, serr := splitParent(p, oldpath)
	if serr != 0 {
		return errRet(serr)
	}
	newdir, newname, serr := splitParent(p, newpath)
	if serr != 0 {
		return errRet(serr)
	}
	if olddir != newdir {
		return errRet(-defs.EXDEV)
	}
	return errRet(newdir.Link(oldname, newname))
}

func (d *Dispatcher) sysUnlink(p *proc.Process_t, regs *Regs) uintptr {
	path, err := d.copyinString(p, regs.Ebx, 4096)
	if err != 0 {
		return errRet(err)
	}
	dir, name, serr := splitParent(p, path)
	if serr != 0 {
		return errRet(serr)
	}
	return errRet(dir.Remove(name))
}

// readWhole reads a vnode's entire contents into a freshly allocated
// kernel buffer, the way execve needs its image before proc.Exec can
// parse it as ELF.
func readWhole(v vfs.Vnode_i, pages mem.Page_i) ([]byte, defs.Err_t) {
	buf := make([]byte, v.Size())
	dst := vm.NewFakeubuf(buf)
	if _, err := vfs.Read(v, pages, 0, dst); err != 0 {
		return nil, err
	}
	return buf, 0
}

func (d *Dispatcher) sysExecve(p *proc.Process_t, regs *Regs, stack *except.Stack) uintptr {
	path, err := d.copyinString(p, regs.Ebx, 4096)
	if err != 0 {
		return errRet(err)
	}
	v, lerr := lookupPath(p, path)
	if lerr != 0 {
		return errRet(lerr)
	}
	argv, err := d.copyinStrArray(p, regs.Ecx)
	if err != 0 {
		return errRet(err)
	}
	envp, err := d.copyinStrArray(p, regs.Edx)
	if err != 0 {
		return errRet(err)
	}
	data, rerr := readWhole(v, d.pages)
	if rerr != 0 {
		return errRet(rerr)
	}
	p.Exec(d.mgr, d.pages, d.port, data, argv, envp, stack)
	return 0
}

func (d *Dispatcher) sysChdir(p *proc.Process_t, regs *Regs) uintptr {
	path, err := d.copyinString(p, regs.Ebx, 4096)
	if err != 0 {
		return errRet(err)
	}
	v, lerr := lookupPath(p, path)
	if lerr != 0 {
		return errRet(lerr)
	}
	if !v.IsDir() {
		return errRet(-defs.ENOTDIR)
	}
	p.Cwd = v
	return 0
}

func (d *Dispatcher) sysPipe(p *proc.Process_t, regs *Regs) uintptr {
	read, write, err := vfs.NewPipeFds(d.port, d.pages)
	if err != 0 {
		return errRet(err)
	}
	rn, err := p.Fds.Install(&fd.Fd_t{Fops: read, Perms: fd.FD_READ})
	if err != 0 {
		return errRet(err)
	}
	wn, err := p.Fds.Install(&fd.Fd_t{Fops: write, Perms: fd.FD_WRITE})
	if err != 0 {
		p.Fds.Close(rn)
		return errRet(err)
	}
	if regs.Ebx != 0 {
		ub := vm.NewUserbuf(d.mgr, d.pages, p.AS, regs.Ebx, 8)
		ub.Uiowrite([]byte{
			byte(rn), byte(rn >> 8), byte(rn >> 16), byte(rn >> 24),
			byte(wn), byte(wn >> 8), byte(wn >> 16), byte(wn >> 24),
		})
	}
	return 0
}

// nanosleepUnit is the register convention's time unit for
// SYS_NANOSLEEP's requested/remaining duration, despite the name —
// original_source/arch/i386/syscall.c's sys_nanosleep actually takes
// microseconds end to end, and this port keeps that register-level
// convention rather than widen it to real nanosecond precision.
const nanosleepUnit = time.Microsecond

func (d *Dispatcher) sysNanosleep(p *proc.Process_t, regs *Regs) uintptr {
	rem := d.tq.Nanosleep(time.Duration(regs.Ebx) * nanosleepUnit)
	if regs.Ecx != 0 {
		ub := vm.NewUserbuf(d.mgr, d.pages, p.AS, regs.Ecx, 4)
		us := uint32(rem / nanosleepUnit)
		ub.Uiowrite([]byte{byte(us), byte(us >> 8), byte(us >> 16), byte(us >> 24)})
	}
	return 0
}

// getdents64Fops is satisfied by an fd backing that can re-encode its
// directory entries at the 64-bit dirent width (vfs's vnode-to-fd
// adapter).
type getdents64Fops interface {
	Getdents64(dst fdops.Userio_i) (int, defs.Err_t)
}

func (d *Dispatcher) sysGetdents(p *proc.Process_t, regs *Regs, wide bool) uintptr {
	fdesc, err := p.Fds.Get(int(regs.Ebx))
	if err != 0 {
		return errRet(err)
	}
	ub := vm.NewUserbuf(d.mgr, d.pages, p.AS, regs.Ecx, int(regs.Edx))
	var n int
	if wide {
		w, ok := fdesc.Fops.(getdents64Fops)
		if !ok {
			return errRet(-defs.ENOSYS)
		}
		n, err = w.Getdents64(ub)
	} else {
		n, err = fdesc.Fops.Getdents(ub)
	}
	if err != 0 {
		return errRet(err)
	}
	return uintptr(n)
}
