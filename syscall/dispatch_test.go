package syscall

import (
	"testing"

	"kernel/arch"
	"kernel/defs"
	"kernel/except"
	"kernel/mem"
	"kernel/proc"
	"kernel/sched"
	"kernel/timer"
	"kernel/vfs"
	"kernel/vm"
)

func testPages() *mem.Physmem_t {
	p := &mem.Physmem_t{}
	p.AddRange(0, 256)
	return p
}

// testEnv builds a dispatcher with one process already current: a
// thread is spawned and scheduled so arch.RefPort.CurrentThread
// resolves to it, then bound to a freshly created process rooted at
// an empty in-memory directory.
func testEnv(t *testing.T) (*Dispatcher, *proc.Process_t, *mem.Physmem_t) {
	t.Helper()
	port := arch.NewRefPort()
	mgr := vm.NewManager(port, 4, func(*vm.AddrSpace) uintptr { return 0 })
	sc := sched.NewScheduler(port)
	tq := timer.New(port)
	pages := testPages()

	root := vfs.NewDirVnode(1)
	c := proc.NewContainer()
	p := proc.New(c, mgr, port, root)
	if err := p.Brk(mgr, pages, 16*uintptr(mem.PGSIZE)); err != 0 {
		t.Fatalf("Brk failed: %d", err)
	}

	th := sc.Spawn(sched.PrioNormal, func() {})
	sc.Schedule()

	d := NewDispatcher(port, mgr, pages, sc, tq)
	d.Bind(th, p)
	return d, p, pages
}

// putString writes s, NUL-terminated, into p's heap at the given
// offset and returns its user address.
func putString(t *testing.T, d *Dispatcher, p *proc.Process_t, offset uintptr, s string) uintptr {
	t.Helper()
	va := p.Heap.Base + offset
	ub := vm.NewUserbuf(d.mgr, d.pages, p.AS, va, len(s)+1)
	if _, err := ub.Uiowrite(append([]byte(s), 0)); err != 0 {
		t.Fatalf("putString(%q) failed: %d", s, err)
	}
	return va
}

func putBytes(t *testing.T, d *Dispatcher, p *proc.Process_t, offset uintptr, b []byte) uintptr {
	t.Helper()
	va := p.Heap.Base + offset
	ub := vm.NewUserbuf(d.mgr, d.pages, p.AS, va, len(b))
	if _, err := ub.Uiowrite(b); err != 0 {
		t.Fatalf("putBytes failed: %d", err)
	}
	return va
}

func getBytes(t *testing.T, d *Dispatcher, p *proc.Process_t, va uintptr, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	ub := vm.NewUserbuf(d.mgr, d.pages, p.AS, va, n)
	if _, err := ub.Uioread(buf); err != 0 {
		t.Fatalf("getBytes failed: %d", err)
	}
	return buf
}

func TestGetpidReturnsProcessPid(t *testing.T) {
	d, p, _ := testEnv(t)
	regs := &Regs{Eax: SYS_GETPID}
	d.Dispatch(regs)
	if regs.Eax != uintptr(p.Pid) {
		t.Fatalf("getpid returned %d, want %d", regs.Eax, p.Pid)
	}
}

func TestUnknownSyscallReturnsENOSYS(t *testing.T) {
	d, _, _ := testEnv(t)
	regs := &Regs{Eax: 9999}
	d.Dispatch(regs)
	if int32(regs.Eax) != -38 { // defs.ENOSYS
		t.Fatalf("unknown syscall returned %d, want -ENOSYS", int32(regs.Eax))
	}
}

func TestDispatchFromUnboundThreadPanics(t *testing.T) {
	port := arch.NewRefPort()
	mgr := vm.NewManager(port, 4, func(*vm.AddrSpace) uintptr { return 0 })
	sc := sched.NewScheduler(port)
	tq := timer.New(port)
	d := NewDispatcher(port, mgr, testPages(), sc, tq)

	d.Dispatch(&Regs{Eax: SYS_GETPID})
	if len(port.Panics()) == 0 {
		t.Fatal("Dispatch from an unbound thread did not panic")
	}
}

func TestCreatWriteCloseOpenReadRoundtrip(t *testing.T) {
	d, p, _ := testEnv(t)

	pathAddr := putString(t, d, p, 0, "/greeting")
	regs := &Regs{Eax: SYS_CREAT, Ebx: pathAddr}
	d.Dispatch(regs)
	fd := int(int32(regs.Eax))
	if fd < 0 {
		t.Fatalf("creat failed: %d", fd)
	}

	dataAddr := putBytes(t, d, p, 64, []byte("hello"))
	regs = &Regs{Eax: SYS_WRITE, Ebx: uintptr(fd), Ecx: dataAddr, Edx: 5}
	d.Dispatch(regs)
	if regs.Eax != 5 {
		t.Fatalf("write returned %d, want 5", regs.Eax)
	}

	regs = &Regs{Eax: SYS_CLOSE, Ebx: uintptr(fd)}
	d.Dispatch(regs)
	if regs.Eax != 0 {
		t.Fatalf("close failed: %d", int32(regs.Eax))
	}

	pathAddr = putString(t, d, p, 128, "/greeting")
	regs = &Regs{Eax: SYS_OPEN, Ebx: pathAddr, Ecx: O_RDONLY}
	d.Dispatch(regs)
	fd = int(int32(regs.Eax))
	if fd < 0 {
		t.Fatalf("open failed: %d", fd)
	}

	readAddr := p.Heap.Base + 256
	regs = &Regs{Eax: SYS_READ, Ebx: uintptr(fd), Ecx: readAddr, Edx: 5}
	d.Dispatch(regs)
	if regs.Eax != 5 {
		t.Fatalf("read returned %d, want 5", regs.Eax)
	}
	got := getBytes(t, d, p, readAddr, 5)
	if string(got) != "hello" {
		t.Fatalf("read back %q, want %q", got, "hello")
	}
}

func TestOpenNonexistentWithoutCreatFails(t *testing.T) {
	d, p, _ := testEnv(t)
	pathAddr := putString(t, d, p, 0, "/nope")
	regs := &Regs{Eax: SYS_OPEN, Ebx: pathAddr, Ecx: O_RDONLY}
	d.Dispatch(regs)
	if int32(regs.Eax) != -2 { // defs.ENOENT
		t.Fatalf("open of a missing file returned %d, want -ENOENT", int32(regs.Eax))
	}
}

func TestGetdentsListsCreatedFile(t *testing.T) {
	d, p, _ := testEnv(t)

	pathAddr := putString(t, d, p, 0, "/afile")
	regs := &Regs{Eax: SYS_CREAT, Ebx: pathAddr}
	d.Dispatch(regs)
	creatFd := int(int32(regs.Eax))
	if creatFd < 0 {
		t.Fatalf("creat failed: %d", creatFd)
	}

	rootAddr := putString(t, d, p, 64, "/")
	regs = &Regs{Eax: SYS_OPEN, Ebx: rootAddr, Ecx: O_RDONLY}
	d.Dispatch(regs)
	dirFd := int(int32(regs.Eax))
	if dirFd < 0 {
		t.Fatalf("open(\"/\") failed: %d", dirFd)
	}

	bufAddr := p.Heap.Base + 256
	regs = &Regs{Eax: SYS_GETDENTS, Ebx: uintptr(dirFd), Ecx: bufAddr, Edx: 128}
	d.Dispatch(regs)
	n := int(int32(regs.Eax))
	if n <= 0 {
		t.Fatalf("getdents returned %d, want > 0", n)
	}

	rec := getBytes(t, d, p, bufAddr, n)
	reclen := int(uint16(rec[8]) | uint16(rec[9])<<8)
	name := rec[10 : reclen-1]
	nul := len(name)
	for i, c := range name {
		if c == 0 {
			nul = i
			break
		}
	}
	if string(name[:nul]) != "afile" {
		t.Fatalf("getdents record name = %q, want %q", name[:nul], "afile")
	}
}

func TestPipeWriteThenRead(t *testing.T) {
	d, p, _ := testEnv(t)

	fdsAddr := p.Heap.Base
	regs := &Regs{Eax: SYS_PIPE, Ebx: fdsAddr}
	d.Dispatch(regs)
	if regs.Eax != 0 {
		t.Fatalf("pipe failed: %d", int32(regs.Eax))
	}
	fds := getBytes(t, d, p, fdsAddr, 8)
	readFd := int(uint32(fds[0]) | uint32(fds[1])<<8 | uint32(fds[2])<<16 | uint32(fds[3])<<24)
	writeFd := int(uint32(fds[4]) | uint32(fds[5])<<8 | uint32(fds[6])<<16 | uint32(fds[7])<<24)

	dataAddr := putBytes(t, d, p, 64, []byte("hi"))
	regs = &Regs{Eax: SYS_WRITE, Ebx: uintptr(writeFd), Ecx: dataAddr, Edx: 2}
	d.Dispatch(regs)
	if regs.Eax != 2 {
		t.Fatalf("pipe write returned %d, want 2", regs.Eax)
	}

	readAddr := p.Heap.Base + 128
	regs = &Regs{Eax: SYS_READ, Ebx: uintptr(readFd), Ecx: readAddr, Edx: 2}
	d.Dispatch(regs)
	if regs.Eax != 2 {
		t.Fatalf("pipe read returned %d, want 2", regs.Eax)
	}
	if got := getBytes(t, d, p, readAddr, 2); string(got) != "hi" {
		t.Fatalf("pipe read back %q, want %q", got, "hi")
	}
}

func TestForkThenWaitpidReapsChild(t *testing.T) {
	d, p, _ := testEnv(t)

	regs := &Regs{Eax: SYS_FORK}
	d.Dispatch(regs)
	childPid := int32(regs.Eax)
	if childPid <= 0 {
		t.Fatalf("fork failed: %d", childPid)
	}

	child, ok := p.Container.Get(defs.Pid_t(childPid))
	if !ok {
		t.Fatal("forked child not found in container")
	}
	go func() {
		s := &except.Stack{}
		child.Exit(3, s)
	}()

	statusAddr := p.Heap.Base
	regs = &Regs{Eax: SYS_WAITPID, Ebx: uintptr(int32(-1)), Ecx: statusAddr}
	d.Dispatch(regs)
	if int32(regs.Eax) != childPid {
		t.Fatalf("waitpid returned pid %d, want %d", int32(regs.Eax), childPid)
	}
	status := getBytes(t, d, p, statusAddr, 4)
	got := int32(uint32(status[0]) | uint32(status[1])<<8 | uint32(status[2])<<16 | uint32(status[3])<<24)
	if got != 3 {
		t.Fatalf("waitpid wrote status %d, want 3", got)
	}
}

func TestNanosleepZeroReturnsImmediately(t *testing.T) {
	d, _, _ := testEnv(t)
	regs := &Regs{Eax: SYS_NANOSLEEP, Ebx: 0}
	d.Dispatch(regs)
	if regs.Eax != 0 {
		t.Fatalf("nanosleep(0) returned %d, want 0", regs.Eax)
	}
}
