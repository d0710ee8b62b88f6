package proc

import (
	"testing"

	"kernel/arch"
	"kernel/except"
	"kernel/mem"
	"kernel/sched"
	"kernel/vm"
)

func testPages() *mem.Physmem_t {
	p := &mem.Physmem_t{}
	p.AddRange(0, 256)
	return p
}

func testEnv(t *testing.T) (*vm.Manager, *arch.RefPort, *sched.Scheduler) {
	t.Helper()
	port := arch.NewRefPort()
	mgr := vm.NewManager(port, 4, func(*vm.AddrSpace) uintptr { return 0 })
	sc := sched.NewScheduler(port)
	return mgr, port, sc
}

func TestForkClonesSegmentsAndDupsFdTable(t *testing.T) {
	mgr, port, sc := testEnv(t)
	c := NewContainer()
	parent := New(c, mgr, port, nil)

	parentTh := sc.Spawn(sched.PrioNormal, func() {})

	child, err := parent.Fork(mgr, sc, parentTh, func() {})
	if err != 0 {
		t.Fatalf("Fork failed: %d", err)
	}
	if child.Pid == parent.Pid {
		t.Fatal("child got the same pid as the parent")
	}
	if child.AS == parent.AS {
		t.Fatal("child shares the parent's address space pointer")
	}
	if len(child.AS.Segments()) != len(parent.AS.Segments()) {
		t.Fatalf("child has %d segments, parent has %d", len(child.AS.Segments()), len(parent.AS.Segments()))
	}
	if _, ok := c.Get(child.Pid); !ok {
		t.Fatal("child was not registered in the container")
	}
}

func TestWaitpidReapsExitedChild(t *testing.T) {
	mgr, port, sc := testEnv(t)
	c := NewContainer()
	parent := New(c, mgr, port, nil)
	parentTh := sc.Spawn(sched.PrioNormal, func() {})

	child, _ := parent.Fork(mgr, sc, parentTh, func() {})

	go func() {
		s := &except.Stack{}
		child.Exit(7, s)
	}()

	s := &except.Stack{}
	pid, status, err := parent.Waitpid(-1, s)
	if err != 0 {
		t.Fatalf("Waitpid failed: %d", err)
	}
	if pid != child.Pid {
		t.Fatalf("Waitpid returned pid %d, want %d", pid, child.Pid)
	}
	if status != 7 {
		t.Fatalf("Waitpid returned status %d, want 7", status)
	}
	if _, ok := c.Get(child.Pid); ok {
		t.Fatal("child was not removed from the container after reaping")
	}
}

func TestWaitpidWithNoChildrenReturnsECHILD(t *testing.T) {
	mgr, port, _ := testEnv(t)
	c := NewContainer()
	parent := New(c, mgr, port, nil)

	s := &except.Stack{}
	_, _, err := parent.Waitpid(-1, s)
	if err != -10 { // defs.ECHILD
		t.Fatalf("Waitpid with no children = %d, want -ECHILD", err)
	}
}

func TestBrkGrowsThenShrinksHeap(t *testing.T) {
	mgr, port, _ := testEnv(t)
	c := NewContainer()
	p := New(c, mgr, port, nil)
	pages := testPages()

	if err := p.Brk(mgr, pages, uintptr(2*mem.PGSIZE)); err != 0 {
		t.Fatalf("Brk grow failed: %d", err)
	}
	if p.Heap.Len != uintptr(2*mem.PGSIZE) {
		t.Fatalf("heap len = %d, want %d", p.Heap.Len, 2*mem.PGSIZE)
	}

	// Fault in the first heap page so brk-shrink has something to unmap.
	if err := vm.PageFault(mgr, pages, p.AS, p.Heap.Base, true); err != 0 {
		t.Fatalf("heap page fault failed: %d", err)
	}
	if !mgr.IsMapped(p.AS, p.Heap.Base) {
		t.Fatal("heap page did not end up mapped after the fault")
	}

	if err := p.Brk(mgr, pages, 0); err != 0 {
		t.Fatalf("Brk shrink failed: %d", err)
	}
	if mgr.IsMapped(p.AS, p.Heap.Base) {
		t.Fatal("heap page still mapped after shrinking past it")
	}
}
