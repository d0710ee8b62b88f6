package fd

import (
	"testing"

	"kernel/defs"
	"kernel/fdops"
	"kernel/stat"
)

type fakeFops struct {
	closed  int
	reopens int
}

func (f *fakeFops) Close() defs.Err_t                         { f.closed++; return 0 }
func (f *fakeFops) Fstat(st *stat.Stat_t) defs.Err_t          { return 0 }
func (f *fakeFops) Lseek(off, whence int) (int, defs.Err_t)   { return off, 0 }
func (f *fakeFops) Read(dst fdops.Userio_i) (int, defs.Err_t) { return 0, 0 }
func (f *fakeFops) Write(src fdops.Userio_i) (int, defs.Err_t) { return 0, 0 }
func (f *fakeFops) Reopen() defs.Err_t                        { f.reopens++; return 0 }
func (f *fakeFops) Getdents(dst fdops.Userio_i) (int, defs.Err_t) {
	return 0, -defs.ENOTDIR
}

func TestInstallPicksLowestFreeSlot(t *testing.T) {
	var t1 Fdtable_t
	a, err := t1.Install(&Fd_t{Fops: &fakeFops{}})
	if err != 0 || a != 0 {
		t.Fatalf("Install #1 = %d, %d, want 0, 0", a, err)
	}
	b, err := t1.Install(&Fd_t{Fops: &fakeFops{}})
	if err != 0 || b != 1 {
		t.Fatalf("Install #2 = %d, %d, want 1, 0", b, err)
	}
	if err := t1.Close(a); err != 0 {
		t.Fatalf("Close(%d) = %d, want 0", a, err)
	}
	c, err := t1.Install(&Fd_t{Fops: &fakeFops{}})
	if err != 0 || c != a {
		t.Fatalf("Install after Close = %d, want reused slot %d", c, a)
	}
}

func TestCloseRunsDownRefcountBeforeClosingBacking(t *testing.T) {
	var t1 Fdtable_t
	ops := &fakeFops{}
	a, _ := t1.Install(&Fd_t{Fops: ops})
	b, err := t1.Dup(a)
	if err != 0 {
		t.Fatalf("Dup: %d", err)
	}

	if err := t1.Close(a); err != 0 {
		t.Fatalf("Close(a): %d", err)
	}
	if ops.closed != 0 {
		t.Fatalf("backing closed after first Close, want still open (dup outstanding)")
	}
	if err := t1.Close(b); err != 0 {
		t.Fatalf("Close(b): %d", err)
	}
	if ops.closed != 1 {
		t.Fatalf("closed = %d, want 1 after last reference released", ops.closed)
	}
}

func TestDup2ClosesPreviousOccupant(t *testing.T) {
	var t1 Fdtable_t
	src := &fakeFops{}
	victim := &fakeFops{}
	a, _ := t1.Install(&Fd_t{Fops: src})
	v, _ := t1.Install(&Fd_t{Fops: victim})

	if _, err := t1.Dup2(a, v); err != 0 {
		t.Fatalf("Dup2: %d", err)
	}
	if victim.closed != 1 {
		t.Fatalf("victim.closed = %d, want 1", victim.closed)
	}
	got, err := t1.Get(v)
	if err != 0 || got.Fops != src {
		t.Fatalf("Get(v) did not return the fd installed by Dup2")
	}
}

func TestForkSharesEntriesWithBumpedRefcount(t *testing.T) {
	var parent Fdtable_t
	ops := &fakeFops{}
	a, _ := parent.Install(&Fd_t{Fops: ops})

	child := parent.Fork()
	if err := child.Close(a); err != 0 {
		t.Fatalf("child Close: %d", err)
	}
	if ops.closed != 0 {
		t.Fatal("backing closed while parent's reference is still live")
	}
	if err := parent.Close(a); err != 0 {
		t.Fatalf("parent Close: %d", err)
	}
	if ops.closed != 1 {
		t.Fatalf("closed = %d, want 1 after both tables released", ops.closed)
	}
}

func TestGetOnEmptySlotReturnsEBADF(t *testing.T) {
	var t1 Fdtable_t
	if _, err := t1.Get(5); err != -defs.EBADF {
		t.Fatalf("Get on empty slot = %d, want -EBADF", err)
	}
}

func TestInstallReturnsEMFILEWhenFull(t *testing.T) {
	var t1 Fdtable_t
	for i := 0; i < MaxFile; i++ {
		if _, err := t1.Install(&Fd_t{Fops: &fakeFops{}}); err != 0 {
			t.Fatalf("Install #%d failed early: %d", i, err)
		}
	}
	if _, err := t1.Install(&Fd_t{Fops: &fakeFops{}}); err != -defs.EMFILE {
		t.Fatalf("Install on full table = %d, want -EMFILE", err)
	}
}
