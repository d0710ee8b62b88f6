package vm

import (
	"testing"

	"kernel/arch"
	"kernel/mem"
)

func setup(t *testing.T) (*Manager, *mem.Physmem_t, *AddrSpace) {
	t.Helper()
	port := arch.NewRefPort()
	mgr := NewManager(port, 2, func(*AddrSpace) uintptr { return 0 })
	pages := testPages()
	as := mgr.NewAddrSpace()
	mgr.SetASID(as)
	return mgr, pages, as
}

func TestPageFaultAnonReadThenWrite(t *testing.T) {
	mgr, pages, as := setup(t)
	seg := &Segment{Base: 0x1000, Len: uintptr(mem.PGSIZE), Perms: mem.PTE_U | mem.PTE_W, Obj: NewAnonObject()}
	as.AddSegment(seg)

	if err := PageFault(mgr, pages, as, 0x1000, false); err != 0 {
		t.Fatalf("read fault: %v", err)
	}
	if mgr.IsWriteable(as, 0x1000) {
		t.Fatal("first read fault must install a read-only (COW) mapping")
	}

	if err := PageFault(mgr, pages, as, 0x1000, true); err != 0 {
		t.Fatalf("write fault: %v", err)
	}
	if !mgr.IsWriteable(as, 0x1000) {
		t.Fatal("write fault must install a writeable mapping")
	}
}

func TestPageFaultOutsideSegmentIsEFAULT(t *testing.T) {
	mgr, pages, as := setup(t)
	seg := &Segment{Base: 0x1000, Len: uintptr(mem.PGSIZE), Perms: mem.PTE_U | mem.PTE_W, Obj: NewAnonObject()}
	as.AddSegment(seg)

	if err := PageFault(mgr, pages, as, 0x9000, false); err == 0 {
		t.Fatal("expected EFAULT outside every segment")
	}
}

func TestPageFaultWriteToReadOnlySegmentIsEFAULT(t *testing.T) {
	mgr, pages, as := setup(t)
	seg := &Segment{Base: 0x1000, Len: uintptr(mem.PGSIZE), Perms: mem.PTE_U, Obj: NewAnonObject()}
	as.AddSegment(seg)

	if err := PageFault(mgr, pages, as, 0x1000, true); err == 0 {
		t.Fatal("expected EFAULT writing to a read-only segment")
	}
}

func TestPageFaultGuardSegmentIsEFAULT(t *testing.T) {
	mgr, pages, as := setup(t)
	seg := &Segment{Base: 0x1000, Len: uintptr(mem.PGSIZE), Perms: 0, Obj: NewAnonObject()}
	as.AddSegment(seg)

	if err := PageFault(mgr, pages, as, 0x1000, false); err == 0 {
		t.Fatal("expected EFAULT faulting into a guard segment")
	}
}

func TestSegmentCopyPrivateIsCOWIndependent(t *testing.T) {
	mgr, pages, as1 := setup(t)
	seg := &Segment{Base: 0x1000, Len: uintptr(mem.PGSIZE), Perms: mem.PTE_U | mem.PTE_W, Obj: NewAnonObject()}
	as1.AddSegment(seg)
	if err := PageFault(mgr, pages, as1, 0x1000, true); err != 0 {
		t.Fatalf("fault: %v", err)
	}
	orig, _ := mgr.GetPage(as1, 0x1000)

	childSeg := SegmentCopy(mgr, seg, true)
	as2 := mgr.NewAddrSpace()
	mgr.SetASID(as2)
	as2.AddSegment(childSeg)

	if err := PageFault(mgr, pages, as2, 0x1000, true); err != 0 {
		t.Fatalf("child fault: %v", err)
	}
	childFrame, _ := mgr.GetPage(as2, 0x1000)
	if childFrame == orig {
		t.Fatal("private copy must fault to a distinct frame once either side writes")
	}
}

func TestSegmentCopySharedSeesSameWrites(t *testing.T) {
	mgr, pages, as1 := setup(t)
	seg := &Segment{Base: 0x1000, Len: uintptr(mem.PGSIZE), Perms: mem.PTE_U | mem.PTE_W, Obj: NewAnonObject()}
	as1.AddSegment(seg)
	if err := PageFault(mgr, pages, as1, 0x1000, true); err != 0 {
		t.Fatalf("fault: %v", err)
	}
	orig, _ := mgr.GetPage(as1, 0x1000)

	sharedSeg := SegmentCopy(mgr, seg, false)
	as2 := mgr.NewAddrSpace()
	mgr.SetASID(as2)
	as2.AddSegment(sharedSeg)

	if err := PageFault(mgr, pages, as2, 0x1000, true); err != 0 {
		t.Fatalf("shared fault: %v", err)
	}
	shared, _ := mgr.GetPage(as2, 0x1000)
	if shared != orig {
		t.Fatal("shared copy must fault to the same frame")
	}
}

// TestForkDemotesParentMappingToReadOnly is scenario S2: a parent
// write-faults a page (making its own mapping writeable), forks
// privately, and must lose that writeability immediately — before the
// child ever touches the page — since the frame is now shared.
func TestForkDemotesParentMappingToReadOnly(t *testing.T) {
	mgr, pages, as1 := setup(t)
	seg := &Segment{Base: 0x1000, Len: uintptr(mem.PGSIZE), Perms: mem.PTE_U | mem.PTE_W, Obj: NewAnonObject()}
	as1.AddSegment(seg)
	if err := PageFault(mgr, pages, as1, 0x1000, true); err != 0 {
		t.Fatalf("fault: %v", err)
	}
	if !mgr.IsWriteable(as1, 0x1000) {
		t.Fatal("write fault must install a writeable mapping")
	}
	frame, _ := mgr.GetPage(as1, 0x1000)
	pages.Dmap(frame)[0] = 0xAA

	childSeg := SegmentCopy(mgr, seg, true)
	as2 := mgr.NewAddrSpace()
	mgr.SetASID(as2)
	as2.AddSegment(childSeg)

	if mgr.IsWriteable(as1, 0x1000) {
		t.Fatal("forking must demote the parent's own mapping to read-only")
	}

	if err := PageFault(mgr, pages, as2, 0x1000, true); err != 0 {
		t.Fatalf("child fault: %v", err)
	}
	childFrame, _ := mgr.GetPage(as2, 0x1000)
	pages.Dmap(childFrame)[0] = 0x55

	if got := pages.Dmap(frame)[0]; got != 0xAA {
		t.Fatalf("parent's frame changed to %#x after child's write, want unchanged 0xAA", got)
	}
}
