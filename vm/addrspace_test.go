package vm

import (
	"testing"

	"kernel/arch"
	"kernel/mem"
)

func testPages() *mem.Physmem_t {
	p := &mem.Physmem_t{}
	p.AddRange(0x10, 64)
	return p
}

func TestManagerMapUnmapRoundTrip(t *testing.T) {
	port := arch.NewRefPort()
	mgr := NewManager(port, 2, func(*AddrSpace) uintptr { return 0 })
	as := mgr.NewAddrSpace()
	mgr.SetASID(as)

	pages := testPages()
	frame, _ := pages.Alloc()
	mgr.Map(as, 0x2000, frame, true, true)

	if !mgr.IsMapped(as, 0x2000) {
		t.Fatal("expected mapped")
	}
	if !mgr.IsWriteable(as, 0x2000) {
		t.Fatal("expected writeable")
	}
	if !mgr.IsUser(as, 0x2000) {
		t.Fatal("expected user")
	}
	got, ok := mgr.GetPage(as, 0x2000)
	if !ok || got != frame&^mem.PGOFFSET {
		t.Fatalf("GetPage = %#x,%v want %#x,true", got, ok, frame)
	}

	mgr.Unmap(as, 0x2000)
	if mgr.IsMapped(as, 0x2000) {
		t.Fatal("expected unmapped")
	}
}

func TestManagerEvictsLeastRecentlyUsedSlot(t *testing.T) {
	port := arch.NewRefPort()
	mgr := NewManager(port, 1, func(*AddrSpace) uintptr { return 0 })

	a := mgr.NewAddrSpace()
	b := mgr.NewAddrSpace()

	mgr.SetASID(a)
	if a.asidSlot != 0 {
		t.Fatal("expected a to take the only slot")
	}
	mgr.SetASID(b)
	if b.asidSlot != 0 || a.asidSlot != -1 {
		t.Fatal("expected b to evict a from the only slot")
	}
}

func TestManagerMirrorsKernelEntriesIntoNewSlots(t *testing.T) {
	port := arch.NewRefPort()
	mgr := NewManager(port, 2, func(*AddrSpace) uintptr { return 0 })
	mgr.MirrorKernelEntry(0xf0000000, mem.Pa_t(0x1000)|mem.PTE_P)

	as := mgr.NewAddrSpace()
	mgr.SetASID(as)
	if !mgr.IsMapped(as, 0xf0000000) {
		t.Fatal("kernel entry was not mirrored into the newly resident address space")
	}
}
