package tinfo

import (
	"testing"

	"kernel/arch"
	"kernel/defs"
)

func TestPutGetRemoveByTid(t *testing.T) {
	var ti Threadinfo_t
	ti.Init()

	n := &Tnote_t{Tid: 7, Alive: true}
	ti.Put(7, n)

	got, ok := ti.Get(7)
	if !ok || got != n {
		t.Fatal("expected to get back the note just put")
	}

	ti.Remove(7)
	if _, ok := ti.Get(7); ok {
		t.Fatal("expected note to be gone after Remove")
	}
}

func TestCurrentTracksHandleNotGoroutine(t *testing.T) {
	var ti Threadinfo_t
	ti.Init()
	port := arch.NewRefPort()

	if ti.Current(port) != nil {
		t.Fatal("expected no current note before any SetCurrent")
	}

	n := &Tnote_t{Tid: defs.Tid_t(1)}
	h := port.ForkThread(nil, func() {})
	ti.SetCurrent(h, n)
	port.ContextSwitch(h)

	if got := ti.Current(port); got != n {
		t.Fatalf("Current = %v, want %v", got, n)
	}

	ti.ClearCurrent(h)
	if ti.Current(port) != nil {
		t.Fatal("expected no current note after ClearCurrent")
	}
}
