package arch

import "testing"

func TestRefPortIOPortsRoundTrip(t *testing.T) {
	p := NewRefPort()
	p.Out32(0x3f8, 0xdeadbeef)
	if got := p.In32(0x3f8); got != 0xdeadbeef {
		t.Fatalf("In32 = %#x, want 0xdeadbeef", got)
	}
}

func TestRefPortIntrDisableRestoreBalances(t *testing.T) {
	p := NewRefPort()
	was := p.IntrDisable()
	if !was {
		t.Fatal("interrupts must start enabled")
	}
	was2 := p.IntrDisable()
	if was2 {
		t.Fatal("second IntrDisable must observe already-disabled state")
	}
	p.IntrRestore(was2)
	p.IntrRestore(was)
}

func TestRefPortForkThreadRunsOnContextSwitch(t *testing.T) {
	p := NewRefPort()
	done := make(chan struct{})
	h := p.ForkThread(nil, func() { close(done) })

	select {
	case <-done:
		t.Fatal("entry ran before any ContextSwitch")
	default:
	}

	p.ContextSwitch(h)
	<-done
	if p.CurrentThread() != h {
		t.Fatalf("CurrentThread = %v, want %v", p.CurrentThread(), h)
	}
}

func TestRefPortTimerFiresOnlyWhenArmed(t *testing.T) {
	p := NewRefPort()
	p.FireTimer() // no-op, nothing armed

	fired := false
	p.TimerSet(func() { fired = true }, 0)
	p.FireTimer()
	if !fired {
		t.Fatal("armed timer callback did not run")
	}

	fired = false
	p.FireTimer()
	if fired {
		t.Fatal("timer fired twice for one arm")
	}
}

func TestRefPortPanicRecordsInsteadOfKilling(t *testing.T) {
	p := NewRefPort()
	p.Panic("fault at %#x", 0x1000)
	got := p.Panics()
	if len(got) != 1 || got[0] != "fault at 0x1000" {
		t.Fatalf("Panics() = %v", got)
	}
}

func TestRefPortActiveRootPerASID(t *testing.T) {
	p := NewRefPort()
	p.SetActiveRoot(0, 0x1000)
	p.SetActiveRoot(1, 0x2000)
	r0, _ := p.ActiveRoot(0)
	r1, _ := p.ActiveRoot(1)
	if r0 != 0x1000 || r1 != 0x2000 {
		t.Fatalf("ActiveRoot mismatch: %#x %#x", r0, r1)
	}
}
