package ksync

import (
	"runtime"
	"sync"
	"time"

	"kernel/arch"
	"kernel/caller"
	"kernel/except"
)

// watchdogPeriod mirrors original_source/kernel/sync.c's
// `0 == (attempts & 0xffff)`: the deadlock graph is walked only every
// 65536 failed acquire attempts, not on every spin.
const watchdogPeriod = 0xffff

var (
	waitingForMu sync.Mutex
	waitingFor   = map[arch.ThreadHandle]*InterruptMonitor{}
)

// InterruptMonitor combines a spinlock with a FIFO wait queue, safe to
// acquire from code whose local interrupts may be masked (spec §4.F
// "Interrupt-monitor").
type InterruptMonitor struct {
	port arch.Port
	mu   sync.Mutex

	owner   arch.ThreadHandle
	hasOwner bool
	waiting []*imWaiter
}

type imWaiter struct {
	ch          chan struct{}
	interrupted bool
	thread      arch.ThreadHandle
}

// NewInterruptMonitor returns an unheld interrupt-monitor.
func NewInterruptMonitor(port arch.Port) *InterruptMonitor {
	return &InterruptMonitor{port: port}
}

// Enter acquires the monitor, registering an exception-only release
// on s so a throw while the monitor is held still unlocks it (spec
// §4.F: "Release pops the exception-onerror scope pushed during
// acquire, guaranteeing release on any propagation path"). The
// returned cancel must be invoked by a subsequent Leave on the normal
// path.
func (m *InterruptMonitor) Enter(s *except.Stack) (cancel func()) {
	self := m.port.CurrentThread()

	waitingForMu.Lock()
	prev, hadPrev := waitingFor[self]
	waitingFor[self] = m
	waitingForMu.Unlock()

	attempts := 0
	for !m.mu.TryLock() {
		attempts++
		if attempts&watchdogPeriod == 0 {
			if deadlockCycle(self) {
				caller.Callerdump(2)
				runtime.Gosched()
			}
		}
	}

	waitingForMu.Lock()
	if hadPrev {
		waitingFor[self] = prev
	} else {
		delete(waitingFor, self)
	}
	waitingForMu.Unlock()

	m.owner = self
	m.hasOwner = true
	return s.DeferOnError(func() { m.leaveLocked() })
}

// Leave releases the monitor and cancels the exception-only release
// Enter registered, so it does not fire again.
func (m *InterruptMonitor) Leave(cancel func()) {
	m.leaveLocked()
	cancel()
}

func (m *InterruptMonitor) leaveLocked() {
	m.hasOwner = false
	m.mu.Unlock()
}

// Wait enqueues the caller, unlocks, and blocks until signaled; on
// wake it re-acquires before returning (spec §4.F "wait enqueues the
// caller on the waiters list, unlocks, schedules, and re-acquires on
// wake").
func (m *InterruptMonitor) Wait() {
	m.WaitTimeout(0)
}

// WaitTimeout behaves like Wait but throws except.Timeout if d elapses
// first (d == 0 means wait forever). The waiter is removed from the
// queue before the throw, and the monitor is re-acquired either way
// before WaitTimeout returns or throws.
func (m *InterruptMonitor) WaitTimeout(d time.Duration) {
	self := m.port.CurrentThread()
	w := &imWaiter{ch: make(chan struct{}, 1), thread: self}
	m.waiting = append(m.waiting, w)

	var timer *time.Timer
	if d > 0 {
		timer = time.AfterFunc(d, func() {
			m.mu.Lock()
			for i, c := range m.waiting {
				if c == w {
					m.waiting = append(m.waiting[:i], m.waiting[i+1:]...)
					w.interrupted = true
					select {
					case w.ch <- struct{}{}:
					default:
					}
					break
				}
			}
			m.mu.Unlock()
		})
	}

	m.leaveLocked()
	<-w.ch
	m.mu.Lock()
	m.owner = self
	m.hasOwner = true

	if timer != nil {
		timer.Stop()
	}
	if w.interrupted {
		except.Throw(except.Timeout, "ksync", 0, "interrupt-monitor wait timed out")
	}
}

// Signal wakes the longest-waiting thread, if any.
func (m *InterruptMonitor) Signal() {
	if len(m.waiting) == 0 {
		return
	}
	w := m.waiting[0]
	m.waiting = m.waiting[1:]
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

// Broadcast wakes every waiting thread, in FIFO order.
func (m *InterruptMonitor) Broadcast() {
	for len(m.waiting) > 0 {
		m.Signal()
	}
}

// deadlockCycle walks the waits-for graph starting at self, returning
// true if following it leads back to a node already visited — the
// same visited-set walk as
// original_source's interrupt_monitor_deadlock_visit_thread/monitor,
// just over Go maps instead of a treap.
func deadlockCycle(self arch.ThreadHandle) bool {
	waitingForMu.Lock()
	defer waitingForMu.Unlock()

	visitedThreads := map[arch.ThreadHandle]bool{}
	visitedMonitors := map[*InterruptMonitor]bool{}

	var visitThread func(arch.ThreadHandle) bool
	var visitMonitor func(*InterruptMonitor) bool

	visitThread = func(t arch.ThreadHandle) bool {
		if visitedThreads[t] {
			return true
		}
		visitedThreads[t] = true
		mon, ok := waitingFor[t]
		if !ok {
			return false
		}
		return visitMonitor(mon)
	}

	visitMonitor = func(mon *InterruptMonitor) bool {
		if visitedMonitors[mon] {
			return true
		}
		visitedMonitors[mon] = true
		for _, w := range mon.waiting {
			if visitThread(w.thread) {
				return true
			}
		}
		if mon.hasOwner {
			return visitThread(mon.owner)
		}
		return false
	}

	return visitThread(self)
}
