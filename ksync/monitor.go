package ksync

import (
	"time"

	"kernel/arch"
	"kernel/except"
)

// Monitor composes an InterruptMonitor with a recursion count:
// reentrant for the owner, fair (FIFO) otherwise (spec §4.F
// "Monitor"). Grounded on original_source/kernel/sync.c's monitor_t.
type Monitor struct {
	port  arch.Port
	lock  *InterruptMonitor
	owner arch.ThreadHandle
	has   bool
	count int
}

// NewMonitor returns an unheld, reentrant monitor.
func NewMonitor(port arch.Port) *Monitor {
	return &Monitor{port: port, lock: NewInterruptMonitor(port)}
}

// Enter locks the monitor, blocking while it is held by another
// thread; re-entrant for the current owner.
func (m *Monitor) Enter(s *except.Stack) {
	cancel := m.lock.Enter(s)
	self := m.port.CurrentThread()
	for m.has && self != m.owner {
		m.lock.Wait()
	}
	m.owner = self
	m.has = true
	m.count++
	m.lock.Leave(cancel)
}

// Leave unlocks one level of recursion; the monitor becomes free and
// signals a waiter once count reaches zero.
func (m *Monitor) Leave(s *except.Stack) {
	cancel := m.lock.Enter(s)
	m.count--
	if m.count == 0 {
		m.has = false
		m.lock.Signal()
	}
	m.lock.Leave(cancel)
}

// Wait releases the monitor (dropping its recursion count to zero for
// the duration) and blocks until Signal/Broadcast wakes it, then
// restores the prior recursion count.
func (m *Monitor) Wait(s *except.Stack) {
	m.WaitTimeout(s, 0)
}

// WaitTimeout is Wait with an expiry, throwing except.Timeout if d
// elapses first.
func (m *Monitor) WaitTimeout(s *except.Stack, d time.Duration) {
	cancel := m.lock.Enter(s)
	count := m.count
	m.count = 0
	m.has = false
	m.lock.WaitTimeout(d)
	m.owner = m.port.CurrentThread()
	m.has = true
	m.count = count
	m.lock.Leave(cancel)
}

// Signal wakes the longest-waiting thread.
func (m *Monitor) Signal(s *except.Stack) {
	cancel := m.lock.Enter(s)
	m.lock.Signal()
	m.lock.Leave(cancel)
}

// Broadcast wakes every waiting thread.
func (m *Monitor) Broadcast(s *except.Stack) {
	cancel := m.lock.Enter(s)
	m.lock.Broadcast()
	m.lock.Leave(cancel)
}
