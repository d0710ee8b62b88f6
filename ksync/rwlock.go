package ksync

import (
	"kernel/arch"
	"kernel/except"
)

// RWLock lets either multiple readers or a single writer hold the
// critical section (spec §4.F "RW lock"). Grounded on
// original_source/kernel/sync.c's rwlock_t.
type RWLock struct {
	port      arch.Port
	mon       *Monitor
	readcount int
	writer    arch.ThreadHandle
	hasWriter bool
}

// NewRWLock returns an unheld reader/writer lock.
func NewRWLock(port arch.Port) *RWLock {
	return &RWLock{port: port, mon: NewMonitor(port)}
}

// RLock acquires the lock for reading. A thread that already holds
// the write lock gives it up in favor of a read lock, matching the
// teacher's rwlock_read's self-downgrade case.
func (l *RWLock) RLock(s *except.Stack) {
	l.mon.Enter(s)
	self := l.port.CurrentThread()
	if l.hasWriter && self == l.writer {
		l.hasWriter = false
	} else {
		for l.hasWriter {
			l.mon.Wait(s)
		}
	}
	l.readcount++
	l.mon.Leave(s)
}

// Lock acquires the lock for writing, blocking until there are no
// readers and no other writer.
func (l *RWLock) Lock(s *except.Stack) {
	l.mon.Enter(s)
	self := l.port.CurrentThread()
	for l.readcount > 0 || l.hasWriter {
		l.mon.Wait(s)
	}
	l.writer = self
	l.hasWriter = true
	l.mon.Leave(s)
}

// Escalate upgrades a held read lock to a write lock without ever
// releasing ownership of the critical section: it blocks until this
// reader is the only one remaining, then becomes the writer (spec
// §4.F: "blocks until it is the last reader and then becomes the
// writer without yielding lock ownership").
func (l *RWLock) Escalate(s *except.Stack) {
	l.mon.Enter(s)
	self := l.port.CurrentThread()
	for l.readcount > 1 || l.hasWriter {
		l.mon.Wait(s)
	}
	l.readcount = 0
	l.writer = self
	l.hasWriter = true
	l.mon.Leave(s)
}

// Unlock releases whichever kind of hold the caller has and broadcasts
// to any blocked waiters.
func (l *RWLock) Unlock(s *except.Stack) {
	l.mon.Enter(s)
	self := l.port.CurrentThread()
	if l.hasWriter && self == l.writer {
		l.hasWriter = false
	} else {
		l.readcount--
	}
	l.mon.Broadcast(s)
	l.mon.Leave(s)
}
