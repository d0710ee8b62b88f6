// Package ksync implements the synchronization primitives (component
// F): spinlock, interrupt-monitor with a deadlock watchdog and
// timeout, monitor, and reader/writer lock. Grounded on
// original_source/kernel/sync.c — reexpressed with a real mutex
// standing in for the CAS spin loop (busy-waiting a goroutine buys
// nothing a blocking acquire doesn't already give the single logical
// CPU this design targets) while keeping the interrupt-masking
// discipline and deadlock watchdog that spec §4.F requires.
package ksync

import (
	"sync"

	"kernel/arch"
)

// Spinlock masks local interrupts on acquire and restores them on
// release; single holder (spec §4.F "Spinlock").
type Spinlock struct {
	port arch.Port
	mu   sync.Mutex

	held       bool
	wasEnabled bool
}

// NewSpinlock returns a spinlock that masks interrupts through port.
func NewSpinlock(port arch.Port) *Spinlock {
	return &Spinlock{port: port}
}

func (s *Spinlock) Lock() {
	was := s.port.IntrDisable()
	s.mu.Lock()
	s.wasEnabled = was
	s.held = true
}

func (s *Spinlock) Unlock() {
	s.held = false
	was := s.wasEnabled
	s.mu.Unlock()
	s.port.IntrRestore(was)
}
