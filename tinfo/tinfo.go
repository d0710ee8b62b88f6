// Package tinfo tracks per-thread bookkeeping the scheduler needs
// outside the run queues themselves: kill/doom flags and the
// notification channel a joiner blocks on.
package tinfo

import (
	"sync"

	"kernel/arch"
	"kernel/defs"
)

// Tnote_t stores per-thread state used by the scheduler.
type Tnote_t struct {
	Tid      defs.Tid_t
	Alive    bool
	Killed   bool
	Isdoomed bool
	// protects Killed, Killnaps.Cond and Kerr, and is a leaf lock
	sync.Mutex
	Killnaps struct {
		Killch chan bool
		Cond   *sync.Cond
		Kerr   defs.Err_t
	}
}

// Doomed reports whether the thread is marked as doomed.
func (t *Tnote_t) Doomed() bool {
	return t.Isdoomed
}

// Threadinfo_t tracks every live thread note, both by tid (for
// waitpid/join lookups) and by the arch-level handle the scheduler
// currently has running (standing in for the thread-local storage a
// real kernel keeps per-CPU; Go has no goroutine-local storage, so the
// "current" note is instead keyed off whatever arch.Port.CurrentThread
// reports at the moment of the call).
type Threadinfo_t struct {
	mu    sync.Mutex
	byTid map[defs.Tid_t]*Tnote_t
	byCur map[arch.ThreadHandle]*Tnote_t
}

// Init initializes the thread info maps.
func (t *Threadinfo_t) Init() {
	t.byTid = make(map[defs.Tid_t]*Tnote_t)
	t.byCur = make(map[arch.ThreadHandle]*Tnote_t)
}

// Put registers note under tid, for waitpid/join lookups.
func (t *Threadinfo_t) Put(tid defs.Tid_t, note *Tnote_t) {
	t.mu.Lock()
	t.byTid[tid] = note
	t.mu.Unlock()
}

// Get looks up a note by tid.
func (t *Threadinfo_t) Get(tid defs.Tid_t) (*Tnote_t, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.byTid[tid]
	return n, ok
}

// Remove drops tid's note once it has been reaped.
func (t *Threadinfo_t) Remove(tid defs.Tid_t) {
	t.mu.Lock()
	delete(t.byTid, tid)
	t.mu.Unlock()
}

// SetCurrent installs note as the note belonging to whichever thread
// handle is running, called by the scheduler immediately after a
// context switch lands on that handle.
func (t *Threadinfo_t) SetCurrent(h arch.ThreadHandle, note *Tnote_t) {
	t.mu.Lock()
	t.byCur[h] = note
	t.mu.Unlock()
}

// Current returns the note for the thread handle currently running on
// port, or nil if none has been installed.
func (t *Threadinfo_t) Current(port arch.Port) *Tnote_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byCur[port.CurrentThread()]
}

// ClearCurrent removes whatever note is installed for h.
func (t *Threadinfo_t) ClearCurrent(h arch.ThreadHandle) {
	t.mu.Lock()
	delete(t.byCur, h)
	t.mu.Unlock()
}
