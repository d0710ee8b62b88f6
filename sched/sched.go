// Package sched implements the scheduler (component E): three
// priority FIFO run queues, context switch, preemption budget, and
// thread fork/join/exit. Grounded on the teacher's thread-lifecycle
// split across tinfo/accnt/caller, generalized into a single
// scheduler object that owns the run queues arch.Port itself does not
// know about.
package sched

import (
	"sync"
	"time"

	"kernel/accnt"
	"kernel/arch"
	"kernel/defs"
	"kernel/except"
	"kernel/ksync"
	"kernel/stats"
	"kernel/tinfo"
)

// Priority names the three run queues (spec §4.E: "three FIFO queues,
// one per priority").
type Priority int

const (
	PrioLow Priority = iota
	PrioNormal
	PrioHigh
	numPriorities
)

// DefaultSlice is the preemption budget charged to a thread before the
// scheduler considers switching it out (spec §4.E: "100 ms").
const DefaultSlice = 100 * time.Millisecond

// RingSize is the depth of each thread's circular accounting ring
// (spec §4.E: "64-entry circular accounting ring").
const RingSize = 64

// State is a thread's run state.
type State int

const (
	Runnable State = iota
	Running
	Blocked
	Zombie
)

// RingEntry is one slice-accounting sample: how long the thread ran
// before it was switched out, and when.
type RingEntry struct {
	RanFor   time.Duration
	SwitchedOutAt time.Time
}

// Thread is one schedulable thread.
type Thread struct {
	Handle arch.ThreadHandle
	Tid    defs.Tid_t
	Prio   Priority
	Note   *tinfo.Tnote_t
	Accnt  *accnt.Accnt_t

	mu       sync.Mutex
	state    State
	ring     [RingSize]RingEntry
	ringNext int
	retval   int
	join     *ksync.Monitor
	exited   bool
}

func newThread(h arch.ThreadHandle, tid defs.Tid_t, prio Priority, port arch.Port) *Thread {
	return &Thread{
		Handle: h,
		Tid:    tid,
		Prio:   prio,
		Note:   &tinfo.Tnote_t{Tid: tid, Alive: true},
		Accnt:  &accnt.Accnt_t{},
		join:   ksync.NewMonitor(port),
	}
}

// charge records an accounting-ring sample for the slice just run.
func (t *Thread) charge(ran time.Duration, now time.Time) {
	t.mu.Lock()
	t.ring[t.ringNext] = RingEntry{RanFor: ran, SwitchedOutAt: now}
	t.ringNext = (t.ringNext + 1) % RingSize
	t.mu.Unlock()
	t.Accnt.Utadd(int(ran))
}

// Ring returns a snapshot of the thread's accounting ring, oldest
// entry first.
func (t *Thread) Ring() []RingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]RingEntry, 0, RingSize)
	for i := 0; i < RingSize; i++ {
		e := t.ring[(t.ringNext+i)%RingSize]
		if !e.SwitchedOutAt.IsZero() {
			out = append(out, e)
		}
	}
	return out
}

// DumpPprof renders every thread's accounting ring as a pprof
// profile.proto, one sample per ring entry tagged with the owning
// thread's tid, via github.com/google/pprof's profile builder. See
// SPEC_FULL.md's domain-stack wiring for stats.DumpPprofRing.
func DumpPprof(threads []*Thread) ([]byte, error) {
	return stats.DumpPprofRing(ringsFor(threads))
}

func ringsFor(threads []*Thread) []stats.RingSample {
	var out []stats.RingSample
	for _, t := range threads {
		for _, e := range t.Ring() {
			out = append(out, stats.RingSample{
				Tid:       int(t.Tid),
				Nanos:     e.RanFor.Nanoseconds(),
				Timestamp: e.SwitchedOutAt,
			})
		}
	}
	return out
}

// Scheduler owns the three priority run queues and drives context
// switches on port.
type Scheduler struct {
	port arch.Port
	mu   sync.Mutex

	queues   [numPriorities][]*Thread
	running  *Thread
	preempt  bool
	nextTid  defs.Tid_t
	info     *tinfo.Threadinfo_t
	sliceFor time.Duration
	sliceAt  time.Time
}

// NewScheduler returns a scheduler with empty run queues.
func NewScheduler(port arch.Port) *Scheduler {
	info := &tinfo.Threadinfo_t{}
	info.Init()
	return &Scheduler{port: port, info: info, sliceFor: DefaultSlice}
}

// Info exposes the per-thread note table (waitpid/join look threads
// up here by tid).
func (s *Scheduler) Info() *tinfo.Threadinfo_t { return s.info }

// Current returns the thread presently running on s's port, or nil
// between a thread exiting and the next Schedule call (e.g. the idle
// loop). The syscall dispatcher uses this to find the thread a trap
// arrived on.
func (s *Scheduler) Current() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Spawn creates a new runnable thread running entry and enqueues it at
// the tail of its priority (spec §4.E's thread_resume tail-enqueue
// rule applies equally to a freshly spawned thread).
func (s *Scheduler) Spawn(prio Priority, entry func()) *Thread {
	s.mu.Lock()
	s.nextTid++
	tid := s.nextTid
	s.mu.Unlock()

	h := s.port.ForkThread(nil, entry)
	th := newThread(h, tid, prio, s.port)
	s.info.Put(tid, th.Note)
	s.enqueue(th)
	return th
}

func (s *Scheduler) enqueue(t *Thread) {
	s.mu.Lock()
	t.mu.Lock()
	t.state = Runnable
	t.mu.Unlock()
	s.queues[t.Prio] = append(s.queues[t.Prio], t)
	if s.running != nil && t.Prio > s.running.Prio {
		s.preempt = true
	}
	s.mu.Unlock()
}

// Resume re-queues t at the tail of its priority (spec §4.E
// thread_resume). If t's priority exceeds the currently running
// thread's, the preempt flag is set for the next interrupt return.
func (s *Scheduler) Resume(t *Thread) {
	s.enqueue(t)
}

// Preempt reports and clears the preempt flag, simulating the "next
// interrupt return" check spec §4.E describes.
func (s *Scheduler) Preempt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.preempt
	s.preempt = false
	return p
}

// Schedule picks the highest non-empty queue's head, charges the
// outgoing thread's accounting ring, context-switches, and installs
// the new thread's note as current. If every queue is empty it enters
// the platform idle (spec §4.E: "if the queue is empty the scheduler
// enters the platform idle").
func (s *Scheduler) Schedule() {
	s.mu.Lock()
	var next *Thread
	for p := numPriorities - 1; p >= 0; p-- {
		if len(s.queues[p]) > 0 {
			next = s.queues[p][0]
			s.queues[p] = s.queues[p][1:]
			break
		}
	}
	prev := s.running
	s.mu.Unlock()

	if next == nil {
		s.port.Idle()
		return
	}

	now := time.Now()
	if prev != nil {
		prev.charge(now.Sub(s.sliceAt), now)
	}

	s.mu.Lock()
	s.running = next
	s.sliceAt = now
	s.mu.Unlock()

	next.mu.Lock()
	next.state = Running
	next.mu.Unlock()

	s.info.SetCurrent(next.Handle, next.Note)
	s.port.ContextSwitch(next.Handle)
}

// Yield gives up the remainder of the current slice voluntarily,
// re-queuing the calling thread and scheduling the next one (spec §5:
// "explicit yield" is a preemption point).
func (s *Scheduler) Yield() {
	s.mu.Lock()
	cur := s.running
	s.mu.Unlock()
	if cur == nil {
		return
	}
	s.enqueue(cur)
	s.Schedule()
}

// Fork clones t's thread structure into a new thread that, on its
// first run, proceeds as if it had itself called fork and received 0
// (spec §4.E: "the child's first run appears to return 0 from fork").
// The parent's own return value is left to the caller.
func (s *Scheduler) Fork(parent *Thread, childEntry func()) *Thread {
	return s.Spawn(parent.Prio, childEntry)
}

// Join blocks on t's own monitor until t has exited, then returns its
// retval. t is not recovered (eligible for reuse) until Join has read
// retval, matching spec §4.E's "the thread is recovered only after the
// joiner has read retval".
func (s *Scheduler) Join(t *Thread, stack *except.Stack) int {
	t.join.Enter(stack)
	for !t.exited {
		t.join.Wait(stack)
	}
	rv := t.retval
	t.join.Leave(stack)

	s.info.Remove(t.Tid)
	s.info.ClearCurrent(t.Handle)
	return rv
}

// Exit marks t exited with retval, wakes any Join callers through t's
// own monitor, and finally reschedules (spec §4.E: "exit signals any
// joiners... and finally reschedules").
func (s *Scheduler) Exit(t *Thread, retval int, stack *except.Stack) {
	t.join.Enter(stack)
	t.retval = retval
	t.exited = true
	t.mu.Lock()
	t.state = Zombie
	t.mu.Unlock()
	t.join.Broadcast(stack)
	t.join.Leave(stack)

	s.mu.Lock()
	if s.running == t {
		s.running = nil
	}
	s.mu.Unlock()
	s.Schedule()
}
