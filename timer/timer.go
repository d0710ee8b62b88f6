// Package timer implements the timer service (component G): one
// hardware oneshot expressed as an ordered delta queue, uptime
// tracking, sleep/nanosleep, and a dedicated timer thread that runs
// expired callbacks outside interrupt context. Grounded on
// original_source/kernel/timer.c, reexpressed over container/list
// instead of the original's hand-rolled intrusive doubly-linked list
// and using ksync's interrupt-monitor for the timers lock and the
// sleep/expired-thread handoff, since that monitor already gives this
// package the exact wait/signal semantics original_source hand-codes.
package timer

import (
	"container/list"
	"sync"
	"time"

	"kernel/arch"
	"kernel/except"
	"kernel/ksync"
)

// Event is one pending or expired timer entry. Delta is the time
// remaining before this entry fires, relative to the entry before it
// in the queue — the delta-queue encoding original_source's
// timer_add/timer_start implement.
type Event struct {
	delta time.Duration
	cb    func(arg interface{})
	arg   interface{}
	elem  *list.Element
}

// Queue is the kernel's single timer service: one arch-level oneshot
// multiplexed across every pending Event.
type Queue struct {
	port arch.Port
	lock *ksync.InterruptMonitor

	queue   *list.List // ordered by delta, nearest deadline first
	expired *list.List
	running bool
	uptime  time.Duration

	startOnce sync.Once
}

// New returns a timer queue and starts its dedicated expiry-processing
// thread (original_source's timer_expire_thread).
func New(port arch.Port) *Queue {
	q := &Queue{
		port:    port,
		lock:    ksync.NewInterruptMonitor(port),
		queue:   list.New(),
		expired: list.New(),
	}
	q.startOnce.Do(func() { go q.expireLoop() })
	return q
}

func (q *Queue) expireLoop() {
	s := &except.Stack{}
	for {
		cancel := q.lock.Enter(s)
		for q.expired.Len() == 0 {
			q.lock.Wait()
		}
		batch := q.expired
		q.expired = list.New()
		q.lock.Leave(cancel)

		for e := batch.Front(); e != nil; e = e.Next() {
			ev := e.Value.(*Event)
			if ev.cb != nil {
				ev.cb(ev.arg)
			}
		}
	}
}

// doSet arms the hardware oneshot for the current head, if any and not
// already armed. Caller must hold q.lock.
func (q *Queue) doSet() {
	if q.queue.Len() > 0 && !q.running {
		q.running = true
		head := q.queue.Front().Value.(*Event)
		q.port.TimerSet(q.expire, head.delta)
	}
}

// doClear disarms the hardware oneshot, crediting uptime with the time
// actually elapsed and folding the unused remainder back into the
// head's delta. Caller must hold q.lock.
func (q *Queue) doClear() {
	if q.queue.Len() > 0 && q.running {
		q.running = false
		remaining := q.port.TimerClear()
		head := q.queue.Front().Value.(*Event)
		q.uptime += head.delta - remaining
		head.delta = remaining
	}
}

// Add schedules cb(arg) to run after d elapses (original_source's
// timer_add): it finds its insertion point by successively subtracting
// from each entry's delta, splices in, and resets the oneshot to the
// new head.
func (q *Queue) Add(d time.Duration, cb func(arg interface{}), arg interface{}) *Event {
	s := &except.Stack{}
	cancel := q.lock.Enter(s)
	defer q.lock.Leave(cancel)

	q.doClear()

	ev := &Event{delta: d, cb: cb, arg: arg}
	e := q.queue.Front()
	for e != nil {
		cur := e.Value.(*Event)
		if ev.delta < cur.delta {
			cur.delta -= ev.delta
			break
		}
		ev.delta -= cur.delta
		e = e.Next()
	}
	if e != nil {
		ev.elem = q.queue.InsertBefore(ev, e)
	} else {
		ev.elem = q.queue.PushBack(ev)
	}

	q.doSet()
	return ev
}

// Delete cancels a pending event. A no-op if ev has already fired.
func (q *Queue) Delete(ev *Event) {
	s := &except.Stack{}
	cancel := q.lock.Enter(s)
	defer q.lock.Leave(cancel)

	if ev.elem == nil {
		return
	}
	q.doClear()
	q.queue.Remove(ev.elem)
	ev.elem = nil
	ev.cb = nil
	q.doSet()
}

// expire is installed as the arch timer callback: it moves every
// zero-delta entry (the one that just fired, plus any sharing its
// deadline) to the expired list, rearms for the next head if present,
// and wakes the expiry thread.
func (q *Queue) expire() {
	s := &except.Stack{}
	cancel := q.lock.Enter(s)
	defer q.lock.Leave(cancel)

	q.running = false
	if q.queue.Len() == 0 {
		return
	}

	front := q.queue.Front()
	head := front.Value.(*Event)
	q.uptime += head.delta
	q.queue.Remove(front)
	head.elem = nil
	q.expired.PushBack(head)

	for q.queue.Len() > 0 && q.queue.Front().Value.(*Event).delta == 0 {
		e := q.queue.Front()
		ev := e.Value.(*Event)
		q.queue.Remove(e)
		ev.elem = nil
		q.expired.PushBack(ev)
	}

	if q.queue.Len() > 0 {
		nh := q.queue.Front().Value.(*Event)
		q.port.TimerSet(q.expire, nh.delta)
		q.running = true
	}
	q.lock.Broadcast()
}

// Uptime returns monotone elapsed time since the queue was created,
// accumulated at every set/clear boundary (spec §4.G).
func (q *Queue) Uptime() time.Duration {
	s := &except.Stack{}
	cancel := q.lock.Enter(s)
	defer q.lock.Leave(cancel)

	q.doClear()
	t := q.uptime
	q.doSet()
	return t
}

// Sleep blocks the calling goroutine on an interrupt-monitor until a
// one-shot callback d in the future sets its done flag (spec §4.G).
func (q *Queue) Sleep(d time.Duration) {
	mon := ksync.NewInterruptMonitor(q.port)
	done := false

	q.Add(d, func(arg interface{}) {
		cs := &except.Stack{}
		cancel := mon.Enter(cs)
		done = true
		mon.Broadcast()
		mon.Leave(cancel)
	}, nil)

	s := &except.Stack{}
	cancel := mon.Enter(s)
	for !done {
		mon.Wait()
	}
	mon.Leave(cancel)
}

// Nanosleep converts and delegates to Sleep (spec §4.G); the returned
// duration is always zero, since this port never interrupts a sleep
// early (no asynchronous cancellation — spec §5).
func (q *Queue) Nanosleep(req time.Duration) (rem time.Duration) {
	q.Sleep(req)
	return 0
}
