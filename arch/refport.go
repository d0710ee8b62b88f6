package arch

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// RefPort is the reference architecture port: a software simulation of
// every primitive Port requires, sufficient to drive the kernel core
// under `go test` without real hardware. Spec §6's "On-the-wire page
// table bits" section names this port explicitly as the one whose bit
// layout (mem.PTE_P/PTE_W/PTE_U) the rest of the design assumes.
type RefPort struct {
	mu          sync.Mutex
	ioports     map[uint16]uint32
	intrEnabled bool

	threads    map[ThreadHandle]*refThread
	current    ThreadHandle
	nextHandle int64

	timerCB      func()
	timerArmed   bool
	timerBudget  time.Duration

	panics []string

	startUserCalls []StartUserCall
	activeRoots    map[int]uintptr
	eois           []int
}

// StartUserCall records one StartUser invocation for tests to assert
// against (entry/stack contents the way S6 in spec §8 checks).
type StartUserCall struct {
	Entry uintptr
	SP    uintptr
}

type refThread struct {
	resume chan struct{}
}

// NewRefPort constructs a ready-to-use reference port.
func NewRefPort() *RefPort {
	return &RefPort{
		ioports:     make(map[uint16]uint32),
		intrEnabled: true,
		threads:     make(map[ThreadHandle]*refThread),
		activeRoots: make(map[int]uintptr),
	}
}

func (r *RefPort) In8(port uint16) uint8   { return uint8(r.in(port)) }
func (r *RefPort) In16(port uint16) uint16 { return uint16(r.in(port)) }
func (r *RefPort) In32(port uint16) uint32 { return r.in(port) }

func (r *RefPort) in(port uint16) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ioports[port]
}

func (r *RefPort) Out8(port uint16, v uint8)   { r.out(port, uint32(v)) }
func (r *RefPort) Out16(port uint16, v uint16) { r.out(port, uint32(v)) }
func (r *RefPort) Out32(port uint16, v uint32) { r.out(port, v) }

func (r *RefPort) out(port uint16, v uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ioports[port] = v
}

func (r *RefPort) Halt() {}
func (r *RefPort) Idle() {}

func (r *RefPort) IntrDisable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	was := r.intrEnabled
	r.intrEnabled = false
	return was
}

func (r *RefPort) IntrRestore(wasEnabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intrEnabled = wasEnabled
}

func (r *RefPort) AtomicIncr(addr *int64) int64 {
	return atomic.AddInt64(addr, 1) - 1
}

func (r *RefPort) CurrentThread() ThreadHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// ForkThread spawns a goroutine running entry, parked until the first
// ContextSwitch names its handle — simulating "clone stack and
// registers such that resuming the clone looks like a single return".
func (r *RefPort) ForkThread(newStack []byte, entry func()) ThreadHandle {
	r.mu.Lock()
	r.nextHandle++
	h := ThreadHandle(r.nextHandle)
	rt := &refThread{resume: make(chan struct{})}
	r.threads[h] = rt
	r.mu.Unlock()

	go func() {
		<-rt.resume
		entry()
	}()
	return h
}

func (r *RefPort) MarkThread(ThreadHandle)     {}
func (r *RefPort) FinalizeThread(h ThreadHandle) {
	r.mu.Lock()
	delete(r.threads, h)
	r.mu.Unlock()
}

// ContextSwitch hands control to `to`. The reference port treats this
// as fire-and-forget (it does not block the caller on the outgoing
// thread's own resume channel): sched is responsible for only calling
// ContextSwitch when the calling thread is prepared to be descheduled
// via its own monitor wait, matching how the real port's assembly
// trampoline never returns to the caller's stack directly either.
func (r *RefPort) ContextSwitch(to ThreadHandle) {
	r.mu.Lock()
	rt := r.threads[to]
	r.current = to
	r.mu.Unlock()
	if rt != nil {
		rt.resume <- struct{}{}
	}
}

func (r *RefPort) Backtrace(buf []uintptr) int {
	return 0
}

func (r *RefPort) UserStackPushStr(stack []byte, sp int, s string) int {
	b := append([]byte(s), 0)
	return r.UserStackPushMemcpy(stack, sp, b)
}

func (r *RefPort) UserStackPushMemcpy(stack []byte, sp int, b []byte) int {
	sp -= len(b)
	copy(stack[sp:], b)
	return sp
}

func (r *RefPort) StartUser(entry uintptr, sp uintptr) {
	r.mu.Lock()
	r.startUserCalls = append(r.startUserCalls, StartUserCall{Entry: entry, SP: sp})
	r.mu.Unlock()
}

// StartUserCalls returns every StartUser invocation observed so far.
func (r *RefPort) StartUserCalls() []StartUserCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StartUserCall, len(r.startUserCalls))
	copy(out, r.startUserCalls)
	return out
}

func (r *RefPort) Panic(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	r.mu.Lock()
	r.panics = append(r.panics, msg)
	r.mu.Unlock()
}

// Panics returns every message passed to Panic, for test assertions.
func (r *RefPort) Panics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.panics))
	copy(out, r.panics)
	return out
}

func (r *RefPort) TimerSet(cb func(), d time.Duration) {
	r.mu.Lock()
	r.timerCB = cb
	r.timerArmed = true
	r.timerBudget = d
	r.mu.Unlock()
}

func (r *RefPort) TimerClear() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	remaining := r.timerBudget
	r.timerArmed = false
	r.timerCB = nil
	return remaining
}

// FireTimer simulates hardware expiry: tests call this instead of
// waiting on a real oneshot.
func (r *RefPort) FireTimer() {
	r.mu.Lock()
	cb := r.timerCB
	armed := r.timerArmed
	r.timerArmed = false
	r.mu.Unlock()
	if armed && cb != nil {
		cb()
	}
}

func (r *RefPort) FlushTLB(va uintptr) {}

func (r *RefPort) SetActiveRoot(asid int, root uintptr) {
	r.mu.Lock()
	r.activeRoots[asid] = root
	r.mu.Unlock()
}

// ActiveRoot reports the last root installed for asid, for tests.
func (r *RefPort) ActiveRoot(asid int) (uintptr, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	root, ok := r.activeRoots[asid]
	return root, ok
}

// EndOfInterrupt records irq as acknowledged, for tests asserting the
// dispatcher issued exactly one EOI per Dispatch call.
func (r *RefPort) EndOfInterrupt(irq int) {
	r.mu.Lock()
	r.eois = append(r.eois, irq)
	r.mu.Unlock()
}

// EOIs returns every irq passed to EndOfInterrupt so far, in order.
func (r *RefPort) EOIs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.eois))
	copy(out, r.eois)
	return out
}

var _ Port = (*RefPort)(nil)
