package vfs

import (
	"kernel/arch"
	"kernel/circbuf"
	"kernel/defs"
	"kernel/except"
	"kernel/fdops"
	"kernel/ksync"
	"kernel/limits"
	"kernel/mem"
	"kernel/stat"
	"kernel/ustr"
)

// pipe_t is the shared state two pipe-end vnodes reference: a bounded
// ring buffer guarded by one monitor, writers blocking while full and
// readers while empty, both unblocking on either end's close (spec
// §4.I, "Pipes are two vnodes sharing a bounded ring buffer with a
// monitor").
type pipe_t struct {
	port arch.Port
	mon  *ksync.Monitor
	cb   circbuf.Circbuf_t

	readerClosed bool
	writerClosed bool
	admitted     bool
	given        bool
}

// PipeBufSize is the capacity of a pipe's ring buffer; the teacher's
// original_source counterpart sizes pipe_ends with 64 bytes, but this
// port uses a full page since circbuf already lazily allocates one.
const PipeBufSize = mem.PGSIZE

// NewPipe returns the read and write ends of one pipe (original_source's
// file_pipe/pipe_ends).
func NewPipe(port arch.Port, pages mem.Page_i) (read, write Vnode_i) {
	p := &pipe_t{port: port, mon: ksync.NewMonitor(port)}
	p.cb.Init(PipeBufSize, pages)
	return &pipeEnd_t{p: p, writer: false}, &pipeEnd_t{p: p, writer: true}
}

type pipeEnd_t struct {
	p      *pipe_t
	writer bool
}

func (e *pipeEnd_t) IsDir() bool                                 { return false }
func (e *pipeEnd_t) Size() int64                                 { return 0 }
func (e *pipeEnd_t) GetPage(offset int64) (mem.Pa_t, defs.Err_t) { return 0, -defs.ESPIPE }
func (e *pipeEnd_t) PutPage(pa mem.Pa_t)                         {}
func (e *pipeEnd_t) Lookup(name ustr.Ustr) (Vnode_i, defs.Err_t) {
	return nil, -defs.ENOTDIR
}
func (e *pipeEnd_t) Getdents(offset int64, dst fdops.Userio_i) (int, int64, defs.Err_t) {
	return 0, offset, -defs.ENOTDIR
}

// Fstat/Lseek/Reopen round out everything but Getdents of fdops.Fdops_i,
// by way of pipeFd_t below.
func (e *pipeEnd_t) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(0)
	st.Wsize(0)
	return 0
}

func (e *pipeEnd_t) Lseek(off int, whence int) (int, defs.Err_t) { return 0, -defs.ESPIPE }

func (e *pipeEnd_t) Reopen() defs.Err_t { return 0 }

// Close marks this end closed and wakes the other side so a blocked
// read/write observes the closure instead of waiting forever. Once
// both ends are closed, the pipe's slot in the system pipe limit
// (limits.Syslimit.Pipes) is given back, but only for pipes admitted
// through NewPipeFds — NewPipe itself does no admission control, so
// give-back only fires for pipes that took a slot in the first place.
func (e *pipeEnd_t) Close() defs.Err_t {
	s := &except.Stack{}
	e.p.mon.Enter(s)
	if e.writer {
		e.p.writerClosed = true
	} else {
		e.p.readerClosed = true
	}
	giveBack := e.p.readerClosed && e.p.writerClosed && e.p.admitted && !e.p.given
	if giveBack {
		e.p.given = true
	}
	e.p.mon.Broadcast(s)
	e.p.mon.Leave(s)
	if giveBack {
		limits.Syslimit.Pipes.Give()
	}
	return 0
}

// Read blocks while the pipe is empty and the writer is still open,
// returning 0 (EOF) once the writer closes with nothing left buffered.
func (e *pipeEnd_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	if e.writer {
		return 0, -defs.EBADF
	}
	s := &except.Stack{}
	e.p.mon.Enter(s)
	defer e.p.mon.Leave(s)
	for e.p.cb.Empty() && !e.p.writerClosed {
		e.p.mon.Wait(s)
	}
	n, err := e.p.cb.Copyout(dst)
	if err == 0 {
		e.p.mon.Broadcast(s)
	}
	return n, err
}

// Write blocks while the pipe is full and the reader is still open; it
// fails with -EPIPE once the reader has closed.
func (e *pipeEnd_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	if !e.writer {
		return 0, -defs.EBADF
	}
	s := &except.Stack{}
	e.p.mon.Enter(s)
	defer e.p.mon.Leave(s)
	if e.p.readerClosed {
		return 0, -defs.EPIPE
	}
	for e.p.cb.Full() && !e.p.readerClosed {
		e.p.mon.Wait(s)
	}
	if e.p.readerClosed {
		return 0, -defs.EPIPE
	}
	n, err := e.p.cb.Copyin(src)
	if err == 0 {
		e.p.mon.Broadcast(s)
	}
	return n, err
}

// pipeFd_t adapts a pipe end to fdops.Fdops_i. Every method but
// Getdents forwards straight through the embedded *pipeEnd_t; Getdents
// can't forward since pipeEnd_t's own Getdents already satisfies
// Vnode_i's differently-shaped method of the same name.
type pipeFd_t struct {
	*pipeEnd_t
}

func (f pipeFd_t) Getdents(dst fdops.Userio_i) (int, defs.Err_t) {
	return 0, -defs.ENOTDIR
}

// NewPipeFds returns a fresh pipe's read and write ends already
// adapted to fdops.Fdops_i, ready to install into a process's fd table
// (spec §6: "pipe installs both ends"). Unlike the bare NewPipe, this
// is the syscall-facing entry point and so is subject to the system
// pipe limit (limits.Syslimit.Pipes); it fails with -ENOMEM once that
// limit is exhausted rather than growing pipes without bound.
func NewPipeFds(port arch.Port, pages mem.Page_i) (read, write fdops.Fdops_i, err defs.Err_t) {
	if !limits.Syslimit.Pipes.Taken(1) {
		return nil, nil, -defs.ENOMEM
	}
	r, w := NewPipe(port, pages)
	rend, wend := r.(*pipeEnd_t), w.(*pipeEnd_t)
	rend.p.admitted = true
	return pipeFd_t{rend}, pipeFd_t{wend}, 0
}
