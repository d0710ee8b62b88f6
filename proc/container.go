// Package proc implements process lifecycle (component L): fork,
// ELF exec, wait/waitpid, exit, and brk, on top of the address-space
// manager (vm), the scheduler (sched), the fd table (fd) and the VFS
// (vfs). Grounded on original_source/kernel/container.c for the
// container/pid namespace (SPEC_FULL.md's supplemented-feature list)
// and on spec.md §4.L for fork/exec/wait/brk themselves, which have no
// direct analogue in the retrieval pack's own proc/fdops directories —
// both were cut from every copy of the teacher present.
package proc

import (
	"sync"

	"kernel/defs"
)

// Container_t is a namespace of {next_pid, pid -> process}, created
// once at boot for the root container (spec glossary: "Container").
// original_source's container_t additionally tracks a parent container
// for nested containers; this port only ever instantiates the root one
// (spec: "additional containers are possible but not required by the
// core"), so Container_t carries no parent link.
type Container_t struct {
	mu      sync.Mutex
	nextPid defs.Pid_t
	procs   map[defs.Pid_t]*Process_t
}

// NewContainer returns an empty container whose first allocated pid is 1.
func NewContainer() *Container_t {
	return &Container_t{nextPid: 1, procs: map[defs.Pid_t]*Process_t{}}
}

func (c *Container_t) allocPid() defs.Pid_t {
	c.mu.Lock()
	defer c.mu.Unlock()
	pid := c.nextPid
	c.nextPid++
	return pid
}

// put registers p under its own pid.
func (c *Container_t) put(p *Process_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.procs[p.Pid] = p
}

// Get looks up a live process by pid.
func (c *Container_t) Get(pid defs.Pid_t) (*Process_t, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.procs[pid]
	return p, ok
}

// del removes pid once its parent has reaped it via Wait/Waitpid.
func (c *Container_t) del(pid defs.Pid_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.procs, pid)
}
