package proc

import (
	"sync"

	"kernel/arch"
	"kernel/defs"
	"kernel/except"
	"kernel/fd"
	"kernel/ksync"
	"kernel/mem"
	"kernel/sched"
	"kernel/vfs"
	"kernel/vm"
)

// Process_t is {pid, container, address_space, heap segment, fd table,
// threads set, root-vnode, cwd-vnode} per spec §3's Process entity.
type Process_t struct {
	mu sync.Mutex

	Pid       defs.Pid_t
	Container *Container_t
	AS        *vm.AddrSpace
	Heap      *vm.Segment
	Fds       *fd.Fdtable_t
	Threads   []*sched.Thread
	Root      vfs.Vnode_i
	Cwd       vfs.Vnode_i

	port     arch.Port
	parent   *Process_t
	children []*Process_t
	zombie   bool
	status   int
	wait     *ksync.Monitor // broadcasts when this process becomes a zombie
}

// HeapBase is the fixed virtual address every process's heap segment
// starts at; brk only ever grows or shrinks its length.
const HeapBase uintptr = 0x10000000

// New creates the first (init) process of container c: a fresh address
// space with an empty heap segment at HeapBase, a fresh fd table, and
// root/cwd both set to root.
func New(c *Container_t, mgr *vm.Manager, port arch.Port, root vfs.Vnode_i) *Process_t {
	as := mgr.NewAddrSpace()
	heap := &vm.Segment{Base: HeapBase, Len: 0, Perms: mem.PTE_W | mem.PTE_U, Obj: vm.NewHeapObject()}
	as.AddSegment(heap)
	mgr.SetASID(as)

	p := &Process_t{
		Pid:       c.allocPid(),
		Container: c,
		AS:        as,
		Heap:      heap,
		Fds:       &fd.Fdtable_t{},
		Root:      root,
		Cwd:       root,
		port:      port,
		wait:      ksync.NewMonitor(port),
	}
	c.put(p)
	return p
}

// Fork allocates a child process in the same container (spec §4.L):
// clones every segment of the address space — private ones via the
// object's own clone, becoming COW, per spec §3's Process entry — dups
// the fd table, and spawns childEntry as the child's first thread by
// forking parentThread through the scheduler.
func (p *Process_t) Fork(mgr *vm.Manager, sc *sched.Scheduler, parentThread *sched.Thread, childEntry func()) (*Process_t, defs.Err_t) {
	p.mu.Lock()
	segs := p.AS.Segments()
	p.mu.Unlock()

	childAS := mgr.NewAddrSpace()
	var childHeap *vm.Segment
	for _, seg := range segs {
		// Direct (device/MMIO) objects are never privately cloned —
		// every address space that maps one sees the same frame.
		private := seg.Obj.Kind != vm.ObjDirect
		nseg := vm.SegmentCopy(mgr, seg, private)
		childAS.AddSegment(nseg)
		if seg == p.Heap {
			childHeap = nseg
		}
	}
	mgr.SetASID(childAS)

	child := &Process_t{
		Pid:       p.Container.allocPid(),
		Container: p.Container,
		AS:        childAS,
		Heap:      childHeap,
		Fds:       p.Fds.Fork(),
		Root:      p.Root,
		Cwd:       p.Cwd,
		port:      p.port,
		parent:    p,
		wait:      ksync.NewMonitor(p.port),
	}
	p.Container.put(child)

	p.mu.Lock()
	p.children = append(p.children, child)
	p.mu.Unlock()

	th := sc.Fork(parentThread, childEntry)
	child.Threads = append(child.Threads, th)
	return child, 0
}

// Exit marks p a zombie with the given status, wakes any Waitpid caller
// blocked on it, and leaves it in its container until reaped (spec
// §4.L: "exit tears down the per-process threads and marks the process
// zombie until reaped").
func (p *Process_t) Exit(status int, stack *except.Stack) {
	p.wait.Enter(stack)
	p.mu.Lock()
	p.zombie = true
	p.status = status
	p.mu.Unlock()
	p.wait.Broadcast(stack)
	p.wait.Leave(stack)
}

// Waitpid blocks until the child identified by pid (or any child, when
// pid is negative) becomes a zombie, then reaps it: removes it from
// both p's children and its container, and returns its pid and exit
// status (spec §4.L, scenario S1).
func (p *Process_t) Waitpid(pid defs.Pid_t, stack *except.Stack) (defs.Pid_t, int, defs.Err_t) {
	for {
		p.mu.Lock()
		var target *Process_t
		for _, c := range p.children {
			c.mu.Lock()
			dead := c.zombie
			c.mu.Unlock()
			if (pid < 0 || c.Pid == pid) && dead {
				target = c
				break
			}
		}
		noChildren := len(p.children) == 0
		p.mu.Unlock()

		if target == nil && noChildren {
			return -1, 0, -defs.ECHILD
		}
		if target != nil {
			p.mu.Lock()
			for i, c := range p.children {
				if c == target {
					p.children = append(p.children[:i], p.children[i+1:]...)
					break
				}
			}
			p.mu.Unlock()
			target.Container.del(target.Pid)
			return target.Pid, target.status, 0
		}

		p.waitAny(stack)
	}
}

// waitAny blocks on the first live child's monitor for one broadcast,
// then returns so Waitpid can recheck every child's state.
func (p *Process_t) waitAny(stack *except.Stack) {
	p.mu.Lock()
	var c *Process_t
	if len(p.children) > 0 {
		c = p.children[0]
	}
	p.mu.Unlock()
	if c == nil {
		return
	}
	c.wait.Enter(stack)
	c.mu.Lock()
	dead := c.zombie
	c.mu.Unlock()
	if !dead {
		c.wait.Wait(stack)
	}
	c.wait.Leave(stack)
}

// Brk adjusts the heap segment's length (spec §4.L): contraction
// unmaps and frees every page beyond the new size; expansion only
// extends Len, since the anonymous heap object's pages fault in lazily.
func (p *Process_t) Brk(mgr *vm.Manager, pages mem.Page_i, newsz uintptr) defs.Err_t {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.Heap.Len
	if newsz == cur {
		return 0
	}
	if newsz > cur {
		p.Heap.Len = newsz
		return 0
	}
	for va := p.Heap.Base + newsz; va < p.Heap.Base+cur; va += uintptr(mem.PGSIZE) {
		if frame, ok := mgr.GetPage(p.AS, va); ok {
			mgr.Unmap(p.AS, va)
			pages.Free(frame)
		}
	}
	p.Heap.Len = newsz
	return 0
}
