package proc

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"kernel/arch"
	"kernel/defs"
	"kernel/except"
	"kernel/mem"
	"kernel/vm"
)

// StackTop is the fixed virtual address one page below which exec
// installs the user stack (spec §4.L: "a user stack is installed at
// the lowest non-code page down to one page").
const StackTop uintptr = 0xc0000000

// elfSource serves pages of a raw ELF image as a vm.PageSource: bytes
// within the image are copied verbatim, anything past the image's
// length reads as zero — the "zero-fill the BSS tail" step of spec
// §4.L, expressed through the same GetPage contract a vnode-backed
// object already has rather than a special-cased object kind.
type elfSource struct {
	pages mem.Page_i
	data  []byte
}

func (e *elfSource) GetPage(offset int64) (mem.Pa_t, defs.Err_t) {
	pa, ok := e.pages.AllocZero()
	if !ok {
		return 0, -defs.ENOMEM
	}
	if offset >= 0 && offset < int64(len(e.data)) {
		buf := e.pages.Dmap(pa)
		copy(buf[:], e.data[offset:])
	}
	return pa, 0
}

func (e *elfSource) PutPage(mem.Pa_t) {}

// validateHeader checks magic/class/data/type/machine/version (spec
// §4.L), raising ElfException on any mismatch.
func validateHeader(f *elf.File) {
	if f.Class != elf.ELFCLASS32 {
		except.Throw(except.ElfException, "proc", 0, "not a 32-bit image: class %v", f.Class)
	}
	if f.Data != elf.ELFDATA2LSB {
		except.Throw(except.ElfException, "proc", 0, "not little-endian: data %v", f.Data)
	}
	if f.Type != elf.ET_EXEC && f.Type != elf.ET_REL {
		except.Throw(except.ElfException, "proc", 0, "unsupported e_type %v", f.Type)
	}
	if f.Machine != elf.EM_386 {
		except.Throw(except.ElfException, "proc", 0, "unsupported machine %v, want i386", f.Machine)
	}
	if f.Version != elf.EV_CURRENT {
		except.Throw(except.ElfException, "proc", 0, "unsupported e_version %v", f.Version)
	}
}

// buildSegments installs one vm.Segment per PT_LOAD program header
// into as, each backed by an elfSource clean copy with a private
// (copy-on-write) dirty side for writable segments (spec §4.L:
// "instantiates a vnode-backed segment with the ELF file as clean,
// marks its dirty as anonymous when writable").
func buildSegments(as *vm.AddrSpace, pages mem.Page_i, data []byte, f *elf.File) {
	src := &elfSource{pages: pages, data: data}
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		align := prog.Align
		if align == 0 {
			align = uint64(mem.PGSIZE)
		}
		vaddr := prog.Vaddr - (prog.Vaddr % align)
		skew := prog.Vaddr - vaddr
		msize := mem.Pgroundup(int(prog.Memsz + skew))
		foff := int64(prog.Off) - int64(skew)

		perms := mem.PTE_U
		if prog.Flags&elf.PF_W != 0 {
			perms |= mem.PTE_W
		}

		seg := &vm.Segment{
			Base:  uintptr(vaddr),
			Len:   uintptr(msize),
			Perms: perms,
			Obj:   vm.NewVnodeObject(src, foff),
		}
		as.AddSegment(seg)
	}
}

// buildStack lays out argv/envp/argc at the top of a freshly allocated
// single-page user stack (spec §4.L, scenario S6): strings first (any
// order), then the envp pointer array NULL-terminated, then the argv
// pointer array NULL-terminated, then argc. The stack grows down, so
// the final stack pointer, read low to high, yields argc, the argv
// array, the envp array, then the strings.
func buildStack(mgr *vm.Manager, pages mem.Page_i, port arch.Port, as *vm.AddrSpace, argv, envp []string) (uintptr, defs.Err_t) {
	frame, ok := pages.AllocZero()
	if !ok {
		return 0, -defs.ENOMEM
	}
	buf := pages.Dmap(frame)
	stackVA := StackTop - uintptr(mem.PGSIZE)

	raw := buf[:]
	sp := mem.PGSIZE

	pushStrings := func(strs []string) []uint32 {
		addrs := make([]uint32, len(strs))
		for i, s := range strs {
			sp = port.UserStackPushStr(raw, sp, s)
			addrs[i] = uint32(stackVA) + uint32(sp)
		}
		return addrs
	}
	pushArray := func(addrs []uint32) {
		b := make([]byte, 4*(len(addrs)+1)) // NULL-terminated
		for i, a := range addrs {
			binary.LittleEndian.PutUint32(b[i*4:], a)
		}
		sp = port.UserStackPushMemcpy(raw, sp, b)
	}

	envAddrs := pushStrings(envp)
	argAddrs := pushStrings(argv)
	pushArray(envAddrs)
	pushArray(argAddrs)

	argcBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(argcBuf, uint32(len(argv)))
	sp = port.UserStackPushMemcpy(raw, sp, argcBuf)

	stackSeg := &vm.Segment{Base: stackVA, Len: uintptr(mem.PGSIZE), Perms: mem.PTE_W | mem.PTE_U, Obj: vm.NewAnonObject()}
	as.AddSegment(stackSeg)
	mgr.Map(as, stackVA, frame, true, true)

	return stackVA + uintptr(sp), 0
}

// Exec replaces p's address space with one built from the ELF image
// data, retaining p's pid and fd table (spec §4.L: "exec replaces the
// AS and file mappings but retains fd table and pid"). On any failure
// before the commit point the new address space is discarded and p is
// left running its previous image unchanged, per spec's "on any
// failure... the previous address space is restored" — the exception
// itself is left to propagate to the syscall dispatcher, which maps it
// to an errno (spec §7).
func (p *Process_t) Exec(mgr *vm.Manager, pages mem.Page_i, port arch.Port, data []byte, argv, envp []string, stack *except.Stack) {
	f, ferr := elf.NewFile(bytes.NewReader(data))
	if ferr != nil {
		except.Throw(except.ElfException, "proc", 0, "malformed ELF image: %v", ferr)
	}
	validateHeader(f)

	newAS := mgr.NewAddrSpace()
	releaseNew := stack.DeferOnError(func() { mgr.ReleaseASID(newAS) })

	buildSegments(newAS, pages, data, f)
	mgr.SetASID(newAS)
	sp, err := buildStack(mgr, pages, port, newAS, argv, envp)
	if err != 0 {
		except.Throw(except.ElfException, "proc", 0, "could not build user stack: errno %d", err)
	}

	// Commit: cancel the rollback, release the old address space, and
	// install the new one.
	releaseNew()
	p.mu.Lock()
	oldAS := p.AS
	p.AS = newAS
	p.mu.Unlock()
	mgr.ReleaseASID(oldAS)

	port.StartUser(uintptr(f.Entry), sp)
}
