package proc

import (
	"encoding/binary"
	"testing"

	"kernel/except"
	"kernel/mem"
)

// buildELF32 hand-encodes a minimal valid 32-bit little-endian ET_EXEC
// EM_386 image: one ELF header, one PT_LOAD program header covering
// code, and the code bytes themselves. There is no ELF writer in the
// standard library, so tests construct the bytes directly rather than
// going through debug/elf.
func buildELF32(code []byte, vaddr, entry uint32) []byte {
	const ehsize = 52
	const phsize = 32

	buf := make([]byte, ehsize+phsize+len(code))

	// e_ident
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 1 // ELFCLASS32
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT

	le := binary.LittleEndian
	le.PutUint16(buf[16:], 2)            // e_type = ET_EXEC
	le.PutUint16(buf[18:], 3)            // e_machine = EM_386
	le.PutUint32(buf[20:], 1)            // e_version
	le.PutUint32(buf[24:], entry)        // e_entry
	le.PutUint32(buf[28:], ehsize)       // e_phoff
	le.PutUint32(buf[32:], 0)            // e_shoff
	le.PutUint32(buf[36:], 0)            // e_flags
	le.PutUint16(buf[40:], ehsize)       // e_ehsize
	le.PutUint16(buf[42:], phsize)       // e_phentsize
	le.PutUint16(buf[44:], 1)            // e_phnum
	le.PutUint16(buf[46:], 0)            // e_shentsize
	le.PutUint16(buf[48:], 0)            // e_shnum
	le.PutUint16(buf[50:], 0)            // e_shstrndx

	ph := buf[ehsize:]
	le.PutUint32(ph[0:], 1)              // p_type = PT_LOAD
	le.PutUint32(ph[4:], ehsize+phsize)  // p_offset
	le.PutUint32(ph[8:], vaddr)          // p_vaddr
	le.PutUint32(ph[12:], vaddr)         // p_paddr
	le.PutUint32(ph[16:], uint32(len(code))) // p_filesz
	le.PutUint32(ph[20:], uint32(len(code))) // p_memsz
	le.PutUint32(ph[24:], 5)             // p_flags = PF_R|PF_X
	le.PutUint32(ph[28:], uint32(mem.PGSIZE)) // p_align

	copy(buf[ehsize+phsize:], code)
	return buf
}

func catchElf(t *testing.T, fn func()) *except.Cause {
	t.Helper()
	var caught *except.Cause
	func() {
		defer func() {
			if r := recover(); r != nil {
				c, ok := r.(*except.Cause)
				if !ok {
					panic(r)
				}
				caught = c
			}
		}()
		fn()
	}()
	return caught
}

func TestExecLoadsValidImageAndStartsUser(t *testing.T) {
	mgr, port, _ := testEnv(t)
	c := NewContainer()
	p := New(c, mgr, port, nil)
	pages := testPages()

	img := buildELF32([]byte{0x90, 0x90, 0xf4}, 0x08048000, 0x08048000)

	s := &except.Stack{}
	cause := catchElf(t, func() {
		p.Exec(mgr, pages, port, img, []string{"a.out", "hi"}, nil, s)
	})
	if cause != nil {
		t.Fatalf("Exec raised %v on a well-formed image", cause)
	}

	if len(port.StartUserCalls()) != 1 {
		t.Fatalf("StartUser called %d times, want 1", len(port.StartUserCalls()))
	}
	call := port.StartUserCalls()[0]
	if call.Entry != 0x08048000 {
		t.Fatalf("entry = %#x, want %#x", call.Entry, 0x08048000)
	}
}

func TestExecRejectsWrongMachine(t *testing.T) {
	mgr, port, _ := testEnv(t)
	c := NewContainer()
	p := New(c, mgr, port, nil)
	pages := testPages()

	img := buildELF32([]byte{0x90}, 0x08048000, 0x08048000)
	img[18] = 0x3e // e_machine low byte -> EM_X86_64, not EM_386
	img[19] = 0x00

	s := &except.Stack{}
	cause := catchElf(t, func() {
		p.Exec(mgr, pages, port, img, []string{"a.out"}, nil, s)
	})
	if cause == nil {
		t.Fatal("Exec did not raise on a wrong-machine image")
	}
	if !except.Matches(except.ElfException, cause) {
		t.Fatalf("Exec raised %v, want ElfException", cause.Type.Name)
	}
}

func TestExecRejectsGarbageImage(t *testing.T) {
	mgr, port, _ := testEnv(t)
	c := NewContainer()
	p := New(c, mgr, port, nil)
	pages := testPages()

	s := &except.Stack{}
	cause := catchElf(t, func() {
		p.Exec(mgr, pages, port, []byte("not an elf file"), nil, nil, s)
	})
	if cause == nil {
		t.Fatal("Exec did not raise on a garbage image")
	}
	if !except.Matches(except.ElfException, cause) {
		t.Fatalf("Exec raised %v, want ElfException", cause.Type.Name)
	}
}

func TestExecPreservesOldAddrSpaceOnFailure(t *testing.T) {
	mgr, port, _ := testEnv(t)
	c := NewContainer()
	p := New(c, mgr, port, nil)
	pages := testPages()

	oldAS := p.AS
	s := &except.Stack{}
	_ = catchElf(t, func() {
		p.Exec(mgr, pages, port, []byte("not an elf file"), nil, nil, s)
	})
	if p.AS != oldAS {
		t.Fatal("Exec replaced the address space despite failing before the commit point")
	}
}
