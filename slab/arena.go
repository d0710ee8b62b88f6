package slab

import (
	"kernel/defs"
	"kernel/mem"
)

// Arena is a page-aligned bump allocator over a growable run of frames
// obtained one at a time from Pages. GetState/SetState give it
// stack-style rollback: any allocation made after a checkpoint is
// undone by restoring to it, without walking individual objects.
type Arena struct {
	Pages  mem.Page_i
	frames []mem.Pa_t
	off    int // byte offset into frames[len(frames)-1]
}

// NewArena returns an empty arena drawing frames from pages.
func NewArena(pages mem.Page_i) *Arena {
	return &Arena{Pages: pages, off: mem.PGSIZE}
}

// State is an opaque checkpoint from GetState, valid only against the
// Arena that produced it.
type State struct {
	nframes int
	off     int
}

// GetState captures the arena's current bump pointer.
func (a *Arena) GetState() State {
	return State{nframes: len(a.frames), off: a.off}
}

// SetState rewinds the arena to a previously captured checkpoint,
// freeing every frame allocated since. It panics if st records more
// frames than the arena now holds; it does not check that st came
// from this arena.
func (a *Arena) SetState(st State) {
	if st.nframes > len(a.frames) {
		panic("slab: arena state from the future")
	}
	for i := len(a.frames) - 1; i >= st.nframes; i-- {
		a.Pages.Free(a.frames[i])
	}
	a.frames = a.frames[:st.nframes]
	a.off = st.off
}

// Alloc bumps the arena pointer by n bytes, crossing into a fresh
// frame when the current one is exhausted.
func (a *Arena) Alloc(n int) ([]uint8, defs.Err_t) {
	if n < 0 || n > mem.PGSIZE {
		panic("slab: arena allocation larger than a page")
	}
	if a.off+n > mem.PGSIZE {
		frame, ok := a.Pages.AllocZero()
		if !ok {
			return nil, -defs.ENOMEM
		}
		a.frames = append(a.frames, frame)
		a.off = 0
	}
	bpg := a.Pages.Dmap(a.frames[len(a.frames)-1])
	buf := bpg[a.off : a.off+n]
	a.off += n
	return buf, 0
}

// Reset releases every frame the arena holds, matching spec §4.D's
// "resetting releases the underlying anonymous object's pages".
func (a *Arena) Reset() {
	for _, f := range a.frames {
		a.Pages.Free(f)
	}
	a.frames = nil
	a.off = mem.PGSIZE
}
