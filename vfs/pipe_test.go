package vfs

import (
	"testing"
	"time"

	"kernel/arch"
	"kernel/defs"
)

func TestPipeWriteThenReadDeliversBytes(t *testing.T) {
	port := arch.NewRefPort()
	pages := newPages()
	r, w := NewPipe(port, pages)
	rd := r.(*pipeEnd_t)
	wr := w.(*pipeEnd_t)

	n, err := wr.Write(&sliceUio{b: []byte("ping")})
	if err != 0 || n != 4 {
		t.Fatalf("Write = %d, %d", n, err)
	}

	out := &sliceUio{}
	n, err = rd.Read(out)
	if err != 0 || n != 4 || string(out.b) != "ping" {
		t.Fatalf("Read = %d, %q, %d", n, out.b, err)
	}
}

func TestPipeReadBlocksUntilWriterCloses(t *testing.T) {
	port := arch.NewRefPort()
	pages := newPages()
	r, w := NewPipe(port, pages)
	rd := r.(*pipeEnd_t)
	wr := w.(*pipeEnd_t)

	done := make(chan struct{})
	var n int
	go func() {
		out := &sliceUio{}
		n, _ = rd.Read(out)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Read returned before the writer closed an empty pipe")
	case <-time.After(20 * time.Millisecond):
	}

	wr.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Read never woke after writer close")
	}
	if n != 0 {
		t.Fatalf("Read after close = %d bytes, want 0 (EOF)", n)
	}
}

func TestPipeWriteAfterReaderCloseFails(t *testing.T) {
	port := arch.NewRefPort()
	pages := newPages()
	r, w := NewPipe(port, pages)
	rd := r.(*pipeEnd_t)
	wr := w.(*pipeEnd_t)

	rd.Close()
	_, err := wr.Write(&sliceUio{b: []byte("x")})
	if err != -defs.EPIPE {
		t.Fatalf("Write after reader close = %d, want -EPIPE", err)
	}
}
