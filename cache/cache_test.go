package cache

import (
	"sync"
	"testing"

	"kernel/defs"
	"kernel/mem"
)

type fakeVnode struct {
	pages *mem.Physmem_t
	mu    sync.Mutex
	calls int
	frame mem.Pa_t
	have  bool
}

func (v *fakeVnode) GetPage(offset int64) (mem.Pa_t, defs.Err_t) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if !v.have {
		pa, ok := v.pages.AllocZero()
		if !ok {
			return 0, -defs.ENOMEM
		}
		v.frame = pa
		v.have = true
	}
	return v.frame, 0
}

func newPages() *mem.Physmem_t {
	p := &mem.Physmem_t{}
	p.AddRange(0, 64)
	return p
}

func TestGetMissThenHitReturnsSameVmpage(t *testing.T) {
	c := New(16)
	v := &fakeVnode{pages: newPages()}

	first, err := c.Get(v, 0)
	if err != 0 {
		t.Fatalf("Get miss failed: %d", err)
	}
	second, err := c.Get(v, 0)
	if err != 0 {
		t.Fatalf("Get hit failed: %d", err)
	}
	if first != second {
		t.Fatal("cache hit returned a different vmpage than the miss that populated it")
	}
	if v.calls != 1 {
		t.Fatalf("GetPage called %d times, want 1", v.calls)
	}
}

func TestConcurrentMissesShareOneVmpage(t *testing.T) {
	c := New(16)
	v := &fakeVnode{pages: newPages()}

	const n = 32
	results := make([]*struct {
		pg  interface{}
		err defs.Err_t
	}, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		results[i] = &struct {
			pg  interface{}
			err defs.Err_t
		}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			pg, err := c.Get(v, 42)
			results[i].pg = pg
			results[i].err = err
		}()
	}
	wg.Wait()

	want := results[0].pg
	for i, r := range results {
		if r.err != 0 {
			t.Fatalf("goroutine %d: Get failed: %d", i, r.err)
		}
		if r.pg != want {
			t.Fatalf("goroutine %d produced a distinct vmpage identity", i)
		}
	}
}

func TestDistinctOffsetsAndVnodesGetDistinctEntries(t *testing.T) {
	c := New(16)
	pages := newPages()
	v1 := &fakeVnode{pages: pages}
	v2 := &fakeVnode{pages: pages}

	a, _ := c.Get(v1, 0)
	b, _ := c.Get(v1, int64(mem.PGSIZE))
	d, _ := c.Get(v2, 0)

	if a == b {
		t.Fatal("distinct offsets on the same vnode collapsed to one entry")
	}
	if a == d {
		t.Fatal("distinct vnodes at the same offset collapsed to one entry")
	}
	if c.Size() != 3 {
		t.Fatalf("cache size = %d, want 3", c.Size())
	}
}
