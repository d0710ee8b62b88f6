package block

import "testing"

func TestBufCacheGetCachesAndReturnsSameBuf(t *testing.T) {
	dev := NewStaticDevice(16 * BufBlockSize)
	c := NewBufCache(dev, 4)

	b1 := c.Get(3)
	b2 := c.Get(3)
	if b1 != b2 {
		t.Fatal("Get on an already-cached block returned a different Buf_t")
	}
}

func TestBufCacheDirtyFlushesOnEviction(t *testing.T) {
	dev := NewStaticDevice(16 * BufBlockSize)
	c := NewBufCache(dev, 2)

	b0 := c.Get(0)
	b0.Data[0] = 0xAB
	b0.Dirty()

	// Fill the cache past capacity so block 0 gets evicted and flushed.
	c.Get(1)
	c.Get(2)

	got := make([]byte, BufBlockSize)
	Read(dev, got, 0).Get()
	if got[0] != 0xAB {
		t.Fatalf("evicted dirty buffer was not flushed: byte 0 = %#x, want 0xab", got[0])
	}
}

func TestBufCacheFlushAllWritesBackDirtyBuffers(t *testing.T) {
	dev := NewStaticDevice(4 * BufBlockSize)
	c := NewBufCache(dev, 4)

	b := c.Get(1)
	b.Data[10] = 0x42
	b.Dirty()
	c.FlushAll()

	got := make([]byte, BufBlockSize)
	Read(dev, got, BufBlockSize).Get()
	if got[10] != 0x42 {
		t.Fatalf("FlushAll did not write back the dirty buffer: byte 10 = %#x, want 0x42", got[10])
	}
}
