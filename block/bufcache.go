package block

import (
	"container/list"
	"sync"
)

// BufBlockSize is the size of one cached buffer in bytes. Any device
// whose Blocksize divides it evenly can back a BufCache.
const BufBlockSize = 4096

// Buf_t is one cached block: its number, its backing bytes, and a
// dirty flag set by callers that mutate Data directly and cleared
// once Flush writes it back (original_source/kernel's Bdev_block_t,
// generalized off a specific Disk_i/Bdev_req_t wire protocol onto
// Device_i/Future_t so any Device_i can be cached without its own
// request-queue plumbing).
type Buf_t struct {
	mu    sync.Mutex
	Block int
	Data  [BufBlockSize]byte
	dirty bool
	dev   Device_i
}

// Dirty marks b as needing a write-back.
func (b *Buf_t) Dirty() {
	b.mu.Lock()
	b.dirty = true
	b.mu.Unlock()
}

// Flush writes b back to its device if dirty, then clears the flag.
func (b *Buf_t) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.dirty {
		return
	}
	Write(b.dev, b.Data[:], int64(b.Block)*BufBlockSize).Get()
	b.dirty = false
}

// BufCache is a fixed-capacity LRU cache of Buf_t over one Device_i
// (original_source's per-disk block-buffer cache, stripped of the
// log-structured filesystem bookkeeping that came bundled with it —
// a journalling log is explicitly out of scope here, so only the
// generic cache-and-write-back shape is carried forward).
type BufCache struct {
	mu      sync.Mutex
	dev     Device_i
	cap     int
	entries map[int]*list.Element // block number -> lru element
	lru     *list.List            // front = most recently used
}

type bufEnt struct {
	block int
	buf   *Buf_t
}

// NewBufCache returns a cache over dev holding at most capacity
// buffers at once.
func NewBufCache(dev Device_i, capacity int) *BufCache {
	return &BufCache{
		dev:     dev,
		cap:     capacity,
		entries: map[int]*list.Element{},
		lru:     list.New(),
	}
}

// Get returns the buffer for block, reading it from the device on a
// miss and evicting the least-recently-used buffer if the cache is
// full. A dirty buffer is flushed before being evicted
// rather than silently dropped.
func (c *BufCache) Get(block int) *Buf_t {
	c.mu.Lock()
	if el, ok := c.entries[block]; ok {
		c.lru.MoveToFront(el)
		b := el.Value.(*bufEnt).buf
		c.mu.Unlock()
		return b
	}
	c.mu.Unlock()

	b := &Buf_t{Block: block, dev: c.dev}
	Read(c.dev, b.Data[:], int64(block)*BufBlockSize).Get()

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[block]; ok {
		// Another goroutine populated it first; use theirs.
		c.lru.MoveToFront(el)
		return el.Value.(*bufEnt).buf
	}
	if c.lru.Len() >= c.cap {
		c.evictOldest()
	}
	el := c.lru.PushFront(&bufEnt{block: block, buf: b})
	c.entries[block] = el
	return b
}

// evictOldest drops the least-recently-used buffer, flushing it
// first if dirty. Caller holds c.mu.
func (c *BufCache) evictOldest() {
	back := c.lru.Back()
	if back == nil {
		return
	}
	ent := back.Value.(*bufEnt)
	ent.buf.Flush()
	c.lru.Remove(back)
	delete(c.entries, ent.block)
}

// FlushAll writes back every dirty buffer currently cached.
func (c *BufCache) FlushAll() {
	c.mu.Lock()
	bufs := make([]*Buf_t, 0, c.lru.Len())
	for e := c.lru.Front(); e != nil; e = e.Next() {
		bufs = append(bufs, e.Value.(*bufEnt).buf)
	}
	c.mu.Unlock()
	for _, b := range bufs {
		b.Flush()
	}
}
