package block

import "sync"

// defaultBlocksize matches original_source's block_static: 512-byte
// sectors regardless of what's backing the device.
const defaultBlocksize = 512

// StaticDevice is an in-memory Device_i backed by a flat byte slice
// (original_source's block_static_t): every read/write completes
// synchronously, useful as the backing store mkfs and tests build
// filesystem images against without a real disk driver.
type StaticDevice struct {
	mu   sync.Mutex
	data []byte
}

// NewStaticDevice returns a zero-filled device of size bytes, rounded
// down to a whole number of blocks.
func NewStaticDevice(size int64) *StaticDevice {
	n := size - size%defaultBlocksize
	return &StaticDevice{data: make([]byte, n)}
}

func (d *StaticDevice) ReadAt(buf []byte, offset int64) *Future_t {
	d.mu.Lock()
	copy(buf, d.data[offset:offset+int64(len(buf))])
	d.mu.Unlock()
	return Success(len(buf))
}

func (d *StaticDevice) WriteAt(buf []byte, offset int64) *Future_t {
	d.mu.Lock()
	copy(d.data[offset:offset+int64(len(buf))], buf)
	d.mu.Unlock()
	return Success(len(buf))
}

func (d *StaticDevice) Getsize() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.data))
}

func (d *StaticDevice) Blocksize() int { return defaultBlocksize }
