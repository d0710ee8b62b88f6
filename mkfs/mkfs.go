// Command mkfs builds a test-fixture disk image: a bootloader blob,
// a kernel image, and a flat manifest of files copied in from a host
// skeleton directory, laid out block by block through the same
// block.Device_i/BufCache path the kernel core uses at runtime. There
// is no on-disk inode format here — original_source's ufs/fs pair
// built one, complete with a write-ahead log, but journalling is out
// of scope for this port, and nothing in the kernel core needs more
// than a flat, block-aligned blob to boot test fixtures from.
package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"kernel/block"
)

const (
	magic   = "KFSI"
	version = 1
)

// fileDevice adapts an *os.File, grown on demand, to block.Device_i
// so this host-side tool can drive the same Read/Write/BufCache path
// the in-kernel block consumers use.
type fileDevice struct {
	f *os.File
}

func newFileDevice(path string) (*fileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	return &fileDevice{f: f}, nil
}

func (d *fileDevice) ReadAt(buf []byte, offset int64) *block.Future_t {
	n, err := d.f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		panic(err)
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return block.Success(len(buf))
}

func (d *fileDevice) WriteAt(buf []byte, offset int64) *block.Future_t {
	n, err := d.f.WriteAt(buf, offset)
	if err != nil {
		panic(err)
	}
	return block.Success(n)
}

// Getsize is a generous upper bound: the real output file is
// truncated to its final size once every block has been written.
func (d *fileDevice) Getsize() int64 { return 1 << 34 }

func (d *fileDevice) Blocksize() int { return block.BufBlockSize }

// writeBlockAligned writes data starting at block startBlock, padding
// the final partial block with zeros, and returns the block number
// one past the last block written.
func writeBlockAligned(cache *block.BufCache, data []byte, startBlock int) int {
	blk := startBlock
	for off := 0; off < len(data); off += block.BufBlockSize {
		b := cache.Get(blk)
		n := copy(b.Data[:], data[off:])
		for i := n; i < block.BufBlockSize; i++ {
			b.Data[i] = 0
		}
		b.Dirty()
		blk++
	}
	if len(data) == 0 {
		return startBlock
	}
	return blk
}

type manifestEnt struct {
	isDir     bool
	path      string
	dataBlock int
	dataLen   int
}

func addSkel(cache *block.BufCache, skeldir string, nextBlock *int) []manifestEnt {
	var ents []manifestEnt
	err := filepath.WalkDir(skeldir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			fmt.Printf("failed to access %q: %v\n", path, err)
			return err
		}
		rel := strings.TrimPrefix(path, skeldir)
		if rel == "" {
			return nil
		}
		if d.IsDir() {
			ents = append(ents, manifestEnt{isDir: true, path: rel})
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		start := *nextBlock
		*nextBlock = writeBlockAligned(cache, data, start)
		ents = append(ents, manifestEnt{path: rel, dataBlock: start, dataLen: len(data)})
		return nil
	})
	if err != nil {
		fmt.Printf("error walking the path %q: %v\n", skeldir, err)
		os.Exit(1)
	}
	return ents
}

// writeManifest lays out the file table as a sequence of
// [isDir(1) | pathLen(u16) | path | dataBlock(u32) | dataLen(u32)]
// records, terminated by a zero-length path.
func writeManifest(cache *block.BufCache, ents []manifestEnt, startBlock int) int {
	var buf []byte
	for _, e := range ents {
		rec := make([]byte, 1+2+len(e.path)+4+4)
		if e.isDir {
			rec[0] = 1
		}
		binary.LittleEndian.PutUint16(rec[1:], uint16(len(e.path)))
		copy(rec[3:], e.path)
		tail := rec[3+len(e.path):]
		binary.LittleEndian.PutUint32(tail[0:], uint32(e.dataBlock))
		binary.LittleEndian.PutUint32(tail[4:], uint32(e.dataLen))
		buf = append(buf, rec...)
	}
	buf = append(buf, 0, 0, 0) // terminator: isDir byte + zero pathLen
	return writeBlockAligned(cache, buf, startBlock)
}

func main() {
	if len(os.Args) < 5 {
		fmt.Printf("Usage: mkfs <bootimage> <kernel image> <output image> <skel dir>\n")
		os.Exit(1)
	}
	bootPath, kernelPath, outPath, skeldir := os.Args[1], os.Args[2], os.Args[3], os.Args[4]

	bootImg, err := os.ReadFile(bootPath)
	if err != nil {
		panic(err)
	}
	kernelImg, err := os.ReadFile(kernelPath)
	if err != nil {
		panic(err)
	}

	dev, err := newFileDevice(outPath)
	if err != nil {
		panic(err)
	}
	cache := block.NewBufCache(dev, 256)

	const headerBlocks = 1
	next := headerBlocks
	bootBlock := next
	next = writeBlockAligned(cache, bootImg, next)
	kernelBlock := next
	next = writeBlockAligned(cache, kernelImg, next)
	filesBlock := next

	ents := addSkel(cache, skeldir, &next)
	manifestBlock := next
	next = writeManifest(cache, ents, next)

	header := make([]byte, block.BufBlockSize)
	copy(header[0:4], magic)
	binary.LittleEndian.PutUint32(header[4:], version)
	binary.LittleEndian.PutUint32(header[8:], uint32(bootBlock))
	binary.LittleEndian.PutUint32(header[12:], uint32(len(bootImg)))
	binary.LittleEndian.PutUint32(header[16:], uint32(kernelBlock))
	binary.LittleEndian.PutUint32(header[20:], uint32(len(kernelImg)))
	binary.LittleEndian.PutUint32(header[24:], uint32(filesBlock))
	binary.LittleEndian.PutUint32(header[28:], uint32(manifestBlock))
	hdrBuf := cache.Get(0)
	copy(hdrBuf.Data[:], header)
	hdrBuf.Dirty()

	cache.FlushAll()
	if err := dev.f.Truncate(int64(next) * block.BufBlockSize); err != nil {
		panic(err)
	}
	if err := dev.f.Close(); err != nil {
		panic(err)
	}
	fmt.Printf("wrote %s: boot %d bytes, kernel %d bytes, %d fixture entries\n",
		outPath, len(bootImg), len(kernelImg), len(ents))
}
