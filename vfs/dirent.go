package vfs

import (
	"encoding/binary"

	"kernel/defs"
	"kernel/except"
	"kernel/fdops"
)

// Directory entry types, matching the d_type byte both dirent widths
// carry (spec §6 "Directory entries").
const (
	DT_UNKNOWN uint8 = 0
	DT_REG     uint8 = 8
	DT_DIR     uint8 = 4
)

// DirEntry is one directory entry in width-independent form; a
// directory vnode that wants getdents/getdents64 to work through the
// shared encoder implements DirReader and hands back these.
type DirEntry struct {
	Ino  uint64
	Off  int64
	Name string
	Type uint8
}

// DirReader is implemented by directory vnodes that expose their
// entries as structured data rather than pre-encoded bytes, letting
// one fd-level adapter serve either dirent width spec §6 names.
type DirReader interface {
	ReadDir(offset int64) (entries []DirEntry, next int64, err defs.Err_t)
}

// dirent32 is {ino, offset, reclen, name[]} with a 1-byte type at
// reclen-1 (spec §6).
func dirent32(e DirEntry) []byte {
	name := append([]byte(e.Name), 0)
	reclen := 4 + 4 + 2 + len(name)
	if reclen%4 != 0 {
		reclen += 4 - reclen%4
	}
	buf := make([]byte, reclen)
	binary.LittleEndian.PutUint32(buf[0:], uint32(e.Ino))
	binary.LittleEndian.PutUint32(buf[4:], uint32(e.Off))
	binary.LittleEndian.PutUint16(buf[8:], uint16(reclen))
	copy(buf[10:], name)
	buf[reclen-1] = e.Type
	return buf
}

// dirent64 is {ino64, offset64, reclen, type, name[]} (spec §6).
func dirent64(e DirEntry) []byte {
	name := append([]byte(e.Name), 0)
	reclen := 8 + 8 + 2 + 1 + len(name)
	if reclen%8 != 0 {
		reclen += 8 - reclen%8
	}
	buf := make([]byte, reclen)
	binary.LittleEndian.PutUint64(buf[0:], e.Ino)
	binary.LittleEndian.PutUint64(buf[8:], uint64(e.Off))
	binary.LittleEndian.PutUint16(buf[16:], uint16(reclen))
	buf[18] = e.Type
	copy(buf[19:], name)
	return buf
}

// EncodeDirents32 writes entries into dst in the 32-bit dirent format,
// stopping (without error) once dst has no more room for a whole
// record, and returns how many leading entries were consumed so the
// caller can resume at the right one next time. An inode or offset
// that does not fit in 32 bits raises FileOverflow rather than
// silently truncating (spec §6: "overflow of inode or offset into
// 32-bit throws").
func EncodeDirents32(dst fdops.Userio_i, entries []DirEntry) (n, consumed int, err defs.Err_t) {
	for _, e := range entries {
		if e.Ino > 0xffffffff || e.Off > 0xffffffff || e.Off < 0 {
			except.Throw(except.FileOverflow, "vfs", 0,
				"dirent ino=%d off=%d does not fit in 32 bits", e.Ino, e.Off)
		}
		rec := dirent32(e)
		if dst.Remain() < len(rec) {
			break
		}
		wn, werr := dst.Uiowrite(rec)
		n += wn
		consumed++
		if werr != 0 {
			return n, consumed, werr
		}
	}
	return n, consumed, 0
}

// EncodeDirents64 writes entries into dst in the 64-bit dirent format,
// mirroring EncodeDirents32's partial-write/consumed-count contract.
func EncodeDirents64(dst fdops.Userio_i, entries []DirEntry) (n, consumed int, err defs.Err_t) {
	for _, e := range entries {
		rec := dirent64(e)
		if dst.Remain() < len(rec) {
			break
		}
		wn, werr := dst.Uiowrite(rec)
		n += wn
		consumed++
		if werr != 0 {
			return n, consumed, werr
		}
	}
	return n, consumed, 0
}
