package vfs

import (
	"sync"

	"kernel/defs"
	"kernel/fdops"
	"kernel/mem"
	"kernel/ustr"
)

// DirVnode_t is an in-memory directory: a name -> child vnode map with
// its own inode counter. Concrete persistent directory formats (FAT,
// TAR, ...) are external collaborators per spec §1's "the core
// requires a vnode adapter"; this is the in-core stand-in creat, link,
// unlink and getdents exercise against when nothing richer is mounted.
type DirVnode_t struct {
	mu      sync.Mutex
	ino     uint64
	nextIno uint64
	kids    map[string]*direntry_t
}

type direntry_t struct {
	ino  uint64
	v    Vnode_i
	kind uint8
}

// NewDirVnode returns an empty directory with the given inode number.
func NewDirVnode(ino uint64) *DirVnode_t {
	return &DirVnode_t{ino: ino, nextIno: ino + 1, kids: map[string]*direntry_t{}}
}

func (d *DirVnode_t) Size() int64 { d.mu.Lock(); defer d.mu.Unlock(); return int64(len(d.kids)) }
func (d *DirVnode_t) IsDir() bool { return true }

func (d *DirVnode_t) GetPage(offset int64) (mem.Pa_t, defs.Err_t) { return 0, -defs.EISDIR }
func (d *DirVnode_t) PutPage(mem.Pa_t)                            {}

func (d *DirVnode_t) Lookup(name ustr.Ustr) (Vnode_i, defs.Err_t) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.kids[name.String()]
	if !ok {
		return nil, -defs.ENOENT
	}
	return e.v, 0
}

// Create installs v under name with the given d_type, or -EEXIST if
// the name is already taken (spec's creat/link surface).
func (d *DirVnode_t) Create(name string, v Vnode_i, kind uint8) defs.Err_t {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.kids[name]; ok {
		return -defs.EEXIST
	}
	ino := d.nextIno
	d.nextIno++
	d.kids[name] = &direntry_t{ino: ino, v: v, kind: kind}
	return 0
}

// Link aliases an existing child vnode under a second name within the
// same directory (hard link), sharing its inode number.
func (d *DirVnode_t) Link(existing, name string) defs.Err_t {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.kids[existing]
	if !ok {
		return -defs.ENOENT
	}
	if _, ok := d.kids[name]; ok {
		return -defs.EEXIST
	}
	d.kids[name] = &direntry_t{ino: e.ino, v: e.v, kind: e.kind}
	return 0
}

// Remove drops name from the directory.
func (d *DirVnode_t) Remove(name string) defs.Err_t {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.kids[name]; !ok {
		return -defs.ENOENT
	}
	delete(d.kids, name)
	return 0
}

// ordered returns the directory's entries sorted into a stable order so
// repeated getdents calls at increasing offsets agree on which record
// comes next.
func (d *DirVnode_t) ordered() []string {
	names := make([]string, 0, len(d.kids))
	for n := range d.kids {
		names = append(names, n)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	return names
}

// ReadDir implements DirReader: offset is the index of the next
// unread entry, not a byte offset, since entries are generated
// on the fly rather than stored pre-encoded.
func (d *DirVnode_t) ReadDir(offset int64) ([]DirEntry, int64, defs.Err_t) {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := d.ordered()
	if offset < 0 || offset > int64(len(names)) {
		return nil, offset, -defs.EINVAL
	}
	out := make([]DirEntry, 0, len(names)-int(offset))
	i := offset
	for _, n := range names[offset:] {
		e := d.kids[n]
		out = append(out, DirEntry{Ino: e.ino, Off: i + 1, Name: n, Type: e.kind})
		i++
	}
	return out, i, 0
}

// Getdents satisfies Vnode_i directly, encoding in the 32-bit width;
// getdents64 callers go through ReadDir and EncodeDirents64 instead.
func (d *DirVnode_t) Getdents(offset int64, dst fdops.Userio_i) (int, int64, defs.Err_t) {
	entries, _, err := d.ReadDir(offset)
	if err != 0 {
		return 0, offset, err
	}
	n, consumed, werr := EncodeDirents32(dst, entries)
	return n, offset + int64(consumed), werr
}
