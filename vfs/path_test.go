package vfs

import (
	"testing"

	"kernel/except"
	"kernel/ustr"
)

func mkdir() *memVnode {
	v := newMemVnode(nil, 0)
	v.dirs = map[string]Vnode_i{}
	return v
}

func TestNamevResolvesAbsolutePath(t *testing.T) {
	root := mkdir()
	etc := mkdir()
	passwd := newMemVnode(nil, 100)
	root.dirs["etc"] = etc
	etc.dirs["passwd"] = passwd

	got := Namev(root, root, ustr.Ustr("/etc/passwd"))
	if got != Vnode_i(passwd) {
		t.Fatal("Namev did not resolve to the expected leaf vnode")
	}
}

func TestNamevResolvesRelativeToCwd(t *testing.T) {
	root := mkdir()
	cwd := mkdir()
	leaf := newMemVnode(nil, 1)
	cwd.dirs["x"] = leaf

	got := Namev(root, cwd, ustr.Ustr("x"))
	if got != Vnode_i(leaf) {
		t.Fatal("Namev did not resolve relative path against cwd")
	}
}

func TestNamevSkipsDotComponents(t *testing.T) {
	root := mkdir()
	leaf := newMemVnode(nil, 1)
	root.dirs["a"] = leaf

	got := Namev(root, root, ustr.Ustr("/./a"))
	if got != Vnode_i(leaf) {
		t.Fatal("Namev should treat '.' as a no-op step")
	}
}

func TestNamevMissingComponentThrowsFileNotFound(t *testing.T) {
	root := mkdir()

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a panic for a missing path component")
		}
		cause, ok := r.(*except.Cause)
		if !ok || !except.Matches(except.FileNotFound, cause) {
			t.Fatalf("recovered %v, want a FileNotFound cause", r)
		}
	}()
	Namev(root, root, ustr.Ustr("/nope"))
}

func TestNamevRejectsLookupThroughNonDirectory(t *testing.T) {
	root := mkdir()
	leaf := newMemVnode(nil, 1)
	root.dirs["f"] = leaf

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a panic resolving a path through a non-directory")
		}
	}()
	Namev(root, root, ustr.Ustr("/f/g"))
}
