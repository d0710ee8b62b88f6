// Package bpath splits and joins filesystem paths the way the VFS core's
// path-resolution walk (vfs.Namev) consumes them.
package bpath

import "kernel/ustr"

// Split breaks path into its '/'-separated components, dropping empty
// components produced by repeated or trailing slashes. "." components
// are kept: the caller (vfs.Namev) is responsible for collapsing them,
// matching the original walk's one-component-at-a-time semantics.
func Split(path ustr.Ustr) []ustr.Ustr {
	var parts []ustr.Ustr
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				parts = append(parts, path[start:i])
			}
			start = i + 1
		}
	}
	return parts
}

// Join reassembles components produced by Split into a path. An empty
// parts list joins to the empty path, not "/"; callers that need an
// absolute path prepend the leading slash explicitly via IsAbsolute on
// the original input, since Split discards that information.
func Join(parts []ustr.Ustr) ustr.Ustr {
	if len(parts) == 0 {
		return ustr.MkUstr()
	}
	out := make(ustr.Ustr, 0, len(parts)*8)
	for i, p := range parts {
		if i > 0 {
			out = append(out, '/')
		}
		out = append(out, p...)
	}
	return out
}

// JoinAbsolute is like Join but prefixes the result with '/', matching
// the shape Split would have been called on for an absolute path.
func JoinAbsolute(parts []ustr.Ustr) ustr.Ustr {
	return append(ustr.Ustr{'/'}, Join(parts)...)
}
