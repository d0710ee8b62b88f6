package defs

// Err_t is a POSIX-style error code. Zero means success; the negative
// region is returned to user space verbatim as -errno (see syscall
// package). Positive values are never produced.
type Err_t int

// Errno values the core raises. Numbering follows the traditional Linux
// i386 errno table so the syscall dispatcher can hand values straight to
// user space without translation.
const (
	EPERM   Err_t = 1
	ENOENT  Err_t = 2
	ESRCH   Err_t = 3
	EINTR   Err_t = 4
	EIO     Err_t = 5
	ENXIO   Err_t = 6
	E2BIG   Err_t = 7
	ENOEXEC Err_t = 8
	EBADF   Err_t = 9
	ECHILD  Err_t = 10
	EAGAIN  Err_t = 11
	ENOMEM  Err_t = 12
	EACCES  Err_t = 13
	EFAULT  Err_t = 14
	EEXIST  Err_t = 17
	EXDEV   Err_t = 18
	ENOTDIR Err_t = 20
	EISDIR  Err_t = 21
	EINVAL  Err_t = 22
	ENFILE  Err_t = 23
	EMFILE  Err_t = 24
	ESPIPE  Err_t = 29
	EPIPE   Err_t = 32
	ENOSYS  Err_t = 38
	ENOTEMPTY Err_t = 39
	EOVERFLOW Err_t = 75
	ETIMEDOUT Err_t = 110

	// ENOHEAP is not a Linux errno; the teacher's resource admission
	// layer (res package) uses it to signal that a bounded kernel
	// resource budget was exhausted before any memory allocator ran.
	ENOHEAP Err_t = 1000
)

// Pid_t identifies a process within a container.
type Pid_t int

// Tid_t identifies a thread.
type Tid_t int

// Cpid_t identifies a pid local to one container (a process may have a
// different Cpid_t in each container it is visible from; the core only
// ever uses the root container so the two coincide in practice).
type Cpid_t int
