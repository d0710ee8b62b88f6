// Package syscall implements the POSIX system-call dispatcher
// (component M): a switch on the trap's request register, each case a
// shim that decodes the remaining registers, calls into
// proc/vfs/fd/vm, and maps any exception the call throws to a negative
// errno (spec §4.M, §6 "System-call surface", §7 "Policy"). Grounded on
// original_source/arch/i386/syscall.c's i386_syscall switch, kept as a
// switch over the same sc_* numbering so the registers-in/register-out
// convention survives unchanged.
package syscall

// Regs is the register file a trap hands the dispatcher: request
// number in Eax on entry, args in Ebx/Ecx/Edx/Esi/Edi, return value
// (or -errno) written back to Eax (spec §6). Field names spell out
// which i386 register each slot is, matching original_source's
// ISR_REG_EAX/EBX/ECX/EDX/ESI/EDI order.
type Regs struct {
	Eax uintptr
	Ebx uintptr
	Ecx uintptr
	Edx uintptr
	Esi uintptr
	Edi uintptr
}

// Syscall numbers. All but Getdents and Getdents64 follow
// original_source/arch/i386/syscall.c's sc_* enum; those two have no
// analogue there (that kernel never grew 32/64-bit dirent variants)
// and take 141 and 220, the i386 Linux numbers for getdents and
// getdents64.
const (
	SYS_EXIT     = 1
	SYS_FORK     = 2
	SYS_READ     = 3
	SYS_WRITE    = 4
	SYS_OPEN     = 5
	SYS_CLOSE    = 6
	SYS_WAITPID  = 7
	SYS_CREAT    = 8
	SYS_LINK     = 9
	SYS_UNLINK   = 10
	SYS_EXECVE   = 11
	SYS_CHDIR    = 12
	SYS_TIME     = 13
	SYS_GETPID   = 20
	SYS_PIPE     = 42
	SYS_DUP      = 41
	SYS_BRK      = 45
	SYS_DUP2     = 63
	SYS_GETDENTS   = 141
	SYS_NANOSLEEP  = 162
	SYS_GETDENTS64 = 220
)

// Open flags, matching the subset of O_* open(2) honors, decoded out
// of Ecx.
const (
	O_RDONLY = 0x0
	O_WRONLY = 0x1
	O_RDWR   = 0x2
	O_CREAT  = 0x40
)
