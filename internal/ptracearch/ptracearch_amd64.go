//go:build linux && amd64

package ptracearch

import "golang.org/x/sys/unix"

// ProgramCounter returns the instruction pointer from a GETREGS result.
func ProgramCounter(regs *unix.PtraceRegs) uint64 {
	return regs.Rip
}

// SetProgramCounter overwrites the instruction pointer in regs. Used
// by the driver's remote syscall injection to point the tracee at the
// patched syscall instruction before stepping over it, and to restore
// it afterward.
func SetProgramCounter(regs *unix.PtraceRegs, pc uint64) {
	regs.Rip = pc
}

// SetSyscallNumber sets up regs so the next single-step executes
// syscall number nr. Both Rax and Orig_Rax are set: the kernel reads
// the syscall number from Orig_Rax on entry, but Rax doubles as the
// return-value register, so priming both keeps a freshly-built register
// set consistent before the step actually happens.
func SetSyscallNumber(regs *unix.PtraceRegs, nr uintptr) {
	regs.Orig_Rax = uint64(nr)
	regs.Rax = uint64(nr)
}

// SetSyscallArgs sets the first three syscall arguments, all that the
// driver's remote mprotect calls need.
func SetSyscallArgs(regs *unix.PtraceRegs, a1, a2, a3 uintptr) {
	regs.Rdi = uint64(a1)
	regs.Rsi = uint64(a2)
	regs.Rdx = uint64(a3)
}

// SyscallResult reads a syscall's return value back out of regs after
// the injected instruction has executed.
func SyscallResult(regs *unix.PtraceRegs) uintptr {
	return uintptr(regs.Rax)
}

// SyscallInstruction is the raw amd64 SYSCALL opcode, injected at the
// tracee's current program counter to run a syscall on its behalf
// without ever transferring control to its own code.
var SyscallInstruction = [2]byte{0x0f, 0x05}

// FaultAddrOffset is the byte offset of si_addr within the kernel
// siginfo_t union for synchronous faults (SIGSEGV/SIGBUS) on amd64:
// 4 bytes signo + 4 bytes errno + 4 bytes code + 4 bytes padding.
const FaultAddrOffset = 16
