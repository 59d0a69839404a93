//go:build linux

package driver

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/vicencb/qdbp/internal/ptracearch"
)

// remoteSyscall executes exactly one syscall inside the tracee at its
// current ptrace-stop, without ever letting the tracee's own code run:
// it patches a raw syscall instruction in over whatever sits at the
// current program counter, steps across it, reads back the result,
// then restores both the patched bytes and every register to what they
// were before. This is how the driver arms and disarms page protection
// around a trapped write itself, instead of asking the tracee to
// recover from its own SIGSEGV: qdbp's Go tracee has no sigreturn-
// resumable handler to do that with, so the driver does it from
// outside via ptrace (see DESIGN.md).
func remoteSyscall(pid int, nr, a1, a2, a3 uintptr) (uintptr, error) {
	var savedRegs unix.PtraceRegs
	if err := unix.PtraceGetRegs(pid, &savedRegs); err != nil {
		return 0, errors.Wrap(err, "getregs before remote syscall")
	}
	pc := uintptr(ptracearch.ProgramCounter(&savedRegs))

	var savedCode [8]byte
	if _, err := unix.PtracePeekText(pid, pc, savedCode[:]); err != nil {
		return 0, errors.Wrap(err, "peektext before remote syscall")
	}
	patched := savedCode
	copy(patched[:], ptracearch.SyscallInstruction[:])
	if _, err := unix.PtracePokeText(pid, pc, patched[:]); err != nil {
		return 0, errors.Wrap(err, "poketext before remote syscall")
	}
	defer func() {
		_, _ = unix.PtracePokeText(pid, pc, savedCode[:])
	}()

	callRegs := savedRegs
	ptracearch.SetProgramCounter(&callRegs, uint64(pc))
	ptracearch.SetSyscallNumber(&callRegs, nr)
	ptracearch.SetSyscallArgs(&callRegs, a1, a2, a3)
	if err := unix.PtraceSetRegs(pid, &callRegs); err != nil {
		return 0, errors.Wrap(err, "setregs before remote syscall")
	}

	if err := ptraceSingleStep(pid, 0); err != nil {
		return 0, errors.Wrap(err, "single-step remote syscall")
	}
	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return 0, errors.Wrap(err, "wait4 remote syscall")
	}
	if !ws.Stopped() {
		return 0, errors.Errorf("tracee did not stop cleanly after remote syscall, status %#x", uint32(ws))
	}

	var resultRegs unix.PtraceRegs
	if err := unix.PtraceGetRegs(pid, &resultRegs); err != nil {
		return 0, errors.Wrap(err, "getregs after remote syscall")
	}
	result := ptracearch.SyscallResult(&resultRegs)

	if err := unix.PtraceSetRegs(pid, &savedRegs); err != nil {
		return 0, errors.Wrap(err, "restore regs after remote syscall")
	}
	return result, nil
}

// remoteMProtect calls mprotect(addr, length, prot) inside the tracee.
func remoteMProtect(pid int, addr uintptr, length int, prot int) error {
	result, err := remoteSyscall(pid, uintptr(unix.SYS_MPROTECT), addr, uintptr(length), uintptr(prot))
	if err != nil {
		return err
	}
	if int(result) < 0 {
		return errors.Errorf("remote mprotect(%#x): errno %d", addr, -int(result))
	}
	return nil
}
