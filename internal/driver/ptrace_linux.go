//go:build linux

package driver

import (
	"encoding/binary"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/vicencb/qdbp/internal/ptracearch"
)

// ptraceSingleStep always steps with signal 0 in this driver: every
// real fault is handled by the driver itself via remote syscall
// injection (see remote_linux.go), so the tracee never needs a signal
// delivered as part of a step. The sig parameter and the raw six-
// argument ptrace(2) syscall are kept anyway, in the same style as the
// teacher's subprocess.go ptrace helpers, since neither the syscall nor
// x/sys/unix package exposes a single-step wrapper that takes one.
func ptraceSingleStep(pid int, sig syscall.Signal) error {
	_, _, errno := unix.RawSyscall6(unix.SYS_PTRACE, unix.PTRACE_SINGLESTEP, uintptr(pid), 0, uintptr(sig), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func ptraceCont(pid int, sig syscall.Signal) error {
	return unix.PtraceCont(pid, int(sig))
}

func ptraceGetRegs(pid int) (*unix.PtraceRegs, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(pid, &regs); err != nil {
		return nil, err
	}
	return &regs, nil
}

func ptraceSetOptions(pid int) error {
	return unix.PtraceSetOptions(pid, unix.PTRACE_O_EXITKILL)
}

// ptraceFaultAddr reads si_addr out of the kernel siginfo_t for the
// tracee's currently pending signal via PTRACE_GETSIGINFO. This is the
// driver-side half of the fault-address side channel documented in
// pkg/qdbp/signal_linux.go: the tracee cannot recover si_addr itself
// without cgo, so the driver (which is already inspecting ptrace state
// on every stop) reads it here and forwards it over a pipe.
func ptraceFaultAddr(pid int) (uintptr, error) {
	var siginfo [128]byte
	_, _, errno := unix.RawSyscall6(unix.SYS_PTRACE, unix.PTRACE_GETSIGINFO, uintptr(pid), 0, uintptr(unsafe.Pointer(&siginfo[0])), 0, 0)
	if errno != 0 {
		return 0, errno
	}
	off := ptracearch.FaultAddrOffset
	return uintptr(binary.LittleEndian.Uint64(siginfo[off : off+8])), nil
}

// spawnTraced starts program under PTRACE_TRACEME, wired up so the
// tracee inherits extraFiles at fd 3, 4, ... in order (see
// internal/wire for what each fd carries). Ptrace is thread-affine: the
// goroutine that starts the tracee must be the one that waits on and
// continues it, so spawnTraced calls runtime.LockOSThread itself and,
// on success, leaves the calling goroutine locked; the caller makes
// every later ptrace call from that goroutine and unlocks it when the
// tracee is gone (Driver.loop does both).
func spawnTraced(program string, args []string, env []string, extraFiles []*os.File) (*exec.Cmd, error) {
	runtime.LockOSThread()

	cmd := exec.Command(program, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = env
	cmd.ExtraFiles = extraFiles
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	if err := cmd.Start(); err != nil {
		runtime.UnlockOSThread()
		return nil, errors.Wrap(err, "spawn traced process")
	}
	return cmd, nil
}
