//go:build linux

// Package driver implements the parent half of a qdbp session: it
// spawns the watched program under ptrace and intercepts every write
// to a trapped page entirely from outside that program, without ever
// letting the tracee's own runtime observe the raw SIGSEGV a real
// watched write raises. A genuine, synchronous SIGSEGV cannot be
// caught and resumed by a Go program without cgo (see DESIGN.md), so
// the driver does the whole unprotect/retry/reprotect cycle itself via
// ptrace: make the page writable, single-step the faulting instruction
// directly, make it read-only again, then tell the tracee a callback
// should run.
//
// This is grounded in the teacher's (gvisor systrap) and DataDog's
// ptracer use of runtime.LockOSThread and raw ptrace syscalls for the
// parts the standard syscall package doesn't expose, and in the
// teacher's own remote-memory-operation style of driving a tracee's
// address space entirely from the tracer side.
package driver

import (
	"context"
	"encoding/binary"
	"os"
	"runtime"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/vicencb/qdbp/internal/metrics"
	"github.com/vicencb/qdbp/internal/ptracearch"
)

// Signals configures which signals the fault handler and the trap-
// notification use. Defaults mirror the original's fixed SIGSEGV/
// SIGUSR1 pair.
type Signals struct {
	Fault  syscall.Signal
	Notify syscall.Signal
}

// DefaultSignals reproduces the original's hardcoded choice.
func DefaultSignals() Signals {
	return Signals{Fault: syscall.SIGSEGV, Notify: syscall.SIGUSR1}
}

// Driver runs one tracee for its entire lifetime.
type Driver struct {
	Signals  Signals
	Capacity int
	Metrics  *metrics.Recorder

	log *logrus.Entry
}

// New creates a Driver. metrics may be nil, in which case trap/fault
// counters are simply not recorded. Each Driver gets a short, globally
// unique run id (via rs/xid) attached to every log line it emits, so
// concurrent driver runs can be told apart in aggregated logs.
func New(signals Signals, capacity int, m *metrics.Recorder) *Driver {
	return &Driver{
		Signals:  signals,
		Capacity: capacity,
		Metrics:  m,
		log:      logrus.WithField("run", xid.New().String()),
	}
}

// Result describes how the tracee terminated.
type Result struct {
	ExitCode int
	Signaled bool
	Signal   syscall.Signal
}

// Run spawns program under ptrace with the environment qdbp's runtime
// needs (QDBP_NOTIFY_SIGNAL, QDBP_CAPACITY) and drives it until it
// exits, handling every trapped write along the way.
func (d *Driver) Run(ctx context.Context, program string, args []string) (Result, error) {
	faultAddrRead, faultAddrWrite, err := os.Pipe()
	if err != nil {
		return Result{}, errors.Wrap(err, "create fault-address pipe")
	}
	defer faultAddrWrite.Close()

	eventsRead, eventsWrite, err := os.Pipe()
	if err != nil {
		return Result{}, errors.Wrap(err, "create events pipe")
	}

	env := append(os.Environ(),
		envPair(envNotifySignal, int(d.Signals.Notify)),
		envPair(envCapacity, d.Capacity),
	)

	cmd, err := spawnTraced(program, args, env, []*os.File{faultAddrRead, eventsWrite})
	faultAddrRead.Close()
	eventsWrite.Close()
	if err != nil {
		eventsRead.Close()
		return Result{}, err
	}

	pages := newWatchedPages()
	go readEvents(eventsRead, pages, d.Metrics)

	d.log.WithFields(logrus.Fields{
		"program": program,
		"pid":     cmd.Process.Pid,
	}).Info("tracee started")

	res, err := d.loop(ctx, cmd.Process.Pid, faultAddrWrite, pages)
	if err != nil {
		return res, err
	}
	d.log.WithFields(logrus.Fields{
		"exit_code": res.ExitCode,
		"signaled":  res.Signaled,
	}).Info("tracee finished")
	return res, nil
}

const (
	envNotifySignal = "QDBP_NOTIFY_SIGNAL"
	envCapacity     = "QDBP_CAPACITY"
)

func envPair(name string, value int) string {
	return name + "=" + strconv.Itoa(value)
}

// loop drives the tracee until it exits or is killed by a signal. It
// must run on the same OS thread that called spawnTraced.
func (d *Driver) loop(ctx context.Context, pid int, faultAddrPipe *os.File, pages *watchedPages) (Result, error) {
	defer runtime.UnlockOSThread()

	pageSize := os.Getpagesize()
	st := startUp
	var savedPC uint64
	var faultPage uintptr

	for {
		select {
		case <-ctx.Done():
			_ = unix.Kill(pid, unix.SIGKILL)
			return Result{}, ctx.Err()
		default:
		}

		var ws unix.WaitStatus
		wpid, err := unix.Wait4(pid, &ws, 0, nil)
		if err != nil {
			return Result{}, errors.Wrap(err, "wait4")
		}
		if wpid != pid {
			continue
		}

		if ws.Exited() {
			return Result{ExitCode: ws.ExitStatus()}, nil
		}
		if ws.Signaled() {
			return Result{Signaled: true, Signal: ws.Signal()}, nil
		}
		if !ws.Stopped() {
			continue
		}
		sig := ws.StopSignal()

		switch st {
		case startUp:
			if err := ptraceSetOptions(pid); err != nil {
				return Result{}, errors.Wrap(err, "ptrace set options")
			}
			if err := ptraceCont(pid, 0); err != nil {
				return Result{}, errors.Wrap(err, "ptrace cont from start_up")
			}
			st = waitFault

		case waitFault:
			if sig != d.Signals.Fault {
				if err := ptraceCont(pid, sig); err != nil {
					return Result{}, errors.Wrap(err, "forward signal in wait_fault")
				}
				continue
			}

			regs, err := ptraceGetRegs(pid)
			if err != nil {
				return Result{}, errors.Wrap(err, "getregs in wait_fault")
			}
			pc := ptracearch.ProgramCounter(regs)

			addr, err := ptraceFaultAddr(pid)
			if err != nil {
				return Result{}, errors.Wrap(err, "read fault address")
			}
			page := addr &^ uintptr(pageSize-1)

			if !pages.isWatched(page) {
				// Not a page qdbp has armed: a real, unrelated crash.
				// Forward the signal unchanged so the tracee's own
				// runtime handles it (and reports it) normally.
				if err := ptraceCont(pid, sig); err != nil {
					return Result{}, errors.Wrap(err, "forward unrelated fault")
				}
				continue
			}

			if err := writeFaultAddr(faultAddrPipe, addr); err != nil {
				return Result{}, errors.Wrap(err, "forward fault address to tracee")
			}
			if d.Metrics != nil {
				d.Metrics.FaultsObserved.Inc()
			}

			if err := remoteMProtect(pid, page, pageSize, unix.PROT_READ|unix.PROT_WRITE); err != nil {
				return Result{}, errors.Wrap(err, "remote unprotect")
			}

			savedPC = pc
			faultPage = page
			if err := ptraceSingleStep(pid, 0); err != nil {
				return Result{}, errors.Wrap(err, "single-step the trapped write")
			}
			st = singleStep

		case singleStep:
			regs, err := ptraceGetRegs(pid)
			if err != nil {
				return Result{}, errors.Wrap(err, "getregs in single_step")
			}
			pc := ptracearch.ProgramCounter(regs)

			if !instructionRetired(pc, savedPC) {
				if err := ptraceSingleStep(pid, 0); err != nil {
					return Result{}, errors.Wrap(err, "single-step in single_step")
				}
				continue
			}

			if err := remoteMProtect(pid, faultPage, pageSize, unix.PROT_READ); err != nil {
				return Result{}, errors.Wrap(err, "remote reprotect")
			}
			if err := ptraceCont(pid, d.Signals.Notify); err != nil {
				return Result{}, errors.Wrap(err, "deliver notify signal")
			}
			st = waitFault
		}
	}
}

func writeFaultAddr(w *os.File, addr uintptr) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(addr))
	_, err := w.Write(buf[:])
	return err
}
