//go:build linux

package qdbp

import (
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/vicencb/qdbp/internal/wire"
)

// Environment variables the driver sets when it spawns a qdbp-linked
// tracee, mirroring the original C implementation's fixed SIGUSR1
// notify signal while letting the driver and library agree on an
// alternate signal number and table capacity.
const (
	envNotifySignal = "QDBP_NOTIFY_SIGNAL"
	envCapacity     = "QDBP_CAPACITY"
)

func signalFromEnv(name string, fallback syscall.Signal) syscall.Signal {
	v, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return syscall.Signal(n)
}

// installSignalHandlers wires the notify signal to t's dispatch loop,
// implementing the asynchronous half of section 4.3.
//
// There is deliberately no handler installed for the fault signal
// itself. A real watched write's SIGSEGV is a genuine, synchronous
// fault: the Go runtime intercepts those before os/signal.Notify ever
// sees them and turns an uncaught one into a fatal, unrecoverable
// panic at the faulting PC, with no supported way to resume that exact
// instruction afterward. So the driver never lets the tracee observe
// it at all — it makes the page writable, single-steps the faulting
// instruction, and restores the page to read-only entirely via ptrace
// from outside this process (see internal/driver and DESIGN.md), only
// sending the notify signal once that whole cycle is done. A SIGSEGV
// the driver does not recognize as belonging to a watched page is left
// to run its normal course and crash the process, exactly as a real,
// unrelated fault should.
func installSignalHandlers(t *Table) {
	notifySignal := signalFromEnv(envNotifySignal, syscall.SIGUSR1)

	notifyCh := make(chan os.Signal, 1)
	signal.Notify(notifyCh, notifySignal)

	go dispatch(t, notifyCh)
}

func dispatch(t *Table, notifyCh <-chan os.Signal) {
	for range notifyCh {
		addr, err := readFaultAddr()
		if err != nil {
			abort(fmt.Sprintf("qdbp: unable to read fault address: %v", err))
			continue
		}
		if err := t.HandleFault(addr); err != nil {
			abort("Segmentation fault")
			continue
		}
		if err := t.HandleNotify(); err != nil {
			abort("Unexpected signal")
		}
	}
}

// readFaultAddr blocks until the driver supplies the address that
// faulted, over the inherited fault-address pipe (see internal/wire).
func readFaultAddr() (uintptr, error) {
	var buf [8]byte
	f := os.NewFile(uintptr(wire.FaultAddrFD), "qdbp-fault-addr")
	if f == nil {
		return 0, fmt.Errorf("fd %d not available (not running under qdbp-driver?)", wire.FaultAddrFD)
	}
	if _, err := f.Read(buf[:]); err != nil {
		return 0, err
	}
	return uintptr(binary.LittleEndian.Uint64(buf[:])), nil
}

// abort mirrors the original's diagnostic-then-exit(1) behavior on an
// unrelated fault or an unexpected notification: both are treated as
// unrecoverable, matching section 7's error taxonomy.
func abort(message string) {
	logrus.Error(message)
	os.Exit(1)
}
