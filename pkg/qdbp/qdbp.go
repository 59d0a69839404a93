// Package qdbp implements quick data breakpoints: byte-range
// write watches that fire a callback inside the watching process
// itself, coordinated with an external ptrace driver (see
// github.com/vicencb/qdbp/internal/driver) that single-steps the
// watched process across each faulting instruction and re-arms page
// protection afterwards.
//
// A qdbp-instrumented program is not useful on its own: it must be run
// under the qdbp-driver binary (or an equivalent driver embedding
// internal/driver), which is what single-steps past the faulting
// write and sends the notify signal that runs callbacks.
package qdbp

import (
	"fmt"
	"os"
	"sync"
	"unsafe"
)

var (
	initOnce     sync.Once
	defaultTable *Table
)

func ensureInit() {
	initOnce.Do(func() {
		capacity := DefaultCapacity
		if v, ok := os.LookupEnv(envCapacity); ok {
			if n, err := parsePositiveInt(v); err == nil {
				capacity = n
			}
		}
		defaultTable = NewTable(capacity, newMprotectProtector())
		defaultTable.SetEventReporter(newPipeEventReporter())
		installSignalHandlers(defaultTable)
	})
}

func parsePositiveInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("qdbp: invalid capacity %q", s)
	}
	return n, nil
}

// SetTrap arms a watch over the len bytes starting at addr. cb is
// invoked with arg once per completed write that touches any byte in
// that range, after the write has retired. The page is kept readable,
// so reads do not fault and fire no callback. It returns a
// non-negative id unique among currently live traps.
func SetTrap(addr unsafe.Pointer, length int, cb Callback, arg any) (int, error) {
	ensureInit()
	if addr == nil {
		return -1, ErrInvalidArgument
	}
	return defaultTable.SetTrap(uintptr(addr), length, cb, arg)
}

// DelTrap disarms the trap previously returned by SetTrap or Trap.
func DelTrap(id int) error {
	ensureInit()
	return defaultTable.DelTrap(id)
}

// Trap is the generic convenience equivalent of the original's
// qdbp_trap(object, callback, argument) macro: it supplies &object and
// sizeof(object) automatically.
func Trap[T any](object *T, cb Callback, arg any) (int, error) {
	return SetTrap(unsafe.Pointer(object), int(unsafe.Sizeof(*object)), cb, arg)
}
