package qdbp

import "github.com/pkg/errors"

// faultState is the process-wide handoff between the fault handler and
// the notify handler (trap_num/range_num in the original C). It is
// written only by HandleFault and drained only by HandleNotify; the
// two never run concurrently under the single-threaded-tracee
// assumption (I5).
type faultState struct {
	pending  bool
	trapIdx  int
	rangeIdx int
}

// ErrUnrelatedFault is returned by HandleFault when the faulting
// address does not fall on any page currently held read-only by this
// table. The original C handler treats this as indistinguishable from
// a real crash and calls exit(1); callers should do the same.
var ErrUnrelatedFault = errors.New("qdbp: fault outside any watched page")

// ErrUnexpectedNotify is returned by HandleNotify when it is invoked
// without a fault recorded by a prior HandleFault call.
var ErrUnexpectedNotify = errors.New("qdbp: notification with no pending fault")

// HandleFault implements the fault side of sections 4.2/4.4: it looks
// up the range covering faultAddr's page and records the (possibly
// absent) trap covering the exact byte for the notify handler to pick
// up.
//
// Unlike the original design, this no longer flips page protection
// itself: by the time this runs, the driver has already made the page
// writable, single-stepped the real faulting instruction, and restored
// it to read-only, all via ptrace from outside the process. qdbp's Go
// tracee has no sigreturn-resumable handler to retry a synchronous
// SIGSEGV itself, so the driver does that part; see DESIGN.md.
//
// It must be called with the table's internal lock available, i.e.
// not from inside SetTrap/DelTrap/HandleNotify.
func (t *Table) HandleFault(faultAddr uintptr) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	page := alignPage(faultAddr, t.protector.PageSize())
	rangeIdx := t.getRange(page)
	if rangeIdx < 0 {
		return ErrUnrelatedFault
	}
	t.fault = faultState{
		pending:  true,
		trapIdx:  t.getTrap(faultAddr),
		rangeIdx: rangeIdx,
	}
	return nil
}

// HandleNotify implements the asynchronous notify handler of section
// 4.3: it drains the fault state and invokes the recorded trap's
// callback, if any byte-range trap matched (as opposed to an unwatched
// byte on the same page). Page protection has already been restored by
// the driver before the notify signal was ever delivered.
func (t *Table) HandleNotify() error {
	t.mu.Lock()
	fs := t.fault
	t.fault = faultState{}
	if !fs.pending {
		t.mu.Unlock()
		return ErrUnexpectedNotify
	}

	var cb Callback
	var arg any
	if fs.trapIdx >= 0 {
		cb = t.traps[fs.trapIdx].cb
		arg = t.traps[fs.trapIdx].arg
	}
	reporter := t.reporter
	t.mu.Unlock()

	if cb != nil {
		cb(arg)
		reporter.CallbackFired()
	}
	return nil
}
