package qdbp

import (
	"sync"

	"github.com/pkg/errors"
)

// Callback is invoked, on the tracee's dispatcher goroutine, after the
// faulting instruction has retired and the watched page has been
// observed in its post-write state.
type Callback func(arg any)

// trap is one armed watch. It mirrors struct qdbp_trap from the
// original C implementation field for field.
type trap struct {
	cb       Callback
	arg      any
	addr     uintptr
	length   int
	rangeIdx int
}

func (t *trap) live() bool { return t.length != 0 }

// rangeSlot is a refcounted page-protection handle, shared by every
// live trap whose byte range falls on the same page. It mirrors
// struct qdbp_range.
type rangeSlot struct {
	page  uintptr
	count int
}

func (r *rangeSlot) live() bool { return r.count != 0 }

// pageProtector is the seam between the pure trap/range bookkeeping
// below and the platform-specific mprotect calls. Tests supply a fake
// implementation so P1-P6 can be checked without a live kernel.
type pageProtector interface {
	PageSize() uintptr
	Lock(page uintptr) error   // make page read-only
	Unlock(page uintptr) error // make page read-write
}

// Table is the trap and range table pair (TrapTable/RangeTable in the
// original design). It is fixed-capacity and not safe for concurrent
// use from multiple threads, matching the single-threaded-tracee
// assumption documented in the specification's concurrency model.
//
// HandleNotify releases mu before it invokes a callback, so a callback
// that calls SetTrap or DelTrap does not deadlock; there is no other
// guard against reentrancy from callbacks.
type Table struct {
	mu        sync.Mutex
	traps     []trap
	ranges    []rangeSlot
	protector pageProtector
	reporter  eventReporter

	fault faultState
}

// DefaultCapacity matches QDBP_NUM_TRAPS in the original C source.
const DefaultCapacity = 8

// NewTable constructs a Table with the given slot capacity for both
// the trap and range arrays, backed by protector.
func NewTable(capacity int, protector pageProtector) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Table{
		traps:     make([]trap, capacity),
		ranges:    make([]rangeSlot, capacity),
		protector: protector,
		reporter:  noopEventReporter{},
	}
}

// SetEventReporter wires r to receive every subsequent SetTrap/DelTrap/
// callback event. The default, set by NewTable, is a no-op, so tests
// and any caller that doesn't care about driver-side mirroring can
// ignore this entirely.
func (t *Table) SetEventReporter(r eventReporter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reporter = r
}

func alignPage(addr, pageSize uintptr) uintptr {
	return addr &^ (pageSize - 1)
}

// getFreeTrap scans from the tail toward the head and returns the
// first free slot, or -1 if the table is full. This ordering is load
// bearing: it gives deterministic, LIFO-biased slot reuse that the
// package's tests rely on.
func (t *Table) getFreeTrap() int {
	for i := len(t.traps) - 1; i >= 0; i-- {
		if !t.traps[i].live() {
			return i
		}
	}
	return -1
}

// getTrap returns the index of the live trap whose byte range contains
// at, scanning in the same tail-to-head order as getFreeTrap.
func (t *Table) getTrap(at uintptr) int {
	for i := len(t.traps) - 1; i >= 0; i-- {
		tr := &t.traps[i]
		if tr.live() && tr.addr <= at && at < tr.addr+uintptr(tr.length) {
			return i
		}
	}
	return -1
}

func (t *Table) overlaps(addr uintptr, length int) bool {
	end := addr + uintptr(length)
	for i := len(t.traps) - 1; i >= 0; i-- {
		tr := &t.traps[i]
		if !tr.live() {
			continue
		}
		trEnd := tr.addr + uintptr(tr.length)
		if tr.addr < end && addr < trEnd {
			return true
		}
	}
	return false
}

func (t *Table) getFreeRange() int {
	for i := len(t.ranges) - 1; i >= 0; i-- {
		if !t.ranges[i].live() {
			return i
		}
	}
	return -1
}

func (t *Table) getRange(page uintptr) int {
	for i := len(t.ranges) - 1; i >= 0; i-- {
		if t.ranges[i].live() && t.ranges[i].page == page {
			return i
		}
	}
	return -1
}

// newRange returns the index of the range covering page, creating it
// (and locking the page read-only) if it does not already exist.
//
// A free range slot is always available when a free trap slot is
// available: every live range is referenced by at least one live
// trap, and the range table has the same capacity as the trap table,
// so ranges can never be exhausted before traps are.
func (t *Table) newRange(page uintptr) (int, error) {
	p := t.getRange(page)
	if p < 0 {
		p = t.getFreeRange()
		if p < 0 {
			return -1, errors.New("qdbp: range table exhausted (unreachable under normal use)")
		}
		if err := t.protector.Lock(page); err != nil {
			return -1, errors.Wrap(err, "lock page")
		}
		t.ranges[p].page = page
	}
	t.ranges[p].count++
	return p, nil
}

func (t *Table) delRange(p int) error {
	t.ranges[p].count--
	if t.ranges[p].count == 0 {
		if err := t.protector.Unlock(t.ranges[p].page); err != nil {
			return errors.Wrap(err, "unlock page")
		}
	}
	return nil
}

// SetTrap arms a watch over [addr, addr+length) and returns its id.
func (t *Table) SetTrap(addr uintptr, length int, cb Callback, arg any) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pageSize := t.protector.PageSize()
	if addr == 0 || length <= 0 || uintptr(length) > pageSize || cb == nil {
		return -1, ErrInvalidArgument
	}
	page := alignPage(addr, pageSize)
	if alignPage(addr+uintptr(length)-1, pageSize) != page {
		return -1, ErrInvalidArgument
	}
	if t.overlaps(addr, length) {
		return -1, ErrOverlap
	}
	id := t.getFreeTrap()
	if id < 0 {
		return -1, ErrNoSpace
	}
	rangeIdx, err := t.newRange(page)
	if err != nil {
		return -1, err
	}
	t.traps[id] = trap{
		cb:       cb,
		arg:      arg,
		addr:     addr,
		length:   length,
		rangeIdx: rangeIdx,
	}
	t.reporter.TrapArmed(page)
	return id, nil
}

// DelTrap disarms the trap identified by id.
func (t *Table) DelTrap(id int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id < 0 || id >= len(t.traps) || !t.traps[id].live() {
		return ErrBadID
	}
	page := t.ranges[t.traps[id].rangeIdx].page
	if err := t.delRange(t.traps[id].rangeIdx); err != nil {
		return err
	}
	t.traps[id].length = 0
	t.reporter.TrapDisarmed(page)
	return nil
}

// Capacity returns the fixed slot capacity of the table.
func (t *Table) Capacity() int { return len(t.traps) }

// rangeCount returns the live trap count referencing range index p,
// used by tests to check invariant P3 (refcount equality).
func (t *Table) rangeCount(p int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ranges[p].count
}
