package qdbp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProtector is a pageProtector that records lock/unlock calls
// instead of touching real memory, so the trap/range bookkeeping can
// be exercised without mprotect or a kernel.
type fakeProtector struct {
	pageSize uintptr
	locked   map[uintptr]bool
}

func newFakeProtector(pageSize uintptr) *fakeProtector {
	return &fakeProtector{pageSize: pageSize, locked: map[uintptr]bool{}}
}

func (f *fakeProtector) PageSize() uintptr { return f.pageSize }

func (f *fakeProtector) Lock(page uintptr) error {
	f.locked[page] = true
	return nil
}

func (f *fakeProtector) Unlock(page uintptr) error {
	f.locked[page] = false
	return nil
}

const testPageSize = 4096

func newTestTable(capacity int) (*Table, *fakeProtector) {
	p := newFakeProtector(testPageSize)
	return NewTable(capacity, p), p
}

func noopCallback(any) {}

// P1: after SetTrap succeeds, the containing page is read-only.
func TestSetTrapLocksPage(t *testing.T) {
	table, prot := newTestTable(DefaultCapacity)
	addr := uintptr(testPageSize) // page-aligned for simplicity
	id, err := table.SetTrap(addr, 4, noopCallback, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, id, 0)
	assert.True(t, prot.locked[addr])
}

// P2: after DelTrap of the last trap on a page, that page is read-write.
func TestDelTrapUnlocksPage(t *testing.T) {
	table, prot := newTestTable(DefaultCapacity)
	addr := uintptr(testPageSize)
	id, err := table.SetTrap(addr, 4, noopCallback, nil)
	require.NoError(t, err)

	require.NoError(t, table.DelTrap(id))
	assert.False(t, prot.locked[addr])
}

// P3: refcount equality between live traps on a page and its Range.count.
func TestRangeRefcountMatchesLiveTraps(t *testing.T) {
	table, _ := newTestTable(DefaultCapacity)
	page := uintptr(testPageSize)

	id1, err := table.SetTrap(page, 4, noopCallback, nil)
	require.NoError(t, err)
	id2, err := table.SetTrap(page+8, 4, noopCallback, nil)
	require.NoError(t, err)

	rangeIdx := table.traps[id1].rangeIdx
	require.Equal(t, rangeIdx, table.traps[id2].rangeIdx)
	assert.Equal(t, 2, table.rangeCount(rangeIdx))

	require.NoError(t, table.DelTrap(id1))
	assert.Equal(t, 1, table.rangeCount(rangeIdx))
}

// P4: an overlapping SetTrap is rejected and leaves existing state untouched.
func TestOverlapRejected(t *testing.T) {
	table, prot := newTestTable(DefaultCapacity)
	page := uintptr(testPageSize)

	id, err := table.SetTrap(page, 4, noopCallback, nil)
	require.NoError(t, err)

	_, err = table.SetTrap(page+1, 2, noopCallback, nil)
	assert.ErrorIs(t, err, ErrOverlap)

	// The original trap must still be live and the page still locked.
	assert.True(t, table.traps[id].live())
	assert.True(t, prot.locked[page])
}

// P5: trap ids are unique among live traps.
func TestTrapIDsUnique(t *testing.T) {
	table, _ := newTestTable(DefaultCapacity)
	seen := map[int]bool{}
	for i := 0; i < DefaultCapacity; i++ {
		id, err := table.SetTrap(uintptr(testPageSize*(i+1)), 4, noopCallback, nil)
		require.NoError(t, err)
		assert.False(t, seen[id], "id %d reused while still live", id)
		seen[id] = true
	}
}

// P6: the (capacity+1)-th simultaneous trap returns ErrNoSpace, and
// deleting one frees a slot for reuse (scenario 5).
func TestCapacityExhausted(t *testing.T) {
	table, _ := newTestTable(4)
	var ids []int
	for i := 0; i < 4; i++ {
		id, err := table.SetTrap(uintptr(testPageSize*(i+1)), 4, noopCallback, nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	_, err := table.SetTrap(uintptr(testPageSize*5), 4, noopCallback, nil)
	assert.ErrorIs(t, err, ErrNoSpace)

	require.NoError(t, table.DelTrap(ids[0]))

	newID, err := table.SetTrap(uintptr(testPageSize*6), 4, noopCallback, nil)
	require.NoError(t, err)
	assert.Equal(t, ids[0], newID, "freed slot should be reused")
}

// Deterministic tail-to-head slot reuse: among several free slots, the
// one nearest the tail of the table is always handed out first,
// regardless of allocation or free order. Here id0 is freed before
// id1, yet id0's slot comes back first because it is nearer the tail:
// the slot position, not the order of frees, decides reuse.
func TestSlotReuseScansFromTail(t *testing.T) {
	table, _ := newTestTable(3)
	id0, err := table.SetTrap(uintptr(testPageSize), 4, noopCallback, nil)
	require.NoError(t, err)
	id1, err := table.SetTrap(uintptr(testPageSize*2), 4, noopCallback, nil)
	require.NoError(t, err)
	_, err = table.SetTrap(uintptr(testPageSize*3), 4, noopCallback, nil)
	require.NoError(t, err)

	require.NoError(t, table.DelTrap(id0))
	require.NoError(t, table.DelTrap(id1))

	// id0 is the tail-most free slot; it comes back before id1's slot.
	next, err := table.SetTrap(uintptr(testPageSize*4), 4, noopCallback, nil)
	require.NoError(t, err)
	assert.Equal(t, id0, next)
}

func TestSetTrapRejectsInvalidArguments(t *testing.T) {
	table, _ := newTestTable(DefaultCapacity)

	_, err := table.SetTrap(0, 4, noopCallback, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument, "nil address")

	_, err = table.SetTrap(uintptr(testPageSize), 0, noopCallback, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument, "zero length")

	_, err = table.SetTrap(uintptr(testPageSize), -1, noopCallback, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument, "negative length")

	_, err = table.SetTrap(uintptr(testPageSize), testPageSize+1, noopCallback, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument, "length over page size")

	_, err = table.SetTrap(uintptr(testPageSize), 4, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument, "nil callback")

	// A range that would cross a page boundary even though len <= page size.
	_, err = table.SetTrap(uintptr(testPageSize-2), 4, noopCallback, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument, "crosses page boundary")
}

func TestDelTrapRejectsBadID(t *testing.T) {
	table, _ := newTestTable(DefaultCapacity)

	assert.ErrorIs(t, table.DelTrap(-1), ErrBadID)
	assert.ErrorIs(t, table.DelTrap(DefaultCapacity), ErrBadID)
	assert.ErrorIs(t, table.DelTrap(0), ErrBadID, "deleting an unused slot")

	id, err := table.SetTrap(uintptr(testPageSize), 4, noopCallback, nil)
	require.NoError(t, err)
	require.NoError(t, table.DelTrap(id))
	assert.ErrorIs(t, table.DelTrap(id), ErrBadID, "double delete")
}

// Two traps on the same page fire independently (scenario 3).
func TestTwoTrapsOnSamePageFireIndependently(t *testing.T) {
	table, _ := newTestTable(DefaultCapacity)
	page := uintptr(testPageSize)

	var aFired, bFired int
	idA, err := table.SetTrap(page, 4, func(any) { aFired++ }, nil)
	require.NoError(t, err)
	idB, err := table.SetTrap(page+8, 4, func(any) { bFired++ }, nil)
	require.NoError(t, err)

	// A write to a's bytes.
	require.NoError(t, table.HandleFault(page))
	require.NoError(t, table.HandleNotify())
	assert.Equal(t, 1, aFired)
	assert.Equal(t, 0, bFired)

	// A write to b's bytes.
	require.NoError(t, table.HandleFault(page+8))
	require.NoError(t, table.HandleNotify())
	assert.Equal(t, 1, aFired)
	assert.Equal(t, 1, bFired)

	require.NoError(t, table.DelTrap(idA))
	require.NoError(t, table.DelTrap(idB))
}

// A fault on a watched page at a byte outside every trap's range is
// accepted, but fires no callback.
func TestFaultOnWatchedPageOutsideTrapBytes(t *testing.T) {
	table, _ := newTestTable(DefaultCapacity)
	page := uintptr(testPageSize)

	var fired int
	_, err := table.SetTrap(page, 4, func(any) { fired++ }, nil)
	require.NoError(t, err)

	// Fault lands on the same page but outside the trap's bytes.
	require.NoError(t, table.HandleFault(page+100))
	require.NoError(t, table.HandleNotify())
	assert.Equal(t, 0, fired, "callback should not fire for a byte outside the trap")
}

func TestHandleFaultUnrelatedPage(t *testing.T) {
	table, _ := newTestTable(DefaultCapacity)
	err := table.HandleFault(uintptr(testPageSize * 99))
	assert.ErrorIs(t, err, ErrUnrelatedFault)
}

func TestHandleNotifyWithoutFault(t *testing.T) {
	table, _ := newTestTable(DefaultCapacity)
	err := table.HandleNotify()
	assert.ErrorIs(t, err, ErrUnexpectedNotify)
}

// Multiple writes fire multiple times (scenario 2).
func TestMultipleWritesFireMultipleTimes(t *testing.T) {
	table, _ := newTestTable(DefaultCapacity)
	page := uintptr(testPageSize)

	counter := 0
	_, err := table.SetTrap(page, 4, func(any) { counter++ }, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, table.HandleFault(page))
		require.NoError(t, table.HandleNotify())
	}
	assert.Equal(t, 5, counter)
}
