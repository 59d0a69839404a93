package qdbp

import "github.com/pkg/errors"

// Sentinel errors returned by SetTrap and DelTrap. They carry the same
// meaning as the negative errno values returned by the original C
// qdbp_set_trap/qdbp_del_trap (-EINVAL, -EBUSY, -ENOSPC).
var (
	// ErrInvalidArgument is returned when addr, len, or cb violate the
	// basic constraints of a trap (nil address, non-positive length,
	// length greater than the page size, a range crossing a page
	// boundary, or a nil callback).
	ErrInvalidArgument = errors.New("qdbp: invalid argument")

	// ErrOverlap is returned when the requested byte range intersects
	// an already-live trap.
	ErrOverlap = errors.New("qdbp: overlapping trap")

	// ErrNoSpace is returned when the trap table is at capacity.
	ErrNoSpace = errors.New("qdbp: no space for new trap")

	// ErrBadID is returned by DelTrap when id does not refer to a live
	// trap.
	ErrBadID = errors.New("qdbp: invalid trap id")
)
