// Package wire defines the byte-level protocol a qdbp tracee and its
// driver exchange over the file descriptors os/exec's ExtraFiles wires
// between them. There are two independent channels: the driver tells
// the tracee which address just faulted, and the tracee tells the
// driver which pages it has armed or disarmed and when a trap callback
// has run, so the driver can mirror the tracee's own trap/range
// bookkeeping without a copy of pkg/qdbp's Table logic.
package wire

const (
	// FaultAddrFD is the fd a tracee inherits to receive the address
	// that just faulted, written by the driver as an 8-byte
	// little-endian uintptr.
	FaultAddrFD = 3

	// EventsFD is the fd a tracee inherits to report SetTrap/DelTrap/
	// callback activity to the driver.
	EventsFD = 4
)

// Event tags sent over EventsFD. EventTrapArmed and EventTrapDisarmed
// are each followed by an 8-byte little-endian page address;
// EventCallbackFired carries no payload.
const (
	EventTrapArmed     byte = 'A'
	EventTrapDisarmed  byte = 'D'
	EventCallbackFired byte = 'C'
)
