//go:build linux

package qdbp

import (
	"encoding/binary"
	"os"

	"github.com/vicencb/qdbp/internal/wire"
)

// pipeEventReporter writes trap/range/callback events to the driver
// over the inherited events pipe (see internal/wire), the tracee-side
// half of the protocol internal/driver's watchedPages and metrics
// consume.
type pipeEventReporter struct {
	f *os.File
}

func newPipeEventReporter() eventReporter {
	return &pipeEventReporter{f: os.NewFile(uintptr(wire.EventsFD), "qdbp-events")}
}

func (r *pipeEventReporter) TrapArmed(page uintptr)    { r.writePage(wire.EventTrapArmed, page) }
func (r *pipeEventReporter) TrapDisarmed(page uintptr) { r.writePage(wire.EventTrapDisarmed, page) }

func (r *pipeEventReporter) CallbackFired() {
	if r.f == nil {
		return
	}
	_, _ = r.f.Write([]byte{wire.EventCallbackFired})
}

func (r *pipeEventReporter) writePage(tag byte, page uintptr) {
	if r.f == nil {
		return
	}
	var buf [9]byte
	buf[0] = tag
	binary.LittleEndian.PutUint64(buf[1:], uint64(page))
	_, _ = r.f.Write(buf[:])
}
