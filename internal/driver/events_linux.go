//go:build linux

package driver

import (
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/vicencb/qdbp/internal/metrics"
	"github.com/vicencb/qdbp/internal/wire"
)

// watchedPages mirrors the refcounts of pkg/qdbp's own range table, fed
// by the tracee's events pipe, so the driver can tell a genuinely
// watched write apart from a real, unrelated SIGSEGV bug in the tracee
// without re-implementing qdbp's trap/range bookkeeping itself. A page
// the tracee has never armed (or has fully disarmed) must never be
// handled as a trapped write: doing so would silently paper over an
// actual crash.
type watchedPages struct {
	mu    sync.Mutex
	count map[uintptr]int
}

func newWatchedPages() *watchedPages {
	return &watchedPages{count: map[uintptr]int{}}
}

func (w *watchedPages) arm(page uintptr) {
	w.mu.Lock()
	w.count[page]++
	w.mu.Unlock()
}

func (w *watchedPages) disarm(page uintptr) {
	w.mu.Lock()
	if w.count[page] > 0 {
		w.count[page]--
		if w.count[page] == 0 {
			delete(w.count, page)
		}
	}
	w.mu.Unlock()
}

func (w *watchedPages) isWatched(page uintptr) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count[page] > 0
}

// readEvents drains the tracee's events pipe until it's closed by the
// tracee exiting, updating pages and m's counters as it goes. It runs
// on its own goroutine: the main driver loop is busy waiting on ptrace
// stops and must not block on this pipe too.
func readEvents(r *os.File, pages *watchedPages, m *metrics.Recorder) {
	defer r.Close()
	for {
		var tag [1]byte
		if _, err := io.ReadFull(r, tag[:]); err != nil {
			return
		}
		switch tag[0] {
		case wire.EventTrapArmed, wire.EventTrapDisarmed:
			var addr [8]byte
			if _, err := io.ReadFull(r, addr[:]); err != nil {
				return
			}
			page := uintptr(binary.LittleEndian.Uint64(addr[:]))
			if tag[0] == wire.EventTrapArmed {
				pages.arm(page)
				if m != nil {
					m.TrapsArmed.Inc()
				}
			} else {
				pages.disarm(page)
				if m != nil {
					m.TrapsDisarmed.Inc()
				}
			}
		case wire.EventCallbackFired:
			if m != nil {
				m.CallbacksFired.Inc()
			}
		default:
			return
		}
	}
}
