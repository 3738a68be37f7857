//go:build linux || darwin

package platform

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// regionImpl is the OS-specific half of Region. On unix it is a thin wrapper
// over an mmap'd byte slice, mirroring the teacher's asm.CodeSegment but
// built on golang.org/x/sys/unix instead of the raw syscall package so the
// mmap/mprotect/munmap calls go through the ecosystem-standard wrapper.
type regionImpl struct {
	mem []byte
}

func pageSize() int {
	return unix.Getpagesize()
}

func newRegionImpl(size int) (regionImpl, int, error) {
	rounded := pageRoundUp(size, pageSize())
	mem, err := unix.Mmap(-1, 0, rounded, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return regionImpl{}, 0, &Error{Kind: ErrAllocationFailed, Op: "mmap", Err: err}
	}
	return regionImpl{mem: mem}, rounded, nil
}

func (r regionImpl) bytes() []byte { return r.mem }

func (r regionImpl) addr() uintptr {
	if len(r.mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&r.mem[0]))
}

func (r regionImpl) protectExec() error {
	if err := unix.Mprotect(r.mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return &Error{Kind: ErrProtectionFailed, Op: "mprotect", Err: err}
	}
	return nil
}

func (r regionImpl) unmap() error {
	if r.mem == nil {
		return nil
	}
	if err := unix.Munmap(r.mem); err != nil {
		return &Error{Kind: ErrProtectionFailed, Op: "munmap", Err: fmt.Errorf("%w", err)}
	}
	return nil
}
