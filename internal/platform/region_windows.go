//go:build windows

package platform

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// regionImpl on Windows is backed by VirtualAlloc/VirtualProtect/VirtualFree
// rather than mmap/mprotect, following the same split wazero itself uses
// between its unix and windows platform files (config_supported.go vs
// config_unsupported.go, applied here to the memory layer instead).
type regionImpl struct {
	addrVal uintptr
	size    int
}

func pageSize() int { return 4096 }

func newRegionImpl(size int) (regionImpl, int, error) {
	rounded := pageRoundUp(size, pageSize())
	addr, err := windows.VirtualAlloc(0, uintptr(rounded), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return regionImpl{}, 0, &Error{Kind: ErrAllocationFailed, Op: "VirtualAlloc", Err: err}
	}
	return regionImpl{addrVal: addr, size: rounded}, rounded, nil
}

func (r regionImpl) bytes() []byte {
	if r.addrVal == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(r.addrVal)), r.size)
}

func (r regionImpl) addr() uintptr { return r.addrVal }

func (r regionImpl) protectExec() error {
	var old uint32
	if err := windows.VirtualProtect(r.addrVal, uintptr(r.size), windows.PAGE_EXECUTE_READ, &old); err != nil {
		return &Error{Kind: ErrProtectionFailed, Op: "VirtualProtect", Err: err}
	}
	return nil
}

func (r regionImpl) unmap() error {
	if r.addrVal == 0 {
		return nil
	}
	if err := windows.VirtualFree(r.addrVal, 0, windows.MEM_RELEASE); err != nil {
		return &Error{Kind: ErrProtectionFailed, Op: "VirtualFree", Err: err}
	}
	return nil
}
