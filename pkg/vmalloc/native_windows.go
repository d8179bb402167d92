//go:build windows
// +build windows

package vmalloc

import (
	"fmt"
	"unsafe"

	"github.com/fennimore/dbicore/pkg/abi/win"
	"github.com/fennimore/dbicore/pkg/hostarch"
	"github.com/fennimore/dbicore/pkg/ntapi"
)

const (
	memCommit   = 0x1000
	memReserve  = 0x2000
	memRelease  = 0x8000
	memDecommit = 0x4000
)

// NtOps is the NativeOps implementation backed by NtAllocateVirtualMemory
// / NtFreeVirtualMemory / NtProtectVirtualMemory.
type NtOps struct{}

func (NtOps) Alloc(process hostarch.Addr, preferred hostarch.Addr, size uint64, commit bool, prot win.Protect) (hostarch.Addr, error) {
	base := uintptr(preferred)
	regionSize := uintptr(size)
	allocType := uintptr(memReserve)
	if commit {
		if preferred != 0 {
			allocType = memCommit
		} else {
			allocType = memReserve | memCommit
		}
	}
	r, _, _ := ntapi.NtAllocateVirtualMemory.Call(
		uintptr(process),
		uintptr(unsafe.Pointer(&base)),
		0,
		uintptr(unsafe.Pointer(&regionSize)),
		allocType,
		uintptr(prot),
	)
	status := win.NTStatus(r)
	if !status.IsSuccess() {
		return 0, classifyNTStatus(status)
	}
	return hostarch.Addr(base), nil
}

func (NtOps) Free(process hostarch.Addr, addr hostarch.Addr, size uint64, release bool) error {
	base := uintptr(addr)
	regionSize := uintptr(size)
	freeType := uintptr(memDecommit)
	if release {
		regionSize = 0
		freeType = memRelease
	}
	r, _, _ := ntapi.NtFreeVirtualMemory.Call(
		uintptr(process),
		uintptr(unsafe.Pointer(&base)),
		uintptr(unsafe.Pointer(&regionSize)),
		freeType,
	)
	status := win.NTStatus(r)
	if !status.IsSuccess() {
		return classifyNTStatus(status)
	}
	return nil
}

func (NtOps) Protect(process hostarch.Addr, addr hostarch.Addr, size uint64, newProt win.Protect) (win.Protect, error) {
	base := uintptr(addr)
	regionSize := uintptr(size)
	var oldProt uint32
	r, _, _ := ntapi.NtProtectVirtualMemory.Call(
		uintptr(process),
		uintptr(unsafe.Pointer(&base)),
		uintptr(unsafe.Pointer(&regionSize)),
		uintptr(newProt),
		uintptr(unsafe.Pointer(&oldProt)),
	)
	status := win.NTStatus(r)
	if !status.IsSuccess() {
		return 0, classifyNTStatus(status)
	}
	return win.Protect(oldProt), nil
}

// classifyNTStatus maps the raw NTSTATUS into the spec.md §4.5 failure
// taxonomy.
func classifyNTStatus(status win.NTStatus) error {
	switch status {
	case win.StatusNoMemory, win.StatusConflictingAddresses:
		return fmt.Errorf("%w: %#x", ErrOutOfMemory, uint32(status))
	case win.StatusInvalidParameter, win.StatusInvalidParameterMix, win.StatusInvalidAddress, win.StatusNotMapped:
		return fmt.Errorf("%w: %#x", ErrInvalid, uint32(status))
	default:
		return fmt.Errorf("vmalloc: NTSTATUS %#x", uint32(status))
	}
}
