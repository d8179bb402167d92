//go:build windows
// +build windows

package vmquery

import (
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/fennimore/dbicore/pkg/abi/win"
	"github.com/fennimore/dbicore/pkg/hostarch"
	"github.com/fennimore/dbicore/pkg/ntapi"
)

// memoryBasicInformation mirrors MEMORY_BASIC_INFORMATION, 64-bit layout.
type memoryBasicInformation struct {
	BaseAddress       uintptr
	AllocationBase    uintptr
	AllocationProtect uint32
	_                 uint32 // padding before RegionSize on 64-bit
	RegionSize        uint64
	State             uint32
	Protect           uint32
	Type              uint32
}

// ProcessProber is the Prober implementation backed by VirtualQueryEx
// against a live process handle.
type ProcessProber struct {
	Process windows.Handle
}

// Probe implements Prober.
func (p ProcessProber) Probe(addr hostarch.Addr) (win.RegionDescriptor, bool, bool) {
	var mbi memoryBasicInformation
	r, _, err := ntapi.VirtualQueryEx.Call(
		uintptr(p.Process),
		uintptr(addr),
		uintptr(unsafe.Pointer(&mbi)),
		unsafe.Sizeof(mbi),
	)
	if r == 0 {
		// ERROR_INVALID_PARAMETER is how VirtualQueryEx reports an
		// address outside the addressable user range (spec.md §4.2:
		// "the raw query fails with a specific invalid parameter
		// status" — distinguish bad-address from transient failure).
		kernelAddr := err == windows.ERROR_INVALID_PARAMETER
		return win.RegionDescriptor{}, false, kernelAddr
	}
	return win.RegionDescriptor{
		BaseAddress:       mbi.BaseAddress,
		AllocationBase:    mbi.AllocationBase,
		AllocationProtect: win.Protect(mbi.AllocationProtect),
		RegionSize:        mbi.RegionSize,
		State:             win.State(mbi.State),
		Protect:           win.Protect(mbi.Protect),
		Type:              win.RegionType(mbi.Type),
	}, true, false
}
