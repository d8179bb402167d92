//go:build windows
// +build windows

package safemem

import (
	"unsafe"

	"github.com/fennimore/dbicore/pkg/ntapi"
)

// syscallBackendImpl issues NtReadVirtualMemory/NtWriteVirtualMemory
// directly. This is the "built on a kernel read/write foreign memory
// syscall" implementation spec.md §4.1 calls for: slower than the
// fast path (an extra ring transition per call with no batching) but
// correct before the runtime's own fault-handling machinery is wired up.
type syscallBackendImpl struct{}

// NewSyscallBackend returns the always-safe, syscall-only SafeMem
// implementation, used before MarkInitialized.
func NewSyscallBackend() Backend { return syscallBackendImpl{} }

func (syscallBackendImpl) Read(process Handle, src uintptr, dst []byte) int {
	if len(dst) == 0 {
		return 0
	}
	var bytesRead uintptr
	r, _, _ := ntapi.NtReadVirtualMemory.Call(
		process,
		src,
		uintptr(unsafe.Pointer(&dst[0])),
		uintptr(len(dst)),
		uintptr(unsafe.Pointer(&bytesRead)),
	)
	if r != 0 {
		// NTSTATUS failure: NtReadVirtualMemory on recent kernels still
		// reports partial progress via bytesRead even on
		// STATUS_PARTIAL_COPY, so trust whatever it wrote.
		return int(bytesRead)
	}
	return int(bytesRead)
}

func (syscallBackendImpl) Write(process Handle, dst uintptr, src []byte) int {
	if len(src) == 0 {
		return 0
	}
	var bytesWritten uintptr
	r, _, _ := ntapi.NtWriteVirtualMemory.Call(
		process,
		dst,
		uintptr(unsafe.Pointer(&src[0])),
		uintptr(len(src)),
		uintptr(unsafe.Pointer(&bytesWritten)),
	)
	if r != 0 {
		return int(bytesWritten)
	}
	return int(bytesWritten)
}

// faultBackendImpl issues the Win32-layer ReadProcessMemory/
// WriteProcessMemory. It is the back-end SafeRead/SafeWrite select once
// MarkInitialized has been called. It installs no fault handler of its
// own: like the syscall back-end, it relies on the kernel call failing
// cleanly on an unreadable or unwritable address.
type faultBackendImpl struct{}

// NewFaultBackend returns the fast-path SafeMem implementation.
func NewFaultBackend() Backend { return faultBackendImpl{} }

func (faultBackendImpl) Read(process Handle, src uintptr, dst []byte) int {
	if len(dst) == 0 {
		return 0
	}
	var n uintptr
	ntapi.ReadProcessMemory.Call(
		process,
		src,
		uintptr(unsafe.Pointer(&dst[0])),
		uintptr(len(dst)),
		uintptr(unsafe.Pointer(&n)),
	)
	return int(n)
}

func (faultBackendImpl) Write(process Handle, dst uintptr, src []byte) int {
	if len(src) == 0 {
		return 0
	}
	var n uintptr
	ntapi.WriteProcessMemory.Call(
		process,
		dst,
		uintptr(unsafe.Pointer(&src[0])),
		uintptr(len(src)),
		uintptr(unsafe.Pointer(&n)),
	)
	return int(n)
}

// Init wires both back-ends; called once at process startup before any
// SafeRead/SafeWrite call.
func Init() {
	RegisterBackends(NewSyscallBackend(), NewFaultBackend())
}
