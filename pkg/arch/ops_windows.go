//go:build windows
// +build windows

package arch

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/fennimore/dbicore/pkg/ntapi"
)

// GetContext reads the native register file of the thread identified by h
// into a fresh Context64 (the "get-context" syscall, native width).
func GetContext(h windows.Handle) (*Context64, error) {
	c := NewContext64()
	r, _, err := ntapi.GetThreadContext.Call(uintptr(h), uintptr(unsafe.Pointer(&c.Raw)))
	if r == 0 {
		return nil, fmt.Errorf("arch: GetThreadContext: %w", err)
	}
	return c, nil
}

// SetContext writes c back to the thread identified by h.
func SetContext(h windows.Handle, c *Context64) error {
	r, _, err := ntapi.SetThreadContext.Call(uintptr(h), uintptr(unsafe.Pointer(&c.Raw)))
	if r == 0 {
		return fmt.Errorf("arch: SetThreadContext: %w", err)
	}
	return nil
}

// GetWow64Context reads the 32-bit register file Windows maintains for a
// wow64 thread (the "get-context" syscall, 32-bit width on a 64-bit
// kernel). Per spec.md §4.4, this is NOT authoritative if the thread was
// suspended inside the emulation layer's save/restore window; callers
// must additionally consult GetContext to classify that case.
func GetWow64Context(h windows.Handle) (*Context32, error) {
	c := NewContext32()
	r, _, err := ntapi.Wow64GetThreadContext.Call(uintptr(h), uintptr(unsafe.Pointer(&c.Raw)))
	if r == 0 {
		return nil, fmt.Errorf("arch: Wow64GetThreadContext: %w", err)
	}
	return c, nil
}

// SetWow64Context writes c back to the wow64 thread identified by h.
func SetWow64Context(h windows.Handle, c *Context32) error {
	r, _, err := ntapi.Wow64SetThreadContext.Call(uintptr(h), uintptr(unsafe.Pointer(&c.Raw)))
	if r == 0 {
		return fmt.Errorf("arch: Wow64SetThreadContext: %w", err)
	}
	return nil
}
