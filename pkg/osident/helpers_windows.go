//go:build windows
// +build windows

package osident

import (
	"unsafe"

	"golang.org/x/sys/windows/registry"
)

func uintptrOf(v any) uintptr {
	switch p := v.(type) {
	case *osVersionInfo:
		return uintptr(unsafe.Pointer(p))
	case *uint32:
		return uintptr(unsafe.Pointer(p))
	default:
		return 0
	}
}

func unsafeSizeof(v osVersionInfo) uintptr {
	return unsafe.Sizeof(v)
}

// is64BitProcess reports whether this process (the runtime's own image)
// is a 64-bit user-mode process.
func is64BitProcess() bool {
	return unsafe.Sizeof(uintptr(0)) == 8
}

// is64BitWindows reports whether the host kernel itself is 64-bit, i.e.
// this is a 64-bit build of Windows regardless of this process's bitness.
func is64BitWindows() bool {
	if is64BitProcess() {
		return true
	}
	return isWow64()
}

// readOwnMemory copies len(dst) bytes from addr in this process's own
// address space. Unlike pkg/safemem this never needs to tolerate a fault
// from an unmapped address: addr always points into ntdll.dll, which is
// always mapped in every process.
func readOwnMemory(addr uintptr, dst []byte) bool {
	src := unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(dst))
	copy(dst, src)
	return true
}

func registryString(path, name string) string {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, path, registry.QUERY_VALUE)
	if err != nil {
		return ""
	}
	defer k.Close()
	s, _, err := k.GetStringValue(name)
	if err != nil {
		return ""
	}
	return s
}
