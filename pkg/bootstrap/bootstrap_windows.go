//go:build windows
// +build windows

// Package bootstrap implements component I: the earliest-injection entry
// point, which must resolve its own imports before calling anything that
// depends on them (spec.md §4.7).
package bootstrap

import (
	"unsafe"
)

// Args mirrors the in-memory arguments struct the injector places at a
// known address before transferring control here (spec.md §4.7 step 1).
// Field order matches the order callers fill it in; there is no reliance
// on Go struct layout beyond what this package itself reads.
type Args struct {
	RuntimeImageBase     uintptr
	SystemDLLBase        uintptr
	RuntimeImagePathAddr uintptr // pointer to a NUL-terminated wide string
	RuntimeImagePathLen  uint32  // in UTF-16 code units, excluding the NUL
	HookLocation         uintptr
	HookOriginalProtect  uint32
	Late                 uint32 // nonzero means "late" injection
}

// ParseArgs reads the injector-placed Args struct at addr (spec.md §4.7
// step 1). It performs no allocation and calls nothing import-dependent.
func ParseArgs(addr uintptr) *Args {
	return (*Args)(unsafe.Pointer(addr))
}

// resolved holds the handful of system-DLL exports Bootstrap needs to
// finish its own job, found by manually walking the export table rather
// than calling GetProcAddress (spec.md §4.7 step 2).
type resolved struct {
	virtualProtect     uintptr
	ntFreeVirtualMemory uintptr
}

// resolveOwnImports manually walks sysDLLBase's export directory to find
// the addresses of VirtualProtect and NtFreeVirtualMemory — the only two
// calls the rest of this package's steps need — without going through
// any already-resolved import table (spec.md §4.7 step 2: "must not call
// anything that depends on imports").
func resolveOwnImports(sysDLLBase uintptr) (*resolved, bool) {
	vp, ok := resolveExport(sysDLLBase, "VirtualProtect")
	if !ok {
		return nil, false
	}
	free, ok := resolveExport(sysDLLBase, "NtFreeVirtualMemory")
	if !ok {
		return nil, false
	}
	return &resolved{virtualProtect: vp, ntFreeVirtualMemory: free}, true
}

// processState is the process-wide state step 4 records. A plain package
// variable, not a singleton wrapper, since exactly one bootstrap runs per
// process and nothing else writes these fields (spec.md §4.7 step 4).
var processState struct {
	systemDLLBase   uintptr
	runtimeFilePath string
}

// SystemDLLBase returns the system DLL base address Bootstrap recorded.
func SystemDLLBase() uintptr { return processState.systemDLLBase }

// RuntimeFilePath returns the runtime image file path Bootstrap recorded.
func RuntimeFilePath() string { return processState.runtimeFilePath }

// Run executes the full bootstrap sequence (spec.md §4.7 steps 1-5).
// Failures here cannot be logged (imports aren't resolved yet, and
// logging is itself import-dependent) — they are reported only as a
// boolean, and the caller's only correct response is to surrender the
// process to a native continuation (spec.md §7 "Bootstrap").
func Run(argsAddr uintptr) (ok bool) {
	args := ParseArgs(argsAddr)

	res, found := resolveOwnImports(args.SystemDLLBase)
	if !found {
		return false
	}

	if !restoreHookProtection(res, args) {
		return false
	}

	processState.systemDLLBase = args.SystemDLLBase
	processState.runtimeFilePath = readWideString(args.RuntimeImagePathAddr, args.RuntimeImagePathLen)

	return freeArgsBuffer(res, argsAddr)
}

// restoreHookProtection restores the hook location's original protection
// (the injector bumped it to writable to place its hook), spec.md §4.7
// step 3.
func restoreHookProtection(res *resolved, args *Args) bool {
	var old uint32
	r, _, _ := syscall3(res.virtualProtect, args.HookLocation, hookPatchSize, uintptr(args.HookOriginalProtect), uintptr(unsafe.Pointer(&old)))
	return r != 0
}

// hookPatchSize is the size, in bytes, of the hook instruction the
// injector overwrote — a short jump/call, never larger than one cache
// line on x86/x64.
const hookPatchSize = 16

// freeArgsBuffer releases the arguments buffer the injector allocated,
// via a direct syscall rather than any higher-level allocator (spec.md
// §4.7 step 5).
func freeArgsBuffer(res *resolved, argsAddr uintptr) bool {
	size := uintptr(0)
	// MEM_RELEASE requires size 0 when freeing a whole allocation; the
	// process pseudo-handle is used since this is always a self-free.
	r, _, _ := syscall4(res.ntFreeVirtualMemory, currentProcessPseudoHandle, uintptr(unsafe.Pointer(&argsAddr)), uintptr(unsafe.Pointer(&size)), memRelease)
	return r == 0 // NTSTATUS: 0 == STATUS_SUCCESS
}

const (
	currentProcessPseudoHandle uintptr = ^uintptr(0)
	memRelease                 uintptr = 0x8000
)

// readWideString copies a UTF-16LE string of length n code units at addr
// into a Go string, without calling any higher-level string/import
// helper.
func readWideString(addr uintptr, n uint32) string {
	if addr == 0 || n == 0 {
		return ""
	}
	units := unsafe.Slice((*uint16)(unsafe.Pointer(addr)), n)
	buf := make([]rune, 0, n)
	for _, u := range units {
		buf = append(buf, rune(u))
	}
	return string(buf)
}
