//go:build windows
// +build windows

package bootstrap

import "syscall"

// syscall3/syscall4 call an already-resolved function pointer directly,
// the same raw mechanism golang.org/x/sys/windows.Proc.Call uses
// underneath, but addressed by a uintptr this package resolved itself
// via resolveExport rather than by a *LazyProc backed by the process's
// own import table. This is what lets Bootstrap call VirtualProtect and
// NtFreeVirtualMemory before any package-level LazyDLL/LazyProc in this
// module has been touched.
func syscall3(addr, a1, a2, a3 uintptr) (r1, r2 uintptr, err syscall.Errno) {
	return syscall.Syscall(addr, 3, a1, a2, a3)
}

func syscall4(addr, a1, a2, a3, a4 uintptr) (r1, r2 uintptr, err syscall.Errno) {
	return syscall.Syscall6(addr, 4, a1, a2, a3, a4, 0, 0)
}
