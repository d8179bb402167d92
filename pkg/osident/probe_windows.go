//go:build windows
// +build windows

package osident

import (
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"

	"github.com/fennimore/dbicore/pkg/abi/win"
	"github.com/fennimore/dbicore/pkg/ntapi"
)

// probeLiveEnvironment reads OS major/minor/service-pack from the PEB
// (spec.md §4.3 step 1) and builds the export-probe/extraction closures
// used by the pure classification logic in osident.go.
func probeLiveEnvironment() (*probeEnv, error) {
	major, minor, spMajor, spMinor, build := rtlVersion()

	env := &probeEnv{
		majorVersion:     major,
		minorVersion:     minor,
		servicePackMajor: spMajor,
		servicePackMinor: spMinor,
		buildNumber:      build,
		userBitness:      currentUserBitness(),
		hostBitness:      win.Bitness64,
		isWow64:          isWow64(),
		edition:          registryString(`SOFTWARE\Microsoft\Windows NT\CurrentVersion`, "EditionID"),
		release:          registryString(`SOFTWARE\Microsoft\Windows NT\CurrentVersion`, "ReleaseId"),
		exportProbe: func(name string) bool {
			return ntapi.ProbeExport(ntapi.Ntdll, name)
		},
		extractedGetContextThread:      extractSyscallNumber("NtGetContextThread"),
		extractedAllocateVirtualMemory: extractSyscallNumber("NtAllocateVirtualMemory"),
	}
	if env.hostBitness == win.Bitness32 || !is64BitWindows() {
		env.hostBitness = win.Bitness32
	}
	return env, nil
}

// osVersionInfo mirrors RTL_OSVERSIONINFOEXW's leading fields, the minimum
// needed to read major/minor/build/service-pack without pulling in a
// larger wrapper struct.
type osVersionInfo struct {
	dwOSVersionInfoSize uint32
	dwMajorVersion      uint32
	dwMinorVersion      uint32
	dwBuildNumber       uint32
	dwPlatformId        uint32
	szCSDVersion        [128]uint16
	wServicePackMajor   uint16
	wServicePackMinor   uint16
	wSuiteMask          uint16
	wProductType        byte
	wReserved           byte
}

func rtlVersion() (major, minor uint32, spMajor, spMinor uint16, build uint32) {
	var info osVersionInfo
	info.dwOSVersionInfoSize = uint32(unsafeSizeof(info))
	ntapi.RtlGetVersion.Call(uintptrOf(&info))
	return info.dwMajorVersion, info.dwMinorVersion, info.wServicePackMajor, info.wServicePackMinor, info.dwBuildNumber
}

func currentUserBitness() win.Bitness {
	if is64BitProcess() {
		return win.Bitness64
	}
	return win.Bitness32
}

func isWow64() bool {
	var wow64 uint32
	h := windows.CurrentProcess()
	r, _, _ := ntapi.IsWow64Process.Call(uintptr(h), uintptrOf(&wow64))
	return r != 0 && wow64 != 0
}

// extractSyscallNumber reads the syscall number embedded in name's wrapper
// prologue in ntdll.dll (the standard "mov eax, imm32" at a fixed offset
// from the export's entry point on every supported x86/x64 convention).
// Returns 0 if the export is absent or the prologue doesn't match the
// expected shape, which callers treat as "extraction unavailable" rather
// than as a hard failure.
func extractSyscallNumber(name string) uint32 {
	proc := ntapi.Ntdll.NewProc(name)
	if err := proc.Find(); err != nil {
		return 0
	}
	addr := proc.Addr()
	return readSyscallStubImmediate(addr)
}

// readSyscallStubImmediate scans the first bytes at addr for the
// "mov eax, imm32" encoding (0xB8 + 4-byte little-endian immediate) that
// every Nt* wrapper begins with, on both the x64 syscall convention and
// the x86 sysenter convention.
func readSyscallStubImmediate(addr uintptr) uint32 {
	var buf [8]byte
	if !readOwnMemory(addr, buf[:]) {
		return 0
	}
	// x86 stubs start with the mov; x64 stubs put "mov r10, rcx" first.
	for i := 0; i+4 < len(buf); i++ {
		if buf[i] == 0xB8 {
			return uint32(buf[i+1]) | uint32(buf[i+2])<<8 | uint32(buf[i+3])<<16 | uint32(buf[i+4])<<24
		}
	}
	return 0
}
