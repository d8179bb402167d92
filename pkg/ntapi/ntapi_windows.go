//go:build windows
// +build windows

// Package ntapi centralizes every raw Windows syscall this core issues,
// both the documented Win32 layer (via golang.org/x/sys/windows) and the
// undocumented native Nt layer (via a hand-declared ntdll.dll proc table),
// so no other package duplicates a DLL load or a proc lookup. Modeled on
// other_examples' winapi.go ("Package winapi provides centralized Windows
// API declarations. This avoids duplicate DLL loading across packages.").
package ntapi

import (
	"golang.org/x/sys/windows"
)

// Ntdll is loaded once, lazily, and shared by every proc below.
var Ntdll = windows.NewLazySystemDLL("ntdll.dll")

// Nt*/Zw* procs. Each is resolved lazily on first Call(); the zero value
// is safe to reference at package-init time.
var (
	NtQuerySystemInformation  = Ntdll.NewProc("NtQuerySystemInformation")
	NtQueryInformationProcess = Ntdll.NewProc("NtQueryInformationProcess")
	NtQueryInformationThread  = Ntdll.NewProc("NtQueryInformationThread")
	NtQueryVirtualMemory      = Ntdll.NewProc("NtQueryVirtualMemory")
	NtAllocateVirtualMemory   = Ntdll.NewProc("NtAllocateVirtualMemory")
	NtAllocateVirtualMemoryEx = Ntdll.NewProc("NtAllocateVirtualMemoryEx")
	NtFreeVirtualMemory       = Ntdll.NewProc("NtFreeVirtualMemory")
	NtProtectVirtualMemory    = Ntdll.NewProc("NtProtectVirtualMemory")
	NtReadVirtualMemory       = Ntdll.NewProc("NtReadVirtualMemory")
	NtWriteVirtualMemory      = Ntdll.NewProc("NtWriteVirtualMemory")
	NtGetContextThread        = Ntdll.NewProc("NtGetContextThread")
	NtSetContextThread        = Ntdll.NewProc("NtSetContextThread")
	NtSuspendThread           = Ntdll.NewProc("NtSuspendThread")
	NtResumeThread            = Ntdll.NewProc("NtResumeThread")
	NtOpenThread              = Ntdll.NewProc("NtOpenThread")
	NtOpenProcess             = Ntdll.NewProc("NtOpenProcess")
	NtDuplicateObject         = Ntdll.NewProc("NtDuplicateObject")
	NtClose                   = Ntdll.NewProc("NtClose")
	NtTerminateProcess        = Ntdll.NewProc("NtTerminateProcess")
	NtTerminateThread         = Ntdll.NewProc("NtTerminateThread")
	NtCallEnclave             = Ntdll.NewProc("NtCallEnclave")
	NtWow64ReadVirtualMemory64 = Ntdll.NewProc("NtWow64ReadVirtualMemory64")
	NtWow64WriteVirtualMemory64 = Ntdll.NewProc("NtWow64WriteVirtualMemory64")
	NtWow64QueryInformationProcess64 = Ntdll.NewProc("NtWow64QueryInformationProcess64")
	RtlGetVersion             = Ntdll.NewProc("RtlGetVersion")
	RtlDosPathNameToNtPathName = Ntdll.NewProc("RtlDosPathNameToNtPathName_U")
	RtlNtStatusToDosError     = Ntdll.NewProc("RtlNtStatusToDosError")
)

// Kernel32 is loaded once, lazily, and shared by every proc below.
var Kernel32 = windows.NewLazySystemDLL("kernel32.dll")

var (
	Wow64GetThreadContext = Kernel32.NewProc("Wow64GetThreadContext")
	Wow64SetThreadContext = Kernel32.NewProc("Wow64SetThreadContext")
	Wow64SuspendThread    = Kernel32.NewProc("Wow64SuspendThread")
	IsWow64Process        = Kernel32.NewProc("IsWow64Process")
	QueryDosDeviceW       = Kernel32.NewProc("QueryDosDeviceW")
	GetThreadContext      = Kernel32.NewProc("GetThreadContext")
	SetThreadContext      = Kernel32.NewProc("SetThreadContext")
	SuspendThread         = Kernel32.NewProc("SuspendThread")
	ResumeThread          = Kernel32.NewProc("ResumeThread")
	OpenThread            = Kernel32.NewProc("OpenThread")
	OpenProcess           = Kernel32.NewProc("OpenProcess")
	TerminateThread       = Kernel32.NewProc("TerminateThread")
	TerminateProcess      = Kernel32.NewProc("TerminateProcess")
	CreateToolhelp32Snapshot = Kernel32.NewProc("CreateToolhelp32Snapshot")
	Thread32First         = Kernel32.NewProc("Thread32First")
	Thread32Next          = Kernel32.NewProc("Thread32Next")
	VirtualQueryEx        = Kernel32.NewProc("VirtualQueryEx")
	VirtualAllocEx        = Kernel32.NewProc("VirtualAllocEx")
	VirtualFreeEx         = Kernel32.NewProc("VirtualFreeEx")
	VirtualProtectEx      = Kernel32.NewProc("VirtualProtectEx")
	ReadProcessMemory     = Kernel32.NewProc("ReadProcessMemory")
	WriteProcessMemory    = Kernel32.NewProc("WriteProcessMemory")
	DuplicateHandle       = Kernel32.NewProc("DuplicateHandle")
	GetCurrentThreadId    = Kernel32.NewProc("GetCurrentThreadId")
	GetCurrentProcessId   = Kernel32.NewProc("GetCurrentProcessId")
)

// ProbeExport reports whether dll exports the named symbol, without
// calling it. Used by osident's newest-first 10.0-subversion probes
// (spec.md §4.3 step 2: "probing the system DLL for the presence of
// newly added syscall wrapper exports").
func ProbeExport(dll *windows.LazyDLL, name string) bool {
	proc := dll.NewProc(name)
	return proc.Find() == nil
}
