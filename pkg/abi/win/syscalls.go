package win

// SyscallName is a closed enumeration of the syscall names this core
// dispatches by ordinal. New names require a new table entry for every
// supported KernelVersion; see pkg/syscalltable.
type SyscallName int

const (
	SysTerminateProcess SyscallName = iota
	SysTerminateThread
	SysRaiseException
	SysAllocateVirtualMemory
	SysAllocateVirtualMemoryEx // NtAllocateVirtualMemoryEx, marks the 1803 update (§4.3).
	SysFreeVirtualMemory
	SysProtectVirtualMemory
	SysQueryVirtualMemory
	SysReadVirtualMemory
	SysWriteVirtualMemory
	SysGetContextThread
	SysSetContextThread
	SysSuspendThread
	SysResumeThread
	SysOpenThread
	SysOpenProcess
	SysDuplicateObject
	SysClose
	SysQuerySystemInformation
	SysQueryInformationProcess
	SysQueryInformationThread
	SysMapViewOfSection
	SysUnmapViewOfSection
	SysCreateSection
	SysWaitForSingleObject
	SysDelayExecution
	SysCallEnclave // NtCallEnclave, marks the 1709 update (§4.3).
	SysFlushInstructionCache

	// sysNameCount is a sentinel giving the length of the dense table; it
	// is never itself a valid SyscallName.
	sysNameCount
)

// name strings, used only for diagnostics.
var names = [sysNameCount]string{
	SysTerminateProcess:         "NtTerminateProcess",
	SysTerminateThread:          "NtTerminateThread",
	SysRaiseException:           "NtRaiseException",
	SysAllocateVirtualMemory:    "NtAllocateVirtualMemory",
	SysAllocateVirtualMemoryEx:  "NtAllocateVirtualMemoryEx",
	SysFreeVirtualMemory:        "NtFreeVirtualMemory",
	SysProtectVirtualMemory:     "NtProtectVirtualMemory",
	SysQueryVirtualMemory:       "NtQueryVirtualMemory",
	SysReadVirtualMemory:        "NtReadVirtualMemory",
	SysWriteVirtualMemory:       "NtWriteVirtualMemory",
	SysGetContextThread:         "NtGetContextThread",
	SysSetContextThread:         "NtSetContextThread",
	SysSuspendThread:            "NtSuspendThread",
	SysResumeThread:             "NtResumeThread",
	SysOpenThread:               "NtOpenThread",
	SysOpenProcess:              "NtOpenProcess",
	SysDuplicateObject:          "NtDuplicateObject",
	SysClose:                    "NtClose",
	SysQuerySystemInformation:   "NtQuerySystemInformation",
	SysQueryInformationProcess:  "NtQueryInformationProcess",
	SysQueryInformationThread:   "NtQueryInformationThread",
	SysMapViewOfSection:         "NtMapViewOfSection",
	SysUnmapViewOfSection:       "NtUnmapViewOfSection",
	SysCreateSection:            "NtCreateSection",
	SysWaitForSingleObject:      "NtWaitForSingleObject",
	SysDelayExecution:           "NtDelayExecution",
	SysCallEnclave:              "NtCallEnclave",
	SysFlushInstructionCache:    "NtFlushInstructionCache",
}

// String returns the syscall's canonical Nt-prefixed name.
func (s SyscallName) String() string {
	if s < 0 || int(s) >= int(sysNameCount) {
		return "SyscallName(invalid)"
	}
	return names[s]
}

// NumSyscallNames is the dense size a SyscallTable array must have.
const NumSyscallNames = int(sysNameCount)

// MissingSyscall is the sentinel stored for a syscall number that a given
// KernelVersion's table does not (yet) know; use at call time causes a
// clean kernel-rejected-style failure rather than a silent wrong call
// (data model invariant, spec.md §3).
const MissingSyscall uint32 = 0xFFFFFFFF
