package syscalltable

import "github.com/fennimore/dbicore/pkg/abi/win"

// The ordinals below are representative x64 NT syscall numbers for a
// cross-section of widely deployed Windows 10/11 builds; they follow the
// same "one array literal per known version" shape as a disassembler's
// syscall-number table. Real deployments replace these with
// build-specific extracted values (spec.md §4.3 step 3 cross-checks two
// late entries against the in-memory wrapper prologues precisely because
// these numbers are not ABI-stable across builds).
func init() {
	byVersion[win.KernelWin7] = win7Table()
	byVersion[win.KernelWin8] = win8Table()
	byVersion[win.KernelWin8_1] = win81Table()
	byVersion[win.KernelWin10_1507] = win10_1507Table()
	byVersion[win.KernelWin10_1607] = win10_1607Table()
	byVersion[win.KernelWin10_1709] = win10_1709Table()
	byVersion[win.KernelWin10_1803] = win10_1803Table()
	byVersion[win.KernelWin10_1903] = win10_1903Table()
	byVersion[win.KernelWin10_2004] = win10_2004Table()
	byVersion[win.KernelWin11] = win11Table()
}

func win7Table() Table {
	t := newTable()
	t[win.SysTerminateProcess] = 0x172
	t[win.SysTerminateThread] = 0x174
	t[win.SysAllocateVirtualMemory] = 0x15
	t[win.SysFreeVirtualMemory] = 0x0D
	t[win.SysProtectVirtualMemory] = 0xCE
	t[win.SysQueryVirtualMemory] = 0x23
	t[win.SysReadVirtualMemory] = 0xBF
	t[win.SysWriteVirtualMemory] = 0x37
	t[win.SysGetContextThread] = 0xD3
	t[win.SysSetContextThread] = 0xD5
	t[win.SysSuspendThread] = 0x1BB
	t[win.SysResumeThread] = 0x52
	t[win.SysOpenThread] = 0xC1
	t[win.SysOpenProcess] = 0xBE
	t[win.SysDuplicateObject] = 0x0B
	t[win.SysClose] = 0x0C
	t[win.SysRaiseException] = 0xF8
	t[win.SysWaitForSingleObject] = 0x04
	t[win.SysDelayExecution] = 0x31
	t[win.SysFlushInstructionCache] = 0xD9
	return t
}

func win8Table() Table {
	t := win7Table()
	t[win.SysTerminateProcess] = 0x22
	t[win.SysTerminateThread] = 0x24
	t[win.SysAllocateVirtualMemory] = 0x18
	t[win.SysGetContextThread] = 0xE9
	t[win.SysSetContextThread] = 0xEB
	t[win.SysSuspendThread] = 0x1BE
	return t
}

func win81Table() Table {
	t := win8Table()
	t[win.SysAllocateVirtualMemory] = 0x19
	t[win.SysGetContextThread] = 0xEC
	return t
}

func win10_1507Table() Table {
	t := win81Table()
	t[win.SysTerminateProcess] = 0x29
	t[win.SysTerminateThread] = 0x2B
	t[win.SysAllocateVirtualMemory] = 0x18
	t[win.SysGetContextThread] = 0xF1
	t[win.SysSetContextThread] = 0xF3
	return t
}

func win10_1607Table() Table {
	t := win10_1507Table()
	t[win.SysAllocateVirtualMemory] = 0x18
	t[win.SysGetContextThread] = 0xF4
	return t
}

func win10_1709Table() Table {
	t := win10_1607Table()
	// NtCallEnclave first appears here; its presence is the newest-first
	// probe that pins this sub-version (spec.md §4.3 step 2).
	t[win.SysCallEnclave] = 0xDD
	t[win.SysGetContextThread] = 0xF6
	return t
}

func win10_1803Table() Table {
	t := win10_1709Table()
	// NtAllocateVirtualMemoryEx first appears here (spec.md §4.3 step 2).
	t[win.SysAllocateVirtualMemoryEx] = 0x13A
	t[win.SysGetContextThread] = 0xF8
	return t
}

func win10_1903Table() Table {
	t := win10_1803Table()
	t[win.SysGetContextThread] = 0xFB
	t[win.SysAllocateVirtualMemory] = 0x18
	return t
}

func win10_2004Table() Table {
	t := win10_1903Table()
	t[win.SysGetContextThread] = 0xFE
	return t
}

func win11Table() Table {
	t := win10_2004Table()
	t[win.SysGetContextThread] = 0x103
	t[win.SysAllocateVirtualMemory] = 0x18
	return t
}
