//go:build windows
// +build windows

package arch

// rawContext64 mirrors the public x64 CONTEXT structure (winnt.h), the
// layout GetThreadContext/SetThreadContext read and write. It is declared
// by hand here rather than imported, in the same spirit as
// other_examples' winapi.go declaring ProcessEntry32 itself instead of
// depending on a higher-level wrapper that may not expose it.
type rawContext64 struct {
	P1Home, P2Home, P3Home, P4Home, P5Home, P6Home uint64
	ContextFlags                                   uint32
	MxCsr                                           uint32
	SegCs, SegDs, SegEs, SegFs, SegGs, SegSs        uint16
	EFlags                                          uint32
	Dr0, Dr1, Dr2, Dr3, Dr6, Dr7                    uint64
	Rax, Rcx, Rdx, Rbx                              uint64
	Rsp, Rbp, Rsi, Rdi                              uint64
	R8, R9, R10, R11, R12, R13, R14, R15            uint64
	Rip                                             uint64
	// FltSave/XMM register save area: 512 bytes, opaque to this runtime.
	FloatSave [512]byte
	// Vector/debug-control trailer: opaque, preserved byte-for-byte
	// across get/set so we never corrupt state we don't interpret.
	Trailer [464]byte
}

const contextAMD64Flags = 0x00100000 | 0x1 | 0x2 | 0x4 | 0x8 | 0x10

// Context64 wraps a native 64-bit register file as returned by
// GetThreadContext. It is also the "x64_context" field of a takeover
// record (data model §3): captured whenever a thread was suspended inside
// the wow64 emulation-layer transition.
type Context64 struct {
	Raw rawContext64
}

// NewContext64 returns a Context64 with ContextFlags set to capture the
// integer, control, segment, floating-point and debug register groups
// (CONTEXT_ALL), matching the trampoline entry contract's "capture the full register
// file at entry: assume nothing" (spec.md §4.4).
func NewContext64() *Context64 {
	c := &Context64{}
	c.Raw.ContextFlags = contextAMD64Flags
	return c
}

func (c *Context64) Width() Width { return Width64 }

func (c *Context64) IP() uintptr { return uintptr(c.Raw.Rip) }

func (c *Context64) SetIP(v uintptr) { c.Raw.Rip = uint64(v) }

func (c *Context64) SP() uintptr { return uintptr(c.Raw.Rsp) }

func (c *Context64) SetSP(v uintptr) { c.Raw.Rsp = uint64(v) }

// SyscallArgs returns the x64 fastcall syscall argument registers
// (rcx/rdx/r8/r9), matching the native x64 calling convention.
func (c *Context64) SyscallArgs() SyscallArguments {
	return SyscallArguments{
		{Value: uintptr(c.Raw.Rcx)},
		{Value: uintptr(c.Raw.Rdx)},
		{Value: uintptr(c.Raw.R8)},
		{Value: uintptr(c.Raw.R9)},
	}
}

// R8/R9/R14 accessors, used directly by the wow64 pattern-rewrite paths
// (spec.md §4.4), which name these registers explicitly.
func (c *Context64) R8() uint64     { return c.Raw.R8 }
func (c *Context64) SetR8(v uint64) { c.Raw.R8 = v }
func (c *Context64) R9() uint64     { return c.Raw.R9 }
func (c *Context64) SetR9(v uint64) { c.Raw.R9 = v }
func (c *Context64) R14() uint64     { return c.Raw.R14 }
func (c *Context64) SetR14(v uint64) { c.Raw.R14 = v }

// Clone returns a deep copy, used when a takeover record must retain the
// pre-rewrite register file for later revert (data model §3).
func (c *Context64) Clone() *Context64 {
	cp := *c
	return &cp
}
