//go:build windows
// +build windows

package arch

// rawWow64FloatSave mirrors WOW64_FLOATING_SAVE_AREA.
type rawWow64FloatSave struct {
	ControlWord, StatusWord, TagWord   uint32
	ErrorOffset, ErrorSelector         uint32
	DataOffset, DataSelector           uint32
	RegisterArea                       [80]byte
	Cr0NpxState                        uint32
}

// rawContext32 mirrors WOW64_CONTEXT, the 32-bit register file Windows
// maintains for a thread running under the 32-on-64 emulation layer
// (spec.md §4.4).
type rawContext32 struct {
	ContextFlags                   uint32
	Dr0, Dr1, Dr2, Dr3, Dr6, Dr7    uint32
	FloatSave                      rawWow64FloatSave
	SegGs, SegFs, SegEs, SegDs     uint32
	Edi, Esi, Ebx, Edx, Ecx, Eax   uint32
	Ebp, Eip                       uint32
	SegCs, EFlags                  uint32
	Esp, SegSs                     uint32
	ExtendedRegisters               [512]byte
}

const contextX86Flags = 0x00010000 | 0x1 | 0x2 | 0x4 | 0x8

// Context32 wraps a 32-bit register file, whether obtained natively
// (GetThreadContext on a 32-bit-only process) or via Wow64GetThreadContext
// on a 32-bit-user-mode thread running on a 64-bit kernel.
type Context32 struct {
	Raw rawContext32
}

// NewContext32 returns a Context32 requesting the full integer/control/
// segment register groups.
func NewContext32() *Context32 {
	c := &Context32{}
	c.Raw.ContextFlags = contextX86Flags
	return c
}

func (c *Context32) Width() Width { return Width32 }

func (c *Context32) IP() uintptr { return uintptr(c.Raw.Eip) }

func (c *Context32) SetIP(v uintptr) { c.Raw.Eip = uint32(v) }

func (c *Context32) SP() uintptr { return uintptr(c.Raw.Esp) }

func (c *Context32) SetSP(v uintptr) { c.Raw.Esp = uint32(v) }

// SyscallArgs returns the x86 stdcall/fastcall hybrid argument slots this
// runtime reads for its own syscalls: ecx/edx plus the two words above the
// return address on the stack. Only the register-resident pair is
// represented here; stack-resident arguments are read via pkg/safemem by
// the caller, matching the teacher's separation of register- and
// memory-resident syscall arguments.
func (c *Context32) SyscallArgs() SyscallArguments {
	return SyscallArguments{
		{Value: uintptr(c.Raw.Ecx)},
		{Value: uintptr(c.Raw.Edx)},
	}
}

// Clone returns a deep copy.
func (c *Context32) Clone() *Context32 {
	cp := *c
	return &cp
}

var (
	_ contextInterface = (*Context32)(nil)
	_ contextInterface = (*Context64)(nil)
)
