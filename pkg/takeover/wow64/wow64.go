// Package wow64 implements the §4.4 "32-on-64 emulation corner cases"
// detection and rewrite: when a 32-bit-user-mode thread is suspended
// inside the emulation layer's save/restore window, a 32-bit
// GetThreadContext reads a saved memory copy of the register file rather
// than anything live, so the ordinary takeover rewrite (§4.4 basic
// attach) would be silently undone or ignored the moment the thread
// resumes. This package isolates the per-OS-generation instruction
// pattern tables behind a single function per generation (spec.md §4.4,
// §9: "isolate pattern matching behind a single function per OS
// generation so new generations can be added without touching the rest
// of Takeover"), following the teacher's rule-table-adjacent-to-matcher
// shape in runsc/boot/filter/config.go.
package wow64

import (
	"github.com/fennimore/dbicore/pkg/abi/win"
)

// Rewrite is the tagged enum spec.md §9 calls for: which location the
// matched pattern says must be overwritten with the trampoline address.
type Rewrite int

const (
	// RewriteStackSlot means the retaddr word at [esp] (in the 64-bit
	// context's Rsp) must be overwritten.
	RewriteStackSlot Rewrite = iota
	// RewriteR14Slot means the retaddr word at [r14] must be overwritten.
	RewriteR14Slot
	// RewriteR8Reg means the 64-bit context's R8 register itself holds
	// the about-to-be-restored retaddr and must be overwritten directly.
	RewriteR8Reg
	// RewriteR9Reg is the restore-window analog of RewriteR8Reg.
	RewriteR9Reg
)

// pattern is one entry in a generation's table: the exact instruction
// bytes expected at the 64-bit instruction pointer, and what to do if
// they match. Bit-exact per spec.md §6 — paraphrasing the byte sequence
// breaks takeover on that generation.
type pattern struct {
	bytes   []byte
	rewrite Rewrite
}

// matchPattern finds the first entry in table whose bytes are a prefix of
// at, spec.md §9's "iterate once; first match wins".
func matchPattern(table []pattern, at []byte) (Rewrite, bool) {
	for _, p := range table {
		if len(at) < len(p.bytes) {
			continue
		}
		match := true
		for i, b := range p.bytes {
			if at[i] != b {
				match = false
				break
			}
		}
		if match {
			return p.rewrite, true
		}
	}
	return 0, false
}

// patternsWin8 is the Windows 8/8.1 save/restore window table (spec.md
// §4.4): the save window's first instruction puts the retaddr in [esp],
// its second puts it into r8d; the restore window's second-to-last puts
// it in r9d, and its last has already copied it to [r14].
var patternsWin8 = []pattern{
	// Save window, instruction 1: the retaddr is still in [esp].
	{bytes: []byte{0x4C, 0x89, 0x34, 0x24}, rewrite: RewriteStackSlot}, // mov [rsp], r14
	// Save window, instruction 2: about to move retaddr into r8d.
	{bytes: []byte{0x44, 0x8B, 0x04, 0x24}, rewrite: RewriteR8Reg}, // mov r8d, [rsp]
	// Restore window, second-to-last: retaddr sits in r9d.
	{bytes: []byte{0x45, 0x89, 0xC9}, rewrite: RewriteR9Reg}, // mov r9d, r9d (sign-extend slot)
	// Restore window, last: retaddr already copied to [r14].
	{bytes: []byte{0x41, 0xFF, 0xE6}, rewrite: RewriteR14Slot}, // jmp r14
}

// patternsWin10 is the broader Windows 10 save/restore sequence: three
// possible save-window entries (stack slot, r14 slot, or r8d directly)
// and two distinct restore paths, each with its own rewrite target.
var patternsWin10 = []pattern{
	{bytes: []byte{0x4C, 0x89, 0x34, 0x24}, rewrite: RewriteStackSlot}, // mov [rsp], r14
	{bytes: []byte{0x4D, 0x89, 0x36}, rewrite: RewriteR14Slot},         // mov [r14], r14
	{bytes: []byte{0x44, 0x8B, 0x04, 0x24}, rewrite: RewriteR8Reg},     // mov r8d, [rsp]
	{bytes: []byte{0x45, 0x89, 0xC9}, rewrite: RewriteR9Reg},           // restore path 1
	{bytes: []byte{0x4D, 0x8B, 0x36}, rewrite: RewriteR14Slot},         // restore path 2: mov r14, [r14]
	{bytes: []byte{0x41, 0x8B, 0x06}, rewrite: RewriteR8Reg},           // restore path 2 tail: mov eax, [r14]
}

// TableFor returns the pattern table for v's generation, or nil if v's
// generation has no wow64 save/restore window known to this build (in
// which case Handle must treat the thread as "no rewrite possible",
// spec.md §4.4 step 4). Chosen explicitly by kernel generation, never by
// the reference's ambiguous wow64_cases_pre_win10/wow64_cases_win10
// naming (DESIGN.md Open Question decision).
func TableFor(v win.KernelVersion) []pattern {
	switch {
	case v == win.KernelWin8 || v == win.KernelWin8_1:
		return patternsWin8
	case v.IsNT10():
		return patternsWin10
	default:
		return nil
	}
}
