// Package terminate implements component E: the final terminate-process /
// terminate-thread syscall, built around a static, read-only argument
// tombstone and a dedicated termination stack so the kernel's own
// stack-writing syscall convention never races the runtime's cleanup
// (spec.md §4.6, §3).
package terminate

import (
	"sync/atomic"
	"unsafe"
)

// Kind selects what the final syscall terminates.
type Kind int

const (
	KindProcess Kind = iota
	KindThread
)

// Cleanup selects whether runtime locks are released before the final
// syscall (spec.md §4.6 constraint 1).
type Cleanup int

const (
	CleanupGraceful Cleanup = iota
	CleanupAbrupt
)

// SyscallParamOffset is the convention-mandated byte offset from the
// tombstone base to the argument struct (spec.md §6 "Bit-exact
// constraints"); the fake-return-address slot occupies the bytes before
// it. Fixed by the x64 syscall convention this core targets: a single
// pointer-sized fake-return slot immediately followed by the argument
// pair.
const SyscallParamOffset = 8

// Tombstone is the immutable argument block spec.md §3 describes: a
// fake return address at a fixed offset from the block base (so a
// sysenter-style exit returns to a controlled halt loop even if the
// terminate call fails), followed by the target handle and exit code at
// SyscallParamOffset. Declared with explicit padding per spec.md §9
// ("no reliance on struct layout across source languages").
type Tombstone struct {
	// FakeReturnAddr sits at tombstone_base+0 (data model invariant).
	FakeReturnAddr uintptr

	// pad fills out to SyscallParamOffset; asserted below at compile
	// time rather than relied upon implicitly.
	_ [SyscallParamOffset - unsafe.Sizeof(uintptr(0))]byte

	// TargetHandle is the current-process or current-thread pseudo
	// handle sentinel.
	TargetHandle uintptr

	// ExitCode is written with release semantics (a single atomic word
	// write, spec.md §5) under the rare-data-section guard so readers
	// never observe a torn value (spec.md §8 property 10).
	exitCode uint32
}

// init asserts FakeReturnAddr really does sit at offset 0 and the
// argument struct really does start at SyscallParamOffset — the runtime
// equivalent of spec.md §9's "confirm the offset with a compile-time
// assertion in the target language" (Go has no static field-offset
// assertion, so this runs once at package init instead).
func init() {
	var t Tombstone
	if uintptr(unsafe.Pointer(&t.FakeReturnAddr))-uintptr(unsafe.Pointer(&t)) != 0 {
		panic("terminate: FakeReturnAddr is not at tombstone_base+0")
	}
	if uintptr(unsafe.Pointer(&t.TargetHandle))-uintptr(unsafe.Pointer(&t)) != SyscallParamOffset {
		panic("terminate: argument struct is not at SyscallParamOffset")
	}
}

// ExitCode reads the tombstone's exit code with acquire semantics,
// pairing with SetExitCode's release store (spec.md §5, §8 property 10).
func (t *Tombstone) ExitCode() uint32 {
	return atomic.LoadUint32(&t.exitCode)
}

// SetExitCode performs the single atomic release-store spec.md §5
// requires: "a single atomic word write for the exit code". Callers must
// hold the rareprotect guard across this call (the tombstone lives in
// the rarely-written data section).
func (t *Tombstone) SetExitCode(code uint32) {
	atomic.StoreUint32(&t.exitCode, code)
}

// Pseudo handles, mirroring GetCurrentProcess()/GetCurrentThread()'s
// well-known sentinel values (they are never real handle numbers).
const (
	currentProcessPseudoHandle uintptr = ^uintptr(0)       // -1
	currentThreadPseudoHandle  uintptr = ^uintptr(0) - 1    // -2
)

// haltLoopAddr is set once at init by the package that owns the actual
// halt-loop label (this core has no assembly stub of its own in this
// translation, so it defaults to zero meaning "no controlled halt loop
// configured"; cmd/dbictl's haltloop subcommand sets a real one for
// interactive testing, per spec.md §3's "variant whose fake return
// address points at a runtime-internal label").
var haltLoopAddr uintptr

// SetHaltLoopAddr configures the address every subsequently built
// tombstone's FakeReturnAddr points at.
func SetHaltLoopAddr(addr uintptr) {
	haltLoopAddr = addr
}

// newTombstone is the shared constructor every variant below calls.
func newTombstone(handle uintptr, exitCode uint32) *Tombstone {
	t := &Tombstone{FakeReturnAddr: haltLoopAddr, TargetHandle: handle}
	t.SetExitCode(exitCode)
	return t
}

// NormalProcessTombstone builds the normal-process variant: current
// process, fixed exit code 0.
func NormalProcessTombstone() *Tombstone {
	return newTombstone(currentProcessPseudoHandle, 0)
}

// NormalThreadTombstone builds the normal-thread variant: current
// thread, fixed exit code 0.
func NormalThreadTombstone() *Tombstone {
	return newTombstone(currentThreadPseudoHandle, 0)
}

// VariableExitCodeTombstone builds the variant used when the caller
// passed a custom exit code (spec.md §8 S4).
func VariableExitCodeTombstone(kind Kind, exitCode uint32) *Tombstone {
	handle := currentProcessPseudoHandle
	if kind == KindThread {
		handle = currentThreadPseudoHandle
	}
	return newTombstone(handle, exitCode)
}

// SysenterTombstone builds the sysenter-specific variant, whose fake
// return address points at the runtime-internal halt-loop label
// (haltLoopAddr, as set by SetHaltLoopAddr). Every other variant carries
// the same address, so this one differs from VariableExitCodeTombstone
// only in name.
func SysenterTombstone(kind Kind, exitCode uint32) *Tombstone {
	t := VariableExitCodeTombstone(kind, exitCode)
	t.FakeReturnAddr = haltLoopAddr
	return t
}
