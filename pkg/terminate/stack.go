package terminate

import "sync"

// stackBytes is the size of the dedicated termination stack: small,
// single-entry, reserved once and never unmapped (spec.md §3 "Wow64
// termination stack"). Sized generously past any plausible syscall-
// wrapper frame.
const stackBytes = 4096

// globalTerminationStack is the one global fallback slot, shared across
// threads only for abrupt (non-cleanup) exit, where only one thread can
// ever reach it (spec.md §5 "Shared resources").
var globalTerminationStack [stackBytes]byte

// globalStackMu serializes use of globalTerminationStack: spec.md notes
// it is shared only for the abrupt path, where a single thread reaching
// it is actually guaranteed by the abrupt-exit semantics (no other
// thread is still running cleanup), but the mutex costs nothing and
// removes any doubt if that assumption is ever violated by a caller.
var globalStackMu sync.Mutex

// tebSlots approximates the "per-thread slot inside the thread
// environment block" spec.md §3 calls for. Go's windows package exposes
// no portable accessor for arbitrary TEB fields, so this core keys the
// per-thread slot by thread id in a package-level map instead of reading
// a real TEB offset — documented here as the same kind of simplification
// pkg/syspathmap makes for the object manager's device-map directory.
var (
	tebMu    sync.Mutex
	tebSlots = make(map[uint32]*[stackBytes]byte)
)

// AcquireGlobalStack locks and returns the shared fallback termination
// stack. Callers must call Release when done (normally never, since
// control does not return from a successful terminate syscall).
func AcquireGlobalStack() (stack []byte, release func()) {
	globalStackMu.Lock()
	return globalTerminationStack[:], globalStackMu.Unlock
}

// PerThreadStack returns the termination stack slot reserved for
// threadID, allocating it on first use. Used under 32-on-64 on Windows
// 8+ per spec.md §4.6 constraint 2, falling back to the global slot when
// the caller did not pass a thread handle.
func PerThreadStack(threadID uint32) []byte {
	tebMu.Lock()
	defer tebMu.Unlock()
	slot, ok := tebSlots[threadID]
	if !ok {
		slot = &[stackBytes]byte{}
		tebSlots[threadID] = slot
	}
	return slot[:]
}
