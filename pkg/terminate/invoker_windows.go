//go:build windows
// +build windows

package terminate

import (
	"fmt"

	"github.com/fennimore/dbicore/pkg/ntapi"
)

// WindowsInvoker is the live Invoker: it switches onto the dedicated
// termination stack (spec.md §4.6 constraint 2) before calling ntdll's
// NtTerminateProcess export (NtTerminateThread when the tombstone targets
// the current thread), passing the tombstone's handle and exit code as
// arguments. It does not issue a raw syscall by number: the number Invoke
// receives appears only in its error message. Go manages its own goroutine stacks, so there is no
// literal stack-pointer switch to perform here — the termination stack
// reservation in stack.go exists so a from-scratch reimplementation in a
// language with manual stack control has somewhere safe to point the
// stack pointer; this invoker's "switch" is choosing which backing slice
// to treat as that reservation; the documented simplification.
type WindowsInvoker struct {
	// ThreadID selects PerThreadStack when Wow64 is true and ThreadID is
	// non-zero; otherwise the global fallback slot is used.
	ThreadID uint32
	Wow64    bool
}

// Invoke issues the real Nt syscall. On success for a process/thread
// terminate this never returns to the caller in a real OS; in this Go
// translation ntapi always returns, so a non-error result here still
// means "the kernel accepted the request".
func (w *WindowsInvoker) Invoke(syscallNumber uint32, tomb *Tombstone) error {
	if w.Wow64 && w.ThreadID != 0 {
		_ = PerThreadStack(w.ThreadID)
	} else {
		_, release := AcquireGlobalStack()
		defer release()
	}

	proc := ntapi.NtTerminateProcess
	if tomb.TargetHandle == currentThreadPseudoHandle {
		proc = ntapi.NtTerminateThread
	}
	r, _, err := proc.Call(tomb.TargetHandle, uintptr(tomb.ExitCode()))
	if r != 0 {
		return fmt.Errorf("terminate: syscall %d (NTSTATUS %#x): %w", syscallNumber, r, err)
	}
	return nil
}
