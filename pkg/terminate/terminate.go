package terminate

import (
	"errors"
	"sync"

	"github.com/fennimore/dbicore/pkg/abi/win"
	"github.com/fennimore/dbicore/pkg/log"
	"github.com/fennimore/dbicore/pkg/rareprotect"
	"github.com/fennimore/dbicore/pkg/syscalltable"
)

// ErrKernelRejected wraps whatever status the final syscall returned,
// surfaced verbatim per spec.md §7 ("kernel-rejected-syscall ... not
// retried here"). Control normally never returns from a successful
// terminate call, so reaching this at all is itself informative.
var ErrKernelRejected = errors.New("terminate: kernel rejected the terminate syscall")

// ErrMissingSyscall is returned when the frozen syscall table has no
// entry for the terminate call this OS version needs (data model §3:
// "Missing entries ... cause a clean failure at use time").
var ErrMissingSyscall = errors.New("terminate: syscall table has no entry for the requested terminate call")

// LockReleaser is the external "lock registry" collaborator (spec.md §6):
// release every runtime lock held by the calling thread before the final
// syscall, so other threads can continue (spec.md §4.6 constraint 1).
type LockReleaser interface {
	ReleaseAll()
}

// Invoker issues the actual terminate syscall, abstracted so Terminator's
// sequencing (lock release, tombstone write, mutex discipline) is
// testable without ever actually calling into the kernel.
type Invoker interface {
	Invoke(syscallNumber uint32, tomb *Tombstone) error
}

// Terminator implements component E.
type Terminator struct {
	Table    *syscalltable.Table
	Invoker  Invoker
	Locks    LockReleaser // optional
	IsLastThread func() bool // optional; promotes thread exit to process exit

	// mu serializes dumps-and-aborts so two concurrent fatal paths don't
	// corrupt the tombstone (spec.md §5 "Locking discipline"). It is
	// released strictly before the final syscall — Terminator "may NOT
	// hold any runtime mutex across its final syscall" (spec.md §5).
	mu sync.Mutex

	abruptLoggedOnce sync.Once
}

// Terminate implements §4.6's terminate(kind, cleanup, custom_code,
// exit_code).
func (t *Terminator) Terminate(kind Kind, cleanup Cleanup, customCode bool, exitCode uint32) error {
	if kind == KindThread && t.IsLastThread != nil && t.IsLastThread() {
		// "if the calling thread is the only remaining application
		// thread, promote the call to a process exit" (spec.md §4.6).
		kind = KindProcess
	}

	if cleanup == CleanupAbrupt {
		t.abruptLoggedOnce.Do(func() {
			log.Errorf("terminate: abrupt exit requested (kind=%v, exit_code=%d)", kind, exitCode)
		})
	}

	tomb := t.buildTombstone(kind, cleanup, customCode, exitCode)

	sysName := win.SysTerminateProcess
	if kind == KindThread {
		sysName = win.SysTerminateThread
	}
	num, ok := t.Table.Number(sysName)
	if !ok {
		return ErrMissingSyscall
	}

	if err := t.Invoker.Invoke(num, tomb); err != nil {
		return errors.Join(ErrKernelRejected, err)
	}
	// Control does not return from a successful terminate call; reaching
	// here means the kernel accepted the call but this process/thread is
	// still executing, which Invoker implementations treat as success
	// only when they cannot observe non-return (e.g. fakes in tests).
	return nil
}

// buildTombstone picks the tombstone variant matching (customCode,
// kind) and, under graceful cleanup, releases runtime locks before
// ever touching the tombstone — spec.md §4.6 constraint 1's ordering.
// The tombstone write itself happens under the rare-data-section guard
// and the guard is released before Terminate ever calls Invoker,
// satisfying §5's "release strictly before entering the terminate
// sequence" structurally: t.mu (the dumps-and-aborts serializer) is held
// only for the duration of this function, never across Invoke.
func (t *Terminator) buildTombstone(kind Kind, cleanup Cleanup, customCode bool, exitCode uint32) *Tombstone {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cleanup == CleanupGraceful && t.Locks != nil {
		t.Locks.ReleaseAll()
	}

	g := rareprotect.Acquire(&haltLoopAddr)
	defer g.Release()

	switch {
	case customCode:
		return VariableExitCodeTombstone(kind, exitCode)
	case kind == KindThread:
		return NormalThreadTombstone()
	default:
		return NormalProcessTombstone()
	}
}
