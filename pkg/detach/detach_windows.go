//go:build windows
// +build windows

// Package detach implements component H: reverting any TakeoverTable
// entry whose thread never ran (spec.md §4.4 "Detach"). It cooperates
// with the trampoline's per-thread exit — a thread that does run removes
// its own record before Detach ever sees it (pkg/takeover's `completed`
// transition) — so Detach only ever has to deal with `new` records still
// sitting in the table, the table-sweep shape grounded on the teacher's
// subprocess_linux.go lookupOrCreate pattern.
package detach

import (
	"sync/atomic"

	"golang.org/x/sys/windows"

	"github.com/fennimore/dbicore/pkg/arch"
	"github.com/fennimore/dbicore/pkg/log"
	"github.com/fennimore/dbicore/pkg/safemem"
	"github.com/fennimore/dbicore/pkg/takeover"
)

// Restorer is the native surface Detach needs to put a thread back the
// way it found it: restore its register file and resume it. Abstracted
// so the revert algorithm is testable without a live process, the same
// split pkg/takeover.Controller uses.
type Restorer interface {
	GetContext(handle uintptr) (*arch.Context64, error)
	SetContext(handle uintptr, ctx *arch.Context64) error
	Resume(handle uintptr) error
}

// Detacher drains a TakeoverTable, restoring every entry that is still
// `new` (never reached the trampoline) to its pre-attach state.
type Detacher struct {
	Table     *takeover.TakeoverTable
	Restorer  Restorer
	Process   safemem.Handle // for reverting SavedStackWord/SavedR14Word

	// inProgress is the §5 "atomic compare-and-swap on a single int" that
	// ensures at most one concurrent detach.
	inProgress int32
}

// ErrAlreadyDetaching is returned by Run when another goroutine is
// already mid-detach (spec.md §5 cancellation: "Detach has its own
// cancellation flag... to ensure at most one concurrent detach").
var errAlreadyDetaching = detachInProgressError{}

type detachInProgressError struct{}

func (detachInProgressError) Error() string { return "detach: a detach is already in progress" }

// ErrAlreadyDetaching is the sentinel callers can compare against with
// errors.Is.
var ErrAlreadyDetaching error = errAlreadyDetaching

// Run sweeps the table once, reverting every record still in the `new`
// state (i.e. not InProgress — a thread that entered the trampoline is
// racing to complete, not a candidate for revert) and removing it.
// Records that are InProgress are left alone: the trampoline owns their
// lifecycle from that point (spec.md §4.4 "States").
func (d *Detacher) Run() (reverted int, err error) {
	if !atomic.CompareAndSwapInt32(&d.inProgress, 0, 1) {
		return 0, ErrAlreadyDetaching
	}
	defer atomic.StoreInt32(&d.inProgress, 0)

	var toRevert []*takeover.TakeoverRecord
	d.Table.Range(func(id takeover.ThreadID, rec *takeover.TakeoverRecord) bool {
		if !rec.IsPlaceholder() && !rec.InProgress {
			toRevert = append(toRevert, rec)
		}
		return true
	})

	for _, rec := range toRevert {
		if revertErr := d.revertOne(rec); revertErr != nil {
			log.WarnOnce("detach-revert-failed", "detach: reverting thread %d failed: %v", rec.ThreadID, revertErr)
			continue
		}
		d.Table.Remove(rec.ThreadID)
		reverted++
	}
	return reverted, nil
}

// revertOne restores a single never-scheduled takeover record: any saved
// memory words first (they may be what the thread's own continuation
// reads before anything else), then the register file, then resumes the
// thread. Order matches spec.md §8 property 6: after revert, the
// register file and every saved word must be bit-identical to their
// pre-attach values.
func (d *Detacher) revertOne(rec *takeover.TakeoverRecord) error {
	if rec.SavedStackWord != 0 {
		if !writeWord(d.Process, uintptr(restoreStackAddr(rec)), rec.SavedStackWord) {
			return errShortWrite
		}
	}
	if rec.SavedR14Word != 0 {
		if !writeWord(d.Process, uintptr(restoreR14Addr(rec)), rec.SavedR14Word) {
			return errShortWrite
		}
	}

	ctx := rec.X64Context
	if ctx == nil {
		var gerr error
		ctx, gerr = d.Restorer.GetContext(rec.ThreadHandle)
		if gerr != nil {
			return gerr
		}
	}
	restored := ctx.Clone()
	restored.SetIP(rec.ContinuationPC)
	if err := d.Restorer.SetContext(rec.ThreadHandle, restored); err != nil {
		return err
	}
	return d.Restorer.Resume(rec.ThreadHandle)
}

// restoreStackAddr/restoreR14Addr recover the foreign address the saved
// word was read from: the stack-slot rewrite always targets the captured
// context's SP, the r14-slot rewrite always targets its R14 (spec.md
// §4.4's wow64 corner cases; for the ordinary, non-wow64 takeover path
// both saved words are always zero and these are never consulted).
func restoreStackAddr(rec *takeover.TakeoverRecord) uint64 {
	if rec.X64Context != nil {
		return uint64(rec.X64Context.SP())
	}
	return 0
}

func restoreR14Addr(rec *takeover.TakeoverRecord) uint64 {
	if rec.X64Context != nil {
		return rec.X64Context.R14()
	}
	return 0
}

var errShortWrite = detachShortWriteError{}

type detachShortWriteError struct{}

func (detachShortWriteError) Error() string { return "detach: short write restoring saved word" }

func writeWord(process safemem.Handle, addr uintptr, v uint64) bool {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return safemem.SafeWrite(process, addr, b[:], true) == 8
}

var _ Restorer = (*windowsRestorer)(nil)

// windowsRestorer is the default Restorer, backed directly by pkg/arch
// and the raw Windows resume call.
type windowsRestorer struct{}

func (windowsRestorer) GetContext(handle uintptr) (*arch.Context64, error) {
	return arch.GetContext(windows.Handle(handle))
}

func (windowsRestorer) SetContext(handle uintptr, ctx *arch.Context64) error {
	return arch.SetContext(windows.Handle(handle), ctx)
}

func (windowsRestorer) Resume(handle uintptr) error {
	_, err := windows.ResumeThread(windows.Handle(handle))
	return err
}

// NewWindowsDetacher returns a Detacher wired to the live Windows Restorer.
func NewWindowsDetacher(table *takeover.TakeoverTable, process safemem.Handle) *Detacher {
	return &Detacher{Table: table, Restorer: windowsRestorer{}, Process: process}
}
