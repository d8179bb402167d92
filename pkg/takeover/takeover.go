//go:build windows
// +build windows

package takeover

import (
	"errors"
	"sync/atomic"

	"github.com/fennimore/dbicore/pkg/arch"
	"github.com/fennimore/dbicore/pkg/log"
)

// maxAttachIterations bounds the basic-attach loop (spec.md §4.4:
// "bounded, e.g. 16").
const maxAttachIterations = 16

// SuspendOutcome classifies the result of suspending a thread.
type SuspendOutcome int

const (
	SuspendOK SuspendOutcome = iota
	SuspendFailed
	// SuspendThreadGone means the thread terminated between enumeration
	// and suspend — detected via a distinct kernel status code, not
	// counted as a failure (spec.md §4.4 failure semantics).
	SuspendThreadGone
)

// Enumerator produces the current OS thread list. This package declares
// the interface only and ships no Windows implementation of it (neither a
// live-handle iterator nor a system-wide snapshot); the caller supplies
// one, and Attach's algorithm does not know which is in use.
type Enumerator interface {
	Enumerate() ([]ThreadID, error)
}

// Controller is the thread-control surface Attach drives: suspend,
// inspect, redirect, resume.
type Controller interface {
	Self() ThreadID
	Suspend(id ThreadID) (handle uintptr, outcome SuspendOutcome)
	Resume(handle uintptr) error
	GetContext(handle uintptr) (*arch.Context64, error)
	SetContext(handle uintptr, ctx *arch.Context64) error
}

// Classifier decides whether a suspended thread is already "ours" —
// running inside the runtime's own image, or parked at the known
// initialization stub — in which case Attach leaves it alone.
type Classifier interface {
	IsInsideRuntimeImage(pc uintptr) bool
	IsAtInitStub(ctx *arch.Context64) bool
}

// Wow64Handler is consulted, when non-nil, for every suspended thread
// before the basic classification above: it implements the §4.4 "32-on-64
// emulation corner cases" detection and rewrite. A runtime that is not
// itself 32-bit, or whose target process is not wow64, passes a nil
// handler and Attach skips this step entirely.
type Wow64Handler interface {
	// Handle inspects the thread (suspended at handle) for the emulation
	// save/restore window. If the thread is inside that window, it
	// performs the rewrite spec.md §4.4 describes — redirecting it at
	// trampolineAddr — and returns the resulting record fields (saved
	// words + 64-bit context) plus true. If the thread is not inside the
	// window, returns ok == false and Attach proceeds with the ordinary
	// 32-bit GetContext path.
	Handle(handle uintptr, trampolineAddr uintptr) (savedStackWord, savedR14Word uint64, ctx64 *arch.Context64, ok bool, err error)
}

// ErrSetContextFailed is returned internally to mark a thread whose
// set_context call failed; Attach's failure semantics for this case are
// "free the record, resume the thread, leave it native" (spec.md §4.4).
var ErrSetContextFailed = errors.New("takeover: SetContext failed")

type threadOutcome int

const (
	outcomeNone threadOutcome = iota
	outcomeTried
	outcomeSuccess
)

// Engine runs the basic-attach protocol of spec.md §4.4 against one
// target process.
type Engine struct {
	Table          *TakeoverTable
	Enumerator     Enumerator
	Controller     Controller
	Classifier     Classifier
	Wow64          Wow64Handler // nil if not applicable
	TrampolineAddr uintptr

	seen      atomic.Int64
	suspended atomic.Int64
	taken     atomic.Int64
	failed    atomic.Int64
}

// Stats is a point-in-time snapshot of Engine's attach counters
// (SUPPLEMENTED: observability only, no effect on the attach protocol).
type Stats struct {
	ThreadsSeen      int64
	ThreadsSuspended int64
	ThreadsTaken     int64
	ThreadsFailed    int64
}

// Stats returns the current counters. Safe to call concurrently with
// Attach.
func (e *Engine) Stats() Stats {
	return Stats{
		ThreadsSeen:      e.seen.Load(),
		ThreadsSuspended: e.suspended.Load(),
		ThreadsTaken:     e.taken.Load(),
		ThreadsFailed:    e.failed.Load(),
	}
}

type seenEntry struct {
	outcome threadOutcome
	handle  uintptr
}

// Attach runs the bounded enumerate/suspend/classify/redirect loop and
// resumes every thread it leaves in the SUCCESS state (spec.md §4.4).
// It returns the number of newly-attached threads.
func (e *Engine) Attach() (attached int, err error) {
	seen := make(map[ThreadID]*seenEntry)

	for iter := 0; iter < maxAttachIterations; iter++ {
		ids, enumErr := e.Enumerator.Enumerate()
		if enumErr != nil {
			return attached, enumErr
		}
		newFound := false
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			newFound = true
			n, entry := e.processThread(id)
			seen[id] = entry
			attached += n
		}
		if !newFound {
			break
		}
	}

	for id, entry := range seen {
		if entry.outcome == outcomeSuccess && id != e.Controller.Self() {
			if err := e.Controller.Resume(entry.handle); err != nil {
				log.WarnOnce("takeover-resume-failed", "takeover: resume thread %d failed: %v", id, err)
			}
		}
	}
	return attached, nil
}

// processThread implements one pass of the per-thread body of the
// pseudocode in spec.md §4.4, returning how many new attachments it made
// (0 or 1) and the thread-list-entry outcome to record in seen.
func (e *Engine) processThread(id ThreadID) (int, *seenEntry) {
	e.seen.Add(1)
	if id == e.Controller.Self() {
		return 0, &seenEntry{outcome: outcomeSuccess}
	}

	handle, outcome := e.Controller.Suspend(id)
	switch outcome {
	case SuspendThreadGone:
		// Not a failure: the thread terminated between enumeration and
		// suspend.
		return 0, &seenEntry{outcome: outcomeSuccess}
	case SuspendFailed:
		e.failed.Add(1)
		return 0, &seenEntry{outcome: outcomeTried}
	}
	e.suspended.Add(1)

	if e.Wow64 != nil {
		stackWord, r14Word, ctx64, ok, werr := e.Wow64.Handle(handle, e.TrampolineAddr)
		if werr == nil && ok {
			// The handler already performed the rewrite in place; the
			// record's continuation_pc is whatever pc was before the
			// handler ran, which it reports via ctx64 prior to mutation
			// being reflected in the caller's own bookkeeping.
			return e.finishAttachAlreadyRedirected(id, handle, ctx64, stackWord, r14Word)
		}
	}

	ctx, err := e.Controller.GetContext(handle)
	if err != nil {
		e.Controller.Resume(handle)
		return 0, &seenEntry{outcome: outcomeTried}
	}

	if e.Classifier.IsInsideRuntimeImage(ctx.IP()) || e.Classifier.IsAtInitStub(ctx) {
		return 0, &seenEntry{outcome: outcomeSuccess, handle: handle}
	}

	if rec, existed := e.Table.Get(id); existed && !rec.IsPlaceholder() {
		if e.priorAttachStuck(rec, ctx) {
			// Retry: fall through and redirect again with the current pc.
		} else {
			return 0, &seenEntry{outcome: outcomeSuccess, handle: handle}
		}
	}

	return e.finishAttach(id, handle, ctx.IP(), ctx, 0, 0)
}

// priorAttachStuck examines an existing, not-yet-placeholder record's
// redirection (spec.md §4.4: "decide whether the prior set_context stuck;
// if not, retry; else skip") and returns true when it did NOT stick and
// the caller must redirect again, false when the caller skips the thread.
// If the thread's current pc still points at the trampoline, the previous
// redirection is in effect (false). If the thread has since drifted
// away from both the trampoline and the runtime image (and hasn't
// entered the trampoline per InProgress), the earlier attempt is treated
// as lost (true).
func (e *Engine) priorAttachStuck(rec *TakeoverRecord, ctx *arch.Context64) bool {
	if rec.InProgress {
		return false
	}
	return ctx.IP() != e.TrampolineAddr
}

// finishAttachAlreadyRedirected records a TakeoverRecord for a thread
// the Wow64Handler already redirected in place (by rewriting a saved
// memory word or a register field rather than the ordinary IP). originalCtx
// is the context captured before the handler mutated anything, so
// ContinuationPC and the revert snapshot are accurate.
func (e *Engine) finishAttachAlreadyRedirected(id ThreadID, handle uintptr, originalCtx *arch.Context64, savedStackWord, savedR14Word uint64) (int, *seenEntry) {
	rec := &TakeoverRecord{
		ThreadID:       id,
		ContinuationPC: originalCtx.IP(),
		ThreadHandle:   handle,
		SavedStackWord: savedStackWord,
		SavedR14Word:   savedR14Word,
		X64Context:     originalCtx,
	}
	e.Table.Insert(id, rec)
	e.taken.Add(1)
	return 1, &seenEntry{outcome: outcomeSuccess, handle: handle}
}

// finishAttach allocates a TakeoverRecord, redirects pc to the
// trampoline, and installs the record (spec.md §4.4).
func (e *Engine) finishAttach(id ThreadID, handle uintptr, continuationPC uintptr, ctx *arch.Context64, savedStackWord, savedR14Word uint64) (int, *seenEntry) {
	rec := &TakeoverRecord{
		ThreadID:       id,
		ContinuationPC: continuationPC,
		ThreadHandle:   handle,
		SavedStackWord: savedStackWord,
		SavedR14Word:   savedR14Word,
	}
	if savedStackWord != 0 || savedR14Word != 0 {
		rec.X64Context = ctx
	}
	e.Table.Insert(id, rec)

	redirected := ctx.Clone()
	redirected.SetIP(e.TrampolineAddr)
	if err := e.Controller.SetContext(handle, redirected); err != nil {
		// spec.md §4.4 failure semantics: free the record, resume the
		// thread, leave it native.
		e.Table.Remove(id)
		e.Controller.Resume(handle)
		e.failed.Add(1)
		return 0, &seenEntry{outcome: outcomeTried}
	}
	e.taken.Add(1)
	return 1, &seenEntry{outcome: outcomeSuccess, handle: handle}
}
