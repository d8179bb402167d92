// Package waitutil implements the §5 wait_event(timeout_ms) wrapper:
// infinite and finite waits, plus the "one more long wait before
// declaring deadlock" rule so a debugger stopping the world doesn't
// spuriously trip a caller's timeout.
package waitutil

import (
	"errors"

	"github.com/cenkalti/backoff"
)

// Waiter is the single raw wait call WaitEvent drives. This package ships
// no implementation of it. Abstracted so the retry policy is testable
// without a live event handle.
type Waiter interface {
	// Wait blocks for up to timeoutMs milliseconds (0 meaning infinite,
	// this package's convention; WaitForSingleObject itself treats 0 as
	// a zero-length poll) and reports whether the object
	// became signaled before the timeout elapsed.
	Wait(timeoutMs uint32) (signaled bool, err error)
}

// deadlockGraceWaitMs is the single extra long wait performed before a
// finite wait_event call declares deadlock (spec.md §5).
const deadlockGraceWaitMs = 30000

// errTimedOut is returned internally when both the caller's wait and the
// grace wait elapse without the object becoming signaled.
var errTimedOut = errors.New("waitutil: timed out after the deadlock-avoidance grace wait")

// ErrTimedOut is the sentinel callers can compare against with errors.Is.
var ErrTimedOut = errTimedOut

// WaitEvent implements spec.md §5's wait_event(timeout_ms). timeoutMs ==
// 0 waits infinitely, per the spec's stated convention. A nonzero
// timeout that elapses is not immediately treated as a deadlock: one
// more wait of deadlockGraceWaitMs is performed first, using
// backoff.WithMaxRetries(..., 1) as the "one more attempt" policy,
// before WaitEvent reports ErrTimedOut.
func WaitEvent(w Waiter, timeoutMs uint32) (bool, error) {
	if timeoutMs == 0 {
		return w.Wait(0)
	}

	attempt := 0
	op := func() error {
		wait := timeoutMs
		if attempt > 0 {
			wait = deadlockGraceWaitMs
		}
		attempt++
		signaled, err := w.Wait(wait)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !signaled {
			return errTimedOut
		}
		return nil
	}

	err := backoff.Retry(op, backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errTimedOut):
		return false, ErrTimedOut
	default:
		return false, err
	}
}
