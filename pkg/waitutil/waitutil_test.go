package waitutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWaiter struct {
	waits   []uint32
	results []bool
	err     error
}

func (f *fakeWaiter) Wait(timeoutMs uint32) (bool, error) {
	f.waits = append(f.waits, timeoutMs)
	if f.err != nil {
		return false, f.err
	}
	idx := len(f.waits) - 1
	if idx < len(f.results) {
		return f.results[idx], nil
	}
	return false, nil
}

func TestWaitEventInfiniteWaitPassesThrough(t *testing.T) {
	w := &fakeWaiter{results: []bool{true}}
	signaled, err := WaitEvent(w, 0)
	require.NoError(t, err)
	assert.True(t, signaled)
	assert.Equal(t, []uint32{0}, w.waits)
}

func TestWaitEventSignaledOnFirstWait(t *testing.T) {
	w := &fakeWaiter{results: []bool{true}}
	signaled, err := WaitEvent(w, 500)
	require.NoError(t, err)
	assert.True(t, signaled)
	assert.Equal(t, []uint32{500}, w.waits)
}

func TestWaitEventSignaledOnGraceWait(t *testing.T) {
	w := &fakeWaiter{results: []bool{false, true}}
	signaled, err := WaitEvent(w, 500)
	require.NoError(t, err)
	assert.True(t, signaled)
	require.Len(t, w.waits, 2)
	assert.Equal(t, uint32(500), w.waits[0])
	assert.Equal(t, uint32(deadlockGraceWaitMs), w.waits[1])
}

func TestWaitEventDeclaresDeadlockAfterGraceWait(t *testing.T) {
	w := &fakeWaiter{results: []bool{false, false}}
	signaled, err := WaitEvent(w, 500)
	assert.False(t, signaled)
	assert.True(t, errors.Is(err, ErrTimedOut))
	assert.Len(t, w.waits, 2)
}

func TestWaitEventPropagatesWaiterError(t *testing.T) {
	w := &fakeWaiter{err: errors.New("handle closed")}
	signaled, err := WaitEvent(w, 500)
	assert.False(t, signaled)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTimedOut))
	assert.Len(t, w.waits, 1)
}
