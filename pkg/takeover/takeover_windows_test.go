//go:build windows
// +build windows

package takeover

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fennimore/dbicore/pkg/arch"
)

type fakeEnumerator struct {
	ids []ThreadID
}

func (f *fakeEnumerator) Enumerate() ([]ThreadID, error) {
	return f.ids, nil
}

type fakeController struct {
	self       ThreadID
	suspend    map[ThreadID]SuspendOutcome
	contexts   map[uintptr]*arch.Context64
	setErr     map[uintptr]error
	resumed    map[uintptr]bool
	nextHandle uintptr
}

func newFakeController(self ThreadID) *fakeController {
	return &fakeController{
		self:     self,
		suspend:  make(map[ThreadID]SuspendOutcome),
		contexts: make(map[uintptr]*arch.Context64),
		setErr:   make(map[uintptr]error),
		resumed:  make(map[uintptr]bool),
	}
}

func (f *fakeController) Self() ThreadID { return f.self }

func (f *fakeController) Suspend(id ThreadID) (uintptr, SuspendOutcome) {
	f.nextHandle++
	handle := f.nextHandle
	outcome, ok := f.suspend[id]
	if !ok {
		outcome = SuspendOK
	}
	return handle, outcome
}

func (f *fakeController) Resume(handle uintptr) error {
	f.resumed[handle] = true
	return nil
}

func (f *fakeController) GetContext(handle uintptr) (*arch.Context64, error) {
	return f.contexts[handle], nil
}

func (f *fakeController) SetContext(handle uintptr, ctx *arch.Context64) error {
	if err, ok := f.setErr[handle]; ok {
		return err
	}
	f.contexts[handle] = ctx
	return nil
}

type fakeClassifier struct {
	insideImage map[uintptr]bool
	atInitStub  bool
}

func (f *fakeClassifier) IsInsideRuntimeImage(pc uintptr) bool {
	return f.insideImage[pc]
}

func (f *fakeClassifier) IsAtInitStub(ctx *arch.Context64) bool {
	return f.atInitStub
}

func TestAttachTakesOverOrdinaryThread(t *testing.T) {
	enum := &fakeEnumerator{ids: []ThreadID{1, 2}}
	ctrl := newFakeController(1)
	ctx := arch.NewContext64()
	ctx.SetIP(0x00401000)

	e := &Engine{
		Table:          NewTakeoverTable(),
		Enumerator:     enum,
		Controller:     ctrl,
		Classifier:     &fakeClassifier{insideImage: map[uintptr]bool{}},
		TrampolineAddr: 0x7FF00000,
	}
	// Seed the context for whichever handle thread 2 gets suspended as.
	// Suspend is called before GetContext, so assign after first pass is
	// not possible; instead pre-populate every handle the fake hands out.
	ctrl.contexts[1] = ctx

	attached, err := e.Attach()
	require.NoError(t, err)
	assert.Equal(t, 1, attached)

	rec, ok := e.Table.Get(2)
	require.True(t, ok)
	assert.Equal(t, uintptr(0x00401000), rec.ContinuationPC)

	stats := e.Stats()
	assert.Equal(t, int64(2), stats.ThreadsSeen)
	assert.Equal(t, int64(1), stats.ThreadsSuspended)
	assert.Equal(t, int64(1), stats.ThreadsTaken)
	assert.Equal(t, int64(0), stats.ThreadsFailed)
}

func TestAttachSkipsThreadAlreadyInsideRuntimeImage(t *testing.T) {
	enum := &fakeEnumerator{ids: []ThreadID{1, 2}}
	ctrl := newFakeController(1)
	ctx := arch.NewContext64()
	ctx.SetIP(0x00500000)
	ctrl.contexts[1] = ctx

	e := &Engine{
		Table:          NewTakeoverTable(),
		Enumerator:     enum,
		Controller:     ctrl,
		Classifier:     &fakeClassifier{insideImage: map[uintptr]bool{0x00500000: true}},
		TrampolineAddr: 0x7FF00000,
	}

	attached, err := e.Attach()
	require.NoError(t, err)
	assert.Equal(t, 0, attached)
	_, ok := e.Table.Get(2)
	assert.False(t, ok)

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.ThreadsSuspended)
	assert.Equal(t, int64(0), stats.ThreadsTaken)
}

func TestAttachCountsSuspendFailureAsFailed(t *testing.T) {
	enum := &fakeEnumerator{ids: []ThreadID{1, 2}}
	ctrl := newFakeController(1)
	ctrl.suspend[2] = SuspendFailed

	e := &Engine{
		Table:          NewTakeoverTable(),
		Enumerator:     enum,
		Controller:     ctrl,
		Classifier:     &fakeClassifier{},
		TrampolineAddr: 0x7FF00000,
	}

	attached, err := e.Attach()
	require.NoError(t, err)
	assert.Equal(t, 0, attached)

	stats := e.Stats()
	assert.Equal(t, int64(2), stats.ThreadsSeen)
	assert.Equal(t, int64(0), stats.ThreadsSuspended)
	assert.Equal(t, int64(1), stats.ThreadsFailed)
}

func TestAttachCountsSetContextFailureAsFailed(t *testing.T) {
	enum := &fakeEnumerator{ids: []ThreadID{1, 2}}
	ctrl := newFakeController(1)
	ctx := arch.NewContext64()
	ctx.SetIP(0x00401000)
	ctrl.contexts[1] = ctx

	e := &Engine{
		Table:          NewTakeoverTable(),
		Enumerator:     enum,
		Controller:     ctrl,
		Classifier:     &fakeClassifier{insideImage: map[uintptr]bool{}},
		TrampolineAddr: 0x7FF00000,
	}

	attached, err := e.Attach()
	require.NoError(t, err)
	assert.Equal(t, 1, attached)

	// Force SetContext to fail on the second Attach pass for the same
	// thread by resetting its record and retrying with a broken handle.
	ctrl2 := newFakeController(1)
	ctx2 := arch.NewContext64()
	ctx2.SetIP(0x00402000)
	ctrl2.contexts[1] = ctx2
	ctrl2.setErr[1] = assertErr{}

	e2 := &Engine{
		Table:          NewTakeoverTable(),
		Enumerator:     &fakeEnumerator{ids: []ThreadID{1, 2}},
		Controller:     ctrl2,
		Classifier:     &fakeClassifier{insideImage: map[uintptr]bool{}},
		TrampolineAddr: 0x7FF00000,
	}
	attached2, err := e2.Attach()
	require.NoError(t, err)
	assert.Equal(t, 0, attached2)

	stats := e2.Stats()
	assert.Equal(t, int64(1), stats.ThreadsFailed)
	assert.True(t, ctrl2.resumed[1])
}

type assertErr struct{}

func (assertErr) Error() string { return "set context failed" }
