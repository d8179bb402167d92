//go:build windows
// +build windows

package detach

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fennimore/dbicore/pkg/arch"
	"github.com/fennimore/dbicore/pkg/safemem"
	"github.com/fennimore/dbicore/pkg/takeover"
)

type fakeRestorer struct {
	contexts map[uintptr]*arch.Context64
	resumed  map[uintptr]bool
}

func newFakeRestorer() *fakeRestorer {
	return &fakeRestorer{contexts: make(map[uintptr]*arch.Context64), resumed: make(map[uintptr]bool)}
}

func (f *fakeRestorer) GetContext(handle uintptr) (*arch.Context64, error) {
	return f.contexts[handle], nil
}

func (f *fakeRestorer) SetContext(handle uintptr, ctx *arch.Context64) error {
	f.contexts[handle] = ctx
	return nil
}

func (f *fakeRestorer) Resume(handle uintptr) error {
	f.resumed[handle] = true
	return nil
}

type fakeMemBackend struct {
	mem map[uintptr][8]byte
}

func (f *fakeMemBackend) Read(process safemem.Handle, src uintptr, dst []byte) int {
	w, ok := f.mem[src]
	if !ok {
		return 0
	}
	return copy(dst, w[:])
}

func (f *fakeMemBackend) Write(process safemem.Handle, dst uintptr, src []byte) int {
	var w [8]byte
	n := copy(w[:], src)
	f.mem[dst] = w
	return n
}

// S2 from spec.md §8: a thread takeover-redirected but never resumed is
// reverted to its exact pre-attach continuation and removed from the
// table, with no writes left behind at the saved stack word address.
func TestRunRevertsNeverScheduledThread(t *testing.T) {
	safemem.ResetForTesting()
	mem := &fakeMemBackend{mem: make(map[uintptr][8]byte)}
	safemem.RegisterBackends(mem, mem)
	defer safemem.RegisterBackends(nil, nil)

	table := takeover.NewTakeoverTable()
	ctx := arch.NewContext64()
	ctx.SetIP(0x00401234)
	table.Insert(1, &takeover.TakeoverRecord{
		ThreadID:       1,
		ContinuationPC: 0x00401234,
		ThreadHandle:   0xAAAA,
		X64Context:     ctx,
	})

	restorer := newFakeRestorer()
	restorer.contexts[0xAAAA] = arch.NewContext64()

	d := &Detacher{Table: table, Restorer: restorer}
	n, err := d.Run()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, table.Len())
	assert.Equal(t, uintptr(0x00401234), restorer.contexts[0xAAAA].IP())
	assert.True(t, restorer.resumed[0xAAAA])
}

func TestRunSkipsInProgressRecords(t *testing.T) {
	table := takeover.NewTakeoverTable()
	table.Insert(2, &takeover.TakeoverRecord{ThreadID: 2, ContinuationPC: 0x1000, InProgress: true, ThreadHandle: 0xBBBB})

	restorer := newFakeRestorer()
	d := &Detacher{Table: table, Restorer: restorer}
	n, err := d.Run()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, table.Len())
}

func TestRunRejectsConcurrentDetach(t *testing.T) {
	table := takeover.NewTakeoverTable()
	d := &Detacher{Table: table, Restorer: newFakeRestorer()}
	d.inProgress = 1
	_, err := d.Run()
	assert.ErrorIs(t, err, ErrAlreadyDetaching)
}

func TestRunRevertsWow64SavedStackWord(t *testing.T) {
	safemem.ResetForTesting()
	mem := &fakeMemBackend{mem: make(map[uintptr][8]byte)}
	safemem.RegisterBackends(mem, mem)
	defer safemem.RegisterBackends(nil, nil)

	table := takeover.NewTakeoverTable()
	ctx := arch.NewContext64()
	ctx.SetIP(0x7FF00000) // inside the emulation layer, above user image
	ctx.SetSP(0x200000)
	table.Insert(3, &takeover.TakeoverRecord{
		ThreadID:       3,
		ContinuationPC: 0x00402000,
		ThreadHandle:   0xCCCC,
		SavedStackWord: 0xDEADBEEF,
		X64Context:     ctx,
	})

	restorer := newFakeRestorer()
	restorer.contexts[0xCCCC] = arch.NewContext64()

	d := &Detacher{Table: table, Restorer: restorer, Process: 0x1}
	n, err := d.Run()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint64(0xDEADBEEF), readWord64(t, mem, 0x200000))
}

func readWord64(t *testing.T, mem *fakeMemBackend, addr uintptr) uint64 {
	t.Helper()
	w, ok := mem.mem[addr]
	require.True(t, ok)
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(w[i])
	}
	return v
}
