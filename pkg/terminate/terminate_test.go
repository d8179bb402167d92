package terminate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fennimore/dbicore/pkg/abi/win"
	"github.com/fennimore/dbicore/pkg/syscalltable"
)

type fakeInvoker struct {
	calls []struct {
		num  uint32
		tomb *Tombstone
	}
	err error
}

func (f *fakeInvoker) Invoke(num uint32, tomb *Tombstone) error {
	f.calls = append(f.calls, struct {
		num  uint32
		tomb *Tombstone
	}{num, tomb})
	return f.err
}

type fakeLocks struct{ released int }

func (f *fakeLocks) ReleaseAll() { f.released++ }

func newTestTable() *syscalltable.Table {
	var tbl syscalltable.Table
	for i := range tbl {
		tbl[i] = win.MissingSyscall
	}
	tbl[win.SysTerminateProcess] = 100
	tbl[win.SysTerminateThread] = 101
	return &tbl
}

// S4 from spec.md §8: terminate(process, graceful, custom_code=true,
// exit_code=42) results in the kernel's last-received call having
// arguments (current_process_sentinel, 42).
func TestTerminateCustomExitCode(t *testing.T) {
	inv := &fakeInvoker{}
	locks := &fakeLocks{}
	term := &Terminator{Table: newTestTable(), Invoker: inv, Locks: locks}

	err := term.Terminate(KindProcess, CleanupGraceful, true, 42)
	require.NoError(t, err)
	require.Len(t, inv.calls, 1)
	assert.Equal(t, uint32(100), inv.calls[0].num)
	assert.Equal(t, uint32(42), inv.calls[0].tomb.ExitCode())
	assert.Equal(t, currentProcessPseudoHandle, inv.calls[0].tomb.TargetHandle)
	assert.Equal(t, 1, locks.released)
}

func TestTerminateAbruptSkipsLockRelease(t *testing.T) {
	inv := &fakeInvoker{}
	locks := &fakeLocks{}
	term := &Terminator{Table: newTestTable(), Invoker: inv, Locks: locks}

	err := term.Terminate(KindProcess, CleanupAbrupt, false, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, locks.released)
}

func TestTerminateThreadPromotedToProcessWhenLastThread(t *testing.T) {
	inv := &fakeInvoker{}
	term := &Terminator{Table: newTestTable(), Invoker: inv, IsLastThread: func() bool { return true }}

	err := term.Terminate(KindThread, CleanupGraceful, false, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), inv.calls[0].num) // TerminateProcess, not TerminateThread
}

func TestTerminateMissingSyscallEntry(t *testing.T) {
	var tbl syscalltable.Table
	for i := range tbl {
		tbl[i] = win.MissingSyscall
	}
	term := &Terminator{Table: &tbl, Invoker: &fakeInvoker{}}
	err := term.Terminate(KindProcess, CleanupGraceful, false, 0)
	assert.ErrorIs(t, err, ErrMissingSyscall)
}
