package safemem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	readN, writeN int
	readCalls     int
	writeCalls    int
}

func (f *fakeBackend) Read(process Handle, src uintptr, dst []byte) int {
	f.readCalls++
	return f.readN
}

func (f *fakeBackend) Write(process Handle, dst uintptr, src []byte) int {
	f.writeCalls++
	return f.writeN
}

func TestSafeReadUsesSyscallBackendBeforeInit(t *testing.T) {
	ResetForTesting()
	sc := &fakeBackend{readN: 4}
	fb := &fakeBackend{readN: 8}
	RegisterBackends(sc, fb)
	defer RegisterBackends(nil, nil)

	n := SafeRead(0, 0x1000, make([]byte, 4))
	assert.Equal(t, 4, n)
	assert.Equal(t, 1, sc.readCalls)
	assert.Equal(t, 0, fb.readCalls)
}

func TestSafeReadUsesFaultBackendAfterInit(t *testing.T) {
	ResetForTesting()
	sc := &fakeBackend{readN: 4}
	fb := &fakeBackend{readN: 8}
	RegisterBackends(sc, fb)
	defer RegisterBackends(nil, nil)
	defer ResetForTesting()

	MarkInitialized()
	require.True(t, IsInitialized())

	n := SafeRead(0, 0x1000, make([]byte, 8))
	assert.Equal(t, 8, n)
	assert.Equal(t, 0, sc.readCalls)
	assert.Equal(t, 1, fb.readCalls)
}

func TestSafeWriteWantCountAlwaysUsesFaultBackend(t *testing.T) {
	ResetForTesting()
	sc := &fakeBackend{writeN: 4}
	fb := &fakeBackend{writeN: 8}
	RegisterBackends(sc, fb)
	defer RegisterBackends(nil, nil)

	// Not initialized, but wantCount=true still routes to the fault
	// back-end: the syscall back-end's count isn't trustworthy on every
	// kernel generation (DESIGN.md open-question resolution).
	n := SafeWrite(0, 0x2000, []byte{1, 2, 3, 4}, true)
	assert.Equal(t, 8, n)
	assert.Equal(t, 0, sc.writeCalls)
	assert.Equal(t, 1, fb.writeCalls)
}

func TestSafeWriteWithoutWantCountUsesSyscallBackend(t *testing.T) {
	ResetForTesting()
	sc := &fakeBackend{writeN: 4}
	fb := &fakeBackend{writeN: 8}
	RegisterBackends(sc, fb)
	defer RegisterBackends(nil, nil)

	n := SafeWrite(0, 0x2000, []byte{1, 2, 3, 4}, false)
	assert.Equal(t, 4, n)
	assert.Equal(t, 1, sc.writeCalls)
	assert.Equal(t, 0, fb.writeCalls)
}

func TestSafeReadWithNoBackendsRegisteredReturnsZero(t *testing.T) {
	ResetForTesting()
	RegisterBackends(nil, nil)
	assert.Equal(t, 0, SafeRead(0, 0x1000, make([]byte, 4)))
	assert.Equal(t, 0, SafeWrite(0, 0x1000, []byte{1}, false))
}

func TestResetForTestingClearsInitFlag(t *testing.T) {
	MarkInitialized()
	require.True(t, IsInitialized())
	ResetForTesting()
	assert.False(t, IsInitialized())
}
