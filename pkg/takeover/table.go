//go:build windows
// +build windows

// Package takeover implements components F and G: the TakeoverTable data
// structure (spec.md §3 "Takeover record") and the thread-attach protocol
// built on top of it (spec.md §4.4) — the algorithmic heart of the core.
package takeover

import (
	"sync"

	"github.com/fennimore/dbicore/pkg/arch"
)

// ThreadID identifies an OS thread (a Windows thread id, not a handle).
type ThreadID uint32

// sentinelReserved is the distinct constant spec.md §3 calls for: it
// marks "this thread id is reserved but has no record yet", so a
// concurrent enumerator sees the map entry and skips the id without
// racing the writer that is still populating it.
const sentinelReserved uintptr = 0xFFFFFFFFFFFFFFFF

// TakeoverRecord is one per thread currently being attached (spec.md §3).
type TakeoverRecord struct {
	ThreadID ThreadID

	// ContinuationPC is the original instruction pointer overwritten to
	// redirect the thread into the trampoline.
	ContinuationPC uintptr

	// InProgress is set when the thread has entered the trampoline but
	// not yet registered with the runtime — guards against double-attach
	// during a suspension that catches the thread inside the kernel DLL.
	InProgress bool

	// SavedStackWord and SavedR14Word are up to two authoritative memory
	// locations whose original value must be restored if attach is
	// reverted. Zero means "no rewrite was done here" (spec.md §3).
	SavedStackWord uint64
	SavedR14Word   uint64

	// ThreadHandle is a duplicated OS handle kept alive until revert.
	ThreadHandle uintptr

	// X64Context is the captured 64-bit register file, only populated
	// when the thread was suspended inside the wow64 emulation-layer
	// transition (spec.md §4.4).
	X64Context *arch.Context64

	// SentinelPayload, when equal to sentinelReserved, means this entry
	// is a placeholder: reserved but not yet populated.
	SentinelPayload uintptr
}

// IsPlaceholder reports whether r is a reservation with no real record
// behind it yet.
func (r *TakeoverRecord) IsPlaceholder() bool {
	return r.SentinelPayload == sentinelReserved
}

// TakeoverTable is the readers-writer-locked map keyed by thread id
// spec.md §3 describes. Multiple threads concurrently enumerate OS
// threads during attach; only one writer at a time installs or removes
// a record.
type TakeoverTable struct {
	mu      sync.RWMutex
	records map[ThreadID]*TakeoverRecord
}

// NewTakeoverTable returns an empty table.
func NewTakeoverTable() *TakeoverTable {
	return &TakeoverTable{records: make(map[ThreadID]*TakeoverRecord)}
}

// Get returns the record for id, if any (including placeholders).
func (t *TakeoverTable) Get(id ThreadID) (*TakeoverRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.records[id]
	return r, ok
}

// Reserve inserts a placeholder record for id if none exists, returning
// the (possibly pre-existing) record and whether this call created it.
func (t *TakeoverTable) Reserve(id ThreadID) (*TakeoverRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.records[id]; ok {
		return existing, false
	}
	r := &TakeoverRecord{ThreadID: id, SentinelPayload: sentinelReserved}
	t.records[id] = r
	return r, true
}

// Insert installs rec for id, replacing any placeholder.
func (t *TakeoverTable) Insert(id ThreadID, rec *TakeoverRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[id] = rec
}

// Remove deletes the record for id, if any.
func (t *TakeoverTable) Remove(id ThreadID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, id)
}

// Range calls fn for every record currently in the table. fn must not
// call back into the table (Range holds the read lock for its
// duration). Returning false from fn stops iteration early.
func (t *TakeoverTable) Range(fn func(id ThreadID, rec *TakeoverRecord) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for id, rec := range t.records {
		if !fn(id, rec) {
			return
		}
	}
}

// Len reports the number of entries currently in the table (placeholders
// included).
func (t *TakeoverTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}
