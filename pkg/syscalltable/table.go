// Package syscalltable holds the per-KernelVersion syscall-ordinal tables
// (data model §3: "Syscall table"). A table is created once at startup by
// osident and is read-only thereafter; the "unknown-future" table is the
// single exception, built by copying the most recent known table before
// first use and then never mutated again either.
package syscalltable

import "github.com/fennimore/dbicore/pkg/abi/win"

// Table is a dense array of syscall numbers indexed by win.SyscallName.
// Entries for syscalls a given kernel doesn't have are win.MissingSyscall.
type Table [win.NumSyscallNames]uint32

// Number returns the syscall number for name, and false if this table has
// no entry for it (spec.md §3: "Missing entries are marked with a sentinel
// and cause a clean failure at use time").
func (t *Table) Number(name win.SyscallName) (uint32, bool) {
	if int(name) < 0 || int(name) >= len(t) {
		return 0, false
	}
	n := t[name]
	return n, n != win.MissingSyscall
}

// newTable returns a table with every entry set to the missing sentinel,
// the starting point every per-version table literal below overrides.
func newTable() Table {
	var t Table
	for i := range t {
		t[i] = win.MissingSyscall
	}
	return t
}

// Clone returns a deep copy of t, used to seed the "unknown-future" table
// from the most recently known version (spec.md §4.3 step 4).
func (t Table) Clone() Table {
	var out Table
	copy(out[:], t[:])
	return out
}

// byVersion is the registry of known tables, populated by init() in
// tables_data.go. osident.Identify consults this map and never mutates any
// entry in it once looked up (spec.md §3 invariant).
var byVersion = map[win.KernelVersion]Table{}

// Lookup returns the known table for v, or false if v has no known table
// (osident then falls back to the unknown-future path).
func Lookup(v win.KernelVersion) (Table, bool) {
	t, ok := byVersion[v]
	return t, ok
}

// Latest returns the table for the newest KernelVersion this build knows
// about, used to seed KernelUnknownFuture.
func Latest() (win.KernelVersion, Table) {
	best := win.KernelUnknown
	for v := range byVersion {
		if v > best && v != win.KernelUnknownFuture {
			best = v
		}
	}
	return best, byVersion[best]
}
