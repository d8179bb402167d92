// Package vmalloc implements component C: reserve/commit/decommit/free
// and protection-change operations over a target process's address
// space, plus the failure taxonomy spec.md §4.5 requires (out_of_memory,
// cant_reserve_in_region, invalid).
package vmalloc

import (
	"errors"
	"sync"

	"github.com/cenkalti/backoff"

	"github.com/fennimore/dbicore/pkg/abi/win"
	"github.com/fennimore/dbicore/pkg/hostarch"
	"github.com/fennimore/dbicore/pkg/vmquery"
)

// Failure taxonomy (spec.md §4.5).
var (
	ErrOutOfMemory        = errors.New("vmalloc: out of memory")
	ErrCantReserveInRegion = errors.New("vmalloc: no free hole of the requested size in the allowed window")
	ErrInvalid            = errors.New("vmalloc: invalid address, size, or protection value")
)

// ProtKind is the abstract permission set set_protection and raw_alloc
// accept, translated to a native win.Protect value per the table in
// spec.md §4.5.
type ProtKind int

const (
	ProtNoAccess ProtKind = iota
	ProtR
	ProtRW
	ProtRX
	ProtRWX
)

// SetMode selects how set_protection combines new_prot with each
// subregion's existing qualifiers (spec.md §4.5).
type SetMode int

const (
	// ModeAbsolute replaces the protection outright.
	ModeAbsolute SetMode = iota
	// ModeMakeWritable adds write access, preserving an existing COW bit.
	ModeMakeWritable
	// ModeMakeUnwritable removes write access.
	ModeMakeUnwritable
	// ModeMakeWritableCow adds write access and forces the COW bit on.
	ModeMakeWritableCow
)

// Flags controls which phases raw_alloc performs.
type Flags int

const (
	FlagReserve Flags = 1 << iota
	FlagCommit
)

// toNative translates an abstract ProtKind (optionally with the COW bit)
// to the native win.Protect value, per the table in spec.md §4.5.
func toNative(kind ProtKind, cow bool) win.Protect {
	var base win.Protect
	switch kind {
	case ProtNoAccess:
		return win.ProtNoAccess
	case ProtR:
		base = win.ProtReadOnly
	case ProtRW:
		if cow {
			return win.ProtWriteCopy
		}
		base = win.ProtReadWrite
	case ProtRX:
		base = win.ProtExecuteRead
	case ProtRWX:
		if cow {
			return win.ProtExecuteWriteCopy
		}
		base = win.ProtExecuteReadWrite
	default:
		return win.ProtNoAccess
	}
	return base
}

// fromNative classifies a native protection value back to (kind, cow),
// so set_protection can preserve qualifiers it wasn't asked to change.
func fromNative(p win.Protect) (kind ProtKind, cow bool) {
	mask := p &^ (win.ProtGuardModifier | win.ProtNoCacheModifier | win.ProtWriteCombine)
	switch mask {
	case win.ProtNoAccess:
		return ProtNoAccess, false
	case win.ProtReadOnly:
		return ProtR, false
	case win.ProtReadWrite:
		return ProtRW, false
	case win.ProtWriteCopy:
		return ProtRW, true
	case win.ProtExecute, win.ProtExecuteRead:
		return ProtRX, false
	case win.ProtExecuteReadWrite:
		return ProtRWX, false
	case win.ProtExecuteWriteCopy:
		return ProtRWX, true
	default:
		return ProtNoAccess, false
	}
}

// applyMode computes the new native protection for one existing
// subregion's protection, applying mode and newKind while preserving
// the guard/no-cache qualifier bits (spec.md §4.5).
func applyMode(existing win.Protect, mode SetMode, newKind ProtKind) win.Protect {
	qualifiers := existing & (win.ProtGuardModifier | win.ProtNoCacheModifier | win.ProtWriteCombine)
	_, existingCow := fromNative(existing)

	var result win.Protect
	switch mode {
	case ModeAbsolute:
		cow := existingCow && (newKind == ProtRW || newKind == ProtRWX)
		result = toNative(newKind, cow)
	case ModeMakeWritable:
		k, _ := fromNative(existing)
		if k == ProtRX {
			k = ProtRWX
		} else if k != ProtRW && k != ProtRWX {
			k = ProtRW
		}
		result = toNative(k, existingCow)
	case ModeMakeUnwritable:
		switch k, _ := fromNative(existing); k {
		case ProtRX, ProtRWX:
			result = win.ProtExecuteRead
		case ProtNoAccess:
			result = win.ProtNoAccess
		default:
			result = win.ProtReadOnly
		}
	case ModeMakeWritableCow:
		k, _ := fromNative(existing)
		if k == ProtRX {
			k = ProtRWX
		} else if k != ProtRW && k != ProtRWX {
			k = ProtRW
		}
		result = toNative(k, true)
	default:
		result = existing
	}
	return result | qualifiers
}

// NativeOps is the raw syscall surface the Windows back-end implements
// (NtAllocateVirtualMemory / NtFreeVirtualMemory / NtProtectVirtualMemory).
// Abstracted so the retry/translation logic above is testable without a
// live process.
type NativeOps interface {
	Alloc(process hostarch.Addr, preferred hostarch.Addr, size uint64, commit bool, prot win.Protect) (hostarch.Addr, error)
	Free(process hostarch.Addr, addr hostarch.Addr, size uint64, release bool) error
	Protect(process hostarch.Addr, addr hostarch.Addr, size uint64, newProt win.Protect) (oldProt win.Protect, err error)
}

// Allocator implements component C against one target process.
type Allocator struct {
	Process hostarch.Addr
	Ops     NativeOps
	Prober  vmquery.Prober

	edgeCacheOnce sync.Once
	edgeCache     *vmquery.EdgeCache
}

// cache lazily builds the subregion-base edge cache SetProtection's walk
// queries through. It spares the full backward scan only on a repeat
// query into a subregion already seen; each new subregion still scans.
func (a *Allocator) cache() *vmquery.EdgeCache {
	a.edgeCacheOnce.Do(func() { a.edgeCache = vmquery.NewEdgeCache() })
	return a.edgeCache
}

// Reserve reserves size bytes, preferring the address preferred (0 means
// "let the kernel choose").
func (a *Allocator) Reserve(preferred hostarch.Addr, size uint64) (hostarch.Addr, error) {
	addr, err := a.Ops.Alloc(a.Process, preferred, size, false, win.ProtNoAccess)
	if err != nil {
		return 0, classifyAllocErr(err)
	}
	return addr, nil
}

// ReserveInRange loops find_free_in_range + Reserve, retrying up to a
// small maximum on races with other allocators (spec.md §4.5).
func (a *Allocator) ReserveInRange(low, high hostarch.Addr, size uint64) (hostarch.Addr, error) {
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)

	var result hostarch.Addr
	op := func() error {
		start, _, found := vmquery.FindFreeInRange(a.Prober, low, high, size)
		if !found {
			return backoff.Permanent(ErrCantReserveInRegion)
		}
		addr, err := a.Ops.Alloc(a.Process, start, size, false, win.ProtNoAccess)
		if err != nil {
			// Another allocator may have raced us for the hole; retry.
			return err
		}
		result = addr
		return nil
	}
	if err := backoff.Retry(op, b); err != nil {
		if err == ErrCantReserveInRegion {
			return 0, ErrCantReserveInRegion
		}
		return 0, classifyAllocErr(err)
	}
	return result, nil
}

// Commit commits [addr, addr+size) with the given protection.
func (a *Allocator) Commit(addr hostarch.Addr, size uint64, kind ProtKind) error {
	_, err := a.Ops.Alloc(a.Process, addr, size, true, toNative(kind, false))
	if err != nil {
		return classifyAllocErr(err)
	}
	return nil
}

// Decommit decommits [addr, addr+size) without releasing the reservation.
func (a *Allocator) Decommit(addr hostarch.Addr, size uint64) error {
	if err := a.Ops.Free(a.Process, addr, size, false); err != nil {
		return classifyAllocErr(err)
	}
	return nil
}

// Free releases the allocation starting at addr.
func (a *Allocator) Free(addr hostarch.Addr) error {
	if err := a.Ops.Free(a.Process, addr, 0, true); err != nil {
		return classifyAllocErr(err)
	}
	return nil
}

// RawAlloc reserves, or commits when flags include FlagCommit (spec.md
// §4.5 raw_alloc). FlagReserve is not consulted: whether a commit also
// reserves is left to NativeOps, which for NtOps means reserve+commit
// when preferred is 0 and commit-only into an existing reservation
// otherwise.
func (a *Allocator) RawAlloc(preferred hostarch.Addr, size uint64, kind ProtKind, flags Flags) (hostarch.Addr, error) {
	commit := flags&FlagCommit != 0
	prot := win.ProtNoAccess
	if commit {
		prot = toNative(kind, false)
	}
	addr, err := a.Ops.Alloc(a.Process, preferred, size, commit, prot)
	if err != nil {
		return 0, classifyAllocErr(err)
	}
	return addr, nil
}

// SetProtection walks every OS subregion overlapping [addr, addr+size),
// applying mode+newKind to each while preserving unrelated qualifier
// bits, per the translation table in spec.md §4.5.
func (a *Allocator) SetProtection(addr hostarch.Addr, size uint64, mode SetMode, newKind ProtKind) (ok bool, didChange bool, err error) {
	end, overflowOk := addr.AddLength(size)
	if !overflowOk {
		return false, false, ErrInvalid
	}
	cache := a.cache()
	cursor := addr
	for cursor < end {
		info, _, qerr := vmquery.QueryCached(a.Prober, cache, cursor, true)
		if qerr != nil || info.Kind == vmquery.KindError || info.Kind == vmquery.KindKernelError {
			return false, didChange, ErrInvalid
		}
		regionEnd := info.Base + hostarch.Addr(info.Size)
		spanEnd := regionEnd
		if spanEnd > end {
			spanEnd = end
		}
		if info.Kind != vmquery.KindReserved {
			newProt := applyMode(info.Prot, mode, newKind)
			if newProt != info.Prot {
				if _, perr := a.Ops.Protect(a.Process, cursor, uint64(spanEnd-cursor), newProt); perr != nil {
					return false, didChange, classifyAllocErr(perr)
				}
				didChange = true
			}
		}
		if regionEnd <= cursor {
			break
		}
		cursor = regionEnd
		if cursor > end {
			cursor = end
		}
	}
	return true, didChange, nil
}

// guardProt is read-write plus the guard qualifier (spec.md §4.5
// mark_guard).
const guardProt = win.ProtReadWrite | win.ProtGuardModifier

// MarkGuard rewrites the single page at page to read-write+guard.
func (a *Allocator) MarkGuard(page hostarch.Addr) error {
	_, err := a.Ops.Protect(a.Process, page, uint64(hostarch.PageSize), guardProt)
	if err != nil {
		return classifyAllocErr(err)
	}
	return nil
}

// UnmarkGuard clears the guard bit on page, returning whether the guard
// had already fired (as reported by the old-protection value the
// kernel hands back — STATUS_GUARD_PAGE_VIOLATION having already
// cleared the bit before this call observes it).
func (a *Allocator) UnmarkGuard(page hostarch.Addr) (alreadyFired bool, err error) {
	old, perr := a.Ops.Protect(a.Process, page, uint64(hostarch.PageSize), win.ProtReadWrite)
	if perr != nil {
		return false, classifyAllocErr(perr)
	}
	return old&win.ProtGuardModifier == 0, nil
}

// FindFreeCodeInSystemDLL returns the trailing in-page padding of the
// system DLL's executable segment, for kernels that map it above the
// 32-bit-reachable range (spec.md §4.5: "the only place the runtime may
// legally allocate reach-constrained code on such kernels").
func (a *Allocator) FindFreeCodeInSystemDLL(dllImageEnd hostarch.Addr) (start, end hostarch.Addr, ok bool) {
	pageEnd := dllImageEnd.MustRoundUp()
	if pageEnd == dllImageEnd {
		return 0, 0, false
	}
	return dllImageEnd, pageEnd, true
}

// classifyAllocErr passes through errors NativeOps already classified
// into the spec.md §4.5 taxonomy (ErrOutOfMemory, ErrCantReserveInRegion,
// ErrInvalid); anything else is returned unchanged for the caller to
// wrap as it sees fit.
func classifyAllocErr(err error) error {
	return err
}
