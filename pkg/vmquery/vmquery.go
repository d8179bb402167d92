// Package vmquery implements component B: answering "what is at this
// address?" by walking the kernel's region descriptors, with a
// backward-scan heuristic that avoids pathological forward walks across
// regions built from thousands of subregions (spec.md §4.2).
package vmquery

import (
	"errors"

	"github.com/fennimore/dbicore/pkg/abi/win"
	"github.com/fennimore/dbicore/pkg/hostarch"
)

// errNotQueryable is returned when the kernel rejects the very first
// probe of a walk outright (e.g. a kernel-space address).
var errNotQueryable = errors.New("vmquery: address not queryable")

// RegionKind is the runtime-visible classification of a queried region
// (spec.md §3 "Memory-info summary").
type RegionKind int

const (
	KindFree RegionKind = iota
	KindReserved
	KindImage
	KindData
	KindError
	KindKernelError
)

func (k RegionKind) String() string {
	switch k {
	case KindFree:
		return "free"
	case KindReserved:
		return "reserved"
	case KindImage:
		return "image"
	case KindData:
		return "data"
	case KindError:
		return "error"
	case KindKernelError:
		return "win-kernel-error"
	default:
		return "unknown"
	}
}

// MemInfo is the runtime-visible form VMQuery produces: base, size, an
// abstract permission set, and a kind (spec.md §3).
type MemInfo struct {
	Base hostarch.Addr
	Size uint64
	Prot win.Protect
	Kind RegionKind
}

// maxBackwardHalvings bounds the backward scan in Query (spec.md §4.2
// step 3: "fourteen halvings").
const maxBackwardHalvings = 14

// maxForwardSteps bounds the forward scan in Query (spec.md §4.2 step 5:
// "on the order of 2^19").
const maxForwardSteps = 1 << 19

// Prober is the raw kernel query the Windows back-end implements
// (VirtualQueryEx). Abstracted so Query's scan algorithm is testable
// without a live process.
type Prober interface {
	// Probe performs a single raw kernel region query at addr, returning
	// the descriptor and whether the query succeeded. ok == false with
	// kernelAddr == true means the kernel rejected addr outright (an
	// address outside user space); ok == false with kernelAddr == false
	// means a transient/unexpected failure.
	Probe(addr hostarch.Addr) (desc win.RegionDescriptor, ok bool, kernelAddr bool)
}

func regionKind(d win.RegionDescriptor) RegionKind {
	switch {
	case d.State == win.StateFree:
		return KindFree
	case d.State == win.StateReserve:
		return KindReserved
	case d.Type == win.TypeImage:
		return KindImage
	default:
		return KindData
	}
}

func toMemInfo(d win.RegionDescriptor) MemInfo {
	return MemInfo{
		Base: hostarch.Addr(d.BaseAddress),
		Size: d.RegionSize,
		Prot: d.Protect,
		Kind: regionKind(d),
	}
}

// Query answers "what is at addr", per spec.md §4.2.
//
// When getRealBase is false it returns immediately with base =
// page_start(addr) (step 2): cheap, but the reported size/base may not
// reflect the true allocation-spanning region.
//
// When getRealBase is true it additionally walks backward by
// exponentially increasing page offsets (step 3, capped at
// maxBackwardHalvings) to find a point outside the current allocation,
// then forward from there (step 4) until it re-crosses addr's subregion,
// capped at maxForwardSteps (step 5). curious is set if the forward cap
// was hit — callers should log a curiosity warning, never infinite-loop.
func Query(p Prober, addr hostarch.Addr, getRealBase bool) (info MemInfo, curious bool, err error) {
	pageStart := addr.RoundDown()
	d, ok, kernelAddr := p.Probe(pageStart)
	if !ok {
		if kernelAddr {
			return MemInfo{Base: pageStart, Kind: KindKernelError}, false, nil
		}
		return MemInfo{Base: pageStart, Kind: KindError}, false, nil
	}
	if !getRealBase {
		return MemInfo{
			Base: pageStart,
			Size: uint64(hostarch.PageSize),
			Prot: d.Protect,
			Kind: regionKind(d),
		}, false, nil
	}

	allocBase := hostarch.Addr(d.AllocationBase)
	scanStart := pageStart
	offset := uint64(hostarch.PageSize)
	for i := 0; i < maxBackwardHalvings; i++ {
		if uint64(scanStart) < offset {
			// Going further back would underflow the address space;
			// keep the last known-good backward point instead of
			// jumping to an unmapped address near zero.
			break
		}
		candidate := scanStart - hostarch.Addr(offset)
		cd, cok, _ := p.Probe(candidate)
		if !cok {
			break
		}
		if cd.State == win.StateFree || hostarch.Addr(cd.AllocationBase) != allocBase {
			break
		}
		scanStart = candidate
		offset *= 2
	}

	var last win.RegionDescriptor
	cursor := scanStart
	for i := 0; i < maxForwardSteps; i++ {
		cd, cok, _ := p.Probe(cursor)
		if !cok {
			break
		}
		last = cd
		end := hostarch.Addr(cd.BaseAddress) + hostarch.Addr(cd.RegionSize)
		if hostarch.Addr(cd.BaseAddress) <= addr && addr < end {
			return toMemInfo(cd), false, nil
		}
		if cd.RegionSize == 0 || end <= cursor {
			// Never infinite-loop on a zero-size or non-advancing region.
			break
		}
		cursor = end
		if i == maxForwardSteps-1 {
			curious = true
		}
	}
	return toMemInfo(last), curious, nil
}

// AllocationSize performs the forward-only walk of spec.md §4.2
// allocation_size: starting at the allocation base containing addr,
// sum region sizes until the allocation base changes.
func AllocationSize(p Prober, addr hostarch.Addr) (base hostarch.Addr, size uint64, err error) {
	d, ok, _ := p.Probe(addr.RoundDown())
	if !ok {
		return 0, 0, errNotQueryable
	}
	allocBase := hostarch.Addr(d.AllocationBase)
	cursor := allocBase
	var total uint64
	for i := 0; i < maxForwardSteps; i++ {
		cd, cok, _ := p.Probe(cursor)
		if !cok {
			break
		}
		if hostarch.Addr(cd.AllocationBase) != allocBase {
			break
		}
		total += cd.RegionSize
		next := hostarch.Addr(cd.BaseAddress) + hostarch.Addr(cd.RegionSize)
		if next <= cursor {
			break
		}
		cursor = next
	}
	return allocBase, total, nil
}

// FindFreeInRange walks forward from low in allocation-granularity steps
// looking for the first free region of at least size bytes (spec.md
// §4.2 find_free_in_range). Never returns the null page.
func FindFreeInRange(p Prober, low, high hostarch.Addr, size uint64) (foundStart, foundEnd hostarch.Addr, found bool) {
	cursor := low.RoundDownGranule()
	if cursor == 0 {
		cursor = hostarch.Addr(hostarch.AllocationGranularity)
	}
	for cursor < high {
		d, ok, _ := p.Probe(cursor)
		if !ok {
			break
		}
		if d.State != win.StateFree {
			next := hostarch.Addr(d.BaseAddress) + hostarch.Addr(d.RegionSize)
			if next <= cursor {
				break
			}
			cursor = next.RoundUpGranule()
			continue
		}
		regionEnd := hostarch.Addr(d.BaseAddress) + hostarch.Addr(d.RegionSize)
		if regionEnd > high {
			regionEnd = high
		}
		if uint64(regionEnd-cursor) >= size {
			return cursor, cursor + hostarch.Addr(size), true
		}
		next := regionEnd.RoundUpGranule()
		if next <= cursor {
			break
		}
		cursor = next
	}
	return 0, 0, false
}

// IsReadableWithoutFault traverses [addr, addr+len) checking that every
// page is committed, readable, and not a guard page (spec.md §4.2
// is_readable_without_fault). Race-prone by definition: a concurrent
// protection change between the check and use is possible. Callers
// needing a correctness guarantee must use pkg/safemem instead.
func IsReadableWithoutFault(p Prober, addr hostarch.Addr, length uint64) bool {
	end, ok := addr.AddLength(length)
	if !ok {
		return false
	}
	cursor := addr.RoundDown()
	for cursor < end {
		d, ok, _ := p.Probe(cursor)
		if !ok {
			return false
		}
		if d.State != win.StateCommit {
			return false
		}
		if d.Protect&(win.ProtReadOnly|win.ProtReadWrite|win.ProtWriteCopy|win.ProtExecuteRead|win.ProtExecuteReadWrite|win.ProtExecuteWriteCopy) == 0 {
			return false
		}
		if d.Protect&win.ProtGuardModifier != 0 {
			return false
		}
		regionEnd := hostarch.Addr(d.BaseAddress) + hostarch.Addr(d.RegionSize)
		if regionEnd <= cursor {
			return false
		}
		cursor = regionEnd
	}
	return true
}

// Regions walks the full address space from zero and returns every region
// the kernel reports, in ascending order. Unlike Query it probes exactly
// once per region rather than running the backward/forward scan heuristic,
// since a single raw probe already reports that region's true base and
// size. Used by cmd/dbictl's inspection subcommand, which needs a full
// map rather than an answer about one address.
func Regions(p Prober) []MemInfo {
	var out []MemInfo
	addr := hostarch.Addr(0)
	for {
		d, ok, kernelAddr := p.Probe(addr)
		if !ok {
			if kernelAddr {
				break
			}
			if addr+hostarch.Addr(hostarch.PageSize) <= addr {
				break
			}
			addr += hostarch.Addr(hostarch.PageSize)
			continue
		}
		info := toMemInfo(d)
		out = append(out, info)
		next := info.Base + hostarch.Addr(info.Size)
		if next <= addr {
			break
		}
		addr = next
	}
	return out
}
