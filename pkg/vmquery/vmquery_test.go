package vmquery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fennimore/dbicore/pkg/abi/win"
	"github.com/fennimore/dbicore/pkg/hostarch"
)

// fakeRegion is one homogeneous subregion in a fakeProber's address space.
type fakeRegion struct {
	start, end hostarch.Addr
	allocBase  hostarch.Addr
	state      win.State
	protect    win.Protect
	typ        win.RegionType
}

type fakeProber struct {
	regions []fakeRegion
}

func (f *fakeProber) Probe(addr hostarch.Addr) (win.RegionDescriptor, bool, bool) {
	if uintptr(addr) >= 0xFFFF000000000000 {
		return win.RegionDescriptor{}, false, true
	}
	for _, r := range f.regions {
		if addr >= r.start && addr < r.end {
			return win.RegionDescriptor{
				BaseAddress:    uintptr(r.start),
				AllocationBase: uintptr(r.allocBase),
				RegionSize:     uint64(r.end - r.start),
				State:          r.state,
				Protect:        r.protect,
				Type:           r.typ,
			}, true, false
		}
	}
	return win.RegionDescriptor{}, false, false
}

func granule(n uintptr) hostarch.Addr {
	return hostarch.Addr(n * hostarch.AllocationGranularity)
}

func manySubregions(allocBase hostarch.Addr, n int, size uintptr) []fakeRegion {
	var regions []fakeRegion
	cursor := allocBase
	for i := 0; i < n; i++ {
		regions = append(regions, fakeRegion{
			start:     cursor,
			end:       cursor + hostarch.Addr(size),
			allocBase: allocBase,
			state:     win.StateCommit,
			protect:   win.ProtReadWrite,
			typ:       win.TypePrivate,
		})
		cursor += hostarch.Addr(size)
	}
	return regions
}

func TestQueryPageOnlyReturnsImmediately(t *testing.T) {
	p := &fakeProber{regions: []fakeRegion{
		{start: granule(1), end: granule(1) + hostarch.Addr(hostarch.PageSize)*4, allocBase: granule(1), state: win.StateCommit, protect: win.ProtReadOnly},
	}}
	info, curious, err := Query(p, granule(1)+hostarch.Addr(hostarch.PageSize), false)
	require.NoError(t, err)
	assert.False(t, curious)
	assert.Equal(t, uint64(hostarch.PageSize), info.Size)
	assert.Equal(t, win.ProtReadOnly, info.Prot)
}

func TestQueryFindsSubregionAcrossManySubregions(t *testing.T) {
	allocBase := granule(1)
	regions := manySubregions(allocBase, 200, hostarch.PageSize)
	p := &fakeProber{regions: regions}

	target := regions[150]
	addr := target.start + 10
	info, curious, err := Query(p, addr, true)
	require.NoError(t, err)
	assert.False(t, curious)
	assert.Equal(t, target.start, info.Base)
	assert.Equal(t, uint64(hostarch.PageSize), info.Size)
}

func TestQueryOnKernelAddressReportsKernelError(t *testing.T) {
	p := &fakeProber{}
	info, _, err := Query(p, hostarch.Addr(0xFFFF800000000000), true)
	require.NoError(t, err)
	assert.Equal(t, KindKernelError, info.Kind)
}

func TestQueryOnUnmappedAddressReportsError(t *testing.T) {
	p := &fakeProber{}
	info, _, err := Query(p, hostarch.Addr(0x1000), true)
	require.NoError(t, err)
	assert.Equal(t, KindError, info.Kind)
}

func TestAllocationSizeSumsUntilAllocationBaseChanges(t *testing.T) {
	base1 := granule(1)
	base2 := granule(2)
	regions := manySubregions(base1, 4, hostarch.PageSize)
	regions = append(regions, manySubregions(base2, 4, hostarch.PageSize)...)
	p := &fakeProber{regions: regions}

	base, size, err := AllocationSize(p, base1+10)
	require.NoError(t, err)
	assert.Equal(t, base1, base)
	assert.Equal(t, uint64(4*hostarch.PageSize), size)
}

func TestFindFreeInRangeSkipsCommittedAndReturnsFreeRange(t *testing.T) {
	p := &fakeProber{regions: []fakeRegion{
		{start: granule(1), end: granule(2), allocBase: granule(1), state: win.StateCommit},
		{start: granule(2), end: granule(5), allocBase: 0, state: win.StateFree},
	}}
	start, end, found := FindFreeInRange(p, granule(1), granule(5), hostarch.AllocationGranularity)
	require.True(t, found)
	assert.Equal(t, granule(2), start)
	assert.Equal(t, granule(2)+hostarch.Addr(hostarch.AllocationGranularity), end)
}

func TestFindFreeInRangeNeverReturnsNullPage(t *testing.T) {
	p := &fakeProber{regions: []fakeRegion{
		{start: 0, end: granule(1), allocBase: 0, state: win.StateFree},
		{start: granule(1), end: granule(3), allocBase: 0, state: win.StateFree},
	}}
	start, _, found := FindFreeInRange(p, 0, granule(3), hostarch.AllocationGranularity)
	require.True(t, found)
	assert.NotEqual(t, hostarch.Addr(0), start)
}

func TestIsReadableWithoutFaultRejectsGuardPage(t *testing.T) {
	p := &fakeProber{regions: []fakeRegion{
		{start: granule(1), end: granule(1) + hostarch.Addr(hostarch.PageSize), allocBase: granule(1), state: win.StateCommit, protect: win.ProtReadWrite | win.ProtGuardModifier},
	}}
	assert.False(t, IsReadableWithoutFault(p, granule(1), hostarch.PageSize))
}

func TestIsReadableWithoutFaultAcceptsCommittedReadable(t *testing.T) {
	p := &fakeProber{regions: []fakeRegion{
		{start: granule(1), end: granule(1) + hostarch.Addr(hostarch.PageSize), allocBase: granule(1), state: win.StateCommit, protect: win.ProtReadWrite},
	}}
	assert.True(t, IsReadableWithoutFault(p, granule(1), hostarch.PageSize))
}

func TestEdgeCacheNearestBelowOrEqual(t *testing.T) {
	c := NewEdgeCache()
	c.Record(granule(1))
	c.Record(granule(5))
	c.Record(granule(10))

	edge, ok := c.NearestBelowOrEqual(granule(7))
	require.True(t, ok)
	assert.Equal(t, granule(5), edge)

	_, ok = c.NearestBelowOrEqual(granule(0))
	// granule(0) itself was never recorded and there is nothing <= it.
	assert.False(t, ok)
}

func TestQueryCachedSkipsRescanOnHit(t *testing.T) {
	allocBase := granule(1)
	regions := manySubregions(allocBase, 50, hostarch.PageSize)
	p := &fakeProber{regions: regions}
	cache := NewEdgeCache()

	first, _, err := QueryCached(p, cache, regions[30].start+5, true)
	require.NoError(t, err)
	assert.Equal(t, regions[30].start, first.Base)

	second, _, err := QueryCached(p, cache, regions[30].start+5, true)
	require.NoError(t, err)
	assert.Equal(t, first.Base, second.Base)
}

// boundedProber is like fakeProber but reports kernelAddr as soon as addr
// passes top, matching how VirtualQueryEx rejects the first address past
// the last user-mode region rather than only at a fixed high boundary.
type boundedProber struct {
	regions []fakeRegion
	top     hostarch.Addr
}

func (b *boundedProber) Probe(addr hostarch.Addr) (win.RegionDescriptor, bool, bool) {
	if addr >= b.top {
		return win.RegionDescriptor{}, false, true
	}
	for _, r := range b.regions {
		if addr >= r.start && addr < r.end {
			return win.RegionDescriptor{
				BaseAddress:    uintptr(r.start),
				AllocationBase: uintptr(r.allocBase),
				RegionSize:     uint64(r.end - r.start),
				State:          r.state,
				Protect:        r.protect,
				Type:           r.typ,
			}, true, false
		}
	}
	return win.RegionDescriptor{}, false, false
}

func TestRegionsWalksFromZeroAndStopsAtKernelSpace(t *testing.T) {
	p := &boundedProber{
		top: hostarch.Addr(3 * hostarch.PageSize),
		regions: []fakeRegion{
			{start: 0, end: hostarch.Addr(hostarch.PageSize), allocBase: 0, state: win.StateCommit, protect: win.ProtReadWrite, typ: win.TypePrivate},
			{start: hostarch.Addr(hostarch.PageSize), end: hostarch.Addr(3 * hostarch.PageSize), allocBase: hostarch.Addr(hostarch.PageSize), state: win.StateReserve, protect: win.ProtNoAccess, typ: win.TypePrivate},
		},
	}

	regions := Regions(p)
	require.Len(t, regions, 2)
	assert.Equal(t, hostarch.Addr(0), regions[0].Base)
	assert.Equal(t, uint64(hostarch.PageSize), regions[0].Size)
	assert.Equal(t, hostarch.Addr(hostarch.PageSize), regions[1].Base)
	assert.Equal(t, uint64(2*hostarch.PageSize), regions[1].Size)
}

func TestRegionsSkipsGapsBetweenRegions(t *testing.T) {
	p := &boundedProber{
		top: hostarch.Addr(4 * hostarch.PageSize),
		regions: []fakeRegion{
			{start: 0, end: hostarch.Addr(hostarch.PageSize), allocBase: 0, state: win.StateCommit, protect: win.ProtReadWrite, typ: win.TypePrivate},
			{start: hostarch.Addr(3 * hostarch.PageSize), end: hostarch.Addr(4 * hostarch.PageSize), allocBase: hostarch.Addr(3 * hostarch.PageSize), state: win.StateCommit, protect: win.ProtReadWrite, typ: win.TypePrivate},
		},
	}

	regions := Regions(p)
	require.Len(t, regions, 2)
	assert.Equal(t, hostarch.Addr(3*hostarch.PageSize), regions[1].Base)
}
