package vmquery

import (
	"sync"

	"github.com/google/btree"

	"github.com/fennimore/dbicore/pkg/hostarch"
)

// edgeItem is a btree.Item wrapping a single known allocation-base
// boundary, ordered by address.
type edgeItem hostarch.Addr

func (e edgeItem) Less(other btree.Item) bool {
	return e < other.(edgeItem)
}

// EdgeCache remembers the subregion bases that previous QueryCached calls
// settled on, so a repeated query into the same subregion can skip the
// full exponential backward scan. A query into a different subregion of
// the same allocation is not answered from the cache and runs the full
// scan. Grounded on github.com/google/btree's ordered-iteration
// API, which maps directly onto "find the nearest known edge below addr".
type EdgeCache struct {
	mu   sync.Mutex
	tree *btree.BTree
}

// NewEdgeCache returns an empty cache.
func NewEdgeCache() *EdgeCache {
	return &EdgeCache{tree: btree.New(32)}
}

// Record notes that base is a known allocation-base boundary.
func (c *EdgeCache) Record(base hostarch.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tree.ReplaceOrInsert(edgeItem(base))
}

// NearestBelowOrEqual returns the largest recorded edge <= addr, if any.
func (c *EdgeCache) NearestBelowOrEqual(addr hostarch.Addr) (hostarch.Addr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var found hostarch.Addr
	ok := false
	c.tree.DescendLessOrEqual(edgeItem(addr), func(item btree.Item) bool {
		found = hostarch.Addr(item.(edgeItem))
		ok = true
		return false
	})
	return found, ok
}

// QueryCached behaves like Query, but first probes the nearest recorded
// edge at or below addr and returns that subregion directly when it
// contains addr; otherwise it runs Query. Either way it records the base
// of the subregion it settles on for future calls.
func QueryCached(p Prober, cache *EdgeCache, addr hostarch.Addr, getRealBase bool) (MemInfo, bool, error) {
	if !getRealBase || cache == nil {
		return Query(p, addr, getRealBase)
	}
	if edge, ok := cache.NearestBelowOrEqual(addr); ok {
		if d, pok, _ := p.Probe(edge); pok {
			end := hostarch.Addr(d.BaseAddress) + hostarch.Addr(d.RegionSize)
			if hostarch.Addr(d.BaseAddress) <= addr && addr < end {
				info := toMemInfo(d)
				cache.Record(info.Base)
				return info, false, nil
			}
		}
	}
	info, curious, err := Query(p, addr, getRealBase)
	if err == nil {
		cache.Record(info.Base)
	}
	return info, curious, err
}
