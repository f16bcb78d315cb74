// Package symcache implements the per-module function-name cache
// keyed by exclusive end offset, and the process-wide DEX
// weak-interning table.
package symcache

import (
	"sort"
	"sync"
)

// Resolver looks up the function covering a file-relative offset,
// consulting the ELF or DEX symbolizer on a cache miss.
type Resolver func(fileOffset uint64) (start, end uint64, name string, ok bool)

type interval struct {
	start, end uint64
	name       string
}

// Cache is a single-module symbol cache: intervals are stored sorted
// by exclusive end offset so a lookup is one sort.Search away from an
// upper_bound, then an "accept if start <= pc" check. A single lock
// guards both the lookup and the symbolize-on-miss path.
type Cache struct {
	mu      sync.Mutex
	entries []interval // sorted by end
}

// Lookup returns the function name covering pc, its matched
// interval's start (so a caller can compute a method-relative
// offset), resolving and caching the interval via resolve on a miss.
// ok is false if neither the cache nor the resolver has an interval
// covering pc.
func (c *Cache) Lookup(pc uint64, resolve Resolver) (name string, start uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, found := c.find(pc); found {
		return e.name, e.start, true
	}

	start, end, name, ok := resolve(pc)
	if !ok {
		return "", 0, false
	}
	c.insert(interval{start: start, end: end, name: name})
	return name, start, true
}

func (c *Cache) find(pc uint64) (interval, bool) {
	idx := sort.Search(len(c.entries), func(i int) bool { return c.entries[i].end > pc })
	if idx == len(c.entries) {
		return interval{}, false
	}
	e := c.entries[idx]
	if e.start > pc {
		return interval{}, false
	}
	return e, true
}

// insert keeps entries sorted by end; an interval whose end equals an
// existing entry's end replaces that entry. It does not check that
// start < end or that the new interval is disjoint from the others.
func (c *Cache) insert(e interval) {
	idx := sort.Search(len(c.entries), func(i int) bool { return c.entries[i].end >= e.end })
	if idx < len(c.entries) && c.entries[idx].end == e.end {
		c.entries[idx] = e
		return
	}
	c.entries = append(c.entries, interval{})
	copy(c.entries[idx+1:], c.entries[idx:])
	c.entries[idx] = e
}
