package symcache

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// dexKey identifies a DEX artifact by the file it came from and the
// byte range it occupies within that file, since a single APK/JAR can
// carry several DEX entries back to back.
type dexKey struct {
	path   string
	offset uint64
	size   uint64
}

// DexTable approximates libunwindstack's process-wide weak-reference
// interning of parsed DEX files: concurrent unwinds of the same
// artifact should share one parsed representation rather than each
// reparsing it. Go has no weak references, so this is instead a
// bounded LRU — entries are reclaimed by capacity pressure rather
// than by the last unwinder dropping its reference, which is a
// conservative approximation (a busy artifact stays resident; an idle
// one is eventually evicted rather than held forever).
type DexTable struct {
	mu    sync.Mutex
	cache *lru.Cache
}

// NewDexTable builds a table capped at capacity distinct DEX
// artifacts.
func NewDexTable(capacity int) *DexTable {
	c, err := lru.New(capacity)
	if err != nil {
		c, _ = lru.New(1)
	}
	return &DexTable{cache: c}
}

// Intern returns the cached value for (path, offset, size), parsing
// it via parse on a miss and storing the result for subsequent
// callers.
func (t *DexTable) Intern(path string, offset, size uint64, parse func() (interface{}, error)) (interface{}, error) {
	key := dexKey{path: path, offset: offset, size: size}

	t.mu.Lock()
	defer t.mu.Unlock()

	if v, ok := t.cache.Get(key); ok {
		return v, nil
	}
	v, err := parse()
	if err != nil {
		return nil, fmt.Errorf("intern %s@%d+%d: %w", path, offset, size, err)
	}
	t.cache.Add(key, v)
	return v, nil
}
