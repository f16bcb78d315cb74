package memory

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/msft-mirror-aosp/platform.system.unwinding/errkind"
)

const (
	defaultCacheBits    = 12 // 4KiB pages
	defaultCacheEntries = 64

	// bypassThreshold: reads larger than this skip the cache entirely.
	bypassThreshold = 64
)

// Cache is a page-indexed cache over another Reader. Small reads
// (<=64 bytes) pull a whole page into an LRU slot on miss; larger
// reads bypass the cache and go straight to the underlying Reader.
type Cache struct {
	underlying Reader
	pages      *lru.Cache
	bits       uint
	size       uint64
	mask       uint64
}

// NewCache wraps underlying with the default fixed sizing: 4KiB
// pages, 64 entries.
func NewCache(underlying Reader) *Cache {
	c, err := NewCacheWithOptions(underlying, defaultCacheBits, defaultCacheEntries)
	if err != nil {
		panic(err) // defaultCacheEntries is a positive compile-time constant
	}
	return c
}

// NewCacheWithOptions wraps underlying with a page size of 1<<bits
// bytes and an LRU of at most entries pages; config.Config's
// PageCacheBits exposes the page-size knob to an embedding caller.
func NewCacheWithOptions(underlying Reader, bits uint, entries int) (*Cache, error) {
	pages, err := lru.New(entries)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidParameter, err)
	}
	size := uint64(1) << bits
	return &Cache{underlying: underlying, pages: pages, bits: bits, size: size, mask: size - 1}, nil
}

func (c *Cache) ReadMemory(dst []byte, addr uint64) (int, error) {
	if len(dst) > bypassThreshold {
		return c.underlying.ReadMemory(dst, addr)
	}

	page := addr >> c.bits
	buf, err := c.pageBuf(page)
	if err != nil {
		return c.underlying.ReadMemory(dst, addr)
	}

	off := addr & c.mask
	maxRead := c.size - off
	n := uint64(len(dst))
	if n <= maxRead {
		copy(dst, buf[off:off+n])
		return int(n), nil
	}

	copy(dst, buf[off:])
	next, err := c.pageBuf(page + 1)
	if err != nil {
		got, rerr := c.underlying.ReadMemory(dst[maxRead:], (page+1)<<c.bits)
		return int(maxRead) + got, rerr
	}
	copy(dst[maxRead:], next[:n-maxRead])
	return int(n), nil
}

func (c *Cache) pageBuf(page uint64) ([]byte, error) {
	if v, ok := c.pages.Get(page); ok {
		return v.([]byte), nil
	}
	buf := make([]byte, c.size)
	if err := ReadFully(c.underlying, buf, page<<c.bits); err != nil {
		return nil, errkind.Wrap(errkind.MemoryInvalid, err)
	}
	c.pages.Add(page, buf)
	return buf, nil
}
