package jitdebug

import (
	"github.com/msft-mirror-aosp/platform.system.unwinding/arch"
	"github.com/msft-mirror-aosp/platform.system.unwinding/memory"
	"github.com/msft-mirror-aosp/platform.system.unwinding/symcache"
)

// DexSymbolizer is the opaque ART symbolization capability: given a
// DEX artifact's raw bytes and a file-relative offset, it
// returns the covering method's name and byte extent. This package
// never parses DEX bytecode itself; it only wires the descriptor walk
// and offset caching around whatever symbolizer the caller supplies.
type DexSymbolizer interface {
	Symbolize(dex []byte, fileOffset uint64) (name string, start, end uint64, ok bool)
}

// DexFile is one DEX artifact published through the JIT/DEX
// descriptor: a base address, a byte range read from target memory
// (or, offline, from a captured file), and a per-file symbol cache
// keyed by exclusive end offset.
type DexFile struct {
	start, end uint64
	data       []byte
	symbolizer DexSymbolizer
	cache      symcache.Cache
}

// NewDexCatalog mirrors NewELFCatalog for the DEX descriptor,
// resolving the DEX weak-interning table through table so concurrent
// unwinds of the same artifact (by path/offset/size) share one
// DexFile.
func NewDexCatalog(mem memory.Reader, a arch.Name, table *symcache.DexTable, symbolizer DexSymbolizer, path string) *Catalog {
	loader := func(r memory.Reader, addr, size uint64) (Symfile, error) {
		v, err := table.Intern(path, addr, size, func() (interface{}, error) {
			return loadDexFile(r, addr, size, symbolizer)
		})
		if err != nil {
			return nil, err
		}
		return v.(*DexFile), nil
	}
	return &Catalog{mem: mem, variableName: "__dex_debug_descriptor", layout: layoutFor(a), loader: loader}
}

func loadDexFile(r memory.Reader, addr, size uint64, symbolizer DexSymbolizer) (*DexFile, error) {
	buf := make([]byte, size)
	if err := memory.ReadFully(r, buf, addr); err != nil {
		return nil, err
	}
	return &DexFile{start: addr, end: addr + size, data: buf, symbolizer: symbolizer}, nil
}

func (d *DexFile) IsValidPC(pc uint64) bool { return pc >= d.start && pc < d.end }

// FunctionName resolves pc through the per-file interval cache,
// consulting the ART symbolizer only on a miss. offset is relative to
// the matched method's own start, not the DEX artifact's base.
func (d *DexFile) FunctionName(pc uint64) (name string, offset uint64, ok bool) {
	if !d.IsValidPC(pc) {
		return "", 0, false
	}
	fileOff := pc - d.start
	n, start, found := d.cache.Lookup(fileOff, func(off uint64) (uint64, uint64, string, bool) {
		if d.symbolizer == nil {
			return 0, 0, "", false
		}
		name, start, end, ok := d.symbolizer.Symbolize(d.data, off)
		return start, end, name, ok
	})
	if !found {
		return "", 0, false
	}
	return n, fileOff - start, true
}
