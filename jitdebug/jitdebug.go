// Package jitdebug implements the GDB/JIT Compilation Interface
// (https://sourceware.org/gdb/onlinedocs/gdb/JIT-Interface.html) walk
// that libunwindstack uses to name frames whose code was produced at
// runtime: ART JIT-compiled methods published as in-memory ELFs, and
// DEX bytecode symbolized through a caller-supplied ART capability.
package jitdebug

import (
	"encoding/binary"
	"sync"

	"github.com/msft-mirror-aosp/platform.system.unwinding/addrspace"
	"github.com/msft-mirror-aosp/platform.system.unwinding/arch"
	"github.com/msft-mirror-aosp/platform.system.unwinding/elf"
	"github.com/msft-mirror-aosp/platform.system.unwinding/memory"
)

// Symfile is the common capability a catalog entry exposes once
// loaded, satisfied by both an in-memory *elf.File (JIT-compiled
// methods) and a *DexFile (interpreted methods).
type Symfile interface {
	IsValidPC(pc uint64) bool
	FunctionName(pc uint64) (name string, offset uint64, ok bool)
}

// elfSymfile adapts *elf.File's vaddr-based methods (which expect a
// bias-adjusted file address) to the Symfile interface's runtime
// address, using the ELF's own load bias (zero for a freestanding
// JIT blob parsed at its symfile_addr with no relocation).
type elfSymfile struct{ f *elf.File }

func (e elfSymfile) IsValidPC(pc uint64) bool { return e.f.IsValidPC(pc - e.f.GetLoadBias()) }
func (e elfSymfile) FunctionName(pc uint64) (string, uint64, bool) {
	return e.f.GetFunctionName(pc - e.f.GetLoadBias())
}

// Catalog walks one versioned GDB/JIT descriptor variable in the
// target and maintains the list of symbol files it has published.
// One catalog instance is used for the ELF/JIT
// descriptor ("__jit_debug_descriptor") and a second, separately
// constructed instance for the DEX descriptor
// ("__dex_debug_descriptor"), sharing this same walk logic — the
// source's GlobalDebugImpl is templated on the symfile kind, and Go
// achieves the same generality via the Symfile interface plus a
// pluggable Loader.
type Catalog struct {
	mem          memory.Reader
	variableName string
	searchLibs   []string
	layout       layout
	loader       Loader

	mu          sync.Mutex
	initialized bool
	entryAddr   uint64
	entries     []Symfile
}

// Loader constructs a Symfile from a target memory range
// [addr, addr+size). Returning an error halts that position in the
// walk (the caller skips the entry) but does not abort the whole
// list, matching the source's "a failed construction is skipped"
// behavior — except for a zeroed symfile_addr, which the walk loop
// itself treats as end-of-list.
type Loader func(r memory.Reader, addr, size uint64) (Symfile, error)

// NewCatalog builds a catalog that reads descriptor fields for arch a
// and looks up variableName (typically "__jit_debug_descriptor" or
// "__dex_debug_descriptor") across searchLibs (all mappings, if
// empty) when first asked to resolve a pc.
func NewCatalog(mem memory.Reader, a arch.Name, variableName string, searchLibs []string, loader Loader) *Catalog {
	return &Catalog{
		mem:          mem,
		variableName: variableName,
		searchLibs:   searchLibs,
		layout:       layoutFor(a),
		loader:       loader,
	}
}

// NewELFCatalog is NewCatalog specialized to load ART-published JIT
// ELF blobs: each entry's [symfile_addr, symfile_addr+symfile_size)
// range is wrapped in a memory.Range and parsed as a standalone ELF.
func NewELFCatalog(mem memory.Reader, a arch.Name, searchLibs []string) *Catalog {
	return NewCatalog(mem, a, "__jit_debug_descriptor", searchLibs, loadELFEntry)
}

func loadELFEntry(r memory.Reader, addr, size uint64) (Symfile, error) {
	view := memory.NewRange(r, addr, size, 0)
	f, err := elf.Open(memory.ReaderAtAdapter{R: view})
	if err != nil {
		return nil, err
	}
	if !f.Validate() {
		return nil, &invalidSymfileError{}
	}
	return elfSymfile{f: f}, nil
}

type invalidSymfileError struct{}

func (*invalidSymfileError) Error() string { return "jitdebug: published symfile failed to parse" }

// readDescriptor reads the versioned descriptor at addr and returns
// the head of its entry list, or 0 if the version is unrecognized or
// the list is empty.
func (c *Catalog) readDescriptor(addr uint64) uint64 {
	buf := make([]byte, c.layout.descriptorSize)
	if err := memory.ReadFully(c.mem, buf, addr); err != nil {
		return 0
	}
	version := binary.LittleEndian.Uint32(buf[0:4])
	if version != 1 {
		return 0
	}
	firstEntry := readUintPtr(buf[8+c.layout.ptrSize:], c.layout.ptrSize)
	return firstEntry
}

// readEntry reads the JITCodeEntry at addr, returning its symfile
// range and the address of the next entry (0 at the list's end).
func (c *Catalog) readEntry(addr uint64) (start, size, next uint64) {
	buf := make([]byte, c.layout.entrySize)
	if err := memory.ReadFully(c.mem, buf, addr); err != nil {
		return 0, 0, 0
	}
	next = readUintPtr(buf[0:c.layout.ptrSize], c.layout.ptrSize)
	start = readUintPtr(buf[c.layout.symfileOff:], c.layout.ptrSize)
	size = binary.LittleEndian.Uint64(buf[c.layout.sizeOff : c.layout.sizeOff+8])
	return start, size, next
}

func readUintPtr(buf []byte, ptrSize int) uint64 {
	if ptrSize == 4 {
		return uint64(binary.LittleEndian.Uint32(buf[:4]))
	}
	return binary.LittleEndian.Uint64(buf[:8])
}

// init resolves the descriptor variable's address across maps and
// primes entryAddr from it. Like the source, a failed or already
// attempted init is never retried — initialized is set first.
func (c *Catalog) init(maps *addrspace.Maps) {
	c.initialized = true

	addr, ok := c.findVariable(maps)
	if !ok {
		return
	}
	c.entryAddr = c.readDescriptor(addr)
}

func (c *Catalog) findVariable(maps *addrspace.Maps) (uint64, bool) {
	for _, m := range maps.Entries() {
		if len(c.searchLibs) > 0 && !containsSuffix(c.searchLibs, m.Name) {
			continue
		}
		f, err := maps.Elf(m)
		if err != nil || f == nil {
			continue
		}
		off, ok := f.GetGlobalVariableOffset(c.variableName)
		if !ok {
			continue
		}
		return off + f.GetLoadBias(), true
	}
	return 0, false
}

func containsSuffix(libs []string, name string) bool {
	for _, lib := range libs {
		if len(name) >= len(lib) && name[len(name)-len(lib):] == lib {
			return true
		}
	}
	return false
}

// ForEachSymfile loads and visits every published entry, stopping
// early (and returning true) the first time visit does. Previously
// loaded entries are revisited first, in order, before the walk
// resumes from entryAddr.
func (c *Catalog) ForEachSymfile(maps *addrspace.Maps, visit func(Symfile) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		c.init(maps)
	}

	for _, s := range c.entries {
		if visit(s) {
			return true
		}
	}

	for c.entryAddr != 0 {
		start, size, next := c.readEntry(c.entryAddr)
		c.entryAddr = next
		if start == 0 {
			// A zeroed symfile_addr means the descriptor is corrupt;
			// the source halts the walk rather than skip forward.
			c.entryAddr = 0
			return false
		}

		sym, err := c.loader(c.mem, start, size)
		if err != nil {
			continue
		}
		c.entries = append(c.entries, sym)
		if visit(sym) {
			return true
		}
	}
	return false
}

// Find returns the loaded symfile covering pc, loading new entries
// from the target's descriptor list as needed.
func (c *Catalog) Find(maps *addrspace.Maps, pc uint64) Symfile {
	var result Symfile
	c.ForEachSymfile(maps, func(s Symfile) bool {
		if s.IsValidPC(pc) {
			result = s
			return true
		}
		return false
	})
	return result
}

// GetFunctionName names pc via whichever loaded symfile claims it.
func (c *Catalog) GetFunctionName(maps *addrspace.Maps, pc uint64) (name string, offset uint64, ok bool) {
	c.ForEachSymfile(maps, func(s Symfile) bool {
		n, o, found := s.FunctionName(pc)
		if found {
			name, offset, ok = n, o, true
		}
		return found
	})
	return
}
