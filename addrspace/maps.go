// Package addrspace models the target's address-space map: an
// ordered list of mappings, each lazily backed by a parsed ELF, with
// load-bias and "elf embedded in a bigger file" resolution logic.
package addrspace

import (
	"sort"
	"sync"

	"github.com/msft-mirror-aosp/platform.system.unwinding/elf"
	"github.com/msft-mirror-aosp/platform.system.unwinding/errkind"
	"github.com/msft-mirror-aosp/platform.system.unwinding/memory"
)

// MapFlags mirrors the mmap PROT_* bits plus a device-map marker, as
// read off /proc/pid/maps or an offline maps.txt snapshot.
type MapFlags uint8

const (
	FlagRead MapFlags = 1 << iota
	FlagWrite
	FlagExec
	FlagDevice

	// FlagJIT marks an anonymous mapping known to hold JIT-generated
	// code (e.g. the ART JIT's executable arena), so the unwinder
	// consults the JIT/DEX catalog before falling back to any ELF
	// resolved against the mapping itself.
	FlagJIT
)

// MapInfo is one mapping in the target's address space.
type MapInfo struct {
	Start, End uint64
	Offset     uint64
	Flags      MapFlags
	Name       string

	// dev/inode are carried only for maps.txt round-tripping; nothing
	// in the unwind path reads them.
	dev   string
	inode uint64

	// prev/next are adjacency links over every entry; prevReal/nextReal
	// skip anonymous/device entries the way the retrieved source's
	// "real map" chain does, so the r--/r-x split-segment heuristics in
	// resolveMemory only ever see mappings backed by a file.
	prev, next         *MapInfo
	prevReal, nextReal *MapInfo

	elfOnce       sync.Once
	elf           *elf.File
	elfErr        error
	elfStartOff   uint64
	elfOffset     uint64
	memoryBacked  bool
}

// Cover reports whether pc falls in [Start, End).
func (m *MapInfo) Cover(pc uint64) bool { return pc >= m.Start && pc < m.End }

// ElfOffset is the delta added to pc (after subtracting Start) to
// reach the address inside the resolved ELF's own coordinate space —
// nonzero when the mapping is a slice of a larger embedded/ELF-in-APK
// file. See resolveMemory.
func (m *MapInfo) ElfOffset() uint64 { return m.elfOffset }

// Maps is a Start-ordered slice of mappings, binary searched by Find.
type Maps struct {
	entries []*MapInfo

	// processMemory backs mappings that have no on-disk file, or whose
	// file can't be resolved to a valid ELF (anonymous JIT regions,
	// deleted files, linker-relocated segments).
	processMemory memory.Reader
	codec         memory.Codec // for any .gnu_debugdata inside mapped files
}

// NewMaps builds the adjacency and "real map" chains over entries,
// which must already be sorted by Start.
func NewMaps(entries []*MapInfo, processMemory memory.Reader, codec memory.Codec) *Maps {
	m := &Maps{entries: entries, processMemory: processMemory, codec: codec}
	var prev, prevReal *MapInfo
	for _, e := range entries {
		e.prev = prev
		e.prevReal = prevReal
		prev = e
		if e.Flags&FlagDevice == 0 && e.Name != "" {
			prevReal = e
		}
	}
	var next, nextReal *MapInfo
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		e.next = next
		e.nextReal = nextReal
		next = e
		if e.Flags&FlagDevice == 0 && e.Name != "" {
			nextReal = e
		}
	}
	return m
}

// Entries returns the Start-ordered mapping list, for callers (like
// jitdebug's global-variable scan) that need to walk every mapping
// rather than look one up by address.
func (mp *Maps) Entries() []*MapInfo { return mp.entries }

// Find binary searches for the mapping covering pc.
func (mp *Maps) Find(pc uint64) (*MapInfo, error) {
	idx := sort.Search(len(mp.entries), func(i int) bool { return mp.entries[i].End > pc })
	if idx == len(mp.entries) || !mp.entries[idx].Cover(pc) {
		return nil, &errkind.Error{Kind: errkind.InvalidMap, Addr: pc, HasAddr: true}
	}
	return mp.entries[idx], nil
}

// NewResolvedMap builds a mapping whose backing ELF is already known,
// skipping the file/process-memory resolution Elf would otherwise run.
// For synthetic fixtures (golden-scenario tests, in-memory-built
// binaries) where there's no real file on disk to parse f from.
func NewResolvedMap(start, end, offset uint64, name string, flags MapFlags, f *elf.File, loadBias uint64) *MapInfo {
	m := &MapInfo{Start: start, End: end, Offset: offset, Name: name, Flags: flags}
	m.elfOnce.Do(func() {})
	m.elf = f
	if f != nil {
		f.SetLoadBias(loadBias)
	}
	return m
}

// Elf lazily resolves and caches m's backing ELF, running the
// file-vs-process-memory resolution exactly once.
func (mp *Maps) Elf(m *MapInfo) (*elf.File, error) {
	m.elfOnce.Do(func() {
		m.elf, m.elfErr = mp.resolveElf(m)
		if m.elf != nil {
			m.elf.SetLoadBias(computeLoadBias(m))
		}
	})
	return m.elf, m.elfErr
}
