package addrspace

import (
	stdelf "debug/elf"

	goelf "github.com/msft-mirror-aosp/platform.system.unwinding/elf"
	"github.com/msft-mirror-aosp/platform.system.unwinding/errkind"
	"github.com/msft-mirror-aosp/platform.system.unwinding/memory"
)

// resolveElf implements MapInfo::CreateMemory's decision tree: prefer
// the backing file, try the previous read-only map when this map is
// an offset slice of a larger ELF, and fall back to process memory
// for anonymous or unresolvable mappings.
func (mp *Maps) resolveElf(m *MapInfo) (*goelf.File, error) {
	if m.End <= m.Start {
		return nil, errkind.New(errkind.InvalidMap)
	}
	if m.Flags&FlagDevice != 0 {
		return nil, errkind.New(errkind.InvalidMap)
	}

	if m.Name != "" {
		if f, err := mp.resolveFromFile(m); err == nil {
			return f, nil
		}
	}

	if mp.processMemory == nil {
		return nil, errkind.New(errkind.InvalidMap)
	}
	m.memoryBacked = true

	view := memory.NewRange(mp.processMemory, m.Start, m.End-m.Start, 0)
	if f, err := mp.openElf(view); err == nil {
		return f, nil
	}

	if m.Offset == 0 || m.prevReal == nil || m.prevReal.Name != m.Name || m.prevReal.Offset >= m.Offset {
		m.memoryBacked = false
		return nil, errkind.New(errkind.InvalidMap)
	}
	m.elfOffset = m.Offset - m.prevReal.Offset
	return mp.openElf(memory.NewRange(mp.processMemory, m.prevReal.Start, m.End-m.prevReal.Start, 0))
}

// resolveFromFile tries, in order: the ELF embedded at this map's own
// file offset; the whole file as an ELF (offset forced to 0); and the
// previous read-only map stretching across this one (the common
// r-- + r-x split-segment layout for position-independent
// executables).
func (mp *Maps) resolveFromFile(m *MapInfo) (*goelf.File, error) {
	mapSize := m.End - m.Start

	if m.Offset == 0 {
		fm, err := memory.NewFileAtOffset(m.Name, 0, 0)
		if err != nil {
			return nil, err
		}
		return mp.openElf(fm)
	}

	fm, err := memory.NewFileAtOffset(m.Name, m.Offset, mapSize)
	if err == nil {
		if f, ferr := mp.openElf(fm); ferr == nil {
			m.elfStartOff = m.Offset
			return f, nil
		}
	}

	whole, err := memory.NewFileAtOffset(m.Name, 0, 0)
	if err == nil {
		if f, ferr := mp.openElf(whole); ferr == nil {
			m.elfOffset = m.Offset
			if m.prevReal == nil || m.prevReal.Offset != 0 || m.prevReal.Flags != FlagRead || m.prevReal.Name != m.Name {
				m.elfStartOff = m.Offset
			}
			return f, nil
		}
	}

	return mp.resolveFromPreviousReadOnlyMap(m)
}

// resolveFromPreviousReadOnlyMap handles the dynamic linker's
// rosegment layout: a preceding PROT_READ-only map of the same file
// holds the real start of the ELF, and this map is a later slice of
// it.
func (mp *Maps) resolveFromPreviousReadOnlyMap(m *MapInfo) (*goelf.File, error) {
	if m.prevReal == nil || m.prevReal.Flags != FlagRead {
		return nil, errkind.New(errkind.InvalidMap)
	}
	mapSize := m.End - m.prevReal.Start
	fm, err := memory.NewFileAtOffset(m.Name, m.prevReal.Offset, mapSize)
	if err != nil {
		return nil, err
	}
	f, err := mp.openElf(fm)
	if err != nil {
		return nil, err
	}
	m.elfOffset = m.Offset - m.prevReal.Offset
	m.elfStartOff = m.prevReal.Offset
	return f, nil
}

// readerAt is satisfied by both *memory.FileAtOffset (via the
// adapter) and *memory.Range.
func (mp *Maps) openElf(r memory.Reader) (*goelf.File, error) {
	f, err := goelf.Open(memory.ReaderAtAdapter{R: r})
	if err != nil {
		return nil, err
	}
	if mp.codec != nil {
		_ = goelf.ParseGNUDebugData(f, memory.ReaderAtAdapter{R: r}, mp.codec)
	}
	return f, nil
}

// computeLoadBias is the offset added to a file vaddr to reach the
// mapped runtime address: the mapping's start, minus this map's own
// offset into the whole ELF (zero unless a previous read-only map or
// an embedding file holds the real ELF start), minus the ELF's first
// PT_LOAD segment vaddr.
//
// elfOffset must be subtracted here: it is how far into the ELF's
// file-offset space this particular mapping begins, so the runtime
// addresses it contributes already sit elfOffset bytes further along
// than m.Start - firstLoadVaddr(m) alone would predict. Getting the
// sign wrong is invisible for a whole-file, non-split mapping (where
// elfOffset is always 0) and only shows up once a map is split across
// a preceding read-only segment or embedded at a nonzero file offset.
func computeLoadBias(m *MapInfo) uint64 {
	return m.Start - m.elfOffset - firstLoadVaddr(m)
}

func firstLoadVaddr(m *MapInfo) uint64 {
	if m.elf == nil {
		return 0
	}
	for _, seg := range m.elf.Segments {
		if seg.Type == stdelf.PT_LOAD {
			return seg.Vaddr
		}
	}
	return 0
}
