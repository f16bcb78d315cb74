// Package elf reads the subset of an ELF binary the unwinder needs:
// class/machine/endianness, loadable segments, symbol tables, build
// ID, CFI sections, and (if present) the XZ-compressed
// .gnu_debugdata alt-debug ELF.
package elf

import (
	stdelf "debug/elf"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/derekparker/trie"

	"github.com/msft-mirror-aosp/platform.system.unwinding/arch"
	"github.com/msft-mirror-aosp/platform.system.unwinding/dwarf/frame"
	"github.com/msft-mirror-aosp/platform.system.unwinding/errkind"
	"github.com/msft-mirror-aosp/platform.system.unwinding/internal/logflags"
)

// LoadSegment is one PT_LOAD or PT_ARM_EXIDX program header entry.
type LoadSegment struct {
	Type   stdelf.ProgType
	Vaddr  uint64
	Memsz  uint64
	Offset uint64
	Filesz uint64
	Flags  stdelf.ProgFlag
}

// Symbol is a resolved symtab/dynsym entry, trimmed to what the
// unwinder's get_function_name / get_global_variable_offset need.
type Symbol struct {
	Name  string
	Value uint64
	Size  uint64
}

// File is a parsed, validated view over one ELF module.
type File struct {
	Class     stdelf.Class
	Machine   stdelf.Machine
	Arch      arch.Name
	ByteOrder binary.ByteOrder
	AddrSize  int

	LoadBias uint64
	BuildID  string
	SOName   string

	Segments []LoadSegment
	Symbols  []Symbol
	symIndex *trie.Trie // prefix index over Symbols, built lazily

	// CFI is tried first on a Step; DebugFrameCFI is the .debug_frame
	// fallback consulted when CFI has no FDE covering the pc (e.g. a
	// stripped or hand-patched .eh_frame that omits an entry
	// .debug_frame still carries).
	CFI           frame.FrameDescriptionEntries
	DebugFrameCFI frame.FrameDescriptionEntries
	EhFrameHdr    *frame.EhFrameHdr

	GNUDebugData *File // nested ELF built from decompressed .gnu_debugdata, or nil

	valid bool
	err   error
}

// Open parses the ELF headers, program headers, symbol tables, build
// ID, and CFI sections out of r. It never decompresses
// .gnu_debugdata itself — callers needing the fallback symbolizer
// call ParseGNUDebugData separately with an XZ memory.Codec.
func Open(r readerAt) (*File, error) {
	ef, err := stdelf.NewFile(r)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidELF, err)
	}
	defer ef.Close()

	f := &File{
		Class:   ef.Class,
		Machine: ef.Machine,
	}
	if ef.Data == stdelf.ELFDATA2LSB {
		f.ByteOrder = binary.LittleEndian
	} else {
		f.ByteOrder = binary.BigEndian
	}
	switch f.Class {
	case stdelf.ELFCLASS32:
		f.AddrSize = 4
	case stdelf.ELFCLASS64:
		f.AddrSize = 8
	default:
		return nil, errkind.New(errkind.InvalidELF)
	}

	f.Arch, err = archFromMachine(ef.Machine, f.Class)
	if err != nil {
		if logflags.ELFReader() {
			logflags.ELFReaderLogger().WithError(err).Debug("unrecognized ELF machine")
		}
		return nil, err
	}

	for _, p := range ef.Progs {
		if p.Type == stdelf.PT_LOAD || p.Type == progTypeARMExidx {
			f.Segments = append(f.Segments, LoadSegment{
				Type: p.Type, Vaddr: p.Vaddr, Memsz: p.Memsz,
				Offset: p.Off, Filesz: p.Filesz, Flags: p.Flags,
			})
		}
	}

	f.Symbols = readSymbols(ef)

	if bid, err := readBuildID(ef); err == nil {
		f.BuildID = bid
	}
	if names, err := ef.DynString(stdelf.DT_SONAME); err == nil && len(names) > 0 {
		f.SOName = names[0]
	}

	if sec := ef.Section(".eh_frame"); sec != nil {
		data, err := sec.Data()
		if err == nil {
			if cfi, perr := frame.Parse(data, f.ByteOrder, sec.Addr, f.AddrSize, true); perr == nil {
				f.CFI = cfi
			} else if logflags.ELFReader() {
				logflags.ELFReaderLogger().WithError(perr).Debug("failed to parse .eh_frame")
			}
		}
	}
	if sec := ef.Section(".debug_frame"); sec != nil {
		data, err := sec.Data()
		if err == nil {
			if cfi, perr := frame.Parse(data, f.ByteOrder, 0, f.AddrSize, false); perr == nil {
				f.DebugFrameCFI = cfi
			} else if logflags.ELFReader() {
				logflags.ELFReaderLogger().WithError(perr).Debug("failed to parse .debug_frame")
			}
		}
	}
	if sec := ef.Section(".eh_frame_hdr"); sec != nil {
		data, err := sec.Data()
		if err == nil {
			f.EhFrameHdr, _ = frame.ParseEhFrameHdr(data, f.ByteOrder, sec.Addr, f.AddrSize)
		}
	}

	f.valid = true
	return f, nil
}

type readerAt interface {
	ReadAt(p []byte, off int64) (n int, err error)
}

// progTypeARMExidx is PT_ARM_EXIDX (0x70000001); debug/elf does not
// name it since it is architecture-specific.
const progTypeARMExidx = stdelf.ProgType(0x70000001)

func archFromMachine(m stdelf.Machine, class stdelf.Class) (arch.Name, error) {
	switch m {
	case stdelf.EM_386:
		return arch.X86, nil
	case stdelf.EM_X86_64:
		return arch.X86_64, nil
	case stdelf.EM_ARM:
		return arch.ARM, nil
	case stdelf.EM_AARCH64:
		return arch.ARM64, nil
	case stdelf.EM_RISCV:
		return arch.RISCV64, nil
	case stdelf.EM_MIPS:
		if class == stdelf.ELFCLASS64 {
			return arch.MIPS64, nil
		}
		return arch.MIPS, nil
	default:
		return arch.Unknown, &arch.ErrUnknownArch{Detail: fmt.Sprintf("ELF machine %v", m)}
	}
}

func readSymbols(ef *stdelf.File) []Symbol {
	var out []Symbol
	add := func(syms []stdelf.Symbol) {
		for _, s := range syms {
			if s.Name == "" || stdelf.ST_TYPE(s.Info) != stdelf.STT_FUNC && stdelf.ST_TYPE(s.Info) != stdelf.STT_OBJECT {
				continue
			}
			out = append(out, Symbol{Name: s.Name, Value: s.Value, Size: s.Size})
		}
	}
	if syms, err := ef.Symbols(); err == nil {
		add(syms)
	}
	if syms, err := ef.DynamicSymbols(); err == nil {
		add(syms)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}

func readBuildID(ef *stdelf.File) (string, error) {
	sec := ef.Section(".note.gnu.build-id")
	if sec == nil {
		return "", errkind.New(errkind.None)
	}
	data, err := sec.Data()
	if err != nil {
		return "", errkind.Wrap(errkind.InvalidELF, err)
	}
	return parseBuildIDNote(data)
}

// parseBuildIDNote decodes an ELF note (namesz/descsz/type + name +
// desc, Elf32_Nhdr layout used identically at 64-bit) and hex-encodes
// the description bytes of an NT_GNU_BUILD_ID (type 3) note.
func parseBuildIDNote(data []byte) (string, error) {
	for len(data) >= 12 {
		namesz := binary.LittleEndian.Uint32(data[0:4])
		descsz := binary.LittleEndian.Uint32(data[4:8])
		typ := binary.LittleEndian.Uint32(data[8:12])
		off := 12
		nameEnd := off + align4(int(namesz))
		descEnd := nameEnd + align4(int(descsz))
		if descEnd > len(data) || nameEnd > len(data) {
			return "", errkind.New(errkind.InvalidELF)
		}
		desc := data[nameEnd : nameEnd+int(descsz)]
		if typ == 3 { // NT_GNU_BUILD_ID
			return fmt.Sprintf("%x", desc), nil
		}
		data = data[descEnd:]
	}
	return "", errkind.New(errkind.None)
}

func align4(n int) int { return (n + 3) &^ 3 }

// Validate reports whether the ELF was successfully parsed.
func (f *File) Validate() bool { return f.valid }

// GetLoadBias returns the runtime load bias applied to file-relative
// vaddrs to get process addresses.
func (f *File) GetLoadBias() uint64 { return f.LoadBias }

// SetLoadBias records the bias computed by the caller (typically
// addrspace.MapInfo, from the first PT_LOAD segment's mapped address)
// once it is known; Open never has enough context to compute it.
func (f *File) SetLoadBias(bias uint64) { f.LoadBias = bias }

// GetBuildID returns the hex-encoded NT_GNU_BUILD_ID, or "".
func (f *File) GetBuildID() string { return f.BuildID }

// IsValidPC reports whether pc (already bias-adjusted back to a file
// vaddr) falls inside any PT_LOAD segment, or within the nested
// .gnu_debugdata ELF if present. Segment flags are not checked, so a
// non-executable PT_LOAD counts as valid, and CFI-covered ranges
// outside every PT_LOAD are not consulted.
func (f *File) IsValidPC(vaddr uint64) bool {
	for _, s := range f.Segments {
		if s.Type != stdelf.PT_LOAD {
			continue
		}
		if vaddr >= s.Vaddr && vaddr < s.Vaddr+s.Memsz {
			return true
		}
	}
	if f.GNUDebugData != nil {
		return f.GNUDebugData.IsValidPC(vaddr)
	}
	return false
}

// GetFunctionName returns the name and starting offset of the symbol
// covering vaddr, ignoring zero-size symbols and falling back to the
// nested .gnu_debugdata symbol table.
func (f *File) GetFunctionName(vaddr uint64) (name string, funcOffset uint64, ok bool) {
	idx := sort.Search(len(f.Symbols), func(i int) bool { return f.Symbols[i].Value > vaddr })
	for idx > 0 && f.Symbols[idx-1].Size == 0 {
		idx--
	}
	if idx > 0 {
		s := f.Symbols[idx-1]
		if vaddr < s.Value+s.Size {
			return s.Name, vaddr - s.Value, true
		}
	}
	if f.GNUDebugData != nil {
		return f.GNUDebugData.GetFunctionName(vaddr)
	}
	return "", 0, false
}

// FunctionInterval returns the [start,end) vaddr range and name of
// the symbol covering vaddr, ignoring zero-size symbols the way
// GetFunctionName does. A per-module function-name cache keys its
// intervals on this rather than re-deriving bounds from a bare
// name+offset pair.
func (f *File) FunctionInterval(vaddr uint64) (start, end uint64, name string, ok bool) {
	idx := sort.Search(len(f.Symbols), func(i int) bool { return f.Symbols[i].Value > vaddr })
	for idx > 0 && f.Symbols[idx-1].Size == 0 {
		idx--
	}
	if idx > 0 {
		s := f.Symbols[idx-1]
		if vaddr < s.Value+s.Size {
			return s.Value, s.Value + s.Size, s.Name, true
		}
	}
	if f.GNUDebugData != nil {
		return f.GNUDebugData.FunctionInterval(vaddr)
	}
	return 0, 0, "", false
}

// GetGlobalVariableOffset resolves a symbol name to its vaddr,
// building a prefix trie over the symbol table on first use so
// repeated lookups (common when resolving many variables from a
// fixed debug-info set) do not each do a linear scan.
func (f *File) GetGlobalVariableOffset(name string) (uint64, bool) {
	if f.symIndex == nil {
		f.symIndex = trie.New()
		for i, s := range f.Symbols {
			f.symIndex.Add(s.Name, i)
		}
	}
	node, ok := f.symIndex.Find(name)
	if !ok {
		return 0, false
	}
	i, ok := node.Meta().(int)
	if !ok {
		return 0, false
	}
	return f.Symbols[i].Value, true
}

// Step delegates to the CFI table: FDEForPC followed by
// EstablishFrame, a two-stage lookup. .eh_frame is tried first,
// .debug_frame next when .eh_frame has no FDE covering pc, and the
// decompressed .gnu_debugdata ELF last.
func (f *File) Step(pc uint64) (*frame.FrameContext, error) {
	fde, ehErr := f.CFI.FDEForPC(pc)
	if ehErr == nil {
		return fde.EstablishFrame(pc)
	}
	if fde, dbgErr := f.DebugFrameCFI.FDEForPC(pc); dbgErr == nil {
		return fde.EstablishFrame(pc)
	}
	if f.GNUDebugData != nil {
		return f.GNUDebugData.Step(pc)
	}
	return nil, errkind.WrapAt(errkind.UnwindInfoMissing, pc, ehErr)
}
