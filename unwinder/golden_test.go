package unwinder

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/msft-mirror-aosp/platform.system.unwinding/addrspace"
	"github.com/msft-mirror-aosp/platform.system.unwinding/arch"
	"github.com/msft-mirror-aosp/platform.system.unwinding/dwarf/frame"
	"github.com/msft-mirror-aosp/platform.system.unwinding/elf"
	"github.com/msft-mirror-aosp/platform.system.unwinding/jitdebug"
	"github.com/msft-mirror-aosp/platform.system.unwinding/symcache"
)

// buildCFISection hand-assembles a minimal .debug_frame- or
// .eh_frame-shaped byte stream holding exactly one CIE and one FDE,
// so stepCFI can be exercised end to end without parsing a real ELF
// off disk. raReg is the CIE's return-address register column; begin
// and size describe the FDE's covered pc range; cfaReg/cfaOffset feed
// DW_CFA_def_cfa; the FDE's saved return address sits at
// cfa-8*raFactor via DW_CFA_offset.
func buildCFISection(ehFrame bool, order binary.ByteOrder, addrSize int, raReg, cfaReg, cfaOffset, raFactor, begin, size uint64) []byte {
	initialInstructions := []byte{
		frame.DW_CFA_def_cfa, byte(cfaReg), byte(cfaOffset),
		frame.DW_CFA_offset | byte(raReg), byte(raFactor),
	}

	cieBody := new(bytes.Buffer)
	cieBody.WriteByte(1)    // version
	cieBody.WriteByte(0)    // empty augmentation string, nul-terminated
	cieBody.WriteByte(1)    // code alignment factor (ULEB, 1)
	cieBody.WriteByte(0x78) // data alignment factor (SLEB, -8)
	cieBody.WriteByte(byte(raReg))
	cieBody.Write(initialInstructions)

	cie := new(bytes.Buffer)
	binary.Write(cie, binary.LittleEndian, uint32(cieBody.Len()+4))
	if ehFrame {
		binary.Write(cie, binary.LittleEndian, uint32(0))
	} else {
		cie.Write([]byte{0xff, 0xff, 0xff, 0xff})
	}
	cie.Write(cieBody.Bytes())

	fdeBody := new(bytes.Buffer)
	writePtr(fdeBody, order, addrSize, begin)
	writePtr(fdeBody, order, addrSize, size)

	fde := new(bytes.Buffer)
	binary.Write(fde, binary.LittleEndian, uint32(fdeBody.Len()+4))
	// FDE id field: for eh_frame, any nonzero value (0 marks a CIE);
	// for debug_frame, any value other than the 0xffffffff CIE marker.
	var fdeID uint32
	if ehFrame {
		fdeID = 4
	}
	binary.Write(fde, binary.LittleEndian, fdeID)
	fde.Write(fdeBody.Bytes())

	out := new(bytes.Buffer)
	out.Write(cie.Bytes())
	out.Write(fde.Bytes())
	return out.Bytes()
}

func writePtr(buf *bytes.Buffer, order binary.ByteOrder, addrSize int, v uint64) {
	if addrSize == 4 {
		b := make([]byte, 4)
		order.PutUint32(b, uint32(v))
		buf.Write(b)
		return
	}
	b := make([]byte, 8)
	order.PutUint64(b, v)
	buf.Write(b)
}

// TestGoldenStraddleARM64 mirrors a stack whose pc lands a few bytes
// into a function (scenario: straddle_arm64), over a single mapping of
// the file: frame 0 must resolve to its symbol and offset, and the
// caller's pc must be recovered for frame 1. ARM64 has no
// frame-pointer-chain fallback in this codebase (only ARM, MIPS and
// MIPS64 do; see arch.FPRegNum), so the chain is recovered via a
// hand-built .eh_frame CFI row, as a real arm64 binary's unwind
// tables would.
func TestGoldenStraddleARM64(t *testing.T) {
	mem := &fakeMemory{base: 0x7000_0000, buf: make([]byte, 0x1000)}

	const (
		raReg  = 30 // ARM64_LR
		spReg  = 31 // ARM64_SP
		cfaOff = 0x30
	)
	ehFrame := buildCFISection(true, binary.LittleEndian, 8, raReg, spReg, cfaOff, 1, 0x40, 0x40)
	cfi, err := frame.Parse(ehFrame, binary.LittleEndian, 0, 8, true)
	if err != nil {
		t.Fatalf("parsing synthetic .eh_frame: %v", err)
	}

	f := &elf.File{
		Arch: arch.ARM64, AddrSize: 8, ByteOrder: binary.LittleEndian,
		Symbols: []elf.Symbol{{Name: "calling3", Value: 0x40, Size: 0x40}},
		CFI:     cfi,
	}
	mi := addrspace.NewResolvedMap(0x7000_0000, 0x7000_1000, 0, "libtest.so", addrspace.FlagRead|addrspace.FlagExec, f, 0x7000_0000)

	maps := addrspace.NewMaps([]*addrspace.MapInfo{mi}, mem, nil)
	u := New(maps, mem, arch.ARM64, nil, nil, Options{ResolveNames: true})

	regs := arch.NewRegisters(arch.ARM64, 34)
	regs.SetPC(0x7000_0058) // within calling3's [0x40,0x80): offset 0x18
	regs.Set(spReg, 0x7000_0200)

	cfa := uint64(0x7000_0200) + cfaOff
	binary.LittleEndian.PutUint64(mem.buf[cfa-8-mem.base:], 0x12345678)

	frames, err := u.Unwind(10, regs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].FunctionName != "calling3" || frames[0].FunctionOffset != 0x18 {
		t.Fatalf("frame 0 = %q+%#x, want calling3+0x18", frames[0].FunctionName, frames[0].FunctionOffset)
	}
	if frames[1].PC != 0x12345678 {
		t.Fatalf("frame 1 pc = %#x, want 0x12345678 (recovered via CFI)", frames[1].PC)
	}
}

// TestGoldenPCStraddleARM mirrors pc_straddle_arm: a pc whose mapping
// is the second, executable half of a read-only/executable split of
// the same file, so the relative pc must be computed against the
// mapping's own elf-offset-adjusted bias rather than its own Start.
func TestGoldenPCStraddleARM(t *testing.T) {
	mem := &fakeMemory{base: 0x4000_0000, buf: make([]byte, 0x1000)}

	f := &elf.File{
		Arch: arch.ARM, AddrSize: 4, ByteOrder: binary.LittleEndian,
		Symbols: []elf.Symbol{{Name: "abort", Value: 0x1000, Size: 0x80}},
	}
	// Split r--/r-x mapping: the executable half starts 0x1000 bytes
	// into the file, runtime address 0x4000_1000; a pc of
	// 0x4000_1040 should resolve to the symbol's own file vaddr
	// 0x1040, i.e. abort+64.
	mi := addrspace.NewResolvedMap(0x4000_1000, 0x4000_2000, 0x1000, "libc.so", addrspace.FlagRead|addrspace.FlagExec, f, 0x4000_1000-0x1000)

	maps := addrspace.NewMaps([]*addrspace.MapInfo{mi}, mem, nil)
	u := New(maps, mem, arch.ARM, nil, nil, Options{ResolveNames: true})

	regs := arch.NewRegisters(arch.ARM, 16)
	regs.SetPC(0x4000_1040)

	frames, err := u.Unwind(1, regs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frames[0].FunctionName != "abort" || frames[0].FunctionOffset != 64 {
		t.Fatalf("frame 0 = %q+%d, want abort+64", frames[0].FunctionName, frames[0].FunctionOffset)
	}
}

// TestGoldenJitDebugARM drives a JIT-marked anonymous mapping through
// the real __dex_debug_descriptor walk (a descriptor and entry hand-
// laid out in target memory, discovered via a second mapping's
// symbol table, per the GDB/JIT Compilation Interface), asserting the
// method-relative FunctionOffset fix end to end (scenario:
// jit_debug_arm).
func TestGoldenJitDebugARM(t *testing.T) {
	mem := &fakeMemory{base: 0x5000_0000, buf: make([]byte, 0x1000)}

	const (
		descriptorAddr = 0x5000_0010
		entryAddr      = 0x5000_0030
		dexAddr        = 0x5000_0100
		dexSize        = 0x200 // covers the symbolized method's [0x120,0x200) range
	)
	put32 := func(addr uint64, v uint32) { binary.LittleEndian.PutUint32(mem.buf[addr-mem.base:], v) }
	put64 := func(addr uint64, v uint64) { binary.LittleEndian.PutUint64(mem.buf[addr-mem.base:], v) }

	// JITDescriptor{version: 1, action_flag: 0, relevant_entry: 0, first_entry: entryAddr}.
	put32(descriptorAddr, 1)
	put32(descriptorAddr+4, 0)
	put32(descriptorAddr+8, 0)
	put32(descriptorAddr+12, entryAddr)
	// JITCodeEntry{next: 0, prev: 0, symfile_addr: dexAddr, symfile_size: dexSize}.
	put32(entryAddr, 0)
	put32(entryAddr+4, 0)
	put32(entryAddr+8, dexAddr)
	put32(entryAddr+12, 0)
	put64(entryAddr+16, dexSize)

	dexMapping := &addrspace.MapInfo{Start: 0x5000_0000, End: 0x5000_1000, Name: "137-cfi.odex", Flags: addrspace.FlagJIT | addrspace.FlagRead | addrspace.FlagExec}
	libart := &elf.File{Arch: arch.ARM, AddrSize: 4, ByteOrder: binary.LittleEndian,
		Symbols: []elf.Symbol{{Name: "__dex_debug_descriptor", Value: descriptorAddr}}}
	libartMapping := addrspace.NewResolvedMap(0x5000_1000, 0x5000_2000, 0, "libart.so", addrspace.FlagRead, libart, 0)

	maps := addrspace.NewMaps([]*addrspace.MapInfo{dexMapping, libartMapping}, mem, nil)

	dex := jitdebug.NewDexCatalog(mem, arch.ARM, symcache.NewDexTable(4), fakeGoldenSymbolizer{}, "")
	u := New(maps, mem, arch.ARM, nil, dex, Options{ResolveNames: true})

	regs := arch.NewRegisters(arch.ARM, 16)
	regs.SetPC(dexAddr + 0x120 + 92)

	frames, err := u.Unwind(1, regs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "boolean Main.unwindInProcess(boolean, int, boolean)"
	if frames[0].FunctionName != want || frames[0].FunctionOffset != 92 {
		t.Fatalf("frame 0 = %q+%d, want %s+92", frames[0].FunctionName, frames[0].FunctionOffset, want)
	}
}

// TestGoldenDebugFrameFirstX86 builds an ELF whose .eh_frame has no
// FDE covering pc (an incomplete or hand-trimmed .eh_frame) but whose
// .debug_frame does, and asserts Step falls back to it (scenario:
// debug_frame_first_x86).
func TestGoldenDebugFrameFirstX86(t *testing.T) {
	mem := &fakeMemory{base: 0x1000, buf: make([]byte, 0x1000)}

	raReg := uint64(16) // AMD64_Rip
	debugFrame := buildCFISection(false, binary.LittleEndian, 8, raReg, 7, 0x28, 1, 0x100, 0x100)

	cfi, err := frame.Parse(debugFrame, binary.LittleEndian, 0, 8, false)
	if err != nil {
		t.Fatalf("parsing synthetic .debug_frame: %v", err)
	}

	f := &elf.File{
		Arch: arch.X86_64, AddrSize: 8, ByteOrder: binary.LittleEndian,
		Symbols:       []elf.Symbol{{Name: "calling3", Value: 0x100, Size: 0x100}},
		DebugFrameCFI: cfi, // .eh_frame deliberately left empty/non-covering
	}
	mi := addrspace.NewResolvedMap(0x1000, 0x2000, 0, "libtest.so", addrspace.FlagRead|addrspace.FlagExec, f, 0x1000)

	maps := addrspace.NewMaps([]*addrspace.MapInfo{mi}, mem, nil)
	u := New(maps, mem, arch.X86_64, nil, nil, Options{ResolveNames: true})

	regs := arch.NewRegisters(arch.X86_64, 32)
	regs.SetPC(0x1000 + 0x110)
	regs.Set(arch.X86_64.SPRegNum(), 0x1018)

	// cfa = sp + 0x28 (DW_CFA_def_cfa); ra lives at mem[cfa-8] (DW_CFA_offset).
	cfa := uint64(0x1018) + 0x28
	binary.LittleEndian.PutUint64(mem.buf[cfa-8-mem.base:], 0xdeadbeef)

	frames, err := u.Unwind(2, regs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2 (the debug_frame-derived step must succeed)", len(frames))
	}
	if frames[1].PC != 0xdeadbeef {
		t.Fatalf("frame 1 pc = %#x, want 0xdeadbeef (recovered via .debug_frame fallback)", frames[1].PC)
	}
}

// TestGoldenSharedLibInAPKARM64 asserts the APK-embedded-library
// module naming end to end: a mapping whose Name carries the
// "app.apk!lib/foo.so" marker renders through format-facing fields
// (MapName, MapOffset) exactly as the unwinder produced them
// (scenario: shared_lib_in_apk_arm64).
func TestGoldenSharedLibInAPKARM64(t *testing.T) {
	mem := &fakeMemory{base: 0x6000_0000, buf: make([]byte, 0x10)}
	f := &elf.File{Arch: arch.ARM64, AddrSize: 8, ByteOrder: binary.LittleEndian,
		Symbols: []elf.Symbol{{Name: "ANGLEPrebuilt", Value: 0, Size: 0x10}}}
	mi := addrspace.NewResolvedMap(0x6000_0000, 0x6000_1000, 0x2000, "base.apk!lib/arm64-v8a/libANGLEPrebuilt.so", addrspace.FlagRead|addrspace.FlagExec, f, 0x6000_0000)

	maps := addrspace.NewMaps([]*addrspace.MapInfo{mi}, mem, nil)
	u := New(maps, mem, arch.ARM64, nil, nil, Options{ResolveNames: true})

	regs := arch.NewRegisters(arch.ARM64, 34)
	regs.SetPC(0x6000_0000)

	frames, err := u.Unwind(1, regs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frames[0].MapName != "base.apk!lib/arm64-v8a/libANGLEPrebuilt.so" || frames[0].MapOffset != 0x2000 {
		t.Fatalf("unexpected map name/offset: %q %#x", frames[0].MapName, frames[0].MapOffset)
	}
}

// TestGoldenEhFrameHdrBeginX86_64 asserts that a pc landing exactly on
// an FDE's Begin() reports a zero FunctionOffset-contributing step (no
// spurious advance) and still resolves via .eh_frame (scenario:
// eh_frame_hdr_begin_x86_64).
func TestGoldenEhFrameHdrBeginX86_64(t *testing.T) {
	mem := &fakeMemory{base: 0x2000, buf: make([]byte, 0x1000)}

	raReg := uint64(16)
	ehFrame := buildCFISection(true, binary.LittleEndian, 8, raReg, 7, 0x10, 1, 0x200, 0x100)
	cfi, err := frame.Parse(ehFrame, binary.LittleEndian, 0, 8, true)
	if err != nil {
		t.Fatalf("parsing synthetic .eh_frame: %v", err)
	}

	f := &elf.File{
		Arch: arch.X86_64, AddrSize: 8, ByteOrder: binary.LittleEndian,
		Symbols: []elf.Symbol{{Name: "main", Value: 0x200, Size: 0x100}},
		CFI:     cfi,
	}
	mi := addrspace.NewResolvedMap(0x2000, 0x3000, 0, "prog", addrspace.FlagRead|addrspace.FlagExec, f, 0x2000)

	maps := addrspace.NewMaps([]*addrspace.MapInfo{mi}, mem, nil)
	u := New(maps, mem, arch.X86_64, nil, nil, Options{ResolveNames: true})

	regs := arch.NewRegisters(arch.X86_64, 32)
	regs.SetPC(0x2000 + 0x200) // exactly the FDE's Begin(): function entry, no prologue run yet
	regs.Set(arch.X86_64.SPRegNum(), 0x2500)

	cfa := uint64(0x2500) + 0x10
	binary.LittleEndian.PutUint64(mem.buf[cfa-8-mem.base:], 0x99999999)

	frames, err := u.Unwind(2, regs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frames[0].FunctionName != "main" || frames[0].FunctionOffset != 0 {
		t.Fatalf("frame 0 = %q+%d, want main+0 (pc at function entry)", frames[0].FunctionName, frames[0].FunctionOffset)
	}
	if len(frames) != 2 || frames[1].PC != 0x99999999 {
		t.Fatalf("expected a second frame recovered via eh_frame at 0x99999999, got %#v", frames)
	}
}

type fakeGoldenSymbolizer struct{}

func (fakeGoldenSymbolizer) Symbolize(dex []byte, fileOffset uint64) (string, uint64, uint64, bool) {
	if fileOffset >= 0x120 && fileOffset < 0x200 {
		return "boolean Main.unwindInProcess(boolean, int, boolean)", 0x120, 0x200, true
	}
	return "", 0, 0, false
}
