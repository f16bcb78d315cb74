package unwinder

import (
	"encoding/binary"
	"testing"

	"github.com/msft-mirror-aosp/platform.system.unwinding/addrspace"
	"github.com/msft-mirror-aosp/platform.system.unwinding/arch"
	"github.com/msft-mirror-aosp/platform.system.unwinding/dwarf/frame"
	"github.com/msft-mirror-aosp/platform.system.unwinding/errkind"
)

// fakeMemory is a flat byte buffer addressed starting at base, for
// tests that only ever touch a small, known stack region.
type fakeMemory struct {
	base uint64
	buf  []byte
}

func (m *fakeMemory) ReadMemory(dst []byte, addr uint64) (int, error) {
	if addr < m.base || addr+uint64(len(dst)) > m.base+uint64(len(m.buf)) {
		return 0, errkind.NewAt(errkind.MemoryInvalid, addr)
	}
	off := addr - m.base
	n := copy(dst, m.buf[off:])
	return n, nil
}

func TestApplyFrameContextOffsetRule(t *testing.T) {
	mem := &fakeMemory{base: 0x1000, buf: make([]byte, 0x100)}
	binary.LittleEndian.PutUint64(mem.buf[0x10:], 0xdeadbeef) // saved RA at cfa+0x10

	cur := arch.NewRegisters(arch.X86_64, 32)
	cur.Set(arch.X86_64.SPRegNum(), 0x1000)

	fc := &frame.FrameContext{
		CFA:        frame.DWRule{Rule: frame.RuleCFA, Reg: arch.X86_64.SPRegNum(), Offset: 0},
		RetAddrReg: 99,
		Regs: map[uint64]frame.DWRule{
			99: {Rule: frame.RuleOffset, Offset: 0x10},
		},
	}

	res, err := applyFrameContext(fc, cur, mem, binary.LittleEndian, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.cfa != 0x1000 {
		t.Fatalf("cfa = %#x, want 0x1000", res.cfa)
	}
	ra, ok := res.regs.Reg(99)
	if !ok || ra != 0xdeadbeef {
		t.Fatalf("ra = %#x, ok=%v, want 0xdeadbeef", ra, ok)
	}
}

func TestApplyFrameContextUndefinedPCFinishes(t *testing.T) {
	mem := &fakeMemory{base: 0x1000, buf: make([]byte, 0x10)}
	cur := arch.NewRegisters(arch.X86_64, 32)
	cur.Set(arch.X86_64.SPRegNum(), 0x1000)

	fc := &frame.FrameContext{
		CFA: frame.DWRule{Rule: frame.RuleCFA, Reg: arch.X86_64.SPRegNum(), Offset: 0},
		Regs: map[uint64]frame.DWRule{
			arch.X86_64.PCRegNum(): {Rule: frame.RuleUndefined},
		},
	}

	res, err := applyFrameContext(fc, cur, mem, binary.LittleEndian, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.finished {
		t.Fatalf("expected finished=true when the PC column rule is undefined")
	}
}

func TestApplyFrameContextZeroCFAFinishes(t *testing.T) {
	mem := &fakeMemory{base: 0x1000, buf: make([]byte, 0x10)}
	cur := arch.NewRegisters(arch.X86_64, 32)
	cur.Set(arch.X86_64.SPRegNum(), 0)

	fc := &frame.FrameContext{
		CFA: frame.DWRule{Rule: frame.RuleCFA, Reg: arch.X86_64.SPRegNum(), Offset: 0},
	}

	res, err := applyFrameContext(fc, cur, mem, binary.LittleEndian, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.finished {
		t.Fatalf("expected finished=true when CFA resolves to zero")
	}
}

func TestStepFramePointerWalksChainAndStopsAtZero(t *testing.T) {
	mem := &fakeMemory{base: 0x3000, buf: make([]byte, 0x10)}
	binary.LittleEndian.PutUint32(mem.buf[0:], 0)      // saved fp: end of chain
	binary.LittleEndian.PutUint32(mem.buf[4:], 0x400) // return address

	fpNum, _ := arch.ARM.FPRegNum()
	cur := arch.NewRegisters(arch.ARM, 32)
	cur.Set(fpNum, 0x3000)

	next, outcome, err := stepFramePointer(arch.ARM, cur, mem)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.newPC != 0x400 {
		t.Fatalf("newPC = %#x, want 0x400", outcome.newPC)
	}
	if fp, _ := next.Reg(fpNum); fp != 0 {
		t.Fatalf("next fp = %#x, want 0 (end of chain)", fp)
	}
}

func TestStepFramePointerNoFPRegister(t *testing.T) {
	cur := arch.NewRegisters(arch.X86_64, 32)
	_, _, err := stepFramePointer(arch.X86_64, cur, &fakeMemory{})
	if err == nil {
		t.Fatalf("expected unwind-info-missing for an architecture with no frame-pointer convention")
	}
}

func TestRelativePCWithoutMapReturnsPC(t *testing.T) {
	if got := relativePC(0x1234, nil, nil); got != 0x1234 {
		t.Fatalf("relativePC = %#x, want 0x1234", got)
	}
}

func TestStepSignalTrampolineMismatch(t *testing.T) {
	cur := arch.NewRegisters(arch.X86_64, 32)
	ok, err := stepSignalTrampoline(arch.X86_64, 0, []byte{0, 0, 0, 0, 0, 0, 0, 0}, &fakeMemory{}, cur)
	if ok || err != nil {
		t.Fatalf("ok=%v err=%v, want no match and no error", ok, err)
	}
}

// TestUnwindFallsBackToFramePointerChain exercises the full driver
// with no ELF resolvable for any PC (Maps is empty), forcing every
// step through the frame-pointer fallback until the chain bottoms out
// at a zero saved frame pointer.
func TestUnwindFallsBackToFramePointerChain(t *testing.T) {
	mem := &fakeMemory{base: 0x3000, buf: make([]byte, 0x10)}
	binary.LittleEndian.PutUint32(mem.buf[0:], 0)
	binary.LittleEndian.PutUint32(mem.buf[4:], 0x400)

	maps := addrspace.NewMaps(nil, mem, nil)
	u := New(maps, mem, arch.ARM, nil, nil, Options{})

	fpNum, _ := arch.ARM.FPRegNum()
	regs := arch.NewRegisters(arch.ARM, 32)
	regs.SetPC(0x500)
	regs.Set(fpNum, 0x3000)

	frames, err := u.Unwind(10, regs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].PC != 0x500 || frames[1].PC != 0x400 {
		t.Fatalf("unexpected frame PCs: %#x, %#x", frames[0].PC, frames[1].PC)
	}
}

func TestUnwindStopsOnRepeatedPC(t *testing.T) {
	// A frame-pointer chain whose return address points straight back
	// at the current pc (a corrupted or self-referential stack) must
	// terminate rather than loop forever.
	mem := &fakeMemory{base: 0x3000, buf: make([]byte, 0x10)}
	binary.LittleEndian.PutUint32(mem.buf[0:], 0x3000)
	binary.LittleEndian.PutUint32(mem.buf[4:], 0x500)

	maps := addrspace.NewMaps(nil, mem, nil)
	u := New(maps, mem, arch.ARM, nil, nil, Options{})

	fpNum, _ := arch.ARM.FPRegNum()
	regs := arch.NewRegisters(arch.ARM, 32)
	regs.SetPC(0x500)
	regs.Set(fpNum, 0x3000)

	frames, err := u.Unwind(10, regs)
	if e, ok := err.(*errkind.Error); !ok || e.Kind != errkind.RepeatedFrame {
		t.Fatalf("err = %v, want repeated-frame", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1 (the frame before the repeat is detected)", len(frames))
	}
}

func TestUnwindCapsAtMaxFrames(t *testing.T) {
	// With maxFrames=0 the loop never records a frame or runs a step,
	// so the cap is reached without needing a real chain.
	maps := addrspace.NewMaps(nil, &fakeMemory{}, nil)
	u := New(maps, &fakeMemory{}, arch.X86_64, nil, nil, Options{})
	regs := arch.NewRegisters(arch.X86_64, 32)
	regs.SetPC(0x500)

	frames, err := u.Unwind(0, regs)
	if len(frames) != 0 {
		t.Fatalf("expected no frames with maxFrames=0, got %d", len(frames))
	}
	if e, ok := err.(*errkind.Error); !ok || e.Kind != errkind.MaxFramesExceeded {
		t.Fatalf("err = %v, want max-frames-exceeded", err)
	}
}
