package unwinder

import (
	"github.com/msft-mirror-aosp/platform.system.unwinding/addrspace"
	"github.com/msft-mirror-aosp/platform.system.unwinding/arch"
	"github.com/msft-mirror-aosp/platform.system.unwinding/elf"
	"github.com/msft-mirror-aosp/platform.system.unwinding/errkind"
	"github.com/msft-mirror-aosp/platform.system.unwinding/memory"
)

// stepOutcome is what one driver step produced: whether the unwind
// should stop after this frame, and why (for diagnostics only — the
// caller's loop decides control flow from finished/err).
type stepOutcome struct {
	finished      bool
	isSignalFrame bool
	newPC         uint64
	newSP         uint64
	haveRA        bool
	ra            uint64
}

// relativePC converts a runtime pc into the ELF's own coordinate
// space: pc minus the load bias, which addrspace's load-bias
// computation already folds the r--/r-x split-segment elf_offset
// into.
func relativePC(pc uint64, mi *addrspace.MapInfo, f *elf.File) uint64 {
	if mi == nil || f == nil {
		return pc
	}
	return pc - f.GetLoadBias()
}

// stepSignalTrampoline recognizes the kernel rt_sigreturn trampoline
// at relPC and, on match, populates regs from
// the register file layout recorded against SP. Returns ok=false on
// no match (the caller falls through to CFI stepping) and err on a
// match whose register-file read failed.
//
// Full signal-frame raw-register recovery is only grounded for
// riscv64 (RegsRiscv64::StepIfSignalHandler reads the kernel
// mcontext gregs array directly into the internal register order,
// which the retrieved source shows matches verbatim). Every other
// architecture's raw mcontext-to-DWARF-register mapping has no
// grounding in the retrieved sources, so MatchesSignalTrampoline is
// used for detection/classification only there; register recovery is
// left to CFI, whose 'S'-augmented FDE for the trampoline (if the
// target's libc ships one) still produces a correct row.
func stepSignalTrampoline(a arch.Name, relPC uint64, code []byte, mem memory.Reader, regs *arch.Registers) (bool, error) {
	if !arch.MatchesSignalTrampoline(a, code) {
		return false, nil
	}
	if a != arch.RISCV64 {
		return false, nil
	}
	_, off, ok := arch.SignalTrampolineSignature(a)
	if !ok {
		return false, nil
	}
	return recoverRiscv64SignalRegs(regs, mem, off)
}

// recoverRiscv64SignalRegs bulk-reads the kernel's raw gregs array at
// sp+off, mirroring RegsRiscv64::StepIfSignalHandler's single memcpy
// into its internal register array. That internal array's slot order
// is the kernel's own gregs order (pc first, then x1..x31); our
// register file numbers pc as register 65 rather than slot 0, so
// unlike the C++ source's direct memcpy, raw slot 0 is remapped to
// the pc register and raw slots 1..31 map straight onto DWARF
// registers 1..31.
func recoverRiscv64SignalRegs(regs *arch.Registers, mem memory.Reader, off uint64) (bool, error) {
	const numGregs = 32
	addr := regs.SP() + off
	buf := make([]byte, numGregs*8)
	n, err := mem.ReadMemory(buf, addr)
	if err != nil || n != len(buf) {
		return false, errkind.NewAt(errkind.MemoryInvalid, addr)
	}
	raw := make([]uint64, numGregs)
	for i := 0; i < numGregs; i++ {
		for b := 0; b < 8; b++ {
			raw[i] |= uint64(buf[i*8+b]) << (8 * b)
		}
	}
	regs.Set(arch.RISCV64.PCRegNum(), raw[0])
	for i := 1; i < numGregs; i++ {
		regs.Set(uint64(i), raw[i])
	}
	return true, nil
}

// stepCFI runs the CFI evaluator over the FDE covering relPC and
// turns its result into the caller's next
// registers. Returns errkind.UnwindInfoMissing when no FDE covers
// relPC, so the caller can try the frame-pointer fallback.
func stepCFI(f *elf.File, relPC uint64, cur *arch.Registers, mem memory.Reader) (*arch.Registers, stepOutcome, error) {
	fc, err := f.Step(relPC)
	if err != nil {
		return nil, stepOutcome{}, err
	}
	res, err := applyFrameContext(fc, cur, mem, f.ByteOrder, f.AddrSize)
	if err != nil {
		return nil, stepOutcome{}, err
	}

	out := stepOutcome{isSignalFrame: fc.IsSignalFrame()}
	if res.finished || res.regs == nil {
		out.finished = true
		return res.regs, out, nil
	}

	raNum := fc.RetAddrReg
	ra, haveRA := res.regs.Reg(raNum)
	out.haveRA = haveRA
	out.ra = ra
	out.newSP = res.cfa
	if haveRA {
		out.newPC = ra
	} else {
		out.finished = true
	}
	return res.regs, out, nil
}

// stepFramePointer is the architecture's last-resort stepper when CFI
// has no FDE for relPC. No grounding source for frame-pointer walking
// exists anywhere in the retrieved libunwindstack sources (no EXIDX
// or frame-pointer-chain code there), so this is a synthesized
// convention: on the architectures that conventionally keep a
// [saved_fp, return_addr] pair at the top of each frame (ARM, MIPS,
// MIPS64), read that pair at the current frame pointer and advance.
func stepFramePointer(a arch.Name, cur *arch.Registers, mem memory.Reader) (*arch.Registers, stepOutcome, error) {
	fpNum, ok := a.FPRegNum()
	if !ok {
		return nil, stepOutcome{finished: true}, errkind.New(errkind.UnwindInfoMissing)
	}
	fp, ok := cur.Reg(fpNum)
	if !ok || fp == 0 {
		return nil, stepOutcome{finished: true}, nil
	}

	ptrSize := a.PointerSize()
	buf := make([]byte, 2*ptrSize)
	n, err := mem.ReadMemory(buf, fp)
	if err != nil || n != len(buf) {
		return nil, stepOutcome{}, errkind.NewAt(errkind.MemoryInvalid, fp)
	}
	savedFP := readLE(buf[:ptrSize])
	retAddr := readLE(buf[ptrSize:])

	out := cur.Clone()
	out.Set(fpNum, savedFP)
	raNum, haveRA := a.RARegNum()
	if haveRA {
		out.Set(raNum, retAddr)
	}
	out.SetSP(fp + uint64(2*ptrSize))

	return out, stepOutcome{newPC: retAddr, haveRA: true, ra: retAddr, newSP: fp + uint64(2*ptrSize)}, nil
}

func readLE(buf []byte) uint64 {
	var v uint64
	for i, b := range buf {
		v |= uint64(b) << (8 * i)
	}
	return v
}
