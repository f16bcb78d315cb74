// Package unwinder implements the per-step driver: rel_pc computation,
// signal-trampoline recognition, CFI row evaluation, a frame-pointer
// fallback for the architectures that have one, and frame attribution
// across native ELF, JIT, and DEX symbol sources.
package unwinder

import (
	"encoding/binary"

	"github.com/msft-mirror-aosp/platform.system.unwinding/arch"
	"github.com/msft-mirror-aosp/platform.system.unwinding/dwarf/frame"
	"github.com/msft-mirror-aosp/platform.system.unwinding/dwarf/op"
	"github.com/msft-mirror-aosp/platform.system.unwinding/errkind"
	"github.com/msft-mirror-aosp/platform.system.unwinding/memory"
)

// evalResult is the outcome of applying one CFI row to the current
// registers: the new register file, the resolved CFA, and whether the
// row leaves the PC column explicitly undefined (the evaluator's
// "finished" signal).
type evalResult struct {
	regs     *arch.Registers
	cfa      uint64
	finished bool
}

// applyFrameContext evaluates fc against cur, producing the register
// file for the caller's frame: the CFA rule first, then every other
// register's rule relative to it. Modeled on delve's
// advanceRegs/executeFrameRegRule.
func applyFrameContext(fc *frame.FrameContext, cur *arch.Registers, mem memory.Reader, order binary.ByteOrder, addrSize int) (evalResult, error) {
	cfa, ok, err := evalCFA(fc.CFA, cur, mem, order, addrSize)
	if err != nil {
		return evalResult{}, err
	}
	if !ok || cfa == 0 {
		return evalResult{finished: true}, nil
	}

	// Registers the row doesn't mention keep their caller-frame value;
	// only registers fc.Regs explicitly rules get overridden below.
	out := cur.Clone()

	pcRule, havePCRule := fc.Regs[cur.Arch.PCRegNum()]
	if havePCRule && pcRule.Rule == frame.RuleUndefined {
		return evalResult{regs: out, cfa: cfa, finished: true}, nil
	}

	for n, rule := range fc.Regs {
		v, ok, err := evalRegRule(rule, cur, mem, order, addrSize, cfa)
		if err != nil {
			return evalResult{}, err
		}
		if ok {
			out.Set(n, v)
		} else {
			out.Unset(n)
		}
	}
	return evalResult{regs: out, cfa: cfa}, nil
}

// evalCFA computes the CFA column: register+offset, or an expression
// whose top-of-stack result is used directly.
func evalCFA(rule frame.DWRule, cur *arch.Registers, mem memory.Reader, order binary.ByteOrder, addrSize int) (uint64, bool, error) {
	switch rule.Rule {
	case frame.RuleCFA:
		v, ok := cur.Reg(rule.Reg)
		if !ok {
			return 0, false, nil
		}
		return v + uint64(rule.Offset), true, nil
	case frame.RuleExpression, frame.RuleValExpression:
		v, err := op.Eval(rule.Expression, &op.Context{Regs: cur, Memory: mem, ByteOrder: order, AddrSize: addrSize})
		if err != nil {
			return 0, false, err
		}
		return v, true, nil
	default:
		return 0, false, nil
	}
}

// evalRegRule applies one non-CFA register rule. The register(n) case
// reads from cur, the pre-step registers, never from values already
// written earlier in this same pass, since rules are meant to see a
// consistent snapshot of the previous frame.
func evalRegRule(rule frame.DWRule, cur *arch.Registers, mem memory.Reader, order binary.ByteOrder, addrSize int, cfa uint64) (uint64, bool, error) {
	switch rule.Rule {
	case frame.RuleUndefined:
		return 0, false, nil
	case frame.RuleSameValue:
		v, ok := cur.Reg(rule.Reg)
		return v, ok, nil
	case frame.RuleOffset:
		addr := cfa + uint64(rule.Offset)
		v, err := readPointerAt(mem, addr, addrSize, order)
		if err != nil {
			return 0, false, err
		}
		return v, true, nil
	case frame.RuleValOffset:
		return cfa + uint64(rule.Offset), true, nil
	case frame.RuleRegister:
		v, ok := cur.Reg(rule.Reg)
		return v, ok, nil
	case frame.RuleExpression, frame.RuleValExpression:
		v, err := op.Eval(rule.Expression, &op.Context{Regs: cur, Memory: mem, ByteOrder: order, AddrSize: addrSize, Initial: []uint64{cfa}})
		if err != nil {
			return 0, false, err
		}
		if rule.Rule == frame.RuleValExpression {
			return v, true, nil
		}
		v, err = readPointerAt(mem, v, addrSize, order)
		if err != nil {
			return 0, false, err
		}
		return v, true, nil
	default:
		return 0, false, nil
	}
}

func readPointerAt(mem memory.Reader, addr uint64, size int, order binary.ByteOrder) (uint64, error) {
	buf := make([]byte, size)
	n, err := mem.ReadMemory(buf, addr)
	if err != nil || n != size {
		return 0, errkind.NewAt(errkind.MemoryInvalid, addr)
	}
	switch size {
	case 4:
		return uint64(order.Uint32(buf)), nil
	default:
		return order.Uint64(buf), nil
	}
}
