package frame

import (
	"bytes"
	"encoding/binary"

	"github.com/msft-mirror-aosp/platform.system.unwinding/dwarf/leb128"
	"github.com/msft-mirror-aosp/platform.system.unwinding/errkind"
)

// DWRule is one register's location record, or (on the CFA slot) the
// CFA rule itself.
type DWRule struct {
	Rule       Rule
	Offset     int64
	Reg        uint64
	Expression []byte
}

// FrameContext is the evaluated row for one FDE up to some PC: the
// CFA rule plus one DWRule per register that has an explicit rule.
type FrameContext struct {
	loc           uint64
	order         binary.ByteOrder
	address       uint64
	CFA           DWRule
	Regs          map[uint64]DWRule
	initialRegs   map[uint64]DWRule
	buf           *bytes.Reader
	cie           *CommonInformationEntry
	RetAddrReg    uint64
	codeAlignment uint64
	dataAlignment int64
	remembered    []rowState
}

type rowState struct {
	cfa  DWRule
	regs map[uint64]DWRule
}

// IsSignalFrame reports whether the CIE governing this row carries the
// 'S' augmentation letter, marking the FDE as covering a signal
// trampoline.
func (frame *FrameContext) IsSignalFrame() bool {
	return frame.cie != nil && frame.cie.IsSignalFrame
}

type instrFunc func(frame *FrameContext) error

var fnlookup = map[byte]instrFunc{
	DW_CFA_advance_loc:        advanceLoc,
	DW_CFA_offset:             offset,
	DW_CFA_restore:            restore,
	DW_CFA_set_loc:            setLoc,
	DW_CFA_advance_loc1:       advanceLoc1,
	DW_CFA_advance_loc2:       advanceLoc2,
	DW_CFA_advance_loc4:       advanceLoc4,
	DW_CFA_offset_extended:    offsetExtended,
	DW_CFA_restore_extended:   restoreExtended,
	DW_CFA_undefined:          undefined,
	DW_CFA_same_value:         sameValue,
	DW_CFA_register:           register,
	DW_CFA_remember_state:     rememberState,
	DW_CFA_restore_state:      restoreState,
	DW_CFA_def_cfa:            defCFA,
	DW_CFA_def_cfa_register:   defCFARegister,
	DW_CFA_def_cfa_offset:     defCFAOffset,
	DW_CFA_def_cfa_expression: defCFAExpression,
	DW_CFA_expression:         expression,
	DW_CFA_offset_extended_sf: offsetExtendedSF,
	DW_CFA_def_cfa_sf:         defCFASF,
	DW_CFA_def_cfa_offset_sf:  defCFAOffsetSF,
	DW_CFA_val_offset:         valOffset,
	DW_CFA_val_offset_sf:      valOffsetSF,
	DW_CFA_val_expression:     valExpression,
	DW_CFA_GNU_args_size:      gnuArgsSize,
	DW_CFA_GNU_negative_offset_extended: gnuNegativeOffsetExtended,
	DW_CFA_lo_user: skipOneByte,
	DW_CFA_hi_user: skipOneByte,
}

func executeCIEInstructions(cie *CommonInformationEntry) (*FrameContext, error) {
	frame := &FrameContext{
		cie:           cie,
		Regs:          make(map[uint64]DWRule),
		RetAddrReg:    cie.ReturnAddressRegister,
		initialRegs:   make(map[uint64]DWRule),
		codeAlignment: cie.CodeAlignmentFactor,
		dataAlignment: cie.DataAlignmentFactor,
		buf:           bytes.NewReader(cie.InitialInstructions),
	}
	if err := frame.executeDwarfProgram(); err != nil {
		return nil, err
	}
	for k, v := range frame.Regs {
		frame.initialRegs[k] = v
	}
	return frame, nil
}

func executeDwarfProgramUntilPC(fde *FrameDescriptionEntry, pc uint64) (*FrameContext, error) {
	frame, err := executeCIEInstructions(fde.CIE)
	if err != nil {
		return nil, err
	}
	frame.order = fde.order
	frame.loc = fde.Begin()
	frame.address = pc
	if err := frame.ExecuteUntilPC(fde.Instructions); err != nil {
		return nil, err
	}
	return frame, nil
}

func (frame *FrameContext) executeDwarfProgram() error {
	for frame.buf.Len() > 0 {
		if err := executeDwarfInstruction(frame); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteUntilPC runs instructions, advancing the virtual location
// counter, stopping once frame.loc has passed frame.address — the
// last row executed before overshooting is the answer.
func (frame *FrameContext) ExecuteUntilPC(instructions []byte) error {
	frame.buf = bytes.NewReader(instructions)
	for frame.address >= frame.loc && frame.buf.Len() > 0 {
		if err := executeDwarfInstruction(frame); err != nil {
			return err
		}
	}
	return nil
}

func executeDwarfInstruction(frame *FrameContext) error {
	instruction, err := frame.buf.ReadByte()
	if err != nil {
		return errkind.Wrap(errkind.ArgOutOfRange, err)
	}
	if instruction == DW_CFA_nop {
		return nil
	}

	op := instruction
	const high2 = 0xc0
	switch instruction & high2 {
	case DW_CFA_advance_loc:
		op = DW_CFA_advance_loc
		if err := frame.buf.UnreadByte(); err != nil {
			return errkind.Wrap(errkind.ArgOutOfRange, err)
		}
	case DW_CFA_offset:
		op = DW_CFA_offset
		if err := frame.buf.UnreadByte(); err != nil {
			return errkind.Wrap(errkind.ArgOutOfRange, err)
		}
	case DW_CFA_restore:
		op = DW_CFA_restore
		if err := frame.buf.UnreadByte(); err != nil {
			return errkind.Wrap(errkind.ArgOutOfRange, err)
		}
	}

	fn, ok := fnlookup[op]
	if !ok {
		return errkind.Wrap(errkind.Unsupported, unsupportedOpcode(op))
	}
	return fn(frame)
}

type unsupportedOpcode byte

func (o unsupportedOpcode) Error() string { return "unsupported CFA opcode" }

func readULEB(frame *FrameContext) (uint64, error) {
	v, _, err := leb128.DecodeUnsigned(frame.buf)
	if err != nil {
		return 0, errkind.Wrap(errkind.ArgOutOfRange, err)
	}
	return v, nil
}

func readSLEB(frame *FrameContext) (int64, error) {
	v, _, err := leb128.DecodeSigned(frame.buf)
	if err != nil {
		return 0, errkind.Wrap(errkind.ArgOutOfRange, err)
	}
	return v, nil
}

func readByte(frame *FrameContext) (byte, error) {
	b, err := frame.buf.ReadByte()
	if err != nil {
		return 0, errkind.Wrap(errkind.ArgOutOfRange, err)
	}
	return b, nil
}

func readBlock(frame *FrameContext, n uint64) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := frame.buf.Read(buf); err != nil {
		return nil, errkind.Wrap(errkind.ArgOutOfRange, err)
	}
	return buf, nil
}

func advanceLoc(frame *FrameContext) error {
	b, err := readByte(frame)
	if err != nil {
		return err
	}
	frame.loc += uint64(b&low6Mask) * frame.codeAlignment
	return nil
}

func advanceLoc1(frame *FrameContext) error {
	b, err := readByte(frame)
	if err != nil {
		return err
	}
	frame.loc += uint64(b) * frame.codeAlignment
	return nil
}

func advanceLoc2(frame *FrameContext) error {
	var buf [2]byte
	if _, err := frame.buf.Read(buf[:]); err != nil {
		return errkind.Wrap(errkind.ArgOutOfRange, err)
	}
	frame.loc += uint64(order(frame).Uint16(buf[:])) * frame.codeAlignment
	return nil
}

func advanceLoc4(frame *FrameContext) error {
	var buf [4]byte
	if _, err := frame.buf.Read(buf[:]); err != nil {
		return errkind.Wrap(errkind.ArgOutOfRange, err)
	}
	frame.loc += uint64(order(frame).Uint32(buf[:])) * frame.codeAlignment
	return nil
}

func order(frame *FrameContext) binary.ByteOrder {
	if frame.order != nil {
		return frame.order
	}
	return binary.LittleEndian
}

func offset(frame *FrameContext) error {
	b, err := readByte(frame)
	if err != nil {
		return err
	}
	off, err := readULEB(frame)
	if err != nil {
		return err
	}
	frame.Regs[uint64(b&low6Mask)] = DWRule{Rule: RuleOffset, Offset: int64(off) * frame.dataAlignment}
	return nil
}

func restore(frame *FrameContext) error {
	b, err := readByte(frame)
	if err != nil {
		return err
	}
	reg := uint64(b & low6Mask)
	if old, ok := frame.initialRegs[reg]; ok {
		frame.Regs[reg] = old
	} else {
		frame.Regs[reg] = DWRule{Rule: RuleUndefined}
	}
	return nil
}

func setLoc(frame *FrameContext) error {
	var buf [8]byte
	n := 8
	if _, err := frame.buf.Read(buf[:n]); err != nil {
		return errkind.Wrap(errkind.ArgOutOfRange, err)
	}
	frame.loc = order(frame).Uint64(buf[:]) + frame.cie.staticBase
	return nil
}

func offsetExtended(frame *FrameContext) error {
	reg, err := readULEB(frame)
	if err != nil {
		return err
	}
	off, err := readULEB(frame)
	if err != nil {
		return err
	}
	frame.Regs[reg] = DWRule{Rule: RuleOffset, Offset: int64(off) * frame.dataAlignment}
	return nil
}

func undefined(frame *FrameContext) error {
	reg, err := readULEB(frame)
	if err != nil {
		return err
	}
	frame.Regs[reg] = DWRule{Rule: RuleUndefined}
	return nil
}

func sameValue(frame *FrameContext) error {
	reg, err := readULEB(frame)
	if err != nil {
		return err
	}
	frame.Regs[reg] = DWRule{Rule: RuleSameValue}
	return nil
}

func register(frame *FrameContext) error {
	reg1, err := readULEB(frame)
	if err != nil {
		return err
	}
	reg2, err := readULEB(frame)
	if err != nil {
		return err
	}
	frame.Regs[reg1] = DWRule{Rule: RuleRegister, Reg: reg2}
	return nil
}

func rememberState(frame *FrameContext) error {
	cloned := make(map[uint64]DWRule, len(frame.Regs))
	for k, v := range frame.Regs {
		cloned[k] = v
	}
	frame.remembered = append(frame.remembered, rowState{cfa: frame.CFA, regs: cloned})
	return nil
}

func restoreState(frame *FrameContext) error {
	if len(frame.remembered) == 0 {
		return errkind.New(errkind.ArgOutOfRange)
	}
	top := frame.remembered[len(frame.remembered)-1]
	frame.remembered = frame.remembered[:len(frame.remembered)-1]
	frame.CFA = top.cfa
	frame.Regs = top.regs
	return nil
}

func restoreExtended(frame *FrameContext) error {
	reg, err := readULEB(frame)
	if err != nil {
		return err
	}
	if old, ok := frame.initialRegs[reg]; ok {
		frame.Regs[reg] = old
	} else {
		frame.Regs[reg] = DWRule{Rule: RuleUndefined}
	}
	return nil
}

func defCFA(frame *FrameContext) error {
	reg, err := readULEB(frame)
	if err != nil {
		return err
	}
	off, err := readULEB(frame)
	if err != nil {
		return err
	}
	frame.CFA = DWRule{Rule: RuleCFA, Reg: reg, Offset: int64(off)}
	return nil
}

func defCFARegister(frame *FrameContext) error {
	reg, err := readULEB(frame)
	if err != nil {
		return err
	}
	frame.CFA.Reg = reg
	frame.CFA.Rule = RuleCFA
	return nil
}

func defCFAOffset(frame *FrameContext) error {
	off, err := readULEB(frame)
	if err != nil {
		return err
	}
	frame.CFA.Offset = int64(off)
	frame.CFA.Rule = RuleCFA
	return nil
}

func defCFASF(frame *FrameContext) error {
	reg, err := readULEB(frame)
	if err != nil {
		return err
	}
	off, err := readSLEB(frame)
	if err != nil {
		return err
	}
	frame.CFA = DWRule{Rule: RuleCFA, Reg: reg, Offset: off * frame.dataAlignment}
	return nil
}

func defCFAOffsetSF(frame *FrameContext) error {
	off, err := readSLEB(frame)
	if err != nil {
		return err
	}
	frame.CFA.Offset = off * frame.dataAlignment
	frame.CFA.Rule = RuleCFA
	return nil
}

func defCFAExpression(frame *FrameContext) error {
	l, err := readULEB(frame)
	if err != nil {
		return err
	}
	expr, err := readBlock(frame, l)
	if err != nil {
		return err
	}
	frame.CFA = DWRule{Rule: RuleExpression, Expression: expr}
	return nil
}

func expression(frame *FrameContext) error {
	reg, err := readULEB(frame)
	if err != nil {
		return err
	}
	l, err := readULEB(frame)
	if err != nil {
		return err
	}
	expr, err := readBlock(frame, l)
	if err != nil {
		return err
	}
	frame.Regs[reg] = DWRule{Rule: RuleExpression, Expression: expr}
	return nil
}

func offsetExtendedSF(frame *FrameContext) error {
	reg, err := readULEB(frame)
	if err != nil {
		return err
	}
	off, err := readSLEB(frame)
	if err != nil {
		return err
	}
	frame.Regs[reg] = DWRule{Rule: RuleOffset, Offset: off * frame.dataAlignment}
	return nil
}

func valOffset(frame *FrameContext) error {
	reg, err := readULEB(frame)
	if err != nil {
		return err
	}
	off, err := readULEB(frame)
	if err != nil {
		return err
	}
	frame.Regs[reg] = DWRule{Rule: RuleValOffset, Offset: int64(off) * frame.dataAlignment}
	return nil
}

func valOffsetSF(frame *FrameContext) error {
	reg, err := readULEB(frame)
	if err != nil {
		return err
	}
	off, err := readSLEB(frame)
	if err != nil {
		return err
	}
	frame.Regs[reg] = DWRule{Rule: RuleValOffset, Offset: off * frame.dataAlignment}
	return nil
}

func valExpression(frame *FrameContext) error {
	reg, err := readULEB(frame)
	if err != nil {
		return err
	}
	l, err := readULEB(frame)
	if err != nil {
		return err
	}
	expr, err := readBlock(frame, l)
	if err != nil {
		return err
	}
	frame.Regs[reg] = DWRule{Rule: RuleValExpression, Expression: expr}
	return nil
}

// gnuArgsSize records the amount of outgoing argument space live at
// this point; irrelevant to register recovery, so it is parsed and
// discarded.
func gnuArgsSize(frame *FrameContext) error {
	_, err := readULEB(frame)
	return err
}

func gnuNegativeOffsetExtended(frame *FrameContext) error {
	reg, err := readULEB(frame)
	if err != nil {
		return err
	}
	off, err := readULEB(frame)
	if err != nil {
		return err
	}
	frame.Regs[reg] = DWRule{Rule: RuleOffset, Offset: -int64(off) * frame.dataAlignment}
	return nil
}

func skipOneByte(frame *FrameContext) error {
	_, err := readByte(frame)
	return err
}
