// Package frame parses .eh_frame, .eh_frame_hdr, and .debug_frame
// CFI tables and builds the per-PC register-rule row the evaluator
// consumes.
package frame

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// CommonInformationEntry is the per-FDE-group context: code/data
// alignment, return-address register, augmentation flags, initial
// instructions.
type CommonInformationEntry struct {
	Length                uint64
	Version               uint8
	Augmentation          string
	CodeAlignmentFactor   uint64
	DataAlignmentFactor   int64
	ReturnAddressRegister uint64
	InitialInstructions   []byte
	IsDebugFrame          bool

	HasPersonality  bool
	PersonalityEnc  PtrEnc
	LSDAEncoding    PtrEnc
	FDEPointerEnc   PtrEnc
	IsSignalFrame   bool

	staticBase uint64
}

// FrameDescriptionEntry covers one function's [pc_start, pc_end)
// unwind program.
type FrameDescriptionEntry struct {
	Length       uint64
	CIE          *CommonInformationEntry
	Instructions []byte
	begin, size  uint64
	order        binary.ByteOrder
}

func (fde *FrameDescriptionEntry) Cover(addr uint64) bool {
	return addr >= fde.begin && addr-fde.begin < fde.size
}

func (fde *FrameDescriptionEntry) Begin() uint64 { return fde.begin }
func (fde *FrameDescriptionEntry) End() uint64   { return fde.begin + fde.size }

// EstablishFrame executes the CIE then FDE programs up to pc and
// returns the resulting row.
func (fde *FrameDescriptionEntry) EstablishFrame(pc uint64) (*FrameContext, error) {
	return executeDwarfProgramUntilPC(fde, pc)
}

// FrameDescriptionEntries is an Begin-ordered slice of FDEs, binary
// searched by FDEForPC.
type FrameDescriptionEntries []*FrameDescriptionEntry

// ErrNoFDEForPC is returned when no FDE covers the requested PC —
// the caller should report unwind-info-missing.
type ErrNoFDEForPC struct{ PC uint64 }

func (err *ErrNoFDEForPC) Error() string {
	return fmt.Sprintf("no FDE covers pc %#x", err.PC)
}

// FDEForPC binary searches for the FDE covering pc. fdes must be
// sorted by Begin().
func (fdes FrameDescriptionEntries) FDEForPC(pc uint64) (*FrameDescriptionEntry, error) {
	idx := sort.Search(len(fdes), func(i int) bool {
		return fdes[i].Begin()+fdes[i].size > pc
	})
	if idx == len(fdes) || !fdes[idx].Cover(pc) {
		return nil, &ErrNoFDEForPC{pc}
	}
	return fdes[idx], nil
}

func (fdes FrameDescriptionEntries) sort() {
	sort.Slice(fdes, func(i, j int) bool { return fdes[i].Begin() < fdes[j].Begin() })
}

// PtrEnc is a DWARF eh_frame pointer-encoding byte: the low nibble is
// the size/signedness, the high nibble a relocation-relative flag.
// See https://www.airs.com/blog/archives/460.
type PtrEnc uint8

const (
	PtrEncAbs    PtrEnc = 0x00
	PtrEncOmit   PtrEnc = 0xff
	PtrEncUleb   PtrEnc = 0x01
	PtrEncUdata2 PtrEnc = 0x02
	PtrEncUdata4 PtrEnc = 0x03
	PtrEncUdata8 PtrEnc = 0x04
	PtrEncSigned PtrEnc = 0x08
	PtrEncSleb   PtrEnc = 0x09
	PtrEncSdata2 PtrEnc = 0x0a
	PtrEncSdata4 PtrEnc = 0x0b
	PtrEncSdata8 PtrEnc = 0x0c

	PtrEncFlagsMask PtrEnc = 0xf0

	PtrEncPCRel    PtrEnc = 0x10
	PtrEncTextRel  PtrEnc = 0x20
	PtrEncDataRel  PtrEnc = 0x30
	PtrEncFuncRel  PtrEnc = 0x40
	PtrEncAligned  PtrEnc = 0x50
	PtrEncIndirect PtrEnc = 0x80
)

// Supported reports whether this encoding is one the size/flag
// decoder below understands.
func (p PtrEnc) Supported() bool {
	if p == PtrEncOmit {
		return true
	}
	szenc := p & 0x0f
	if szenc > PtrEncUdata8 && szenc < PtrEncSigned {
		return false
	}
	if szenc > PtrEncSdata8 {
		return false
	}
	switch p & PtrEncFlagsMask {
	case 0, PtrEncPCRel, PtrEncDataRel:
		return true
	default:
		return false
	}
}

// Size returns the encoded size in bytes, or 0 for ULEB/SLEB (which
// decodeEncodedPtr measures directly from the bitstream) and for Abs/
// Signed (pointer-sized, caller supplies addrSize).
func (p PtrEnc) Size() int {
	switch p & 0x0f {
	case PtrEncUdata2, PtrEncSdata2:
		return 2
	case PtrEncUdata4, PtrEncSdata4:
		return 4
	case PtrEncUdata8, PtrEncSdata8:
		return 8
	default:
		return 0
	}
}

func (p PtrEnc) signed() bool {
	return p&0x0f >= PtrEncSigned
}
