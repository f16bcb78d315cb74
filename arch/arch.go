// Package arch provides the architecture-dependent pieces of the
// unwinder: the register file, pointer width, signal-trampoline
// opcode signatures, and the frame-pointer fallback stepper used when
// CFI is unavailable.
package arch

import "fmt"

// Name enumerates the supported target architectures.
type Name int

const (
	Unknown Name = iota
	ARM
	ARM64
	X86
	X86_64
	RISCV64
	MIPS
	MIPS64
)

func (n Name) String() string {
	switch n {
	case ARM:
		return "arm"
	case ARM64:
		return "arm64"
	case X86:
		return "x86"
	case X86_64:
		return "x86_64"
	case RISCV64:
		return "riscv64"
	case MIPS:
		return "mips"
	case MIPS64:
		return "mips64"
	default:
		return "unknown"
	}
}

// PointerSize returns the width, in bytes, of a pointer/register on
// this architecture.
func (n Name) PointerSize() int {
	switch n {
	case ARM, X86, MIPS:
		return 4
	case ARM64, X86_64, RISCV64, MIPS64:
		return 8
	default:
		return 8
	}
}

// PCRegNum, SPRegNum, RARegNum return the DWARF register numbers
// that hold the program counter, stack pointer, and return address
// (where the architecture has a dedicated link register; 0,false
// otherwise — the return address then comes from the CFI RA column
// only) for this architecture.
func (n Name) PCRegNum() uint64 { return pcRegNum[n] }
func (n Name) SPRegNum() uint64 { return spRegNum[n] }
func (n Name) RARegNum() (uint64, bool) {
	v, ok := raRegNum[n]
	return v, ok
}

// NameToDwarf returns the register-name-to-DWARF-number table for
// this architecture (e.g. "x0"->0, "sp"->31 on arm64), the same names
// an offline regs.txt snapshot uses.
func (n Name) NameToDwarf() map[string]uint64 { return nameToDwarf[n] }

// MaxRegNum returns the highest DWARF register number this
// architecture defines, for sizing a Registers file.
func (n Name) MaxRegNum() uint64 { return maxRegNum[n] }

// FPRegNum returns the conventional frame-pointer register, for the
// narrow set of architectures where the unwinder falls back to
// frame-pointer chain walking when CFI is unavailable.
func (n Name) FPRegNum() (uint64, bool) {
	v, ok := fpRegNum[n]
	return v, ok
}

var pcRegNum = map[Name]uint64{}
var spRegNum = map[Name]uint64{}
var raRegNum = map[Name]uint64{}
var fpRegNum = map[Name]uint64{}
var nameToDwarf = map[Name]map[string]uint64{}
var maxRegNum = map[Name]uint64{}

// ErrUnknownArch is returned when a byte stream or name does not
// match any supported architecture.
type ErrUnknownArch struct{ Detail string }

func (e *ErrUnknownArch) Error() string { return fmt.Sprintf("unknown architecture: %s", e.Detail) }
