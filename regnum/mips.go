package regnum

import "fmt"

// DWARF register numbers for MIPS32/MIPS64, per the MIPS psABI
// dwarf register mapping (both widths share the same numbering).

const (
	MIPS_R0 = 0 // R1 through R28 follow
	MIPS_SP = 29
	MIPS_FP = 30
	MIPS_RA = 31
	MIPS_PC = 34
)

func MIPSToName(num uint64) string {
	switch {
	case num <= 31:
		return fmt.Sprintf("r%d", num)
	case num == MIPS_PC:
		return "pc"
	default:
		return fmt.Sprintf("unknown%d", num)
	}
}

func MIPSMaxRegNum() uint64 { return MIPS_PC }

var MIPSNameToDwarf = func() map[string]uint64 {
	r := make(map[string]uint64)
	for i := uint64(0); i <= 31; i++ {
		r[fmt.Sprintf("r%d", i)] = i
	}
	r["pc"] = MIPS_PC
	return r
}()
