package regnum

import "fmt"

// DWARF register numbers for RISC-V64, per the RISC-V ELF psABI
// dwarf mapping document.

const (
	RISCV64_X0 = 0
	RISCV64_LR = 1
	RISCV64_SP = 2
	RISCV64_FP = 8
	RISCV64_X31 = 31
	RISCV64_F0  = 32
	RISCV64_F31 = 63
	RISCV64_PC  = 65

	// Vendor-defined CSR pseudo-register carrying the vector
	// register length in bytes.
	RISCV64_Vlenb = 66
)

func RISCV64ToName(num uint64) string {
	switch {
	case num <= RISCV64_X31:
		return fmt.Sprintf("x%d", num)
	case num >= RISCV64_F0 && num <= RISCV64_F31:
		return fmt.Sprintf("f%d", num-RISCV64_F0)
	case num == RISCV64_PC:
		return "pc"
	case num == RISCV64_Vlenb:
		return "vlenb"
	default:
		return fmt.Sprintf("unknown%d", num)
	}
}

func RISCV64MaxRegNum() uint64 { return RISCV64_Vlenb }

var RISCV64NameToDwarf = func() map[string]uint64 {
	r := make(map[string]uint64)
	for i := uint64(0); i <= 31; i++ {
		r[fmt.Sprintf("x%d", i)] = RISCV64_X0 + i
		r[fmt.Sprintf("f%d", i)] = RISCV64_F0 + i
	}
	r["pc"] = RISCV64_PC
	r["vlenb"] = RISCV64_Vlenb
	return r
}()
