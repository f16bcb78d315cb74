package regnum

import "fmt"

// DWARF register numbers for AArch64, per the DWARF for the ARM
// 64-bit Architecture (AArch64) specification, table 1.

const (
	ARM64_X0 = 0 // X1 through X28 follow
	ARM64_BP = 29
	ARM64_LR = 30
	ARM64_SP = 31
	ARM64_PC = 32
	ARM64_V0 = 64 // V1 through V31 follow
)

func ARM64ToName(num uint64) string {
	switch {
	case num < ARM64_LR:
		return fmt.Sprintf("x%d", num)
	case num == ARM64_LR:
		return "lr"
	case num == ARM64_SP:
		return "sp"
	case num == ARM64_PC:
		return "pc"
	case num >= ARM64_V0 && num <= 95:
		return fmt.Sprintf("v%d", num-ARM64_V0)
	default:
		return fmt.Sprintf("unknown%d", num)
	}
}

func ARM64MaxRegNum() uint64 { return 95 }

var ARM64NameToDwarf = func() map[string]uint64 {
	r := make(map[string]uint64)
	for i := uint64(0); i <= 30; i++ {
		r[fmt.Sprintf("x%d", i)] = i
	}
	r["fp"] = ARM64_BP
	r["lr"] = ARM64_LR
	r["sp"] = ARM64_SP
	r["pc"] = ARM64_PC
	for i := uint64(0); i <= 31; i++ {
		r[fmt.Sprintf("v%d", i)] = ARM64_V0 + i
	}
	return r
}()
