package arch

import "github.com/msft-mirror-aosp/platform.system.unwinding/regnum"

func init() {
	pcRegNum[ARM] = regnum.ARM_PC
	spRegNum[ARM] = regnum.ARM_SP
	raRegNum[ARM] = regnum.ARM_LR

	pcRegNum[ARM64] = regnum.ARM64_PC
	spRegNum[ARM64] = regnum.ARM64_SP
	raRegNum[ARM64] = regnum.ARM64_LR

	pcRegNum[X86] = regnum.I386_Eip
	spRegNum[X86] = regnum.I386_Esp

	pcRegNum[X86_64] = regnum.AMD64_Rip
	spRegNum[X86_64] = regnum.AMD64_Rsp

	pcRegNum[RISCV64] = regnum.RISCV64_PC
	spRegNum[RISCV64] = regnum.RISCV64_SP
	raRegNum[RISCV64] = regnum.RISCV64_LR

	pcRegNum[MIPS] = regnum.MIPS_PC
	spRegNum[MIPS] = regnum.MIPS_SP
	raRegNum[MIPS] = regnum.MIPS_RA

	pcRegNum[MIPS64] = regnum.MIPS_PC
	spRegNum[MIPS64] = regnum.MIPS_SP
	raRegNum[MIPS64] = regnum.MIPS_RA

	fpRegNum[ARM] = regnum.ARM_FP
	fpRegNum[MIPS] = regnum.MIPS_FP
	fpRegNum[MIPS64] = regnum.MIPS_FP

	nameToDwarf[ARM] = regnum.ARMNameToDwarf
	nameToDwarf[ARM64] = regnum.ARM64NameToDwarf
	nameToDwarf[X86] = regnum.I386NameToDwarf
	nameToDwarf[X86_64] = regnum.AMD64NameToDwarf
	nameToDwarf[RISCV64] = regnum.RISCV64NameToDwarf
	nameToDwarf[MIPS] = regnum.MIPSNameToDwarf
	nameToDwarf[MIPS64] = regnum.MIPSNameToDwarf

	maxRegNum[ARM] = regnum.ARMMaxRegNum()
	maxRegNum[ARM64] = regnum.ARM64MaxRegNum()
	maxRegNum[X86] = regnum.I386MaxRegNum()
	maxRegNum[X86_64] = regnum.AMD64MaxRegNum()
	maxRegNum[RISCV64] = regnum.RISCV64MaxRegNum()
	maxRegNum[MIPS] = regnum.MIPSMaxRegNum()
	maxRegNum[MIPS64] = regnum.MIPSMaxRegNum()
}
