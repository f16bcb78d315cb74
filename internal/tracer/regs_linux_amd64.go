//go:build linux && amd64

package tracer

import (
	"golang.org/x/sys/unix"

	"github.com/msft-mirror-aosp/platform.system.unwinding/arch"
	"github.com/msft-mirror-aosp/platform.system.unwinding/errkind"
	"github.com/msft-mirror-aosp/platform.system.unwinding/regnum"
)

// ReadRegisters fetches the tracee's general-purpose registers via
// PTRACE_GETREGS and maps the amd64 PtraceRegs fields onto DWARF
// register numbers, the same field-to-number correspondence as
// registers_linux_amd64.go's linutil.NewAMD64Registers.
func (t *Tracer) ReadRegisters() (*arch.Registers, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(t.Pid, &regs); err != nil {
		return nil, errkind.Wrap(errkind.InvalidParameter, err)
	}

	r := arch.NewRegisters(arch.X86_64, int(arch.X86_64.MaxRegNum())+1)
	r.Set(regnum.AMD64_Rax, regs.Rax)
	r.Set(regnum.AMD64_Rdx, regs.Rdx)
	r.Set(regnum.AMD64_Rcx, regs.Rcx)
	r.Set(regnum.AMD64_Rbx, regs.Rbx)
	r.Set(regnum.AMD64_Rsi, regs.Rsi)
	r.Set(regnum.AMD64_Rdi, regs.Rdi)
	r.Set(regnum.AMD64_Rbp, regs.Rbp)
	r.Set(regnum.AMD64_Rsp, regs.Rsp)
	r.Set(regnum.AMD64_R8, regs.R8)
	r.Set(regnum.AMD64_R9, regs.R9)
	r.Set(regnum.AMD64_R10, regs.R10)
	r.Set(regnum.AMD64_R11, regs.R11)
	r.Set(regnum.AMD64_R12, regs.R12)
	r.Set(regnum.AMD64_R13, regs.R13)
	r.Set(regnum.AMD64_R14, regs.R14)
	r.Set(regnum.AMD64_R15, regs.R15)
	r.Set(regnum.AMD64_Rip, regs.Rip)
	r.Set(regnum.AMD64_Rflags, regs.Eflags)
	r.Set(regnum.AMD64_Cs, regs.Cs)
	r.Set(regnum.AMD64_Ss, regs.Ss)
	r.Set(regnum.AMD64_Ds, regs.Ds)
	r.Set(regnum.AMD64_Es, regs.Es)
	r.Set(regnum.AMD64_Fs, regs.Fs)
	r.Set(regnum.AMD64_Gs, regs.Gs)
	return r, nil
}
