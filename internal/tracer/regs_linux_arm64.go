//go:build linux && arm64

package tracer

import (
	"golang.org/x/sys/unix"

	"github.com/msft-mirror-aosp/platform.system.unwinding/arch"
	"github.com/msft-mirror-aosp/platform.system.unwinding/errkind"
	"github.com/msft-mirror-aosp/platform.system.unwinding/regnum"
)

// ReadRegisters fetches the tracee's general-purpose registers via
// PTRACE_GETREGS, the same PTRACE_GETREGSET/NT_PRSTATUS request
// registers_linux_arm64.go's ptraceGetGRegs issues, mapped onto x0-x30,
// sp and pc.
func (t *Tracer) ReadRegisters() (*arch.Registers, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(t.Pid, &regs); err != nil {
		return nil, errkind.Wrap(errkind.InvalidParameter, err)
	}

	r := arch.NewRegisters(arch.ARM64, int(arch.ARM64.MaxRegNum())+1)
	for i := 0; i <= 30; i++ {
		r.Set(uint64(i), regs.Regs[i])
	}
	r.Set(regnum.ARM64_SP, regs.Sp)
	r.Set(regnum.ARM64_PC, regs.Pc)
	return r, nil
}
