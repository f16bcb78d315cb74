package arch

import "github.com/msft-mirror-aosp/platform.system.unwinding/regnum"

// Registers is the fixed-size register file: read/write by DWARF
// register index, pc/sp/ra accessors, set-pc-from-ra, clone, and
// iteration. Unset slots read as (0, false) so callers can
// distinguish "never written" from "zero".
type Registers struct {
	Arch Name
	vals []uint64
	set  []bool

	// PointerAuthMask, on arm64, is ANDed out of any value read from
	// the link register or any register-rule-derived return address
	// before it is used as a PC. Caller-supplied; no autodiscovery.
	PointerAuthMask uint64

	// Vlenb is the riscv64 vector-register-length pseudo-register.
	// When TargetVlenbUnavailable is true it was sampled from the
	// unwinder's own host core rather than the target; callers should
	// treat it as potentially wrong on heterogeneous cores.
	Vlenb                   uint64
	TargetVlenbUnavailable  bool
}

// NewRegisters allocates an empty register file sized for n DWARF
// register slots (typically one more than the architecture's highest
// numbered register).
func NewRegisters(a Name, n int) *Registers {
	return &Registers{Arch: a, vals: make([]uint64, n), set: make([]bool, n)}
}

// Reg implements op.Registers.
func (r *Registers) Reg(n uint64) (uint64, bool) {
	if int(n) >= len(r.vals) || !r.set[n] {
		return 0, false
	}
	return r.vals[n], true
}

// Get returns the same thing as Reg; kept as a separate name to
// match the read/write-by-index naming convention.
func (r *Registers) Get(n uint64) (uint64, bool) { return r.Reg(n) }

// Set writes register n, growing the backing slices if necessary.
func (r *Registers) Set(n uint64, v uint64) {
	if int(n) >= len(r.vals) {
		grown := make([]uint64, n+1)
		copy(grown, r.vals)
		r.vals = grown
		grownSet := make([]bool, n+1)
		copy(grownSet, r.set)
		r.set = grownSet
	}
	r.vals[n] = v
	r.set[n] = true
}

// Unset marks register n as having no rule-derived value (distinct
// from being zero), mirroring DW_CFA_undefined.
func (r *Registers) Unset(n uint64) {
	if int(n) < len(r.set) {
		r.set[n] = false
	}
}

// PC returns the program counter, with the arm64 pointer-auth mask
// applied if set.
func (r *Registers) PC() uint64 {
	v, _ := r.Reg(r.Arch.PCRegNum())
	return r.maskPAC(v)
}

func (r *Registers) SetPC(v uint64) { r.Set(r.Arch.PCRegNum(), v) }

// SP returns the stack pointer.
func (r *Registers) SP() uint64 {
	v, _ := r.Reg(r.Arch.SPRegNum())
	return v
}

func (r *Registers) SetSP(v uint64) { r.Set(r.Arch.SPRegNum(), v) }

// RA returns the architecture's dedicated link register, if any.
func (r *Registers) RA() (uint64, bool) {
	n, ok := r.Arch.RARegNum()
	if !ok {
		return 0, false
	}
	v, ok := r.Reg(n)
	return r.maskPAC(v), ok
}

// SetPCFromReturnAddress sets PC from the return-address register.
func (r *Registers) SetPCFromReturnAddress() bool {
	v, ok := r.RA()
	if !ok {
		return false
	}
	r.SetPC(v)
	return true
}

func (r *Registers) maskPAC(v uint64) uint64 {
	if r.Arch == ARM64 && r.PointerAuthMask != 0 {
		return v &^ r.PointerAuthMask
	}
	return v
}

// Clone returns an independent copy; the unwinder's driver loop
// mutates registers in place per step and a caller wanting to replay
// must clone first.
func (r *Registers) Clone() *Registers {
	c := &Registers{
		Arch:                   r.Arch,
		vals:                   append([]uint64(nil), r.vals...),
		set:                    append([]bool(nil), r.set...),
		PointerAuthMask:        r.PointerAuthMask,
		Vlenb:                  r.Vlenb,
		TargetVlenbUnavailable: r.TargetVlenbUnavailable,
	}
	return c
}

// Each calls f for every set register with its architecture-specific
// display name.
func (r *Registers) Each(f func(name string, value uint64)) {
	for i, ok := range r.set {
		if !ok {
			continue
		}
		f(NameForReg(r.Arch, uint64(i)), r.vals[i])
	}
}

// NameForReg renders a DWARF register number using the naming table
// of regnum for the given architecture.
func NameForReg(a Name, n uint64) string {
	switch a {
	case ARM:
		return regnum.ARMToName(n)
	case ARM64:
		return regnum.ARM64ToName(n)
	case X86:
		return regnum.I386ToName(n)
	case X86_64:
		return regnum.AMD64ToName(n)
	case RISCV64:
		return regnum.RISCV64ToName(n)
	case MIPS, MIPS64:
		return regnum.MIPSToName(n)
	default:
		return "unknown"
	}
}

// RegByName resolves an architecture-specific register name (as found
// in an offline snapshot's regs.txt) to a DWARF register number.
func RegByName(a Name, name string) (uint64, bool) {
	var table map[string]uint64
	switch a {
	case ARM:
		table = regnum.ARMNameToDwarf
	case ARM64:
		table = regnum.ARM64NameToDwarf
	case X86:
		table = regnum.I386NameToDwarf
	case X86_64:
		table = regnum.AMD64NameToDwarf
	case RISCV64:
		table = regnum.RISCV64NameToDwarf
	case MIPS, MIPS64:
		table = regnum.MIPSNameToDwarf
	default:
		return 0, false
	}
	n, ok := table[name]
	return n, ok
}
