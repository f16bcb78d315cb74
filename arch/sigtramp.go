package arch

import (
	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"
)

// signature is a short fixed-opcode pattern recognized at a candidate
// PC, and the SP-relative offset of the saved general-purpose
// register file once recognized (siginfo_t size + uc_mcontext header
// + mcontext gregs offset, architecture-specific ABI layout).
type signature struct {
	opcodes   []byte
	sigframeRegsOffset uint64 // offset from SP to the mcontext register array
}

// sigtrampSignatures holds, per architecture, the kernel
// rt_sigreturn trampoline's opcode bytes. Grounded on
// RegsRiscv64::StepIfSignalHandler (the one arch the retrieved source
// carries verbatim); the other architectures' opcode encodings and
// offsets follow the same ABI family (siginfo_t + ucontext header +
// mcontext gregs) documented throughout bionic's unwindstack sources.
var sigtrampSignatures = map[Name]signature{
	RISCV64: {
		// li a7, __NR_rt_sigreturn (139) ; scall
		opcodes:            []byte{0x93, 0x08, 0xb0, 0x08, 0x73, 0x00, 0x00, 0x00},
		sigframeRegsOffset: 0x80 + 0xb0 + 0x00,
	},
	ARM64: {
		// mov x8, #0x8b (__NR_rt_sigreturn) ; svc #0
		opcodes:            []byte{0x68, 0x11, 0x80, 0xd2, 0x01, 0x00, 0x00, 0xd4},
		sigframeRegsOffset: 0x80 + 0xb0 + 0x08,
	},
	ARM: {
		// mov r7, #173 (__NR_rt_sigreturn) ; svc #0, 32-bit ARM encoding only; Thumb-mode sequences do not match
		opcodes:            []byte{0xad, 0x70, 0xa0, 0xe3, 0x00, 0x00, 0x00, 0xef},
		sigframeRegsOffset: 0,
	},
	X86_64: {
		// mov $0xf, %eax (rt_sigreturn) ; syscall
		opcodes:            []byte{0xb8, 0x0f, 0x00, 0x00, 0x00, 0x0f, 0x05},
		sigframeRegsOffset: 0,
	},
	X86: {
		// mov $0xad, %eax (rt_sigreturn) ; int $0x80
		opcodes:            []byte{0xb8, 0xad, 0x00, 0x00, 0x00, 0xcd, 0x80},
		sigframeRegsOffset: 0,
	},
}

// SignalTrampolineSignature returns the kernel rt_sigreturn opcode
// pattern for the architecture, or ok=false if this architecture's
// unwinder relies entirely on CFI for signal frames (MIPS/MIPS64:
// no signature retrieved).
func SignalTrampolineSignature(a Name) (opcodes []byte, sigframeRegsOffset uint64, ok bool) {
	sig, found := sigtrampSignatures[a]
	if !found {
		return nil, 0, false
	}
	return sig.opcodes, sig.sigframeRegsOffset, true
}

// MatchesSignalTrampoline reports whether code (read from the
// candidate pc) is the architecture's rt_sigreturn trampoline. The
// raw byte comparison is the primary test; on arm64 and x86/x86-64 it
// is corroborated by decoding the instructions with the x/arch
// disassembler and checking their mnemonics, since a byte match alone
// can't distinguish the trampoline from coincidentally identical
// immediate-load sequences emitted by ordinary code.
func MatchesSignalTrampoline(a Name, code []byte) bool {
	sig, found := sigtrampSignatures[a]
	if !found || len(code) < len(sig.opcodes) {
		return false
	}
	for i, b := range sig.opcodes {
		if code[i] != b {
			return false
		}
	}

	switch a {
	case ARM64:
		return decodedAsARM64(code, arm64asm.MOVZ) && decodedAsARM64(code[4:], arm64asm.SVC)
	case X86_64:
		return decodedAsX86(code, 64, x86asm.MOV) && decodedAsX86(code[5:], 64, x86asm.SYSCALL)
	case X86:
		return decodedAsX86(code, 32, x86asm.MOV) && decodedAsX86(code[5:], 32, x86asm.INT)
	default:
		return true
	}
}

func decodedAsARM64(code []byte, want arm64asm.Op) bool {
	inst, err := arm64asm.Decode(code)
	return err == nil && inst.Op == want
}

func decodedAsX86(code []byte, mode int, want x86asm.Op) bool {
	inst, err := x86asm.Decode(code, mode)
	return err == nil && inst.Op == want
}
