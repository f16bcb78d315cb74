package regnum

import (
	"fmt"
	"strings"
)

// DWARF register numbers for x86-64, per the System V AMD64 ABI
// psABI, section 3.6.2.

const (
	AMD64_Rax    = 0
	AMD64_Rdx    = 1
	AMD64_Rcx    = 2
	AMD64_Rbx    = 3
	AMD64_Rsi    = 4
	AMD64_Rdi    = 5
	AMD64_Rbp    = 6
	AMD64_Rsp    = 7
	AMD64_R8     = 8
	AMD64_R9     = 9
	AMD64_R10    = 10
	AMD64_R11    = 11
	AMD64_R12    = 12
	AMD64_R13    = 13
	AMD64_R14    = 14
	AMD64_R15    = 15
	AMD64_Rip    = 16
	AMD64_Rflags = 49
	AMD64_Es     = 50
	AMD64_Cs     = 51
	AMD64_Ss     = 52
	AMD64_Ds     = 53
	AMD64_Fs     = 54
	AMD64_Gs     = 55
)

var amd64Names = map[uint64]string{
	AMD64_Rax: "rax", AMD64_Rdx: "rdx", AMD64_Rcx: "rcx", AMD64_Rbx: "rbx",
	AMD64_Rsi: "rsi", AMD64_Rdi: "rdi", AMD64_Rbp: "rbp", AMD64_Rsp: "rsp",
	AMD64_R8: "r8", AMD64_R9: "r9", AMD64_R10: "r10", AMD64_R11: "r11",
	AMD64_R12: "r12", AMD64_R13: "r13", AMD64_R14: "r14", AMD64_R15: "r15",
	AMD64_Rip: "rip", AMD64_Rflags: "rflags",
	AMD64_Es: "es", AMD64_Cs: "cs", AMD64_Ss: "ss", AMD64_Ds: "ds", AMD64_Fs: "fs", AMD64_Gs: "gs",
}

var AMD64NameToDwarf = invert(amd64Names)

func AMD64ToName(num uint64) string { return nameOrUnknown(amd64Names, num) }

func AMD64MaxRegNum() uint64 { return maxKey(amd64Names) }

func invert(m map[uint64]string) map[string]uint64 {
	r := make(map[string]uint64, len(m))
	for k, v := range m {
		r[strings.ToLower(v)] = k
	}
	return r
}

func maxKey(m map[uint64]string) uint64 {
	var max uint64
	for k := range m {
		if k > max {
			max = k
		}
	}
	return max
}

func nameOrUnknown(m map[uint64]string, num uint64) string {
	if name, ok := m[num]; ok {
		return name
	}
	return fmt.Sprintf("unknown%d", num)
}
