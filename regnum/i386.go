package regnum

// DWARF register numbers for x86 (32-bit), per the Intel386 psABI
// supplement, table 2.14.

const (
	I386_Eax    = 0
	I386_Ecx    = 1
	I386_Edx    = 2
	I386_Ebx    = 3
	I386_Esp    = 4
	I386_Ebp    = 5
	I386_Esi    = 6
	I386_Edi    = 7
	I386_Eip    = 8
	I386_Eflags = 9
	I386_Es     = 40
	I386_Cs     = 41
	I386_Ss     = 42
	I386_Ds     = 43
	I386_Fs     = 44
	I386_Gs     = 45
)

var i386Names = map[uint64]string{
	I386_Eax: "eax", I386_Ecx: "ecx", I386_Edx: "edx", I386_Ebx: "ebx",
	I386_Esp: "esp", I386_Ebp: "ebp", I386_Esi: "esi", I386_Edi: "edi",
	I386_Eip: "eip", I386_Eflags: "eflags",
	I386_Es: "es", I386_Cs: "cs", I386_Ss: "ss", I386_Ds: "ds", I386_Fs: "fs", I386_Gs: "gs",
}

var I386NameToDwarf = invert(i386Names)

func I386ToName(num uint64) string { return nameOrUnknown(i386Names, num) }

func I386MaxRegNum() uint64 { return maxKey(i386Names) }
