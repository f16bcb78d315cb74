package jitdebug

import "github.com/msft-mirror-aosp/platform.system.unwinding/arch"

// layout captures the pointer-sized, architecture-dependent shape of
// the GDB/JIT descriptor and entry structures. It is computed once
// per catalog at construction — instantiate per-arch variants up
// front rather than branching on architecture inside every read.
//
// JITDescriptor is { version uint32, action_flag uint32,
// relevant_entry UintPtr, first_entry UintPtr } — always packed
// (UintPtr fields never need more than natural 4/8-byte alignment
// after the two leading uint32s).
//
// JITCodeEntry is { next, prev, symfile_addr UintPtr, symfile_size
// uint64 }. On x86 (32-bit pointers) the uint64 field is explicitly
// unaligned/packed; every other architecture aligns it to 8 bytes,
// which on a 32-bit pointer width (arm, mips) inserts 4 bytes of
// padding before it.
type layout struct {
	ptrSize        int
	descriptorSize int
	entrySize      int
	symfileOff     int // offset of symfile_addr within JITCodeEntry
	sizeOff        int // offset of symfile_size within JITCodeEntry
}

func layoutFor(a arch.Name) layout {
	ptrSize := a.PointerSize()
	l := layout{
		ptrSize:        ptrSize,
		descriptorSize: 4 + 4 + ptrSize + ptrSize,
		symfileOff:     2 * ptrSize,
	}
	if a == arch.X86 {
		// Explicitly packed: no alignment padding before symfile_size.
		l.sizeOff = 3 * ptrSize
	} else {
		l.sizeOff = align(3*ptrSize, 8)
	}
	l.entrySize = l.sizeOff + 8
	return l
}

func align(off, to int) int {
	if r := off % to; r != 0 {
		return off + (to - r)
	}
	return off
}
