package memory

import "unsafe"

// Local reads directly out of the calling process's own address
// space — used when the unwinder is walking its own stack (in-process
// sampling) rather than a separately traced target.
type Local struct{}

// ReadMemory copies size bytes starting at addr out of this process's
// address space. Unlike the ptrace-backed oracles this cannot fail
// short of a segfault; callers must only pass addresses known to be
// mapped (e.g. from a /proc/self/maps entry).
func (Local) ReadMemory(dst []byte, addr uint64) (int, error) {
	src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), len(dst))
	copy(dst, src)
	return len(dst), nil
}
