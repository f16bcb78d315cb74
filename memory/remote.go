package memory

import (
	"golang.org/x/sys/unix"

	"github.com/msft-mirror-aosp/platform.system.unwinding/errkind"
)

// remoteReadFunc is either scatter/gather (process_vm_readv) or
// word-at-a-time ptrace peeks; Remote latches onto whichever one
// first succeeds, since a failure of process_vm_readv on a given
// kernel/seccomp policy is expected to be permanent for the process.
type remoteReadFunc func(pid int, addr uint64, dst []byte) (int, error)

// Remote reads another process's memory via ptrace, preferring the
// process_vm_readv scatter/gather syscall and falling back to
// PTRACE_PEEKTEXT word reads the first time that fails.
type Remote struct {
	Pid int

	// Is32Bit, when set, rejects any address above 32 bits outright —
	// a 32-bit tracer cannot express a 64-bit remote address.
	Is32Bit bool

	read remoteReadFunc
}

// NewRemote attaches a Remote oracle to an already-ptrace-attached
// (or otherwise readable, e.g. same-user) pid.
func NewRemote(pid int) *Remote { return &Remote{Pid: pid} }

func (r *Remote) ReadMemory(dst []byte, addr uint64) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	if r.Is32Bit && addr > 0xffffffff {
		return 0, errkind.NewAt(errkind.ArgOutOfRange, addr)
	}
	if r.read != nil {
		return r.read(r.Pid, addr, dst)
	}

	if n, err := processVMRead(r.Pid, addr, dst); err == nil && n > 0 {
		r.read = processVMRead
		return n, nil
	}
	n, err := ptraceWordRead(r.Pid, addr, dst)
	if err == nil && n > 0 {
		r.read = ptraceWordRead
	}
	return n, err
}

func processVMRead(pid int, addr uint64, dst []byte) (int, error) {
	local := []unix.Iovec{{Base: &dst[0], Len: uint64(len(dst))}}
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(dst)}}
	n, err := unix.ProcessVMReadv(pid, local, remote, 0)
	if err != nil {
		return 0, errkind.Wrap(errkind.MemoryInvalid, err)
	}
	return n, nil
}

// ptraceWordRead reads in machine-word chunks via PTRACE_PEEKTEXT,
// handling misaligned starts and trailing partial words the way
// PtraceRead in the retrieved source does.
func ptraceWordRead(pid int, addr uint64, dst []byte) (int, error) {
	const wordSize = 8
	read := 0
	for read < len(dst) {
		wordAddr := (addr + uint64(read)) &^ (wordSize - 1)
		misalign := int((addr + uint64(read)) & (wordSize - 1))

		var word [wordSize]byte
		n, err := unix.PtracePeekData(pid, uintptr(wordAddr), word[:])
		if err != nil || n != wordSize {
			return read, errkind.NewAt(errkind.MemoryInvalid, addr+uint64(read))
		}

		copyLen := wordSize - misalign
		if remaining := len(dst) - read; copyLen > remaining {
			copyLen = remaining
		}
		copy(dst[read:read+copyLen], word[misalign:misalign+copyLen])
		read += copyLen
	}
	return read, nil
}
