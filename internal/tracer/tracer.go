// Package tracer is a minimal, non-resuming ptrace wrapper: attach,
// wait for the initial stop, read registers and memory, detach. It
// never continues or steps the tracee — the offline capture tool, its
// only user, only ever needs a frozen snapshot.
package tracer

import (
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/msft-mirror-aosp/platform.system.unwinding/errkind"
)

// Tracer owns a ptrace attachment to a single pid, for the duration
// of one capture.
type Tracer struct {
	Pid int

	attached bool
}

// Attach ptrace-attaches to pid and blocks until the tracee reports
// its initial group-stop, mirroring threads_linux.go's
// halt()/wait() pairing without the resume half — this tracer never
// calls PtraceCont.
func Attach(pid int) (*Tracer, error) {
	if err := unix.PtraceAttach(pid); err != nil {
		return nil, errkind.Wrap(errkind.InvalidParameter, err)
	}
	var status unix.WaitStatus
	if _, err := unix.Wait4(pid, &status, 0, nil); err != nil {
		_ = unix.PtraceDetach(pid)
		return nil, errkind.Wrap(errkind.InvalidParameter, err)
	}
	return &Tracer{Pid: pid, attached: true}, nil
}

// Detach releases the tracee, letting it resume on its own.
func (t *Tracer) Detach() error {
	if !t.attached {
		return nil
	}
	t.attached = false
	if err := unix.PtraceDetach(t.Pid); err != nil {
		return errkind.Wrap(errkind.InvalidParameter, err)
	}
	return nil
}

// ReadMemory reads len(dst) bytes from the tracee at addr, one
// machine word at a time via PTRACE_PEEKDATA, the same misalignment
// handling as memory.Remote's ptraceWordRead fallback.
func (t *Tracer) ReadMemory(dst []byte, addr uint64) (int, error) {
	const wordSize = 8
	read := 0
	for read < len(dst) {
		wordAddr := (addr + uint64(read)) &^ (wordSize - 1)
		misalign := int((addr + uint64(read)) & (wordSize - 1))

		var word [wordSize]byte
		n, err := unix.PtracePeekData(t.Pid, uintptr(wordAddr), word[:])
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

// ReadMapsText reads /proc/pid/maps verbatim, for seeding an offline
// snapshot's maps.txt from a live capture.
func (t *Tracer) ReadMapsText() (string, error) {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(t.Pid) + "/maps")
	if err != nil {
		return "", errkind.Wrap(errkind.InvalidParameter, err)
	}
	return string(data), nil
}
