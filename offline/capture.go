package offline

import (
	"os"
	"path/filepath"

	"github.com/msft-mirror-aosp/platform.system.unwinding/addrspace"
	"github.com/msft-mirror-aosp/platform.system.unwinding/arch"
	"github.com/msft-mirror-aosp/platform.system.unwinding/errkind"
	"github.com/msft-mirror-aosp/platform.system.unwinding/internal/tracer"
)

// registerReader is implemented by the GOARCH-specific tracer builds;
// Capture fails with errkind.Unsupported on architectures without one.
type registerReader interface {
	ReadRegisters() (*arch.Registers, error)
}

// Capture freezes a running process into dir in the directory layout
// Load reads back: maps.txt (a verbatim copy of /proc/pid/maps),
// regs.txt (the tracee's general-purpose registers at attach time),
// and stack.data (every byte of every writable mapping, concatenated
// in address order so a single MemoryOffline covers the lot).
//
// This is a supplemental capture tool, not a resuming debugger: the
// tracee is ptrace-attached just long enough to read its state, then
// detached, never continued or single-stepped.
func Capture(pid int, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errkind.Wrap(errkind.InvalidParameter, err)
	}

	tr, err := tracer.Attach(pid)
	if err != nil {
		return err
	}
	defer tr.Detach()

	mapsText, err := tr.ReadMapsText()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "maps.txt"), []byte(mapsText), 0o644); err != nil {
		return errkind.Wrap(errkind.InvalidParameter, err)
	}

	rr, ok := (interface{})(tr).(registerReader)
	if !ok {
		return errkind.New(errkind.Unsupported)
	}
	regs, err := rr.ReadRegisters()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "regs.txt"), []byte(formatRegsText(regs)), 0o644); err != nil {
		return errkind.Wrap(errkind.InvalidParameter, err)
	}

	return captureStack(tr, mapsText, dir)
}

// captureStack snapshots every writable mapping's bytes into
// stack.data: one MemoryOffline's worth of payload covering the whole
// writable address range, gaps between mappings zero-filled so a
// single [start,end) OfflineBuffer can cover the lot. Unreadable
// pages (the target paged them out from under the tracer, or
// ReadMemory hit a gap) are left zeroed rather than aborting the
// whole capture.
func captureStack(tr *tracer.Tracer, mapsText string, dir string) error {
	mp, err := addrspace.ParseMapsText(mapsText, nil, nil)
	if err != nil {
		return err
	}

	var writable []*addrspace.MapInfo
	for _, m := range mp.Entries() {
		if m.Flags&addrspace.FlagWrite != 0 {
			writable = append(writable, m)
		}
	}
	if len(writable) == 0 {
		return nil
	}

	f, err := os.Create(filepath.Join(dir, "stack.data"))
	if err != nil {
		return errkind.Wrap(errkind.InvalidParameter, err)
	}
	defer f.Close()

	cursor := writable[0].Start
	for _, m := range writable {
		if gap := m.Start - cursor; gap > 0 {
			if _, err := f.Write(make([]byte, gap)); err != nil {
				return errkind.Wrap(errkind.InvalidParameter, err)
			}
		}
		buf := make([]byte, m.End-m.Start)
		_, _ = tr.ReadMemory(buf, m.Start)
		if _, err := f.Write(buf); err != nil {
			return errkind.Wrap(errkind.InvalidParameter, err)
		}
		cursor = m.End
	}
	return nil
}
