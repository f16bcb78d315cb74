package elf

import (
	"bytes"
	stdelf "debug/elf"

	"github.com/msft-mirror-aosp/platform.system.unwinding/errkind"
	"github.com/msft-mirror-aosp/platform.system.unwinding/memory"
)

// ParseGNUDebugData decompresses f's .gnu_debugdata section (an
// XZ-compressed nested ELF carrying a fuller symbol table than the
// stripped primary binary) via codec, parses the nested ELF, and
// attaches it as f.GNUDebugData. A File with no .gnu_debugdata
// section is left unchanged; that is not an error.
func ParseGNUDebugData(f *File, primary readerAt, codec memory.Codec) error {
	ef, err := stdelf.NewFile(primary)
	if err != nil {
		return errkind.Wrap(errkind.InvalidELF, err)
	}
	defer ef.Close()

	sec := ef.Section(".gnu_debugdata")
	if sec == nil {
		return nil
	}
	compressed, err := sec.Data()
	if err != nil {
		return errkind.Wrap(errkind.InvalidELF, err)
	}

	xz, err := memory.NewXZ(codec, memBytesReader(compressed), 0, uint64(len(compressed)))
	if err != nil {
		return errkind.Wrap(errkind.InvalidELF, err)
	}

	nested := make([]byte, 0)
	chunk := make([]byte, 4096)
	for addr := uint64(0); ; addr += uint64(len(chunk)) {
		n, _ := xz.ReadMemory(chunk, addr)
		if n == 0 {
			break
		}
		nested = append(nested, chunk[:n]...)
		if n < len(chunk) {
			break
		}
	}

	nestedFile, err := Open(bytes.NewReader(nested))
	if err != nil {
		return err
	}
	f.GNUDebugData = nestedFile
	return nil
}

type memBytesReader []byte

func (b memBytesReader) ReadMemory(dst []byte, addr uint64) (int, error) {
	if addr >= uint64(len(b)) {
		return 0, nil
	}
	n := copy(dst, b[addr:])
	return n, nil
}
