// Package memory implements the read-only random-access memory
// reader family: local and remote process memory, file-at-offset,
// byte-range views, a small page cache, and a lazy XZ block
// decompressor.
package memory

import (
	"github.com/msft-mirror-aosp/platform.system.unwinding/errkind"
)

// Reader is any value that can be read as a byte address space. It
// is also valid as dwarf/op.Memory.
type Reader interface {
	// ReadMemory copies into dst starting at addr, returning the
	// number of bytes actually copied. A short read is not itself an
	// error; callers needing an exact count use ReadFully.
	ReadMemory(dst []byte, addr uint64) (int, error)
}

// ReadFully reads exactly len(dst) bytes or returns an error.
func ReadFully(r Reader, dst []byte, addr uint64) error {
	n, err := r.ReadMemory(dst, addr)
	if err != nil {
		return err
	}
	if n != len(dst) {
		return errkind.NewAt(errkind.MemoryInvalid, addr)
	}
	return nil
}

// ReadString reads a NUL-terminated byte string starting at addr, up
// to max bytes, in fixed-size chunks to avoid one syscall per byte.
func ReadString(r Reader, addr uint64, max int) (string, error) {
	const chunk = 64
	buf := make([]byte, 0, chunk)
	tmp := make([]byte, chunk)
	for len(buf) < max {
		want := chunk
		if len(buf)+want > max {
			want = max - len(buf)
		}
		n, err := r.ReadMemory(tmp[:want], addr+uint64(len(buf)))
		if n == 0 {
			if err != nil {
				return "", err
			}
			break
		}
		for i := 0; i < n; i++ {
			if tmp[i] == 0 {
				return string(buf), nil
			}
			buf = append(buf, tmp[i])
		}
		if n < want {
			break
		}
	}
	return string(buf), nil
}
