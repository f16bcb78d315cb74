package memory

import "io"

// ReaderAtAdapter exposes any Reader as an io.ReaderAt, for handing a
// memory oracle to code (like stdlib debug/elf) that expects the
// standard library's random-access file interface. ReadAt differs
// from ReadMemory only in returning io.EOF on a short read, per the
// io.ReaderAt contract.
type ReaderAtAdapter struct {
	R Reader
}

func (a ReaderAtAdapter) ReadAt(p []byte, off int64) (int, error) {
	n, err := a.R.ReadMemory(p, uint64(off))
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
