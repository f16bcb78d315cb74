package memory

import (
	"os"
	"syscall"

	"github.com/msft-mirror-aosp/platform.system.unwinding/errkind"
)

// FileAtOffset memory-maps a file starting at a page-aligned offset,
// exposing addr 0 as the requested (possibly unaligned) offset —
// mirroring the retrieved source's MemoryFileAtOffset.
type FileAtOffset struct {
	mapped  []byte // the full mmap'd region, page-aligned start
	data    []byte // mapped[pageOff:], the requested view
	pageOff uint64
	size    uint64
}

// NewFileAtOffset opens path read-only and maps [offset, offset+size)
// (or to EOF if size is 0).
func NewFileAtOffset(path string, offset, size uint64) (*FileAtOffset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidParameter, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidParameter, err)
	}
	fileSize := uint64(st.Size())
	if offset >= fileSize {
		return nil, errkind.NewAt(errkind.ArgOutOfRange, offset)
	}

	pageSize := uint64(os.Getpagesize())
	pageOff := offset & (pageSize - 1)
	alignedOffset := offset &^ (pageSize - 1)

	mapSize := fileSize - alignedOffset
	if size != 0 {
		if max := size + pageOff; max < mapSize {
			mapSize = max
		}
	}

	mapped, err := syscall.Mmap(int(f.Fd()), int64(alignedOffset), int(mapSize), syscall.PROT_READ, syscall.MAP_PRIVATE)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidParameter, err)
	}

	return &FileAtOffset{
		mapped:  mapped,
		data:    mapped[pageOff:],
		pageOff: pageOff,
		size:    mapSize - pageOff,
	}, nil
}

func (m *FileAtOffset) Size() uint64 { return m.size }

func (m *FileAtOffset) ReadMemory(dst []byte, addr uint64) (int, error) {
	if addr >= m.size {
		return 0, nil
	}
	n := uint64(len(dst))
	if left := m.size - addr; n > left {
		n = left
	}
	copy(dst, m.data[addr:addr+n])
	return int(n), nil
}

// Close unmaps the backing pages. The full mapping (including the
// page-alignment padding) is unmapped, matching munmap(&data[-off],
// size+off) in the retrieved source.
func (m *FileAtOffset) Close() error {
	if m.mapped == nil {
		return nil
	}
	err := syscall.Munmap(m.mapped)
	m.mapped = nil
	m.data = nil
	return err
}
