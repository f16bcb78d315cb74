package memory

// OfflineBuffer is a flat byte slice addressed as [start, end) of the
// target's original address space — an offline snapshot's in-memory
// backing store (a stack.data payload).
type OfflineBuffer struct {
	data       []byte
	start, end uint64
}

// NewOfflineBuffer wraps data as the address range [start, start+len(data)).
func NewOfflineBuffer(data []byte, start uint64) *OfflineBuffer {
	return &OfflineBuffer{data: data, start: start, end: start + uint64(len(data))}
}

// Reset repoints the buffer at new data without reallocating the
// OfflineBuffer itself, mirroring the retrieved source's Reset.
func (b *OfflineBuffer) Reset(data []byte, start uint64) {
	b.data, b.start, b.end = data, start, start+uint64(len(data))
}

func (b *OfflineBuffer) ReadMemory(dst []byte, addr uint64) (int, error) {
	if addr < b.start || addr >= b.end {
		return 0, nil
	}
	n := uint64(len(dst))
	if left := b.end - addr; n > left {
		n = left
	}
	off := addr - b.start
	copy(dst, b.data[off:off+n])
	return int(n), nil
}

// OfflineParts holds multiple stack.data / stackN.data snapshots;
// reads try each part in order and take the first non-empty result —
// there is no support for a single read spanning two parts.
type OfflineParts struct {
	parts []*OfflineBuffer
}

func NewOfflineParts(parts ...*OfflineBuffer) *OfflineParts {
	return &OfflineParts{parts: parts}
}

func (p *OfflineParts) Add(b *OfflineBuffer) { p.parts = append(p.parts, b) }

func (p *OfflineParts) ReadMemory(dst []byte, addr uint64) (int, error) {
	for _, part := range p.parts {
		n, err := part.ReadMemory(dst, addr)
		if err != nil {
			return 0, err
		}
		if n != 0 {
			return n, nil
		}
	}
	return 0, nil
}
