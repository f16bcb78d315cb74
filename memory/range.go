package memory

import "sort"

// Range exposes [origin, origin+length) of an underlying Reader
// shifted to [offset, offset+length) in the caller's coordinates.
type Range struct {
	underlying Reader
	origin     uint64
	length     uint64
	offset     uint64
}

// NewRange builds a Range view. Overflow of offset+length clamps to
// the maximum uint64 rather than wrapping.
func NewRange(underlying Reader, origin, length, offset uint64) *Range {
	return &Range{underlying: underlying, origin: origin, length: length, offset: offset}
}

func (r *Range) End() uint64 {
	end := r.offset + r.length
	if end < r.offset { // overflow
		return ^uint64(0)
	}
	return end
}

func (r *Range) ReadMemory(dst []byte, addr uint64) (int, error) {
	if addr < r.offset {
		return 0, nil
	}
	readOffset := addr - r.offset
	if readOffset >= r.length {
		return 0, nil
	}
	n := uint64(len(dst))
	if left := r.length - readOffset; n > left {
		n = left
	}
	readAddr := readOffset + r.origin
	if readAddr < readOffset { // overflow
		return 0, nil
	}
	return r.underlying.ReadMemory(dst[:n], readAddr)
}

// Ranges is a union of non-overlapping Range views, indexed by
// exclusive end address so a read resolves with a single upper_bound
// lookup; no read spans two ranges.
type Ranges struct {
	entries []*Range // sorted by End()
}

// Insert adds a range to the union. Callers are responsible for
// non-overlap; Insert maintains sort order by end address.
func (rs *Ranges) Insert(r *Range) {
	idx := sort.Search(len(rs.entries), func(i int) bool { return rs.entries[i].End() >= r.End() })
	rs.entries = append(rs.entries, nil)
	copy(rs.entries[idx+1:], rs.entries[idx:])
	rs.entries[idx] = r
}

func (rs *Ranges) ReadMemory(dst []byte, addr uint64) (int, error) {
	idx := sort.Search(len(rs.entries), func(i int) bool { return rs.entries[i].End() > addr })
	if idx == len(rs.entries) {
		return 0, nil
	}
	return rs.entries[idx].ReadMemory(dst, addr)
}
