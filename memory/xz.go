package memory

import (
	"math/bits"

	"github.com/msft-mirror-aosp/platform.system.unwinding/errkind"
)

// maxCompressedSize bounds how much compressed data XZ will ever read
// into memory for index scanning, matching kMaxCompressedSize in the
// retrieved source (a defense against hostile/corrupt gnu_debugdata).
const maxCompressedSize = 1 << 31

// Codec is the opaque XZ decompression capability this package treats
// as an external collaborator: given the raw compressed container it can
// enumerate block boundaries without fully decompressing, and
// decompress any one block on demand.
type Codec interface {
	// IndexBlocks returns the uncompressed size of every block in
	// compressed, in order, without decompressing their contents.
	IndexBlocks(compressed []byte) (blockSizes []uint64, err error)
	// DecodeBlock decompresses block index i of compressed.
	DecodeBlock(compressed []byte, i int) ([]byte, error)
}

// XZ is a lazy block decompressor over a Reader holding a compressed
// container (e.g. .gnu_debugdata). Reads locate the block containing
// the address, decompress it if not already resident, and copy out —
// each block stays resident for the life of the XZ value once
// decompressed.
type XZ struct {
	codec      Codec
	compressed []byte

	blockSizes   []uint64
	blockOffsets []uint64 // cumulative uncompressed offset of each block's start
	totalSize    uint64

	blockSizeLog2 int // -1 if blocks are not uniform power-of-two sized
	blocks        [][]byte
}

// NewXZ reads the compressed container pointed to by underlying at
// [addr, addr+size), bounded by maxCompressedSize, and indexes its
// blocks. If block sizes are not a uniform power of two (aside from a
// possibly-shorter last block), all blocks are merged into one by
// decompressing immediately.
func NewXZ(codec Codec, underlying Reader, addr, size uint64) (*XZ, error) {
	if size >= maxCompressedSize {
		return nil, errkind.New(errkind.ArgOutOfRange)
	}
	compressed := make([]byte, size)
	if err := ReadFully(underlying, compressed, addr); err != nil {
		return nil, err
	}

	sizes, err := codec.IndexBlocks(compressed)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidELF, err)
	}
	if len(sizes) == 0 {
		return nil, errkind.New(errkind.InvalidELF)
	}

	x := &XZ{codec: codec, compressed: compressed, blockSizes: sizes, blocks: make([][]byte, len(sizes))}
	x.blockOffsets = make([]uint64, len(sizes))
	var off uint64
	for i, s := range sizes {
		x.blockOffsets[i] = off
		off += s
	}
	x.totalSize = off

	x.blockSizeLog2 = uniformBlockSizeLog2(sizes)
	if x.blockSizeLog2 < 0 {
		merged := make([]byte, 0, x.totalSize)
		for i := range sizes {
			b, err := codec.DecodeBlock(compressed, i)
			if err != nil {
				return nil, errkind.Wrap(errkind.InvalidELF, err)
			}
			merged = append(merged, b...)
		}
		x.blockSizes = []uint64{uint64(len(merged))}
		x.blockOffsets = []uint64{0}
		x.blocks = [][]byte{merged}
		x.blockSizeLog2 = 0
	}

	return x, nil
}

// uniformBlockSizeLog2 returns log2(B) if every block but the last is
// exactly B bytes (B a power of two) and the last is <= B, or -1 if
// not uniform.
func uniformBlockSizeLog2(sizes []uint64) int {
	if len(sizes) == 1 {
		if bits.OnesCount64(sizes[0]) != 1 {
			return -1
		}
		return bits.TrailingZeros64(sizes[0])
	}
	b := sizes[0]
	if bits.OnesCount64(b) != 1 {
		return -1
	}
	for _, s := range sizes[:len(sizes)-1] {
		if s != b {
			return -1
		}
	}
	if sizes[len(sizes)-1] > b {
		return -1
	}
	return bits.TrailingZeros64(b)
}

// ReadMemory returns 0 on reads past the decompressed total size.
func (x *XZ) ReadMemory(dst []byte, addr uint64) (int, error) {
	if addr >= x.totalSize {
		return 0, nil
	}
	idx := int(addr >> uint(x.blockSizeLog2))
	if idx >= len(x.blockSizes) {
		idx = len(x.blockSizes) - 1
	}
	// blockSizeLog2 is only an exact index for uniform blocks; when
	// merged into one block idx is always 0 and this is a no-op.
	block, err := x.block(idx)
	if err != nil {
		return 0, err
	}
	off := addr - x.blockOffsets[idx]
	if off >= uint64(len(block)) {
		return 0, nil
	}
	n := uint64(len(dst))
	if left := uint64(len(block)) - off; n > left {
		n = left
	}
	copy(dst, block[off:off+n])
	return int(n), nil
}

func (x *XZ) block(i int) ([]byte, error) {
	if x.blocks[i] != nil {
		return x.blocks[i], nil
	}
	b, err := x.codec.DecodeBlock(x.compressed, i)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidELF, err)
	}
	x.blocks[i] = b
	return b, nil
}
