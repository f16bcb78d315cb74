package memory

import (
	"bytes"
	"testing"
)

type bufMem []byte

func (b bufMem) ReadMemory(dst []byte, addr uint64) (int, error) {
	if addr >= uint64(len(b)) {
		return 0, nil
	}
	n := copy(dst, b[addr:])
	return n, nil
}

func TestRangeShift(t *testing.T) {
	under := bufMem([]byte("0123456789abcdef"))
	r := NewRange(under, 4, 6, 100) // underlying [4,10) visible as [100,106)

	dst := make([]byte, 3)
	n, err := r.ReadMemory(dst, 101)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 || string(dst) != "567" {
		t.Fatalf("got %q, n=%d", dst, n)
	}

	n, _ = r.ReadMemory(dst, 50)
	if n != 0 {
		t.Fatalf("expected 0 for out-of-range read, got %d", n)
	}
}

func TestRangesUnion(t *testing.T) {
	under := bufMem("AAAABBBBCCCC")
	rs := &Ranges{}
	rs.Insert(NewRange(under, 0, 4, 0))
	rs.Insert(NewRange(under, 4, 4, 100))
	rs.Insert(NewRange(under, 8, 4, 200))

	dst := make([]byte, 4)
	if n, _ := rs.ReadMemory(dst, 100); n != 4 || string(dst) != "BBBB" {
		t.Fatalf("got %q", dst)
	}
	if n, _ := rs.ReadMemory(dst, 50); n != 0 {
		t.Fatalf("expected no covering range, got n=%d", n)
	}
}

func TestOfflineParts(t *testing.T) {
	p := NewOfflineParts(
		NewOfflineBuffer([]byte("hello"), 1000),
		NewOfflineBuffer([]byte("world"), 2000),
	)
	dst := make([]byte, 5)
	if n, _ := p.ReadMemory(dst, 2000); n != 5 || string(dst) != "world" {
		t.Fatalf("got %q", dst)
	}
	if n, _ := p.ReadMemory(dst, 3000); n != 0 {
		t.Fatalf("expected 0, got %d", n)
	}
}

func TestCacheSmallAndLargeReads(t *testing.T) {
	big := make([]byte, 1<<20)
	for i := range big {
		big[i] = byte(i)
	}
	c := NewCache(bufMem(big))

	small := make([]byte, 8)
	if _, err := c.ReadMemory(small, 5000); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(small, big[5000:5008]) {
		t.Fatalf("cached small read mismatch")
	}

	largeDst := make([]byte, 128)
	if _, err := c.ReadMemory(largeDst, 10000); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(largeDst, big[10000:10128]) {
		t.Fatalf("bypassed large read mismatch")
	}
}

func TestReadString(t *testing.T) {
	data := append([]byte("hello world"), 0, 'x')
	m := bufMem(data)
	s, err := ReadString(m, 0, 256)
	if err != nil {
		t.Fatal(err)
	}
	if s != "hello world" {
		t.Fatalf("got %q", s)
	}
}

type fakeXZCodec struct {
	blocks [][]byte
}

func (f *fakeXZCodec) IndexBlocks(compressed []byte) ([]uint64, error) {
	sizes := make([]uint64, len(f.blocks))
	for i, b := range f.blocks {
		sizes[i] = uint64(len(b))
	}
	return sizes, nil
}

func (f *fakeXZCodec) DecodeBlock(compressed []byte, i int) ([]byte, error) {
	return f.blocks[i], nil
}

func TestXZUniformBlocks(t *testing.T) {
	codec := &fakeXZCodec{blocks: [][]byte{
		bytes.Repeat([]byte{1}, 16),
		bytes.Repeat([]byte{2}, 16),
		bytes.Repeat([]byte{3}, 4),
	}}
	container := bufMem(make([]byte, 8)) // placeholder compressed bytes
	x, err := NewXZ(codec, container, 0, 8)
	if err != nil {
		t.Fatal(err)
	}
	dst := make([]byte, 4)
	if _, err := x.ReadMemory(dst, 16); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dst, []byte{2, 2, 2, 2}) {
		t.Fatalf("got %v", dst)
	}
	if n, _ := x.ReadMemory(dst, 1000); n != 0 {
		t.Fatalf("expected 0 past total size, got %d", n)
	}
}
