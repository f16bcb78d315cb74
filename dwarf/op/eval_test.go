package op

import "testing"

func TestEvalConstsPlus(t *testing.T) {
	instructions := []byte{DW_OP_consts, 0x1c, DW_OP_consts, 0x1c, DW_OP_plus}
	actual, err := Eval(instructions, &Context{})
	if err != nil {
		t.Fatal(err)
	}
	if actual != 56 {
		t.Fatalf("actual %d != expected %d", actual, 56)
	}
}

func TestEvalLit(t *testing.T) {
	instructions := []byte{DW_OP_lit0 + 7}
	actual, err := Eval(instructions, &Context{})
	if err != nil {
		t.Fatal(err)
	}
	if actual != 7 {
		t.Fatalf("actual %d != expected %d", actual, 7)
	}
}

func TestEvalBreg(t *testing.T) {
	regs := fakeRegisters{5: 100}
	instructions := []byte{DW_OP_breg0 + 5, 0x7e} // sleb128(-2)
	actual, err := Eval(instructions, &Context{Regs: regs})
	if err != nil {
		t.Fatal(err)
	}
	if actual != 98 {
		t.Fatalf("actual %d != expected %d", actual, 98)
	}
}

func TestEvalDeref(t *testing.T) {
	mem := fakeMemory{0x1000: 42}
	instructions := []byte{DW_OP_addr, 0x00, 0x10, 0x00, 0x00, DW_OP_deref_size, 0x01}
	actual, err := Eval(instructions, &Context{Memory: mem, AddrSize: 4})
	if err != nil {
		t.Fatal(err)
	}
	if actual != 42 {
		t.Fatalf("actual %d != expected %d", actual, 42)
	}
}

func TestEvalCallFrameCFA(t *testing.T) {
	instructions := []byte{DW_OP_call_frame_cfa}
	actual, err := Eval(instructions, &Context{Initial: []uint64{0xdeadbeef}})
	if err != nil {
		t.Fatal(err)
	}
	if actual != 0xdeadbeef {
		t.Fatalf("actual %#x != expected %#x", actual, 0xdeadbeef)
	}
}

func TestEvalUnsupportedOpcode(t *testing.T) {
	instructions := []byte{DW_OP_xderef}
	if _, err := Eval(instructions, &Context{}); err == nil {
		t.Fatal("expected an error for an unsupported opcode")
	}
}

func TestEvalEmptyStackUnderflow(t *testing.T) {
	instructions := []byte{DW_OP_dup}
	if _, err := Eval(instructions, &Context{}); err == nil {
		t.Fatal("expected an error popping an empty stack")
	}
}

type fakeRegisters map[uint64]uint64

func (f fakeRegisters) Reg(n uint64) (uint64, bool) {
	v, ok := f[n]
	return v, ok
}

type fakeMemory map[uint64]byte

func (f fakeMemory) ReadMemory(dst []byte, addr uint64) (int, error) {
	for i := range dst {
		dst[i] = f[addr+uint64(i)]
	}
	return len(dst), nil
}

func BenchmarkExpressionEval(b *testing.B) {
	instructions := []byte{
		DW_OP_consts, 0x1c,
		DW_OP_consts, 0x1c,
		DW_OP_plus,
		DW_OP_lit0 + 4,
		DW_OP_mul,
	}
	ctx := &Context{}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Eval(instructions, ctx); err != nil {
			b.Fatal(err)
		}
	}
}
