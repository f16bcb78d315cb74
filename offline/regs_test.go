package offline

import (
	"testing"

	"github.com/msft-mirror-aosp/platform.system.unwinding/arch"
)

func TestParseRegsTextARM64(t *testing.T) {
	text := "x0: 1\nx1: 2\nsp: 7ffff000\npc: aaaa0000\nlr: aaaa1000\n"
	r, err := parseRegsText(text, arch.ARM64)
	if err != nil {
		t.Fatalf("parseRegsText: %v", err)
	}
	if v, _ := r.Reg(0); v != 1 {
		t.Fatalf("x0 = %#x, want 1", v)
	}
	if r.PC() != 0xaaaa0000 {
		t.Fatalf("pc = %#x, want 0xaaaa0000", r.PC())
	}
	if r.SP() != 0x7ffff000 {
		t.Fatalf("sp = %#x, want 0x7ffff000", r.SP())
	}
}

func TestParseRegsTextRejectsUnknownName(t *testing.T) {
	if _, err := parseRegsText("bogus: 1\n", arch.ARM64); err == nil {
		t.Fatalf("expected an error for an unknown register name")
	}
}

func TestParseRegsTextRejectsMalformed(t *testing.T) {
	if _, err := parseRegsText("x0\n", arch.ARM64); err == nil {
		t.Fatalf("expected an error for a line missing a value")
	}
}

func TestFormatRegsTextRoundTrip(t *testing.T) {
	r := arch.NewRegisters(arch.X86_64, int(arch.X86_64.MaxRegNum())+1)
	r.SetPC(0x401000)
	r.SetSP(0x7ffe0000)

	text := formatRegsText(r)
	r2, err := parseRegsText(text, arch.X86_64)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if r2.PC() != r.PC() || r2.SP() != r.SP() {
		t.Fatalf("round trip changed pc/sp: got pc=%#x sp=%#x", r2.PC(), r2.SP())
	}
}
