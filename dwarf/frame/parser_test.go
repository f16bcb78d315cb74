package frame

import (
	"bytes"
	"testing"
)

func TestParseCIE(t *testing.T) {
	ctx := &parseContext{
		buf:    bytes.NewBuffer([]byte{3, 0, 1, 124, 16, 12, 7, 8, 5, 16, 2, 0}),
		common: &CommonInformationEntry{Length: 12},
		length: 12,
	}
	if _, err := parseCIE(ctx); err != nil {
		t.Fatal(err)
	}

	common := ctx.common
	if common.Version != 3 {
		t.Fatalf("expected version 3, got %d", common.Version)
	}
	if common.Augmentation != "" {
		t.Fatalf("expected empty augmentation, got %q", common.Augmentation)
	}
	if common.CodeAlignmentFactor != 1 {
		t.Fatalf("expected code alignment factor 1, got %d", common.CodeAlignmentFactor)
	}
	if common.DataAlignmentFactor != -4 {
		t.Fatalf("expected data alignment factor -4, got %d", common.DataAlignmentFactor)
	}
	if common.ReturnAddressRegister != 16 {
		t.Fatalf("expected return address register 16, got %d", common.ReturnAddressRegister)
	}
	want := []byte{12, 7, 8, 5, 16, 2, 0}
	if !bytes.Equal(common.InitialInstructions, want) {
		t.Fatalf("expected initial instructions %v, got %v", want, common.InitialInstructions)
	}
}

func TestParseAugmentedCIENoPersonality(t *testing.T) {
	// "zR" augmentation: augmentation data length 1, FDE pointer
	// encoding DW_EH_PE_pcrel|DW_EH_PE_sdata4.
	data := []byte{
		1,             // version
		'z', 'R', 0,   // augmentation string
		1,             // code alignment factor (ULEB)
		124,           // data alignment factor (SLEB, -4)
		16,            // return address register (ULEB)
		1,             // augmentation data length (ULEB)
		byte(PtrEncPCRel | PtrEncSdata4),
		0xc3, // DW_CFA_restore(3), left as the initial instructions
	}
	ctx := &parseContext{
		buf:    bytes.NewBuffer(data),
		common: &CommonInformationEntry{Length: uint64(len(data))},
		length: uint64(len(data)),
		ehFrame: true,
	}
	if _, err := parseCIE(ctx); err != nil {
		t.Fatal(err)
	}
	if ctx.common.Augmentation != "zR" {
		t.Fatalf("expected augmentation zR, got %q", ctx.common.Augmentation)
	}
	if ctx.common.FDEPointerEnc != PtrEncPCRel|PtrEncSdata4 {
		t.Fatalf("expected FDE pointer encoding %#x, got %#x", byte(PtrEncPCRel|PtrEncSdata4), byte(ctx.common.FDEPointerEnc))
	}
}

func TestDwarfEndian(t *testing.T) {
	be := []byte{0, 0, 0, 0, 0, 4, 0, 0}
	if DwarfEndian(be).String() != "BigEndian" {
		t.Fatalf("expected big endian")
	}
	le := []byte{0, 0, 0, 0, 4, 0, 0, 0}
	if DwarfEndian(le).String() != "LittleEndian" {
		t.Fatalf("expected little endian")
	}
}
