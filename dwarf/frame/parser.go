package frame

import (
	"bytes"
	"encoding/binary"
	"sort"
	"strings"

	"github.com/msft-mirror-aosp/platform.system.unwinding/dwarf/leb128"
	"github.com/msft-mirror-aosp/platform.system.unwinding/errkind"
)

type parsefunc func(*parseContext) (parsefunc, error)

type parseContext struct {
	staticBase uint64
	ehFrame    bool
	addrSize   int

	buf     *bytes.Buffer
	entries FrameDescriptionEntries
	common  *CommonInformationEntry
	frame   *FrameDescriptionEntry
	length  uint64
	cieOff  uint64 // byte offset of the CIE id/ptr field within buf, relative to section start
	off     uint64 // running byte offset, mirrors ctx.buf's consumption
}

// Parse decodes a complete .debug_frame (ehFrame=false) or .eh_frame
// (ehFrame=true) section into its FDEs, sorted by covered PC range.
// staticBase is the base that pc-relative and data-relative FDE begin
// addresses are resolved against (absolute encodings are taken as
// they are), and is added to DW_CFA_set_loc operands; elf.Open passes
// the .eh_frame section's vaddr, or 0 for .debug_frame. addrSize is
// the target's pointer width, used for
// DW_EH_PE_absptr/signed encodings and legacy .debug_frame pointers.
func Parse(data []byte, order binary.ByteOrder, staticBase uint64, addrSize int, ehFrame bool) (FrameDescriptionEntries, error) {
	pctx := &parseContext{
		buf:        bytes.NewBuffer(data),
		staticBase: staticBase,
		addrSize:   addrSize,
		ehFrame:    ehFrame,
	}

	var fn parsefunc = parselength
	var err error
	for fn != nil && pctx.buf.Len() != 0 {
		fn, err = fn(pctx)
		if err != nil {
			return nil, err
		}
	}

	for i := range pctx.entries {
		pctx.entries[i].order = order
	}
	pctx.entries.sort()
	return pctx.entries, nil
}

func cieEntry(ehFrame bool, data []byte) bool {
	if ehFrame {
		return binary.LittleEndian.Uint32(data) == 0
	}
	return bytes.Equal(data, []byte{0xff, 0xff, 0xff, 0xff})
}

func parselength(ctx *parseContext) (parsefunc, error) {
	if ctx.buf.Len() < 4 {
		return nil, nil
	}
	var length32 uint32
	if err := binary.Read(ctx.buf, binary.LittleEndian, &length32); err != nil {
		return nil, errkind.Wrap(errkind.ArgOutOfRange, err)
	}
	ctx.length = uint64(length32)
	ctx.off += 4

	if ctx.length == 0 {
		return nil, nil // zero-length terminator, eh_frame convention
	}

	idField := ctx.buf.Next(4)
	if len(idField) != 4 {
		return nil, errkind.New(errkind.ArgOutOfRange)
	}
	ctx.off += 4
	ctx.length -= 4

	if cieEntry(ctx.ehFrame, idField) {
		ctx.common = &CommonInformationEntry{Length: ctx.length, staticBase: ctx.staticBase, IsDebugFrame: !ctx.ehFrame}
		return parseCIE, nil
	}

	ctx.frame = &FrameDescriptionEntry{Length: ctx.length, CIE: ctx.common}
	return parseFDE, nil
}

func parseCIE(ctx *parseContext) (parsefunc, error) {
	data := ctx.buf.Next(int(ctx.length))
	ctx.off += uint64(ctx.length)
	buf := bytes.NewBuffer(data)

	var err error
	ctx.common.Version, err = buf.ReadByte()
	if err != nil {
		return nil, errkind.Wrap(errkind.ArgOutOfRange, err)
	}

	ctx.common.Augmentation, err = readCString(buf)
	if err != nil {
		return nil, err
	}

	if ctx.common.Version >= 4 {
		// DWARF4 CIEs insert address_size/segment_selector_size here;
		// both bytes are skipped, since the retrieved architectures
		// never use segmented addressing.
		if _, err := buf.ReadByte(); err != nil {
			return nil, errkind.Wrap(errkind.ArgOutOfRange, err)
		}
		if _, err := buf.ReadByte(); err != nil {
			return nil, errkind.Wrap(errkind.ArgOutOfRange, err)
		}
	}
	ctx.common.CodeAlignmentFactor, _, err = leb128.DecodeUnsigned(buf)
	if err != nil {
		return nil, errkind.Wrap(errkind.ArgOutOfRange, err)
	}
	ctx.common.DataAlignmentFactor, _, err = leb128.DecodeSigned(buf)
	if err != nil {
		return nil, errkind.Wrap(errkind.ArgOutOfRange, err)
	}
	ctx.common.ReturnAddressRegister, _, err = leb128.DecodeUnsigned(buf)
	if err != nil {
		return nil, errkind.Wrap(errkind.ArgOutOfRange, err)
	}

	ctx.common.FDEPointerEnc = PtrEncAbs
	if strings.HasPrefix(ctx.common.Augmentation, "z") {
		augLen, _, err := leb128.DecodeUnsigned(buf)
		if err != nil {
			return nil, errkind.Wrap(errkind.ArgOutOfRange, err)
		}
		augData := buf.Next(int(augLen))
		if err := parseAugmentationData(ctx.common, augData); err != nil {
			return nil, err
		}
	}

	ctx.common.InitialInstructions = buf.Bytes()
	ctx.length = 0
	return parselength, nil
}

// parseAugmentationData walks the 'z'-prefixed CIE augmentation string
// and its associated data block, per LSB Linux Base §10.5. Order of
// letters in the string fixes the order of fields in the data.
func parseAugmentationData(cie *CommonInformationEntry, data []byte) error {
	r := bytes.NewReader(data)
	for _, c := range cie.Augmentation[1:] {
		switch c {
		case 'R':
			enc, err := r.ReadByte()
			if err != nil {
				return errkind.Wrap(errkind.ArgOutOfRange, err)
			}
			cie.FDEPointerEnc = PtrEnc(enc)
		case 'P':
			enc, err := r.ReadByte()
			if err != nil {
				return errkind.Wrap(errkind.ArgOutOfRange, err)
			}
			cie.PersonalityEnc = PtrEnc(enc)
			cie.HasPersonality = true
			if _, err := decodeEncodedPtr(r, binary.LittleEndian, 8, cie.PersonalityEnc, 0, 0); err != nil {
				return err
			}
		case 'L':
			enc, err := r.ReadByte()
			if err != nil {
				return errkind.Wrap(errkind.ArgOutOfRange, err)
			}
			cie.LSDAEncoding = PtrEnc(enc)
		case 'S':
			cie.IsSignalFrame = true
		case 'z':
			// leading 'z' handled by caller.
		default:
			// unrecognized augmentation letter: conservatively stop
			// decoding further fields, callers only need R/P/L.
			return nil
		}
	}
	return nil
}

func parseFDE(ctx *parseContext) (parsefunc, error) {
	data := ctx.buf.Next(int(ctx.length))
	ctx.off += uint64(ctx.length)
	r := bytes.NewReader(data)

	enc := ctx.frame.CIE.FDEPointerEnc
	if enc == 0 {
		enc = PtrEncAbs
	}

	begin, err := decodeEncodedPtr(r, binary.LittleEndian, ctx.addrSize, enc, ctx.staticBase, ctx.staticBase)
	if err != nil {
		return nil, err
	}
	sizeEnc := enc &^ PtrEncFlagsMask // the range length is always encoded as an absolute-style value of the same width, never pc-relative
	size, err := decodeEncodedPtr(r, binary.LittleEndian, ctx.addrSize, sizeEnc, 0, 0)
	if err != nil {
		return nil, err
	}
	ctx.frame.begin = begin
	ctx.frame.size = size

	if strings.HasPrefix(ctx.frame.CIE.Augmentation, "z") {
		augLen, _, err := leb128.DecodeUnsigned(r)
		if err != nil {
			return nil, errkind.Wrap(errkind.ArgOutOfRange, err)
		}
		if _, err := r.Seek(int64(augLen), 1); err != nil {
			return nil, errkind.Wrap(errkind.ArgOutOfRange, err)
		}
	}

	rest := make([]byte, r.Len())
	if _, err := r.Read(rest); err != nil && r.Len() != 0 {
		return nil, errkind.Wrap(errkind.ArgOutOfRange, err)
	}
	ctx.frame.Instructions = rest

	ctx.entries = append(ctx.entries, ctx.frame)
	ctx.length = 0
	return parselength, nil
}

func readCString(buf *bytes.Buffer) (string, error) {
	s, err := buf.ReadString(0)
	if err != nil {
		return "", errkind.Wrap(errkind.ArgOutOfRange, err)
	}
	return strings.TrimSuffix(s, "\x00"), nil
}

// DwarfEndian determines the endianness of a DWARF section by
// inspecting the version field of a .debug_info unit, the same trick
// the standard library's debug/dwarf.New uses.
func DwarfEndian(infoSec []byte) binary.ByteOrder {
	if len(infoSec) < 6 {
		return binary.BigEndian
	}
	x, y := infoSec[4], infoSec[5]
	switch {
	case x == 0:
		return binary.BigEndian
	case y == 0:
		return binary.LittleEndian
	default:
		return binary.BigEndian
	}
}

// EhFrameHdr is the decoded .eh_frame_hdr binary-search table, used
// so FDE lookup doesn't require a linear scan of .eh_frame when a
// header is present.
type EhFrameHdr struct {
	EhFrameBase uint64
	rows        []ehFrameHdrRow
}

type ehFrameHdrRow struct {
	initialLoc uint64
	fdeAddr    uint64
}

// ParseEhFrameHdr decodes a .eh_frame_hdr section. hdrAddr is the
// address of the section's first byte (elf.Open passes the section's
// file vaddr), used to resolve PtrEncPCRel/DataRel table entries;
// decoded addresses are in that same address space.
func ParseEhFrameHdr(data []byte, order binary.ByteOrder, hdrAddr uint64, addrSize int) (*EhFrameHdr, error) {
	r := bytes.NewReader(data)
	var hdr [4]byte
	if _, err := r.Read(hdr[:]); err != nil {
		return nil, errkind.Wrap(errkind.ArgOutOfRange, err)
	}
	version := hdr[0]
	if version != 1 {
		return nil, errkind.New(errkind.Unsupported)
	}
	ehFramePtrEnc := PtrEnc(hdr[1])
	fdeCountEnc := PtrEnc(hdr[2])
	tableEnc := PtrEnc(hdr[3])

	ehFrameBase, err := decodeEncodedPtr(r, order, addrSize, ehFramePtrEnc, hdrAddr+4, hdrAddr)
	if err != nil {
		return nil, err
	}
	if fdeCountEnc == PtrEncOmit {
		return &EhFrameHdr{EhFrameBase: ehFrameBase}, nil
	}
	count, err := decodeEncodedPtr(r, order, addrSize, fdeCountEnc, 0, 0)
	if err != nil {
		return nil, err
	}

	out := &EhFrameHdr{EhFrameBase: ehFrameBase, rows: make([]ehFrameHdrRow, 0, count)}
	for i := uint64(0); i < count; i++ {
		initialLoc, err := decodeEncodedPtr(r, order, addrSize, tableEnc, hdrAddr, hdrAddr)
		if err != nil {
			return nil, err
		}
		fdeAddr, err := decodeEncodedPtr(r, order, addrSize, tableEnc, hdrAddr, hdrAddr)
		if err != nil {
			return nil, err
		}
		out.rows = append(out.rows, ehFrameHdrRow{initialLoc: initialLoc, fdeAddr: fdeAddr})
	}
	return out, nil
}

// FDEAddrForPC binary searches the header table for the runtime
// address of the FDE whose range may cover pc; the caller still
// confirms coverage (and falls back to a linear scan of the parsed
// FrameDescriptionEntries) since the header is an index, not a proof.
func (h *EhFrameHdr) FDEAddrForPC(pc uint64) (uint64, bool) {
	if len(h.rows) == 0 {
		return 0, false
	}
	idx := sort.Search(len(h.rows), func(i int) bool { return h.rows[i].initialLoc > pc })
	if idx == 0 {
		return 0, false
	}
	return h.rows[idx-1].fdeAddr, true
}
