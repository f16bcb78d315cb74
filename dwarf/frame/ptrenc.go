package frame

import (
	"bytes"
	"encoding/binary"

	"github.com/msft-mirror-aosp/platform.system.unwinding/dwarf/leb128"
	"github.com/msft-mirror-aosp/platform.system.unwinding/errkind"
)

// decodeEncodedPtr reads one pointer-sized-or-encoded value at the
// reader's current position per the DWARF eh_frame pointer-encoding
// byte convention (LSB Linux Base §10.5), relocating pcRelBase/
// dataRelBase-relative encodings back to absolute addresses.
func decodeEncodedPtr(r *bytes.Reader, order binary.ByteOrder, addrSize int, enc PtrEnc, pcRelBase, dataRelBase uint64) (uint64, error) {
	if enc == PtrEncOmit {
		return 0, nil
	}
	if !enc.Supported() {
		return 0, errkind.New(errkind.Unsupported)
	}

	var raw uint64
	var err error
	switch enc & 0x0f {
	case PtrEncAbs, PtrEncSigned:
		raw, err = readUintSized(r, order, addrSize)
	case PtrEncUleb:
		raw, _, err = leb128.DecodeUnsigned(r)
	case PtrEncSleb:
		var s int64
		s, _, err = leb128.DecodeSigned(r)
		raw = uint64(s)
	case PtrEncUdata2, PtrEncSdata2:
		raw, err = readUintSized(r, order, 2)
	case PtrEncUdata4, PtrEncSdata4:
		raw, err = readUintSized(r, order, 4)
	case PtrEncUdata8, PtrEncSdata8:
		raw, err = readUintSized(r, order, 8)
	default:
		return 0, errkind.New(errkind.Unsupported)
	}
	if err != nil {
		return 0, errkind.Wrap(errkind.ArgOutOfRange, err)
	}

	switch enc & PtrEncFlagsMask {
	case PtrEncPCRel:
		raw += pcRelBase
	case PtrEncDataRel:
		raw += dataRelBase
	}
	return raw, nil
}

func readUintSized(r *bytes.Reader, order binary.ByteOrder, size int) (uint64, error) {
	buf := make([]byte, size)
	if _, err := r.Read(buf); err != nil {
		return 0, err
	}
	switch size {
	case 2:
		return uint64(order.Uint16(buf)), nil
	case 4:
		return uint64(order.Uint32(buf)), nil
	case 8:
		return order.Uint64(buf), nil
	default:
		return 0, errkind.New(errkind.Unsupported)
	}
}
