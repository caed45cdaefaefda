package frame

import (
	"encoding/binary"

	"github.com/go-pancakes/pancakes/pkg/dwarf/leb128"
)

// ptrEnc is an .eh_frame pointer encoding. The low 4 bits select the size
// and signedness of the value, the high 4 bits describe what the value is
// relative to. See https://www.airs.com/blog/archives/460.
type ptrEnc uint8

const (
	ptrEncAbs    ptrEnc = 0x00 // pointer-sized unsigned integer
	ptrEncUleb   ptrEnc = 0x01 // ULEB128
	ptrEncUdata2 ptrEnc = 0x02 // 2 bytes
	ptrEncUdata4 ptrEnc = 0x03 // 4 bytes
	ptrEncUdata8 ptrEnc = 0x04 // 8 bytes
	ptrEncSigned ptrEnc = 0x08 // pointer-sized signed integer
	ptrEncSleb   ptrEnc = 0x09 // SLEB128
	ptrEncSdata2 ptrEnc = 0x0a // 2 bytes, signed
	ptrEncSdata4 ptrEnc = 0x0b // 4 bytes, signed
	ptrEncSdata8 ptrEnc = 0x0c // 8 bytes, signed

	ptrEncOmit ptrEnc = 0xff // no value present

	ptrEncFlagsMask ptrEnc = 0xf0
	ptrEncPCRel     ptrEnc = 0x10 // relative to the address of the encoded value
	ptrEncTextRel   ptrEnc = 0x20 // relative to the text section
	ptrEncDataRel   ptrEnc = 0x30 // relative to the data section
	ptrEncFuncRel   ptrEnc = 0x40 // relative to the start of the function
	ptrEncIndirect  ptrEnc = 0x80 // address of the real value

	ptrEncSupportedFlags = ptrEncPCRel
)

// supported reports whether this pointer encoding is one we can decode.
// Only absolute and PC-relative values are needed for the sections we
// consume.
func (enc ptrEnc) supported() bool {
	if enc == ptrEncOmit {
		return true
	}
	szenc := enc & 0x0f
	if (szenc > ptrEncUdata8 && szenc < ptrEncSigned) || szenc > ptrEncSdata8 {
		return false
	}
	if (enc&ptrEncFlagsMask)&^ptrEncSupportedFlags != 0 {
		return false
	}
	return true
}

// decodePointer reads one pointer encoded with enc from the front of buf.
// pcrelBase is the address at which the encoded value itself resides, used
// for PC-relative values. It returns the decoded address and the number of
// bytes consumed.
func decodePointer(buf []byte, enc ptrEnc, pcrelBase uint64, ptrSize int, order binary.ByteOrder) (uint64, int, error) {
	if enc == ptrEncOmit {
		return 0, 0, nil
	}
	if !enc.supported() {
		return 0, 0, decodeErr(0, "unsupported pointer encoding %#x", uint8(enc))
	}

	var (
		value  uint64
		n      int
		signed bool
	)
	szenc := enc & 0x0f
	if szenc == ptrEncAbs || szenc == ptrEncSigned {
		switch ptrSize {
		case 4:
			szenc = ptrEncUdata4 | (szenc & ptrEncSigned)
		case 8:
			szenc = ptrEncUdata8 | (szenc & ptrEncSigned)
		default:
			return 0, 0, decodeErr(0, "unsupported pointer size %d", ptrSize)
		}
	}
	switch szenc {
	case ptrEncUleb:
		v, sz, err := leb128.DecodeUnsigned(buf)
		if err != nil {
			return 0, 0, decodeErr(0, "truncated pointer: %v", err)
		}
		value, n = v, sz
	case ptrEncSleb:
		v, sz, err := leb128.DecodeSigned(buf)
		if err != nil {
			return 0, 0, decodeErr(0, "truncated pointer: %v", err)
		}
		value, n, signed = uint64(v), sz, true
	case ptrEncUdata2, ptrEncSdata2:
		if len(buf) < 2 {
			return 0, 0, decodeErr(0, "truncated pointer")
		}
		value, n, signed = uint64(order.Uint16(buf)), 2, szenc == ptrEncSdata2
		if signed {
			value = uint64(int64(int16(value)))
		}
	case ptrEncUdata4, ptrEncSdata4:
		if len(buf) < 4 {
			return 0, 0, decodeErr(0, "truncated pointer")
		}
		value, n, signed = uint64(order.Uint32(buf)), 4, szenc == ptrEncSdata4
		if signed {
			value = uint64(int64(int32(value)))
		}
	case ptrEncUdata8, ptrEncSdata8:
		if len(buf) < 8 {
			return 0, 0, decodeErr(0, "truncated pointer")
		}
		value, n = order.Uint64(buf), 8
	default:
		return 0, 0, decodeErr(0, "unsupported pointer encoding %#x", uint8(enc))
	}

	if enc&ptrEncFlagsMask == ptrEncPCRel {
		value += pcrelBase
	}
	return value, n, nil
}
