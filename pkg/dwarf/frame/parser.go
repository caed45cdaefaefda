package frame

import (
	"encoding/binary"

	"github.com/go-pancakes/pancakes/pkg/dwarf/leb128"
)

const (
	cieIDDebugFrame = 0xffffffff
	cieIDEhFrame    = 0
	dwarf64Marker   = 0xffffffff
)

type parseContext struct {
	buf        []byte
	pos        int
	staticBase uint64
	order      binary.ByteOrder
	ptrSize    int

	// ehFrameAddr is the virtual address at which the section is mapped.
	// Zero means the section is a .debug_frame section; non-zero selects
	// .eh_frame semantics (CIE id, CIE pointers, pointer encodings).
	ehFrameAddr uint64

	cies    map[int]*CommonInformationEntry
	entries FrameDescriptionEntries
}

func (ctx *parseContext) ehFrame() bool { return ctx.ehFrameAddr != 0 }

// Parse decodes the contents of a .debug_frame or .eh_frame section into
// frame description entries. staticBase is added to every decoded initial
// address. ehFrameAddr must be the stated virtual address of the section
// when data comes from .eh_frame, and zero for .debug_frame.
func Parse(data []byte, order binary.ByteOrder, staticBase uint64, ptrSize int, ehFrameAddr uint64) (FrameDescriptionEntries, error) {
	if ptrSize != 4 && ptrSize != 8 {
		return nil, decodeErr(0, "unsupported pointer size %d", ptrSize)
	}
	ctx := &parseContext{
		buf:         data,
		staticBase:  staticBase,
		order:       order,
		ptrSize:     ptrSize,
		ehFrameAddr: ehFrameAddr,
		cies:        map[int]*CommonInformationEntry{},
		entries:     make(FrameDescriptionEntries, 0, 64),
	}
	for ctx.pos < len(ctx.buf) {
		if err := ctx.parseEntry(); err != nil {
			return nil, err
		}
	}
	return ctx.entries, nil
}

func (ctx *parseContext) parseEntry() error {
	start := ctx.pos
	if len(ctx.buf)-ctx.pos < 4 {
		return decodeErr(ctx.pos, "truncated entry length")
	}
	length := ctx.order.Uint32(ctx.buf[ctx.pos:])
	ctx.pos += 4

	if length == 0 {
		// Zero terminator; well-formed .eh_frame sections end with one.
		return nil
	}
	if length == dwarf64Marker {
		return decodeErr(start, "64-bit DWARF frame sections are not supported")
	}
	if len(ctx.buf)-ctx.pos < int(length) {
		return decodeErr(start, "entry length %d exceeds section", length)
	}
	contents := ctx.buf[ctx.pos : ctx.pos+int(length)]
	idPos := ctx.pos
	ctx.pos += int(length)

	if len(contents) < 4 {
		return decodeErr(start, "entry too short for CIE id")
	}
	id := ctx.order.Uint32(contents)

	if (ctx.ehFrame() && id == cieIDEhFrame) || (!ctx.ehFrame() && id == cieIDDebugFrame) {
		cie, err := ctx.parseCIE(start, length, contents[4:])
		if err != nil {
			return err
		}
		ctx.cies[start] = cie
		return nil
	}
	return ctx.parseFDE(start, length, idPos, id, contents[4:])
}

func (ctx *parseContext) parseCIE(start int, length uint32, data []byte) (*CommonInformationEntry, error) {
	cie := &CommonInformationEntry{Length: length, staticBase: ctx.staticBase, ptrSize: ctx.ptrSize, ptrEncAddr: ptrEncAbs}
	pos := 0
	fail := func(format string, args ...interface{}) (*CommonInformationEntry, error) {
		return nil, decodeErr(start+pos, format, args...)
	}

	if len(data) < 1 {
		return fail("truncated CIE")
	}
	cie.Version = data[pos]
	pos++
	switch cie.Version {
	case 1, 3, 4:
	default:
		return fail("unsupported CIE version %d", cie.Version)
	}

	augEnd := pos
	for augEnd < len(data) && data[augEnd] != 0 {
		augEnd++
	}
	if augEnd == len(data) {
		return fail("unterminated augmentation string")
	}
	cie.Augmentation = string(data[pos:augEnd])
	pos = augEnd + 1

	if cie.Version == 4 {
		// address_size and segment_size
		if len(data)-pos < 2 {
			return fail("truncated CIE")
		}
		if int(data[pos]) != ctx.ptrSize {
			return fail("CIE address size %d does not match pointer size %d", data[pos], ctx.ptrSize)
		}
		if data[pos+1] != 0 {
			return fail("segmented targets are not supported")
		}
		pos += 2
	}

	var (
		n   int
		err error
	)
	if cie.CodeAlignmentFactor, n, err = leb128.DecodeUnsigned(data[pos:]); err != nil {
		return fail("bad code alignment factor: %v", err)
	}
	pos += n
	if cie.DataAlignmentFactor, n, err = leb128.DecodeSigned(data[pos:]); err != nil {
		return fail("bad data alignment factor: %v", err)
	}
	pos += n
	if cie.Version == 1 {
		if pos >= len(data) {
			return fail("truncated CIE")
		}
		cie.ReturnAddressRegister = uint64(data[pos])
		pos++
	} else {
		if cie.ReturnAddressRegister, n, err = leb128.DecodeUnsigned(data[pos:]); err != nil {
			return fail("bad return address register: %v", err)
		}
		pos += n
	}

	if len(cie.Augmentation) > 0 {
		if cie.Augmentation[0] != 'z' {
			return fail("unsupported augmentation %q", cie.Augmentation)
		}
		augLen, n, err := leb128.DecodeUnsigned(data[pos:])
		if err != nil {
			return fail("bad augmentation length: %v", err)
		}
		pos += n
		if uint64(len(data)-pos) < augLen {
			return fail("augmentation data exceeds CIE")
		}
		augData := data[pos : pos+int(augLen)]
		pos += int(augLen)
		if err := ctx.parseAugmentation(cie, augData); err != nil {
			return nil, err
		}
	}

	cie.InitialInstructions = data[pos:]
	return cie, nil
}

// parseAugmentation interprets the augmentation data of a 'z' CIE. Letters
// we do not make use of (personality routines, LSDA encodings) are decoded
// only far enough to be skipped.
func (ctx *parseContext) parseAugmentation(cie *CommonInformationEntry, data []byte) error {
	pos := 0
	for _, letter := range cie.Augmentation[1:] {
		switch letter {
		case 'R':
			if pos >= len(data) {
				return decodeErr(ctx.pos, "truncated augmentation data")
			}
			cie.ptrEncAddr = ptrEnc(data[pos])
			pos++
			if !cie.ptrEncAddr.supported() {
				return decodeErr(ctx.pos, "unsupported FDE pointer encoding %#x", uint8(cie.ptrEncAddr))
			}
		case 'P':
			if pos >= len(data) {
				return decodeErr(ctx.pos, "truncated augmentation data")
			}
			personalityEnc := ptrEnc(data[pos])
			pos++
			_, n, err := decodePointer(data[pos:], personalityEnc, 0, ctx.ptrSize, ctx.order)
			if err != nil {
				return err
			}
			pos += n
		case 'L':
			if pos >= len(data) {
				return decodeErr(ctx.pos, "truncated augmentation data")
			}
			pos++
		case 'S':
			cie.IsSignalFrame = true
		default:
			// Unknown letters may carry data of unknown size; the 'z'
			// length already let us skip the whole block.
			return nil
		}
	}
	return nil
}

func (ctx *parseContext) parseFDE(start int, length uint32, idPos int, id uint32, data []byte) error {
	var (
		cie *CommonInformationEntry
		ok  bool
	)
	if ctx.ehFrame() {
		// The CIE pointer counts back from the field itself.
		cie, ok = ctx.cies[idPos-int(id)]
	} else {
		cie, ok = ctx.cies[int(id)]
	}
	if !ok {
		return decodeErr(idPos, "FDE references unknown CIE %#x", id)
	}

	fde := &FrameDescriptionEntry{Length: length, CIE: cie, order: ctx.order}
	pos := 0

	if ctx.ehFrame() {
		// PC-relative values are relative to where they sit in memory.
		fieldAddr := ctx.ehFrameAddr + uint64(idPos) + 4
		begin, n, err := decodePointer(data, cie.ptrEncAddr, fieldAddr, ctx.ptrSize, ctx.order)
		if err != nil {
			return decodeErr(start, "bad FDE initial location: %v", err)
		}
		pos += n
		// The address range is always an absolute quantity; only the size
		// part of the encoding applies.
		size, n, err := decodePointer(data[pos:], cie.ptrEncAddr&0x0f, 0, ctx.ptrSize, ctx.order)
		if err != nil {
			return decodeErr(start, "bad FDE address range: %v", err)
		}
		pos += n
		fde.begin, fde.size = begin+ctx.staticBase, size

		if len(cie.Augmentation) > 0 && cie.Augmentation[0] == 'z' {
			augLen, n, err := leb128.DecodeUnsigned(data[pos:])
			if err != nil {
				return decodeErr(start, "bad FDE augmentation length: %v", err)
			}
			pos += n
			if uint64(len(data)-pos) < augLen {
				return decodeErr(start, "FDE augmentation data exceeds entry")
			}
			pos += int(augLen)
		}
	} else {
		if len(data) < 2*ctx.ptrSize {
			return decodeErr(start, "truncated FDE")
		}
		fde.begin = ctx.readPtr(data) + ctx.staticBase
		fde.size = ctx.readPtr(data[ctx.ptrSize:])
		pos = 2 * ctx.ptrSize
	}

	fde.Instructions = data[pos:]
	ctx.entries = append(ctx.entries, fde)
	return nil
}

func (ctx *parseContext) readPtr(data []byte) uint64 {
	switch ctx.ptrSize {
	case 4:
		return uint64(ctx.order.Uint32(data))
	default:
		return ctx.order.Uint64(data)
	}
}
