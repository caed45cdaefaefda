// Package leb128 decodes Little Endian Base 128 encoded numbers from byte
// slices.
//
// Decoding operates directly on a slice with an explicit count of consumed
// bytes so that callers iterating unwind instructions can keep a cursor
// without building an intermediate reader, and truncated input surfaces as
// an error instead of a panic.
package leb128

import "errors"

// ErrTruncated is returned when the input ends in the middle of an
// encoded number.
var ErrTruncated = errors.New("leb128: truncated input")

// ErrOverflow is returned when an encoded number does not fit in 64 bits.
var ErrOverflow = errors.New("leb128: value overflows 64 bits")

// DecodeUnsigned decodes an unsigned LEB128 number from the front of buf.
// It returns the value and the number of bytes consumed.
func DecodeUnsigned(buf []byte) (uint64, int, error) {
	var (
		result uint64
		shift  uint
		n      int
	)
	for {
		if n >= len(buf) {
			return 0, n, ErrTruncated
		}
		b := buf[n]
		n++
		// The tenth byte holds a single value bit.
		if shift == 63 && b&0x7e != 0 || shift > 63 && b&0x7f != 0 {
			return 0, n, ErrOverflow
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, n, nil
		}
		shift += 7
	}
}

// DecodeSigned decodes a signed LEB128 number from the front of buf.
// It returns the value and the number of bytes consumed.
func DecodeSigned(buf []byte) (int64, int, error) {
	var (
		result int64
		shift  uint
		n      int
		b      byte
	)
	for {
		if n >= len(buf) {
			return 0, n, ErrTruncated
		}
		b = buf[n]
		n++
		// The tenth byte holds bit 63 plus six copies of the sign.
		if shift > 63 || shift == 63 && b&0x7f != 0x00 && b&0x7f != 0x7f {
			return 0, n, ErrOverflow
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		// Sign extend.
		result |= -1 << shift
	}
	return result, n, nil
}
