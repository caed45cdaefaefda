// Package frame decodes DWARF call frame information from .debug_frame
// and .eh_frame sections into frame descriptors and unwind table rows.
//
// Decoding is split in two: Parse scans a section once into common
// information entries (CIEs) and frame description entries (FDEs), and a
// reusable Context turns one FDE at a time into a sequence of table rows.
// Row production never allocates and never panics; malformed input is
// reported as a *DecodeError.
package frame

import (
	"encoding/binary"
	"fmt"
)

// DecodeError describes malformed call frame information.
type DecodeError struct {
	Offset int
	Msg    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("frame: %s at offset %#x", e.Msg, e.Offset)
}

func decodeErr(offset int, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

// CommonInformationEntry is the record shared by many frame description
// entries: alignment factors, the return address column and the initial
// rule instructions.
type CommonInformationEntry struct {
	Length                uint32
	Version               uint8
	Augmentation          string
	IsSignalFrame         bool
	CodeAlignmentFactor   uint64
	DataAlignmentFactor   int64
	ReturnAddressRegister uint64
	InitialInstructions   []byte

	staticBase uint64
	ptrSize    int

	// eh_frame pointer encoding for FDE addresses.
	ptrEncAddr ptrEnc
}

// FrameDescriptionEntry describes how to recover the caller's registers
// over one contiguous address range.
type FrameDescriptionEntry struct {
	Length       uint32
	CIE          *CommonInformationEntry
	Instructions []byte

	begin, size uint64
	order       binary.ByteOrder
}

// NewFrameDescriptionEntry builds a frame description entry directly from
// its parts. It is intended for callers that obtain unwind data from
// somewhere other than a raw section, and for synthetic tables in tests.
func NewFrameDescriptionEntry(begin, size uint64, cie *CommonInformationEntry, instructions []byte, order binary.ByteOrder) *FrameDescriptionEntry {
	return &FrameDescriptionEntry{
		CIE:          cie,
		Instructions: instructions,
		begin:        begin,
		size:         size,
		order:        order,
	}
}

// Cover reports whether addr falls inside the half-open range
// [Begin, End) of this entry.
func (fde *FrameDescriptionEntry) Cover(addr uint64) bool {
	return addr-fde.begin < fde.size
}

// Begin returns the first address covered by this entry.
func (fde *FrameDescriptionEntry) Begin() uint64 {
	return fde.begin
}

// End returns the address one past the last address covered by this
// entry.
func (fde *FrameDescriptionEntry) End() uint64 {
	return fde.begin + fde.size
}

// FrameDescriptionEntries is a list of FDEs in section order.
type FrameDescriptionEntries []*FrameDescriptionEntry
