package pancakes

import (
	"encoding/binary"

	"github.com/go-pancakes/pancakes/pkg/dwarf/frame"
)

// UnwindEntry maps one half-open range of runtime addresses to the
// frame descriptor recovering registers inside it. Entries are
// immutable once built.
type UnwindEntry struct {
	start uint64
	end   uint64
	bias  uint64
	fde   *frame.FrameDescriptionEntry
}

// NewUnwindEntry relocates fde by the image's load bias: the entry
// covers [fde.Begin()+bias, fde.End()+bias).
func NewUnwindEntry(fde *frame.FrameDescriptionEntry, bias uint64) UnwindEntry {
	return UnwindEntry{
		start: fde.Begin() + bias,
		end:   fde.End() + bias,
		bias:  bias,
		fde:   fde,
	}
}

// Start returns the first runtime address the entry covers.
func (e *UnwindEntry) Start() uint64 { return e.start }

// End returns the first runtime address past the entry.
func (e *UnwindEntry) End() uint64 { return e.end }

// Bias returns the load bias the entry was relocated by.
func (e *UnwindEntry) Bias() uint64 { return e.bias }

// Cover reports whether addr falls inside [start, end).
func (e *UnwindEntry) Cover(addr uint64) bool {
	return addr-e.start < e.end-e.start
}

// EntriesFromFrameSection decodes a call-frame-info section into one
// entry per frame descriptor, each relocated by bias. sectionAddr is
// the unrelocated address the file states for the section: pass the
// .eh_frame section header address, or zero for a .debug_frame
// section. Decoded descriptors stay in link time addresses and bias
// relocates them exactly once.
func EntriesFromFrameSection(section []byte, order binary.ByteOrder, sectionAddr, bias uint64, ptrSize int) ([]UnwindEntry, error) {
	fdes, err := frame.Parse(section, order, 0, ptrSize, sectionAddr)
	if err != nil {
		return nil, err
	}
	entries := make([]UnwindEntry, 0, len(fdes))
	for _, fde := range fdes {
		entries = append(entries, NewUnwindEntry(fde, bias))
	}
	return entries, nil
}
