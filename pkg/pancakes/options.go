package pancakes

import (
	"encoding/binary"

	"golang.org/x/exp/slices"

	"github.com/go-pancakes/pancakes/pkg/dwarf/frame"
	"github.com/go-pancakes/pancakes/pkg/logflags"
	"github.com/go-pancakes/pancakes/pkg/memread"
)

// Options accumulates unwind entries, a memory reader and a logger,
// then finalizes them into a Walker. All of this runs outside the hot
// path and is free to allocate. An Options must not be touched after
// Build; Reconfigure on the Walker hands it back for rebuilding.
type Options struct {
	entries []UnwindEntry
	reader  memread.Reader
	logger  logflags.Logger
}

// NewOptions returns an empty configuration.
func NewOptions() *Options {
	return &Options{}
}

// AddEntry appends one pre-built entry.
func (o *Options) AddEntry(entry UnwindEntry) *Options {
	o.entries = append(o.entries, entry)
	return o
}

// AddEntries appends a batch of pre-built entries.
func (o *Options) AddEntries(entries []UnwindEntry) *Options {
	o.entries = append(o.entries, entries...)
	return o
}

// AddEntriesFromFrameSection decodes a call-frame-info section and
// appends every entry derived from it. See EntriesFromFrameSection for
// the parameters.
func (o *Options) AddEntriesFromFrameSection(section []byte, order binary.ByteOrder, sectionAddr, bias uint64, ptrSize int) error {
	entries, err := EntriesFromFrameSection(section, order, sectionAddr, bias, ptrSize)
	if err != nil {
		return err
	}
	o.entries = append(o.entries, entries...)
	return nil
}

// ClearEntries drops all accumulated entries, keeping the reader and
// logger.
func (o *Options) ClearEntries() *Options {
	o.entries = o.entries[:0]
	return o
}

// WithReader sets the memory reader the walker will use. The default
// reads the current process's address space.
func (o *Options) WithReader(r memread.Reader) *Options {
	o.reader = r
	return o
}

// WithLogger sets the diagnostic logger. The default is the walker
// logger from logflags.
func (o *Options) WithLogger(l logflags.Logger) *Options {
	o.logger = l
	return o
}

// Build sorts the accumulated entries by range start and freezes them
// into a Walker. The entry table is read-only from here on; lookup
// assumes the ranges do not overlap.
func (o *Options) Build() *Walker {
	if o.reader == nil {
		o.reader = memread.NewThisProcessMemory()
	}
	if o.logger == nil {
		o.logger = logflags.WalkerLogger()
	}
	slices.SortFunc(o.entries, func(a, b UnwindEntry) int {
		switch {
		case a.start < b.start:
			return -1
		case a.start > b.start:
			return 1
		}
		return 0
	})
	if logflags.Walker() {
		o.logger.Debugf("built walker with %d unwind entries", len(o.entries))
	}
	return &Walker{
		entries: o.entries,
		reader:  o.reader,
		logger:  o.logger,
		ctx:     frame.NewContext(),
	}
}
