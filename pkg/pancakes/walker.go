package pancakes

import (
	"github.com/go-pancakes/pancakes/pkg/dwarf/frame"
	"github.com/go-pancakes/pancakes/pkg/logflags"
	"github.com/go-pancakes/pancakes/pkg/memread"
	"github.com/go-pancakes/pancakes/pkg/regs"
)

// Walker steps through call frames using a frozen entry table. It is
// not re-entrant: the decode context is exclusively owned, taken at the
// start of each step and restored on every exit, success or failure.
type Walker struct {
	entries []UnwindEntry
	reader  memread.Reader
	logger  logflags.Logger
	ctx     *frame.Context
}

// lookup binary searches the sorted entry table for the entry covering
// addr. Returns nil when addr falls in a gap or outside the table.
func (w *Walker) lookup(addr uint64) *UnwindEntry {
	lo, hi := 0, len(w.entries)
	for lo < hi {
		mid := lo + (hi-lo)/2
		entry := &w.entries[mid]
		switch {
		case addr < entry.start:
			hi = mid
		case addr >= entry.end:
			lo = mid + 1
		default:
			return entry
		}
	}
	return nil
}

// WalkOne recovers the caller's registers from current. Fails with
// tagged.ErrInvalidWord when the instruction pointer is unknown and
// with NoUnwindInfoError when nothing covers it; the latter is how a
// complete walk ends. The Walker stays usable after any failure.
func (w *Walker) WalkOne(current regs.FrameRegisters) (regs.FrameRegisters, error) {
	ip, err := current.IP().Value()
	if err != nil {
		return regs.FrameRegisters{}, err
	}
	entry := w.lookup(ip)
	if entry == nil {
		return regs.FrameRegisters{}, &NoUnwindInfoError{Addr: ip}
	}

	ctx := w.ctx
	if ctx == nil {
		return regs.FrameRegisters{}, errMissingContext
	}
	w.ctx = nil
	defer func() {
		ctx.Reset()
		w.ctx = ctx
	}()

	table, err := entry.fde.UnwindTable(ctx)
	if err != nil {
		return regs.FrameRegisters{}, err
	}
	// Rows are expressed in the image's unrelocated addresses.
	target := ip - entry.bias
	for {
		row, err := table.NextRow()
		if err != nil {
			return regs.FrameRegisters{}, err
		}
		if row == nil {
			return regs.FrameRegisters{}, &NoUnwindInfoError{Addr: ip}
		}
		if row.Cover(target) {
			return regs.FromUnwindTableRow(row, &current, w.reader)
		}
	}
}

// Walk invokes callback on start first, then repeatedly steps with
// WalkOne and invokes callback on each recovered frame. It stops when
// the callback returns Break or a step fails; the first step error is
// terminal, there is no per-frame retry.
func (w *Walker) Walk(start regs.FrameRegisters, callback func(regs.FrameRegisters) Control) error {
	if callback(start) == Break {
		return nil
	}
	current := start
	for {
		next, err := w.WalkOne(current)
		if err != nil {
			return err
		}
		if callback(next) == Break {
			return nil
		}
		current = next
	}
}

// Reconfigure decomposes the Walker back into its Options so entries
// can be added or cleared, then rebuilt. The Walker must not be used
// afterwards.
func (w *Walker) Reconfigure() *Options {
	return &Options{
		entries: w.entries,
		reader:  w.reader,
		logger:  w.logger,
	}
}
