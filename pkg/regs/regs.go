// Package regs models the register snapshot the stack walker carries
// from frame to frame: base pointer, stack pointer and instruction
// pointer, each a validity-tagged word. FromUnwindTableRow applies one
// unwind table row to a snapshot, producing the caller's snapshot.
//
// The three registers are addressed by their DWARF numbers, which are
// architecture specific; the mapping is selected at build time and
// unsupported architectures get a stub whose capture path always fails.
package regs

import (
	"errors"
	"fmt"

	"github.com/go-pancakes/pancakes/pkg/dwarf/frame"
	"github.com/go-pancakes/pancakes/pkg/memread"
	"github.com/go-pancakes/pancakes/pkg/tagged"
)

var (
	// ErrExpressionUnsupported is returned when a row's CFA or register
	// rule is expression encoded. Expression evaluation is not
	// implemented and must never be silently approximated.
	ErrExpressionUnsupported = errors.New("regs: DWARF expression rules are not supported")

	// ErrUnsupportedArch is returned by FromUnwindTableRow and
	// WithCurrent on architectures without a register binding.
	ErrUnsupportedArch = errors.New("regs: architecture not supported")
)

// UnknownRegisterError is returned when a CFA rule names a DWARF
// register this architecture binding does not track.
type UnknownRegisterError struct {
	Reg uint64
}

func (e *UnknownRegisterError) Error() string {
	return fmt.Sprintf("regs: rule references untracked register %d", e.Reg)
}

// FrameRegisters is the tracked register snapshot of one call frame.
// The zero value has all registers invalid.
type FrameRegisters struct {
	bp tagged.Word
	sp tagged.Word
	ip tagged.Word
}

// NewFrameRegisters returns a snapshot holding the given register words.
func NewFrameRegisters(bp, sp, ip tagged.Word) FrameRegisters {
	return FrameRegisters{bp: bp, sp: sp, ip: ip}
}

// BP returns the base pointer.
func (r FrameRegisters) BP() tagged.Word { return r.bp }

// SP returns the stack pointer.
func (r FrameRegisters) SP() tagged.Word { return r.sp }

// IP returns the instruction pointer.
func (r FrameRegisters) IP() tagged.Word { return r.ip }

// byDWARF returns the word tracked under the given DWARF register
// number. The second return value reports whether the register is
// tracked at all on this architecture.
func (r *FrameRegisters) byDWARF(n uint64) (tagged.Word, bool) {
	switch n {
	case dwarfRegBP:
		return r.bp, true
	case dwarfRegSP:
		return r.sp, true
	case dwarfRegIP:
		return r.ip, true
	}
	return tagged.Word{}, false
}

// FromUnwindTableRow recovers the caller's registers from the callee's
// by applying one unwind table row: the CFA is computed from the row's
// CFA rule, then each tracked register's rule is evaluated against the
// CFA, the old snapshot and the memory reader. Nothing here allocates
// on the success path.
func FromUnwindTableRow(row *frame.UnwindTableRow, old *FrameRegisters, mem memread.Reader) (FrameRegisters, error) {
	if !archSupported {
		return FrameRegisters{}, ErrUnsupportedArch
	}
	cfa, err := computeCFA(row.CFARule(), old, mem)
	if err != nil {
		return FrameRegisters{}, err
	}
	bp, err := evalRule(row.Register(dwarfRegBP), dwarfRegBP, cfa, old, mem)
	if err != nil {
		return FrameRegisters{}, err
	}
	sp, err := evalRule(row.Register(dwarfRegSP), dwarfRegSP, cfa, old, mem)
	if err != nil {
		return FrameRegisters{}, err
	}
	ip, err := evalRule(row.Register(dwarfRegIP), dwarfRegIP, cfa, old, mem)
	if err != nil {
		return FrameRegisters{}, err
	}
	return FrameRegisters{bp: bp, sp: sp, ip: ip}, nil
}

// computeCFA evaluates a register+offset CFA rule: the named register's
// old value plus the offset, dereferenced through the reader. The
// register must be tracked and its old value must be valid; read
// failures propagate.
func computeCFA(rule frame.DWRule, old *FrameRegisters, mem memread.Reader) (uint64, error) {
	switch rule.Rule {
	case frame.RuleCFA:
	case frame.RuleExpression, frame.RuleValExpression:
		return 0, ErrExpressionUnsupported
	default:
		return 0, tagged.ErrInvalidWord
	}
	base, ok := old.byDWARF(rule.Reg)
	if !ok {
		return 0, &UnknownRegisterError{Reg: rule.Reg}
	}
	v, err := base.Value()
	if err != nil {
		return 0, err
	}
	return memread.ReadWordOffset(mem, v, rule.Offset)
}

func evalRule(rule frame.DWRule, reg uint64, cfa uint64, old *FrameRegisters, mem memread.Reader) (tagged.Word, error) {
	switch rule.Rule {
	case frame.RuleUndefined, frame.RuleArchitectural:
		return tagged.Invalid(), nil
	case frame.RuleSameVal:
		w, _ := old.byDWARF(reg)
		return w, nil
	case frame.RuleOffset:
		return tagged.FromRead(memread.ReadWordOffset(mem, cfa, rule.Offset)), nil
	case frame.RuleValOffset:
		return tagged.Valid(cfa + uint64(rule.Offset)), nil
	case frame.RuleRegister:
		// An alias to an untracked register degrades to invalid, it is
		// common and not itself fatal.
		w, _ := old.byDWARF(rule.Reg)
		return w, nil
	case frame.RuleExpression, frame.RuleValExpression:
		return tagged.Word{}, ErrExpressionUnsupported
	}
	return tagged.Invalid(), nil
}
