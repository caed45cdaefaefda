package frame

import (
	"encoding/binary"

	"github.com/go-pancakes/pancakes/pkg/dwarf/leb128"
)

// Call frame instruction opcodes, DWARF v4 section 7.23.
const (
	dwCFANop              = 0x00
	dwCFASetLoc           = 0x01 // op1: encoded address
	dwCFAAdvanceLoc1      = 0x02 // op1: 1-byte delta
	dwCFAAdvanceLoc2      = 0x03 // op1: 2-byte delta
	dwCFAAdvanceLoc4      = 0x04 // op1: 4-byte delta
	dwCFAOffsetExtended   = 0x05 // op1: ULEB128 register, op2: ULEB128 offset
	dwCFARestoreExtended  = 0x06 // op1: ULEB128 register
	dwCFAUndefined        = 0x07 // op1: ULEB128 register
	dwCFASameValue        = 0x08 // op1: ULEB128 register
	dwCFARegister         = 0x09 // op1: ULEB128 register, op2: ULEB128 register
	dwCFARememberState    = 0x0a
	dwCFARestoreState     = 0x0b
	dwCFADefCFA           = 0x0c // op1: ULEB128 register, op2: ULEB128 offset
	dwCFADefCFARegister   = 0x0d // op1: ULEB128 register
	dwCFADefCFAOffset     = 0x0e // op1: ULEB128 offset
	dwCFADefCFAExpression = 0x0f // op1: BLOCK
	dwCFAExpression       = 0x10 // op1: ULEB128 register, op2: BLOCK
	dwCFAOffsetExtendedSf = 0x11 // op1: ULEB128 register, op2: SLEB128 offset
	dwCFADefCFASf         = 0x12 // op1: ULEB128 register, op2: SLEB128 offset
	dwCFADefCFAOffsetSf   = 0x13 // op1: SLEB128 offset
	dwCFAValOffset        = 0x14 // op1: ULEB128 register, op2: ULEB128 offset
	dwCFAValOffsetSf      = 0x15 // op1: ULEB128 register, op2: SLEB128 offset
	dwCFAValExpression    = 0x16 // op1: ULEB128 register, op2: BLOCK
	dwCFALoUser           = 0x1c
	dwCFAHiUser           = 0x3f

	// High 2 bits select these, low 6 bits carry the operand.
	dwCFAAdvanceLoc = 0x1 << 6
	dwCFAOffset     = 0x2 << 6
	dwCFARestore    = 0x3 << 6

	high2BitsMask = 0xc0
	low6Mask      = 0x3f
)

// Rule classifies how a register's saved value is recovered.
type Rule byte

const (
	// RuleUndefined means the register's value cannot be recovered.
	RuleUndefined Rule = iota
	// RuleSameVal means the register still holds its value from the
	// previous frame.
	RuleSameVal
	// RuleOffset means the value is saved at CFA+Offset.
	RuleOffset
	// RuleValOffset means the value is CFA+Offset itself.
	RuleValOffset
	// RuleRegister means the value lives in another register.
	RuleRegister
	// RuleExpression means the value is saved at the address computed by a
	// DWARF expression.
	RuleExpression
	// RuleValExpression means the value is the result of a DWARF
	// expression.
	RuleValExpression
	// RuleArchitectural means the rule is defined by the ABI, outside the
	// unwind data.
	RuleArchitectural
	// RuleCFA describes a canonical frame address of Reg+Offset.
	RuleCFA
)

// DWRule is one register recovery rule (or a CFA rule when Rule is
// RuleCFA or RuleExpression in a row's CFA slot).
type DWRule struct {
	Rule       Rule
	Offset     int64
	Reg        uint64
	Expression []byte
}

// RuleTableSize is the number of register columns a row tracks. Rules for
// DWARF register numbers at or above this are dropped during decoding;
// frame recovery only ever consults the base pointer, stack pointer,
// return address column and the CFA base register, all well below this
// window on supported architectures.
const RuleTableSize = 32

// maxRememberedStates bounds the DW_CFA_remember_state stack. Compilers
// emit nesting depths of one or two; the fixed bound keeps row production
// allocation free.
const maxRememberedStates = 8

type rowState struct {
	cfa  DWRule
	regs [RuleTableSize]DWRule
}

// UnwindTableRow is one row of an FDE's unwind table: the rules in effect
// for the half-open address range [Begin, End).
type UnwindTableRow struct {
	begin, end uint64
	cfa        DWRule
	regs       [RuleTableSize]DWRule
	retAddrReg uint64
}

// Begin returns the first address the row applies to.
func (row *UnwindTableRow) Begin() uint64 { return row.begin }

// End returns the address one past the last address the row applies to.
func (row *UnwindTableRow) End() uint64 { return row.end }

// Cover reports whether addr falls within [Begin, End).
func (row *UnwindTableRow) Cover(addr uint64) bool {
	return addr-row.begin < row.end-row.begin
}

// CFARule returns the row's canonical frame address rule.
func (row *UnwindTableRow) CFARule() DWRule { return row.cfa }

// Register returns the recovery rule for the given DWARF register number.
// Registers outside the tracked window are undefined.
func (row *UnwindTableRow) Register(n uint64) DWRule {
	if n >= RuleTableSize {
		return DWRule{Rule: RuleUndefined}
	}
	return row.regs[n]
}

// ReturnAddressRegister returns the DWARF register number holding the
// return address for this row's frame.
func (row *UnwindTableRow) ReturnAddressRegister() uint64 { return row.retAddrReg }

// Context is the scratch state needed to turn an FDE into table rows. It
// is initialized from an FDE's CIE, reused across frames, and never
// allocates after construction, so a single Context can serve a walk that
// runs inside a signal handler.
type Context struct {
	initialized bool

	cie           *CommonInformationEntry
	codeAlignment uint64
	dataAlignment int64
	retAddrReg    uint64

	loc  uint64
	cfa  DWRule
	regs [RuleTableSize]DWRule

	// State right after the CIE's initial instructions, restored by
	// DW_CFA_restore.
	initialCFA  DWRule
	initialRegs [RuleTableSize]DWRule

	remembered  [maxRememberedStates]rowState
	nremembered int

	row UnwindTableRow
}

// NewContext returns a fresh, uninitialized Context.
func NewContext() *Context {
	return &Context{}
}

// Reset returns the context to its uninitialized state. It must be called
// once row iteration for an FDE is finished, before the context is reused.
func (ctx *Context) Reset() {
	*ctx = Context{}
}

// initialize prepares the context for iterating one FDE's rows by
// executing the CIE's initial instructions.
func (ctx *Context) initialize(cie *CommonInformationEntry) error {
	ctx.Reset()
	ctx.cie = cie
	ctx.codeAlignment = cie.CodeAlignmentFactor
	ctx.dataAlignment = cie.DataAlignmentFactor
	ctx.retAddrReg = cie.ReturnAddressRegister

	for pos := 0; pos < len(cie.InitialInstructions); {
		var err error
		pos, err = ctx.executeInstruction(cie.InitialInstructions, pos, nil)
		if err != nil {
			return err
		}
	}
	ctx.initialCFA = ctx.cfa
	ctx.initialRegs = ctx.regs
	ctx.initialized = true
	return nil
}

// UnwindTable starts row iteration for fde using ctx as scratch state.
// The table borrows ctx exclusively until the last row has been produced;
// the caller must Reset ctx afterwards.
func (fde *FrameDescriptionEntry) UnwindTable(ctx *Context) (UnwindTable, error) {
	if err := ctx.initialize(fde.CIE); err != nil {
		return UnwindTable{}, err
	}
	ctx.loc = fde.Begin()
	return UnwindTable{ctx: ctx, fde: fde, rowStart: fde.Begin()}, nil
}

// UnwindTable produces the rows of one FDE in address order.
type UnwindTable struct {
	ctx      *Context
	fde      *FrameDescriptionEntry
	pos      int
	rowStart uint64
	done     bool
}

// NextRow returns the next table row, or nil when the FDE's instructions
// are exhausted. The returned row points into the table's context and is
// only valid until the next call.
func (t *UnwindTable) NextRow() (*UnwindTableRow, error) {
	if t.done {
		return nil, nil
	}
	ctx := t.ctx
	if ctx == nil || !ctx.initialized {
		return nil, decodeErr(t.pos, "unwind table used with an uninitialized context")
	}

	insns := t.fde.Instructions
	for t.pos < len(insns) {
		prevLoc := ctx.loc
		npos, err := ctx.executeInstruction(insns, t.pos, t.fde)
		if err != nil {
			return nil, err
		}
		t.pos = npos
		if ctx.loc != prevLoc {
			if ctx.loc < prevLoc {
				return nil, decodeErr(t.pos, "location moved backwards from %#x to %#x", prevLoc, ctx.loc)
			}
			row := ctx.snapshotRow(t.rowStart, ctx.loc)
			t.rowStart = ctx.loc
			return row, nil
		}
	}

	t.done = true
	if end := t.fde.End(); t.rowStart < end {
		return ctx.snapshotRow(t.rowStart, end), nil
	}
	return nil, nil
}

func (ctx *Context) snapshotRow(start, end uint64) *UnwindTableRow {
	ctx.row.begin = start
	ctx.row.end = end
	ctx.row.cfa = ctx.cfa
	ctx.row.regs = ctx.regs
	ctx.row.retAddrReg = ctx.retAddrReg
	return &ctx.row
}

func (ctx *Context) setRule(reg uint64, rule DWRule) {
	if reg < RuleTableSize {
		ctx.regs[reg] = rule
	}
}

// executeInstruction decodes and applies the instruction at pos, returning
// the position of the next one. fde is nil while executing a CIE's initial
// instructions, where DW_CFA_set_loc is not meaningful.
func (ctx *Context) executeInstruction(insns []byte, pos int, fde *FrameDescriptionEntry) (int, error) {
	op := insns[pos]
	pos++

	switch op & high2BitsMask {
	case dwCFAAdvanceLoc:
		ctx.loc += uint64(op&low6Mask) * ctx.codeAlignment
		return pos, nil
	case dwCFAOffset:
		offset, n, err := leb128.DecodeUnsigned(insns[pos:])
		if err != nil {
			return pos, decodeErr(pos, "bad offset operand: %v", err)
		}
		ctx.setRule(uint64(op&low6Mask), DWRule{Rule: RuleOffset, Offset: int64(offset) * ctx.dataAlignment})
		return pos + n, nil
	case dwCFARestore:
		ctx.restoreRule(uint64(op & low6Mask))
		return pos, nil
	}

	switch op {
	case dwCFANop:
		return pos, nil

	case dwCFASetLoc:
		if fde == nil {
			return pos, decodeErr(pos, "DW_CFA_set_loc in CIE initial instructions")
		}
		ptrSize := fde.CIE.ptrSize
		if ptrSize == 0 {
			ptrSize = 8
		}
		loc, n, err := decodePointer(insns[pos:], fde.CIE.ptrEncAddr, 0, ptrSize, fde.order)
		if err != nil {
			return pos, decodeErr(pos, "bad set_loc operand: %v", err)
		}
		ctx.loc = loc + fde.CIE.staticBase
		return pos + n, nil

	case dwCFAAdvanceLoc1:
		if pos >= len(insns) {
			return pos, decodeErr(pos, "truncated advance_loc1")
		}
		ctx.loc += uint64(insns[pos]) * ctx.codeAlignment
		return pos + 1, nil

	case dwCFAAdvanceLoc2:
		if len(insns)-pos < 2 {
			return pos, decodeErr(pos, "truncated advance_loc2")
		}
		ctx.loc += uint64(orderOf(fde).Uint16(insns[pos:])) * ctx.codeAlignment
		return pos + 2, nil

	case dwCFAAdvanceLoc4:
		if len(insns)-pos < 4 {
			return pos, decodeErr(pos, "truncated advance_loc4")
		}
		ctx.loc += uint64(orderOf(fde).Uint32(insns[pos:])) * ctx.codeAlignment
		return pos + 4, nil

	case dwCFAOffsetExtended:
		reg, offset, n, err := ctx.regOffsetOperands(insns[pos:], false)
		if err != nil {
			return pos, decodeErr(pos, "bad offset_extended operands: %v", err)
		}
		ctx.setRule(reg, DWRule{Rule: RuleOffset, Offset: offset * ctx.dataAlignment})
		return pos + n, nil

	case dwCFAOffsetExtendedSf:
		reg, offset, n, err := ctx.regOffsetOperands(insns[pos:], true)
		if err != nil {
			return pos, decodeErr(pos, "bad offset_extended_sf operands: %v", err)
		}
		ctx.setRule(reg, DWRule{Rule: RuleOffset, Offset: offset * ctx.dataAlignment})
		return pos + n, nil

	case dwCFARestoreExtended:
		reg, n, err := leb128.DecodeUnsigned(insns[pos:])
		if err != nil {
			return pos, decodeErr(pos, "bad restore_extended operand: %v", err)
		}
		ctx.restoreRule(reg)
		return pos + n, nil

	case dwCFAUndefined:
		reg, n, err := leb128.DecodeUnsigned(insns[pos:])
		if err != nil {
			return pos, decodeErr(pos, "bad undefined operand: %v", err)
		}
		ctx.setRule(reg, DWRule{Rule: RuleUndefined})
		return pos + n, nil

	case dwCFASameValue:
		reg, n, err := leb128.DecodeUnsigned(insns[pos:])
		if err != nil {
			return pos, decodeErr(pos, "bad same_value operand: %v", err)
		}
		ctx.setRule(reg, DWRule{Rule: RuleSameVal})
		return pos + n, nil

	case dwCFARegister:
		reg1, n1, err := leb128.DecodeUnsigned(insns[pos:])
		if err != nil {
			return pos, decodeErr(pos, "bad register operand: %v", err)
		}
		reg2, n2, err := leb128.DecodeUnsigned(insns[pos+n1:])
		if err != nil {
			return pos, decodeErr(pos, "bad register operand: %v", err)
		}
		ctx.setRule(reg1, DWRule{Rule: RuleRegister, Reg: reg2})
		return pos + n1 + n2, nil

	case dwCFARememberState:
		if ctx.nremembered == maxRememberedStates {
			return pos, decodeErr(pos, "remember_state nested deeper than %d", maxRememberedStates)
		}
		ctx.remembered[ctx.nremembered] = rowState{cfa: ctx.cfa, regs: ctx.regs}
		ctx.nremembered++
		return pos, nil

	case dwCFARestoreState:
		if ctx.nremembered == 0 {
			return pos, decodeErr(pos, "restore_state with no remembered state")
		}
		ctx.nremembered--
		ctx.cfa = ctx.remembered[ctx.nremembered].cfa
		ctx.regs = ctx.remembered[ctx.nremembered].regs
		return pos, nil

	case dwCFADefCFA:
		reg, offset, n, err := ctx.regOffsetOperands(insns[pos:], false)
		if err != nil {
			return pos, decodeErr(pos, "bad def_cfa operands: %v", err)
		}
		ctx.cfa = DWRule{Rule: RuleCFA, Reg: reg, Offset: offset}
		return pos + n, nil

	case dwCFADefCFASf:
		reg, offset, n, err := ctx.regOffsetOperands(insns[pos:], true)
		if err != nil {
			return pos, decodeErr(pos, "bad def_cfa_sf operands: %v", err)
		}
		ctx.cfa = DWRule{Rule: RuleCFA, Reg: reg, Offset: offset * ctx.dataAlignment}
		return pos + n, nil

	case dwCFADefCFARegister:
		reg, n, err := leb128.DecodeUnsigned(insns[pos:])
		if err != nil {
			return pos, decodeErr(pos, "bad def_cfa_register operand: %v", err)
		}
		if ctx.cfa.Rule != RuleCFA {
			return pos, decodeErr(pos, "def_cfa_register while CFA rule is not register based")
		}
		ctx.cfa.Reg = reg
		return pos + n, nil

	case dwCFADefCFAOffset:
		offset, n, err := leb128.DecodeUnsigned(insns[pos:])
		if err != nil {
			return pos, decodeErr(pos, "bad def_cfa_offset operand: %v", err)
		}
		if ctx.cfa.Rule != RuleCFA {
			return pos, decodeErr(pos, "def_cfa_offset while CFA rule is not register based")
		}
		ctx.cfa.Offset = int64(offset)
		return pos + n, nil

	case dwCFADefCFAOffsetSf:
		offset, n, err := leb128.DecodeSigned(insns[pos:])
		if err != nil {
			return pos, decodeErr(pos, "bad def_cfa_offset_sf operand: %v", err)
		}
		if ctx.cfa.Rule != RuleCFA {
			return pos, decodeErr(pos, "def_cfa_offset_sf while CFA rule is not register based")
		}
		ctx.cfa.Offset = offset * ctx.dataAlignment
		return pos + n, nil

	case dwCFADefCFAExpression:
		expr, n, err := ctx.blockOperand(insns[pos:])
		if err != nil {
			return pos, decodeErr(pos, "bad def_cfa_expression operand: %v", err)
		}
		ctx.cfa = DWRule{Rule: RuleExpression, Expression: expr}
		return pos + n, nil

	case dwCFAExpression:
		reg, n1, err := leb128.DecodeUnsigned(insns[pos:])
		if err != nil {
			return pos, decodeErr(pos, "bad expression operand: %v", err)
		}
		expr, n2, err := ctx.blockOperand(insns[pos+n1:])
		if err != nil {
			return pos, decodeErr(pos, "bad expression operand: %v", err)
		}
		ctx.setRule(reg, DWRule{Rule: RuleExpression, Expression: expr})
		return pos + n1 + n2, nil

	case dwCFAValExpression:
		reg, n1, err := leb128.DecodeUnsigned(insns[pos:])
		if err != nil {
			return pos, decodeErr(pos, "bad val_expression operand: %v", err)
		}
		expr, n2, err := ctx.blockOperand(insns[pos+n1:])
		if err != nil {
			return pos, decodeErr(pos, "bad val_expression operand: %v", err)
		}
		ctx.setRule(reg, DWRule{Rule: RuleValExpression, Expression: expr})
		return pos + n1 + n2, nil

	case dwCFAValOffset:
		reg, offset, n, err := ctx.regOffsetOperands(insns[pos:], false)
		if err != nil {
			return pos, decodeErr(pos, "bad val_offset operands: %v", err)
		}
		ctx.setRule(reg, DWRule{Rule: RuleValOffset, Offset: offset * ctx.dataAlignment})
		return pos + n, nil

	case dwCFAValOffsetSf:
		reg, offset, n, err := ctx.regOffsetOperands(insns[pos:], true)
		if err != nil {
			return pos, decodeErr(pos, "bad val_offset_sf operands: %v", err)
		}
		ctx.setRule(reg, DWRule{Rule: RuleValOffset, Offset: offset * ctx.dataAlignment})
		return pos + n, nil

	default:
		if op >= dwCFALoUser && op <= dwCFAHiUser {
			return pos, decodeErr(pos, "vendor call frame instruction %#x", op)
		}
		return pos, decodeErr(pos, "unknown call frame instruction %#x", op)
	}
}

// regOffsetOperands reads a ULEB128 register followed by a ULEB128 (or,
// when sf is set, SLEB128) offset.
func (ctx *Context) regOffsetOperands(buf []byte, sf bool) (reg uint64, offset int64, n int, err error) {
	reg, n1, err := leb128.DecodeUnsigned(buf)
	if err != nil {
		return 0, 0, 0, err
	}
	if sf {
		offset, n2, err := leb128.DecodeSigned(buf[n1:])
		return reg, offset, n1 + n2, err
	}
	uoffset, n2, err := leb128.DecodeUnsigned(buf[n1:])
	return reg, int64(uoffset), n1 + n2, err
}

func (ctx *Context) blockOperand(buf []byte) ([]byte, int, error) {
	length, n, err := leb128.DecodeUnsigned(buf)
	if err != nil {
		return nil, 0, err
	}
	if uint64(len(buf)-n) < length {
		return nil, 0, leb128.ErrTruncated
	}
	return buf[n : n+int(length)], n + int(length), nil
}

func (ctx *Context) restoreRule(reg uint64) {
	if reg >= RuleTableSize {
		return
	}
	ctx.regs[reg] = ctx.initialRegs[reg]
}

// orderOf returns the byte order multi-byte operands were encoded with.
// CIE initial instructions (nil fde) never carry multi-byte advances in
// practice; little endian is assumed there.
func orderOf(fde *FrameDescriptionEntry) binary.ByteOrder {
	if fde != nil {
		return fde.order
	}
	return binary.LittleEndian
}
