package regs

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/go-pancakes/pancakes/pkg/dwarf/frame"
	"github.com/go-pancakes/pancakes/pkg/memread"
	"github.com/go-pancakes/pancakes/pkg/tagged"
)

// testRow runs the given instructions against a CIE whose initial CFA
// rule is "r7 + 16" (data alignment factor 8) and returns the single
// resulting row.
func testRow(t *testing.T, insns []byte) *frame.UnwindTableRow {
	t.Helper()
	cie := &frame.CommonInformationEntry{
		Version:               3,
		CodeAlignmentFactor:   1,
		DataAlignmentFactor:   8,
		ReturnAddressRegister: 16,
		InitialInstructions:   []byte{0x0c, 0x07, 0x10},
	}
	fde := frame.NewFrameDescriptionEntry(0x1000, 0x10, cie, insns, binary.LittleEndian)
	tbl, err := fde.UnwindTable(frame.NewContext())
	if err != nil {
		t.Fatal(err)
	}
	row, err := tbl.NextRow()
	if err != nil {
		t.Fatal(err)
	}
	if row == nil {
		t.Fatal("unwind table produced no rows")
	}
	return row
}

func expectValid(t *testing.T, name string, w tagged.Word, expected uint64) {
	t.Helper()
	v, err := w.Value()
	if err != nil {
		t.Fatalf("%s: expected valid(%#x), got invalid", name, expected)
	}
	if v != expected {
		t.Errorf("%s: expected %#x, got %#x", name, expected, v)
	}
}

func TestFromUnwindTableRow(t *testing.T) {
	// bp: same_value, sp: val_offset +16, ip: offset -8.
	row := testRow(t, []byte{
		0x08, 0x06,
		0x14, 0x07, 0x02,
		0x11, 0x10, 0x7f,
	})
	old := NewFrameRegisters(tagged.Valid(0x9), tagged.Valid(0x1000), tagged.Invalid())
	mem := memread.SnapshotReader{
		0x1010: 0x2000, // CFA = *(sp+16)
		0x1ff8: 0x4242, // saved return address at CFA-8
	}
	next, err := FromUnwindTableRow(row, &old, mem)
	if err != nil {
		t.Fatal(err)
	}
	expectValid(t, "bp", next.BP(), 0x9)
	expectValid(t, "sp", next.SP(), 0x2010)
	expectValid(t, "ip", next.IP(), 0x4242)
}

func TestCFAUntrackedRegister(t *testing.T) {
	row := testRow(t, []byte{0x0c, 0x03, 0x10}) // def_cfa r3, 16
	old := NewFrameRegisters(tagged.Valid(1), tagged.Valid(2), tagged.Valid(3))
	_, err := FromUnwindTableRow(row, &old, memread.SnapshotReader{})
	var unknown *UnknownRegisterError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownRegisterError, got %v", err)
	}
	if unknown.Reg != 3 {
		t.Errorf("expected register 3, got %d", unknown.Reg)
	}
}

func TestCFAInvalidRegister(t *testing.T) {
	row := testRow(t, nil)
	old := NewFrameRegisters(tagged.Valid(1), tagged.Invalid(), tagged.Valid(3))
	_, err := FromUnwindTableRow(row, &old, memread.SnapshotReader{})
	if !errors.Is(err, tagged.ErrInvalidWord) {
		t.Fatalf("expected ErrInvalidWord, got %v", err)
	}
}

func TestCFAReadFaultPropagates(t *testing.T) {
	row := testRow(t, nil)
	old := NewFrameRegisters(tagged.Valid(1), tagged.Valid(0x1000), tagged.Valid(3))
	_, err := FromUnwindTableRow(row, &old, memread.SnapshotReader{})
	if !errors.Is(err, memread.ErrFault) {
		t.Fatalf("expected ErrFault, got %v", err)
	}
}

func TestRegisterAlias(t *testing.T) {
	old := NewFrameRegisters(tagged.Valid(0x9), tagged.Valid(0x1000), tagged.Invalid())
	mem := memread.SnapshotReader{0x1010: 0x2000}

	// bp aliased to a tracked register copies its old value.
	row := testRow(t, []byte{0x09, 0x06, 0x07})
	next, err := FromUnwindTableRow(row, &old, mem)
	if err != nil {
		t.Fatal(err)
	}
	expectValid(t, "bp", next.BP(), 0x1000)

	// An alias to an untracked register degrades to invalid.
	row = testRow(t, []byte{0x09, 0x06, 0x03})
	next, err = FromUnwindTableRow(row, &old, mem)
	if err != nil {
		t.Fatal(err)
	}
	if next.BP().IsValid() {
		t.Error("expected bp to degrade to invalid")
	}
}

func TestExpressionRulesFailLoudly(t *testing.T) {
	old := NewFrameRegisters(tagged.Valid(0x9), tagged.Valid(0x1000), tagged.Invalid())
	mem := memread.SnapshotReader{0x1010: 0x2000}

	// expression rule on a tracked register
	row := testRow(t, []byte{0x10, 0x10, 0x01, 0x50})
	if _, err := FromUnwindTableRow(row, &old, mem); !errors.Is(err, ErrExpressionUnsupported) {
		t.Fatalf("expected ErrExpressionUnsupported, got %v", err)
	}

	// def_cfa_expression
	row = testRow(t, []byte{0x0f, 0x01, 0x50})
	if _, err := FromUnwindTableRow(row, &old, mem); !errors.Is(err, ErrExpressionUnsupported) {
		t.Fatalf("expected ErrExpressionUnsupported, got %v", err)
	}
}

func TestDefaultRulesAreInvalid(t *testing.T) {
	row := testRow(t, nil)
	old := NewFrameRegisters(tagged.Valid(0x9), tagged.Valid(0x1000), tagged.Valid(0x1234))
	next, err := FromUnwindTableRow(row, &old, memread.SnapshotReader{0x1010: 0x2000})
	if err != nil {
		t.Fatal(err)
	}
	for name, w := range map[string]tagged.Word{"bp": next.BP(), "sp": next.SP(), "ip": next.IP()} {
		if w.IsValid() {
			t.Errorf("%s: expected invalid for a register with no rule", name)
		}
	}
}

func TestOffsetReadFailureDegrades(t *testing.T) {
	// ip: offset -8, but the slot at CFA-8 is not readable.
	row := testRow(t, []byte{0x11, 0x10, 0x7f})
	old := NewFrameRegisters(tagged.Valid(0x9), tagged.Valid(0x1000), tagged.Valid(0x1234))
	next, err := FromUnwindTableRow(row, &old, memread.SnapshotReader{0x1010: 0x2000})
	if err != nil {
		t.Fatal(err)
	}
	if next.IP().IsValid() {
		t.Error("expected ip to degrade to invalid on a failed read")
	}
}

func TestWithCurrent(t *testing.T) {
	called := false
	err := WithCurrent(func(r FrameRegisters) error {
		called = true
		if r.IP().IsInvalid() || r.SP().IsInvalid() || r.BP().IsInvalid() {
			t.Error("expected all captured registers to be valid")
		}
		if !r.SP().WordAligned() {
			t.Errorf("captured sp %s is not word aligned", r.SP())
		}
		if v, _ := r.IP().Value(); v == 0 {
			t.Error("captured ip is zero")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Fatal("callback not invoked")
	}
}
