package frame

import (
	"encoding/binary"
	"reflect"
	"testing"
)

func testCIE() *CommonInformationEntry {
	return &CommonInformationEntry{
		Version:               3,
		CodeAlignmentFactor:   1,
		DataAlignmentFactor:   -8,
		ReturnAddressRegister: 16,
		// def_cfa r7, 8; offset r16, cfa-8
		InitialInstructions: []byte{0x0c, 0x07, 0x08, 0x90, 0x01},
	}
}

func TestUnwindTableRows(t *testing.T) {
	insns := []byte{
		0x44,       // advance_loc 4
		0x0e, 0x10, // def_cfa_offset 16
		0x86, 0x02, // offset r6, cfa-16
		0x48,       // advance_loc 8
		0x0a,       // remember_state
		0x0d, 0x06, // def_cfa_register r6
		0x48, // advance_loc 8
		0x0b, // restore_state
	}
	fde := NewFrameDescriptionEntry(0x1000, 0x30, testCIE(), insns, binary.LittleEndian)

	ctx := NewContext()
	table, err := fde.UnwindTable(ctx)
	if err != nil {
		t.Fatal(err)
	}

	type expectedRow struct {
		begin, end uint64
		cfa        DWRule
		r6, r16    DWRule
	}
	expected := []expectedRow{
		{0x1000, 0x1004,
			DWRule{Rule: RuleCFA, Reg: 7, Offset: 8},
			DWRule{Rule: RuleUndefined},
			DWRule{Rule: RuleOffset, Offset: -8}},
		{0x1004, 0x100c,
			DWRule{Rule: RuleCFA, Reg: 7, Offset: 16},
			DWRule{Rule: RuleOffset, Offset: -16},
			DWRule{Rule: RuleOffset, Offset: -8}},
		{0x100c, 0x1014,
			DWRule{Rule: RuleCFA, Reg: 6, Offset: 16},
			DWRule{Rule: RuleOffset, Offset: -16},
			DWRule{Rule: RuleOffset, Offset: -8}},
		{0x1014, 0x1030,
			DWRule{Rule: RuleCFA, Reg: 7, Offset: 16},
			DWRule{Rule: RuleOffset, Offset: -16},
			DWRule{Rule: RuleOffset, Offset: -8}},
	}

	for i, want := range expected {
		row, err := table.NextRow()
		if err != nil {
			t.Fatal(err)
		}
		if row == nil {
			t.Fatalf("row %d: expected a row, table exhausted", i)
		}
		if row.Begin() != want.begin || row.End() != want.end {
			t.Errorf("row %d: expected range [%#x, %#x), got [%#x, %#x)", i, want.begin, want.end, row.Begin(), row.End())
		}
		if got := row.CFARule(); !reflect.DeepEqual(got, want.cfa) {
			t.Errorf("row %d: expected CFA rule %+v, got %+v", i, want.cfa, got)
		}
		if got := row.Register(6); !reflect.DeepEqual(got, want.r6) {
			t.Errorf("row %d: expected r6 rule %+v, got %+v", i, want.r6, got)
		}
		if got := row.Register(16); !reflect.DeepEqual(got, want.r16) {
			t.Errorf("row %d: expected r16 rule %+v, got %+v", i, want.r16, got)
		}
		if row.ReturnAddressRegister() != 16 {
			t.Errorf("row %d: expected return address register 16, got %d", i, row.ReturnAddressRegister())
		}
	}

	row, err := table.NextRow()
	if err != nil {
		t.Fatal(err)
	}
	if row != nil {
		t.Fatalf("expected exhausted table, got row [%#x, %#x)", row.Begin(), row.End())
	}
}

func TestRowCoverBoundaries(t *testing.T) {
	fde := NewFrameDescriptionEntry(0x1000, 0x10, testCIE(), nil, binary.LittleEndian)
	ctx := NewContext()
	table, err := fde.UnwindTable(ctx)
	if err != nil {
		t.Fatal(err)
	}
	row, err := table.NextRow()
	if err != nil {
		t.Fatal(err)
	}
	if row == nil {
		t.Fatal("expected one row")
	}
	if !row.Cover(0x1000) {
		t.Error("row should cover its begin address")
	}
	if !row.Cover(0x100f) {
		t.Error("row should cover its last address")
	}
	if row.Cover(0x1010) {
		t.Error("row should not cover its end address")
	}
}

func TestContextReuse(t *testing.T) {
	fde := NewFrameDescriptionEntry(0x1000, 0x10, testCIE(), []byte{0x0e, 0x20}, binary.LittleEndian)
	ctx := NewContext()
	for i := 0; i < 3; i++ {
		table, err := fde.UnwindTable(ctx)
		if err != nil {
			t.Fatal(err)
		}
		row, err := table.NextRow()
		if err != nil {
			t.Fatal(err)
		}
		if row == nil {
			t.Fatal("expected one row")
		}
		want := DWRule{Rule: RuleCFA, Reg: 7, Offset: 32}
		if got := row.CFARule(); !reflect.DeepEqual(got, want) {
			t.Errorf("iteration %d: expected CFA rule %+v, got %+v", i, want, got)
		}
		ctx.Reset()
	}
}

func TestUninitializedContext(t *testing.T) {
	fde := NewFrameDescriptionEntry(0x1000, 0x10, testCIE(), nil, binary.LittleEndian)
	ctx := NewContext()
	table, err := fde.UnwindTable(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ctx.Reset()
	if _, err := table.NextRow(); err == nil {
		t.Error("expected an error from a table whose context was reset")
	}
}

func TestMalformedInstructions(t *testing.T) {
	for _, test := range []struct {
		name  string
		insns []byte
	}{
		{"restore_state without remember_state", []byte{0x0b}},
		{"truncated def_cfa", []byte{0x0c, 0x07}},
		{"truncated advance_loc2", []byte{0x03, 0x01}},
		{"vendor instruction", []byte{0x1d}},
		{"def_cfa_register without register cfa", []byte{0x0f, 0x01, 0x50, 0x0d, 0x06}},
	} {
		fde := NewFrameDescriptionEntry(0x1000, 0x10, testCIE(), test.insns, binary.LittleEndian)
		ctx := NewContext()
		table, err := fde.UnwindTable(ctx)
		if err != nil {
			t.Fatal(err)
		}
		for {
			row, err := table.NextRow()
			if err != nil {
				break
			}
			if row == nil {
				t.Errorf("%s: expected a decode error", test.name)
				break
			}
		}
		ctx.Reset()
	}
}

func TestExpressionRulesCaptured(t *testing.T) {
	// def_cfa_expression [0x50]; expression r16 [0x50 0x50]
	insns := []byte{0x0f, 0x01, 0x50, 0x10, 0x10, 0x02, 0x50, 0x50}
	fde := NewFrameDescriptionEntry(0x1000, 0x10, testCIE(), insns, binary.LittleEndian)
	ctx := NewContext()
	table, err := fde.UnwindTable(ctx)
	if err != nil {
		t.Fatal(err)
	}
	row, err := table.NextRow()
	if err != nil {
		t.Fatal(err)
	}
	if row == nil {
		t.Fatal("expected one row")
	}
	if row.CFARule().Rule != RuleExpression || len(row.CFARule().Expression) != 1 {
		t.Errorf("expected CFA expression rule, got %+v", row.CFARule())
	}
	r16 := row.Register(16)
	if r16.Rule != RuleExpression || len(r16.Expression) != 2 {
		t.Errorf("expected r16 expression rule, got %+v", r16)
	}
}
