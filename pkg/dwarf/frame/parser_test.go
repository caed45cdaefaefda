package frame

import (
	"encoding/binary"
	"testing"
)

// debugFrameSection is a minimal .debug_frame with one CIE and one FDE
// covering [0x1000, 0x1100).
var debugFrameSection = []byte{
	// CIE at offset 0, length 12
	0x0c, 0x00, 0x00, 0x00,
	0xff, 0xff, 0xff, 0xff, // CIE id
	0x03,       // version
	0x00,       // augmentation ""
	0x01,       // code alignment factor 1
	0x7c,       // data alignment factor -4
	0x10,       // return address register 16
	0x0c, 0x07, 0x08, // DW_CFA_def_cfa r7, 8
	// FDE at offset 16, length 24
	0x18, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, // CIE pointer: offset 0
	0x00, 0x10, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // initial location 0x1000
	0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // address range 0x100
	0x41,             // DW_CFA_advance_loc 1
	0x0e, 0x10, 0x00, // DW_CFA_def_cfa_offset 16, nop
}

func TestParseDebugFrame(t *testing.T) {
	fdes, err := Parse(debugFrameSection, binary.LittleEndian, 0, 8, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(fdes) != 1 {
		t.Fatalf("expected 1 FDE, got %d", len(fdes))
	}
	fde := fdes[0]
	if fde.Begin() != 0x1000 || fde.End() != 0x1100 {
		t.Errorf("expected range [0x1000, 0x1100), got [%#x, %#x)", fde.Begin(), fde.End())
	}
	if !fde.Cover(0x1000) || !fde.Cover(0x10ff) || fde.Cover(0x1100) || fde.Cover(0xfff) {
		t.Error("Cover does not respect the half-open range")
	}

	cie := fde.CIE
	if cie.Version != 3 {
		t.Errorf("expected version 3, got %d", cie.Version)
	}
	if cie.Augmentation != "" {
		t.Errorf("expected empty augmentation, got %q", cie.Augmentation)
	}
	if cie.CodeAlignmentFactor != 1 {
		t.Errorf("expected code alignment factor 1, got %d", cie.CodeAlignmentFactor)
	}
	if cie.DataAlignmentFactor != -4 {
		t.Errorf("expected data alignment factor -4, got %d", cie.DataAlignmentFactor)
	}
	if cie.ReturnAddressRegister != 16 {
		t.Errorf("expected return address register 16, got %d", cie.ReturnAddressRegister)
	}
	wantInit := []byte{0x0c, 0x07, 0x08}
	if len(cie.InitialInstructions) != len(wantInit) {
		t.Fatalf("expected initial instructions %v, got %v", wantInit, cie.InitialInstructions)
	}
	for i := range wantInit {
		if cie.InitialInstructions[i] != wantInit[i] {
			t.Fatalf("expected initial instructions %v, got %v", wantInit, cie.InitialInstructions)
		}
	}
}

func TestParseStaticBase(t *testing.T) {
	fdes, err := Parse(debugFrameSection, binary.LittleEndian, 0x400000, 8, 0)
	if err != nil {
		t.Fatal(err)
	}
	if fdes[0].Begin() != 0x401000 {
		t.Errorf("expected static base applied, got begin %#x", fdes[0].Begin())
	}
}

func TestParseEhFrame(t *testing.T) {
	const sectionAddr = 0x2000
	section := []byte{
		// CIE at offset 0, length 16
		0x10, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, // CIE id (eh_frame)
		0x01,             // version
		'z', 'R', 0x00, // augmentation "zR"
		0x01,             // code alignment factor 1
		0x78,             // data alignment factor -8
		0x10,             // return address register 16 (ubyte in version 1)
		0x01,             // augmentation data length
		0x1b,             // FDE pointers: pcrel sdata4
		0x0c, 0x07, 0x08, // DW_CFA_def_cfa r7, 8
		// FDE at offset 20, length 16
		0x10, 0x00, 0x00, 0x00,
		0x18, 0x00, 0x00, 0x00, // CIE pointer: 0x18 bytes back
		0xe4, 0x0f, 0x00, 0x00, // initial location: 0x201c + 0xfe4 = 0x3000
		0x40, 0x00, 0x00, 0x00, // address range 0x40
		0x00,             // augmentation data length 0
		0x41, 0x0e, 0x10, // advance_loc 1, def_cfa_offset 16
		// zero terminator
		0x00, 0x00, 0x00, 0x00,
	}

	fdes, err := Parse(section, binary.LittleEndian, 0, 8, sectionAddr)
	if err != nil {
		t.Fatal(err)
	}
	if len(fdes) != 1 {
		t.Fatalf("expected 1 FDE, got %d", len(fdes))
	}
	fde := fdes[0]
	if fde.Begin() != 0x3000 || fde.End() != 0x3040 {
		t.Errorf("expected range [0x3000, 0x3040), got [%#x, %#x)", fde.Begin(), fde.End())
	}
	if fde.CIE.ReturnAddressRegister != 16 {
		t.Errorf("expected return address register 16, got %d", fde.CIE.ReturnAddressRegister)
	}
	if fde.CIE.Augmentation != "zR" {
		t.Errorf("expected augmentation zR, got %q", fde.CIE.Augmentation)
	}
}

func TestParseMalformedNoPanic(t *testing.T) {
	sections := [][]byte{
		{0x04},                               // truncated length
		{0x40, 0x00, 0x00, 0x00, 0xff},       // length exceeds section
		{0x04, 0x00, 0x00, 0x00, 0xff, 0xff}, // entry too short for id
		{0xff, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x00}, // 64-bit length marker
		// FDE referencing a CIE that does not exist
		{0x14, 0x00, 0x00, 0x00,
			0x80, 0x00, 0x00, 0x00,
			0x00, 0x10, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	}
	for i, section := range sections {
		if _, err := Parse(section, binary.LittleEndian, 0, 8, 0); err == nil {
			t.Errorf("section %d: expected a decode error", i)
		}
	}
}

func TestParseBadPointerSize(t *testing.T) {
	if _, err := Parse(debugFrameSection, binary.LittleEndian, 0, 3, 0); err == nil {
		t.Error("expected a decode error for pointer size 3")
	}
}
