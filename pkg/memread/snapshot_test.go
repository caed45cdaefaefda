package memread

import (
	"errors"
	"testing"
)

func TestSnapshotReader(t *testing.T) {
	s := SnapshotReader{0x1000: 0xcafe}
	word, err := s.ReadWord(0x1000)
	if err != nil {
		t.Fatal(err)
	}
	if word != 0xcafe {
		t.Errorf("expected 0xcafe, got %#x", word)
	}
	if _, err := s.ReadWord(0x1008); !errors.Is(err, ErrFault) {
		t.Errorf("expected ErrFault, got %v", err)
	}
}
