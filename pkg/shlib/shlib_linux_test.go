package shlib

import (
	"debug/elf"
	"errors"
	"testing"
)

func TestEachImage(t *testing.T) {
	e, err := NewEnumerator()
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	err = e.EachImage(func(img Image) error {
		count++
		if img.Path == "" {
			t.Error("image with empty path")
		}
		if len(img.FrameSection) == 0 {
			t.Errorf("image %s with empty unwind section", img.Path)
		}
		if img.PtrSize != 4 && img.PtrSize != 8 {
			t.Errorf("image %s with bad pointer size %d", img.Path, img.PtrSize)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("enumerated %d images with unwind data", count)
}

// SectionAddr must be the address the file states, not the relocated
// runtime address: the bias is applied once, when entries are built.
func TestEachImageSectionAddrIsUnrelocated(t *testing.T) {
	e, err := NewEnumerator()
	if err != nil {
		t.Fatal(err)
	}
	err = e.EachImage(func(img Image) error {
		ef, err := elf.Open(img.Path)
		if err != nil {
			return err
		}
		defer ef.Close()
		sec := ef.Section(".eh_frame")
		if sec == nil {
			if img.SectionAddr != 0 {
				t.Errorf("image %s: nonzero section address %#x without .eh_frame", img.Path, img.SectionAddr)
			}
			return nil
		}
		if img.SectionAddr != sec.Addr {
			t.Errorf("image %s: section address %#x, want the file's stated %#x", img.Path, img.SectionAddr, sec.Addr)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestEachImageStopsOnError(t *testing.T) {
	e, err := NewEnumerator()
	if err != nil {
		t.Fatal(err)
	}
	stop := errors.New("stop")
	count := 0
	err = e.EachImage(func(img Image) error {
		count++
		return stop
	})
	if count == 0 {
		t.Skip("no images with unwind data")
	}
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error to propagate, got %v", err)
	}
	if count != 1 {
		t.Errorf("expected enumeration to stop after the first image, saw %d", count)
	}
}
