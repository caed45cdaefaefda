package pancakes

import (
	"errors"
	"testing"

	"github.com/go-pancakes/pancakes/pkg/regs"
)

func TestControlFromError(t *testing.T) {
	if ControlFromError(nil) != Continue {
		t.Error("expected nil to convert to Continue")
	}
	if ControlFromError(errors.New("x")) != Break {
		t.Error("expected an error to convert to Break")
	}
}

func TestEach(t *testing.T) {
	calls := 0
	cb := Each(func(regs.FrameRegisters) { calls++ })
	if cb(regs.FrameRegisters{}) != Continue {
		t.Error("expected Each to always continue")
	}
	if calls != 1 {
		t.Errorf("expected one call, got %d", calls)
	}
}

func TestStopOnError(t *testing.T) {
	fail := errors.New("fail")
	cb := StopOnError(func(regs.FrameRegisters) error { return fail })
	if cb(regs.FrameRegisters{}) != Break {
		t.Error("expected an error to break")
	}
	cb = StopOnError(func(regs.FrameRegisters) error { return nil })
	if cb(regs.FrameRegisters{}) != Continue {
		t.Error("expected nil to continue")
	}
}
