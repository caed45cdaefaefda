package pancakes

import "github.com/go-pancakes/pancakes/pkg/regs"

// Control tells Walk whether to keep stepping after a callback.
type Control int

const (
	// Continue requests the next frame.
	Continue Control = iota
	// Break ends the walk after the current frame.
	Break
)

func (c Control) String() string {
	switch c {
	case Continue:
		return "continue"
	case Break:
		return "break"
	}
	return "unknown"
}

// ControlFromError converts a success/failure shaped result: nil
// continues, any error breaks.
func ControlFromError(err error) Control {
	if err != nil {
		return Break
	}
	return Continue
}

// Each adapts a callback with no opinion on control; the walk continues
// until it runs out of frames.
func Each(f func(regs.FrameRegisters)) func(regs.FrameRegisters) Control {
	return func(r regs.FrameRegisters) Control {
		f(r)
		return Continue
	}
}

// StopOnError adapts an error returning callback; the first non-nil
// error breaks the walk.
func StopOnError(f func(regs.FrameRegisters) error) func(regs.FrameRegisters) Control {
	return func(r regs.FrameRegisters) Control {
		return ControlFromError(f(r))
	}
}
