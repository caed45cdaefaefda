// Package pancakes walks the call stack of a running thread by
// interpreting the call-frame information embedded in its executable
// images. It is built for the worst possible caller: a signal handler
// that interrupted arbitrary code, possibly while the allocator's
// internal lock was held. Once a Walker is built, stepping performs no
// heap allocation and takes no locks.
//
// Configuration happens up front, outside the hot path:
//
//	opts := pancakes.NewOptions()
//	if err := opts.AddEntriesFromFrameSection(section, binary.LittleEndian, sectionAddr, bias, 8); err != nil {
//		return err
//	}
//	walker := opts.Build()
//
//	err := regs.WithCurrent(func(current regs.FrameRegisters) error {
//		return walker.Walk(current, pancakes.Each(func(frame regs.FrameRegisters) {
//			collect(frame.IP())
//		}))
//	})
//
// A walk ends in one of three ways: the callback returns Break, a step
// fails, or no unwind information covers the next instruction pointer.
// The last is reported as NoUnwindInfoError and is the routine way a
// walk reaches the oldest frame, not necessarily a defect.
package pancakes
