//go:build !amd64

package regs

// Stub register binding. The package still compiles so that programs
// embedding the walker link on every architecture, but capture and row
// evaluation report ErrUnsupportedArch.
const (
	dwarfRegBP = ^uint64(0)
	dwarfRegSP = ^uint64(0) - 1
	dwarfRegIP = ^uint64(0) - 2

	archSupported = false
)

// WithCurrent fails with ErrUnsupportedArch on architectures without a
// register binding.
func WithCurrent(f func(FrameRegisters) error) error {
	return ErrUnsupportedArch
}
