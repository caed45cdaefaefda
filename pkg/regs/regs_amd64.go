package regs

import (
	"github.com/go-pancakes/pancakes/pkg/dwarf/regnum"
	"github.com/go-pancakes/pancakes/pkg/tagged"
)

const (
	dwarfRegBP = regnum.AMD64_Rbp
	dwarfRegSP = regnum.AMD64_Rsp
	dwarfRegIP = regnum.AMD64_Rip

	archSupported = true
)

// getRegisters captures the caller's frame: its BP, its SP just after
// the call instruction, and the return address as IP. Implemented in
// assembly, see regs_amd64.s.
func getRegisters() (bp, sp, ip uintptr)

// WithCurrent captures the live registers of the calling context and
// passes them to f. The snapshot describes f's caller, so walking from
// it yields the caller's frame first. The capture itself does not
// allocate.
func WithCurrent(f func(FrameRegisters) error) error {
	bp, sp, ip := getRegisters()
	return f(NewFrameRegisters(
		tagged.Valid(uint64(bp)),
		tagged.Valid(uint64(sp)),
		tagged.Valid(uint64(ip)),
	))
}
