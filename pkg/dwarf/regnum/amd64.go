// Package regnum holds the DWARF register numbering for the supported
// architectures, as defined by their System V ABI supplements.
package regnum

// The DWARF register numbers for amd64, as defined in the System V ABI
// AMD64 Architecture Processor Supplement, figure 3.36. Only the
// registers the stack walker tracks are listed; 16, nominally the
// "Return Address", doubles as the instruction pointer.
const (
	AMD64_Rbp uint64 = 6
	AMD64_Rsp uint64 = 7
	AMD64_Rip uint64 = 16
)
