// Package memread reads machine words from the address space of the
// process whose stack is being walked.
//
// When walking our own stack, perhaps to report a crash, we are in the
// same address space and can read directly; ThisProcessMemory does that.
// Walking another process's stack, the way an out-of-process profiler
// would, needs ptrace or similar; the Reader interface leaves room for
// such an implementation without requiring one. SnapshotReader serves
// tests and pre-captured memory images.
//
// Readers must not allocate and must not block: reads happen on the walk
// path, which may be running inside a signal handler. A read of an
// unmapped address must return an error, never fault the process.
package memread

import "errors"

// ErrFault is returned when the requested address cannot be read.
var ErrFault = errors.New("memread: address not mapped")

// Reader reads one machine word from an address.
type Reader interface {
	ReadWord(addr uint64) (uint64, error)
}

// ReadWordOffset reads the word at addr+offset. The offset is applied
// with wraparound pointer arithmetic before the read.
func ReadWordOffset(r Reader, addr uint64, offset int64) (uint64, error) {
	return r.ReadWord(addr + uint64(offset))
}

// SnapshotReader reads from a captured image of memory: a map from word
// aligned addresses to their contents. Addresses absent from the
// snapshot fail with ErrFault.
type SnapshotReader map[uint64]uint64

// ReadWord implements Reader.
func (s SnapshotReader) ReadWord(addr uint64) (uint64, error) {
	word, ok := s[addr]
	if !ok {
		return 0, ErrFault
	}
	return word, nil
}
