//go:build !linux

package memread

import "unsafe"

// ThisProcessMemory reads words from the current process by dereferencing
// the address directly. Unlike the linux implementation there is no
// fallible read primitive here: the caller is responsible for only
// passing addresses that are mapped.
type ThisProcessMemory struct{}

// NewThisProcessMemory returns a reader over the current process's
// address space.
func NewThisProcessMemory() *ThisProcessMemory {
	return &ThisProcessMemory{}
}

// ReadWord implements Reader.
func (m *ThisProcessMemory) ReadWord(addr uint64) (uint64, error) {
	if addr == 0 {
		return 0, ErrFault
	}
	return *(*uint64)(unsafe.Pointer(uintptr(addr))), nil
}
