package memread

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// ThisProcessMemory reads words from the current process through
// process_vm_readv, so a read of an unmapped address reports EFAULT
// instead of delivering a segmentation fault. The syscall moves the word
// straight into a stack variable; nothing here allocates.
type ThisProcessMemory struct {
	pid int
}

// NewThisProcessMemory returns a reader over the current process's
// address space.
func NewThisProcessMemory() *ThisProcessMemory {
	return &ThisProcessMemory{pid: unix.Getpid()}
}

// ReadWord implements Reader.
func (m *ThisProcessMemory) ReadWord(addr uint64) (uint64, error) {
	var word uint64
	local := [1]unix.Iovec{{Base: (*byte)(unsafe.Pointer(&word)), Len: 8}}
	remote := [1]unix.RemoteIovec{{Base: uintptr(addr), Len: 8}}
	n, err := unix.ProcessVMReadv(m.pid, local[:], remote[:], 0)
	if err != nil {
		return 0, err
	}
	if n != 8 {
		return 0, ErrFault
	}
	return word, nil
}
