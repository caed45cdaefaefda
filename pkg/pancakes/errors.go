package pancakes

import (
	"errors"
	"fmt"
)

// NoUnwindInfoError reports that no entry or row covers the given
// instruction address. Every complete walk ends with one when it steps
// past the oldest frame.
type NoUnwindInfoError struct {
	Addr uint64
}

func (e *NoUnwindInfoError) Error() string {
	return fmt.Sprintf("no unwind info for address %#x", e.Addr)
}

// errMissingContext indicates the walker's decode context was absent at
// the start of a step. The context is exclusively owned and restored on
// every exit, so this only happens when a Walker is shared between
// goroutines.
var errMissingContext = errors.New("pancakes: decode context missing, walker is not re-entrant")
