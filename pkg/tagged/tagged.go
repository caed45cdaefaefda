// Package tagged provides machine words that are tagged valid or invalid.
//
// Call-frame recovery routinely works with values it cannot know: a saved
// register the unwind rules declare undefined, a stack slot that turned out
// to be unmapped. Word lets "value unknown" flow through address arithmetic
// without a nil check at every call site: any operation with an invalid
// operand produces an invalid result, and nothing in this package panics.
package tagged

import "errors"

// ErrInvalidWord is returned when a valid word was required but the word
// was invalid.
var ErrInvalidWord = errors.New("invalid tagged word")

// WordSize is the size in bytes of a machine word as handled by this
// package.
const WordSize = 8

// Word is a machine word tagged with whether it is valid. The zero value
// is invalid.
type Word struct {
	word  uint64
	valid bool
}

// Valid returns a valid Word holding w.
func Valid(w uint64) Word {
	return Word{word: w, valid: true}
}

// Invalid returns an invalid Word.
func Invalid() Word {
	return Word{}
}

// FromRead collapses the result of a fallible read into a Word: a read
// error yields an invalid word instead of propagating.
func FromRead(w uint64, err error) Word {
	if err != nil {
		return Invalid()
	}
	return Valid(w)
}

// IsValid reports whether the word is valid.
func (w Word) IsValid() bool { return w.valid }

// IsInvalid reports whether the word is invalid.
func (w Word) IsInvalid() bool { return !w.valid }

// Value returns the underlying word, or ErrInvalidWord if the word is
// invalid.
func (w Word) Value() (uint64, error) {
	if !w.valid {
		return 0, ErrInvalidWord
	}
	return w.word, nil
}

// WordAligned reports whether the word, treated as a pointer, is aligned
// on a word boundary. Invalid words are never considered aligned.
func (w Word) WordAligned() bool {
	return w.valid && w.word&(WordSize-1) == 0
}

// Map applies f to the underlying word if it is valid; an invalid word
// stays invalid.
func (w Word) Map(f func(uint64) uint64) Word {
	if !w.valid {
		return Invalid()
	}
	return Valid(f(w.word))
}

// MapOr applies f to the underlying word if it is valid, otherwise it
// returns def.
func (w Word) MapOr(def uint64, f func(uint64) uint64) uint64 {
	if !w.valid {
		return def
	}
	return f(w.word)
}

// AndThen applies f to the underlying word if it is valid and returns the
// result; an invalid word stays invalid.
func (w Word) AndThen(f func(uint64) Word) Word {
	if !w.valid {
		return Invalid()
	}
	return f(w.word)
}

// UnwrapOr returns the underlying word, or def if the word is invalid.
func (w Word) UnwrapOr(def uint64) uint64 {
	if !w.valid {
		return def
	}
	return w.word
}

// AddOffset adds a signed offset with two's-complement wraparound.
func (w Word) AddOffset(offset int64) Word {
	return w.Map(func(x uint64) uint64 { return x + uint64(offset) })
}

// Add returns w + rhs with wraparound.
func (w Word) Add(rhs Word) Word {
	return w.binop(rhs, func(x, y uint64) uint64 { return x + y })
}

// Sub returns w - rhs with wraparound.
func (w Word) Sub(rhs Word) Word {
	return w.binop(rhs, func(x, y uint64) uint64 { return x - y })
}

// Mul returns w * rhs with wraparound.
func (w Word) Mul(rhs Word) Word {
	return w.binop(rhs, func(x, y uint64) uint64 { return x * y })
}

// Div returns w / rhs. Division by zero yields an invalid word rather
// than a runtime panic.
func (w Word) Div(rhs Word) Word {
	if rhs.valid && rhs.word == 0 {
		return Invalid()
	}
	return w.binop(rhs, func(x, y uint64) uint64 { return x / y })
}

// Rem returns w % rhs. A zero divisor yields an invalid word rather than
// a runtime panic.
func (w Word) Rem(rhs Word) Word {
	if rhs.valid && rhs.word == 0 {
		return Invalid()
	}
	return w.binop(rhs, func(x, y uint64) uint64 { return x % y })
}

// And returns w & rhs.
func (w Word) And(rhs Word) Word {
	return w.binop(rhs, func(x, y uint64) uint64 { return x & y })
}

// Or returns w | rhs.
func (w Word) Or(rhs Word) Word {
	return w.binop(rhs, func(x, y uint64) uint64 { return x | y })
}

// Xor returns w ^ rhs.
func (w Word) Xor(rhs Word) Word {
	return w.binop(rhs, func(x, y uint64) uint64 { return x ^ y })
}

// Shl returns w << n. Shift counts of 64 or more produce zero, matching
// the machine behavior of a word-width shift.
func (w Word) Shl(n uint) Word {
	return w.Map(func(x uint64) uint64 {
		if n >= 64 {
			return 0
		}
		return x << n
	})
}

// Shr returns w >> n. Shift counts of 64 or more produce zero.
func (w Word) Shr(n uint) Word {
	return w.Map(func(x uint64) uint64 {
		if n >= 64 {
			return 0
		}
		return x >> n
	})
}

func (w Word) binop(rhs Word, f func(x, y uint64) uint64) Word {
	return w.AndThen(func(x uint64) Word {
		return rhs.Map(func(y uint64) uint64 { return f(x, y) })
	})
}

// String implements fmt.Stringer without forcing a format dependency on
// callers that never print words.
func (w Word) String() string {
	if !w.valid {
		return "invalid"
	}
	const hexdigits = "0123456789abcdef"
	var buf [18]byte
	buf[0] = '0'
	buf[1] = 'x'
	for i := 0; i < 16; i++ {
		buf[2+i] = hexdigits[(w.word>>(60-4*uint(i)))&0xf]
	}
	return string(buf[:])
}
