//go:build !linux

package shlib

// EachImage is unimplemented on this platform.
func (e *Enumerator) EachImage(f func(Image) error) error {
	return ErrUnsupportedPlatform
}
