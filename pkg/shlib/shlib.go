// Package shlib enumerates the executable images mapped into the
// current process and extracts the call-frame-info section of each, so
// a walker configuration can ingest unwind entries for everything the
// process has loaded. All of this runs at configuration time; nothing
// here is signal safe.
package shlib

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"github.com/go-pancakes/pancakes/pkg/logflags"
)

// ErrUnsupportedPlatform is returned by EachImage on platforms without
// an image enumeration implementation.
var ErrUnsupportedPlatform = errors.New("shlib: image enumeration not supported on this platform")

// Image describes one loaded executable image and the unwind data
// needed to walk through its code.
type Image struct {
	Path string
	// Bias is the difference between where the image is mapped and
	// where it was linked to load.
	Bias uint64
	// FrameSection holds the raw bytes of .eh_frame or .debug_frame.
	FrameSection []byte
	// SectionAddr is the address the file states for the section when
	// it is .eh_frame, zero for .debug_frame. Unrelocated: descriptors
	// decoded against it stay in link time addresses, and Bias is
	// applied exactly once when the entries are built.
	SectionAddr uint64
	PtrSize     int
	Order       binary.ByteOrder
}

const defaultCacheSize = 16

// Enumerator lists loaded images. The parsed section of each image is
// cached by path, so enumerating again after a dlopen only pays for the
// new library.
type Enumerator struct {
	cache  *lru.Cache
	logger logflags.Logger
}

// NewEnumerator returns an Enumerator with an empty cache.
func NewEnumerator() (*Enumerator, error) {
	cache, err := lru.New(defaultCacheSize)
	if err != nil {
		return nil, err
	}
	return &Enumerator{cache: cache, logger: logflags.ShlibLogger()}, nil
}

// staticImage is the position independent part of an image, safe to
// cache across enumerations. The load bias depends on where the image
// landed this time and is recomputed per enumeration.
type staticImage struct {
	frameSection []byte
	sectionAddr  uint64
	ehFrame      bool
	etDyn        bool
	minVaddr     uint64
	ptrSize      int
	order        binary.ByteOrder
}

// moduleMapping is one file backed module from a maps listing: the
// lowest address the file is mapped at and whether any of its mappings
// is executable.
type moduleMapping struct {
	path string
	base uint64
	exec bool
}

// parseMaps reads a /proc/pid/maps style listing and groups it by
// backing file. Anonymous mappings and pseudo paths like [vdso] are
// skipped.
func parseMaps(r io.Reader) ([]moduleMapping, error) {
	var modules []moduleMapping
	index := map[string]int{}
	scan := bufio.NewScanner(r)
	for scan.Scan() {
		fields := strings.Fields(scan.Text())
		if len(fields) < 6 {
			continue
		}
		path := strings.Join(fields[5:], " ")
		if !strings.HasPrefix(path, "/") {
			continue
		}
		sep := strings.IndexByte(fields[0], '-')
		if sep < 0 {
			return nil, fmt.Errorf("shlib: malformed maps line %q", scan.Text())
		}
		start, err := strconv.ParseUint(fields[0][:sep], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("shlib: malformed maps line %q", scan.Text())
		}
		exec := strings.Contains(fields[1], "x")
		i, ok := index[path]
		if !ok {
			index[path] = len(modules)
			modules = append(modules, moduleMapping{path: path, base: start, exec: exec})
			continue
		}
		if start < modules[i].base {
			modules[i].base = start
		}
		modules[i].exec = modules[i].exec || exec
	}
	if err := scan.Err(); err != nil {
		return nil, err
	}
	return modules, nil
}

// computeBias returns the load bias given the lowest mapped address and
// the lowest PT_LOAD virtual address. Fixed position executables load
// where they were linked.
func computeBias(etDyn bool, base, minVaddr uint64) uint64 {
	if !etDyn {
		return 0
	}
	return base - (minVaddr &^ 0xfff)
}
