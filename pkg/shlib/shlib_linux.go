package shlib

import (
	"debug/elf"
	"fmt"
	"os"

	"github.com/go-pancakes/pancakes/pkg/logflags"
)

// EachImage calls f once per executable file backed image currently
// mapped into the process, with its unwind section and load bias.
// Images without an unwind section are logged and skipped, not treated
// as errors. An error from f stops the enumeration and is returned.
func (e *Enumerator) EachImage(f func(Image) error) error {
	mf, err := os.Open("/proc/self/maps")
	if err != nil {
		return err
	}
	defer mf.Close()
	modules, err := parseMaps(mf)
	if err != nil {
		return err
	}
	for _, m := range modules {
		if !m.exec {
			continue
		}
		st, err := e.static(m.path)
		if err != nil {
			e.logger.WithError(err).Warnf("skipping image %s", m.path)
			continue
		}
		img := Image{
			Path:         m.path,
			Bias:         computeBias(st.etDyn, m.base, st.minVaddr),
			FrameSection: st.frameSection,
			SectionAddr:  st.sectionAddr,
			PtrSize:      st.ptrSize,
			Order:        st.order,
		}
		if err := f(img); err != nil {
			return err
		}
	}
	return nil
}

// static loads the position independent part of an image through the
// cache.
func (e *Enumerator) static(path string) (*staticImage, error) {
	if cached, ok := e.cache.Get(path); ok {
		return cached.(*staticImage), nil
	}
	ef, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer ef.Close()

	st := &staticImage{
		etDyn:   ef.Type == elf.ET_DYN,
		order:   ef.ByteOrder,
		ptrSize: 8,
	}
	if ef.Class == elf.ELFCLASS32 {
		st.ptrSize = 4
	}
	st.minVaddr = ^uint64(0)
	for _, prog := range ef.Progs {
		if prog.Type == elf.PT_LOAD && prog.Vaddr < st.minVaddr {
			st.minVaddr = prog.Vaddr
		}
	}
	if st.minVaddr == ^uint64(0) {
		st.minVaddr = 0
	}

	if sec := ef.Section(".eh_frame"); sec != nil {
		st.ehFrame = true
		st.sectionAddr = sec.Addr
		st.frameSection, err = sec.Data()
	} else if sec := ef.Section(".debug_frame"); sec != nil {
		st.frameSection, err = sec.Data()
	} else {
		return nil, fmt.Errorf("shlib: %s has no unwind section", path)
	}
	if err != nil {
		return nil, err
	}
	if logflags.Shlib() {
		e.logger.Debugf("loaded %s: %d bytes of unwind data", path, len(st.frameSection))
	}
	e.cache.Add(path, st)
	return st, nil
}
