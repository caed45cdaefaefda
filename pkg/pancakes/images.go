package pancakes

import "github.com/go-pancakes/pancakes/pkg/shlib"

// AddEntriesFromLoadedImages enumerates the executable images mapped
// into the current process and ingests the unwind entries of each. A
// malformed section in any image aborts the ingestion.
func (o *Options) AddEntriesFromLoadedImages(enum *shlib.Enumerator) error {
	return enum.EachImage(func(img shlib.Image) error {
		return o.AddEntriesFromFrameSection(img.FrameSection, img.Order, img.SectionAddr, img.Bias, img.PtrSize)
	})
}
