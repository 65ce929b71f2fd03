package prefetch

import (
	roaring "github.com/RoaringBitmap/roaring"
)

// window is a half-open range [Start, End) of working-set positions kept
// warm, mirrored as a bitmap for membership checks during eviction.
type window struct {
	Start int
	End   int
	bits  *roaring.Bitmap
}

func newWindow(start, end int) window {
	bm := roaring.New()
	if end > start {
		bm.AddRange(uint64(start), uint64(end))
	}
	return window{Start: start, End: end, bits: bm}
}

// Contains reports whether position i is inside the window.
func (w window) Contains(i int) bool {
	if w.bits == nil || i < 0 {
		return false
	}
	return w.bits.Contains(uint32(i))
}

// Len returns the number of positions in the window.
func (w window) Len() int {
	return w.End - w.Start
}

// leadingWindow is the window seeded by SetWorkingSet: the first
// min(size, total) positions.
func leadingWindow(total, size int) window {
	return newWindow(0, min(size, total))
}

// focusWindow places focus at offset max(size/2-1, 0) inside a window of
// min(size, total) positions, so more of the window lies ahead of the focus
// than behind it. Near either end the window is shifted, not shrunk.
func focusWindow(focus, total, size int) window {
	n := min(size, total)
	if n <= 0 {
		return newWindow(0, 0)
	}

	lead := max(size/2-1, 0)
	start := focus - lead
	start = max(0, min(start, total-n))
	return newWindow(start, start+n)
}
