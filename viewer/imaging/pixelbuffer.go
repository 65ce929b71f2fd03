package imaging

// Channels is the number of float32 values per pixel (R, G, B, A).
const Channels = 4

// PixelBuffer is a decoded image: RGBA, row-major from the top-left corner,
// every channel normalized to [0, 1]. It is never mutated after creation and
// may be shared freely between goroutines.
type PixelBuffer struct {
	Path   string
	Width  int
	Height int
	Pix    []float32
}

// Empty reports whether the buffer holds no pixels.
func (b *PixelBuffer) Empty() bool {
	return b == nil || len(b.Pix) == 0
}

// At returns the RGBA values of pixel (x, y).
func (b *PixelBuffer) At(x, y int) (r, g, bl, a float32) {
	i := (y*b.Width + x) * Channels
	return b.Pix[i], b.Pix[i+1], b.Pix[i+2], b.Pix[i+3]
}

// Bytes is the approximate memory held by the pixel data.
func (b *PixelBuffer) Bytes() int {
	if b == nil {
		return 0
	}
	return len(b.Pix) * 4
}
