package imaging

import (
	"io"

	exiflib "github.com/rwcarlsen/goexif/exif"
)

// EXIF orientation values handled by Orient. Mirrored variants are left as is.
const (
	OrientationNormal    = 1
	OrientationRotate180 = 3
	OrientationRotate90  = 6 // rotate 90 degrees clockwise to display
	OrientationRotate270 = 8 // rotate 90 degrees counter-clockwise to display
)

// ReadOrientation returns the EXIF orientation tag of r, or
// OrientationNormal when there is no readable tag.
func ReadOrientation(r io.Reader) int {
	x, err := exiflib.Decode(r)
	if err != nil {
		return OrientationNormal
	}
	tag, err := x.Get(exiflib.Orientation)
	if err != nil {
		return OrientationNormal
	}
	v, err := tag.Int(0)
	if err != nil {
		return OrientationNormal
	}
	return v
}

// Orient returns buf rotated for display according to an EXIF orientation.
func Orient(buf *PixelBuffer, orientation int) *PixelBuffer {
	switch orientation {
	case OrientationRotate180:
		return rotate(buf, buf.Width, buf.Height, func(x, y int) (int, int) {
			return buf.Width - 1 - x, buf.Height - 1 - y
		})
	case OrientationRotate90:
		return rotate(buf, buf.Height, buf.Width, func(x, y int) (int, int) {
			return y, buf.Height - 1 - x
		})
	case OrientationRotate270:
		return rotate(buf, buf.Height, buf.Width, func(x, y int) (int, int) {
			return buf.Width - 1 - y, x
		})
	default:
		return buf
	}
}

// rotate builds a w x h buffer where destination pixel (x, y) is read from
// the source coordinate returned by src.
func rotate(buf *PixelBuffer, w, h int, src func(x, y int) (int, int)) *PixelBuffer {
	out := &PixelBuffer{
		Path:   buf.Path,
		Width:  w,
		Height: h,
		Pix:    make([]float32, len(buf.Pix)),
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx, sy := src(x, y)
			si := (sy*buf.Width + sx) * Channels
			di := (y*w + x) * Channels
			copy(out.Pix[di:di+Channels], buf.Pix[si:si+Channels])
		}
	}
	return out
}
