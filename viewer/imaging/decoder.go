package imaging

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // register GIF
	_ "image/jpeg" // register JPEG
	_ "image/png"  // register PNG
	"io"
	"os"

	"github.com/h2non/filetype"
	_ "golang.org/x/image/bmp"  // register BMP
	_ "golang.org/x/image/tiff" // register TIFF
	_ "golang.org/x/image/webp" // register WebP
)

// Extensions lists the file extensions StdDecoder can read.
var Extensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff", ".webp"}

// sniffLen is how many header bytes filetype needs to recognise a format.
const sniffLen = 262

var (
	ErrNotRegularFile     = errors.New("not a regular file")
	ErrUnsupportedContent = errors.New("unsupported image content")
)

// Decoder turns a path into a normalized pixel buffer. Implementations must
// be safe to call concurrently for different paths.
type Decoder interface {
	Decode(ctx context.Context, path string) (*PixelBuffer, error)
}

// DecodeFunc adapts a plain function to Decoder.
type DecodeFunc func(ctx context.Context, path string) (*PixelBuffer, error)

func (f DecodeFunc) Decode(ctx context.Context, path string) (*PixelBuffer, error) {
	return f(ctx, path)
}

// StdDecoder decodes with the codecs registered in the image package and
// applies the EXIF orientation of the file.
type StdDecoder struct{}

// NewStdDecoder creates a StdDecoder.
func NewStdDecoder() *StdDecoder {
	return &StdDecoder{}
}

func (d *StdDecoder) Decode(ctx context.Context, path string) (*PixelBuffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, ErrNotRegularFile
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header := make([]byte, sniffLen)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if !filetype.IsImage(header[:n]) {
		return nil, ErrUnsupportedContent
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(f)
	if err != nil {
		kind, _ := filetype.Match(header[:n])
		return nil, fmt.Errorf("%w (%s): %v", ErrUnsupportedContent, kind.MIME.Value, err)
	}

	buf := Normalize(path, img)

	if _, err := f.Seek(0, io.SeekStart); err == nil {
		buf = Orient(buf, ReadOrientation(f))
	}

	return buf, nil
}

// Normalize converts img into an RGBA float buffer with channels in [0, 1].
// Alpha is kept straight (not premultiplied).
func Normalize(path string, img image.Image) *PixelBuffer {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	buf := &PixelBuffer{
		Path:   path,
		Width:  w,
		Height: h,
		Pix:    make([]float32, w*h*Channels),
	}

	const max16 = float32(0xffff)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBA64Model.Convert(img.At(x, y)).(color.NRGBA64)
			buf.Pix[i] = float32(c.R) / max16
			buf.Pix[i+1] = float32(c.G) / max16
			buf.Pix[i+2] = float32(c.B) / max16
			buf.Pix[i+3] = float32(c.A) / max16
			i += Channels
		}
	}
	return buf
}
