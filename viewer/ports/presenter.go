package ports

import (
	"time"

	"github.com/ZanzyTHEbar/rview/viewer/imaging"
)

// Presenter is the display side of the viewer. It is called once per
// selection change with whatever the cache returned.
type Presenter interface {
	Show(index int, buf *imaging.PixelBuffer, waited time.Duration)
	Placeholder(index int, path string, err error)
	Summary(stats map[string]interface{})
}
