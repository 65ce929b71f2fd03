package main

import (
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"time"

	"github.com/ZanzyTHEbar/rview/viewer/imaging"
)

// textPresenter prints one line per viewed image.
type textPresenter struct {
	out   io.Writer
	total int
}

func (p *textPresenter) Show(index int, buf *imaging.PixelBuffer, waited time.Duration) {
	fmt.Fprintf(p.out, "[%d/%d] %s %dx%d waited=%s\n",
		index+1, p.total, filepath.Base(buf.Path), buf.Width, buf.Height, waited.Round(time.Microsecond))
}

func (p *textPresenter) Placeholder(index int, path string, err error) {
	fmt.Fprintf(p.out, "[%d/%d] %s unavailable: %v\n", index+1, p.total, filepath.Base(path), err)
}

func (p *textPresenter) Summary(stats map[string]interface{}) {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	fmt.Fprintln(p.out, "--- prefetch summary ---")
	for _, k := range keys {
		fmt.Fprintf(p.out, "%-18s %v\n", k, stats[k])
	}
}
