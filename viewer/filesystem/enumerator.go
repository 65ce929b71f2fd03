// Package filesystem supplies the ordered image paths the prefetch cache
// browses.
package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ZanzyTHEbar/rview/viewer/filesystem/common"

	"github.com/rs/zerolog"
	ignore "github.com/sabhiram/go-gitignore"
)

// IgnoreChecker decides whether a path relative to the listed directory is
// excluded.
type IgnoreChecker interface {
	MatchesPath(path string) bool
}

// ImageEnumerator lists the images of a single directory.
type ImageEnumerator struct {
	extensions map[string]struct{}
	ignoreFile string
	logger     zerolog.Logger
	errUtils   *common.ErrorUtils
}

// NewImageEnumerator creates an enumerator that keeps files whose lower-cased
// extension is in extensions. ignoreFile names a gitignore-style file looked
// up in each listed directory; empty disables it.
func NewImageEnumerator(extensions []string, ignoreFile string, logger zerolog.Logger) *ImageEnumerator {
	set := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = struct{}{}
	}
	return &ImageEnumerator{
		extensions: set,
		ignoreFile: ignoreFile,
		logger:     logger,
		errUtils:   common.NewErrorUtils(logger),
	}
}

// Enumerate returns the absolute paths of the images directly inside dir, in
// lexical order. Subdirectories are not descended into.
func (e *ImageEnumerator) Enumerate(ctx context.Context, dir string) ([]string, error) {
	if dir == "" {
		return nil, common.ErrPathEmpty
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, e.errUtils.WrapError(err, "failed to resolve %s", dir)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, e.errUtils.WrapError(err, "failed to list %s", abs)
	}

	ignored, err := e.loadIgnore(abs)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(entries))
	skipped := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := entry.Name()
		if !e.accepts(name) {
			continue
		}
		if ignored != nil && ignored.MatchesPath(name) {
			skipped++
			continue
		}

		full := filepath.Join(abs, name)
		if !isRegular(entry, full) {
			continue
		}
		paths = append(paths, full)
	}

	slices.Sort(paths)

	e.logger.Debug().
		Str("dir", abs).
		Int("images", len(paths)).
		Int("ignored", skipped).
		Msg("Directory enumerated")
	return paths, nil
}

func (e *ImageEnumerator) accepts(name string) bool {
	_, ok := e.extensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// loadIgnore compiles the ignore file in dir, or returns nil if there is none.
func (e *ImageEnumerator) loadIgnore(dir string) (IgnoreChecker, error) {
	if e.ignoreFile == "" {
		return nil, nil
	}
	ignorePath := filepath.Join(dir, e.ignoreFile)

	if _, err := os.Stat(ignorePath); err == nil {
		ignored, err := ignore.CompileIgnoreFile(ignorePath)
		if err != nil {
			return nil, fmt.Errorf("error reading %s file: %w", e.ignoreFile, err)
		}
		return ignored, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("error checking for %s file: %w", e.ignoreFile, err)
	}

	return nil, nil
}

// isRegular follows symlinks; broken links and non-regular targets are skipped.
func isRegular(entry os.DirEntry, full string) bool {
	if entry.Type().IsRegular() {
		return true
	}
	if entry.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && info.Mode().IsRegular()
}
