package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/rview/viewer/filesystem/common"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
}

func TestImageEnumerator_Enumerate(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "b.png", "a.JPG", "c.jpeg", "notes.txt", "README", "d.webp")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.png"), 0o755))
	touch(t, filepath.Join(dir, "nested.png"), "e.png")

	e := NewImageEnumerator([]string{".png", "jpg", ".JPEG"}, "", zerolog.Nop())
	paths, err := e.Enumerate(context.Background(), dir)
	require.NoError(t, err)

	want := []string{
		filepath.Join(dir, "a.JPG"),
		filepath.Join(dir, "b.png"),
		filepath.Join(dir, "c.jpeg"),
	}
	assert.Equal(t, want, paths)
}

func TestImageEnumerator_IgnoreFile(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "keep.png", "draft-1.png", "draft-2.png", "thumb.png")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".rviewignore"), []byte("draft-*\nthumb.png\n"), 0o644))

	e := NewImageEnumerator([]string{".png"}, ".rviewignore", zerolog.Nop())
	paths, err := e.Enumerate(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "keep.png")}, paths)

	// Disabled ignore file lists everything.
	e = NewImageEnumerator([]string{".png"}, "", zerolog.Nop())
	paths, err = e.Enumerate(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, paths, 4)
}

func TestImageEnumerator_Symlinks(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "real.png")
	if err := os.Symlink(filepath.Join(dir, "real.png"), filepath.Join(dir, "link.png")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	require.NoError(t, os.Symlink(filepath.Join(dir, "missing.png"), filepath.Join(dir, "broken.png")))

	e := NewImageEnumerator([]string{".png"}, "", zerolog.Nop())
	paths, err := e.Enumerate(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "link.png"), filepath.Join(dir, "real.png")}, paths)
}

func TestImageEnumerator_Errors(t *testing.T) {
	e := NewImageEnumerator([]string{".png"}, "", zerolog.Nop())

	_, err := e.Enumerate(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = e.Enumerate(context.Background(), "")
	assert.ErrorIs(t, err, common.ErrPathEmpty)

	dir := t.TempDir()
	touch(t, dir, "a.png")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Enumerate(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestImageEnumerator_RelativeDir(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.png")
	t.Chdir(dir)

	e := NewImageEnumerator([]string{".png"}, "", zerolog.Nop())
	paths, err := e.Enumerate(context.Background(), ".")
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.True(t, filepath.IsAbs(paths[0]))
}
