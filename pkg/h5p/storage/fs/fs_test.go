package fs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-h5p/pkg/h5p"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

func newStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base directory is required")

	_, err = New(Config{BaseDir: t.TempDir(), Ignore: []string{"[unclosed"}})
	require.Error(t, err)

	base := t.TempDir()
	_, err = New(Config{BaseDir: base})
	require.NoError(t, err)
	for _, dir := range []string{"libraries", "content", "exports", "tmp"} {
		assert.DirExists(t, filepath.Join(base, dir))
	}
}

func TestSaveLibrary(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	upload := t.TempDir()
	writeTree(t, upload, map[string]string{
		"library.json":    `{}`,
		"scripts/a.js":    "a",
		"sub/.DS_Store":   "junk",
		"sub/.git/config": "junk",
		"sub/keep.css":    "b",
	})
	lib := &h5p.Library{MachineName: "H5P.Text", MajorVersion: 1, MinorVersion: 2, UploadDirectory: upload}
	require.NoError(t, s.SaveLibrary(ctx, lib))

	dir := s.LibraryPath(lib.Ref())
	assert.Equal(t, "H5P.Text-1.2", filepath.Base(dir))
	assert.FileExists(t, filepath.Join(dir, "library.json"))
	assert.FileExists(t, filepath.Join(dir, "scripts", "a.js"))
	assert.FileExists(t, filepath.Join(dir, "sub", "keep.css"))
	assert.NoFileExists(t, filepath.Join(dir, "sub", ".DS_Store"))
	assert.NoDirExists(t, filepath.Join(dir, "sub", ".git"))

	// A second save replaces the folder instead of merging.
	upload2 := t.TempDir()
	writeTree(t, upload2, map[string]string{"library.json": `{"v":2}`})
	lib.UploadDirectory = upload2
	require.NoError(t, s.SaveLibrary(ctx, lib))
	assert.NoFileExists(t, filepath.Join(dir, "scripts", "a.js"))
	b, err := os.ReadFile(filepath.Join(dir, "library.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(b))

	entries, err := os.ReadDir(filepath.Dir(dir))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no staging folders may remain")

	require.NoError(t, s.DeleteLibrary(ctx, lib.Ref()))
	assert.NoDirExists(t, dir)
	require.NoError(t, s.DeleteLibrary(ctx, lib.Ref()))
}

func TestSaveLibraryWithoutUpload(t *testing.T) {
	s := newStorage(t)
	err := s.SaveLibrary(context.Background(), &h5p.Library{MachineName: "X"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, h5p.ErrStorage))
}

func TestContentLifecycle(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	src := t.TempDir()
	writeTree(t, src, map[string]string{"content.json": `{}`, "images/a.png": "png"})
	require.NoError(t, s.SaveContent(ctx, src, 7))
	assert.FileExists(t, filepath.Join(s.ContentPath(7), "images", "a.png"))

	require.NoError(t, s.CloneContent(ctx, 7, 8))
	assert.FileExists(t, filepath.Join(s.ContentPath(8), "images", "a.png"))

	// Cloning a content without files is a no-op.
	require.NoError(t, s.CloneContent(ctx, 99, 100))
	assert.NoDirExists(t, s.ContentPath(100))

	dest := filepath.Join(t.TempDir(), "export")
	require.NoError(t, s.ExportContent(ctx, 7, dest))
	assert.FileExists(t, filepath.Join(dest, "content.json"))

	require.NoError(t, s.DeleteContent(ctx, 7))
	assert.NoDirExists(t, s.ContentPath(7))
	assert.DirExists(t, s.ContentPath(8))
}

func TestExportLibrary(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()
	ref := h5p.LibraryRef{MachineName: "H5P.Column", MajorVersion: 1, MinorVersion: 13}

	err := s.ExportLibrary(ctx, ref, t.TempDir())
	require.Error(t, err)

	upload := t.TempDir()
	writeTree(t, upload, map[string]string{"library.json": `{}`, "column.js": "c"})
	require.NoError(t, s.SaveLibrary(ctx, &h5p.Library{MachineName: ref.MachineName, MajorVersion: 1, MinorVersion: 13, UploadDirectory: upload}))

	dest := t.TempDir()
	require.NoError(t, s.ExportLibrary(ctx, ref, dest))
	assert.FileExists(t, filepath.Join(dest, "H5P.Column-1.13", "column.js"))
}

func TestExports(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "built.h5p")
	require.NoError(t, os.WriteFile(src, []byte("zipdata"), 0644))

	ok, err := s.HasExport(ctx, "hello-1.h5p")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.OpenExport(ctx, "hello-1.h5p")
	assert.ErrorIs(t, err, h5p.ErrExportNotFound)

	require.NoError(t, s.SaveExport(ctx, src, "hello-1.h5p"))
	ok, err = s.HasExport(ctx, "hello-1.h5p")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := s.OpenExport(ctx, "hello-1.h5p")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "zipdata", string(data))

	require.NoError(t, s.DeleteExport(ctx, "hello-1.h5p"))
	require.NoError(t, s.DeleteExport(ctx, "hello-1.h5p"))
	ok, err = s.HasExport(ctx, "hello-1.h5p")
	require.NoError(t, err)
	assert.False(t, ok)

	err = s.SaveExport(ctx, src, "../escape.h5p")
	assert.ErrorIs(t, err, h5p.ErrStorage)
}

func TestTmpPath(t *testing.T) {
	s := newStorage(t)
	a, b := s.TmpPath(), s.TmpPath()
	assert.NotEqual(t, a, b)
	assert.NoDirExists(t, a)

	require.NoError(t, os.MkdirAll(filepath.Join(a, "x"), 0755))
	require.NoError(t, s.DeleteDir(a))
	assert.NoDirExists(t, a)
}
