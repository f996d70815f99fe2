package export

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-h5p/internal/testutil"
	"github.com/tendant/simple-h5p/pkg/h5p"
	fsstorage "github.com/tendant/simple-h5p/pkg/h5p/storage/fs"
	"github.com/tendant/simple-h5p/pkg/h5p/storage/memory"
)

type recordingSink struct {
	h5p.NoopEventSink
	exports []string
}

func (s *recordingSink) ExportCreated(ctx context.Context, content *h5p.Content, name string) error {
	s.exports = append(s.exports, name)
	return nil
}

func ref(name string, major, minor int) h5p.LibraryRef {
	return h5p.LibraryRef{MachineName: name, MajorVersion: h5p.Version(major), MinorVersion: h5p.Version(minor)}
}

func installLibrary(t *testing.T, files *fsstorage.Storage, r h5p.LibraryRef) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "library.json"), []byte(`{}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib.js"), []byte("//"), 0644))
	require.NoError(t, files.SaveLibrary(context.Background(), &h5p.Library{
		MachineName: r.MachineName, MajorVersion: r.MajorVersion, MinorVersion: r.MinorVersion, UploadDirectory: dir,
	}))
}

func readZip(t *testing.T, store *memory.ExportStore, name string) (string, map[string][]byte) {
	t.Helper()
	rc, err := store.OpenExport(context.Background(), name)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))

	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	entries := map[string][]byte{}
	for _, f := range r.File {
		fr, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(fr)
		fr.Close()
		require.NoError(t, err)
		entries[f.Name] = b
	}
	return path, entries
}

func TestBuild(t *testing.T) {
	ctx := context.Background()
	files, err := fsstorage.New(fsstorage.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	store := memory.New()
	sink := &recordingSink{}

	text, column, editor := ref("H5P.Text", 1, 1), ref("H5P.Column", 1, 13), ref("H5PEditor.Text", 1, 0)
	for _, r := range []h5p.LibraryRef{text, column, editor} {
		installLibrary(t, files, r)
	}

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "images"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "images", "a.png"), []byte("png"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "content.json"), []byte(`{"stale":true}`), 0644))
	require.NoError(t, files.SaveContent(ctx, src, 5))

	content := &h5p.Content{
		ID:        5,
		Title:     "Hello",
		Params:    `{"text":"hi"}`,
		Slug:      "hello",
		EmbedType: "div, iframe",
		Library:   column,
	}
	deps := []*h5p.ContentDependency{
		{Library: text, Type: h5p.DependencyPreloaded, Weight: 1},
		{Library: column, Type: h5p.DependencyPreloaded, Weight: 2},
		{Library: text, Type: h5p.DependencyDynamic, Weight: 3},
		{Library: editor, Type: h5p.DependencyEditor, Weight: 4},
	}

	name, err := New(files, store, WithEventSink(sink)).Build(ctx, content, deps)
	require.NoError(t, err)
	assert.Equal(t, "hello-5.h5p", name)
	assert.Equal(t, []string{"hello-5.h5p"}, sink.exports)

	path, entries := readZip(t, store, name)
	assert.Equal(t, []string{
		"H5P.Column-1.13/lib.js",
		"H5P.Column-1.13/library.json",
		"H5P.Text-1.1/lib.js",
		"H5P.Text-1.1/library.json",
		"H5PEditor.Text-1.0/lib.js",
		"H5PEditor.Text-1.0/library.json",
		"content/content.json",
		"content/images/a.png",
		"h5p.json",
	}, testutil.ZipEntries(t, path))
	assert.JSONEq(t, `{"text":"hi"}`, string(entries["content/content.json"]))

	var manifest map[string]any
	require.NoError(t, json.Unmarshal(entries["h5p.json"], &manifest))
	assert.Equal(t, "Hello", manifest["title"])
	assert.Equal(t, "und", manifest["language"])
	assert.Equal(t, "H5P.Column", manifest["mainLibrary"])
	assert.Equal(t, []any{"div", "iframe"}, manifest["embedTypes"])
	assert.Len(t, manifest["preloadedDependencies"], 2)
	assert.Len(t, manifest["dynamicDependencies"], 1)
	assert.NotContains(t, manifest, "editorDependencies")

	tmp, err := os.ReadDir(filepath.Join(filepath.Dir(files.ContentPath(5)), "..", "tmp"))
	require.NoError(t, err)
	assert.Empty(t, tmp, "staging must be removed")
}

func TestBuildMissingLibrary(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	files, err := fsstorage.New(fsstorage.Config{BaseDir: base})
	require.NoError(t, err)
	store := memory.New()

	content := &h5p.Content{ID: 1, Title: "x", Params: `{}`, Library: ref("H5P.Gone", 1, 0)}
	deps := []*h5p.ContentDependency{{Library: ref("H5P.Gone", 1, 0), Type: h5p.DependencyPreloaded, Weight: 1}}

	_, err = New(files, store).Build(ctx, content, deps)
	require.Error(t, err)
	assert.ErrorIs(t, err, h5p.ErrStorage)
	assert.Empty(t, store.Names())

	tmp, err := os.ReadDir(filepath.Join(base, "tmp"))
	require.NoError(t, err)
	assert.Empty(t, tmp)
}

func TestManifest(t *testing.T) {
	m := Manifest(&h5p.Content{Title: "T", Language: "nb", Library: ref("H5P.Text", 1, 0), License: "CC BY"}, nil)
	assert.Equal(t, "nb", m.Language)
	assert.Equal(t, []string{"div"}, m.EmbedTypes)
	assert.NotNil(t, m.PreloadedDependencies)
	assert.Equal(t, "CC BY", m.License)

	raw, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"preloadedDependencies":[]`)
}
