// Package repotest is a behavioural test suite shared by every
// h5p.Repository implementation.
package repotest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-h5p/pkg/h5p"
)

// Run exercises repo. newRepo must return an empty repository.
func Run(t *testing.T, newRepo func(t *testing.T) h5p.Repository) {
	t.Run("Libraries", func(t *testing.T) { testLibraries(t, newRepo(t)) })
	t.Run("LibraryDependencies", func(t *testing.T) { testLibraryDependencies(t, newRepo(t)) })
	t.Run("Content", func(t *testing.T) { testContent(t, newRepo(t)) })
	t.Run("Usage", func(t *testing.T) { testUsage(t, newRepo(t)) })
	t.Run("UserData", func(t *testing.T) { testUserData(t, newRepo(t)) })
	t.Run("Options", func(t *testing.T) { testOptions(t, newRepo(t)) })
}

func ref(name string, major, minor int) h5p.LibraryRef {
	return h5p.LibraryRef{MachineName: name, MajorVersion: h5p.Version(major), MinorVersion: h5p.Version(minor)}
}

// SaveLibrary inserts a runnable library without dependencies.
func SaveLibrary(t *testing.T, repo h5p.Repository, name string, major, minor, patch int) *h5p.Library {
	t.Helper()
	lib := &h5p.Library{
		MachineName:  name,
		Title:        name,
		MajorVersion: h5p.Version(major),
		MinorVersion: h5p.Version(minor),
		PatchVersion: h5p.Version(patch),
		Runnable:     true,
		EmbedTypes:   []string{"div"},
		PreloadedJS:  []h5p.FileRef{{Path: "dist/app.js"}},
		Semantics:    []byte(`[{"name":"text","type":"text"}]`),
	}
	require.NoError(t, repo.SaveLibraryData(context.Background(), lib, true))
	require.NotZero(t, lib.ID)
	return lib
}

func testLibraries(t *testing.T, repo h5p.Repository) {
	ctx := context.Background()

	_, err := repo.LoadLibrary(ctx, ref("H5P.Text", 1, 0))
	assert.ErrorIs(t, err, h5p.ErrLibraryNotFound)
	_, err = repo.LibraryID(ctx, ref("H5P.Text", 1, 0))
	assert.ErrorIs(t, err, h5p.ErrLibraryNotFound)

	text := SaveLibrary(t, repo, "H5P.Text", 1, 0, 2)
	SaveLibrary(t, repo, "H5P.Column", 1, 13, 0)

	id, err := repo.LibraryID(ctx, text.Ref())
	require.NoError(t, err)
	assert.Equal(t, text.ID, id)

	loaded, err := repo.LoadLibrary(ctx, text.Ref())
	require.NoError(t, err)
	assert.Equal(t, text.ID, loaded.ID)
	assert.Equal(t, h5p.Version(2), loaded.PatchVersion)
	assert.True(t, bool(loaded.Runnable))
	assert.Equal(t, []string{"div"}, loaded.EmbedTypes)
	assert.Equal(t, []h5p.FileRef{{Path: "dist/app.js"}}, loaded.PreloadedJS)
	assert.JSONEq(t, `[{"name":"text","type":"text"}]`, string(loaded.Semantics))

	all, err := repo.LoadLibraries(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "H5P.Column", all[0].MachineName)

	patched := &h5p.Library{MachineName: "H5P.Text", MajorVersion: 1, MinorVersion: 0, PatchVersion: 3}
	ok, err := repo.IsPatchedLibrary(ctx, patched)
	require.NoError(t, err)
	assert.True(t, ok)
	patched.PatchVersion = 2
	ok, err = repo.IsPatchedLibrary(ctx, patched)
	require.NoError(t, err)
	assert.False(t, ok)

	text.PatchVersion = 5
	text.Title = "Text"
	require.NoError(t, repo.SaveLibraryData(ctx, text, false))
	loaded, err = repo.LoadLibrary(ctx, text.Ref())
	require.NoError(t, err)
	assert.Equal(t, h5p.Version(5), loaded.PatchVersion)
	assert.Equal(t, "Text", loaded.Title)

	require.NoError(t, repo.SetLibraryTutorialURL(ctx, "H5P.Text", "https://example.org/tutorial"))
	loaded, err = repo.LoadLibrary(ctx, text.Ref())
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/tutorial", loaded.TutorialURL)

	require.NoError(t, repo.DeleteLibrary(ctx, text.ID))
	_, err = repo.LoadLibrary(ctx, text.Ref())
	assert.ErrorIs(t, err, h5p.ErrLibraryNotFound)
}

func testLibraryDependencies(t *testing.T, repo h5p.Repository) {
	ctx := context.Background()
	column := SaveLibrary(t, repo, "H5P.Column", 1, 13, 0)
	text := SaveLibrary(t, repo, "H5P.Text", 1, 0, 0)
	editor := SaveLibrary(t, repo, "H5PEditor.Text", 1, 0, 0)

	require.NoError(t, repo.SaveLibraryDependencies(ctx, column.ID, []h5p.LibraryRef{text.Ref()}, h5p.DependencyPreloaded))
	require.NoError(t, repo.SaveLibraryDependencies(ctx, column.ID, []h5p.LibraryRef{editor.Ref()}, h5p.DependencyEditor))

	loaded, err := repo.LoadLibrary(ctx, column.Ref())
	require.NoError(t, err)
	assert.Equal(t, []h5p.LibraryRef{text.Ref()}, loaded.PreloadedDependencies)
	assert.Equal(t, []h5p.LibraryRef{editor.Ref()}, loaded.EditorDependencies)
	assert.Empty(t, loaded.DynamicDependencies)

	contents, libraries, err := repo.LibraryUsage(ctx, text.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, contents)
	assert.Equal(t, 1, libraries)
	_, libraries, err = repo.LibraryUsage(ctx, column.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, libraries)

	require.NoError(t, repo.DeleteLibraryDependencies(ctx, column.ID))
	loaded, err = repo.LoadLibrary(ctx, column.Ref())
	require.NoError(t, err)
	assert.Empty(t, loaded.PreloadedDependencies)
	assert.Empty(t, loaded.EditorDependencies)
}

func testContent(t *testing.T, repo h5p.Repository) {
	ctx := context.Background()
	text := SaveLibrary(t, repo, "H5P.Text", 1, 0, 0)

	_, err := repo.LoadContent(ctx, 42)
	assert.ErrorIs(t, err, h5p.ErrContentNotFound)

	content := &h5p.Content{
		Title:     "Hello",
		Language:  "en",
		Params:    `{"text":"hi"}`,
		EmbedType: "div",
		Disable:   h5p.DisableDownload | h5p.DisableEmbed,
		Library:   text.Ref(),
	}
	id, err := repo.InsertContent(ctx, content)
	require.NoError(t, err)
	require.NotZero(t, id)

	loaded, err := repo.LoadContent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, loaded.ID)
	assert.Equal(t, "Hello", loaded.Title)
	assert.Equal(t, `{"text":"hi"}`, loaded.Params)
	assert.Equal(t, text.ID, loaded.LibraryID)
	assert.Equal(t, text.Ref(), loaded.Library)
	assert.True(t, loaded.Disable.Has(h5p.DisableEmbed))
	assert.False(t, loaded.CreatedAt.IsZero())

	available, err := repo.IsContentSlugAvailable(ctx, "hello")
	require.NoError(t, err)
	assert.True(t, available)

	require.NoError(t, repo.UpdateContentFields(ctx, id, `{"text":"hi"}`, "hello"))
	loaded, err = repo.LoadContent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "hello", loaded.Slug)
	assert.Equal(t, `{"text":"hi"}`, loaded.Filtered)

	available, err = repo.IsContentSlugAvailable(ctx, "hello")
	require.NoError(t, err)
	assert.False(t, available)

	require.NoError(t, repo.ClearFilteredParameters(ctx, text.ID))
	loaded, err = repo.LoadContent(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, loaded.Filtered)
	assert.Equal(t, "hello", loaded.Slug)

	loaded.Title = "Hello again"
	loaded.Params = `{"text":"bye"}`
	require.NoError(t, repo.UpdateContent(ctx, loaded))
	loaded, err = repo.LoadContent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Hello again", loaded.Title)
	assert.Equal(t, `{"text":"bye"}`, loaded.Params)
	assert.Equal(t, "hello", loaded.Slug)

	counts, err := repo.LibraryContentCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"H5P.Text 1.0": 1}, counts)

	err = repo.UpdateContent(ctx, &h5p.Content{ID: 999, Library: text.Ref()})
	assert.ErrorIs(t, err, h5p.ErrContentNotFound)

	require.NoError(t, repo.DeleteContentData(ctx, id))
	_, err = repo.LoadContent(ctx, id)
	assert.ErrorIs(t, err, h5p.ErrContentNotFound)
}

func testUsage(t *testing.T, repo h5p.Repository) {
	ctx := context.Background()
	column := SaveLibrary(t, repo, "H5P.Column", 1, 13, 0)
	text := SaveLibrary(t, repo, "H5P.Text", 1, 0, 0)
	column.DropLibraryCSS = []h5p.DropCSS{{MachineName: "H5P.Text"}}

	id, err := repo.InsertContent(ctx, &h5p.Content{Title: "c", Params: `{}`, Library: column.Ref()})
	require.NoError(t, err)

	deps := h5p.Dependencies{
		h5p.DependencyKey(h5p.DependencyPreloaded, "H5P.Column"): {Library: column, Type: h5p.DependencyPreloaded, Weight: 2},
		h5p.DependencyKey(h5p.DependencyPreloaded, "H5P.Text"):   {Library: text, Type: h5p.DependencyPreloaded, Weight: 1},
		h5p.DependencyKey(h5p.DependencyDynamic, "H5P.Text"):     {Library: text, Type: h5p.DependencyDynamic, Weight: 3},
	}
	require.NoError(t, repo.SaveLibraryUsage(ctx, id, deps))

	rows, err := repo.LoadContentDependencies(ctx, id, "")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, text.Ref(), rows[0].Library)
	assert.True(t, rows[0].DropCSS)
	assert.Equal(t, column.Ref(), rows[1].Library)
	assert.False(t, rows[1].DropCSS)
	assert.Equal(t, h5p.DependencyDynamic, rows[2].Type)

	preloaded, err := repo.LoadContentDependencies(ctx, id, h5p.DependencyPreloaded)
	require.NoError(t, err)
	assert.Len(t, preloaded, 2)

	copyID, err := repo.InsertContent(ctx, &h5p.Content{Title: "copy", Params: `{}`, Library: column.Ref()})
	require.NoError(t, err)
	require.NoError(t, repo.CopyLibraryUsage(ctx, copyID, id))
	copied, err := repo.LoadContentDependencies(ctx, copyID, "")
	require.NoError(t, err)
	assert.Len(t, copied, 3)

	// Filtered params of content using text as a dependency are dropped too.
	require.NoError(t, repo.UpdateContentFields(ctx, copyID, "{}", "copy"))
	require.NoError(t, repo.ClearFilteredParameters(ctx, text.ID))
	loaded, err := repo.LoadContent(ctx, copyID)
	require.NoError(t, err)
	assert.Empty(t, loaded.Filtered)

	// Both contents use text only as a dependency.
	contents, _, err := repo.LibraryUsage(ctx, text.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, contents)
	unused := SaveLibrary(t, repo, "H5P.Unused", 1, 0, 0)
	contents, libraries, err := repo.LibraryUsage(ctx, unused.ID)
	require.NoError(t, err)
	assert.Zero(t, contents)
	assert.Zero(t, libraries)

	require.NoError(t, repo.DeleteLibraryUsage(ctx, id))
	rows, err = repo.LoadContentDependencies(ctx, id, "")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func testUserData(t *testing.T, repo h5p.Repository) {
	ctx := context.Background()
	text := SaveLibrary(t, repo, "H5P.Text", 1, 0, 0)
	id, err := repo.InsertContent(ctx, &h5p.Content{Title: "c", Params: `{}`, Library: text.Ref()})
	require.NoError(t, err)

	require.NoError(t, repo.SaveContentUserData(ctx, &h5p.UserData{ContentID: id, UserID: "u1", DataID: "state", Data: "a", Invalidate: true}))
	require.NoError(t, repo.SaveContentUserData(ctx, &h5p.UserData{ContentID: id, UserID: "u2", DataID: "state", Data: "b"}))
	require.NoError(t, repo.SaveContentUserData(ctx, &h5p.UserData{ContentID: id, UserID: "u1", DataID: "state", Data: "c", Invalidate: true}))

	rows, err := repo.LoadContentUserData(ctx, id)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NoError(t, repo.ResetContentUserData(ctx, id))
	rows, err = repo.LoadContentUserData(ctx, id)
	require.NoError(t, err)
	byUser := map[string]string{}
	for _, row := range rows {
		byUser[row.UserID] = row.Data
	}
	assert.Equal(t, map[string]string{"u1": h5p.UserDataReset, "u2": "b"}, byUser)

	require.NoError(t, repo.DeleteContentData(ctx, id))
	rows, err = repo.LoadContentUserData(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func testOptions(t *testing.T, repo h5p.Repository) {
	ctx := context.Background()
	value, err := repo.GetOption(ctx, "H5P_UUID")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, repo.SetOption(ctx, "H5P_UUID", "abc"))
	require.NoError(t, repo.SetOption(ctx, "H5P_UUID", "def"))
	value, err = repo.GetOption(ctx, "H5P_UUID")
	require.NoError(t, err)
	assert.Equal(t, "def", value)
}
