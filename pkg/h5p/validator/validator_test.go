package validator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-h5p/internal/testutil"
	"github.com/tendant/simple-h5p/pkg/h5p"
)

type fakeCatalog struct {
	installed []*h5p.Library
}

func (c *fakeCatalog) LibraryID(ctx context.Context, ref h5p.LibraryRef) (int64, error) {
	for i, lib := range c.installed {
		if lib.Ref() == ref {
			return int64(i + 1), nil
		}
	}
	return 0, h5p.ErrLibraryNotFound
}

func (c *fakeCatalog) LoadLibraries(ctx context.Context) ([]*h5p.Library, error) {
	return c.installed, nil
}

type fixture struct {
	t       *testing.T
	dir     string
	tmpRoot string
	calls   int
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{t: t, dir: t.TempDir(), tmpRoot: t.TempDir()}
	return f
}

func (f *fixture) validator(mayUpdate bool, installed ...*h5p.Library) *Validator {
	return New(h5p.NewStaticPolicy(mayUpdate), &fakeCatalog{installed: installed},
		WithTempDir(func() (string, error) {
			f.calls++
			return os.MkdirTemp(f.tmpRoot, "pkg-")
		}))
}

func (f *fixture) leftovers() []os.DirEntry {
	entries, err := os.ReadDir(f.tmpRoot)
	require.NoError(f.t, err)
	return entries
}

func basicPackage(t *testing.T) *testutil.Package {
	return testutil.NewPackage().
		Main(t, "Greeting", "H5P.Greeting", "H5P.Greeting 1.2").
		Content(`{"greeting":"Hello"}`).
		Add("content/images/image.png", "png").
		Library(t, testutil.Library{
			MachineName: "H5P.Greeting", Major: 1, Minor: 2, Patch: 3, Runnable: true,
			Preloaded: []string{"H5P.Font 1.0"},
			JS:        []string{"greeting.js"},
			CSS:       []string{"styles/greeting.css"},
			Semantics: `[{"name":"greeting","type":"text"}]`,
			Languages: map[string]string{"nb": `{"semantics":[]}`},
		}).
		Library(t, testutil.Library{MachineName: "H5P.Font", Major: 1, Minor: 0})
}

func messages(diags *h5p.Diagnostics) string {
	var lines []string
	for _, d := range diags.Items() {
		lines = append(lines, d.Message)
	}
	return strings.Join(lines, "\n")
}

func TestValidatePackage(t *testing.T) {
	f := newFixture(t)
	path := basicPackage(t).Build(t, f.dir, "greeting.h5p")

	res, err := f.validator(true).Validate(context.Background(), path, Options{})
	require.NoError(t, err)
	require.True(t, res.Valid, messages(&res.Diagnostics))

	require.Contains(t, res.Libraries, "H5P.Greeting 1.2")
	require.Contains(t, res.Libraries, "H5P.Font 1.0")
	lib := res.Libraries["H5P.Greeting 1.2"]
	assert.Equal(t, h5p.Version(3), lib.PatchVersion)
	assert.True(t, bool(lib.Runnable))
	assert.JSONEq(t, `[{"name":"greeting","type":"text"}]`, string(lib.Semantics))
	assert.Contains(t, lib.Language, "nb")
	assert.Equal(t, filepath.Join(res.Dir, "H5P.Greeting-1.2"), lib.UploadDirectory)

	require.NotNil(t, res.Main)
	assert.Equal(t, "Greeting", res.Main.Title)
	ref, ok := res.Main.MainLibraryRef()
	require.True(t, ok)
	assert.Equal(t, "H5P.Greeting 1.2", ref.String())
	assert.JSONEq(t, `{"greeting":"Hello"}`, string(res.Content))

	assert.DirExists(t, res.Dir)
	assert.FileExists(t, path)
}

func TestValidateRejectsExtension(t *testing.T) {
	f := newFixture(t)
	path := basicPackage(t).Build(t, f.dir, "greeting.zip")

	res, err := f.validator(true).Validate(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.True(t, res.Diagnostics.HasErrors(h5p.KindPackage))
	assert.Contains(t, messages(&res.Diagnostics), ".h5p file extension")
	assert.Equal(t, 0, f.calls, "nothing may be extracted")
}

func TestValidateUnreadableZip(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "broken.h5p")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0644))

	res, err := f.validator(true).Validate(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Contains(t, messages(&res.Diagnostics), "unable to unzip")
	assert.Empty(t, f.leftovers())
}

func TestValidateRejectsPathTraversal(t *testing.T) {
	f := newFixture(t)
	path := basicPackage(t).Add("../evil.txt", "x").Build(t, f.dir, "evil.h5p")

	res, err := f.validator(true).Validate(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.NoFileExists(t, filepath.Join(f.tmpRoot, "evil.txt"))
	assert.Empty(t, f.leftovers())
}

func TestValidateRejectsSymlink(t *testing.T) {
	f := newFixture(t)
	path := basicPackage(t).Symlink("content/images/passwd", "/etc/passwd").Build(t, f.dir, "link.h5p")

	res, err := f.validator(true).Validate(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Contains(t, messages(&res.Diagnostics), "unable to unzip")
	assert.Empty(t, f.leftovers())
}

func TestValidateLibraryDirectoryName(t *testing.T) {
	tests := []struct {
		dir   string
		valid bool
	}{
		{"foo-1.2", true},
		{"foo", true},
		{"foo-1.3", false},
		{"bar-1.2", false},
	}
	for _, tt := range tests {
		t.Run(tt.dir, func(t *testing.T) {
			f := newFixture(t)
			path := testutil.NewPackage().
				Library(t, testutil.Library{MachineName: "foo", Major: 1, Minor: 2, Dir: tt.dir}).
				Build(t, f.dir, "libs.h5p")

			res, err := f.validator(true).Validate(context.Background(), path, Options{SkipContent: true})
			require.NoError(t, err)
			assert.Equal(t, tt.valid, res.Valid, messages(&res.Diagnostics))
			if !tt.valid {
				assert.Contains(t, messages(&res.Diagnostics), "Library directory name must match")
				assert.Empty(t, f.leftovers())
			}
		})
	}
}

func TestValidateContentWhitelist(t *testing.T) {
	f := newFixture(t)
	path := basicPackage(t).Add("content/payload.exe", "MZ").Build(t, f.dir, "exe.h5p")

	res, err := f.validator(true).Validate(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Contains(t, messages(&res.Diagnostics), "payload.exe")

	res, err = New(h5p.NewStaticPolicy(true), &fakeCatalog{}, WithFileCheckDisabled(true),
		WithTempDir(func() (string, error) { return os.MkdirTemp(f.tmpRoot, "pkg-") })).
		Validate(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.True(t, res.Valid, messages(&res.Diagnostics))
}

func TestValidateMissingContent(t *testing.T) {
	f := newFixture(t)
	path := basicPackage(t).Remove("content/content.json").Remove("content/images/image.png").Remove("h5p.json").
		Build(t, f.dir, "empty.h5p")

	res, err := f.validator(true).Validate(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	msgs := messages(&res.Diagnostics)
	assert.Contains(t, msgs, "A valid content folder is missing")
	assert.Contains(t, msgs, "A valid main h5p.json file is missing")

	res, err = f.validator(true).Validate(context.Background(), path, Options{SkipContent: true})
	require.NoError(t, err)
	assert.True(t, res.Valid, messages(&res.Diagnostics))
	assert.Nil(t, res.Main)
}

func TestValidateInvalidMainManifest(t *testing.T) {
	f := newFixture(t)
	path := basicPackage(t).Add("h5p.json", `{"title":"x","language":"english"}`).Build(t, f.dir, "bad.h5p")

	res, err := f.validator(true).Validate(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.True(t, res.Diagnostics.HasErrors(h5p.KindManifest))
	assert.Contains(t, messages(&res.Diagnostics), "The main h5p.json file is not valid")
}

func TestValidateMissingDependency(t *testing.T) {
	pkg := func(t *testing.T) *testutil.Package {
		return testutil.NewPackage().
			Main(t, "Greeting", "H5P.Greeting", "H5P.Greeting 1.2", "H5P.Bar 1.0").
			Content(`{}`).
			Library(t, testutil.Library{MachineName: "H5P.Greeting", Major: 1, Minor: 2, Runnable: true})
	}

	t.Run("not installed", func(t *testing.T) {
		f := newFixture(t)
		path := pkg(t).Build(t, f.dir, "p.h5p")
		res, err := f.validator(true).Validate(context.Background(), path, Options{})
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.True(t, res.Diagnostics.HasErrors(h5p.KindDependency))
		assert.Contains(t, messages(&res.Diagnostics), "Missing required library H5P.Bar 1.0")
		assert.Empty(t, f.leftovers())
	})

	t.Run("installed", func(t *testing.T) {
		f := newFixture(t)
		path := pkg(t).Build(t, f.dir, "p.h5p")
		bar := &h5p.Library{MachineName: "H5P.Bar", MajorVersion: 1, MinorVersion: 0}
		res, err := f.validator(true, bar).Validate(context.Background(), path, Options{})
		require.NoError(t, err)
		assert.True(t, res.Valid, messages(&res.Diagnostics))
	})

	t.Run("updates not allowed", func(t *testing.T) {
		f := newFixture(t)
		path := pkg(t).Build(t, f.dir, "p.h5p")
		bar := &h5p.Library{MachineName: "H5P.Bar", MajorVersion: 1, MinorVersion: 0}
		res, err := f.validator(false, bar).Validate(context.Background(), path, Options{})
		require.NoError(t, err)
		assert.False(t, res.Valid)
		msgs := messages(&res.Diagnostics)
		assert.Contains(t, msgs, "Missing required library H5P.Greeting 1.2")
		assert.Contains(t, msgs, "Contact the site administrator")
	})

	t.Run("updates allowed per request", func(t *testing.T) {
		f := newFixture(t)
		path := pkg(t).Build(t, f.dir, "p.h5p")
		bar := &h5p.Library{MachineName: "H5P.Bar", MajorVersion: 1, MinorVersion: 0}
		ctx := h5p.WithLibraryUpdates(context.Background(), true)
		res, err := f.validator(false, bar).Validate(ctx, path, Options{})
		require.NoError(t, err)
		assert.True(t, res.Valid, messages(&res.Diagnostics))
	})
}

func TestValidateUpgradeOnly(t *testing.T) {
	f := newFixture(t)
	path := testutil.NewPackage().
		Library(t, testutil.Library{MachineName: "A", Major: 1, Minor: 1, Preloaded: []string{"B 1.0"}}).
		Library(t, testutil.Library{MachineName: "B", Major: 1, Minor: 0, Preloaded: []string{"D 1.0"}}).
		Library(t, testutil.Library{MachineName: "C", Major: 1, Minor: 0}).
		Library(t, testutil.Library{MachineName: "D", Major: 1, Minor: 0}).
		Build(t, f.dir, "upgrade.h5p")

	installedA := &h5p.Library{MachineName: "A", MajorVersion: 1, MinorVersion: 0}
	res, err := f.validator(true, installedA).Validate(context.Background(), path, Options{SkipContent: true, UpgradeOnly: true})
	require.NoError(t, err)
	require.True(t, res.Valid, messages(&res.Diagnostics))

	keys := make([]string, 0, len(res.Libraries))
	for k := range res.Libraries {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{"A 1.1", "B 1.0", "D 1.0"}, keys)
}

func TestValidateLibraryFiles(t *testing.T) {
	base := testutil.Library{MachineName: "Lib", Major: 1, Minor: 0, JS: []string{"lib.js"}}

	tests := []struct {
		name   string
		mutate func(p *testutil.Package)
		want   string
	}{
		{"missing preloaded js", func(p *testutil.Package) { p.Remove("Lib-1.0/lib.js") }, "The file lib.js is missing from library: Lib-1.0"},
		{"invalid semantics", func(p *testutil.Package) { p.Add("Lib-1.0/semantics.json", "[{") }, "Invalid semantics.json"},
		{"invalid language", func(p *testutil.Package) { p.Add("Lib-1.0/language/de.json", "{") }, "Invalid language file de.json"},
		{"bad library.json", func(p *testutil.Package) { p.Add("Lib-1.0/library.json", "nope") }, "Could not find library.json"},
		{"disallowed file", func(p *testutil.Package) { p.Add("Lib-1.0/run.sh", "#!/bin/sh") }, "run.sh"},
		{"bad directory", func(p *testutil.Package) { p.Add("Lib 1.0/library.json", "{}") }, "Invalid library name: Lib 1.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p := testutil.NewPackage().Library(t, base)
			tt.mutate(p)
			path := p.Build(t, f.dir, "lib.h5p")

			res, err := f.validator(true).Validate(context.Background(), path, Options{SkipContent: true})
			require.NoError(t, err)
			assert.False(t, res.Valid)
			assert.Contains(t, messages(&res.Diagnostics), tt.want)
		})
	}
}

func TestValidateIgnoresHiddenEntries(t *testing.T) {
	f := newFixture(t)
	path := basicPackage(t).
		Add(".git/config", "x").
		Add("__MACOSX/._h5p.json", "x").
		Add("h5p.jpg", "jpg").
		Build(t, f.dir, "hidden.h5p")

	res, err := f.validator(true).Validate(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.True(t, res.Valid, messages(&res.Diagnostics))
	assert.Len(t, res.Libraries, 2)
}
