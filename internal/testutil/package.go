// Package testutil builds H5P package fixtures for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

// Library describes a bundled library fixture.
type Library struct {
	MachineName string
	Major       int
	Minor       int
	Patch       int
	Runnable    bool
	// Dir overrides the folder name, default "<name>-<major>.<minor>".
	Dir       string
	Preloaded []string
	Dynamic   []string
	Editor    []string
	Semantics string
	JS        []string
	CSS       []string
	Languages map[string]string
}

// Package collects archive entries.
type Package struct {
	files map[string][]byte
	links map[string]bool
}

func NewPackage() *Package {
	return &Package{files: map[string][]byte{}, links: map[string]bool{}}
}

// Symlink sets the entry at path to a symbolic link pointing at target.
func (p *Package) Symlink(path, target string) *Package {
	p.files[path] = []byte(target)
	p.links[path] = true
	return p
}

// Add sets the entry at path.
func (p *Package) Add(path, content string) *Package {
	p.files[path] = []byte(content)
	return p
}

// AddJSON marshals v into the entry at path.
func (p *Package) AddJSON(t testing.TB, path string, v any) *Package {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	p.files[path] = b
	return p
}

// Remove deletes the entry at path.
func (p *Package) Remove(path string) *Package {
	delete(p.files, path)
	delete(p.links, path)
	return p
}

// Main writes h5p.json naming mainLibrary and its preloaded dependencies,
// given as "<name> <major>.<minor>".
func (p *Package) Main(t testing.TB, title, mainLibrary string, preloaded ...string) *Package {
	return p.AddJSON(t, "h5p.json", map[string]any{
		"title":                 title,
		"language":              "en",
		"mainLibrary":           mainLibrary,
		"embedTypes":            []string{"div"},
		"preloadedDependencies": Refs(t, preloaded...),
	})
}

// Content writes content/content.json.
func (p *Package) Content(params string) *Package {
	return p.Add("content/content.json", params)
}

// Library adds a library folder with its library.json and declared files.
func (p *Package) Library(t testing.TB, lib Library) *Package {
	t.Helper()
	dir := lib.Dir
	if dir == "" {
		dir = DirName(lib.MachineName, lib.Major, lib.Minor)
	}
	runnable := 0
	if lib.Runnable {
		runnable = 1
	}
	data := map[string]any{
		"title":        lib.MachineName,
		"machineName":  lib.MachineName,
		"majorVersion": lib.Major,
		"minorVersion": lib.Minor,
		"patchVersion": lib.Patch,
		"runnable":     runnable,
	}
	if len(lib.Preloaded) > 0 {
		data["preloadedDependencies"] = Refs(t, lib.Preloaded...)
	}
	if len(lib.Dynamic) > 0 {
		data["dynamicDependencies"] = Refs(t, lib.Dynamic...)
	}
	if len(lib.Editor) > 0 {
		data["editorDependencies"] = Refs(t, lib.Editor...)
	}
	if len(lib.JS) > 0 {
		var files []map[string]string
		for _, js := range lib.JS {
			files = append(files, map[string]string{"path": js})
			p.Add(dir+"/"+js, "// "+js)
		}
		data["preloadedJs"] = files
	}
	if len(lib.CSS) > 0 {
		var files []map[string]string
		for _, css := range lib.CSS {
			files = append(files, map[string]string{"path": css})
			p.Add(dir+"/"+css, "/* "+css+" */")
		}
		data["preloadedCss"] = files
	}
	p.AddJSON(t, dir+"/library.json", data)
	if lib.Semantics != "" {
		p.Add(dir+"/semantics.json", lib.Semantics)
	}
	for code, doc := range lib.Languages {
		p.Add(dir+"/language/"+code+".json", doc)
	}
	return p
}

// Build writes the archive to dir/name and returns its path.
func (p *Package) Build(t testing.TB, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	names := make([]string, 0, len(p.files))
	for name := range p.files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
		if p.links[name] {
			hdr.SetMode(os.ModeSymlink | 0777)
		}
		w, err := zw.CreateHeader(hdr)
		require.NoError(t, err)
		_, err = w.Write(p.files[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return path
}

// Refs turns "<name> <major>.<minor>" strings into dependency objects.
func Refs(t testing.TB, libs ...string) []map[string]any {
	t.Helper()
	refs := make([]map[string]any, 0, len(libs))
	for _, s := range libs {
		name, version, ok := strings.Cut(s, " ")
		require.True(t, ok, "library string %q", s)
		major, minor, ok := strings.Cut(version, ".")
		require.True(t, ok, "library string %q", s)
		refs = append(refs, map[string]any{"machineName": name, "majorVersion": major, "minorVersion": minor})
	}
	return refs
}

func DirName(name string, major, minor int) string {
	return fmt.Sprintf("%s-%d.%d", name, major, minor)
}

// ZipEntries lists the entry names of the archive at path.
func ZipEntries(t testing.TB, path string) []string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}
