// Package validator checks uploaded .h5p archives: it extracts them, validates
// the manifests, content files and bundled libraries, and reports missing
// dependencies.
package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/tendant/simple-h5p/pkg/h5p"
	"github.com/tendant/simple-h5p/pkg/h5p/manifest"
	"github.com/tendant/simple-h5p/pkg/h5p/semantics"
)

var libraryDirPattern = regexp.MustCompile(`^[\w0-9\-.]{1,255}$`)

// Catalog answers which libraries are already installed.
type Catalog interface {
	h5p.LibraryIDLookup
	LoadLibraries(ctx context.Context) ([]*h5p.Library, error)
}

// Options controls a single validation.
type Options struct {
	// SkipContent validates only the bundled libraries.
	SkipContent bool
	// UpgradeOnly keeps only libraries that are already installed in some
	// version, plus the bundled libraries those still need.
	UpgradeOnly bool
}

// Result is the outcome of validating one archive. On success Dir holds the
// extracted package and belongs to the caller.
type Result struct {
	Valid       bool
	Libraries   map[string]*h5p.Library
	Main        *h5p.MainManifest
	Content     json.RawMessage
	Dir         string
	Diagnostics h5p.Diagnostics
}

// Validator validates packages against a policy and the installed catalog.
type Validator struct {
	policy           h5p.Policy
	catalog          Catalog
	tempDir          func() (string, error)
	disableFileCheck bool
	logger           *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithTempDir sets the function creating the extraction directory.
func WithTempDir(fn func() (string, error)) Option {
	return func(v *Validator) {
		v.tempDir = fn
	}
}

// WithFileCheckDisabled turns off the file extension whitelist.
func WithFileCheckDisabled(disabled bool) Option {
	return func(v *Validator) {
		v.disableFileCheck = disabled
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

func New(policy h5p.Policy, catalog Catalog, opts ...Option) *Validator {
	v := &Validator{
		policy:  policy,
		catalog: catalog,
		tempDir: func() (string, error) { return os.MkdirTemp("", "h5p-") },
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks the archive at path. The archive itself is never removed.
// The returned error reports infrastructure failures only; package problems
// are in Result.Diagnostics.
func (v *Validator) Validate(ctx context.Context, path string, opts Options) (*Result, error) {
	res := &Result{Libraries: map[string]*h5p.Library{}}
	diags := &res.Diagnostics

	if strings.ToLower(filepath.Ext(path)) != ".h5p" {
		diags.Errorf(h5p.KindPackage, "The file you uploaded is not a valid HTML5 Package (It does not have the .h5p file extension)")
		return res, nil
	}

	dir, err := v.tempDir()
	if err != nil {
		return nil, &h5p.StorageError{Op: "create_tmp_dir", Path: dir, Err: err}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &h5p.StorageError{Op: "create_tmp_dir", Path: dir, Err: err}
	}

	if err := extract(path, dir); err != nil {
		v.logger.WarnContext(ctx, "Failed to extract H5P package", "file", path, "error", err)
		diags.Errorf(h5p.KindPackage, "The file you uploaded is not a valid HTML5 Package (We are unable to unzip it)")
		v.discard(dir)
		return res, nil
	}

	v.validateTree(ctx, dir, opts, res)

	if !diags.HasErrors() {
		v.checkDependencies(ctx, opts, res)
	}

	res.Valid = !diags.HasErrors()
	if !res.Valid {
		v.discard(dir)
		res.Libraries = map[string]*h5p.Library{}
		res.Main = nil
		res.Content = nil
		return res, nil
	}
	res.Dir = dir
	return res, nil
}

func (v *Validator) discard(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		v.logger.Error("Failed to remove extraction directory", "dir", dir, "error", err)
	}
}

func (v *Validator) validateTree(ctx context.Context, dir string, opts Options, res *Result) {
	diags := &res.Diagnostics
	entries, err := os.ReadDir(dir)
	if err != nil {
		diags.Errorf(h5p.KindPackage, "Unable to read the extracted package: %v", err)
		return
	}

	mayUpdate := v.policy.MayUpdateLibraries(ctx)
	mainExists, contentExists := false, false

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		entryPath := filepath.Join(dir, name)

		switch {
		case strings.EqualFold(name, "h5p.json"):
			if opts.SkipContent {
				continue
			}
			main, ok := v.mainManifest(entryPath, diags)
			if ok {
				res.Main = main
				mainExists = true
			}

		case strings.EqualFold(name, "h5p.jpg"):

		case name == "content":
			if opts.SkipContent {
				continue
			}
			if !entry.IsDir() {
				diags.Errorf(h5p.KindPackage, "Invalid content folder")
				continue
			}
			raw, err := os.ReadFile(filepath.Join(entryPath, "content.json"))
			if err != nil || !isJSONObject(raw) {
				diags.Errorf(h5p.KindPackage, "Could not find or parse the content.json file")
				continue
			}
			res.Content = raw
			contentExists = true
			if !v.disableFileCheck {
				semantics.ValidateContentFiles(entryPath, v.policy.Whitelist(false), diags)
			}

		case mayUpdate:
			if !entry.IsDir() {
				continue
			}
			lib, ok := v.libraryData(name, entryPath, diags)
			if !ok {
				continue
			}
			if name != lib.MachineName && name != lib.Ref().DirName() {
				diags.Errorf(h5p.KindPackage, "Library directory name must match machineName or machineName-majorVersion.minorVersion (from library.json). (Directory: %s, machineName: %s, majorVersion: %d, minorVersion: %d)",
					name, lib.MachineName, lib.MajorVersion, lib.MinorVersion)
				continue
			}
			lib.UploadDirectory = entryPath
			res.Libraries[lib.String()] = lib
		}
	}

	if !opts.SkipContent {
		if !contentExists {
			diags.Errorf(h5p.KindPackage, "A valid content folder is missing")
		}
		if !mainExists {
			diags.Errorf(h5p.KindPackage, "A valid main h5p.json file is missing")
		}
	}
}

func (v *Validator) mainManifest(path string, diags *h5p.Diagnostics) (*h5p.MainManifest, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		diags.Errorf(h5p.KindManifest, "Could not parse the main h5p.json file")
		return nil, false
	}
	data, err := manifest.Decode(raw)
	if err != nil {
		diags.Errorf(h5p.KindManifest, "Could not parse the main h5p.json file")
		return nil, false
	}
	if !manifest.Validate(data, manifest.PackageRequired, manifest.PackageOptional, "h5p.json", diags) {
		diags.Errorf(h5p.KindManifest, "The main h5p.json file is not valid")
		return nil, false
	}
	var main h5p.MainManifest
	if err := json.Unmarshal(raw, &main); err != nil {
		diags.Errorf(h5p.KindManifest, "The main h5p.json file is not valid: %v", err)
		return nil, false
	}
	return &main, true
}

// libraryData loads and validates one bundled library folder.
func (v *Validator) libraryData(name, dir string, diags *h5p.Diagnostics) (*h5p.Library, bool) {
	if !libraryDirPattern.MatchString(name) {
		diags.Errorf(h5p.KindPackage, "Invalid library name: %s", name)
		return nil, false
	}

	raw, err := os.ReadFile(filepath.Join(dir, "library.json"))
	var data map[string]any
	if err == nil {
		data, err = manifest.Decode(raw)
	}
	if err != nil {
		diags.Errorf(h5p.KindManifest, "Could not find library.json file with valid json format for library %s", name)
		return nil, false
	}

	var semanticsRaw json.RawMessage
	if b, err := os.ReadFile(filepath.Join(dir, "semantics.json")); err == nil {
		if !json.Valid(b) {
			diags.Errorf(h5p.KindManifest, "Invalid semantics.json file has been included in the library %s", name)
			return nil, false
		}
		semanticsRaw = b
	} else if !errors.Is(err, fs.ErrNotExist) {
		diags.Errorf(h5p.KindPackage, "Unable to read semantics.json in library %s: %v", name, err)
		return nil, false
	}

	languages, ok := readLanguages(name, filepath.Join(dir, "language"), diags)
	if !ok {
		return nil, false
	}

	valid := manifest.Validate(data, manifest.LibraryRequired, manifest.LibraryOptional, name, diags)
	if !v.disableFileCheck {
		valid = semantics.ValidateContentFiles(dir, v.policy.Whitelist(true), diags) && valid
	}

	var lib h5p.Library
	if valid {
		if err := json.Unmarshal(raw, &lib); err != nil {
			diags.Errorf(h5p.KindManifest, "Invalid library.json in library %s: %v", name, err)
			return nil, false
		}
		valid = existingFiles(lib.PreloadedJS, dir, name, diags) && valid
		valid = existingFiles(lib.PreloadedCSS, dir, name, diags) && valid
	}
	if !valid {
		return nil, false
	}

	lib.ID = 0
	lib.Semantics = semanticsRaw
	lib.Language = languages
	return &lib, true
}

func readLanguages(library, dir string, diags *h5p.Diagnostics) (map[string]json.RawMessage, bool) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, true
	}
	if err != nil {
		diags.Errorf(h5p.KindPackage, "Unable to read language folder of library %s: %v", library, err)
		return nil, false
	}

	languages := map[string]json.RawMessage{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil || !json.Valid(raw) {
			diags.Errorf(h5p.KindManifest, "Invalid language file %s has been included in the library %s", name, library)
			return nil, false
		}
		languages[strings.TrimSuffix(name, ".json")] = raw
	}
	return languages, true
}

func existingFiles(files []h5p.FileRef, dir, library string, diags *h5p.Diagnostics) bool {
	for _, f := range files {
		rel := filepath.FromSlash(strings.ReplaceAll(f.Path, "\\", "/"))
		rel = strings.TrimPrefix(rel, string(filepath.Separator))
		if !filepath.IsLocal(rel) {
			diags.Errorf(h5p.KindPackage, "The file %s is outside of library: %s", f.Path, library)
			return false
		}
		if _, err := os.Stat(filepath.Join(dir, rel)); err != nil {
			diags.Errorf(h5p.KindPackage, "The file %s is missing from library: %s", f.Path, library)
			return false
		}
	}
	return true
}

func isJSONObject(raw []byte) bool {
	var obj map[string]any
	return json.Unmarshal(raw, &obj) == nil && obj != nil
}

// checkDependencies restricts the library set for upgrades and reports every
// dependency that is neither bundled nor installed.
func (v *Validator) checkDependencies(ctx context.Context, opts Options, res *Result) {
	diags := &res.Diagnostics

	if opts.UpgradeOnly {
		upgrades, err := v.upgradeSet(ctx, res.Libraries)
		if err != nil {
			diags.Errorf(h5p.KindStorage, "Unable to list installed libraries: %v", err)
			return
		}
		res.Libraries = upgrades
	}

	candidates := sortedLibraries(res.Libraries)
	if !opts.SkipContent && res.Main != nil {
		candidates = append(candidates, res.Main.AsLibrary())
	}

	var missing []string
	seen := map[string]bool{}
	for _, lib := range candidates {
		for _, depType := range h5p.DependencyTypes {
			for _, ref := range lib.Dependencies(depType) {
				key := ref.String()
				if seen[key] {
					continue
				}
				seen[key] = true
				if _, ok := res.Libraries[key]; ok {
					continue
				}
				if _, err := v.catalog.LibraryID(ctx, ref); err == nil {
					continue
				}
				missing = append(missing, key)
			}
		}
	}

	for _, key := range missing {
		diags.Errorf(h5p.KindDependency, "Missing required library %s", key)
	}
	if len(missing) > 0 && !v.policy.MayUpdateLibraries(ctx) {
		diags.Warnf(h5p.KindDependency, "Note that the libraries may exist in the file you uploaded, but you're not allowed to upload new libraries. Contact the site administrator about this.")
	}
}

// upgradeSet keeps the bundled libraries whose machine name is installed,
// then adds bundled dependencies of the kept set until nothing changes.
func (v *Validator) upgradeSet(ctx context.Context, libraries map[string]*h5p.Library) (map[string]*h5p.Library, error) {
	installed, err := v.catalog.LoadLibraries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load libraries: %w", err)
	}
	names := make(map[string]bool, len(installed))
	for _, lib := range installed {
		names[lib.MachineName] = true
	}

	upgrades := map[string]*h5p.Library{}
	for key, lib := range libraries {
		if names[lib.MachineName] {
			upgrades[key] = lib
		}
	}

	for changed := true; changed; {
		changed = false
		for _, lib := range sortedLibraries(upgrades) {
			for _, depType := range h5p.DependencyTypes {
				for _, ref := range lib.Dependencies(depType) {
					key := ref.String()
					if _, ok := upgrades[key]; ok {
						continue
					}
					if bundled, ok := libraries[key]; ok {
						upgrades[key] = bundled
						changed = true
					}
				}
			}
		}
	}
	return upgrades, nil
}

func sortedLibraries(libraries map[string]*h5p.Library) []*h5p.Library {
	keys := make([]string, 0, len(libraries))
	for k := range libraries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*h5p.Library, 0, len(keys))
	for _, k := range keys {
		out = append(out, libraries[k])
	}
	return out
}
