package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/tendant/simple-h5p/pkg/h5p"
	"github.com/tendant/simple-h5p/pkg/h5p/validator"
)

// ValidatePackage checks an archive and removes the extracted tree again.
func (e *engine) ValidatePackage(ctx context.Context, req ValidateRequest) (*validator.Result, error) {
	res, err := e.validator.Validate(ctx, req.Path, validator.Options{SkipContent: req.SkipContent, UpgradeOnly: req.UpgradeOnly})
	if err != nil {
		return nil, err
	}
	if res.Dir != "" {
		e.discard(ctx, res.Dir)
		res.Dir = ""
	}
	return res, nil
}

// InstallPackage validates an archive and saves its libraries and content.
// An invalid archive returns the diagnostics together with an error matching
// h5p.ErrInvalidPackage.
func (e *engine) InstallPackage(ctx context.Context, req InstallRequest) (*InstallResult, error) {
	res, err := e.validator.Validate(ctx, req.Path, validator.Options{SkipContent: req.SkipContent, UpgradeOnly: req.UpgradeOnly})
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		result := &InstallResult{Diagnostics: res.Diagnostics.Items()}
		return result, fmt.Errorf("%w: %w", h5p.ErrInvalidPackage, res.Diagnostics.Err())
	}

	result, err := e.SavePackage(ctx, res, SaveRequest{ContentID: req.ContentID, SkipContent: req.SkipContent, Disable: req.Disable})
	if result != nil {
		result.Diagnostics = res.Diagnostics.Items()
	}
	return result, err
}

// SavePackage installs the libraries of a valid result and stores its
// content. The extracted tree is removed whatever the outcome.
func (e *engine) SavePackage(ctx context.Context, res *validator.Result, req SaveRequest) (*InstallResult, error) {
	if res == nil || !res.Valid {
		return nil, h5p.ErrInvalidPackage
	}
	defer e.discard(ctx, res.Dir)

	e.install.Lock()
	defer e.install.Unlock()

	result := &InstallResult{
		Added:   []h5p.LibraryRef{},
		Updated: []h5p.LibraryRef{},
		Skipped: []h5p.LibraryRef{},
	}
	saved, err := e.saveLibraries(ctx, res.Libraries, result)
	if err != nil {
		return nil, err
	}
	if err := e.saveLibraryDependencies(ctx, saved); err != nil {
		return nil, err
	}

	if !req.SkipContent {
		content, err := e.saveContentFromPackage(ctx, res, req)
		if err != nil {
			return nil, err
		}
		result.Content = content
	}

	if len(result.Added) > 0 || len(result.Updated) > 0 {
		e.logger.InfoContext(ctx, fmt.Sprintf("Added %d new H5P libraries and updated %d old.", len(result.Added), len(result.Updated)))
	}
	return result, nil
}

// saveLibraries stores new libraries and higher patch versions of installed
// ones. Same or older patch versions are skipped.
func (e *engine) saveLibraries(ctx context.Context, libraries map[string]*h5p.Library, result *InstallResult) ([]*h5p.Library, error) {
	keys := make([]string, 0, len(libraries))
	for k := range libraries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var saved []*h5p.Library
	for _, key := range keys {
		lib := libraries[key]
		ref := lib.Ref()

		id, err := e.ids.LibraryID(ctx, ref)
		isNew := errors.Is(err, h5p.ErrLibraryNotFound)
		if err != nil && !isNew {
			return nil, &h5p.LibraryError{Library: key, Op: "save", Err: err}
		}

		if !isNew {
			lib.ID = id
			patched, err := e.repo.IsPatchedLibrary(ctx, lib)
			if err != nil {
				return nil, &h5p.LibraryError{Library: key, Op: "save", Err: err}
			}
			if !patched {
				e.logger.DebugContext(ctx, "Skipping installed library version", "library", key, "patch", lib.PatchVersion)
				result.Skipped = append(result.Skipped, ref)
				continue
			}
		}

		// Files go first. A failed row write after an upgrade leaves the old
		// patch version recorded, so a retry installs the library again.
		if err := e.files.SaveLibrary(ctx, lib); err != nil {
			return nil, &h5p.LibraryError{Library: key, Op: "save", Err: err}
		}
		if err := e.repo.SaveLibraryData(ctx, lib, isNew); err != nil {
			if isNew {
				if rmErr := e.files.DeleteLibrary(ctx, ref); rmErr != nil {
					e.logger.ErrorContext(ctx, "Failed to remove library files", "library", key, "error", rmErr)
				}
			}
			return nil, &h5p.LibraryError{Library: key, Op: "save", Err: err}
		}
		e.ids.Invalidate(ref)

		if err := e.events.LibrarySaved(ctx, lib, isNew); err != nil {
			e.logger.WarnContext(ctx, "Library event handler failed", "library", key, "error", err)
		}
		if isNew {
			result.Added = append(result.Added, ref)
		} else {
			result.Updated = append(result.Updated, ref)
		}
		saved = append(saved, lib)
	}
	return saved, nil
}

// saveLibraryDependencies rewrites the dependency rows of saved libraries
// once every library of the package is installed.
func (e *engine) saveLibraryDependencies(ctx context.Context, saved []*h5p.Library) error {
	for _, lib := range saved {
		if err := e.repo.DeleteLibraryDependencies(ctx, lib.ID); err != nil {
			return &h5p.LibraryError{Library: lib.String(), Op: "save_dependencies", Err: err}
		}
		for _, depType := range h5p.DependencyTypes {
			deps := lib.Dependencies(depType)
			if len(deps) == 0 {
				continue
			}
			if err := e.repo.SaveLibraryDependencies(ctx, lib.ID, deps, depType); err != nil {
				return &h5p.LibraryError{Library: lib.String(), Op: "save_dependencies", Err: err}
			}
		}
		// Content using this library must be filtered and exported again.
		if err := e.repo.ClearFilteredParameters(ctx, lib.ID); err != nil {
			return &h5p.LibraryError{Library: lib.String(), Op: "save_dependencies", Err: err}
		}
	}
	return nil
}

func (e *engine) saveContentFromPackage(ctx context.Context, res *validator.Result, req SaveRequest) (*h5p.Content, error) {
	main := res.Main
	ref, ok := main.MainLibraryRef()
	if !ok {
		return nil, &h5p.ContentError{ContentID: req.ContentID, Op: "save_package", Err: fmt.Errorf("%w: main library %s is not a preloaded dependency", h5p.ErrDependency, main.MainLibrary)}
	}
	lib, err := e.repo.LoadLibrary(ctx, ref)
	if err != nil {
		return nil, &h5p.ContentError{ContentID: req.ContentID, Op: "save_package", Err: err}
	}

	content := &h5p.Content{
		ID:        req.ContentID,
		Title:     main.Title,
		Language:  main.Language,
		Params:    string(res.Content),
		EmbedType: h5p.EmbedType(main.EmbedTypes, lib.EmbedTypes),
		Disable:   req.Disable,
		Author:    main.Author,
		License:   main.License,
		LibraryID: lib.ID,
		Library:   ref,
	}
	if req.ContentID != 0 {
		existing, err := e.repo.LoadContent(ctx, req.ContentID)
		if err != nil {
			return nil, &h5p.ContentError{ContentID: req.ContentID, Op: "save_package", Err: err}
		}
		content.Slug = existing.Slug
		content.CreatedAt = existing.CreatedAt
	}

	isNew := content.ID == 0
	if _, err := e.SaveContent(ctx, content); err != nil {
		return nil, err
	}

	if err := e.files.SaveContent(ctx, filepath.Join(res.Dir, "content"), content.ID); err != nil {
		if isNew {
			e.rollbackContent(ctx, content.ID)
		}
		return nil, &h5p.ContentError{ContentID: content.ID, Op: "save_package", Err: err}
	}

	if !isNew {
		if err := e.repo.ResetContentUserData(ctx, content.ID); err != nil {
			return nil, &h5p.ContentError{ContentID: content.ID, Op: "save_package", Err: err}
		}
	}
	return content, nil
}

func (e *engine) discard(ctx context.Context, dir string) {
	if dir == "" {
		return
	}
	if err := e.files.DeleteDir(dir); err != nil {
		e.logger.ErrorContext(ctx, "Failed to remove extracted package", "dir", dir, "error", err)
	}
}
