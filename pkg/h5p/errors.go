package h5p

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrManifest indicates an h5p.json or library.json schema violation
	ErrManifest = errors.New("invalid manifest")

	// ErrContentValidation indicates a content parameter failed its semantics
	ErrContentValidation = errors.New("invalid content parameter")

	// ErrPackageStructure indicates a malformed archive or package layout
	ErrPackageStructure = errors.New("invalid package structure")

	// ErrDependency indicates a missing or incompatible library dependency
	ErrDependency = errors.New("dependency error")

	// ErrStorage indicates a filesystem or export store failure
	ErrStorage = errors.New("storage failure")

	// ErrLibraryNotFound indicates a library is not installed
	ErrLibraryNotFound = errors.New("library not found")

	// ErrContentNotFound indicates a content was not found
	ErrContentNotFound = errors.New("content not found")

	// ErrExportNotFound indicates no export archive exists for a content
	ErrExportNotFound = errors.New("export not found")

	// ErrInvalidPackage is returned when package validation fails
	ErrInvalidPackage = errors.New("package validation failed")

	// ErrExportDisabled is returned when exporting while exports are turned off
	ErrExportDisabled = errors.New("export is disabled")

	// ErrLibraryInUse is returned when deleting a library that content still uses
	ErrLibraryInUse = errors.New("library is in use")
)

// ContentError represents an error related to content operations
type ContentError struct {
	ContentID int64
	Op        string
	Err       error
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("content operation %s failed for content %d: %v", e.Op, e.ContentID, e.Err)
}

func (e *ContentError) Unwrap() error {
	return e.Err
}

// LibraryError represents an error related to library operations
type LibraryError struct {
	Library string
	Op      string
	Err     error
}

func (e *LibraryError) Error() string {
	return fmt.Sprintf("library operation %s failed for %s: %v", e.Op, e.Library, e.Err)
}

func (e *LibraryError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to storage operations
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrStorage) match any StorageError.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}
