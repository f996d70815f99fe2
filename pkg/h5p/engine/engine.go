// Package engine installs, filters, copies, deletes and exports H5P packages
// on top of a Repository, a FileStorage and an ExportStore.
//
// Installs that touch the same library or content directory are serialized
// inside one Engine. Several engines sharing a storage root must be
// serialized by the caller.
package engine

import (
	"context"
	"io"

	"github.com/tendant/simple-h5p/pkg/h5p"
	"github.com/tendant/simple-h5p/pkg/h5p/validator"
)

// Engine defines the package operations exposed to the API and CLI
type Engine interface {
	// Package operations
	ValidatePackage(ctx context.Context, req ValidateRequest) (*validator.Result, error)
	InstallPackage(ctx context.Context, req InstallRequest) (*InstallResult, error)
	SavePackage(ctx context.Context, res *validator.Result, req SaveRequest) (*InstallResult, error)
	DeletePackage(ctx context.Context, contentID int64) error
	CopyPackage(ctx context.Context, fromContentID int64) (*h5p.Content, error)

	// Content operations
	SaveContent(ctx context.Context, content *h5p.Content) (int64, error)
	LoadContent(ctx context.Context, contentID int64) (*h5p.Content, error)
	FilterParameters(ctx context.Context, content *h5p.Content) (string, error)

	// Library operations
	ListLibraries(ctx context.Context) ([]*LibrarySummary, error)
	DeleteLibrary(ctx context.Context, ref h5p.LibraryRef) error

	// Export operations
	ExportContent(ctx context.Context, contentID int64) (string, error)
	OpenExport(ctx context.Context, contentID int64) (io.ReadCloser, string, error)
}
