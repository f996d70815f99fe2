package h5p

import (
	"context"
	"io"
	"time"
)

// LibraryLoader loads installed libraries by identity.
type LibraryLoader interface {
	// LoadLibrary returns ErrLibraryNotFound when ref is not installed.
	LoadLibrary(ctx context.Context, ref LibraryRef) (*Library, error)
}

// Repository is the persistence collaborator of the engine. It stores
// libraries, content, library usage and site options.
type Repository interface {
	LibraryLoader

	// Library operations
	LoadLibraries(ctx context.Context) ([]*Library, error)
	LibraryID(ctx context.Context, ref LibraryRef) (int64, error)
	// IsPatchedLibrary reports whether lib has a higher patch version than the
	// installed library with the same major/minor version.
	IsPatchedLibrary(ctx context.Context, lib *Library) (bool, error)
	// SaveLibraryData inserts lib when isNew (assigning lib.ID) or updates the
	// row with lib.ID.
	SaveLibraryData(ctx context.Context, lib *Library, isNew bool) error
	DeleteLibrary(ctx context.Context, libraryID int64) error
	SaveLibraryDependencies(ctx context.Context, libraryID int64, deps []LibraryRef, depType DependencyType) error
	DeleteLibraryDependencies(ctx context.Context, libraryID int64) error
	// ClearFilteredParameters drops the cached filtered params of every
	// content that uses the library.
	ClearFilteredParameters(ctx context.Context, libraryID int64) error
	SetLibraryTutorialURL(ctx context.Context, machineName, url string) error
	// LibraryContentCounts returns the number of contents using each library
	// as main library, keyed by LibraryRef.String().
	LibraryContentCounts(ctx context.Context) (map[string]int, error)
	// LibraryUsage counts the contents using the library in any role and
	// the libraries that declare it as a dependency.
	LibraryUsage(ctx context.Context, libraryID int64) (contents, libraries int, err error)

	// Content operations
	InsertContent(ctx context.Context, content *Content) (int64, error)
	UpdateContent(ctx context.Context, content *Content) error
	LoadContent(ctx context.Context, contentID int64) (*Content, error)
	UpdateContentFields(ctx context.Context, contentID int64, filtered, slug string) error
	// DeleteContentData removes the content row with its usage and
	// user data.
	DeleteContentData(ctx context.Context, contentID int64) error
	ResetContentUserData(ctx context.Context, contentID int64) error
	SaveContentUserData(ctx context.Context, data *UserData) error
	LoadContentUserData(ctx context.Context, contentID int64) ([]*UserData, error)
	IsContentSlugAvailable(ctx context.Context, slug string) (bool, error)

	// Library usage operations
	SaveLibraryUsage(ctx context.Context, contentID int64, deps Dependencies) error
	DeleteLibraryUsage(ctx context.Context, contentID int64) error
	CopyLibraryUsage(ctx context.Context, contentID, fromContentID int64) error
	// LoadContentDependencies returns usage rows ordered by weight. An empty
	// depType returns all types.
	LoadContentDependencies(ctx context.Context, contentID int64, depType DependencyType) ([]*ContentDependency, error)

	// Site options
	GetOption(ctx context.Context, name string) (string, error)
	SetOption(ctx context.Context, name, value string) error
}

// ContentDependency is a persisted library usage row.
type ContentDependency struct {
	LibraryID int64          `json:"libraryId"`
	Library   LibraryRef     `json:"library"`
	Type      DependencyType `json:"type"`
	Weight    int            `json:"weight"`
	DropCSS   bool           `json:"dropCss"`
}

// UserDataReset replaces invalidated user data when its content changes.
const UserDataReset = "RESET"

// UserData is per-user state saved by a content while it is played.
type UserData struct {
	ContentID  int64
	UserID     string
	SubContent int64
	DataID     string
	Data       string
	Preload    bool
	Invalidate bool
	UpdatedAt  time.Time
}

// FileStorage owns the durable library and content trees.
type FileStorage interface {
	// SaveLibrary replaces libraries/<name>-<major>.<minor> with the contents
	// of lib.UploadDirectory.
	SaveLibrary(ctx context.Context, lib *Library) error
	DeleteLibrary(ctx context.Context, ref LibraryRef) error
	// SaveContent replaces content/<id> with the contents of srcDir.
	SaveContent(ctx context.Context, srcDir string, contentID int64) error
	DeleteContent(ctx context.Context, contentID int64) error
	CloneContent(ctx context.Context, fromID, toID int64) error
	// ExportContent copies content/<id> into dest.
	ExportContent(ctx context.Context, contentID int64, dest string) error
	// ExportLibrary copies the library tree into dest/<name>-<major>.<minor>.
	ExportLibrary(ctx context.Context, ref LibraryRef, dest string) error
	// TmpPath returns a fresh, not yet existing path under the tmp tree.
	TmpPath() string
	DeleteDir(path string) error
}

// ExportStore persists built export archives by file name.
type ExportStore interface {
	SaveExport(ctx context.Context, srcFile, name string) error
	DeleteExport(ctx context.Context, name string) error
	HasExport(ctx context.Context, name string) (bool, error)
	// OpenExport returns ErrExportNotFound when the archive is missing.
	OpenExport(ctx context.Context, name string) (io.ReadCloser, error)
}

// EventSink receives engine lifecycle events.
type EventSink interface {
	LibrarySaved(ctx context.Context, lib *Library, isNew bool) error
	ContentSaved(ctx context.Context, content *Content) error
	ContentDeleted(ctx context.Context, contentID int64) error
	ExportCreated(ctx context.Context, content *Content, name string) error
}
