// Package fs stores installed libraries, content files and export archives
// on the local filesystem.
//
// Layout under the base directory:
//
//	libraries/<machineName>-<major>.<minor>/
//	content/<id>/
//	exports/<slug>-<id>.h5p
//	tmp/
//
// Directory replacements are staged next to the destination and renamed into
// place, so a failed copy never leaves a half written tree behind.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/tendant/simple-h5p/pkg/h5p"
)

// DefaultIgnore lists the version control and OS files never copied.
var DefaultIgnore = []string{"**/.git", "**/.gitignore", "**/.svn", "**/.DS_Store"}

// Config options for the filesystem backend
type Config struct {
	BaseDir string   // Base directory for the whole tree
	Ignore  []string // doublestar patterns skipped while copying, default DefaultIgnore
}

// Storage is a filesystem implementation of h5p.FileStorage and h5p.ExportStore
type Storage struct {
	mu      sync.RWMutex
	baseDir string
	ignore  []string
}

var (
	_ h5p.FileStorage = (*Storage)(nil)
	_ h5p.ExportStore = (*Storage)(nil)
)

// New creates the storage and its directory layout
func New(config Config) (*Storage, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	ignore := config.Ignore
	if ignore == nil {
		ignore = DefaultIgnore
	}
	for _, pattern := range ignore {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid ignore pattern: %s", pattern)
		}
	}

	for _, dir := range []string{"libraries", "content", "exports", "tmp"} {
		if err := os.MkdirAll(filepath.Join(config.BaseDir, dir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}

	return &Storage{baseDir: config.BaseDir, ignore: ignore}, nil
}

func (s *Storage) libraryDir(ref h5p.LibraryRef) string {
	return filepath.Join(s.baseDir, "libraries", ref.DirName())
}

func (s *Storage) contentDir(id int64) string {
	return filepath.Join(s.baseDir, "content", strconv.FormatInt(id, 10))
}

func (s *Storage) exportPath(name string) (string, error) {
	if name == "" || filepath.Base(name) != name || !filepath.IsLocal(name) {
		return "", fmt.Errorf("invalid export name %q", name)
	}
	return filepath.Join(s.baseDir, "exports", name), nil
}

// LibraryPath returns the installed folder of ref.
func (s *Storage) LibraryPath(ref h5p.LibraryRef) string {
	return s.libraryDir(ref)
}

// ContentPath returns the folder holding the files of a content.
func (s *Storage) ContentPath(id int64) string {
	return s.contentDir(id)
}

// SaveLibrary replaces the installed folder with lib.UploadDirectory
func (s *Storage) SaveLibrary(ctx context.Context, lib *h5p.Library) error {
	if lib.UploadDirectory == "" {
		return &h5p.StorageError{Op: "save_library", Path: lib.String(), Err: errors.New("library has no upload directory")}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dest := s.libraryDir(lib.Ref())
	if err := s.replaceDir(lib.UploadDirectory, dest); err != nil {
		return &h5p.StorageError{Op: "save_library", Path: dest, Err: err}
	}
	return nil
}

// DeleteLibrary removes the installed folder. A missing folder is not an error.
func (s *Storage) DeleteLibrary(ctx context.Context, ref h5p.LibraryRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.libraryDir(ref)
	if err := os.RemoveAll(dir); err != nil {
		return &h5p.StorageError{Op: "delete_library", Path: dir, Err: err}
	}
	return nil
}

// SaveContent replaces content/<id> with the files of srcDir
func (s *Storage) SaveContent(ctx context.Context, srcDir string, contentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dest := s.contentDir(contentID)
	if err := s.replaceDir(srcDir, dest); err != nil {
		return &h5p.StorageError{Op: "save_content", Path: dest, Err: err}
	}
	return nil
}

// DeleteContent removes content/<id>. A missing folder is not an error.
func (s *Storage) DeleteContent(ctx context.Context, contentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.contentDir(contentID)
	if err := os.RemoveAll(dir); err != nil {
		return &h5p.StorageError{Op: "delete_content", Path: dir, Err: err}
	}
	return nil
}

// CloneContent copies the files of one content to another
func (s *Storage) CloneContent(ctx context.Context, fromID, toID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.contentDir(fromID)
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		// Content without files.
		return nil
	}
	dest := s.contentDir(toID)
	if err := s.replaceDir(src, dest); err != nil {
		return &h5p.StorageError{Op: "clone_content", Path: dest, Err: err}
	}
	return nil
}

// ExportContent copies content/<id> into dest
func (s *Storage) ExportContent(ctx context.Context, contentID int64, dest string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.contentDir(contentID)
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return os.MkdirAll(dest, 0755)
	}
	if err := s.copyTree(src, dest); err != nil {
		return &h5p.StorageError{Op: "export_content", Path: src, Err: err}
	}
	return nil
}

// ExportLibrary copies the installed library into dest/<name>-<major>.<minor>
func (s *Storage) ExportLibrary(ctx context.Context, ref h5p.LibraryRef, dest string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.libraryDir(ref)
	if _, err := os.Stat(src); err != nil {
		return &h5p.StorageError{Op: "export_library", Path: src, Err: err}
	}
	if err := s.copyTree(src, filepath.Join(dest, ref.DirName())); err != nil {
		return &h5p.StorageError{Op: "export_library", Path: src, Err: err}
	}
	return nil
}

// TmpPath returns a fresh path under tmp/ that does not exist yet
func (s *Storage) TmpPath() string {
	return filepath.Join(s.baseDir, "tmp", uuid.NewString())
}

// DeleteDir removes a directory tree
func (s *Storage) DeleteDir(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return &h5p.StorageError{Op: "delete_dir", Path: path, Err: err}
	}
	return nil
}

// SaveExport moves a built archive into exports/<name>
func (s *Storage) SaveExport(ctx context.Context, srcFile, name string) error {
	dest, err := s.exportPath(name)
	if err != nil {
		return &h5p.StorageError{Op: "save_export", Path: name, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := dest + ".tmp-" + uuid.NewString()
	if err := copyFile(srcFile, staged, 0644); err != nil {
		os.Remove(staged)
		return &h5p.StorageError{Op: "save_export", Path: dest, Err: err}
	}
	if err := os.Rename(staged, dest); err != nil {
		os.Remove(staged)
		return &h5p.StorageError{Op: "save_export", Path: dest, Err: err}
	}
	return nil
}

// DeleteExport removes exports/<name>. A missing archive is not an error.
func (s *Storage) DeleteExport(ctx context.Context, name string) error {
	path, err := s.exportPath(name)
	if err != nil {
		return &h5p.StorageError{Op: "delete_export", Path: name, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &h5p.StorageError{Op: "delete_export", Path: path, Err: err}
	}
	return nil
}

// HasExport reports whether exports/<name> exists
func (s *Storage) HasExport(ctx context.Context, name string) (bool, error) {
	path, err := s.exportPath(name)
	if err != nil {
		return false, &h5p.StorageError{Op: "has_export", Path: name, Err: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, &h5p.StorageError{Op: "has_export", Path: path, Err: err}
	}
	return true, nil
}

// OpenExport opens exports/<name> for reading
func (s *Storage) OpenExport(ctx context.Context, name string) (io.ReadCloser, error) {
	path, err := s.exportPath(name)
	if err != nil {
		return nil, h5p.ErrExportNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, h5p.ErrExportNotFound
	} else if err != nil {
		return nil, &h5p.StorageError{Op: "open_export", Path: path, Err: err}
	}
	return file, nil
}

// replaceDir copies src into a staging folder beside dest, then swaps it in.
func (s *Storage) replaceDir(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	staged := dest + ".tmp-" + uuid.NewString()
	if err := s.copyTree(src, staged); err != nil {
		os.RemoveAll(staged)
		return err
	}

	var old string
	if _, err := os.Stat(dest); err == nil {
		old = dest + ".old-" + uuid.NewString()
		if err := os.Rename(dest, old); err != nil {
			os.RemoveAll(staged)
			return fmt.Errorf("failed to move old directory: %w", err)
		}
	}
	if err := os.Rename(staged, dest); err != nil {
		if old != "" {
			os.Rename(old, dest)
		}
		os.RemoveAll(staged)
		return fmt.Errorf("failed to move directory into place: %w", err)
	}
	if old != "" {
		os.RemoveAll(old)
	}
	return nil
}

// copyTree copies every file below src into dest, skipping ignored entries.
func (s *Storage) copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel != "." && s.ignored(filepath.ToSlash(rel)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dest, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0755)
		case d.Type().IsRegular():
			return copyFile(path, target, 0644)
		default:
			// Symlinks and devices are never copied.
			return nil
		}
	})
}

func (s *Storage) ignored(rel string) bool {
	for _, pattern := range s.ignore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func copyFile(src, dest string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	return out.Close()
}
