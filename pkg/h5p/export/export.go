// Package export builds distributable .h5p archives from stored content.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/tendant/simple-h5p/pkg/h5p"
)

// Builder stages a content with its libraries, zips the tree and stores the
// archive.
type Builder struct {
	files   h5p.FileStorage
	exports h5p.ExportStore
	events  h5p.EventSink
	logger  *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

func WithEventSink(events h5p.EventSink) Option {
	return func(b *Builder) {
		b.events = events
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

func New(files h5p.FileStorage, exports h5p.ExportStore, opts ...Option) *Builder {
	b := &Builder{
		files:   files,
		exports: exports,
		events:  h5p.NewNoopEventSink(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build creates the export archive of content and returns its file name.
// deps are the content's library usage rows in load order.
func (b *Builder) Build(ctx context.Context, content *h5p.Content, deps []*h5p.ContentDependency) (string, error) {
	staging := b.files.TmpPath()
	if err := os.MkdirAll(staging, 0755); err != nil {
		return "", &h5p.StorageError{Op: "export", Path: staging, Err: err}
	}
	defer b.discard(staging)

	if err := b.files.ExportContent(ctx, content.ID, filepath.Join(staging, "content")); err != nil {
		return "", &h5p.ContentError{ContentID: content.ID, Op: "export_content", Err: err}
	}
	if err := os.WriteFile(filepath.Join(staging, "content", "content.json"), []byte(content.Params), 0644); err != nil {
		return "", &h5p.StorageError{Op: "export", Path: staging, Err: err}
	}

	exported := map[h5p.LibraryRef]bool{}
	for _, dep := range deps {
		if exported[dep.Library] {
			continue
		}
		if err := b.files.ExportLibrary(ctx, dep.Library, staging); err != nil {
			return "", &h5p.LibraryError{Library: dep.Library.String(), Op: "export_library", Err: err}
		}
		exported[dep.Library] = true
	}

	raw, err := json.Marshal(Manifest(content, deps))
	if err != nil {
		return "", fmt.Errorf("failed to encode h5p.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, "h5p.json"), raw, 0644); err != nil {
		return "", &h5p.StorageError{Op: "export", Path: staging, Err: err}
	}

	archive := b.files.TmpPath() + ".h5p"
	defer os.Remove(archive)
	if err := Zip(staging, archive); err != nil {
		return "", &h5p.StorageError{Op: "export_zip", Path: archive, Err: err}
	}

	name := h5p.ExportName(content)
	if err := b.exports.SaveExport(ctx, archive, name); err != nil {
		return "", err
	}

	if err := b.events.ExportCreated(ctx, content, name); err != nil {
		b.logger.WarnContext(ctx, "Export event handler failed", "content_id", content.ID, "error", err)
	}
	return name, nil
}

func (b *Builder) discard(dir string) {
	if err := b.files.DeleteDir(dir); err != nil {
		b.logger.Error("Failed to remove export staging directory", "dir", dir, "error", err)
	}
}

// Manifest synthesizes h5p.json for content. Editor dependencies are left out.
func Manifest(content *h5p.Content, deps []*h5p.ContentDependency) *h5p.MainManifest {
	language := strings.TrimSpace(content.Language)
	if language == "" {
		language = "und"
	}

	m := &h5p.MainManifest{
		Title:                 content.Title,
		Language:              language,
		MainLibrary:           content.Library.MachineName,
		EmbedTypes:            embedTypes(content.EmbedType),
		Author:                content.Author,
		License:               content.License,
		PreloadedDependencies: []h5p.LibraryRef{},
	}
	for _, dep := range deps {
		switch dep.Type {
		case h5p.DependencyPreloaded:
			m.PreloadedDependencies = append(m.PreloadedDependencies, dep.Library)
		case h5p.DependencyDynamic:
			m.DynamicDependencies = append(m.DynamicDependencies, dep.Library)
		}
	}
	return m
}

func embedTypes(s string) []string {
	var types []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}
	if len(types) == 0 {
		types = []string{"div"}
	}
	return types
}

// Zip writes every file below dir into a new archive at dest, using forward
// slash paths relative to dir.
func Zip(dir, dest string) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(out)

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		header.Method = zip.Deflate

		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(w, f)
		f.Close()
		return err
	})

	if err := zw.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if err := out.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if walkErr != nil {
		os.Remove(dest)
	}
	return walkErr
}
