package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/tendant/simple-h5p/pkg/h5p"
	"github.com/tendant/simple-h5p/pkg/h5p/export"
	"github.com/tendant/simple-h5p/pkg/h5p/semantics"
	"github.com/tendant/simple-h5p/pkg/h5p/validator"
)

// engine implements the Engine interface
type engine struct {
	repo             h5p.Repository
	files            h5p.FileStorage
	exports          h5p.ExportStore
	policy           h5p.Policy
	events           h5p.EventSink
	logger           *slog.Logger
	exportEnabled    bool
	disableFileCheck bool

	ids       *h5p.LibraryIDCache
	validator *validator.Validator
	builder   *export.Builder

	// install serializes writes to library and content trees.
	install sync.Mutex
}

// Option represents a functional option for configuring the engine
type Option func(*engine)

// WithRepository sets the persistence collaborator
func WithRepository(repo h5p.Repository) Option {
	return func(e *engine) {
		e.repo = repo
	}
}

// WithFileStorage sets the durable library and content tree
func WithFileStorage(files h5p.FileStorage) Option {
	return func(e *engine) {
		e.files = files
	}
}

// WithExportStore sets where export archives are kept. Defaults to the file
// storage when it implements h5p.ExportStore.
func WithExportStore(exports h5p.ExportStore) Option {
	return func(e *engine) {
		e.exports = exports
	}
}

// WithPolicy sets the permission and whitelist policy
func WithPolicy(policy h5p.Policy) Option {
	return func(e *engine) {
		e.policy = policy
	}
}

// WithEventSink sets the event sink for the engine
func WithEventSink(sink h5p.EventSink) Option {
	return func(e *engine) {
		e.events = sink
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *engine) {
		e.logger = logger
	}
}

// WithExportEnabled keeps an export archive next to every filtered content
func WithExportEnabled(enabled bool) Option {
	return func(e *engine) {
		e.exportEnabled = enabled
	}
}

// WithFileCheckDisabled skips the file extension whitelist on upload
func WithFileCheckDisabled(disabled bool) Option {
	return func(e *engine) {
		e.disableFileCheck = disabled
	}
}

// New creates a new engine instance with the given options
func New(options ...Option) (Engine, error) {
	e := &engine{
		policy: h5p.NewStaticPolicy(false),
		events: h5p.NewNoopEventSink(),
		logger: slog.Default(),
	}

	for _, option := range options {
		option(e)
	}

	if e.repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if e.files == nil {
		return nil, fmt.Errorf("file storage is required")
	}
	if e.exports == nil {
		if store, ok := e.files.(h5p.ExportStore); ok {
			e.exports = store
		} else {
			return nil, fmt.Errorf("export store is required")
		}
	}

	e.ids = h5p.NewLibraryIDCache(e.repo)
	e.validator = validator.New(e.policy, catalog{ids: e.ids, repo: e.repo},
		validator.WithTempDir(func() (string, error) { return e.files.TmpPath(), nil }),
		validator.WithFileCheckDisabled(e.disableFileCheck),
		validator.WithLogger(e.logger),
	)
	e.builder = export.New(e.files, e.exports, export.WithEventSink(e.events), export.WithLogger(e.logger))
	return e, nil
}

// Content operations

func (e *engine) SaveContent(ctx context.Context, content *h5p.Content) (int64, error) {
	if content.ID == 0 {
		id, err := e.repo.InsertContent(ctx, content)
		if err != nil {
			return 0, &h5p.ContentError{Op: "create", Err: err}
		}
		content.ID = id
	} else if err := e.repo.UpdateContent(ctx, content); err != nil {
		return 0, &h5p.ContentError{ContentID: content.ID, Op: "update", Err: err}
	} else {
		content.Filtered = ""
	}

	if err := e.events.ContentSaved(ctx, content); err != nil {
		e.logger.WarnContext(ctx, "Content event handler failed", "content_id", content.ID, "error", err)
	}
	return content.ID, nil
}

func (e *engine) LoadContent(ctx context.Context, contentID int64) (*h5p.Content, error) {
	content, err := e.repo.LoadContent(ctx, contentID)
	if err != nil {
		return nil, &h5p.ContentError{ContentID: contentID, Op: "load", Err: err}
	}
	return content, nil
}

// FilterParameters returns the sanitized parameters of content. Cached
// filtered parameters are reused unless exports are enabled and the archive
// is gone. Otherwise the parameters are validated against the main library's
// semantics, library usage is rebuilt, a slug is assigned on first use and
// the export archive is recreated.
func (e *engine) FilterParameters(ctx context.Context, content *h5p.Content) (string, error) {
	if content.Filtered != "" {
		if !e.exportEnabled || content.Slug == "" {
			return content.Filtered, nil
		}
		ok, err := e.exports.HasExport(ctx, h5p.ExportName(content))
		if err != nil {
			return "", &h5p.ContentError{ContentID: content.ID, Op: "filter", Err: err}
		}
		if ok {
			return content.Filtered, nil
		}
	}

	var params any
	if err := json.Unmarshal([]byte(content.Params), &params); err != nil {
		return "", &h5p.ContentError{ContentID: content.ID, Op: "filter", Err: fmt.Errorf("%w: %v", h5p.ErrContentValidation, err)}
	}

	diags := &h5p.Diagnostics{}
	v := semantics.NewValidator(e.repo, diags, semantics.WithLogger(e.logger))
	filteredParams, ok := v.ValidateContent(ctx, content.Library, params)
	if !ok {
		return "", &h5p.ContentError{ContentID: content.ID, Op: "filter", Err: errors.Join(h5p.ErrContentValidation, diags.Err())}
	}
	for _, d := range diags.Items() {
		e.logger.DebugContext(ctx, "Content parameter adjusted", "content_id", content.ID, "kind", d.Kind, "message", d.Message)
	}

	filtered, err := encodeParams(filteredParams)
	if err != nil {
		return "", &h5p.ContentError{ContentID: content.ID, Op: "filter", Err: err}
	}
	if content.ID == 0 {
		// Not stored yet, nothing to cache.
		return filtered, nil
	}

	deps := v.Dependencies()
	if err := e.repo.DeleteLibraryUsage(ctx, content.ID); err != nil {
		return "", &h5p.ContentError{ContentID: content.ID, Op: "filter", Err: err}
	}
	if err := e.repo.SaveLibraryUsage(ctx, content.ID, deps); err != nil {
		return "", &h5p.ContentError{ContentID: content.ID, Op: "filter", Err: err}
	}

	if content.Slug == "" {
		slug, err := h5p.GenerateSlug(ctx, content.Title, e.repo.IsContentSlugAvailable)
		if err != nil {
			return "", &h5p.ContentError{ContentID: content.ID, Op: "filter", Err: err}
		}
		// Archives built before the slug existed are named after the id.
		if err := e.exports.DeleteExport(ctx, h5p.ExportName(content)); err != nil {
			e.logger.WarnContext(ctx, "Failed to remove old export", "content_id", content.ID, "error", err)
		}
		content.Slug = slug
	}

	if e.exportEnabled {
		if _, err := e.builder.Build(ctx, content, deps.UsageRows()); err != nil {
			e.logger.ErrorContext(ctx, "Failed to create export", "content_id", content.ID, "error", err)
		}
	}

	if err := e.repo.UpdateContentFields(ctx, content.ID, filtered, content.Slug); err != nil {
		return "", &h5p.ContentError{ContentID: content.ID, Op: "filter", Err: err}
	}
	content.Filtered = filtered
	return filtered, nil
}

func encodeParams(params any) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(params); err != nil {
		return "", fmt.Errorf("failed to encode parameters: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Package operations

// DeletePackage removes the content's files, export archive and data.
func (e *engine) DeletePackage(ctx context.Context, contentID int64) error {
	e.install.Lock()
	defer e.install.Unlock()

	content, err := e.LoadContent(ctx, contentID)
	if err != nil {
		return err
	}

	if err := e.files.DeleteContent(ctx, contentID); err != nil {
		return &h5p.ContentError{ContentID: contentID, Op: "delete", Err: err}
	}
	if err := e.exports.DeleteExport(ctx, h5p.ExportName(content)); err != nil {
		return &h5p.ContentError{ContentID: contentID, Op: "delete", Err: err}
	}
	if err := e.repo.DeleteLibraryUsage(ctx, contentID); err != nil {
		return &h5p.ContentError{ContentID: contentID, Op: "delete", Err: err}
	}
	if err := e.repo.DeleteContentData(ctx, contentID); err != nil {
		return &h5p.ContentError{ContentID: contentID, Op: "delete", Err: err}
	}

	if err := e.events.ContentDeleted(ctx, contentID); err != nil {
		e.logger.WarnContext(ctx, "Content event handler failed", "content_id", contentID, "error", err)
	}
	return nil
}

// CopyPackage stores a copy of a content with its files and library usage.
// The copy gets its own slug and filtered parameters on first filter.
func (e *engine) CopyPackage(ctx context.Context, fromContentID int64) (*h5p.Content, error) {
	e.install.Lock()
	defer e.install.Unlock()

	source, err := e.LoadContent(ctx, fromContentID)
	if err != nil {
		return nil, err
	}

	content := *source
	content.ID = 0
	content.Slug = ""
	content.Filtered = ""
	if _, err := e.SaveContent(ctx, &content); err != nil {
		return nil, err
	}

	if err := e.files.CloneContent(ctx, fromContentID, content.ID); err != nil {
		e.rollbackContent(ctx, content.ID)
		return nil, &h5p.ContentError{ContentID: content.ID, Op: "copy", Err: err}
	}
	if err := e.repo.CopyLibraryUsage(ctx, content.ID, fromContentID); err != nil {
		e.rollbackContent(ctx, content.ID)
		return nil, &h5p.ContentError{ContentID: content.ID, Op: "copy", Err: err}
	}
	return &content, nil
}

func (e *engine) rollbackContent(ctx context.Context, contentID int64) {
	if err := e.files.DeleteContent(ctx, contentID); err != nil {
		e.logger.ErrorContext(ctx, "Failed to remove content files", "content_id", contentID, "error", err)
	}
	if err := e.repo.DeleteContentData(ctx, contentID); err != nil {
		e.logger.ErrorContext(ctx, "Failed to remove content data", "content_id", contentID, "error", err)
	}
}

// Library operations

func (e *engine) ListLibraries(ctx context.Context) ([]*LibrarySummary, error) {
	libraries, err := e.repo.LoadLibraries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load libraries: %w", err)
	}
	counts, err := e.repo.LibraryContentCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count library usage: %w", err)
	}

	summaries := make([]*LibrarySummary, 0, len(libraries))
	for _, lib := range libraries {
		summaries = append(summaries, &LibrarySummary{Library: lib, ContentCount: counts[lib.String()]})
	}
	return summaries, nil
}

// DeleteLibrary uninstalls a library that no content and no other library
// uses.
func (e *engine) DeleteLibrary(ctx context.Context, ref h5p.LibraryRef) error {
	e.install.Lock()
	defer e.install.Unlock()

	id, err := e.ids.LibraryID(ctx, ref)
	if err != nil {
		return &h5p.LibraryError{Library: ref.String(), Op: "delete", Err: err}
	}
	contents, libraries, err := e.repo.LibraryUsage(ctx, id)
	if err != nil {
		return &h5p.LibraryError{Library: ref.String(), Op: "delete", Err: err}
	}
	if contents > 0 {
		return &h5p.LibraryError{Library: ref.String(), Op: "delete", Err: fmt.Errorf("%w by %d contents", h5p.ErrLibraryInUse, contents)}
	}
	if libraries > 0 {
		return &h5p.LibraryError{Library: ref.String(), Op: "delete", Err: fmt.Errorf("%w by %d libraries", h5p.ErrLibraryInUse, libraries)}
	}

	if err := e.repo.DeleteLibrary(ctx, id); err != nil {
		return &h5p.LibraryError{Library: ref.String(), Op: "delete", Err: err}
	}
	e.ids.Invalidate(ref)
	if err := e.files.DeleteLibrary(ctx, ref); err != nil {
		return &h5p.LibraryError{Library: ref.String(), Op: "delete", Err: err}
	}
	return nil
}

// Export operations

// ExportContent makes sure the export archive of content exists and returns
// its name.
func (e *engine) ExportContent(ctx context.Context, contentID int64) (string, error) {
	if !e.exportEnabled {
		return "", h5p.ErrExportDisabled
	}

	content, err := e.LoadContent(ctx, contentID)
	if err != nil {
		return "", err
	}
	if _, err := e.FilterParameters(ctx, content); err != nil {
		return "", err
	}

	name := h5p.ExportName(content)
	ok, err := e.exports.HasExport(ctx, name)
	if err != nil {
		return "", &h5p.ContentError{ContentID: contentID, Op: "export", Err: err}
	}
	if ok {
		return name, nil
	}

	deps, err := e.repo.LoadContentDependencies(ctx, contentID, "")
	if err != nil {
		return "", &h5p.ContentError{ContentID: contentID, Op: "export", Err: err}
	}
	return e.builder.Build(ctx, content, deps)
}

// OpenExport returns the export archive of content and its file name.
func (e *engine) OpenExport(ctx context.Context, contentID int64) (io.ReadCloser, string, error) {
	name, err := e.ExportContent(ctx, contentID)
	if err != nil {
		return nil, "", err
	}
	rc, err := e.exports.OpenExport(ctx, name)
	if err != nil {
		return nil, "", &h5p.ContentError{ContentID: contentID, Op: "open_export", Err: err}
	}
	return rc, name, nil
}
