// Package api exposes the package engine over HTTP.
package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"

	"github.com/tendant/simple-h5p/pkg/h5p"
	"github.com/tendant/simple-h5p/pkg/h5p/engine"
)

const defaultMaxUploadSize = 256 << 20

// Handler handles HTTP requests for packages, contents and libraries
type Handler struct {
	engine        engine.Engine
	auth          *jwtauth.JWTAuth
	maxUploadSize int64
	logger        *slog.Logger
}

// HandlerOption configures a Handler
type HandlerOption func(*Handler)

// WithJWTAuth requires a valid bearer token on every route
func WithJWTAuth(auth *jwtauth.JWTAuth) HandlerOption {
	return func(h *Handler) {
		h.auth = auth
	}
}

// WithMaxUploadSize limits the size of uploaded packages
func WithMaxUploadSize(n int64) HandlerOption {
	return func(h *Handler) {
		h.maxUploadSize = n
	}
}

func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler creates a new handler
func NewHandler(eng engine.Engine, opts ...HandlerOption) *Handler {
	h := &Handler{
		engine:        eng,
		maxUploadSize: defaultMaxUploadSize,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the routes for the H5P API
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	if h.auth != nil {
		r.Use(jwtauth.Verifier(h.auth))
		r.Use(jwtauth.Authenticator)
		r.Use(LibraryUpdateClaims)
	}

	r.Post("/packages", h.InstallPackage)
	r.Post("/packages/validate", h.ValidatePackage)

	r.Get("/contents/{id}", h.GetContent)
	r.Delete("/contents/{id}", h.DeleteContent)
	r.Post("/contents/{id}/copy", h.CopyContent)
	r.Get("/contents/{id}/export", h.ExportContent)

	r.Get("/libraries", h.ListLibraries)
	r.Delete("/libraries/{library}", h.DeleteLibrary)

	return r
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error       string           `json:"error"`
	Diagnostics []h5p.Diagnostic `json:"diagnostics,omitempty"`
}

// ValidateResponse reports the outcome of a dry-run validation
type ValidateResponse struct {
	Valid       bool             `json:"valid"`
	Libraries   []h5p.LibraryRef `json:"libraries"`
	MainLibrary string           `json:"mainLibrary,omitempty"`
	Diagnostics []h5p.Diagnostic `json:"diagnostics"`
}

// InstallPackage stores an uploaded archive and installs it. Form fields:
// file (required), content_id, skip_content, upgrade_only.
func (h *Handler) InstallPackage(w http.ResponseWriter, r *http.Request) {
	path, cleanup, ok := h.receivePackage(w, r)
	if !ok {
		return
	}
	defer cleanup()

	req := engine.InstallRequest{Path: path}
	var err error
	if req.ContentID, err = formInt(r, "content_id"); err != nil {
		h.badRequest(w, r, err)
		return
	}
	req.SkipContent = formBool(r, "skip_content")
	req.UpgradeOnly = formBool(r, "upgrade_only")

	res, err := h.engine.InstallPackage(r.Context(), req)
	if err != nil {
		var diags []h5p.Diagnostic
		if res != nil {
			diags = res.Diagnostics
		}
		h.writeError(w, r, err, diags)
		return
	}

	h.logger.Info("Package installed", "added", len(res.Added), "updated", len(res.Updated))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, res)
}

// ValidatePackage checks an uploaded archive without installing anything
func (h *Handler) ValidatePackage(w http.ResponseWriter, r *http.Request) {
	path, cleanup, ok := h.receivePackage(w, r)
	if !ok {
		return
	}
	defer cleanup()

	res, err := h.engine.ValidatePackage(r.Context(), engine.ValidateRequest{
		Path:        path,
		SkipContent: formBool(r, "skip_content"),
		UpgradeOnly: formBool(r, "upgrade_only"),
	})
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}

	resp := ValidateResponse{
		Valid:       res.Valid,
		Libraries:   []h5p.LibraryRef{},
		Diagnostics: res.Diagnostics.Items(),
	}
	for _, lib := range res.Libraries {
		resp.Libraries = append(resp.Libraries, lib.Ref())
	}
	if res.Main != nil {
		resp.MainLibrary = res.Main.MainLibrary
	}
	if resp.Diagnostics == nil {
		resp.Diagnostics = []h5p.Diagnostic{}
	}
	render.JSON(w, r, resp)
}

// GetContent returns a content with freshly filtered parameters
func (h *Handler) GetContent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.contentID(w, r)
	if !ok {
		return
	}

	content, err := h.engine.LoadContent(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	filtered, err := h.engine.FilterParameters(r.Context(), content)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	content.Filtered = filtered

	render.JSON(w, r, content)
}

// DeleteContent removes a content with its files, export and usage rows
func (h *Handler) DeleteContent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.contentID(w, r)
	if !ok {
		return
	}
	if err := h.engine.DeletePackage(r.Context(), id); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CopyContent clones a content into a new one
func (h *Handler) CopyContent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.contentID(w, r)
	if !ok {
		return
	}
	content, err := h.engine.CopyPackage(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, content)
}

// ExportContent streams the export archive, building it when missing
func (h *Handler) ExportContent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.contentID(w, r)
	if !ok {
		return
	}
	rc, name, err := h.engine.OpenExport(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Error("Failed to stream export", "content_id", id, "error", err)
	}
}

// ListLibraries returns installed libraries with their usage counts
func (h *Handler) ListLibraries(w http.ResponseWriter, r *http.Request) {
	libs, err := h.engine.ListLibraries(r.Context())
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	if libs == nil {
		libs = []*engine.LibrarySummary{}
	}
	render.JSON(w, r, libs)
}

// DeleteLibrary uninstalls a library given as "H5P.Name-1.2" or "H5P.Name 1.2"
func (h *Handler) DeleteLibrary(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "library")
	ref, ok := h5p.LibraryFromString(name)
	if !ok {
		h.badRequest(w, r, fmt.Errorf("invalid library %q", name))
		return
	}
	if err := h.engine.DeleteLibrary(r.Context(), ref); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// receivePackage copies the "file" form field to a temporary file keeping the
// uploaded extension, so the extension check sees what the client sent.
func (h *Handler) receivePackage(w http.ResponseWriter, r *http.Request) (string, func(), bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.badRequest(w, r, fmt.Errorf("invalid upload: %w", err))
		return "", nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.badRequest(w, r, errors.New("file is required"))
		return "", nil, false
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", "h5p-upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		h.writeError(w, r, err, nil)
		return "", nil, false
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}
	if _, err := io.Copy(tmp, file); err != nil {
		cleanup()
		h.writeError(w, r, fmt.Errorf("failed to store upload: %w", err), nil)
		return "", nil, false
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		h.writeError(w, r, err, nil)
		return "", nil, false
	}
	return tmp.Name(), cleanup, true
}

func (h *Handler) contentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		h.badRequest(w, r, fmt.Errorf("invalid content ID %q", idStr))
		return 0, false
	}
	return id, true
}

func formInt(r *http.Request, key string) (int64, error) {
	v := r.FormValue(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func formBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.FormValue(key))
	return b
}
