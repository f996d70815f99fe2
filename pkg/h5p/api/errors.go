package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/tendant/simple-h5p/pkg/h5p"
)

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, h5p.ErrContentNotFound),
		errors.Is(err, h5p.ErrLibraryNotFound),
		errors.Is(err, h5p.ErrExportNotFound):
		return http.StatusNotFound
	case errors.Is(err, h5p.ErrInvalidPackage),
		errors.Is(err, h5p.ErrContentValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, h5p.ErrLibraryInUse):
		return http.StatusConflict
	case errors.Is(err, h5p.ErrExportDisabled):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, diags []h5p.Diagnostic) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		h.logger.Debug("Request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: err.Error(), Diagnostics: diags})
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{Error: err.Error()})
}
