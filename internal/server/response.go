package server

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"

	"github.com/opencode-ai/diffview/internal/diffview"
	"github.com/opencode-ai/diffview/internal/review"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodePermissionDenied   = "PERMISSION_DENIED"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeSurfaceUnavailable = "SURFACE_UNAVAILABLE"
	ErrCodeNoMatch            = "NO_MATCH"
	ErrCodeNotSupported       = "NOT_SUPPORTED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorWithDetails(w, status, code, message, nil)
}

// writeErrorWithDetails writes an error response with details.
func writeErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// writeSuccess writes a success response.
func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, true)
}

// writeReviewError maps review and session errors to HTTP statuses.
func writeReviewError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	var rerr *review.ReplaceError
	if errors.As(err, &rerr) {
		writeErrorWithDetails(w, status, code, err.Error(), map[string]any{"index": rerr.Index})
		return
	}
	writeError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, review.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, review.ErrPathDenied):
		return http.StatusForbidden, ErrCodePermissionDenied
	case errors.Is(err, diffview.ErrSurfaceUnavailable):
		return http.StatusGone, ErrCodeSurfaceUnavailable
	case errors.Is(err, review.ErrNoMatch),
		errors.Is(err, review.ErrAmbiguous),
		errors.Is(err, review.ErrNoChange):
		return http.StatusUnprocessableEntity, ErrCodeNoMatch
	case errors.Is(err, review.ErrPathBusy),
		errors.Is(err, diffview.ErrTargetExists),
		errors.Is(err, diffview.ErrAlreadyFinal),
		errors.Is(err, diffview.ErrNotFinal),
		errors.Is(err, diffview.ErrAlreadySaved),
		errors.Is(err, diffview.ErrStreamRegressed),
		errors.Is(err, diffview.ErrNotActive),
		errors.Is(err, diffview.ErrAlreadyActive):
		return http.StatusConflict, ErrCodeConflict
	}
	return http.StatusInternalServerError, ErrCodeInternalError
}
