package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/diffview/internal/review"
	"github.com/opencode-ai/diffview/internal/storage"
	"github.com/opencode-ai/diffview/pkg/types"
)

// UpdateRequest streams content into a review.
type UpdateRequest struct {
	Content string `json:"content"`
	Final   bool   `json:"final"`
}

// EditRequest applies search/replace blocks to a review's original content.
type EditRequest struct {
	Replacements []review.Replacement `json:"replacements"`
}

// SurfaceRequest replaces the surface text as a human edit.
type SurfaceRequest struct {
	Text string `json:"text"`
}

// SurfaceResponse is the live state of a review surface.
type SurfaceResponse struct {
	ID       string `json:"id"`
	Path     string `json:"path"`
	Text     string `json:"text"`
	Dirty    bool   `json:"dirty"`
	Lines    int    `json:"lines"`
	Original string `json:"original,omitempty"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reviews.List())
}

func (s *Server) openReview(w http.ResponseWriter, r *http.Request) {
	var req review.OpenRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "path is required")
		return
	}
	info, err := s.reviews.Open(r.Context(), req)
	if err != nil {
		writeReviewError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) getReview(w http.ResponseWriter, r *http.Request) {
	info, err := s.reviews.Get(r.Context(), chi.URLParam(r, "reviewID"))
	if err != nil {
		writeReviewError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) updateReview(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if !decode(w, r, &req) {
		return
	}
	info, err := s.reviews.Update(r.Context(), chi.URLParam(r, "reviewID"), req.Content, req.Final)
	if err != nil {
		writeReviewError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) editReview(w http.ResponseWriter, r *http.Request) {
	var req EditRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Replacements) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "replacements are required")
		return
	}
	res, err := s.reviews.Edit(r.Context(), chi.URLParam(r, "reviewID"), req.Replacements)
	if err != nil {
		writeReviewError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) approveReview(w http.ResponseWriter, r *http.Request) {
	res, err := s.reviews.Approve(r.Context(), chi.URLParam(r, "reviewID"))
	if err != nil {
		writeReviewError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) rejectReview(w http.ResponseWriter, r *http.Request) {
	info, err := s.reviews.Reject(r.Context(), chi.URLParam(r, "reviewID"))
	if err != nil {
		writeReviewError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) getSurface(w http.ResponseWriter, r *http.Request) {
	surf, err := s.reviews.Surface(chi.URLParam(r, "reviewID"))
	if err != nil {
		writeReviewError(w, err)
		return
	}
	resp := SurfaceResponse{
		ID:    surf.ID(),
		Path:  surf.Path(),
		Text:  surf.Text(),
		Dirty: surf.IsDirty(),
		Lines: surf.LineCount(),
	}
	if o, ok := surf.(interface{ Original() string }); ok {
		resp.Original = o.Original()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) editor(w http.ResponseWriter) (surfaceEditor, bool) {
	ed, ok := s.host.(surfaceEditor)
	if !ok {
		writeError(w, http.StatusNotImplemented, ErrCodeNotSupported, "host does not accept surface edits")
	}
	return ed, ok
}

func (s *Server) editSurface(w http.ResponseWriter, r *http.Request) {
	ed, ok := s.editor(w)
	if !ok {
		return
	}
	var req SurfaceRequest
	if !decode(w, r, &req) {
		return
	}
	surf, err := s.reviews.Surface(chi.URLParam(r, "reviewID"))
	if err != nil {
		writeReviewError(w, err)
		return
	}
	if err := ed.EditSurface(surf.ID(), req.Text); err != nil {
		writeReviewError(w, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) closeSurface(w http.ResponseWriter, r *http.Request) {
	ed, ok := s.editor(w)
	if !ok {
		return
	}
	surf, err := s.reviews.Surface(chi.URLParam(r, "reviewID"))
	if err != nil {
		writeReviewError(w, err)
		return
	}
	if err := ed.CloseExternally(surf.ID()); err != nil {
		writeReviewError(w, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.HistoryFilter{
		Path:   q.Get("path"),
		Status: types.ReviewStatus(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	records, err := s.reviews.History(r.Context(), filter)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			records = nil
		} else {
			writeReviewError(w, err)
			return
		}
	}
	if records == nil {
		records = []types.ReviewRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}
