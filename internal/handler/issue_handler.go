// internal/handler/issue_handler.go
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
	"github.com/unclebandit/newsletter-service/internal/model"
	"github.com/unclebandit/newsletter-service/internal/service"
)

// IssueReader is the read side of the newsletter service.
type IssueReader interface {
	ListIssues(ctx context.Context, page, pageSize int) ([]model.IssueSummary, map[string]int, error)
	IssueDetails(ctx context.Context, id uuid.UUID) (*model.IssueSummary, error)
}

var _ IssueReader = (*service.NewsletterService)(nil)

// IssueHandler serves the JSON view of published issues and their
// remaining deliveries.
type IssueHandler struct {
	Service IssueReader
	Log     zerolog.Logger
}

// ListIssuesHandler returns a paginated list of issues
func (h *IssueHandler) ListIssuesHandler(w http.ResponseWriter, r *http.Request) {
	page := 1
	pageSize := service.DefaultPageSize

	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if ps, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && ps > 0 {
		pageSize = ps
	}

	issues, pagination, err := h.Service.ListIssues(r.Context(), page, pageSize)
	if err != nil {
		h.Log.Error().Err(err).Msg("❌ list issues")
		http.Error(w, "failed to fetch issues", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":       issues,
		"pagination": pagination,
	})
}

// GetIssueHandler returns one issue with its pending delivery count
func (h *IssueHandler) GetIssueHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid issue id", http.StatusBadRequest)
		return
	}

	details, err := h.Service.IssueDetails(r.Context(), id)
	if errors.Is(err, appErrors.ErrIssueNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		h.Log.Error().Err(err).Stringer("issue_id", id).Msg("❌ fetch issue")
		http.Error(w, "failed to fetch issue", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, details)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
