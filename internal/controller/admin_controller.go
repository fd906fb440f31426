package controller

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
	"github.com/unclebandit/newsletter-service/internal/middleware"
	"github.com/unclebandit/newsletter-service/internal/model"
)

type AdminController struct {
	Auth          Authenticator
	Publisher     NewsletterPublisher
	Subscriptions Subscriptions
	Flash         *middleware.Flash
	Log           zerolog.Logger
}

type dashboardPage struct {
	pageData
	Username string
	Stats    map[string]int
	Issues   []model.IssueSummary
}

func (c *AdminController) Dashboard(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFrom(r.Context())
	username, err := c.Auth.Username(r.Context(), userID)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	stats, err := c.Subscriptions.Stats(r.Context())
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	issues, err := c.Publisher.RecentIssues(r.Context(), 10)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	render(w, c.Log, "dashboard", dashboardPage{
		pageData: newPageData(w, r, c.Flash),
		Username: username,
		Stats:    stats,
		Issues:   issues,
	})
}

func (c *AdminController) PasswordForm(w http.ResponseWriter, r *http.Request) {
	render(w, c.Log, "password", newPageData(w, r, c.Flash))
}

func (c *AdminController) ChangePassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	userID, _ := middleware.UserIDFrom(r.Context())

	err := c.Auth.ChangePassword(r.Context(), userID,
		r.PostForm.Get("current_password"),
		r.PostForm.Get("new_password"),
		r.PostForm.Get("new_password_check"),
	)
	var validation *appErrors.ValidationError
	switch {
	case err == nil:
		c.Flash.Info(w, r, "Your password has been changed.")
	case errors.As(err, &validation):
		c.Flash.Error(w, r, validation.Reason)
	case errors.Is(err, appErrors.ErrInvalidCredentials):
		c.Flash.Error(w, r, "The current password is incorrect.")
	default:
		writeError(w, c.Log, err)
		return
	}
	http.Redirect(w, r, PasswordPath, http.StatusSeeOther)
}
