package controller

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
	"github.com/unclebandit/newsletter-service/internal/middleware"
)

const (
	DashboardPath = "/admin/dashboard"
	PasswordPath  = "/admin/password"
)

type AuthController struct {
	Auth     Authenticator
	Sessions *middleware.SessionManager
	Flash    *middleware.Flash
	Log      zerolog.Logger
}

func (c *AuthController) LoginForm(w http.ResponseWriter, r *http.Request) {
	render(w, c.Log, "login", newPageData(w, r, c.Flash))
}

func (c *AuthController) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	userID, err := c.Auth.ValidateCredentials(r.Context(), r.PostForm.Get("username"), r.PostForm.Get("password"))
	if err != nil {
		if !errors.Is(err, appErrors.ErrInvalidCredentials) {
			c.Log.Error().Err(err).Msg("credential check failed")
		}
		c.Flash.Error(w, r, "Authentication failed")
		http.Redirect(w, r, middleware.LoginPath, http.StatusSeeOther)
		return
	}

	if err := c.Sessions.Login(w, userID); err != nil {
		writeError(w, c.Log, err)
		return
	}
	http.Redirect(w, r, DashboardPath, http.StatusSeeOther)
}

func (c *AuthController) Logout(w http.ResponseWriter, r *http.Request) {
	c.Sessions.Logout(w)
	c.Flash.Info(w, r, "You have successfully logged out.")
	http.Redirect(w, r, middleware.LoginPath, http.StatusSeeOther)
}
