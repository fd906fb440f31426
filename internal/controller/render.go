package controller

import (
	"embed"
	"errors"
	"html/template"
	"net/http"

	"github.com/gorilla/csrf"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
	"github.com/unclebandit/newsletter-service/internal/middleware"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = map[string]*template.Template{
	"login":           mustPage("login.html"),
	"dashboard":       mustPage("dashboard.html"),
	"password":        mustPage("password.html"),
	"newsletter_form": mustPage("newsletter_form.html"),
}

func mustPage(name string) *template.Template {
	return template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/"+name))
}

type pageData struct {
	Flashes   []middleware.FlashMessage
	CSRFField template.HTML
}

func newPageData(w http.ResponseWriter, r *http.Request, flash *middleware.Flash) pageData {
	return pageData{
		Flashes:   flash.Pop(w, r),
		CSRFField: csrf.TemplateField(r),
	}
}

func render(w http.ResponseWriter, log zerolog.Logger, page string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pages[page].ExecuteTemplate(w, page+".html", data); err != nil {
		log.Error().Err(err).Str("page", page).Msg("render failed")
	}
}

// writeError maps service errors onto HTTP statuses. Causes of server
// errors are logged, never returned to the client.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	switch {
	case appErrors.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, appErrors.ErrUnknownSubscriptionToken), errors.Is(err, appErrors.ErrInvalidCredentials):
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	default:
		log.Error().Err(err).Msg("request failed")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
