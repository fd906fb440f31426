package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/unclebandit/newsletter-service/internal/controller"
	"github.com/unclebandit/newsletter-service/internal/middleware"
)

// Routes is everything the router dispatches to.
type Routes struct {
	Health        *HealthHandler
	Issues        *IssueHandler
	Newsletters   *controller.NewsletterController
	Auth          *controller.AuthController
	Admin         *controller.AdminController
	Subscriptions *controller.SubscriptionController

	Sessions    *middleware.SessionManager
	CSRF        func(http.Handler) http.Handler
	LoginLimits *middleware.RateLimiter
	Log         zerolog.Logger
}

func NewRouter(rt Routes) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(rt.Log))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)

	r.Get("/health_check", rt.Health.HealthCheck)

	r.Route("/admin/api/issues", func(r chi.Router) {
		r.Use(rt.Sessions.RequireAuth)
		r.Get("/", rt.Issues.ListIssuesHandler)
		r.Get("/{id}", rt.Issues.GetIssueHandler)
	})

	r.Post("/subscriptions", rt.Subscriptions.Subscribe)
	r.Get("/subscriptions/confirm", rt.Subscriptions.Confirm)

	r.Group(func(r chi.Router) {
		if rt.CSRF != nil {
			r.Use(rt.CSRF)
		}

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, middleware.LoginPath, http.StatusSeeOther)
		})
		r.Get("/login", rt.Auth.LoginForm)
		r.With(middleware.RateLimit(rt.LoginLimits)).Post("/login", rt.Auth.Login)

		r.Route("/admin", func(r chi.Router) {
			r.Use(rt.Sessions.RequireAuth)
			r.Get("/dashboard", rt.Admin.Dashboard)
			r.Get("/password", rt.Admin.PasswordForm)
			r.Post("/password", rt.Admin.ChangePassword)
			r.Post("/logout", rt.Auth.Logout)
			r.Get("/newsletters", rt.Newsletters.PublishForm)
			r.Post("/newsletters", rt.Newsletters.Publish)
		})
	})

	return r
}
