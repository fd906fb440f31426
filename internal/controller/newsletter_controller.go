package controller

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/unclebandit/newsletter-service/internal/middleware"
	"github.com/unclebandit/newsletter-service/internal/model"
	"github.com/unclebandit/newsletter-service/internal/service"
)

const PublishedMessage = "The newsletter issue has been published!"

type NewsletterController struct {
	Publisher NewsletterPublisher
	Flash     *middleware.Flash
	Log       zerolog.Logger
}

type newsletterFormPage struct {
	pageData
	IdempotencyKey string
}

func (c *NewsletterController) PublishForm(w http.ResponseWriter, r *http.Request) {
	render(w, c.Log, "newsletter_form", newsletterFormPage{
		pageData:       newPageData(w, r, c.Flash),
		IdempotencyKey: uuid.NewString(),
	})
}

type publishBody struct {
	Title          string `json:"title"`
	TextContent    string `json:"text_content"`
	HTMLContent    string `json:"html_content"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Publish accepts the publish form or an equivalent JSON body.
func (c *NewsletterController) Publish(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		http.Redirect(w, r, middleware.LoginPath, http.StatusSeeOther)
		return
	}

	var body publishBody
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		body = publishBody{
			Title:          r.PostForm.Get("title"),
			TextContent:    r.PostForm.Get("text_content"),
			HTMLContent:    r.PostForm.Get("html_content"),
			IdempotencyKey: r.PostForm.Get("idempotency_key"),
		}
	}

	key, err := model.ParseIdempotencyKey(body.IdempotencyKey)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	resp, err := c.Publisher.Publish(r.Context(), service.PublishNewsletter{
		OwnerID:        owner,
		IdempotencyKey: key,
		Draft: model.NewsletterDraft{
			Title:       body.Title,
			TextContent: body.TextContent,
			HTMLContent: body.HTMLContent,
		},
	})
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	c.Flash.Info(w, r, PublishedMessage)
	resp.Write(w)
}
