package controller

import (
	"net/http"

	"github.com/rs/zerolog"
)

type SubscriptionController struct {
	Subscriptions Subscriptions
	Log           zerolog.Logger
}

func (c *SubscriptionController) Subscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if err := c.Subscriptions.Subscribe(r.Context(), r.PostForm.Get("name"), r.PostForm.Get("email")); err != nil {
		writeError(w, c.Log, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (c *SubscriptionController) Confirm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("subscription_token")
	if token == "" {
		http.Error(w, "missing subscription_token", http.StatusBadRequest)
		return
	}
	if err := c.Subscriptions.Confirm(r.Context(), token); err != nil {
		writeError(w, c.Log, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
