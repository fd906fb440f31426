package controller_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/newsletter-service/internal/controller"
	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
	"github.com/unclebandit/newsletter-service/internal/middleware"
	"github.com/unclebandit/newsletter-service/internal/model"
	"github.com/unclebandit/newsletter-service/internal/service"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

// --- Mock services ---

type MockPublisher struct {
	mu    sync.Mutex
	calls []service.PublishNewsletter
	err   error
}

func (m *MockPublisher) Publish(_ context.Context, cmd service.PublishNewsletter) (*model.SavedResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, cmd)
	if m.err != nil {
		return nil, m.err
	}
	return model.SeeOther(service.NewsletterFormPath), nil
}

func (m *MockPublisher) RecentIssues(context.Context, int) ([]model.IssueSummary, error) {
	return []model.IssueSummary{{NewsletterIssue: model.NewsletterIssue{Title: "Issue #1"}, PendingDeliveries: 3}}, nil
}

type MockAuth struct {
	userID  uuid.UUID
	changed bool
}

func (m *MockAuth) ValidateCredentials(_ context.Context, username, password string) (uuid.UUID, error) {
	if username == "admin" && password == "correct horse battery" {
		return m.userID, nil
	}
	return uuid.Nil, appErrors.ErrInvalidCredentials
}

func (m *MockAuth) Username(context.Context, uuid.UUID) (string, error) { return "admin", nil }

func (m *MockAuth) ChangePassword(_ context.Context, _ uuid.UUID, current, next, check string) error {
	if next != check {
		return appErrors.NewValidation("new_password", "you entered two different new passwords - the field values must match")
	}
	if current != "correct horse battery" {
		return appErrors.ErrInvalidCredentials
	}
	m.changed = true
	return nil
}

type MockSubscriptions struct {
	subscribed []string
	err        error
}

func (m *MockSubscriptions) Subscribe(_ context.Context, name, email string) error {
	if m.err != nil {
		return m.err
	}
	m.subscribed = append(m.subscribed, email)
	return nil
}

func (m *MockSubscriptions) Confirm(_ context.Context, token string) error {
	if token == "known" {
		return nil
	}
	return appErrors.ErrUnknownSubscriptionToken
}

func (m *MockSubscriptions) Stats(context.Context) (map[string]int, error) {
	return map[string]int{"confirmed": 2, "pending_confirmation": 1}, nil
}

// --- Helpers ---

func withUser(r *http.Request, id uuid.UUID) *http.Request {
	return r.WithContext(middleware.WithUserID(r.Context(), id))
}

func formRequest(target string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func flashesFrom(t *testing.T, flash *middleware.Flash, rec *httptest.ResponseRecorder) []middleware.FlashMessage {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return flash.Pop(httptest.NewRecorder(), req)
}

// --- Tests ---

func TestPublishFormCarriesIdempotencyKey(t *testing.T) {
	ctrl := &controller.NewsletterController{Publisher: &MockPublisher{}, Flash: middleware.NewFlash(testKey, false), Log: zerolog.Nop()}

	rec := httptest.NewRecorder()
	ctrl.PublishForm(rec, httptest.NewRequest(http.MethodGet, "/admin/newsletters", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `name="idempotency_key"`)
	assert.Contains(t, rec.Body.String(), `name="title"`)
}

func TestPublishFormRedirectsWithFlash(t *testing.T) {
	pub := &MockPublisher{}
	flash := middleware.NewFlash(testKey, false)
	ctrl := &controller.NewsletterController{Publisher: pub, Flash: flash, Log: zerolog.Nop()}
	owner := uuid.New()

	req := withUser(formRequest("/admin/newsletters", url.Values{
		"title":           {"Issue #1"},
		"text_content":    {"hello"},
		"html_content":    {"<p>hello</p>"},
		"idempotency_key": {"abc"},
	}), owner)
	rec := httptest.NewRecorder()
	ctrl.Publish(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/newsletters", rec.Header().Get("Location"))
	require.Len(t, pub.calls, 1)
	assert.Equal(t, owner, pub.calls[0].OwnerID)
	assert.Equal(t, model.IdempotencyKey("abc"), pub.calls[0].IdempotencyKey)
	assert.Equal(t, "Issue #1", pub.calls[0].Draft.Title)

	msgs := flashesFrom(t, flash, rec)
	require.Len(t, msgs, 1)
	assert.Equal(t, controller.PublishedMessage, msgs[0].Text)
}

func TestPublishAcceptsJSON(t *testing.T) {
	pub := &MockPublisher{}
	ctrl := &controller.NewsletterController{Publisher: pub, Flash: middleware.NewFlash(testKey, false), Log: zerolog.Nop()}

	body := `{"title":"T","text_content":"txt","html_content":"<p>h</p>","idempotency_key":"k-1"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/newsletters", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ctrl.Publish(rec, withUser(req, uuid.New()))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	require.Len(t, pub.calls, 1)
	assert.Equal(t, "txt", pub.calls[0].Draft.TextContent)
}

func TestPublishErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		key  string
		err  error
		want int
	}{
		{"missing key", "", nil, http.StatusBadRequest},
		{"validation", "k", appErrors.NewValidation("title", "must not be empty"), http.StatusBadRequest},
		{"database down", "k", appErrors.NewTransaction("insert newsletter issue", errors.New("boom")), http.StatusInternalServerError},
		{"wait timeout", "k", appErrors.ErrIdempotencyWaitTimeout, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &controller.NewsletterController{
				Publisher: &MockPublisher{err: tt.err},
				Flash:     middleware.NewFlash(testKey, false),
				Log:       zerolog.Nop(),
			}
			req := withUser(formRequest("/admin/newsletters", url.Values{
				"title": {"x"}, "text_content": {"y"}, "idempotency_key": {tt.key},
			}), uuid.New())
			rec := httptest.NewRecorder()
			ctrl.Publish(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			assert.NotContains(t, rec.Body.String(), "boom")
		})
	}
}

func TestLogin(t *testing.T) {
	auth := &MockAuth{userID: uuid.New()}
	sessions := middleware.NewSessionManager(testKey, false)
	flash := middleware.NewFlash(testKey, false)
	ctrl := &controller.AuthController{Auth: auth, Sessions: sessions, Flash: flash, Log: zerolog.Nop()}

	rec := httptest.NewRecorder()
	ctrl.Login(rec, formRequest("/login", url.Values{"username": {"admin"}, "password": {"nope"}}))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
	msgs := flashesFrom(t, flash, rec)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Authentication failed", msgs[0].Text)

	rec = httptest.NewRecorder()
	ctrl.Login(rec, formRequest("/login", url.Values{"username": {"admin"}, "password": {"correct horse battery"}}))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, controller.DashboardPath, rec.Header().Get("Location"))

	req := httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	id, ok := sessions.UserID(req)
	require.True(t, ok)
	assert.Equal(t, auth.userID, id)
}

func TestLogoutClearsSession(t *testing.T) {
	flash := middleware.NewFlash(testKey, false)
	ctrl := &controller.AuthController{Sessions: middleware.NewSessionManager(testKey, false), Flash: flash, Log: zerolog.Nop()}

	rec := httptest.NewRecorder()
	ctrl.Logout(rec, httptest.NewRequest(http.MethodPost, "/admin/logout", nil))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
	msgs := flashesFrom(t, flash, rec)
	require.Len(t, msgs, 1)
	assert.Equal(t, "You have successfully logged out.", msgs[0].Text)
}

func TestDashboard(t *testing.T) {
	ctrl := &controller.AdminController{
		Auth:          &MockAuth{},
		Publisher:     &MockPublisher{},
		Subscriptions: &MockSubscriptions{},
		Flash:         middleware.NewFlash(testKey, false),
		Log:           zerolog.Nop(),
	}
	rec := httptest.NewRecorder()
	ctrl.Dashboard(rec, withUser(httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil), uuid.New()))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Welcome admin!")
	assert.Contains(t, rec.Body.String(), "Issue #1")
	assert.Contains(t, rec.Body.String(), "2 confirmed")
}

func TestChangePassword(t *testing.T) {
	auth := &MockAuth{}
	flash := middleware.NewFlash(testKey, false)
	ctrl := &controller.AdminController{Auth: auth, Flash: flash, Log: zerolog.Nop()}

	rec := httptest.NewRecorder()
	ctrl.ChangePassword(rec, withUser(formRequest("/admin/password", url.Values{
		"current_password": {"correct horse battery"}, "new_password": {"aaaaaaaaaaaaa"}, "new_password_check": {"bbbbbbbbbbbbb"},
	}), uuid.New()))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	msgs := flashesFrom(t, flash, rec)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "two different new passwords")
	assert.False(t, auth.changed)

	rec = httptest.NewRecorder()
	ctrl.ChangePassword(rec, withUser(formRequest("/admin/password", url.Values{
		"current_password": {"correct horse battery"}, "new_password": {"aaaaaaaaaaaaa"}, "new_password_check": {"aaaaaaaaaaaaa"},
	}), uuid.New()))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.True(t, auth.changed)
}

func TestSubscriptionEndpoints(t *testing.T) {
	subs := &MockSubscriptions{}
	ctrl := &controller.SubscriptionController{Subscriptions: subs, Log: zerolog.Nop()}

	rec := httptest.NewRecorder()
	ctrl.Subscribe(rec, formRequest("/subscriptions", url.Values{"name": {"le guin"}, "email": {"ursula@example.com"}}))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ursula@example.com"}, subs.subscribed)

	subs.err = appErrors.NewValidation("email", "is not valid")
	rec = httptest.NewRecorder()
	ctrl.Subscribe(rec, formRequest("/subscriptions", url.Values{"name": {"le guin"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	tests := []struct {
		query string
		want  int
	}{
		{"", http.StatusBadRequest},
		{"?subscription_token=unknown", http.StatusUnauthorized},
		{"?subscription_token=known", http.StatusOK},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		ctrl.Confirm(rec, httptest.NewRequest(http.MethodGet, "/subscriptions/confirm"+tt.query, nil))
		assert.Equal(t, tt.want, rec.Code, tt.query)
	}
}
