package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
)

type contextKey string

const userIDContextKey contextKey = "user_id"

const (
	sessionCookieName = "session"
	sessionMaxAge     = 12 * time.Hour
	LoginPath         = "/login"
)

type sessionValue struct {
	UserID   string `json:"user_id"`
	IssuedAt int64  `json:"issued_at"`
}

// SessionManager keeps the logged-in user id in a signed cookie.
type SessionManager struct {
	codec  *securecookie.SecureCookie
	secure bool
}

func NewSessionManager(key []byte, secure bool) *SessionManager {
	codec := securecookie.New(key, nil)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(sessionMaxAge.Seconds()))
	return &SessionManager{codec: codec, secure: secure}
}

// Login replaces any existing session with a fresh one for userID.
func (m *SessionManager) Login(w http.ResponseWriter, userID uuid.UUID) error {
	encoded, err := m.codec.Encode(sessionCookieName, sessionValue{
		UserID:   userID.String(),
		IssuedAt: time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    encoded,
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (m *SessionManager) Logout(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// UserID returns the user of a valid session cookie.
func (m *SessionManager) UserID(r *http.Request) (uuid.UUID, bool) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return uuid.Nil, false
	}
	var v sessionValue
	if err := m.codec.Decode(sessionCookieName, c.Value, &v); err != nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(v.UserID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// RequireAuth redirects anonymous requests to the login page and stores the
// session's user id in the request context.
func (m *SessionManager) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := m.UserID(r)
		if !ok {
			http.Redirect(w, r, LoginPath, http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
	})
}

func WithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDContextKey, id)
}

// UserIDFrom returns the user id placed in ctx by RequireAuth.
func UserIDFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDContextKey).(uuid.UUID)
	return id, ok
}
