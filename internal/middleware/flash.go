package middleware

import (
	"net/http"

	"github.com/gorilla/securecookie"
)

const flashCookieName = "_flash"

const (
	FlashInfo  = "info"
	FlashError = "error"
)

type FlashMessage struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// Flash stores one-shot messages in a signed cookie that is cleared when
// read.
type Flash struct {
	codec  *securecookie.SecureCookie
	secure bool
}

func NewFlash(key []byte, secure bool) *Flash {
	codec := securecookie.New(key, nil)
	codec.SetSerializer(securecookie.JSONEncoder{})
	return &Flash{codec: codec, secure: secure}
}

func (f *Flash) Info(w http.ResponseWriter, r *http.Request, text string) {
	f.add(w, r, FlashMessage{Level: FlashInfo, Text: text})
}

func (f *Flash) Error(w http.ResponseWriter, r *http.Request, text string) {
	f.add(w, r, FlashMessage{Level: FlashError, Text: text})
}

func (f *Flash) add(w http.ResponseWriter, r *http.Request, msg FlashMessage) {
	msgs := append(f.read(r), msg)
	encoded, err := f.codec.Encode(flashCookieName, msgs)
	if err != nil {
		return
	}
	f.write(w, encoded, 0)
}

// Pop returns pending messages and clears them.
func (f *Flash) Pop(w http.ResponseWriter, r *http.Request) []FlashMessage {
	msgs := f.read(r)
	if len(msgs) > 0 {
		f.write(w, "", -1)
	}
	return msgs
}

func (f *Flash) read(r *http.Request) []FlashMessage {
	c, err := r.Cookie(flashCookieName)
	if err != nil || c.Value == "" {
		return nil
	}
	var msgs []FlashMessage
	if err := f.codec.Decode(flashCookieName, c.Value, &msgs); err != nil {
		return nil
	}
	return msgs
}

func (f *Flash) write(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   f.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
