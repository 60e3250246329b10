package middleware

import (
	"net/http"

	goSession "github.com/MrEthical07/goSession"
)

// SetSessionCookie hands id to the client. The cookie has no Expires
// attribute; the server-side inactivity timeout governs its lifetime.
func SetSessionCookie(w http.ResponseWriter, engine *goSession.Engine, id string) {
	cfg := engine.Config().Session
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func ClearSessionCookie(w http.ResponseWriter, engine *goSession.Engine) {
	cfg := engine.Config().Session
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
