package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/MrEthical07/goSession/internal"
	"github.com/MrEthical07/goSession/middleware"
	"github.com/MrEthical07/goSession/oauth"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const stateCookie = "oauth_state"

func (h *Handlers) oauthProviders(w http.ResponseWriter, r *http.Request) {
	providers := []string{}
	if h.oauth != nil {
		providers = h.oauth.Providers()
	}
	writeJSON(w, http.StatusOK, body{"success": true, "providers": providers})
}

// oauthAuthorize redirects to the provider consent page. The state value
// is echoed in a short-lived cookie and compared on callback.
func (h *Handlers) oauthAuthorize(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		http.NotFound(w, r)
		return
	}
	state, err := internal.NewStateValue(internal.CryptoSource{})
	if err != nil {
		h.engineError(w, r, err)
		return
	}
	target, err := h.oauth.AuthCodeURL(mux.Vars(r)["provider"], state)
	if errors.Is(err, oauth.ErrUnsupportedProvider) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.engineError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/api/oauth2",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.engine.Config().Session.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handlers) oauthCallback(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		http.NotFound(w, r)
		return
	}
	provider := mux.Vars(r)["provider"]

	cookie, err := r.Cookie(stateCookie)
	state := r.URL.Query().Get("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		fail(w, http.StatusBadRequest, "Invalid OAuth state")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/api/oauth2", MaxAge: -1})

	info, err := h.oauth.Authenticate(r.Context(), provider, r.URL.Query().Get("code"))
	if err != nil {
		h.log.WithError(err).WithField("provider", provider).Warn("oauth authentication failed")
		fail(w, http.StatusUnauthorized, "OAuth authentication failed")
		return
	}
	p, sid, err := h.engine.LoginWithOAuth(r.Context(), info)
	if err != nil {
		h.engineError(w, r, err)
		return
	}
	middleware.SetSessionCookie(w, h.engine, sid)
	h.log.WithFields(logrus.Fields{"provider": provider, "principal": p.ID}).Info("oauth login")

	if h.oauthSuccessURL != "" {
		http.Redirect(w, r, h.oauthSuccessURL, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, body{
		"success":   true,
		"message":   "Login successful",
		"sessionId": sid,
		"user":      newUserResponse(p),
	})
}
