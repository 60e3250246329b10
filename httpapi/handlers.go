package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/middleware"
	"github.com/MrEthical07/goSession/oauth"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 64 << 10

// Handlers serves the account, session and admin routes.
type Handlers struct {
	engine *goSession.Engine
	oauth  *oauth.Client
	log    logrus.FieldLogger
	opts   middleware.Options
	// redirect target after a completed OAuth login
	oauthSuccessURL string
}

type Options struct {
	Middleware middleware.Options
	// OAuth is optional; without it the /api/oauth2 routes answer 404.
	OAuth           *oauth.Client
	OAuthSuccessURL string
	Logger          logrus.FieldLogger
}

func NewHandlers(engine *goSession.Engine, opts Options) *Handlers {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handlers{
		engine:          engine,
		oauth:           opts.OAuth,
		log:             log.WithField("component", "httpapi"),
		opts:            opts.Middleware,
		oauthSuccessURL: opts.OAuthSuccessURL,
	}
}

// RegisterRoutes mounts every route under /api on router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	session := middleware.Session(h.engine, h.opts)
	authed := middleware.RequireSession(h.engine, h.opts)
	admin := middleware.RequireAdmin(h.engine, h.opts)

	auth := router.PathPrefix("/api/auth").Subrouter()
	auth.Handle("/register", session(http.HandlerFunc(h.register))).Methods(http.MethodPost)
	auth.Handle("/login", session(http.HandlerFunc(h.login))).Methods(http.MethodPost)
	auth.Handle("/logout", session(http.HandlerFunc(h.logout))).Methods(http.MethodPost)
	auth.Handle("/me", authed(http.HandlerFunc(h.me))).Methods(http.MethodGet)
	auth.Handle("/session/info", session(http.HandlerFunc(h.sessionInfo))).Methods(http.MethodGet)
	auth.Handle("/sessions/active", authed(http.HandlerFunc(h.activeSessions))).Methods(http.MethodGet)
	auth.Handle("/sessions/{id}/invalidate", authed(http.HandlerFunc(h.invalidateOwnSession))).Methods(http.MethodPost)
	auth.HandleFunc("/verify-email", h.verifyEmail).Methods(http.MethodGet, http.MethodPost)
	auth.Handle("/resend-verification", authed(http.HandlerFunc(h.resendVerification))).Methods(http.MethodPost)
	auth.HandleFunc("/forgot-password", h.forgotPassword).Methods(http.MethodPost)
	auth.HandleFunc("/reset-password", h.resetPassword).Methods(http.MethodPost)
	auth.Handle("/change-password", authed(http.HandlerFunc(h.changePassword))).Methods(http.MethodPost)
	auth.Handle("/change-email", authed(http.HandlerFunc(h.changeEmail))).Methods(http.MethodPost)
	auth.HandleFunc("/verify-email-change", h.verifyEmailChange).Methods(http.MethodGet, http.MethodPost)
	auth.HandleFunc("/oauth2/providers", h.oauthProviders).Methods(http.MethodGet)

	oauthRoutes := router.PathPrefix("/api/oauth2").Subrouter()
	oauthRoutes.HandleFunc("/authorize/{provider}", h.oauthAuthorize).Methods(http.MethodGet)
	oauthRoutes.Handle("/callback/{provider}", session(http.HandlerFunc(h.oauthCallback))).Methods(http.MethodGet)

	adm := router.PathPrefix("/api/admin").Subrouter()
	adm.Handle("/sessions", admin(http.HandlerFunc(h.allSessions))).Methods(http.MethodGet)
	adm.Handle("/sessions/{id}/invalidate", admin(http.HandlerFunc(h.adminInvalidateSession))).Methods(http.MethodPost)
	adm.Handle("/users/{id}/disable", admin(http.HandlerFunc(h.disableUser))).Methods(http.MethodPut, http.MethodPost)
	adm.Handle("/users/{id}/enable", admin(http.HandlerFunc(h.enableUser))).Methods(http.MethodPut, http.MethodPost)
	adm.Handle("/users/{id}/lock", admin(http.HandlerFunc(h.lockUser))).Methods(http.MethodPut, http.MethodPost)
	adm.Handle("/users/{id}/unlock", admin(http.HandlerFunc(h.unlockUser))).Methods(http.MethodPut, http.MethodPost)
}

type userResponse struct {
	ID            string     `json:"id"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	FirstName     string     `json:"firstName,omitempty"`
	LastName      string     `json:"lastName,omitempty"`
	AvatarURL     string     `json:"avatarUrl,omitempty"`
	Provider      string     `json:"provider"`
	Enabled       bool       `json:"enabled"`
	Locked        bool       `json:"locked"`
	EmailVerified bool       `json:"emailVerified"`
	Roles         []string   `json:"roles"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastLoginAt   *time.Time `json:"lastLogin,omitempty"`
}

func newUserResponse(p *goSession.Principal) userResponse {
	roles := make([]string, 0, len(p.Roles))
	for _, r := range p.Roles {
		roles = append(roles, string(r))
	}
	return userResponse{
		ID:            p.ID,
		Username:      p.Username,
		Email:         p.Email,
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		AvatarURL:     p.AvatarURL,
		Provider:      string(p.Provider),
		Enabled:       p.Enabled,
		Locked:        p.Locked,
		EmailVerified: p.EmailVerified,
		Roles:         roles,
		CreatedAt:     p.CreatedAt,
		LastLoginAt:   p.LastLoginAt,
	}
}

type body map[string]any

func writeJSON(w http.ResponseWriter, status int, payload body) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func fail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, body{"success": false, "message": message})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		fail(w, http.StatusBadRequest, "Malformed request body")
		return false
	}
	return true
}

// engineError maps infrastructure and account errors onto a response.
func (h *Handlers) engineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, goSession.ErrInvalidCredentials):
		fail(w, http.StatusUnauthorized, "Invalid username or password")
	case errors.Is(err, goSession.ErrAccountDisabled):
		fail(w, http.StatusForbidden, "Account is disabled")
	case errors.Is(err, goSession.ErrAccountLocked):
		fail(w, http.StatusForbidden, "Account is locked")
	case errors.Is(err, goSession.ErrAccountUnverified):
		fail(w, http.StatusForbidden, "Email address is not verified")
	case errors.Is(err, goSession.ErrProviderMismatch):
		fail(w, http.StatusConflict, "Account is registered with another sign-in method")
	case errors.Is(err, goSession.ErrSessionLimitExceeded):
		fail(w, http.StatusConflict, "Maximum number of sessions reached")
	case errors.Is(err, goSession.ErrPermissionDenied):
		fail(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, goSession.ErrUserNotFound):
		fail(w, http.StatusNotFound, "User not found")
	case errors.Is(err, goSession.ErrPasswordPolicy):
		fail(w, http.StatusBadRequest, "Password does not meet the password policy")
	case errors.Is(err, goSession.ErrPasswordReuse):
		fail(w, http.StatusBadRequest, "New password must differ from the current password")
	case errors.Is(err, goSession.ErrInvalidRequest):
		fail(w, http.StatusBadRequest, "Invalid request")
	case errors.Is(err, goSession.ErrSessionStoreUnavailable), errors.Is(err, goSession.ErrTokenStoreUnavailable):
		h.log.WithError(err).WithField("path", r.URL.Path).Error("backend unavailable")
		fail(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
	default:
		h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		fail(w, http.StatusInternalServerError, "Internal error")
	}
}

func principal(r *http.Request) *goSession.Principal {
	p, _ := middleware.PrincipalFromContext(r.Context())
	return p
}
