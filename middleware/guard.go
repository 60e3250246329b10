package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	goSession "github.com/MrEthical07/goSession"
)

type sessionContextKey struct{}
type principalContextKey struct{}

// SessionFromContext returns the session resolved by Session.
func SessionFromContext(ctx context.Context) (goSession.SessionDescriptor, bool) {
	desc, ok := ctx.Value(sessionContextKey{}).(goSession.SessionDescriptor)
	return desc, ok
}

// PrincipalFromContext returns the principal owning the resolved session.
// Anonymous sessions carry no principal.
func PrincipalFromContext(ctx context.Context) (*goSession.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*goSession.Principal)
	return p, ok && p != nil
}

// Options tunes how requests are read.
type Options struct {
	// TrustProxyHeaders takes the client address from X-Forwarded-For.
	// Enable only behind a proxy that overwrites the header.
	TrustProxyHeaders bool
}

// Session resolves the session cookie. Requests without a usable cookie
// pass through unauthenticated; a stale cookie is cleared.
func Session(engine *goSession.Engine, opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}

			ctx := goSession.WithClientIP(r.Context(), clientIP(r, opts.TrustProxyHeaders))
			ctx = goSession.WithUserAgent(ctx, r.UserAgent())

			cookie, err := r.Cookie(engine.Config().Session.CookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			desc, err := engine.ResolveSession(ctx, cookie.Value)
			switch {
			case errors.Is(err, goSession.ErrSessionStoreUnavailable):
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			case err != nil:
				ClearSessionCookie(w, engine)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			ctx = goSession.WithPreAuthSession(ctx, desc.ID)
			ctx = context.WithValue(ctx, sessionContextKey{}, desc)
			if desc.PrincipalID != "" {
				p, err := engine.Me(ctx, desc.PrincipalID)
				if err != nil && !errors.Is(err, goSession.ErrUserNotFound) {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				if p != nil {
					ctx = context.WithValue(ctx, principalContextKey{}, p)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession rejects requests without an authenticated, enabled principal.
func RequireSession(engine *goSession.Engine, opts Options) func(http.Handler) http.Handler {
	resolve := Session(engine, opts)
	return func(next http.Handler) http.Handler {
		return resolve(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok || !p.Enabled || p.Locked {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
