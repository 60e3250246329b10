package middleware

import (
	"net/http"

	goSession "github.com/MrEthical07/goSession"
)

// RequireAdmin allows only enabled, unlocked principals holding ROLE_ADMIN.
func RequireAdmin(engine *goSession.Engine, opts Options) func(http.Handler) http.Handler {
	authenticated := RequireSession(engine, opts)
	return func(next http.Handler) http.Handler {
		return authenticated(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := PrincipalFromContext(r.Context())
			if !p.IsAdmin() {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}
