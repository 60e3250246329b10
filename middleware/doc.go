// Package middleware adapts goSession.Engine to net/http.
//
// [Session] resolves the session cookie on every request and stores the
// descriptor and principal in the request context. It never rejects a
// request on its own. [RequireSession] and [RequireAdmin] are the guards
// that do.
//
// Handlers read the results with [SessionFromContext] and
// [PrincipalFromContext]. Cookie writes go through [SetSessionCookie] and
// [ClearSessionCookie] so every handler uses the engine's cookie settings.
package middleware
