// Package httpapi exposes the engine as a JSON REST API on a gorilla/mux
// router.
//
// Every response body is an object with a "success" flag and, for
// refusals, a "message". Authenticated routes rely on the session cookie
// resolved by package middleware.
package httpapi
