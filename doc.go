// Package goSession is a server-side session and verification token engine.
//
// An [Engine] owns three things: a Redis session registry that caps concurrent
// sessions per principal, a single-use verification token engine for email
// verification, password reset and email change, and the local and OAuth
// account flows that sit on top of both. Engine methods are safe to call from
// multiple goroutines after [Builder.Build].
//
// # Architecture boundaries
//
// All shared state lives in the stores. Session creation, eviction and
// expiry are single Lua scripts in package session; token consumption is a
// conditional write in package token. The engine holds no locks of its own,
// so any number of instances can serve the same Redis and database.
//
// Email is rendered by package mailer and delivered on background workers.
// Issuance never waits for delivery, and a failed send never revokes a token.
//
// # Refusals and errors
//
// Policy outcomes are results: IssueToken returns false, ConsumeToken returns
// a ConsumeResult with a message, InvalidateSession returns false. Errors are
// reserved for backend failures and for the login and account checks callers
// must branch on (ErrSessionLimitExceeded, ErrInvalidCredentials and friends).
package goSession
