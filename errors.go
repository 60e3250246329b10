package goSession

import "errors"

var (
	// ErrEngineNotReady is returned when a required collaborator was not configured.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrSessionLimitExceeded is returned when prevent-login refuses a new session.
	ErrSessionLimitExceeded = errors.New("session limit exceeded")
	// ErrSessionNotFound is returned when a session id is unknown.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned for sessions that are expired or inactive.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionStoreUnavailable wraps session backend failures.
	ErrSessionStoreUnavailable = errors.New("session store unavailable")
	// ErrTokenStoreUnavailable wraps token backend failures.
	ErrTokenStoreUnavailable = errors.New("token store unavailable")
	// ErrPermissionDenied is returned when a requester lacks the admin role.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidCredentials is returned for a bad email or password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountDisabled is returned when the principal is disabled.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrAccountLocked is returned when the principal is locked.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountUnverified is returned when verified email is required but missing.
	ErrAccountUnverified = errors.New("account unverified")
	// ErrAccountExists is returned when an email or username is already taken.
	ErrAccountExists = errors.New("account already exists")
	// ErrUserNotFound is returned when a principal id does not resolve.
	ErrUserNotFound = errors.New("user not found")
	// ErrProviderMismatch is returned when an email is bound to another provider.
	ErrProviderMismatch = errors.New("account registered with another provider")
	// ErrPasswordPolicy is returned for passwords below the configured policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when a new password equals the current one.
	ErrPasswordReuse = errors.New("new password matches current password")
	// ErrInvalidTokenType is returned for unknown token types on issue.
	ErrInvalidTokenType = errors.New("invalid token type")
	// ErrInvalidRequest is returned for malformed issue or register input.
	ErrInvalidRequest = errors.New("invalid request")
)
