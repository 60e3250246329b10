// Package token models single-use verification tokens and the stores that
// persist them.
//
// A token is live while it is unused, unexpired and unconfirmed. The only
// mutation after creation is the used flag (plus confirmation time), and every
// store flips it with a conditional write so concurrent consumers resolve to
// exactly one winner.
package token

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Type tags the workflow a token belongs to.
type Type string

const (
	EmailVerification Type = "EMAIL_VERIFICATION"
	PasswordReset     Type = "PASSWORD_RESET"
	EmailChange       Type = "EMAIL_CHANGE"
)

// Types lists every known token type.
var Types = []Type{EmailVerification, PasswordReset, EmailChange}

func (t Type) Valid() bool {
	switch t {
	case EmailVerification, PasswordReset, EmailChange:
		return true
	}
	return false
}

func (t Type) String() string { return string(t) }

var (
	// ErrNotFound is returned when no token has the given value.
	ErrNotFound = errors.New("token not found")
	// ErrExpired is returned when the token exists but its expiry has passed.
	ErrExpired = errors.New("token expired")
	// ErrUsed is returned when the token was already consumed or invalidated.
	ErrUsed = errors.New("token already used")
	// ErrTypeMismatch is returned by Confirm when the stored type differs; the token is left untouched.
	ErrTypeMismatch = errors.New("token type mismatch")
	ErrDuplicate    = errors.New("token value already exists")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("token store unavailable")
)

// Token is a value copy of a persisted record.
type Token struct {
	Value       string
	Type        Type
	PrincipalID string
	Email       string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	ConfirmedAt *time.Time
	Used        bool
}

// IsExpired reports whether now is at or past the expiry instant.
func (t Token) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t Token) IsValid(now time.Time) bool {
	return !t.Used && !t.IsExpired(now) && t.ConfirmedAt == nil
}

// NormalizeEmail is the canonical form used for per-email indexes.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Store is the persistence contract shared by the Redis and Postgres backends.
type Store interface {
	Save(ctx context.Context, tok Token) error
	Find(ctx context.Context, value string) (Token, error)
	// Confirm consumes a live token of the expected type at now.
	Confirm(ctx context.Context, value string, expected Type, now time.Time) (Token, error)
	InvalidateLive(ctx context.Context, principalID string, typ Type, now time.Time) (int, error)
	CountCreatedSince(ctx context.Context, principalID string, typ Type, since time.Time) (int, error)
	CountCreatedForEmailSince(ctx context.Context, email string, typ Type, since time.Time) (int, error)
	ListByPrincipal(ctx context.Context, principalID string, typ Type) ([]Token, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	DeleteUsedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
