package goSession

import (
	"context"
	"time"

	"github.com/MrEthical07/goSession/internal"
	"github.com/MrEthical07/goSession/token"
)

// TokenType tags a verification workflow.
type TokenType = token.Type

const (
	TokenEmailVerification = token.EmailVerification
	TokenPasswordReset     = token.PasswordReset
	TokenEmailChange       = token.EmailChange
)

// Role is a coarse authorization grant carried by a principal.
type Role string

const (
	RoleUser      Role = "ROLE_USER"
	RoleAdmin     Role = "ROLE_ADMIN"
	RoleModerator Role = "ROLE_MODERATOR"
	RoleManager   Role = "ROLE_MANAGER"
)

// AuthProvider records where a principal's identity originates.
type AuthProvider string

const (
	ProviderLocal  AuthProvider = "LOCAL"
	ProviderGoogle AuthProvider = "GOOGLE"
	ProviderGitHub AuthProvider = "GITHUB"
)

// Principal is the authenticated identity that sessions and tokens belong to.
type Principal struct {
	ID                      string
	Username                string
	Email                   string
	EmailVerified           bool
	EmailVerificationSentAt *time.Time
	PasswordHash            string
	Name                    string
	FirstName               string
	LastName                string
	AvatarURL               string
	Provider                AuthProvider
	ProviderID              string
	Roles                   []Role
	Enabled                 bool
	Locked                  bool
	CreatedAt               time.Time
	UpdatedAt               time.Time
	LastLoginAt             *time.Time
}

// HasRole reports whether p carries role r.
func (p *Principal) HasRole(r Role) bool {
	if p == nil {
		return false
	}
	for _, have := range p.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// IsAdmin reports an enabled, unlocked principal holding RoleAdmin.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Enabled && !p.Locked && p.HasRole(RoleAdmin)
}

// Clone returns a copy that shares no slices or pointers with p.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	out := *p
	out.Roles = append([]Role(nil), p.Roles...)
	if p.EmailVerificationSentAt != nil {
		at := *p.EmailVerificationSentAt
		out.EmailVerificationSentAt = &at
	}
	if p.LastLoginAt != nil {
		at := *p.LastLoginAt
		out.LastLoginAt = &at
	}
	return &out
}

// UserStore is the persistence collaborator for principals. Lookups return
// (nil, nil) when nothing matches; errors are reserved for backend failures.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*Principal, error)
	FindByID(ctx context.Context, id string) (*Principal, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	Save(ctx context.Context, p *Principal) error
}

// EmailSender delivers one rendered message.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// RandomSource supplies cryptographically secure bytes.
type RandomSource interface {
	SecureBytes(n int) ([]byte, error)
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// CryptoRandom reads crypto/rand.
type CryptoRandom = internal.CryptoSource

// SessionDescriptor is the listing view of one session.
type SessionDescriptor struct {
	ID            string    `json:"sessionId"`
	PrincipalID   string    `json:"principalId"`
	Username      string    `json:"username,omitempty"`
	Email         string    `json:"email,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	LastRequestAt time.Time `json:"lastRequest"`
	Expired       bool      `json:"expired"`
	ClientIP      string    `json:"clientIp,omitempty"`
	UserAgent     string    `json:"userAgent,omitempty"`
}

// IssueRequest asks for a new verification token.
//
// EMAIL_VERIFICATION uses PrincipalID, or Email when PrincipalID is empty.
// PASSWORD_RESET uses Email. EMAIL_CHANGE uses PrincipalID and the new Email.
type IssueRequest struct {
	Type        TokenType
	PrincipalID string
	Email       string
}

// ConsumeResult is the outcome of presenting a token. Refusals are carried
// here; the error return is reserved for infrastructure failures.
type ConsumeResult struct {
	Success   bool
	Message   string
	Principal *Principal
}

// User-facing token outcome messages.
const (
	MsgInvalidOrExpiredToken = "Invalid or expired token"
	MsgInvalidTokenType      = "Invalid token type"
	MsgEmailVerified         = "Email verified successfully"
	MsgTokenVerified         = "Token verified successfully"
	MsgEmailChanged          = "Email changed successfully"
	MsgEmailUnavailable      = "Email address is no longer available"
	MsgPasswordReset         = "Password reset successfully"
)
