package goSession

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/goSession/oauth"
	"github.com/MrEthical07/goSession/token"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RegisterRequest carries a local sign-up.
type RegisterRequest struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Register creates a local account with ROLE_USER and, when configured,
// sends the verification email.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*Principal, error) {
	email := token.NormalizeEmail(req.Email)
	username := strings.TrimSpace(req.Username)
	if username == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidRequest
	}
	if err := e.hasher.CheckPolicy(req.Password); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}

	taken, err := e.users.ExistsByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if taken {
		e.metricInc(MetricAccountDuplicate)
		return nil, fmt.Errorf("%w: username is already taken", ErrAccountExists)
	}
	if taken, err = e.users.ExistsByEmail(ctx, email); err != nil {
		return nil, err
	}
	if taken {
		e.metricInc(MetricAccountDuplicate)
		return nil, fmt.Errorf("%w: email is already in use", ErrAccountExists)
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	now := e.now()
	p := &Principal{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Provider:     ProviderLocal,
		Roles:        []Role{RoleUser},
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	p.Name = strings.TrimSpace(p.FirstName + " " + p.LastName)
	if err := e.users.Save(ctx, p); err != nil {
		if errors.Is(err, ErrAccountExists) {
			e.metricInc(MetricAccountDuplicate)
		}
		return nil, err
	}

	e.metricInc(MetricAccountCreated)
	e.emitAudit(ctx, AuditEvent{EventType: AuditAccountCreated, PrincipalID: p.ID, Success: true})
	e.log.WithField("principal", p.ID).Info("account registered")

	if e.config.Account.SendVerificationOnRegister {
		if _, err := e.SendEmailVerification(ctx, p.ID); err != nil {
			e.log.WithError(err).WithField("principal", p.ID).Warn("registration: verification email not issued")
		}
	}
	return p, nil
}

// LoginWithPassword checks local credentials and opens a session.
func (e *Engine) LoginWithPassword(ctx context.Context, email, plain string) (*Principal, string, error) {
	p, err := e.users.FindByEmail(ctx, token.NormalizeEmail(email))
	if err != nil {
		return nil, "", err
	}
	if p == nil || p.PasswordHash == "" {
		return nil, "", e.loginFailed(ctx, "", ErrInvalidCredentials)
	}

	ok, err := e.hasher.Verify(plain, p.PasswordHash)
	if err != nil {
		e.log.WithError(err).WithField("principal", p.ID).Error("stored password hash unreadable")
		return nil, "", e.loginFailed(ctx, p.ID, ErrInvalidCredentials)
	}
	if !ok {
		return nil, "", e.loginFailed(ctx, p.ID, ErrInvalidCredentials)
	}
	if err := e.checkLoginAllowed(p); err != nil {
		return nil, "", e.loginFailed(ctx, p.ID, err)
	}

	if upgrade, _ := e.hasher.NeedsUpgrade(p.PasswordHash); upgrade {
		if hash, err := e.hasher.Hash(plain); err == nil {
			p.PasswordHash = hash
		}
	}
	return e.completeLogin(ctx, p)
}

// LoginWithOAuth signs in the account bound to info's email, creating a
// verified ROLE_USER account on first sight. An email registered through a
// different provider is refused with ErrProviderMismatch.
func (e *Engine) LoginWithOAuth(ctx context.Context, info oauth.UserInfo) (*Principal, string, error) {
	provider := AuthProvider(strings.ToUpper(info.Provider()))
	email := token.NormalizeEmail(info.Email())
	if email == "" {
		return nil, "", ErrInvalidRequest
	}

	p, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, "", err
	}

	now := e.now()
	if p != nil {
		if p.Provider != provider {
			e.log.WithFields(logrus.Fields{
				"principal":  p.ID,
				"registered": p.Provider,
				"attempted":  provider,
			}).Info("oauth login refused: provider mismatch")
			return nil, "", e.loginFailed(ctx, p.ID, ErrProviderMismatch)
		}
		p.Name = info.Name()
		p.FirstName = info.FirstName()
		p.LastName = info.LastName()
		p.AvatarURL = info.AvatarURL()
		p.UpdatedAt = now
	} else {
		username, err := e.uniqueUsername(ctx, email)
		if err != nil {
			return nil, "", err
		}
		p = &Principal{
			ID:            uuid.NewString(),
			Username:      username,
			Email:         email,
			EmailVerified: true,
			Name:          info.Name(),
			FirstName:     info.FirstName(),
			LastName:      info.LastName(),
			AvatarURL:     info.AvatarURL(),
			Provider:      provider,
			ProviderID:    info.ID(),
			Roles:         []Role{RoleUser},
			Enabled:       true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		e.metricInc(MetricAccountCreated)
		e.emitAudit(ctx, AuditEvent{
			EventType:   AuditAccountCreated,
			PrincipalID: p.ID,
			Success:     true,
			Metadata:    map[string]string{"provider": string(provider)},
		})
	}

	if err := e.checkLoginAllowed(p); err != nil {
		return nil, "", e.loginFailed(ctx, p.ID, err)
	}
	return e.completeLogin(ctx, p)
}

func (e *Engine) checkLoginAllowed(p *Principal) error {
	switch {
	case !p.Enabled:
		return ErrAccountDisabled
	case p.Locked:
		return ErrAccountLocked
	case e.config.Account.RequireVerifiedEmail && !p.EmailVerified:
		return ErrAccountUnverified
	}
	return nil
}

func (e *Engine) completeLogin(ctx context.Context, p *Principal) (*Principal, string, error) {
	sid, err := e.CreateSession(ctx, p.ID)
	if err != nil {
		if errors.Is(err, ErrSessionLimitExceeded) {
			return nil, "", e.loginFailed(ctx, p.ID, err)
		}
		return nil, "", err
	}

	now := e.now()
	p.LastLoginAt = &now
	if err := e.users.Save(ctx, p); err != nil {
		// The session is live but the account row is stale; undo the login.
		if lerr := e.Logout(ctx, sid); lerr != nil {
			e.log.WithError(lerr).WithField("principal", p.ID).Warn("login rollback failed: session left live")
		}
		return nil, "", err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, AuditEvent{
		EventType:   AuditLoginSuccess,
		PrincipalID: p.ID,
		SessionID:   sid,
		Success:     true,
	})
	return p, sid, nil
}

func (e *Engine) loginFailed(ctx context.Context, principalID string, err error) error {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, AuditEvent{
		EventType:   AuditLoginFailure,
		PrincipalID: principalID,
		Error:       err.Error(),
	})
	return err
}

func (e *Engine) uniqueUsername(ctx context.Context, email string) (string, error) {
	base, _, _ := strings.Cut(email, "@")
	if base == "" {
		base = "user"
	}
	candidate := base
	for i := 1; i <= 100; i++ {
		taken, err := e.users.ExistsByUsername(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s%d", base, i)
	}
	return base + "-" + uuid.NewString()[:8], nil
}

// DisableAccount turns off principalID and expires all of its sessions.
// requesterID must be an enabled administrator.
func (e *Engine) DisableAccount(ctx context.Context, requesterID, principalID string) error {
	err := e.changeAccount(ctx, requesterID, principalID, AuditAccountDisabled, true, func(p *Principal) {
		p.Enabled = false
	})
	if err == nil {
		e.metricInc(MetricAccountDisabled)
	}
	return err
}

// EnableAccount turns principalID back on. requesterID must be an enabled
// administrator.
func (e *Engine) EnableAccount(ctx context.Context, requesterID, principalID string) error {
	return e.changeAccount(ctx, requesterID, principalID, AuditAccountEnabled, false, func(p *Principal) {
		p.Enabled = true
	})
}

// LockAccount locks principalID and expires all of its sessions. A locked
// account keeps its data but cannot log in until unlocked.
func (e *Engine) LockAccount(ctx context.Context, requesterID, principalID string) error {
	err := e.changeAccount(ctx, requesterID, principalID, AuditAccountLocked, true, func(p *Principal) {
		p.Locked = true
	})
	if err == nil {
		e.metricInc(MetricAccountLocked)
	}
	return err
}

func (e *Engine) UnlockAccount(ctx context.Context, requesterID, principalID string) error {
	return e.changeAccount(ctx, requesterID, principalID, AuditAccountUnlocked, false, func(p *Principal) {
		p.Locked = false
	})
}

// changeAccount applies mutate to principalID on behalf of an administrator
// and stores it. With revoke set, every session of the principal is expired
// after the save.
func (e *Engine) changeAccount(ctx context.Context, requesterID, principalID, event string, revoke bool, mutate func(*Principal)) error {
	if _, err := e.requireAdmin(ctx, requesterID); err != nil {
		return err
	}
	p, err := e.users.FindByID(ctx, principalID)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrUserNotFound
	}

	mutate(p)
	p.UpdatedAt = e.now()
	if err := e.users.Save(ctx, p); err != nil {
		return err
	}
	if revoke {
		if _, err := e.InvalidateAllSessionsForPrincipal(ctx, principalID); err != nil {
			return err
		}
	}

	e.log.WithFields(logrus.Fields{
		"principal": principalID,
		"actor":     requesterID,
	}).Info(event)
	e.emitAudit(ctx, AuditEvent{
		EventType:   event,
		PrincipalID: principalID,
		ActorID:     requesterID,
		Success:     true,
	})
	return nil
}

// ChangePasswordRequest carries an authenticated password change.
type ChangePasswordRequest struct {
	PrincipalID     string
	CurrentPassword string
	NewPassword     string
	// SessionID is the caller's session. It survives the revocation of the
	// principal's other sessions.
	SessionID string
}

// ChangePassword replaces the password of a local account after checking
// the current one. A wrong current password returns ErrInvalidCredentials,
// an unchanged one ErrPasswordReuse.
func (e *Engine) ChangePassword(ctx context.Context, req ChangePasswordRequest) error {
	if req.PrincipalID == "" || req.CurrentPassword == "" || req.NewPassword == "" {
		return ErrInvalidRequest
	}
	p, err := e.users.FindByID(ctx, req.PrincipalID)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrUserNotFound
	}
	switch {
	case !p.Enabled:
		return ErrAccountDisabled
	case p.Locked:
		return ErrAccountLocked
	}
	log := e.log.WithField("principal", p.ID)

	// OAuth accounts have no local password to check against.
	if p.PasswordHash == "" {
		return e.passwordChangeFailed(ctx, p.ID, ErrInvalidCredentials)
	}
	ok, err := e.hasher.Verify(req.CurrentPassword, p.PasswordHash)
	if err != nil {
		log.WithError(err).Error("stored password hash unreadable")
	}
	if err != nil || !ok {
		return e.passwordChangeFailed(ctx, p.ID, ErrInvalidCredentials)
	}
	if err := e.hasher.CheckPolicy(req.NewPassword); err != nil {
		return e.passwordChangeFailed(ctx, p.ID, fmt.Errorf("%w: %v", ErrPasswordPolicy, err))
	}
	if same, _ := e.hasher.Verify(req.NewPassword, p.PasswordHash); same {
		return e.passwordChangeFailed(ctx, p.ID, ErrPasswordReuse)
	}

	hash, err := e.hasher.Hash(req.NewPassword)
	if err != nil {
		return err
	}
	p.PasswordHash = hash
	p.UpdatedAt = e.now()
	if err := e.users.Save(ctx, p); err != nil {
		return err
	}

	revoked := 0
	if e.config.Account.RevokeOtherSessionsOnPasswordChange {
		if revoked, err = e.invalidateOtherSessions(ctx, p.ID, req.SessionID); err != nil {
			return err
		}
	}

	e.metricInc(MetricPasswordChanged)
	e.emitAudit(ctx, AuditEvent{
		EventType:   AuditPasswordChanged,
		PrincipalID: p.ID,
		SessionID:   req.SessionID,
		Success:     true,
		Metadata:    map[string]string{"revoked_sessions": fmt.Sprint(revoked)},
	})
	log.WithField("revoked_sessions", revoked).Info("password changed")
	return nil
}

func (e *Engine) passwordChangeFailed(ctx context.Context, principalID string, err error) error {
	e.metricInc(MetricPasswordChangeFailed)
	e.emitAudit(ctx, AuditEvent{
		EventType:   AuditPasswordChanged,
		PrincipalID: principalID,
		Error:       err.Error(),
	})
	return err
}

// Me returns the current state of principalID.
func (e *Engine) Me(ctx context.Context, principalID string) (*Principal, error) {
	p, err := e.users.FindByID(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrUserNotFound
	}
	return p, nil
}
