package goSession

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goSession/internal"
	"github.com/MrEthical07/goSession/mailer"
	"github.com/MrEthical07/goSession/token"
	"github.com/sirupsen/logrus"
)

func tokenStoreErr(err error) error {
	return fmt.Errorf("%w: %v", ErrTokenStoreUnavailable, err)
}

func mailKindFor(typ TokenType) mailer.Kind {
	switch typ {
	case TokenPasswordReset:
		return mailer.KindPasswordReset
	case TokenEmailChange:
		return mailer.KindEmailChange
	default:
		return mailer.KindVerification
	}
}

// IssueToken mints a verification token and queues its email.
//
// The boolean reports whether the request was accepted. Policy refusals
// (already verified, target address unavailable, rate limit) return false
// with a nil error. A password reset for an unknown address returns true
// without writing anything.
func (e *Engine) IssueToken(ctx context.Context, req IssueRequest) (bool, error) {
	if !req.Type.Valid() {
		return false, ErrInvalidTokenType
	}
	log := e.log.WithField("token_type", req.Type.String())

	p, target, ok, err := e.issueTarget(ctx, req, log)
	if err != nil {
		return false, err
	}
	if !ok {
		e.metricInc(MetricTokenIssueRefused)
		return false, nil
	}
	if p == nil {
		return true, nil
	}
	log = log.WithField("principal", p.ID)

	now := e.now()
	allowed, err := e.withinIssueLimits(ctx, p.ID, target, req.Type, now)
	if err != nil {
		return false, err
	}
	if !allowed {
		e.metricInc(MetricTokenRateLimited)
		log.Info("token issuance refused: rate limit reached")
		e.emitAudit(ctx, AuditEvent{
			EventType:   AuditTokenRateLimited,
			PrincipalID: p.ID,
			Metadata:    map[string]string{"type": req.Type.String()},
		})
		return false, nil
	}

	if n, err := e.tokens.InvalidateLive(ctx, p.ID, req.Type, now); err != nil {
		return false, tokenStoreErr(err)
	} else if n > 0 {
		log.WithField("invalidated", n).Debug("superseded live tokens")
	}

	ttl := e.config.Tokens.ttlFor(req.Type)
	tok, err := e.mint(ctx, p.ID, target, req.Type, now, ttl)
	if err != nil {
		return false, err
	}

	if req.Type == TokenEmailVerification {
		sent := now
		p.EmailVerificationSentAt = &sent
		if err := e.users.Save(ctx, p); err != nil {
			// The token is already live; a stale sent-at stamp is cosmetic.
			log.WithError(err).Warn("could not record verification email timestamp")
		}
	}

	e.mail.enqueue(ctx, mailJob{
		kind: mailKindFor(req.Type),
		to:   target,
		data: mailer.Data{
			Name:   displayName(p),
			Email:  target,
			Token:  tok.Value,
			Expiry: ttl,
		},
	})

	e.metricInc(MetricTokenIssued)
	e.emitAudit(ctx, AuditEvent{
		EventType:   AuditTokenIssued,
		PrincipalID: p.ID,
		Success:     true,
		Metadata:    map[string]string{"type": req.Type.String()},
	})
	log.Info("token issued")
	return true, nil
}

// issueTarget resolves the principal and destination address for req. ok is
// false for a refusal; for an unknown password-reset address p is nil and ok
// is true.
func (e *Engine) issueTarget(ctx context.Context, req IssueRequest, log logrus.FieldLogger) (p *Principal, target string, ok bool, err error) {
	switch req.Type {
	case TokenEmailVerification:
		if req.PrincipalID != "" {
			p, err = e.users.FindByID(ctx, req.PrincipalID)
			if err != nil {
				return nil, "", false, err
			}
			if p == nil {
				return nil, "", false, ErrUserNotFound
			}
		} else {
			p, err = e.users.FindByEmail(ctx, token.NormalizeEmail(req.Email))
			if err != nil {
				return nil, "", false, err
			}
			if p == nil {
				log.Info("verification resend for unknown address ignored")
				return nil, "", false, nil
			}
		}
		if p.EmailVerified {
			log.WithField("principal", p.ID).Info("verification refused: email already verified")
			return p, "", false, nil
		}
		return p, p.Email, true, nil

	case TokenPasswordReset:
		p, err = e.users.FindByEmail(ctx, token.NormalizeEmail(req.Email))
		if err != nil {
			return nil, "", false, err
		}
		if p == nil {
			log.Info("password reset for unknown address accepted without issuing")
			return nil, "", true, nil
		}
		return p, p.Email, true, nil

	case TokenEmailChange:
		if req.PrincipalID == "" || strings.TrimSpace(req.Email) == "" {
			return nil, "", false, ErrInvalidRequest
		}
		p, err = e.users.FindByID(ctx, req.PrincipalID)
		if err != nil {
			return nil, "", false, err
		}
		if p == nil {
			return nil, "", false, ErrUserNotFound
		}
		target = token.NormalizeEmail(req.Email)
		if target == token.NormalizeEmail(p.Email) {
			log.WithField("principal", p.ID).Info("email change refused: target unavailable")
			return p, "", false, nil
		}
		var taken bool
		if taken, err = e.users.ExistsByEmail(ctx, target); err != nil {
			return nil, "", false, err
		}
		if taken {
			log.WithField("principal", p.ID).Info("email change refused: target unavailable")
			return p, "", false, nil
		}
		return p, target, true, nil
	}
	return nil, "", false, ErrInvalidTokenType
}

// withinIssueLimits applies the rolling hour and day ceilings per principal
// and, when enabled, per destination address.
func (e *Engine) withinIssueLimits(ctx context.Context, principalID, email string, typ TokenType, now time.Time) (bool, error) {
	limits := e.config.RateLimit
	windows := []struct {
		since   time.Time
		ceiling int
	}{
		{now.Add(-time.Hour), limits.MaxPerHour},
		{now.Add(-24 * time.Hour), limits.MaxPerDay},
	}
	for _, w := range windows {
		n, err := e.tokens.CountCreatedSince(ctx, principalID, typ, w.since)
		if err != nil {
			return false, tokenStoreErr(err)
		}
		if n >= w.ceiling {
			return false, nil
		}
		if !limits.PerEmail || email == "" {
			continue
		}
		n, err = e.tokens.CountCreatedForEmailSince(ctx, email, typ, w.since)
		if err != nil {
			return false, tokenStoreErr(err)
		}
		if n >= w.ceiling {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) mint(ctx context.Context, principalID, email string, typ TokenType, now time.Time, ttl time.Duration) (token.Token, error) {
	// A collision of 256-bit values means a broken random source; retry once
	// and then give up.
	for attempt := 0; attempt < 2; attempt++ {
		value, err := internal.NewTokenValue(e.random, e.config.Tokens.TokenBytes)
		if err != nil {
			return token.Token{}, err
		}
		tok := token.Token{
			Value:       value,
			Type:        typ,
			PrincipalID: principalID,
			Email:       email,
			CreatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}
		err = e.tokens.Save(ctx, tok)
		if err == nil {
			return tok, nil
		}
		if !errors.Is(err, token.ErrDuplicate) {
			return token.Token{}, tokenStoreErr(err)
		}
	}
	return token.Token{}, tokenStoreErr(token.ErrDuplicate)
}

// ConsumeToken redeems value for the expected workflow and applies its
// effect. Refusals are reported in the result; only store failures are
// errors.
func (e *Engine) ConsumeToken(ctx context.Context, value string, expected TokenType) (ConsumeResult, error) {
	if value == "" || !expected.Valid() {
		e.metricInc(MetricTokenConsumeFailed)
		return ConsumeResult{Message: MsgInvalidOrExpiredToken}, nil
	}
	log := e.log.WithField("token_type", expected.String())

	tok, err := e.tokens.Confirm(ctx, value, expected, e.now())
	switch {
	case err == nil:
	case errors.Is(err, token.ErrNotFound), errors.Is(err, token.ErrExpired), errors.Is(err, token.ErrUsed):
		e.metricInc(MetricTokenConsumeFailed)
		log.WithField("reason", err.Error()).Info("token refused")
		return ConsumeResult{Message: MsgInvalidOrExpiredToken}, nil
	case errors.Is(err, token.ErrTypeMismatch):
		e.metricInc(MetricTokenTypeMismatch)
		log.Info("token refused: type mismatch")
		return ConsumeResult{Message: MsgInvalidTokenType}, nil
	default:
		return ConsumeResult{}, tokenStoreErr(err)
	}
	log = log.WithField("principal", tok.PrincipalID)

	p, err := e.users.FindByID(ctx, tok.PrincipalID)
	if err != nil {
		return ConsumeResult{}, err
	}
	if p == nil {
		e.metricInc(MetricTokenConsumeFailed)
		log.Warn("token consumed for a principal that no longer exists")
		return ConsumeResult{Message: MsgInvalidOrExpiredToken}, nil
	}

	var res ConsumeResult
	switch tok.Type {
	case TokenEmailVerification:
		res, err = e.applyEmailVerified(ctx, p)
	case TokenPasswordReset:
		res = ConsumeResult{Success: true, Message: MsgTokenVerified, Principal: p}
	case TokenEmailChange:
		res, err = e.applyEmailChange(ctx, p, tok.Email, log)
	}
	if err != nil {
		return ConsumeResult{}, err
	}
	if res.Success {
		e.metricInc(MetricTokenConsumed)
		e.emitAudit(ctx, AuditEvent{
			EventType:   AuditTokenConsumed,
			PrincipalID: p.ID,
			Success:     true,
			Metadata:    map[string]string{"type": tok.Type.String()},
		})
	}
	return res, nil
}

func (e *Engine) applyEmailVerified(ctx context.Context, p *Principal) (ConsumeResult, error) {
	p.EmailVerified = true
	p.UpdatedAt = e.now()
	if err := e.users.Save(ctx, p); err != nil {
		return ConsumeResult{}, err
	}
	if e.config.Email.SendWelcome {
		e.mail.enqueue(ctx, mailJob{
			kind: mailer.KindWelcome,
			to:   p.Email,
			data: mailer.Data{Name: displayName(p), Email: p.Email},
		})
	}
	return ConsumeResult{Success: true, Message: MsgEmailVerified, Principal: p}, nil
}

// applyEmailChange re-checks the target address; it may have been claimed
// after the token was issued. The token stays consumed either way.
func (e *Engine) applyEmailChange(ctx context.Context, p *Principal, target string, log logrus.FieldLogger) (ConsumeResult, error) {
	taken, err := e.users.ExistsByEmail(ctx, target)
	if err != nil {
		return ConsumeResult{}, err
	}
	if taken {
		log.Info("email change refused at confirmation: address claimed")
		return ConsumeResult{Message: MsgEmailUnavailable}, nil
	}

	previous := p.Email
	p.Email = target
	p.EmailVerified = true
	p.UpdatedAt = e.now()
	if err := e.users.Save(ctx, p); err != nil {
		if errors.Is(err, ErrAccountExists) {
			p.Email = previous
			log.Info("email change refused at confirmation: address claimed")
			return ConsumeResult{Message: MsgEmailUnavailable}, nil
		}
		return ConsumeResult{}, err
	}
	e.emitAudit(ctx, AuditEvent{
		EventType:   AuditEmailChanged,
		PrincipalID: p.ID,
		Success:     true,
	})
	return ConsumeResult{Success: true, Message: MsgEmailChanged, Principal: p}, nil
}

// SendEmailVerification issues a verification token for principalID.
func (e *Engine) SendEmailVerification(ctx context.Context, principalID string) (bool, error) {
	return e.IssueToken(ctx, IssueRequest{Type: TokenEmailVerification, PrincipalID: principalID})
}

// ResendEmailVerification issues a verification token for the account
// registered under email. Unknown addresses are refused silently.
func (e *Engine) ResendEmailVerification(ctx context.Context, email string) (bool, error) {
	return e.IssueToken(ctx, IssueRequest{Type: TokenEmailVerification, Email: email})
}

// RequestPasswordReset issues a reset token when email belongs to an account.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (bool, error) {
	return e.IssueToken(ctx, IssueRequest{Type: TokenPasswordReset, Email: email})
}

// RequestEmailChange issues a token sent to newEmail that moves principalID
// to that address when confirmed.
func (e *Engine) RequestEmailChange(ctx context.Context, principalID, newEmail string) (bool, error) {
	return e.IssueToken(ctx, IssueRequest{Type: TokenEmailChange, PrincipalID: principalID, Email: newEmail})
}

func (e *Engine) VerifyEmail(ctx context.Context, value string) (ConsumeResult, error) {
	return e.ConsumeToken(ctx, value, TokenEmailVerification)
}

func (e *Engine) ConfirmEmailChange(ctx context.Context, value string) (ConsumeResult, error) {
	return e.ConsumeToken(ctx, value, TokenEmailChange)
}

// ResetPassword redeems a reset token and stores newPassword. The password
// policy is checked first so a rejected password does not burn the token.
func (e *Engine) ResetPassword(ctx context.Context, value, newPassword string) (ConsumeResult, error) {
	if err := e.hasher.CheckPolicy(newPassword); err != nil {
		return ConsumeResult{}, fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}

	res, err := e.ConsumeToken(ctx, value, TokenPasswordReset)
	if err != nil || !res.Success {
		return res, err
	}

	p := res.Principal
	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return ConsumeResult{}, err
	}
	p.PasswordHash = hash
	p.UpdatedAt = e.now()
	if err := e.users.Save(ctx, p); err != nil {
		return ConsumeResult{}, err
	}

	if e.config.Tokens.RevokeSessionsOnPasswordReset {
		if _, err := e.InvalidateAllSessionsForPrincipal(ctx, p.ID); err != nil {
			e.log.WithError(err).WithField("principal", p.ID).Error("password reset: session revocation failed")
			return ConsumeResult{}, err
		}
	}
	e.emitAudit(ctx, AuditEvent{
		EventType:   AuditPasswordReset,
		PrincipalID: p.ID,
		Success:     true,
	})
	return ConsumeResult{Success: true, Message: MsgPasswordReset, Principal: p}, nil
}
