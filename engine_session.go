package goSession

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goSession/internal"
	"github.com/MrEthical07/goSession/session"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func sessionStoreErr(err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, session.ErrExpired):
		return ErrSessionExpired
	case errors.Is(err, session.ErrRedisUnavailable):
		return fmt.Errorf("%w: %v", ErrSessionStoreUnavailable, err)
	default:
		return err
	}
}

// CreateSession opens an authenticated session for principalID under the
// concurrency policy. At the cap it either evicts the least recently used
// session or, with PreventLoginIfExceeded, returns ErrSessionLimitExceeded and
// changes nothing. A pre-auth session named by WithPreAuthSession is expired
// on success.
func (e *Engine) CreateSession(ctx context.Context, principalID string) (string, error) {
	if principalID == "" {
		return "", ErrInvalidRequest
	}

	id, err := internal.NewSessionID(e.random)
	if err != nil {
		return "", err
	}

	cfg := e.config.Session
	res, err := e.sessions.Create(ctx, session.CreateParams{
		ID:           id,
		PrincipalID:  principalID,
		Now:          e.now(),
		MaxInactive:  cfg.MaxInactiveInterval,
		MaxSessions:  cfg.MaxConcurrent,
		PreventLogin: cfg.PreventLoginIfExceeded,
		PreAuthID:    preAuthSessionFromContext(ctx),
		ClientIP:     clientIPFromContext(ctx),
		UserAgent:    userAgentFromContext(ctx),
	})
	if err != nil {
		e.log.WithError(err).WithField("principal", principalID).Error("session create failed")
		return "", sessionStoreErr(err)
	}

	if !res.Created {
		e.metricInc(MetricSessionLimitRejected)
		e.log.WithField("principal", principalID).Info("login refused: concurrent session limit reached")
		e.emitAudit(ctx, AuditEvent{
			EventType:   AuditSessionLimitRejected,
			PrincipalID: principalID,
			Error:       ErrSessionLimitExceeded.Error(),
		})
		return "", ErrSessionLimitExceeded
	}

	e.metricInc(MetricSessionCreated)
	if res.Rotated {
		e.metricInc(MetricSessionFixationRotated)
	}
	if n := len(res.Evicted); n > 0 {
		e.metrics.Add(MetricSessionEvicted, uint64(n))
		for _, sid := range res.Evicted {
			e.emitAudit(ctx, AuditEvent{
				EventType:   AuditSessionEvicted,
				PrincipalID: principalID,
				SessionID:   sid,
				Success:     true,
			})
		}
		e.log.WithFields(logrus.Fields{
			"principal": principalID,
			"evicted":   n,
		}).Info("evicted least recently used sessions")
	}
	e.emitAudit(ctx, AuditEvent{
		EventType:   AuditSessionCreated,
		PrincipalID: principalID,
		SessionID:   id,
		Success:     true,
	})
	return id, nil
}

// StartAnonymousSession opens a session with no principal, to be rotated by
// CreateSession at login.
func (e *Engine) StartAnonymousSession(ctx context.Context) (string, error) {
	id, err := internal.NewSessionID(e.random)
	if err != nil {
		return "", err
	}
	if err := e.sessions.CreateAnonymous(ctx, id, e.now(), e.config.Session.MaxInactiveInterval); err != nil {
		return "", sessionStoreErr(err)
	}
	return id, nil
}

// ResolveSession validates id and records activity on it.
func (e *Engine) ResolveSession(ctx context.Context, id string) (SessionDescriptor, error) {
	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricSessionResolveLatency, time.Since(start))
	}()

	if !internal.ValidSessionID(id) {
		e.metricInc(MetricSessionResolveFailed)
		return SessionDescriptor{}, ErrSessionNotFound
	}
	rec, err := e.sessions.Touch(ctx, id, e.now())
	if err != nil {
		e.metricInc(MetricSessionResolveFailed)
		return SessionDescriptor{}, sessionStoreErr(err)
	}
	e.metricInc(MetricSessionResolved)
	return describe(rec), nil
}

// Logout expires id. Unknown or already expired sessions are not an error.
func (e *Engine) Logout(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	// rec only feeds the audit event; Expire decides the outcome.
	rec, err := e.sessions.Get(ctx, id)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		e.log.WithError(err).Warn("logout: session read failed")
	}
	ok, err := e.sessions.Expire(ctx, id)
	if err != nil {
		return sessionStoreErr(err)
	}
	if ok {
		e.metricInc(MetricLogout)
		e.emitAudit(ctx, AuditEvent{
			EventType:   AuditLogout,
			PrincipalID: rec.PrincipalID,
			SessionID:   id,
			Success:     true,
		})
	}
	return nil
}

// ListActiveSessions returns the live sessions of principalID, most recent
// activity first. It never returns nil.
func (e *Engine) ListActiveSessions(ctx context.Context, principalID string) ([]SessionDescriptor, error) {
	records, err := e.sessions.ListForPrincipal(ctx, principalID, e.now())
	if err != nil {
		return nil, sessionStoreErr(err)
	}
	out := make([]SessionDescriptor, 0, len(records))
	for _, rec := range records {
		out = append(out, describe(rec))
	}
	return out, nil
}

// InvalidateSession expires sessionID when requesterID owns it or is an
// enabled administrator. A denied request returns false with no error.
func (e *Engine) InvalidateSession(ctx context.Context, sessionID, requesterID string) (bool, error) {
	rec, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return false, nil
		}
		return false, sessionStoreErr(err)
	}

	if rec.PrincipalID != requesterID || requesterID == "" {
		admin, err := e.requireAdmin(ctx, requesterID)
		if err != nil && !errors.Is(err, ErrPermissionDenied) {
			return false, err
		}
		if !admin {
			e.metricInc(MetricSessionInvalidateDenied)
			e.log.WithFields(logrus.Fields{
				"requester": requesterID,
				"owner":     rec.PrincipalID,
			}).Warn("session invalidation denied")
			e.emitAudit(ctx, AuditEvent{
				EventType:   AuditSessionInvalidDenied,
				PrincipalID: rec.PrincipalID,
				ActorID:     requesterID,
				SessionID:   sessionID,
				Error:       ErrPermissionDenied.Error(),
			})
			return false, nil
		}
	}

	ok, err := e.sessions.Expire(ctx, sessionID)
	if err != nil {
		return false, sessionStoreErr(err)
	}
	if ok {
		e.metricInc(MetricSessionInvalidated)
		e.emitAudit(ctx, AuditEvent{
			EventType:   AuditSessionInvalidated,
			PrincipalID: rec.PrincipalID,
			ActorID:     requesterID,
			SessionID:   sessionID,
			Success:     true,
		})
	}
	return ok, nil
}

// InvalidateAllSessionsForPrincipal expires every session of principalID in
// one atomic step and returns how many were live.
func (e *Engine) InvalidateAllSessionsForPrincipal(ctx context.Context, principalID string) (int, error) {
	n, err := e.sessions.ExpireAllForPrincipal(ctx, principalID)
	if err != nil {
		return 0, sessionStoreErr(err)
	}
	e.metricInc(MetricPrincipalSessionsRevoked)
	e.emitAudit(ctx, AuditEvent{
		EventType:   AuditPrincipalSessionsKill,
		PrincipalID: principalID,
		Success:     true,
		Metadata:    map[string]string{"count": fmt.Sprint(n)},
	})
	return n, nil
}

// invalidateOtherSessions expires every live session of principalID except
// keep. An empty keep expires them all.
func (e *Engine) invalidateOtherSessions(ctx context.Context, principalID, keep string) (int, error) {
	if keep == "" {
		return e.InvalidateAllSessionsForPrincipal(ctx, principalID)
	}
	records, err := e.sessions.ListForPrincipal(ctx, principalID, e.now())
	if err != nil {
		return 0, sessionStoreErr(err)
	}
	n := 0
	for _, rec := range records {
		if rec.ID == keep {
			continue
		}
		ok, err := e.sessions.Expire(ctx, rec.ID)
		if err != nil {
			return n, sessionStoreErr(err)
		}
		if ok {
			n++
			e.metricInc(MetricSessionInvalidated)
		}
	}
	return n, nil
}

// ListAllActiveSessions lists live sessions across principals for an
// administrator, with username and email filled in.
func (e *Engine) ListAllActiveSessions(ctx context.Context, requesterID string) ([]SessionDescriptor, error) {
	if _, err := e.requireAdmin(ctx, requesterID); err != nil {
		return nil, err
	}

	records, err := e.sessions.ListAll(ctx, e.now())
	if err != nil {
		return nil, sessionStoreErr(err)
	}

	owners := make(map[string]*Principal)
	for _, rec := range records {
		owners[rec.PrincipalID] = nil
	}
	ids := make([]string, 0, len(owners))
	for id := range owners {
		ids = append(ids, id)
	}

	found := make([]*Principal, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Account.LookupConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			p, err := e.users.FindByID(gctx, id)
			if err != nil {
				return fmt.Errorf("lookup principal %s: %w", id, err)
			}
			found[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, id := range ids {
		owners[id] = found[i]
	}

	out := make([]SessionDescriptor, 0, len(records))
	for _, rec := range records {
		d := describe(rec)
		if p := owners[rec.PrincipalID]; p != nil {
			d.Username = p.Username
			d.Email = p.Email
		}
		out = append(out, d)
	}
	return out, nil
}

// requireAdmin reloads requesterID from the user store so a revoked role or a
// disabled account takes effect on the next request.
func (e *Engine) requireAdmin(ctx context.Context, requesterID string) (bool, error) {
	if requesterID == "" {
		return false, ErrPermissionDenied
	}
	p, err := e.users.FindByID(ctx, requesterID)
	if err != nil {
		return false, err
	}
	if !p.IsAdmin() {
		return false, ErrPermissionDenied
	}
	return true, nil
}

func describe(rec session.Record) SessionDescriptor {
	return SessionDescriptor{
		ID:            rec.ID,
		PrincipalID:   rec.PrincipalID,
		CreatedAt:     rec.CreatedAt,
		LastRequestAt: rec.LastRequestAt,
		Expired:       rec.Expired,
		ClientIP:      rec.ClientIP,
		UserAgent:     rec.UserAgent,
	}
}
