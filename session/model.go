package session

import "time"

// Record is a read copy of one stored session. The store is the only owner;
// callers never write a Record back.
type Record struct {
	ID            string
	PrincipalID   string
	CreatedAt     time.Time
	LastRequestAt time.Time
	MaxInactive   time.Duration
	Expired       bool
	ClientIP      string
	UserAgent     string

	// seq is the insertion order within the store.
	seq int64
}

// Anonymous reports whether the session is a pre-authentication session.
func (r Record) Anonymous() bool { return r.PrincipalID == "" }

// InactiveAt reports whether the inactivity window had elapsed at now.
func (r Record) InactiveAt(now time.Time) bool {
	return now.Sub(r.LastRequestAt) > r.MaxInactive
}

// Live reports whether the session can still serve requests at now.
func (r Record) Live(now time.Time) bool {
	return !r.Expired && !r.InactiveAt(now)
}

// CreateParams describes one authenticated session creation.
type CreateParams struct {
	ID          string
	PrincipalID string
	Now         time.Time
	MaxInactive time.Duration
	// MaxSessions <= 0 means unbounded.
	MaxSessions int
	// PreventLogin refuses creation at the cap instead of evicting.
	PreventLogin bool
	// PreAuthID, when set, is expired in the same step.
	PreAuthID string
	ClientIP  string
	UserAgent string
}

type CreateResult struct {
	Created bool
	Evicted []string
	// Rotated is true when a live pre-auth session was retired.
	Rotated bool
}
