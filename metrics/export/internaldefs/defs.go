package internaldefs

import (
	goSession "github.com/MrEthical07/goSession"
)

type CounterDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: goSession.MetricSessionCreated, Name: "gosession_session_created_total", Help: "Authenticated sessions created."},
	{ID: goSession.MetricSessionLimitRejected, Name: "gosession_session_limit_rejected_total", Help: "Logins refused at the concurrent session cap."},
	{ID: goSession.MetricSessionEvicted, Name: "gosession_session_evicted_total", Help: "Sessions expired to make room under the cap."},
	{ID: goSession.MetricSessionFixationRotated, Name: "gosession_session_rotated_total", Help: "Pre-authentication sessions replaced at login."},
	{ID: goSession.MetricSessionResolved, Name: "gosession_session_resolved_total", Help: "Session lookups that found a live session."},
	{ID: goSession.MetricSessionResolveFailed, Name: "gosession_session_resolve_failed_total", Help: "Session lookups for unknown, expired or malformed ids."},
	{ID: goSession.MetricSessionInvalidated, Name: "gosession_session_invalidated_total", Help: "Sessions expired by owner or administrator."},
	{ID: goSession.MetricSessionInvalidateDenied, Name: "gosession_session_invalidate_denied_total", Help: "Invalidation requests refused for lack of permission."},
	{ID: goSession.MetricLogout, Name: "gosession_logout_total", Help: "Logouts of a live session."},
	{ID: goSession.MetricPrincipalSessionsRevoked, Name: "gosession_principal_sessions_revoked_total", Help: "Bulk revocations of every session of a principal."},
	{ID: goSession.MetricLoginSuccess, Name: "gosession_login_success_total", Help: "Successful logins."},
	{ID: goSession.MetricLoginFailure, Name: "gosession_login_failure_total", Help: "Failed logins."},
	{ID: goSession.MetricAccountCreated, Name: "gosession_account_created_total", Help: "Accounts created."},
	{ID: goSession.MetricAccountDuplicate, Name: "gosession_account_duplicate_total", Help: "Registrations refused for a taken username or email."},
	{ID: goSession.MetricAccountDisabled, Name: "gosession_account_disabled_total", Help: "Accounts disabled by an administrator."},
	{ID: goSession.MetricAccountLocked, Name: "gosession_account_locked_total", Help: "Accounts locked by an administrator."},
	{ID: goSession.MetricPasswordChanged, Name: "gosession_password_changed_total", Help: "Passwords changed by their owner."},
	{ID: goSession.MetricPasswordChangeFailed, Name: "gosession_password_change_failed_total", Help: "Password changes refused for a wrong current password, reuse or policy."},
	{ID: goSession.MetricTokenIssued, Name: "gosession_token_issued_total", Help: "Verification tokens issued."},
	{ID: goSession.MetricTokenIssueRefused, Name: "gosession_token_issue_refused_total", Help: "Issue requests refused by policy."},
	{ID: goSession.MetricTokenRateLimited, Name: "gosession_token_rate_limited_total", Help: "Issue requests refused by the hourly or daily ceiling."},
	{ID: goSession.MetricTokenConsumed, Name: "gosession_token_consumed_total", Help: "Tokens consumed successfully."},
	{ID: goSession.MetricTokenConsumeFailed, Name: "gosession_token_consume_failed_total", Help: "Consumption attempts with unknown, expired or used tokens."},
	{ID: goSession.MetricTokenTypeMismatch, Name: "gosession_token_type_mismatch_total", Help: "Consumption attempts with the wrong token type."},
	{ID: goSession.MetricEmailQueued, Name: "gosession_email_queued_total", Help: "Emails handed to the dispatcher."},
	{ID: goSession.MetricEmailSent, Name: "gosession_email_sent_total", Help: "Emails delivered to the sender."},
	{ID: goSession.MetricEmailFailed, Name: "gosession_email_failed_total", Help: "Emails that failed to render or send."},
	{ID: goSession.MetricEmailDropped, Name: "gosession_email_dropped_total", Help: "Emails dropped because the queue was full or closed."},
	{ID: goSession.MetricCleanupExpiredDeleted, Name: "gosession_cleanup_expired_deleted_total", Help: "Expired tokens deleted by cleanup."},
	{ID: goSession.MetricCleanupUsedDeleted, Name: "gosession_cleanup_used_deleted_total", Help: "Consumed tokens purged after retention."},
	{ID: goSession.MetricCleanupFailure, Name: "gosession_cleanup_failure_total", Help: "Cleanup sweeps that failed."},
}

var HistogramDefs = []HistogramDef{
	{ID: goSession.MetricSessionResolveLatency, Name: "gosession_session_resolve_latency_seconds", Help: "Session resolve latency."},
}

const AuditDroppedName = "gosession_audit_dropped_total"

// HistogramBounds are the upper bounds in seconds of the first seven
// engine buckets; the eighth is +Inf.
var HistogramBounds = []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1}

var HistogramBoundSuffix = []string{
	"0_001",
	"0_002",
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the engine's eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
