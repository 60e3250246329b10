package goSession

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/MrEthical07/goSession/internal/dispatch"
	"github.com/sirupsen/logrus"
)

// Audit event types.
const (
	AuditSessionCreated        = "session_created"
	AuditSessionLimitRejected  = "session_limit_rejected"
	AuditSessionEvicted        = "session_evicted"
	AuditSessionInvalidated    = "session_invalidated"
	AuditSessionInvalidDenied  = "session_invalidate_denied"
	AuditPrincipalSessionsKill = "principal_sessions_revoked"
	AuditLogout                = "logout"
	AuditLoginSuccess          = "login_success"
	AuditLoginFailure          = "login_failure"
	AuditAccountCreated        = "account_created"
	AuditAccountDisabled       = "account_disabled"
	AuditAccountEnabled        = "account_enabled"
	AuditAccountLocked         = "account_locked"
	AuditAccountUnlocked       = "account_unlocked"
	AuditPasswordChanged       = "password_changed"
	AuditTokenIssued           = "token_issued"
	AuditTokenRateLimited      = "token_rate_limited"
	AuditTokenConsumed         = "token_consumed"
	AuditPasswordReset         = "password_reset"
	AuditEmailChanged          = "email_changed"
)

type AuditEvent struct {
	Timestamp   time.Time         `json:"timestamp"`
	EventType   string            `json:"event_type"`
	PrincipalID string            `json:"principal_id,omitempty"`
	ActorID     string            `json:"actor_id,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	IP          string            `json:"ip,omitempty"`
	Success     bool              `json:"success"`
	Error       string            `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(_ context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(append(data, '\n'))
}

// LogrusSink writes each event as one structured log entry.
type LogrusSink struct {
	Logger logrus.FieldLogger
}

func (s LogrusSink) Emit(_ context.Context, event AuditEvent) {
	if s.Logger == nil {
		return
	}
	fields := logrus.Fields{
		"audit":   event.EventType,
		"success": event.Success,
	}
	if event.PrincipalID != "" {
		fields["principal"] = event.PrincipalID
	}
	if event.ActorID != "" {
		fields["actor"] = event.ActorID
	}
	if event.SessionID != "" {
		fields["session"] = event.SessionID
	}
	if event.IP != "" {
		fields["ip"] = event.IP
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}
	entry := s.Logger.WithFields(fields)
	if event.Error != "" {
		entry.WithField("error", event.Error).Warn("audit")
		return
	}
	entry.Info("audit")
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *dispatch.Dispatcher[AuditEvent] {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	return dispatch.New(dispatch.Config{
		BufferSize: cfg.BufferSize,
		Workers:    1,
		DropIfFull: cfg.DropIfFull,
	}, sink.Emit)
}

func (e *Engine) emitAudit(ctx context.Context, event AuditEvent) {
	if e == nil || e.audit == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	e.audit.Enqueue(ctx, event)
}
