package goSession

import (
	"time"

	"github.com/MrEthical07/goSession/internal/dispatch"
	"github.com/MrEthical07/goSession/password"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/token"
	"github.com/sirupsen/logrus"
)

// Engine is the session registry, verification token engine and account
// service behind one handle. It is safe for concurrent use; all shared state
// lives in the stores.
type Engine struct {
	config   Config
	sessions *session.Store
	tokens   token.Store
	users    UserStore
	hasher   *password.Argon2
	clock    Clock
	random   RandomSource
	log      logrus.FieldLogger
	audit    *dispatch.Dispatcher[AuditEvent]
	mail     *mailQueue
	metrics  *Metrics
}

// Close drains queued email and audit events and stops their workers.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.mail.close()
	if e.audit != nil {
		e.audit.Close()
	}
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) EmailDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.mail.dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) now() time.Time {
	return e.clock.Now()
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}
