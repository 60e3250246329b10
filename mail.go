package goSession

import (
	"context"
	"time"

	"github.com/MrEthical07/goSession/internal/dispatch"
	"github.com/MrEthical07/goSession/mailer"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type mailJob struct {
	kind mailer.Kind
	to   string
	data mailer.Data
}

// mailQueue renders and delivers account email off the request path.
type mailQueue struct {
	composer *mailer.Composer
	sender   EmailSender
	limiter  *rate.Limiter
	timeout  time.Duration
	log      logrus.FieldLogger
	metrics  *Metrics
	queue    *dispatch.Dispatcher[mailJob]
}

func newMailQueue(cfg EmailConfig, sender EmailSender, log logrus.FieldLogger, metrics *Metrics) *mailQueue {
	q := &mailQueue{
		composer: mailer.NewComposer(cfg.AppName, cfg.FrontendURL),
		sender:   sender,
		timeout:  cfg.SendTimeout,
		log:      log,
		metrics:  metrics,
	}
	if cfg.RatePerSecond > 0 {
		q.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	}
	q.queue = dispatch.New(dispatch.Config{
		BufferSize: cfg.BufferSize,
		Workers:    cfg.Workers,
		DropIfFull: true,
	}, q.deliver)
	return q
}

// enqueue never blocks the caller; a full buffer drops the message.
func (q *mailQueue) enqueue(ctx context.Context, job mailJob) {
	if q.queue.Enqueue(ctx, job) {
		q.metrics.Inc(MetricEmailQueued)
		return
	}
	q.metrics.Inc(MetricEmailDropped)
	q.log.WithFields(logrus.Fields{
		"kind": job.kind.String(),
		"to":   job.to,
	}).Warn("email dropped: dispatch queue full or closed")
}

func (q *mailQueue) deliver(ctx context.Context, job mailJob) {
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	log := q.log.WithFields(logrus.Fields{
		"kind": job.kind.String(),
		"to":   job.to,
	})

	if q.limiter != nil {
		if err := q.limiter.Wait(ctx); err != nil {
			q.metrics.Inc(MetricEmailFailed)
			log.WithError(err).Warn("email throttled past send timeout")
			return
		}
	}

	msg, err := q.composer.Compose(job.kind, job.data)
	if err != nil {
		q.metrics.Inc(MetricEmailFailed)
		log.WithError(err).Error("email render failed")
		return
	}
	if err := q.sender.Send(ctx, job.to, msg.Subject, msg.Body); err != nil {
		q.metrics.Inc(MetricEmailFailed)
		log.WithError(err).Error("email send failed")
		return
	}
	q.metrics.Inc(MetricEmailSent)
	log.Debug("email sent")
}

func (q *mailQueue) close() {
	if q != nil {
		q.queue.Close()
	}
}

func (q *mailQueue) dropped() uint64 {
	if q == nil {
		return 0
	}
	return q.queue.Dropped()
}

func displayName(p *Principal) string {
	switch {
	case p == nil:
		return ""
	case p.FirstName != "":
		return p.FirstName
	case p.Name != "":
		return p.Name
	default:
		return p.Username
	}
}
