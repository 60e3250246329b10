package goSession

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// SweepExpiredTokens deletes every token whose expiry has passed. It is
// idempotent and safe to run from several instances at once.
func (e *Engine) SweepExpiredTokens(ctx context.Context) (int, error) {
	n, err := e.tokens.DeleteExpired(ctx, e.now())
	if err != nil {
		e.metricInc(MetricCleanupFailure)
		return 0, tokenStoreErr(err)
	}
	e.metrics.Add(MetricCleanupExpiredDeleted, uint64(n))
	return n, nil
}

// PurgeUsedTokens deletes consumed tokens older than the retention window.
func (e *Engine) PurgeUsedTokens(ctx context.Context) (int, error) {
	cutoff := e.now().Add(-e.config.Cleanup.UsedRetention)
	n, err := e.tokens.DeleteUsedBefore(ctx, cutoff)
	if err != nil {
		e.metricInc(MetricCleanupFailure)
		return 0, tokenStoreErr(err)
	}
	e.metrics.Add(MetricCleanupUsedDeleted, uint64(n))
	return n, nil
}

// CleanupScheduler runs the token sweeps on their cron schedules.
type CleanupScheduler struct {
	engine  *Engine
	cron    *cron.Cron
	timeout time.Duration
	log     logrus.FieldLogger
}

// NewCleanupScheduler registers both sweeps. Nothing runs until Start.
func NewCleanupScheduler(e *Engine) (*CleanupScheduler, error) {
	cfg := e.config.Cleanup
	log := e.log.WithField("component", "cleanup")
	s := &CleanupScheduler{
		engine:  e,
		timeout: cfg.RunTimeout,
		log:     log,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cron.PrintfLogger(log)),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(log))),
		),
	}

	if _, err := s.cron.AddFunc(cfg.ExpiredSweepSpec, func() { s.run("expired", e.SweepExpiredTokens) }); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc(cfg.UsedPurgeSpec, func() { s.run("used", e.PurgeUsedTokens) }); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CleanupScheduler) run(name string, sweep func(context.Context) (int, error)) {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	n, err := sweep(ctx)
	log := s.log.WithFields(logrus.Fields{
		"sweep":   name,
		"elapsed": time.Since(start).String(),
	})
	if err != nil {
		log.WithError(err).Error("token sweep failed")
		return
	}
	log.WithField("deleted", n).Info("token sweep finished")
}

func (s *CleanupScheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running sweeps or ctx, whichever
// finishes first.
func (s *CleanupScheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce runs both sweeps concurrently and returns the deleted counts.
func (s *CleanupScheduler) RunOnce(ctx context.Context) (expired, used int, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.engine.SweepExpiredTokens(gctx)
		expired = n
		return err
	})
	g.Go(func() error {
		n, err := s.engine.PurgeUsedTokens(gctx)
		used = n
		return err
	})
	err = g.Wait()
	return expired, used, err
}
