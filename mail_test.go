package goSession

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/goSession/mailer"
	"github.com/sirupsen/logrus"
)

type failingSender struct{}

func (failingSender) Send(context.Context, string, string, string) error {
	return errors.New("relay down")
}

func TestMailQueueCountsFailures(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	m := NewMetrics(MetricsConfig{Enabled: true})

	q := newMailQueue(testConfig().Email, failingSender{}, logger, m)
	q.enqueue(context.Background(), mailJob{kind: mailer.KindWelcome, to: "a@example.com"})
	q.close()

	if m.Value(MetricEmailQueued) != 1 || m.Value(MetricEmailFailed) != 1 || m.Value(MetricEmailSent) != 0 {
		t.Fatalf("unexpected counters queued=%d failed=%d sent=%d",
			m.Value(MetricEmailQueued), m.Value(MetricEmailFailed), m.Value(MetricEmailSent))
	}
}

func TestMailQueueDropsAfterClose(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	m := NewMetrics(MetricsConfig{Enabled: true})
	sender := &captureSender{}

	cfg := testConfig().Email
	cfg.RatePerSecond = 1000
	cfg.Burst = 10
	q := newMailQueue(cfg, sender, logger, m)
	q.enqueue(context.Background(), mailJob{kind: mailer.KindWelcome, to: "a@example.com"})
	q.close()
	q.enqueue(context.Background(), mailJob{kind: mailer.KindWelcome, to: "b@example.com"})

	if got := sender.all(); len(got) != 1 || got[0].to != "a@example.com" {
		t.Fatalf("unexpected deliveries %+v", got)
	}
	if m.Value(MetricEmailDropped) != 1 {
		t.Fatalf("expected one drop, got %d", m.Value(MetricEmailDropped))
	}
}

func TestIssuanceSucceedsWhenMailFails(t *testing.T) {
	env := newTestEnv(t, nil, newPrincipal("u1", "u1@example.com"))
	env.engine.mail.sender = failingSender{}

	ok, err := env.engine.SendEmailVerification(context.Background(), "u1")
	if err != nil || !ok {
		t.Fatalf("mail failure must not fail issuance: ok=%v err=%v", ok, err)
	}
	env.engine.Close()
	if env.engine.metrics.Value(MetricEmailFailed) != 1 {
		t.Fatal("failure not counted")
	}
	if live := env.liveTokens(t, "u1", TokenEmailVerification); len(live) != 1 {
		t.Fatal("token must survive the failed send")
	}
}
