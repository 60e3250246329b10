package goSession

import (
	"errors"

	"github.com/MrEthical07/goSession/mailer"
	"github.com/MrEthical07/goSession/password"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/token"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Builder assembles an [Engine]. Configure it during startup, call Build once,
// then discard it.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	tokenStore token.Store
	users      UserStore
	sender     EmailSender
	clock      Clock
	random     RandomSource
	logger     logrus.FieldLogger
	auditSink  AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing the session registry and, unless
// WithTokenStore overrides it, the token store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithTokenStore replaces the default Redis token store, for example with
// token.NewPostgresStore.
func (b *Builder) WithTokenStore(store token.Store) *Builder {
	b.tokenStore = store
	return b
}

func (b *Builder) WithUserStore(users UserStore) *Builder {
	b.users = users
	return b
}

// WithEmailSender sets outbound delivery. Without one, messages are logged.
func (b *Builder) WithEmailSender(sender EmailSender) *Builder {
	b.sender = sender
	return b
}

func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

func (b *Builder) WithRandom(random RandomSource) *Builder {
	b.random = random
	return b
}

func (b *Builder) WithLogger(logger logrus.FieldLogger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and starts the background dispatchers.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
		MinLength:   cfg.Password.MinLength,
	})
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	clock := b.clock
	if clock == nil {
		clock = SystemClock{}
	}
	random := b.random
	if random == nil {
		random = CryptoRandom{}
	}
	tokens := b.tokenStore
	if tokens == nil {
		tokens = token.NewRedisStore(b.redis, cfg.Tokens.RedisPrefix)
	}
	sender := b.sender
	if sender == nil {
		sender = mailer.LogSender{Logger: logger}
	}

	engine := &Engine{
		config:   cfg,
		sessions: session.NewStore(b.redis, cfg.Session.RedisPrefix),
		tokens:   tokens,
		users:    b.users,
		hasher:   hasher,
		clock:    clock,
		random:   random,
		log:      logger,
		metrics:  NewMetrics(cfg.Metrics),
	}
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.mail = newMailQueue(cfg.Email, sender, logger, engine.metrics)

	b.built = true
	return engine, nil
}
