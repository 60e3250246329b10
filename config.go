package goSession

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/robfig/cron/v3"
)

// Config is the complete engine configuration. Build it from DefaultConfig
// and override fields; the engine clones it at Build time.
type Config struct {
	Session   SessionConfig
	Tokens    TokenConfig
	RateLimit RateLimitConfig
	Cleanup   CleanupConfig
	Email     EmailConfig
	Password  PasswordConfig
	Account   AccountConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the session registry.
type SessionConfig struct {
	RedisPrefix string
	// MaxConcurrent caps live sessions per principal; <= 0 is unbounded.
	MaxConcurrent int
	// PreventLoginIfExceeded refuses a new login at the cap instead of
	// evicting the least recently used session.
	PreventLoginIfExceeded bool
	MaxInactiveInterval    time.Duration
	CookieName             string
	CookieSecure           bool
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls verification token minting.
type TokenConfig struct {
	RedisPrefix          string
	TokenBytes           int
	EmailVerificationTTL time.Duration
	PasswordResetTTL     time.Duration
	EmailChangeTTL       time.Duration
	// RevokeSessionsOnPasswordReset expires every session of the principal
	// after ResetPassword stores the new hash.
	RevokeSessionsOnPasswordReset bool
}

// RateLimitConfig bounds issuance per (principal, type) over rolling hour
// and day windows.
type RateLimitConfig struct {
	MaxPerHour int
	MaxPerDay  int
	// PerEmail additionally applies both ceilings per (destination, type)
	// across all principals. Off by default: with it on, one account can
	// exhaust the quota another account needs for the same address.
	PerEmail bool
}

/*
====================================
CLEANUP CONFIG
====================================
*/

// CleanupConfig schedules token garbage collection. Specs use the standard
// five-field cron syntax or descriptors such as "@hourly".
type CleanupConfig struct {
	Enabled          bool
	ExpiredSweepSpec string
	UsedPurgeSpec    string
	UsedRetention    time.Duration
	RunTimeout       time.Duration
}

/*
====================================
EMAIL CONFIG
====================================
*/

// EmailConfig controls outbound mail composition and the async dispatcher.
type EmailConfig struct {
	AppName     string
	FrontendURL string
	BufferSize  int
	Workers     int
	SendTimeout time.Duration
	// RatePerSecond throttles sends across workers; 0 disables throttling.
	RatePerSecond float64
	Burst         int
	SendWelcome   bool
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

type AccountConfig struct {
	RequireVerifiedEmail       bool
	SendVerificationOnRegister bool
	// LookupConcurrency bounds parallel user-store reads when listing
	// sessions across principals.
	LookupConcurrency int
	// RevokeOtherSessionsOnPasswordChange expires every session of the
	// principal except the one that made the change.
	RevokeOtherSessionsOnPasswordChange bool
}

/*
====================================
AUDIT AND METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the defaults every Builder starts from.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			RedisPrefix:            "ss",
			MaxConcurrent:          -1,
			PreventLoginIfExceeded: false,
			MaxInactiveInterval:    30 * time.Minute,
			CookieName:             "SESSION",
			CookieSecure:           true,
		},
		Tokens: TokenConfig{
			RedisPrefix:                   "vt",
			TokenBytes:                    32,
			EmailVerificationTTL:          24 * time.Hour,
			PasswordResetTTL:              2 * time.Hour,
			EmailChangeTTL:                24 * time.Hour,
			RevokeSessionsOnPasswordReset: true,
		},
		RateLimit: RateLimitConfig{
			MaxPerHour: 5,
			MaxPerDay:  20,
		},
		Cleanup: CleanupConfig{
			Enabled:          true,
			ExpiredSweepSpec: "@hourly",
			UsedPurgeSpec:    "0 0 * * *",
			UsedRetention:    30 * 24 * time.Hour,
			RunTimeout:       5 * time.Minute,
		},
		Email: EmailConfig{
			AppName:     "goSession",
			FrontendURL: "http://localhost:3000",
			BufferSize:  256,
			Workers:     2,
			SendTimeout: 15 * time.Second,
			Burst:       1,
			SendWelcome: true,
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			MinLength:   8,
		},
		Account: AccountConfig{
			RequireVerifiedEmail:                false,
			SendVerificationOnRegister:          true,
			LookupConcurrency:                   8,
			RevokeOtherSessionsOnPasswordChange: true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Config holds only value fields, so a plain copy is a deep copy.
func cloneConfig(cfg Config) Config {
	return cfg
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Session
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must be set")
	}
	if c.Session.MaxInactiveInterval < time.Second {
		return errors.New("Session MaxInactiveInterval must be >= 1s")
	}
	if c.Session.CookieName == "" {
		return errors.New("Session CookieName must be set")
	}

	// Tokens
	if c.Tokens.TokenBytes < 32 {
		return errors.New("Tokens TokenBytes must be >= 32")
	}
	if c.Tokens.EmailVerificationTTL <= 0 || c.Tokens.PasswordResetTTL <= 0 || c.Tokens.EmailChangeTTL <= 0 {
		return errors.New("Tokens TTLs must be > 0")
	}

	// Rate limits
	if c.RateLimit.MaxPerHour <= 0 || c.RateLimit.MaxPerDay <= 0 {
		return errors.New("RateLimit ceilings must be > 0")
	}
	if c.RateLimit.MaxPerDay < c.RateLimit.MaxPerHour {
		return errors.New("RateLimit MaxPerDay must be >= MaxPerHour")
	}

	// Cleanup
	if c.Cleanup.Enabled {
		if _, err := cron.ParseStandard(c.Cleanup.ExpiredSweepSpec); err != nil {
			return fmt.Errorf("Cleanup ExpiredSweepSpec: %w", err)
		}
		if _, err := cron.ParseStandard(c.Cleanup.UsedPurgeSpec); err != nil {
			return fmt.Errorf("Cleanup UsedPurgeSpec: %w", err)
		}
	}
	if c.Cleanup.UsedRetention <= 0 {
		return errors.New("Cleanup UsedRetention must be > 0")
	}

	// Email
	if u, err := url.Parse(c.Email.FrontendURL); err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("Email FrontendURL must be an absolute URL")
	}
	if c.Email.BufferSize <= 0 || c.Email.Workers <= 0 {
		return errors.New("Email BufferSize and Workers must be > 0")
	}
	if c.Email.RatePerSecond < 0 {
		return errors.New("Email RatePerSecond must be >= 0")
	}
	if c.Email.RatePerSecond > 0 && c.Email.Burst <= 0 {
		return errors.New("Email Burst must be > 0 when RatePerSecond is set")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 || c.Password.Parallelism < 1 {
		return errors.New("Password Time and Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 || c.Password.KeyLength < 16 {
		return errors.New("Password SaltLength and KeyLength must be >= 16")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}

	if c.Account.LookupConcurrency <= 0 {
		return errors.New("Account LookupConcurrency must be > 0")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	return nil
}

func (c TokenConfig) ttlFor(typ TokenType) time.Duration {
	switch typ {
	case TokenPasswordReset:
		return c.PasswordResetTTL
	case TokenEmailChange:
		return c.EmailChangeTTL
	default:
		return c.EmailVerificationTTL
	}
}
