// Package envconfig loads process settings for cmd/sessiond from the
// environment and an optional .env file using Viper, and applies them onto
// a goSession.Config.
package envconfig

import (
	"errors"
	"fmt"
	"strings"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/oauth"
	"github.com/spf13/viper"
)

// Settings holds every recognized environment key.
type Settings struct {
	HTTPAddr        string        `mapstructure:"HTTP_ADDR"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	// LogFormat is "json" or "text".
	LogFormat string `mapstructure:"LOG_FORMAT"`

	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	MigrateOnStart bool   `mapstructure:"MIGRATE_ON_START"`
	DBMaxOpen      int    `mapstructure:"DB_MAX_OPEN_CONNS"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	// TokenBackend selects the verification token store: "redis" or "postgres".
	TokenBackend string `mapstructure:"TOKEN_BACKEND"`

	SessionMaxConcurrent          int           `mapstructure:"SESSION_MAX_CONCURRENT"`
	SessionPreventLoginIfExceeded bool          `mapstructure:"SESSION_PREVENT_LOGIN_IF_EXCEEDED"`
	SessionMaxInactive            time.Duration `mapstructure:"SESSION_MAX_INACTIVE"`
	SessionCookieName             string        `mapstructure:"SESSION_COOKIE_NAME"`
	SessionCookieSecure           bool          `mapstructure:"SESSION_COOKIE_SECURE"`
	TrustProxyHeaders             bool          `mapstructure:"TRUST_PROXY_HEADERS"`

	TokenVerificationTTLHours  int  `mapstructure:"TOKEN_VERIFICATION_TTL_HOURS"`
	TokenPasswordResetTTLHours int  `mapstructure:"TOKEN_PASSWORD_RESET_TTL_HOURS"`
	TokenEmailChangeTTLHours   int  `mapstructure:"TOKEN_EMAIL_CHANGE_TTL_HOURS"`
	TokenMaxPerHour            int  `mapstructure:"TOKEN_MAX_PER_HOUR"`
	TokenMaxPerDay             int  `mapstructure:"TOKEN_MAX_PER_DAY"`
	TokenLimitPerEmail         bool `mapstructure:"TOKEN_LIMIT_PER_EMAIL"`
	TokenUsedRetentionDays     int  `mapstructure:"TOKEN_USED_RETENTION_DAYS"`
	CleanupEnabled             bool `mapstructure:"CLEANUP_ENABLED"`

	AppName       string  `mapstructure:"APP_NAME"`
	FrontendURL   string  `mapstructure:"FRONTEND_URL"`
	MailRate      float64 `mapstructure:"MAIL_RATE_PER_SECOND"`
	SMTPAddr      string  `mapstructure:"SMTP_ADDR"`
	SMTPUsername  string  `mapstructure:"SMTP_USERNAME"`
	SMTPPassword  string  `mapstructure:"SMTP_PASSWORD"`
	MailFrom      string  `mapstructure:"MAIL_FROM"`
	MailFromName  string  `mapstructure:"MAIL_FROM_NAME"`
	SendWelcome   bool    `mapstructure:"MAIL_SEND_WELCOME"`
	RequireVerify bool    `mapstructure:"REQUIRE_VERIFIED_EMAIL"`

	GoogleClientID     string `mapstructure:"OAUTH_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `mapstructure:"OAUTH_GOOGLE_CLIENT_SECRET"`
	GitHubClientID     string `mapstructure:"OAUTH_GITHUB_CLIENT_ID"`
	GitHubClientSecret string `mapstructure:"OAUTH_GITHUB_CLIENT_SECRET"`
	// OAuthRedirectBase is the public origin; callbacks land on
	// <base>/api/oauth2/callback/<provider>.
	OAuthRedirectBase string `mapstructure:"OAUTH_REDIRECT_BASE"`

	AuditEnabled bool `mapstructure:"AUDIT_ENABLED"`
	// MetricsExporter is "prometheus", "otel" or "none".
	MetricsExporter string `mapstructure:"METRICS_EXPORTER"`
	OTLPEndpoint    string `mapstructure:"OTLP_ENDPOINT"`
	OTLPInsecure    bool   `mapstructure:"OTLP_INSECURE"`
}

func setDefaults(v *viper.Viper) {
	d := goSession.DefaultConfig()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("MIGRATE_ON_START", true)
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("TOKEN_BACKEND", "redis")

	v.SetDefault("SESSION_MAX_CONCURRENT", d.Session.MaxConcurrent)
	v.SetDefault("SESSION_PREVENT_LOGIN_IF_EXCEEDED", d.Session.PreventLoginIfExceeded)
	v.SetDefault("SESSION_MAX_INACTIVE", d.Session.MaxInactiveInterval.String())
	v.SetDefault("SESSION_COOKIE_NAME", d.Session.CookieName)
	v.SetDefault("SESSION_COOKIE_SECURE", d.Session.CookieSecure)
	v.SetDefault("TRUST_PROXY_HEADERS", false)

	v.SetDefault("TOKEN_VERIFICATION_TTL_HOURS", int(d.Tokens.EmailVerificationTTL.Hours()))
	v.SetDefault("TOKEN_PASSWORD_RESET_TTL_HOURS", int(d.Tokens.PasswordResetTTL.Hours()))
	v.SetDefault("TOKEN_EMAIL_CHANGE_TTL_HOURS", int(d.Tokens.EmailChangeTTL.Hours()))
	v.SetDefault("TOKEN_MAX_PER_HOUR", d.RateLimit.MaxPerHour)
	v.SetDefault("TOKEN_MAX_PER_DAY", d.RateLimit.MaxPerDay)
	v.SetDefault("TOKEN_LIMIT_PER_EMAIL", d.RateLimit.PerEmail)
	v.SetDefault("TOKEN_USED_RETENTION_DAYS", int(d.Cleanup.UsedRetention.Hours()/24))
	v.SetDefault("CLEANUP_ENABLED", d.Cleanup.Enabled)

	v.SetDefault("APP_NAME", d.Email.AppName)
	v.SetDefault("FRONTEND_URL", d.Email.FrontendURL)
	v.SetDefault("MAIL_RATE_PER_SECOND", d.Email.RatePerSecond)
	v.SetDefault("SMTP_ADDR", "")
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("MAIL_FROM", "")
	v.SetDefault("MAIL_FROM_NAME", "")
	v.SetDefault("MAIL_SEND_WELCOME", d.Email.SendWelcome)
	v.SetDefault("REQUIRE_VERIFIED_EMAIL", d.Account.RequireVerifiedEmail)

	v.SetDefault("OAUTH_GOOGLE_CLIENT_ID", "")
	v.SetDefault("OAUTH_GOOGLE_CLIENT_SECRET", "")
	v.SetDefault("OAUTH_GITHUB_CLIENT_ID", "")
	v.SetDefault("OAUTH_GITHUB_CLIENT_SECRET", "")
	v.SetDefault("OAUTH_REDIRECT_BASE", "http://localhost:8080")

	v.SetDefault("AUDIT_ENABLED", false)
	v.SetDefault("METRICS_EXPORTER", "prometheus")
	v.SetDefault("OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("OTLP_INSECURE", true)
}

// Load reads envFile when it exists, then the environment, which wins.
// An empty envFile skips the file.
func Load(envFile string) (*Settings, error) {
	v := viper.New()
	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		_ = v.ReadInConfig() // a missing file is fine
	}
	v.AutomaticEnv()
	setDefaults(v)

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("envconfig: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) validate() error {
	if s.HTTPAddr == "" {
		return errors.New("envconfig: HTTP_ADDR must be set")
	}
	// the user store is always Postgres
	if s.DatabaseURL == "" {
		return errors.New("envconfig: DATABASE_URL must be set")
	}
	switch s.TokenBackend {
	case "redis", "postgres":
	default:
		return fmt.Errorf("envconfig: TOKEN_BACKEND must be redis or postgres, got %q", s.TokenBackend)
	}
	switch s.MetricsExporter {
	case "prometheus", "otel", "none":
	default:
		return fmt.Errorf("envconfig: METRICS_EXPORTER must be prometheus, otel or none, got %q", s.MetricsExporter)
	}
	return nil
}

// Apply overlays the settings onto cfg. The result still needs
// cfg.Validate.
func (s *Settings) Apply(cfg *goSession.Config) {
	cfg.Session.MaxConcurrent = s.SessionMaxConcurrent
	cfg.Session.PreventLoginIfExceeded = s.SessionPreventLoginIfExceeded
	cfg.Session.MaxInactiveInterval = s.SessionMaxInactive
	cfg.Session.CookieName = s.SessionCookieName
	cfg.Session.CookieSecure = s.SessionCookieSecure

	cfg.Tokens.EmailVerificationTTL = time.Duration(s.TokenVerificationTTLHours) * time.Hour
	cfg.Tokens.PasswordResetTTL = time.Duration(s.TokenPasswordResetTTLHours) * time.Hour
	cfg.Tokens.EmailChangeTTL = time.Duration(s.TokenEmailChangeTTLHours) * time.Hour
	cfg.RateLimit.MaxPerHour = s.TokenMaxPerHour
	cfg.RateLimit.MaxPerDay = s.TokenMaxPerDay
	cfg.RateLimit.PerEmail = s.TokenLimitPerEmail

	cfg.Cleanup.Enabled = s.CleanupEnabled
	cfg.Cleanup.UsedRetention = time.Duration(s.TokenUsedRetentionDays) * 24 * time.Hour

	cfg.Email.AppName = s.AppName
	cfg.Email.FrontendURL = s.FrontendURL
	cfg.Email.RatePerSecond = s.MailRate
	cfg.Email.SendWelcome = s.SendWelcome
	cfg.Account.RequireVerifiedEmail = s.RequireVerify

	cfg.Audit.Enabled = s.AuditEnabled
	cfg.Metrics.Enabled = s.MetricsExporter != "none"
}

// OAuthProviders returns a registration for every provider with a client id.
func (s *Settings) OAuthProviders() map[string]oauth.ProviderConfig {
	out := make(map[string]oauth.ProviderConfig)
	base := strings.TrimRight(s.OAuthRedirectBase, "/")
	if s.GoogleClientID != "" {
		out["google"] = oauth.ProviderConfig{
			ClientID:     s.GoogleClientID,
			ClientSecret: s.GoogleClientSecret,
			RedirectURL:  base + "/api/oauth2/callback/google",
		}
	}
	if s.GitHubClientID != "" {
		out["github"] = oauth.ProviderConfig{
			ClientID:     s.GitHubClientID,
			ClientSecret: s.GitHubClientSecret,
			RedirectURL:  base + "/api/oauth2/callback/github",
		}
	}
	return out
}
