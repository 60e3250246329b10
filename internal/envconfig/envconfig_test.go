package envconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	goSession "github.com/MrEthical07/goSession"
)

const testDSN = "postgres://gosession@localhost:5432/gosession?sslmode=disable"

func TestLoadDefaultsMatchEngine(t *testing.T) {
	t.Setenv("DATABASE_URL", testDSN)
	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cfg := goSession.DefaultConfig()
	s.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("applied defaults invalid: %v", err)
	}

	def := goSession.DefaultConfig()
	if cfg.Session != def.Session {
		t.Errorf("session config drifted: %+v vs %+v", cfg.Session, def.Session)
	}
	if cfg.Tokens != def.Tokens || cfg.RateLimit != def.RateLimit {
		t.Errorf("token config drifted")
	}
	if cfg.Cleanup.UsedRetention != def.Cleanup.UsedRetention {
		t.Errorf("UsedRetention = %v, want %v", cfg.Cleanup.UsedRetention, def.Cleanup.UsedRetention)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", testDSN)
	t.Setenv("SESSION_MAX_CONCURRENT", "3")
	t.Setenv("SESSION_PREVENT_LOGIN_IF_EXCEEDED", "true")
	t.Setenv("SESSION_MAX_INACTIVE", "45m")
	t.Setenv("TOKEN_VERIFICATION_TTL_HOURS", "48")
	t.Setenv("TOKEN_PASSWORD_RESET_TTL_HOURS", "1")
	t.Setenv("TOKEN_MAX_PER_HOUR", "2")
	t.Setenv("TOKEN_MAX_PER_DAY", "4")
	t.Setenv("TOKEN_LIMIT_PER_EMAIL", "true")

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := goSession.DefaultConfig()
	s.Apply(&cfg)

	if cfg.Session.MaxConcurrent != 3 || !cfg.Session.PreventLoginIfExceeded {
		t.Errorf("session cap not applied: %+v", cfg.Session)
	}
	if cfg.Session.MaxInactiveInterval != 45*time.Minute {
		t.Errorf("MaxInactiveInterval = %v", cfg.Session.MaxInactiveInterval)
	}
	if cfg.Tokens.EmailVerificationTTL != 48*time.Hour || cfg.Tokens.PasswordResetTTL != time.Hour {
		t.Errorf("ttls not applied: %+v", cfg.Tokens)
	}
	if cfg.RateLimit.MaxPerHour != 2 || cfg.RateLimit.MaxPerDay != 4 || !cfg.RateLimit.PerEmail {
		t.Errorf("rate limits not applied: %+v", cfg.RateLimit)
	}
}

func TestEnvFileIsReadAndEnvironmentWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "APP_NAME=Acme\nHTTP_ADDR=:9000\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HTTP_ADDR", ":9100")
	t.Setenv("DATABASE_URL", testDSN)

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.AppName != "Acme" {
		t.Errorf("AppName = %q, want Acme", s.AppName)
	}
	if s.HTTPAddr != ":9100" {
		t.Errorf("HTTPAddr = %q, want environment value", s.HTTPAddr)
	}
}

func TestValidateRejectsBadBackends(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	for _, backend := range []string{"redis", "postgres"} {
		t.Setenv("TOKEN_BACKEND", backend)
		if _, err := Load(""); err == nil {
			t.Errorf("%s backend without DATABASE_URL must fail", backend)
		}
	}

	t.Setenv("DATABASE_URL", testDSN)
	t.Setenv("TOKEN_BACKEND", "memcached")
	if _, err := Load(""); err == nil {
		t.Error("unknown token backend must fail")
	}

	t.Setenv("TOKEN_BACKEND", "redis")
	t.Setenv("METRICS_EXPORTER", "statsd")
	if _, err := Load(""); err == nil {
		t.Error("unknown exporter must fail")
	}
}

func TestOAuthProviders(t *testing.T) {
	t.Setenv("DATABASE_URL", testDSN)
	t.Setenv("OAUTH_GITHUB_CLIENT_ID", "gh")
	t.Setenv("OAUTH_REDIRECT_BASE", "https://auth.example.com/")

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	providers := s.OAuthProviders()
	if len(providers) != 1 {
		t.Fatalf("expected only github, got %v", providers)
	}
	if got := providers["github"].RedirectURL; got != "https://auth.example.com/api/oauth2/callback/github" {
		t.Errorf("RedirectURL = %q", got)
	}
}
