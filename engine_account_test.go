package goSession

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrEthical07/goSession/oauth"
	"github.com/sirupsen/logrus"
)

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	p, err := env.engine.Register(ctx, RegisterRequest{
		Username:  "ada",
		Email:     " Ada@Example.com ",
		Password:  "analytical-engine",
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if p.Email != "ada@example.com" || p.Provider != ProviderLocal || !p.HasRole(RoleUser) || p.EmailVerified {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if p.PasswordHash == "" || strings.Contains(p.PasswordHash, "analytical") {
		t.Fatal("password must be stored hashed")
	}

	sent := env.mail.waitFor(t, 1)
	if sent[0].subject != "Verify Your Email Address" || sent[0].to != "ada@example.com" {
		t.Fatalf("expected verification email, got %+v", sent[0])
	}

	got, sid, err := env.engine.LoginWithPassword(ctx, "ADA@example.com", "analytical-engine")
	if err != nil {
		t.Fatalf("LoginWithPassword failed: %v", err)
	}
	if got.ID != p.ID || sid == "" {
		t.Fatalf("unexpected login result: %+v %q", got, sid)
	}
	if env.users.get(p.ID).LastLoginAt == nil {
		t.Fatal("last login not recorded")
	}
	me, err := env.engine.Me(ctx, p.ID)
	if err != nil || me.Username != "ada" {
		t.Fatalf("Me: %+v err=%v", me, err)
	}
}

func TestRegisterRejectsDuplicatesAndWeakPasswords(t *testing.T) {
	env := newTestEnv(t, nil, newPrincipal("taken", "taken@example.com"))
	ctx := context.Background()

	cases := []struct {
		name string
		req  RegisterRequest
		want error
	}{
		{"duplicate email", RegisterRequest{Username: "new", Email: "TAKEN@example.com", Password: "long-enough-1"}, ErrAccountExists},
		{"duplicate username", RegisterRequest{Username: "taken", Email: "new@example.com", Password: "long-enough-1"}, ErrAccountExists},
		{"weak password", RegisterRequest{Username: "new", Email: "new@example.com", Password: "short"}, ErrPasswordPolicy},
		{"bad email", RegisterRequest{Username: "new", Email: "not-an-email", Password: "long-enough-1"}, ErrInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.engine.Register(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestLoginWithPasswordFailures(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Account.RequireVerifiedEmail = true })
	ctx := context.Background()

	hash, err := env.engine.hasher.Hash("correct-horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	seed := func(id string, mutate func(*Principal)) {
		p := newPrincipal(id, id+"@example.com")
		p.PasswordHash = hash
		p.EmailVerified = true
		mutate(p)
		if err := env.users.Save(ctx, p); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	seed("disabled", func(p *Principal) { p.Enabled = false })
	seed("locked", func(p *Principal) { p.Locked = true })
	seed("unverified", func(p *Principal) { p.EmailVerified = false })
	seed("ok", func(*Principal) {})

	cases := []struct {
		email, password string
		want            error
	}{
		{"nobody@example.com", "correct-horse", ErrInvalidCredentials},
		{"ok@example.com", "wrong-horse", ErrInvalidCredentials},
		{"disabled@example.com", "correct-horse", ErrAccountDisabled},
		{"locked@example.com", "correct-horse", ErrAccountLocked},
		{"unverified@example.com", "correct-horse", ErrAccountUnverified},
	}
	for _, tc := range cases {
		if _, _, err := env.engine.LoginWithPassword(ctx, tc.email, tc.password); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.email, tc.want, err)
		}
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricLoginFailure]; got != uint64(len(cases)) {
		t.Fatalf("expected %d login failures, got %d", len(cases), got)
	}
	if _, _, err := env.engine.LoginWithPassword(ctx, "ok@example.com", "correct-horse"); err != nil {
		t.Fatalf("valid login failed: %v", err)
	}
}

func TestLoginRefusedAtSessionCap(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Session.MaxConcurrent = 1
		c.Session.PreventLoginIfExceeded = true
	})
	ctx := context.Background()
	if _, err := env.engine.Register(ctx, RegisterRequest{Username: "u", Email: "u@example.com", Password: "long-enough-1"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, _, err := env.engine.LoginWithPassword(ctx, "u@example.com", "long-enough-1"); err != nil {
		t.Fatalf("first login: %v", err)
	}
	if _, _, err := env.engine.LoginWithPassword(ctx, "u@example.com", "long-enough-1"); !errors.Is(err, ErrSessionLimitExceeded) {
		t.Fatalf("expected ErrSessionLimitExceeded, got %v", err)
	}
}

type stubUserInfo struct {
	provider, id, email, name string
}

func (s stubUserInfo) Provider() string  { return s.provider }
func (s stubUserInfo) ID() string        { return s.id }
func (s stubUserInfo) Email() string     { return s.email }
func (s stubUserInfo) Name() string      { return s.name }
func (s stubUserInfo) FirstName() string { return strings.Fields(s.name)[0] }
func (s stubUserInfo) LastName() string  { return "" }
func (s stubUserInfo) AvatarURL() string { return "" }

var _ oauth.UserInfo = stubUserInfo{}

func TestLoginWithOAuthCreatesVerifiedAccount(t *testing.T) {
	env := newTestEnv(t, nil, newPrincipal("octo", "someone@example.com"))
	ctx := context.Background()

	p, sid, err := env.engine.LoginWithOAuth(ctx, stubUserInfo{"github", "583231", "Someone@example.com.au", "Some One"})
	if err != nil {
		t.Fatalf("LoginWithOAuth failed: %v", err)
	}
	if sid == "" || p.Provider != ProviderGitHub || !p.EmailVerified || !p.HasRole(RoleUser) || p.ProviderID != "583231" {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if p.Username != "someone" {
		t.Fatalf("expected generated username, got %q", p.Username)
	}

	again, _, err := env.engine.LoginWithOAuth(ctx, stubUserInfo{"github", "583231", "someone@example.com.au", "Some One"})
	if err != nil || again.ID != p.ID {
		t.Fatalf("second login must reuse the account: %+v err=%v", again, err)
	}
}

func TestLoginWithOAuthUsernameCollision(t *testing.T) {
	existing := newPrincipal("x", "x@example.com")
	existing.Username = "dup"
	env := newTestEnv(t, nil, existing)

	p, _, err := env.engine.LoginWithOAuth(context.Background(), stubUserInfo{"google", "g1", "dup@other.com", "Dup Licate"})
	if err != nil {
		t.Fatalf("LoginWithOAuth failed: %v", err)
	}
	if p.Username != "dup1" {
		t.Fatalf("expected suffixed username, got %q", p.Username)
	}
}

func TestLoginWithOAuthProviderMismatch(t *testing.T) {
	env := newTestEnv(t, nil, newPrincipal("u1", "u1@example.com"))

	_, _, err := env.engine.LoginWithOAuth(context.Background(), stubUserInfo{"google", "g1", "u1@example.com", "U One"})
	if !errors.Is(err, ErrProviderMismatch) {
		t.Fatalf("expected ErrProviderMismatch, got %v", err)
	}
}

func TestDisableAccountCascadesSessions(t *testing.T) {
	env := newTestEnv(t, nil,
		newPrincipal("u1", "u1@example.com"),
		newPrincipal("admin", "admin@example.com", RoleAdmin),
	)
	ctx := context.Background()

	sid, err := env.engine.CreateSession(ctx, "u1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := env.engine.DisableAccount(ctx, "u1", "admin"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("non-admin must be denied, got %v", err)
	}
	if err := env.engine.DisableAccount(ctx, "admin", "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := env.engine.DisableAccount(ctx, "admin", "u1"); err != nil {
		t.Fatalf("DisableAccount: %v", err)
	}
	if env.users.get("u1").Enabled {
		t.Fatal("account still enabled")
	}
	if _, err := env.engine.ResolveSession(ctx, sid); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("sessions must be invalidated, got %v", err)
	}

	if err := env.engine.EnableAccount(ctx, "admin", "u1"); err != nil {
		t.Fatalf("EnableAccount: %v", err)
	}
	if !env.users.get("u1").Enabled {
		t.Fatal("account not re-enabled")
	}
}

func TestLockAccountCascadesSessions(t *testing.T) {
	env := newTestEnv(t, nil,
		newPrincipal("u1", "u1@example.com"),
		newPrincipal("admin", "admin@example.com", RoleAdmin),
	)
	ctx := context.Background()

	sid, err := env.engine.CreateSession(ctx, "u1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := env.engine.LockAccount(ctx, "u1", "admin"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("non-admin must be denied, got %v", err)
	}
	if err := env.engine.LockAccount(ctx, "admin", "u1"); err != nil {
		t.Fatalf("LockAccount: %v", err)
	}
	if p := env.users.get("u1"); !p.Locked || !p.Enabled {
		t.Fatalf("expected locked and still enabled, got locked=%v enabled=%v", p.Locked, p.Enabled)
	}
	if _, err := env.engine.ResolveSession(ctx, sid); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("sessions must be invalidated, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricAccountLocked]; got != 1 {
		t.Fatalf("expected one locked metric, got %d", got)
	}

	if err := env.engine.UnlockAccount(ctx, "admin", "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := env.engine.UnlockAccount(ctx, "admin", "u1"); err != nil {
		t.Fatalf("UnlockAccount: %v", err)
	}
	if env.users.get("u1").Locked {
		t.Fatal("account still locked")
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t, nil, newPrincipal("oauth-user", "oauth@example.com"))
	ctx := context.Background()

	p, err := env.engine.Register(ctx, RegisterRequest{Username: "ada", Email: "ada@example.com", Password: "analytical-engine"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, keep, err := env.engine.LoginWithPassword(ctx, "ada@example.com", "analytical-engine")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	_, other, err := env.engine.LoginWithPassword(ctx, "ada@example.com", "analytical-engine")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	refusals := []struct {
		name    string
		current string
		next    string
		want    error
	}{
		{"wrong current password", "difference-engine", "jacquard-loom", ErrInvalidCredentials},
		{"unchanged password", "analytical-engine", "analytical-engine", ErrPasswordReuse},
		{"policy", "analytical-engine", "short", ErrPasswordPolicy},
		{"missing new password", "analytical-engine", "", ErrInvalidRequest},
	}
	for _, tc := range refusals {
		err := env.engine.ChangePassword(ctx, ChangePasswordRequest{
			PrincipalID:     p.ID,
			CurrentPassword: tc.current,
			NewPassword:     tc.next,
			SessionID:       keep,
		})
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	err = env.engine.ChangePassword(ctx, ChangePasswordRequest{
		PrincipalID:     p.ID,
		CurrentPassword: "analytical-engine",
		NewPassword:     "difference-engine",
		SessionID:       keep,
	})
	if err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	if _, err := env.engine.ResolveSession(ctx, keep); err != nil {
		t.Fatalf("calling session must survive: %v", err)
	}
	if _, err := env.engine.ResolveSession(ctx, other); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("other session must be revoked, got %v", err)
	}
	if _, _, err := env.engine.LoginWithPassword(ctx, "ada@example.com", "analytical-engine"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must fail, got %v", err)
	}
	if _, _, err := env.engine.LoginWithPassword(ctx, "ada@example.com", "difference-engine"); err != nil {
		t.Fatalf("new password must work: %v", err)
	}

	// accounts without a local password cannot change one
	err = env.engine.ChangePassword(ctx, ChangePasswordRequest{
		PrincipalID:     "oauth-user",
		CurrentPassword: "anything-at-all",
		NewPassword:     "difference-engine",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for passwordless account, got %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricPasswordChanged] != 1 || snap.Counters[MetricPasswordChangeFailed] != 4 {
		t.Fatalf("unexpected metrics: changed=%d failed=%d",
			snap.Counters[MetricPasswordChanged], snap.Counters[MetricPasswordChangeFailed])
	}
}

func TestChangePasswordKeepsSessionsWhenRevocationOff(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Account.RevokeOtherSessionsOnPasswordChange = false
	})
	ctx := context.Background()

	p, err := env.engine.Register(ctx, RegisterRequest{Username: "ada", Email: "ada@example.com", Password: "analytical-engine"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, other, err := env.engine.LoginWithPassword(ctx, "ada@example.com", "analytical-engine")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	err = env.engine.ChangePassword(ctx, ChangePasswordRequest{
		PrincipalID:     p.ID,
		CurrentPassword: "analytical-engine",
		NewPassword:     "difference-engine",
	})
	if err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := env.engine.ResolveSession(ctx, other); err != nil {
		t.Fatalf("session must survive with revocation off: %v", err)
	}
}

func TestLoginRollbackFailureIsLogged(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.engine.Register(ctx, RegisterRequest{Username: "ada", Email: "ada@example.com", Password: "analytical-engine"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	env.mail.waitFor(t, 1)

	saveErr := errors.New("users table unavailable")
	env.users.saveHook = func(*Principal) error {
		// the session exists by now; take Redis down so the rollback fails too
		env.mr.SetError("connection reset")
		return saveErr
	}

	if _, _, err := env.engine.LoginWithPassword(ctx, "ada@example.com", "analytical-engine"); !errors.Is(err, saveErr) {
		t.Fatalf("expected save error, got %v", err)
	}

	var found bool
	for _, entry := range env.logs.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Message == "login rollback failed: session left live" {
			found = true
			if entry.Data[logrus.ErrorKey] == nil {
				t.Fatal("rollback warning carries no error")
			}
		}
	}
	if !found {
		t.Fatal("expected a warning for the failed rollback")
	}
}
