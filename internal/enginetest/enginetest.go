// Package enginetest builds engines over miniredis and in-memory
// collaborators for tests outside the root package.
package enginetest

import (
	"context"
	"sync"
	"testing"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Users is a goSession.UserStore held in memory.
type Users struct {
	mu   sync.Mutex
	byID map[string]*goSession.Principal
}

func NewUsers(principals ...*goSession.Principal) *Users {
	u := &Users{byID: make(map[string]*goSession.Principal)}
	for _, p := range principals {
		u.byID[p.ID] = p.Clone()
	}
	return u
}

func (u *Users) FindByEmail(_ context.Context, email string) (*goSession.Principal, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, p := range u.byID {
		if p.Email == email {
			return p.Clone(), nil
		}
	}
	return nil, nil
}

func (u *Users) FindByID(_ context.Context, id string) (*goSession.Principal, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.byID[id].Clone(), nil
}

func (u *Users) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	p, _ := u.FindByEmail(ctx, email)
	return p != nil, nil
}

func (u *Users) ExistsByUsername(_ context.Context, username string) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, p := range u.byID {
		if p.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (u *Users) Save(_ context.Context, p *goSession.Principal) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	for id, other := range u.byID {
		if id != p.ID && (other.Email == p.Email || other.Username == p.Username) {
			return goSession.ErrAccountExists
		}
	}
	u.byID[p.ID] = p.Clone()
	return nil
}

// Get returns a copy of the stored principal, or nil.
func (u *Users) Get(id string) *goSession.Principal {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.byID[id].Clone()
}

type Mail struct {
	To, Subject, Body string
}

// Outbox records every message the engine sends.
type Outbox struct {
	mu   sync.Mutex
	sent []Mail
}

func (o *Outbox) Send(_ context.Context, to, subject, body string) error {
	o.mu.Lock()
	o.sent = append(o.sent, Mail{to, subject, body})
	o.mu.Unlock()
	return nil
}

func (o *Outbox) All() []Mail {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Mail(nil), o.sent...)
}

// WaitFor polls until at least n messages were sent.
func (o *Outbox) WaitFor(t testing.TB, n int) []Mail {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := o.All(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d emails, got %d", n, len(o.All()))
	return nil
}

type Env struct {
	Engine *goSession.Engine
	Users  *Users
	Outbox *Outbox
	Redis  *redis.Client
	Server *miniredis.Miniredis
}

// Config returns defaults with cheap argon2 parameters.
func Config() goSession.Config {
	cfg := goSession.DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Session.CookieSecure = false
	return cfg
}

// New builds an engine and registers cleanup on t. mutate may be nil.
func New(t testing.TB, mutate func(*goSession.Config), principals ...*goSession.Principal) *Env {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := Config()
	if mutate != nil {
		mutate(&cfg)
	}
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	env := &Env{
		Users:  NewUsers(principals...),
		Outbox: &Outbox{},
		Redis:  rdb,
		Server: mr,
	}
	env.Engine, err = goSession.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(env.Users).
		WithEmailSender(env.Outbox).
		WithLogger(logger).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() {
		env.Engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return env
}

// Principal returns an enabled, verified local account.
func Principal(id, email string, roles ...goSession.Role) *goSession.Principal {
	if len(roles) == 0 {
		roles = []goSession.Role{goSession.RoleUser}
	}
	return &goSession.Principal{
		ID:            id,
		Username:      id,
		Email:         email,
		EmailVerified: true,
		Provider:      goSession.ProviderLocal,
		Roles:         roles,
		Enabled:       true,
		CreatedAt:     time.Now().UTC().Add(-time.Hour),
	}
}
