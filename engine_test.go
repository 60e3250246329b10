package goSession

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

var testStart = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memUserStore struct {
	mu    sync.Mutex
	byID  map[string]*Principal
	order []string
	// saveHook, when set, runs before every Save and can fail it.
	saveHook func(*Principal) error
}

func newMemUserStore(users ...*Principal) *memUserStore {
	s := &memUserStore{byID: map[string]*Principal{}}
	for _, u := range users {
		s.put(u)
	}
	return s
}

func (s *memUserStore) put(p *Principal) {
	if _, ok := s.byID[p.ID]; !ok {
		s.order = append(s.order, p.ID)
	}
	s.byID[p.ID] = p.Clone()
}

func (s *memUserStore) FindByEmail(_ context.Context, email string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		if p := s.byID[id]; strings.EqualFold(p.Email, email) {
			return p.Clone(), nil
		}
	}
	return nil, nil
}

func (s *memUserStore) FindByID(_ context.Context, id string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[id].Clone(), nil
}

func (s *memUserStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	p, err := s.FindByEmail(ctx, email)
	return p != nil, err
}

func (s *memUserStore) ExistsByUsername(_ context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.byID {
		if p.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (s *memUserStore) Save(_ context.Context, p *Principal) error {
	if s.saveHook != nil {
		if err := s.saveHook(p); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, other := range s.byID {
		if id != p.ID && strings.EqualFold(other.Email, p.Email) {
			return ErrAccountExists
		}
	}
	s.put(p)
	return nil
}

func (s *memUserStore) get(id string) *Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[id].Clone()
}

type sentMail struct {
	to, subject, body string
}

type captureSender struct {
	mu   sync.Mutex
	sent []sentMail
}

func (c *captureSender) Send(_ context.Context, to, subject, body string) error {
	c.mu.Lock()
	c.sent = append(c.sent, sentMail{to, subject, body})
	c.mu.Unlock()
	return nil
}

func (c *captureSender) all() []sentMail {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMail(nil), c.sent...)
}

// waitFor polls until n messages were delivered.
func (c *captureSender) waitFor(t *testing.T, n int) []sentMail {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.all(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d emails, got %d", n, len(c.all()))
	return nil
}

type testEnv struct {
	engine *Engine
	users  *memUserStore
	mail   *captureSender
	clock  *fakeClock
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	logs   *logtest.Hook
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func newTestEnv(t *testing.T, mutate func(*Config), users ...*Principal) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	env := &testEnv{
		users: newMemUserStore(users...),
		mail:  &captureSender{},
		clock: &fakeClock{now: testStart},
		mr:    mr,
		rdb:   rdb,
		logs:  logtest.NewLocal(logger),
	}
	env.engine, err = New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(env.users).
		WithEmailSender(env.mail).
		WithClock(env.clock).
		WithLogger(logger).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	t.Cleanup(func() {
		env.engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return env
}

func newPrincipal(id, email string, roles ...Role) *Principal {
	if len(roles) == 0 {
		roles = []Role{RoleUser}
	}
	return &Principal{
		ID:        id,
		Username:  id,
		Email:     email,
		Provider:  ProviderLocal,
		Roles:     roles,
		Enabled:   true,
		CreatedAt: testStart.Add(-24 * time.Hour),
	}
}

// liveTokens returns the live token values of (principal, type), oldest first.
func (env *testEnv) liveTokens(t *testing.T, principalID string, typ TokenType) []string {
	t.Helper()
	list, err := env.engine.tokens.ListByPrincipal(context.Background(), principalID, typ)
	if err != nil {
		t.Fatalf("ListByPrincipal: %v", err)
	}
	var out []string
	for _, tok := range list {
		if tok.IsValid(env.clock.Now()) {
			out = append(out, tok.Value)
		}
	}
	return out
}

func (env *testEnv) onlyLiveToken(t *testing.T, principalID string, typ TokenType) string {
	t.Helper()
	live := env.liveTokens(t, principalID, typ)
	if len(live) != 1 {
		t.Fatalf("expected exactly one live %s token, got %d", typ, len(live))
	}
	return live[0]
}

func TestBuildRequiresCollaborators(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	if _, err := New().WithUserStore(newMemUserStore()).Build(); err == nil {
		t.Fatal("expected error without redis")
	}
	if _, err := New().WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected error without user store")
	}

	bad := testConfig()
	bad.Tokens.TokenBytes = 16
	if _, err := New().WithConfig(bad).WithRedis(rdb).WithUserStore(newMemUserStore()).Build(); err == nil {
		t.Fatal("expected config validation error")
	}

	b := New().WithConfig(testConfig()).WithRedis(rdb).WithUserStore(newMemUserStore())
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestEngineCloseIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	env.engine.Close()
	env.engine.Close()

	var nilEngine *Engine
	nilEngine.Close()
	if nilEngine.AuditDropped() != 0 || nilEngine.EmailDropped() != 0 {
		t.Fatal("nil engine must report zero drops")
	}
	if snap := nilEngine.MetricsSnapshot(); len(snap.Counters) != 0 {
		t.Fatal("nil engine snapshot must be empty")
	}
}
