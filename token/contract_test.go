package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var testBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestToken(value string, typ Type, principal string, created time.Time, ttl time.Duration) Token {
	return Token{
		Value:       value,
		Type:        typ,
		PrincipalID: principal,
		Email:       principal + "@example.com",
		CreatedAt:   created,
		ExpiresAt:   created.Add(ttl),
	}
}

// runStoreContract exercises behaviour every Store implementation shares.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("save and find", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		tok := newTestToken("find-me", EmailVerification, "p1", testBase, 24*time.Hour)
		tok.Email = "  P1@Example.COM "
		if err := s.Save(ctx, tok); err != nil {
			t.Fatalf("Save: %v", err)
		}
		got, err := s.Find(ctx, "find-me")
		if err != nil {
			t.Fatalf("Find: %v", err)
		}
		if got.PrincipalID != "p1" || got.Type != EmailVerification || got.Email != "p1@example.com" {
			t.Fatalf("unexpected token %+v", got)
		}
		if !got.ExpiresAt.Equal(testBase.Add(24 * time.Hour)) {
			t.Fatalf("expiry not preserved: %v", got.ExpiresAt)
		}
		if !got.IsValid(testBase) {
			t.Fatalf("fresh token must be valid")
		}
		if _, err := s.Find(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("duplicate value rejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		tok := newTestToken("dup", PasswordReset, "p1", testBase, 2*time.Hour)
		if err := s.Save(ctx, tok); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if err := s.Save(ctx, tok); !errors.Is(err, ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}
	})

	t.Run("confirm is single use", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Save(ctx, newTestToken("once", PasswordReset, "p1", testBase, 2*time.Hour)); err != nil {
			t.Fatalf("Save: %v", err)
		}
		now := testBase.Add(time.Minute)
		got, err := s.Confirm(ctx, "once", PasswordReset, now)
		if err != nil {
			t.Fatalf("Confirm: %v", err)
		}
		if !got.Used || got.ConfirmedAt == nil || !got.ConfirmedAt.Equal(now) {
			t.Fatalf("confirmed token not stamped: %+v", got)
		}
		if got.IsValid(now) {
			t.Fatalf("consumed token must not be valid")
		}
		if _, err := s.Confirm(ctx, "once", PasswordReset, now); !errors.Is(err, ErrUsed) {
			t.Fatalf("expected ErrUsed on replay, got %v", err)
		}
	})

	t.Run("confirm refuses expired and wrong type without consuming", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Save(ctx, newTestToken("typed", EmailChange, "p1", testBase, time.Hour)); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if _, err := s.Confirm(ctx, "typed", EmailVerification, testBase); !errors.Is(err, ErrTypeMismatch) {
			t.Fatalf("expected ErrTypeMismatch, got %v", err)
		}
		still, err := s.Find(ctx, "typed")
		if err != nil || still.Used {
			t.Fatalf("type mismatch must not consume: %+v err=%v", still, err)
		}
		if _, err := s.Confirm(ctx, "typed", EmailChange, testBase.Add(time.Hour)); !errors.Is(err, ErrExpired) {
			t.Fatalf("expected ErrExpired at the expiry instant, got %v", err)
		}
		if _, err := s.Confirm(ctx, "nope", EmailChange, testBase); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("concurrent confirm has one winner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Save(ctx, newTestToken("race", EmailVerification, "p1", testBase, time.Hour)); err != nil {
			t.Fatalf("Save: %v", err)
		}

		const workers = 16
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Confirm(ctx, "race", EmailVerification, testBase.Add(time.Second))
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				} else if !errors.Is(err, ErrUsed) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		if wins != 1 {
			t.Fatalf("expected exactly one successful confirm, got %d", wins)
		}
	})

	t.Run("invalidate live and counts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			tok := newTestToken(fmt.Sprintf("pr-%d", i), PasswordReset, "p1", testBase.Add(time.Duration(i)*time.Minute), 2*time.Hour)
			if err := s.Save(ctx, tok); err != nil {
				t.Fatalf("Save: %v", err)
			}
		}
		other := newTestToken("ev-0", EmailVerification, "p1", testBase, 24*time.Hour)
		if err := s.Save(ctx, other); err != nil {
			t.Fatalf("Save: %v", err)
		}

		n, err := s.CountCreatedSince(ctx, "p1", PasswordReset, testBase.Add(time.Minute))
		if err != nil || n != 2 {
			t.Fatalf("expected 2 tokens since +1m, got %d err=%v", n, err)
		}
		n, err = s.CountCreatedForEmailSince(ctx, "P1@example.com", PasswordReset, testBase)
		if err != nil || n != 3 {
			t.Fatalf("expected 3 tokens for email, got %d err=%v", n, err)
		}

		now := testBase.Add(10 * time.Minute)
		n, err = s.InvalidateLive(ctx, "p1", PasswordReset, now)
		if err != nil || n != 3 {
			t.Fatalf("expected 3 invalidated, got %d err=%v", n, err)
		}
		list, err := s.ListByPrincipal(ctx, "p1", PasswordReset)
		if err != nil || len(list) != 3 {
			t.Fatalf("expected 3 listed tokens, got %d err=%v", len(list), err)
		}
		for i, tok := range list {
			if tok.IsValid(now) {
				t.Fatalf("token %d still valid after invalidation", i)
			}
			if tok.ConfirmedAt != nil {
				t.Fatalf("invalidation must not stamp confirmation")
			}
		}
		if list[0].Value != "pr-0" || list[2].Value != "pr-2" {
			t.Fatalf("expected oldest first, got %s..%s", list[0].Value, list[2].Value)
		}
		ev, err := s.Find(ctx, "ev-0")
		if err != nil || !ev.IsValid(now) {
			t.Fatalf("other type must stay live: %+v err=%v", ev, err)
		}
	})

	t.Run("cleanup deletes only dead rows", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		expired := newTestToken("expired", PasswordReset, "p1", testBase.Add(-3*time.Hour), 2*time.Hour)
		live := newTestToken("live", EmailVerification, "p2", testBase, 24*time.Hour)
		oldUsed := newTestToken("old-used", EmailChange, "p3", testBase.Add(-40*24*time.Hour), 100*24*time.Hour)
		for _, tok := range []Token{expired, live, oldUsed} {
			if err := s.Save(ctx, tok); err != nil {
				t.Fatalf("Save %s: %v", tok.Value, err)
			}
		}
		if _, err := s.Confirm(ctx, "old-used", EmailChange, testBase.Add(-35*24*time.Hour)); err != nil {
			t.Fatalf("Confirm: %v", err)
		}

		n, err := s.DeleteExpired(ctx, testBase)
		if err != nil || n != 1 {
			t.Fatalf("expected 1 expired deletion, got %d err=%v", n, err)
		}
		n, err = s.DeleteExpired(ctx, testBase)
		if err != nil || n != 0 {
			t.Fatalf("sweep must be idempotent, got %d err=%v", n, err)
		}

		n, err = s.DeleteUsedBefore(ctx, testBase.Add(-30*24*time.Hour))
		if err != nil || n != 1 {
			t.Fatalf("expected 1 used deletion, got %d err=%v", n, err)
		}
		if _, err := s.Find(ctx, "old-used"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("old used token should be gone, got %v", err)
		}
		if _, err := s.Find(ctx, "live"); err != nil {
			t.Fatalf("live token must survive cleanup: %v", err)
		}
		n, err = s.CountCreatedSince(ctx, "p1", PasswordReset, testBase.Add(-24*time.Hour))
		if err != nil || n != 0 {
			t.Fatalf("purged token must leave the indexes, got %d err=%v", n, err)
		}
	})
}
