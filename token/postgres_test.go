package token

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

var tokenRowColumns = []string{"token", "token_type", "principal_id", "email", "created_at", "expires_at", "confirmed_at", "used"}

func newPostgresStoreTest(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		_ = db.Close()
	})
	return NewPostgresStore(db), mock
}

func TestPostgresSaveNormalizesEmail(t *testing.T) {
	s, mock := newPostgresStoreTest(t)
	tok := newTestToken("abc", EmailChange, "p1", testBase, time.Hour)
	tok.Email = " New@Example.com"

	mock.ExpectExec("insert into verification_tokens").
		WithArgs("abc", "EMAIL_CHANGE", "p1", "new@example.com", testBase, testBase.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.Save(context.Background(), tok); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestPostgresSaveMapsUniqueViolation(t *testing.T) {
	s, mock := newPostgresStoreTest(t)
	mock.ExpectExec("insert into verification_tokens").
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})

	err := s.Save(context.Background(), newTestToken("abc", PasswordReset, "p1", testBase, time.Hour))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestPostgresConfirmReturnsUpdatedRow(t *testing.T) {
	s, mock := newPostgresStoreTest(t)
	now := testBase.Add(time.Minute)

	mock.ExpectQuery(`update verification_tokens set used=true, confirmed_at=\$2`).
		WithArgs("abc", now, "PASSWORD_RESET").
		WillReturnRows(sqlmock.NewRows(tokenRowColumns).
			AddRow("abc", "PASSWORD_RESET", "p1", "p1@example.com", testBase, testBase.Add(2*time.Hour), now, true))

	tok, err := s.Confirm(context.Background(), "abc", PasswordReset, now)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !tok.Used || tok.ConfirmedAt == nil || !tok.ConfirmedAt.Equal(now) {
		t.Fatalf("unexpected token %+v", tok)
	}
}

func TestPostgresConfirmClassifiesMiss(t *testing.T) {
	cases := []struct {
		name      string
		row       []any
		expected  Type
		want      error
		noRowFind bool
	}{
		{name: "used", row: []any{"abc", "PASSWORD_RESET", "p1", "e", testBase, testBase.Add(time.Hour), testBase, true}, expected: PasswordReset, want: ErrUsed},
		{name: "expired", row: []any{"abc", "PASSWORD_RESET", "p1", "e", testBase, testBase.Add(-time.Minute), nil, false}, expected: PasswordReset, want: ErrExpired},
		{name: "type", row: []any{"abc", "EMAIL_CHANGE", "p1", "e", testBase, testBase.Add(time.Hour), nil, false}, expected: PasswordReset, want: ErrTypeMismatch},
		{name: "missing", noRowFind: true, expected: PasswordReset, want: ErrNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, mock := newPostgresStoreTest(t)
			mock.ExpectQuery("update verification_tokens").WillReturnError(sql.ErrNoRows)
			find := mock.ExpectQuery("select token, token_type").WithArgs("abc")
			if tc.noRowFind {
				find.WillReturnError(sql.ErrNoRows)
			} else {
				find.WillReturnRows(sqlmock.NewRows(tokenRowColumns).AddRow(toDriverValues(tc.row)...))
			}

			if _, err := s.Confirm(context.Background(), "abc", tc.expected, testBase); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestPostgresInvalidateLiveReportsRows(t *testing.T) {
	s, mock := newPostgresStoreTest(t)
	mock.ExpectExec("update verification_tokens set used=true").
		WithArgs("p1", "EMAIL_VERIFICATION", testBase).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.InvalidateLive(context.Background(), "p1", EmailVerification, testBase)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 rows, got %d err=%v", n, err)
	}
}

func TestPostgresCounts(t *testing.T) {
	s, mock := newPostgresStoreTest(t)
	since := testBase.Add(-time.Hour)
	mock.ExpectQuery("select count\\(\\*\\) from verification_tokens where principal_id").
		WithArgs("p1", "PASSWORD_RESET", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectQuery("select count\\(\\*\\) from verification_tokens where email").
		WithArgs("x@example.com", "PASSWORD_RESET", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := s.CountCreatedSince(context.Background(), "p1", PasswordReset, since)
	if err != nil || n != 4 {
		t.Fatalf("principal count: %d err=%v", n, err)
	}
	n, err = s.CountCreatedForEmailSince(context.Background(), "X@example.com", PasswordReset, since)
	if err != nil || n != 7 {
		t.Fatalf("email count: %d err=%v", n, err)
	}
}

func TestPostgresCleanupStatements(t *testing.T) {
	s, mock := newPostgresStoreTest(t)
	cutoff := testBase.Add(-30 * 24 * time.Hour)
	mock.ExpectExec("delete from verification_tokens where expires_at <=").
		WithArgs(testBase).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`delete from verification_tokens where used=true and coalesce\(confirmed_at, created_at\) <`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if n, err := s.DeleteExpired(context.Background(), testBase); err != nil || n != 3 {
		t.Fatalf("DeleteExpired: %d err=%v", n, err)
	}
	if n, err := s.DeleteUsedBefore(context.Background(), cutoff); err != nil || n != 1 {
		t.Fatalf("DeleteUsedBefore: %d err=%v", n, err)
	}
}

func TestPostgresListByPrincipal(t *testing.T) {
	s, mock := newPostgresStoreTest(t)
	mock.ExpectQuery("select token, token_type.*order by created_at asc").
		WithArgs("p1", "EMAIL_VERIFICATION").
		WillReturnRows(sqlmock.NewRows(tokenRowColumns).
			AddRow("a", "EMAIL_VERIFICATION", "p1", "e", testBase, testBase.Add(time.Hour), nil, true).
			AddRow("b", "EMAIL_VERIFICATION", "p1", "e", testBase.Add(time.Minute), testBase.Add(time.Hour), nil, false))

	list, err := s.ListByPrincipal(context.Background(), "p1", EmailVerification)
	if err != nil {
		t.Fatalf("ListByPrincipal: %v", err)
	}
	if len(list) != 2 || list[0].Value != "a" || !list[0].Used || list[1].Used {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestPostgresBackendFailureWraps(t *testing.T) {
	s, mock := newPostgresStoreTest(t)
	mock.ExpectQuery("select token, token_type").WillReturnError(errors.New("connection reset"))

	if _, err := s.Find(context.Background(), "abc"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func toDriverValues(in []any) []driver.Value {
	out := make([]driver.Value, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
