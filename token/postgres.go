package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const tokenColumns = `token, token_type, principal_id, email, created_at, expires_at, confirmed_at, used`

// PostgresStore persists tokens in the verification_tokens table. The
// handle is typically a *sql.DB opened with the pgx stdlib driver.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, tok Token) error {
	if tok.Value == "" || !tok.Type.Valid() {
		return errors.New("token: value and valid type required")
	}
	_, err := s.db.ExecContext(ctx,
		`insert into verification_tokens(token, token_type, principal_id, email, created_at, expires_at, used)
		 values($1,$2,$3,$4,$5,$6,false)`,
		tok.Value, string(tok.Type), tok.PrincipalID, NormalizeEmail(tok.Email), tok.CreatedAt, tok.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, value string) (Token, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+tokenColumns+` from verification_tokens where token=$1`, value)
	tok, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Token{}, ErrNotFound
		}
		return Token{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return tok, nil
}

// Confirm relies on the row lock taken by the conditional update: of two
// concurrent callers only one sees a returned row.
func (s *PostgresStore) Confirm(ctx context.Context, value string, expected Type, now time.Time) (Token, error) {
	row := s.db.QueryRowContext(ctx,
		`update verification_tokens set used=true, confirmed_at=$2
		 where token=$1 and used=false and confirmed_at is null and expires_at > $2 and token_type=$3
		 returning `+tokenColumns,
		value, now, string(expected),
	)
	tok, err := scanToken(row)
	if err == nil {
		return tok, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Token{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// nothing flipped; classify for the caller's logs
	current, findErr := s.Find(ctx, value)
	if findErr != nil {
		return Token{}, findErr
	}
	switch {
	case current.Used || current.ConfirmedAt != nil:
		return Token{}, ErrUsed
	case current.IsExpired(now):
		return Token{}, ErrExpired
	case current.Type != expected:
		return Token{}, ErrTypeMismatch
	default:
		// lost to a concurrent writer between the two statements
		return Token{}, ErrUsed
	}
}

func (s *PostgresStore) InvalidateLive(ctx context.Context, principalID string, typ Type, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`update verification_tokens set used=true
		 where principal_id=$1 and token_type=$2 and used=false and expires_at > $3`,
		principalID, string(typ), now,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return affected(res)
}

func (s *PostgresStore) CountCreatedSince(ctx context.Context, principalID string, typ Type, since time.Time) (int, error) {
	return s.count(ctx,
		`select count(*) from verification_tokens where principal_id=$1 and token_type=$2 and created_at >= $3`,
		principalID, string(typ), since)
}

func (s *PostgresStore) CountCreatedForEmailSince(ctx context.Context, email string, typ Type, since time.Time) (int, error) {
	return s.count(ctx,
		`select count(*) from verification_tokens where email=$1 and token_type=$2 and created_at >= $3`,
		NormalizeEmail(email), string(typ), since)
}

func (s *PostgresStore) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

func (s *PostgresStore) ListByPrincipal(ctx context.Context, principalID string, typ Type) ([]Token, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+tokenColumns+` from verification_tokens
		 where principal_id=$1 and token_type=$2 order by created_at asc, id asc`,
		principalID, string(typ),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	out := []Token{}
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		out = append(out, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `delete from verification_tokens where expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return affected(res)
}

func (s *PostgresStore) DeleteUsedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from verification_tokens where used=true and coalesce(confirmed_at, created_at) < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return affected(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (Token, error) {
	var (
		tok       Token
		typ       string
		confirmed sql.NullTime
	)
	if err := row.Scan(&tok.Value, &typ, &tok.PrincipalID, &tok.Email,
		&tok.CreatedAt, &tok.ExpiresAt, &confirmed, &tok.Used); err != nil {
		return Token{}, err
	}
	tok.Type = Type(typ)
	if confirmed.Valid {
		at := confirmed.Time
		tok.ConfirmedAt = &at
	}
	return tok, nil
}

func affected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(n), nil
}
