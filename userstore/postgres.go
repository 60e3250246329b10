package userstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const userColumns = `id, username, email, password_hash, name, first_name, last_name, avatar_url,
	provider, provider_id, roles, email_verified, email_verification_sent_at, enabled, locked,
	created_at, updated_at, last_login_at`

// ErrUnavailable wraps driver failures.
var ErrUnavailable = errors.New("userstore: backend unavailable")

// Postgres is a goSession.UserStore backed by a *sql.DB using the pgx driver.
type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

var _ goSession.UserStore = (*Postgres)(nil)

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Postgres) FindByEmail(ctx context.Context, email string) (*goSession.Principal, error) {
	return s.findOne(ctx, `select `+userColumns+` from users where email=$1`, strings.ToLower(strings.TrimSpace(email)))
}

func (s *Postgres) FindByID(ctx context.Context, id string) (*goSession.Principal, error) {
	return s.findOne(ctx, `select `+userColumns+` from users where id=$1`, id)
}

func (s *Postgres) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, `select exists(select 1 from users where email=$1)`, strings.ToLower(strings.TrimSpace(email)))
}

func (s *Postgres) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return s.exists(ctx, `select exists(select 1 from users where username=$1)`, username)
}

// Save inserts or fully replaces the row keyed by p.ID. A collision on the
// unique username or email columns reports goSession.ErrAccountExists.
func (s *Postgres) Save(ctx context.Context, p *goSession.Principal) error {
	if p == nil || p.ID == "" {
		return errors.New("userstore: principal with id required")
	}
	now := s.now()
	created := p.CreatedAt
	if created.IsZero() {
		created = now
	}

	_, err := s.db.ExecContext(ctx,
		`insert into users(`+userColumns+`)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		 on conflict (id) do update set
		   username=excluded.username, email=excluded.email, password_hash=excluded.password_hash,
		   name=excluded.name, first_name=excluded.first_name, last_name=excluded.last_name,
		   avatar_url=excluded.avatar_url, provider=excluded.provider, provider_id=excluded.provider_id,
		   roles=excluded.roles, email_verified=excluded.email_verified,
		   email_verification_sent_at=excluded.email_verification_sent_at,
		   enabled=excluded.enabled, locked=excluded.locked,
		   updated_at=excluded.updated_at, last_login_at=excluded.last_login_at`,
		p.ID, p.Username, strings.ToLower(strings.TrimSpace(p.Email)), p.PasswordHash,
		p.Name, p.FirstName, p.LastName, p.AvatarURL,
		string(p.Provider), p.ProviderID, encodeRoles(p.Roles),
		p.EmailVerified, nullTime(p.EmailVerificationSentAt), p.Enabled, p.Locked,
		created, now, nullTime(p.LastLoginAt),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", goSession.ErrAccountExists, pgErr.ConstraintName)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	p.CreatedAt = created
	p.UpdatedAt = now
	return nil
}

func (s *Postgres) findOne(ctx context.Context, query string, arg any) (*goSession.Principal, error) {
	p, err := scanPrincipal(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return p, nil
}

func (s *Postgres) exists(ctx context.Context, query string, arg any) (bool, error) {
	var ok bool
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&ok); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ok, nil
}

func scanPrincipal(row *sql.Row) (*goSession.Principal, error) {
	var (
		p                 goSession.Principal
		provider, roles   string
		sentAt, lastLogin sql.NullTime
	)
	err := row.Scan(
		&p.ID, &p.Username, &p.Email, &p.PasswordHash,
		&p.Name, &p.FirstName, &p.LastName, &p.AvatarURL,
		&provider, &p.ProviderID, &roles,
		&p.EmailVerified, &sentAt, &p.Enabled, &p.Locked,
		&p.CreatedAt, &p.UpdatedAt, &lastLogin,
	)
	if err != nil {
		return nil, err
	}
	p.Provider = goSession.AuthProvider(provider)
	p.Roles = decodeRoles(roles)
	if sentAt.Valid {
		t := sentAt.Time
		p.EmailVerificationSentAt = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		p.LastLoginAt = &t
	}
	return &p, nil
}

// roles are stored as a comma separated list
func encodeRoles(roles []goSession.Role) string {
	parts := make([]string, 0, len(roles))
	for _, r := range roles {
		if r != "" {
			parts = append(parts, string(r))
		}
	}
	return strings.Join(parts, ",")
}

func decodeRoles(s string) []goSession.Role {
	var roles []goSession.Role
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			roles = append(roles, goSession.Role(part))
		}
	}
	return roles
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
