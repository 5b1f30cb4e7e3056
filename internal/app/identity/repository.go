package identity

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	IsAdmin      bool
	Anonymous    bool
}

// Profile is the public view of a user.
type Profile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	IsAdmin     bool   `json:"is_admin"`
	Anonymous   bool   `json:"anonymous"`
}

func (u User) Profile() Profile {
	return Profile{UserID: u.ID, DisplayName: u.DisplayName, IsAdmin: u.IsAdmin, Anonymous: u.Anonymous}
}

// RefreshToken is one link of a session's rotation chain. SessionID is
// shared by every token rotated from the same sign-in.
type RefreshToken struct {
	TokenID   string
	SessionID string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Session falls back to the token id for rows written before sessions
// were tracked.
func (t RefreshToken) Session() string {
	if t.SessionID != "" {
		return t.SessionID
	}
	return t.TokenID
}

type Repository interface {
	EnsureSchema(ctx context.Context) error
	CreateUser(ctx context.Context, user User) error
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUserByID(ctx context.Context, userID string) (User, error)
	SetAdmin(ctx context.Context, email string, admin bool) error

	CreateRefreshToken(ctx context.Context, token RefreshToken) error
	FindRefreshTokenByHash(ctx context.Context, tokenHash string) (RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, tokenID string) error
}

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

const createUsersSQL = `
CREATE TABLE IF NOT EXISTS users (
  id text PRIMARY KEY,
  email text UNIQUE,
  display_name text NOT NULL,
  password_hash text NOT NULL DEFAULT '',
  is_admin boolean NOT NULL DEFAULT false,
  anonymous boolean NOT NULL DEFAULT false,
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createRefreshTokensSQL = `
CREATE TABLE IF NOT EXISTS refresh_tokens (
  token_id text PRIMARY KEY,
  session_id text NOT NULL DEFAULT '',
  user_id text NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  token_hash text NOT NULL UNIQUE,
  expires_at timestamptz NOT NULL,
  revoked_at timestamptz,
  created_at timestamptz NOT NULL DEFAULT now()
)`

const addSessionColumnSQL = `ALTER TABLE refresh_tokens ADD COLUMN IF NOT EXISTS session_id text NOT NULL DEFAULT ''`

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createUsersSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createRefreshTokensSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, addSessionColumnSQL); err != nil {
		return err
	}
	return nil
}

func nullableEmail(email string) any {
	if email == "" {
		return nil
	}
	return email
}

func (r *PostgresRepository) CreateUser(ctx context.Context, user User) error {
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO users (id, email, display_name, password_hash, is_admin, anonymous)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, nullableEmail(user.Email), user.DisplayName, user.PasswordHash, user.IsAdmin, user.Anonymous,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateEmail
	}
	return err
}

const selectUserSQL = `SELECT id, COALESCE(email, ''), display_name, password_hash, is_admin, anonymous FROM users`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.IsAdmin, &u.Anonymous)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(r.Pool.QueryRow(ctx, selectUserSQL+` WHERE email = $1`, email))
}

func (r *PostgresRepository) FindUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(r.Pool.QueryRow(ctx, selectUserSQL+` WHERE id = $1`, userID))
}

func (r *PostgresRepository) SetAdmin(ctx context.Context, email string, admin bool) error {
	res, err := r.Pool.Exec(ctx, `UPDATE users SET is_admin = $2 WHERE email = $1`, email, admin)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) CreateRefreshToken(ctx context.Context, token RefreshToken) error {
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO refresh_tokens (token_id, session_id, user_id, token_hash, expires_at) VALUES ($1, $2, $3, $4, $5)`,
		token.TokenID, token.SessionID, token.UserID, token.TokenHash, token.ExpiresAt,
	)
	return err
}

func (r *PostgresRepository) FindRefreshTokenByHash(ctx context.Context, tokenHash string) (RefreshToken, error) {
	var rt RefreshToken
	err := r.Pool.QueryRow(ctx,
		`SELECT token_id, session_id, user_id, token_hash, expires_at, revoked_at
		 FROM refresh_tokens
		 WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > now()`,
		tokenHash,
	).Scan(&rt.TokenID, &rt.SessionID, &rt.UserID, &rt.TokenHash, &rt.ExpiresAt, &rt.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RefreshToken{}, ErrNotFound
		}
		return RefreshToken{}, err
	}
	return rt, nil
}

// RevokeRefreshToken reports ErrNotFound when the token was already
// revoked, so concurrent refreshes of one token cannot both succeed.
func (r *PostgresRepository) RevokeRefreshToken(ctx context.Context, tokenID string) error {
	res, err := r.Pool.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = now() WHERE token_id = $1 AND revoked_at IS NULL`,
		tokenID,
	)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
