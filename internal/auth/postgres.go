package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

type PostgresService struct {
	db *sql.DB
}

func NewPostgresService(dsn string) (*PostgresService, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("empty postgres dsn")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensurePostgresAuthSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &PostgresService{db: db}, nil
}

func (s *PostgresService) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresService) Signup(ctx context.Context, email, username, password string) (User, string, error) {
	if err := validateEmail(email); err != nil {
		return User{}, "", err
	}
	if err := validateUsername(username); err != nil {
		return User{}, "", err
	}
	if err := validatePassword(password); err != nil {
		return User{}, "", err
	}

	normalized := normalizeEmail(email)
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, "", err
	}
	defer tx.Rollback()

	nowMs := time.Now().UTC().UnixMilli()
	var id int64
	err = tx.QueryRowContext(ctx, `
INSERT INTO users (email, username, password_hash, email_verified, created_at_ms, updated_at_ms)
VALUES ($1, $2, $3, FALSE, $4, $5)
RETURNING id
`, normalized, strings.TrimSpace(username), string(passwordHash), nowMs, nowMs).Scan(&id)
	if err != nil {
		if isPostgresUniqueViolation(err) {
			return User{}, "", ErrEmailTaken
		}
		return User{}, "", err
	}

	verifyToken := mustToken()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO auth_tokens (token, user_id, purpose, expires_at_ms, created_at_ms)
VALUES ($1, $2, $3, $4, $5)
`, verifyToken, id, purposeVerify, nowMs+verifyTokenTTL.Milliseconds(), nowMs); err != nil {
		return User{}, "", err
	}

	if err := tx.Commit(); err != nil {
		return User{}, "", err
	}
	return User{
		ID:          id,
		Email:       normalized,
		Username:    strings.TrimSpace(username),
		CreatedAtMs: nowMs,
	}, verifyToken, nil
}

func (s *PostgresService) Login(ctx context.Context, email, password string) (User, error) {
	normalized := normalizeEmail(email)
	if normalized == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}

	var u User
	var passwordHash string
	err := s.db.QueryRowContext(ctx, `
SELECT id, email, username, password_hash, email_verified, created_at_ms
FROM users
WHERE email = $1
`, normalized).Scan(&u.ID, &u.Email, &u.Username, &passwordHash, &u.EmailVerified, &u.CreatedAtMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)) != nil {
		return User{}, ErrInvalidCredentials
	}
	if !u.EmailVerified {
		return User{}, ErrEmailNotVerified
	}
	return u, nil
}

func (s *PostgresService) VerifyEmail(ctx context.Context, tok string) (User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, err
	}
	defer tx.Rollback()

	userID, err := consumeTokenPostgres(ctx, tx, tok, purposeVerify)
	if err != nil {
		return User{}, err
	}

	nowMs := time.Now().UTC().UnixMilli()
	var u User
	err = tx.QueryRowContext(ctx, `
UPDATE users SET email_verified = TRUE, updated_at_ms = $1
WHERE id = $2
RETURNING id, email, username, email_verified, created_at_ms
`, nowMs, userID).Scan(&u.ID, &u.Email, &u.Username, &u.EmailVerified, &u.CreatedAtMs)
	if err != nil {
		return User{}, err
	}
	if err := tx.Commit(); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *PostgresService) RequestPasswordReset(ctx context.Context, email string) (User, string, error) {
	normalized := normalizeEmail(email)

	var u User
	err := s.db.QueryRowContext(ctx, `
SELECT id, email, username, email_verified, created_at_ms FROM users WHERE email = $1
`, normalized).Scan(&u.ID, &u.Email, &u.Username, &u.EmailVerified, &u.CreatedAtMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, "", ErrUserNotFound
		}
		return User{}, "", err
	}

	nowMs := time.Now().UTC().UnixMilli()
	resetToken := mustToken()
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO auth_tokens (token, user_id, purpose, expires_at_ms, created_at_ms)
VALUES ($1, $2, $3, $4, $5)
`, resetToken, u.ID, purposeReset, nowMs+resetTokenTTL.Milliseconds(), nowMs); err != nil {
		return User{}, "", err
	}
	return u, resetToken, nil
}

func (s *PostgresService) ResetPassword(ctx context.Context, tok, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	userID, err := consumeTokenPostgres(ctx, tx, tok, purposeReset)
	if err != nil {
		return err
	}

	nowMs := time.Now().UTC().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
UPDATE users SET password_hash = $1, updated_at_ms = $2 WHERE id = $3
`, string(passwordHash), nowMs, userID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresService) UserByID(ctx context.Context, id int64) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
SELECT id, email, username, email_verified, created_at_ms FROM users WHERE id = $1
`, id).Scan(&u.ID, &u.Email, &u.Username, &u.EmailVerified, &u.CreatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return u, err
}

func (s *PostgresService) SearchUsers(ctx context.Context, query string, limit int) ([]User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, email, username, email_verified, created_at_ms
FROM users
WHERE email_verified = TRUE
  AND (lower(username) LIKE $1 OR email = $2)
ORDER BY username
LIMIT $3
`, "%"+strings.ToLower(query)+"%", normalizeEmail(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.Username, &u.EmailVerified, &u.CreatedAtMs); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func consumeTokenPostgres(ctx context.Context, tx *sql.Tx, tok, purpose string) (int64, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return 0, ErrTokenNotFound
	}
	nowMs := time.Now().UTC().UnixMilli()

	var userID int64
	err := tx.QueryRowContext(ctx, `
DELETE FROM auth_tokens
WHERE token = $1 AND purpose = $2 AND expires_at_ms > $3
RETURNING user_id
`, tok, purpose, nowMs).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrTokenNotFound
		}
		return 0, err
	}
	return userID, nil
}

func ensurePostgresAuthSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`
CREATE TABLE IF NOT EXISTS users (
    id BIGSERIAL PRIMARY KEY,
    email TEXT NOT NULL,
    username TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    email_verified BOOLEAN NOT NULL DEFAULT FALSE,
    created_at_ms BIGINT NOT NULL,
    updated_at_ms BIGINT NOT NULL
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_users_email ON users(lower(email))`,
		`
CREATE TABLE IF NOT EXISTS auth_tokens (
    token TEXT PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    purpose TEXT NOT NULL,
    expires_at_ms BIGINT NOT NULL,
    created_at_ms BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_auth_tokens_user ON auth_tokens(user_id, purpose)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func isPostgresUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
