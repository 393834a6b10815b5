package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"golang.org/x/crypto/bcrypt"
)

type SQLiteService struct {
	db *sql.DB
}

func NewSQLiteService(dbPath string) (*SQLiteService, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("empty sqlite database path")
	}
	if dbPath != ":memory:" {
		parent := filepath.Dir(dbPath)
		if parent != "" && parent != "." {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return nil, err
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureSQLiteAuthSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteService{db: db}, nil
}

func (s *SQLiteService) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteService) Signup(ctx context.Context, email, username, password string) (User, string, error) {
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
	res, err := tx.ExecContext(ctx, `
INSERT INTO users (email, username, password_hash, email_verified, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, 0, ?, ?)
`, normalized, strings.TrimSpace(username), string(passwordHash), nowMs, nowMs)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return User{}, "", ErrEmailTaken
		}
		return User{}, "", err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, "", err
	}

	verifyToken := mustToken()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO auth_tokens (token, user_id, purpose, expires_at_ms, created_at_ms)
VALUES (?, ?, ?, ?, ?)
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

func (s *SQLiteService) Login(ctx context.Context, email, password string) (User, error) {
	normalized := normalizeEmail(email)
	if normalized == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}

	var u User
	var passwordHash string
	err := s.db.QueryRowContext(ctx, `
SELECT id, email, username, password_hash, email_verified, created_at_ms
FROM users
WHERE email = ?
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

func (s *SQLiteService) VerifyEmail(ctx context.Context, tok string) (User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, err
	}
	defer tx.Rollback()

	userID, err := consumeTokenSQLite(ctx, tx, tok, purposeVerify)
	if err != nil {
		return User{}, err
	}

	nowMs := time.Now().UTC().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
UPDATE users SET email_verified = 1, updated_at_ms = ? WHERE id = ?
`, nowMs, userID); err != nil {
		return User{}, err
	}

	var u User
	err = tx.QueryRowContext(ctx, `
SELECT id, email, username, email_verified, created_at_ms FROM users WHERE id = ?
`, userID).Scan(&u.ID, &u.Email, &u.Username, &u.EmailVerified, &u.CreatedAtMs)
	if err != nil {
		return User{}, err
	}
	if err := tx.Commit(); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *SQLiteService) RequestPasswordReset(ctx context.Context, email string) (User, string, error) {
	normalized := normalizeEmail(email)

	var u User
	err := s.db.QueryRowContext(ctx, `
SELECT id, email, username, email_verified, created_at_ms FROM users WHERE email = ?
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
VALUES (?, ?, ?, ?, ?)
`, resetToken, u.ID, purposeReset, nowMs+resetTokenTTL.Milliseconds(), nowMs); err != nil {
		return User{}, "", err
	}
	return u, resetToken, nil
}

func (s *SQLiteService) ResetPassword(ctx context.Context, tok, newPassword string) error {
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

	userID, err := consumeTokenSQLite(ctx, tx, tok, purposeReset)
	if err != nil {
		return err
	}

	nowMs := time.Now().UTC().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
UPDATE users SET password_hash = ?, updated_at_ms = ? WHERE id = ?
`, string(passwordHash), nowMs, userID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteService) UserByID(ctx context.Context, id int64) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
SELECT id, email, username, email_verified, created_at_ms FROM users WHERE id = ?
`, id).Scan(&u.ID, &u.Email, &u.Username, &u.EmailVerified, &u.CreatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return u, err
}

func (s *SQLiteService) SearchUsers(ctx context.Context, query string, limit int) ([]User, error) {
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
WHERE email_verified = 1
  AND (lower(username) LIKE ? OR email = ?)
ORDER BY username
LIMIT ?
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

// consumeTokenSQLite deletes a live token row and returns its user, so each
// token works exactly once.
func consumeTokenSQLite(ctx context.Context, tx *sql.Tx, tok, purpose string) (int64, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return 0, ErrTokenNotFound
	}
	nowMs := time.Now().UTC().UnixMilli()

	var userID int64
	err := tx.QueryRowContext(ctx, `
SELECT user_id FROM auth_tokens
WHERE token = ? AND purpose = ? AND expires_at_ms > ?
`, tok, purpose, nowMs).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrTokenNotFound
		}
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM auth_tokens WHERE token = ?`, tok); err != nil {
		return 0, err
	}
	return userID, nil
}

func ensureSQLiteAuthSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    email TEXT NOT NULL,
    username TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    email_verified INTEGER NOT NULL DEFAULT 0,
    created_at_ms INTEGER NOT NULL,
    updated_at_ms INTEGER NOT NULL
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_users_email ON users(lower(email))`,
		`
CREATE TABLE IF NOT EXISTS auth_tokens (
    token TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL,
    purpose TEXT NOT NULL,
    expires_at_ms INTEGER NOT NULL,
    created_at_ms INTEGER NOT NULL,
    FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
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

func isSQLiteUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
