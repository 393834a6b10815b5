// Package auth manages accounts: signup with email verification, login,
// password reset. Sessions are stateless signed tokens minted by the caller,
// so this package only deals with credentials and profiles.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
	"time"
)

var (
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrInvalidPassword    = errors.New("invalid password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrTokenNotFound      = errors.New("token not found or expired")
	ErrUserNotFound       = errors.New("user not found")
)

type User struct {
	ID            int64
	Email         string
	Username      string
	EmailVerified bool
	CreatedAtMs   int64
}

// Service is the account contract consumed by the REST facade. Both backends
// (sqlite, postgres) implement it.
type Service interface {
	// Signup creates an unverified account and returns the verification
	// token to be delivered by mail.
	Signup(ctx context.Context, email, username, password string) (User, string, error)
	// Login checks credentials; the account must be verified.
	Login(ctx context.Context, email, password string) (User, error)
	// VerifyEmail consumes a verification token.
	VerifyEmail(ctx context.Context, tok string) (User, error)
	// RequestPasswordReset mints a reset token for the account, if any.
	RequestPasswordReset(ctx context.Context, email string) (User, string, error)
	// ResetPassword consumes a reset token and replaces the password.
	ResetPassword(ctx context.Context, tok, newPassword string) error

	UserByID(ctx context.Context, id int64) (User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]User, error)

	Close() error
}

const (
	purposeVerify = "verify"
	purposeReset  = "reset"

	verifyTokenTTL = 48 * time.Hour
	resetTokenTTL  = 1 * time.Hour

	tokenBytes = 32
)

var (
	emailPattern    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_.-]{2,31}$`)
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if !emailPattern.MatchString(normalizeEmail(email)) {
		return ErrInvalidEmail
	}
	return nil
}

func validateUsername(username string) error {
	if !usernamePattern.MatchString(strings.TrimSpace(username)) {
		return ErrInvalidUsername
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 8 || len(password) > 72 {
		return ErrInvalidPassword
	}
	return nil
}

func mustToken() string {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
