// Package token issues and verifies the two HS256 token families the server
// hands out: long-lived session tokens for API and websocket auth, and
// short-lived media tokens that grant access to a game's video room.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultSessionTTL = 7 * 24 * time.Hour
	MediaTokenTTL     = 2 * time.Hour

	typeSession = "session"
)

var (
	ErrMalformed = errors.New("malformed token")
	ErrSignature = errors.New("bad token signature")
	ErrExpired   = errors.New("token expired")
	ErrWrongType = errors.New("wrong token type")
)

// Signer issues session tokens with one key and media tokens with another, so
// a leaked media token can never authenticate an API call.
type Signer struct {
	sessionKey []byte
	mediaKey   []byte
	mediaIss   string // media API key identifier, goes into the iss claim
	sessionTTL time.Duration

	now func() time.Time
}

type Option func(*Signer)

// WithSessionTTL overrides the 7-day default.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Signer) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

func NewSigner(sessionSecret, mediaKeyID, mediaSecret string, opts ...Option) (*Signer, error) {
	if len(sessionSecret) < 16 {
		return nil, errors.New("session secret must be at least 16 bytes")
	}
	s := &Signer{
		sessionKey: []byte(sessionSecret),
		mediaKey:   []byte(mediaSecret),
		mediaIss:   mediaKeyID,
		sessionTTL: DefaultSessionTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type sessionClaims struct {
	Sub string `json:"sub"`
	Typ string `json:"typ"`
	Iat int64  `json:"iat"`
	Exp int64  `json:"exp"`
}

// IssueSession mints a session token for userID.
func (s *Signer) IssueSession(userID int64) (string, error) {
	now := s.now()
	return sign(s.sessionKey, sessionClaims{
		Sub: strconv.FormatInt(userID, 10),
		Typ: typeSession,
		Iat: now.Unix(),
		Exp: now.Add(s.sessionTTL).Unix(),
	})
}

// VerifySession checks signature, type and expiry and returns the user id.
func (s *Signer) VerifySession(tok string) (int64, error) {
	var claims sessionClaims
	if err := verify(s.sessionKey, tok, &claims); err != nil {
		return 0, err
	}
	if claims.Typ != typeSession {
		return 0, ErrWrongType
	}
	if s.now().Unix() >= claims.Exp {
		return 0, ErrExpired
	}
	userID, err := strconv.ParseInt(claims.Sub, 10, 64)
	if err != nil {
		return 0, ErrMalformed
	}
	return userID, nil
}

// Refresh re-issues a session token with a fresh expiry, provided the old one
// still verifies.
func (s *Signer) Refresh(tok string) (string, error) {
	userID, err := s.VerifySession(tok)
	if err != nil {
		return "", err
	}
	return s.IssueSession(userID)
}

type videoGrant struct {
	Room         string `json:"room"`
	RoomJoin     bool   `json:"roomJoin"`
	CanPublish   bool   `json:"canPublish"`
	CanSubscribe bool   `json:"canSubscribe"`
}

type mediaClaims struct {
	Iss   string     `json:"iss"`
	Sub   string     `json:"sub"`
	Name  string     `json:"name,omitempty"`
	Iat   int64      `json:"iat"`
	Exp   int64      `json:"exp"`
	Video videoGrant `json:"video"`
}

// MediaRoom is the media room name for a game.
func MediaRoom(gameID string) string {
	return "game-" + gameID
}

// IssueMedia mints a media token letting identity join gameID's video room.
func (s *Signer) IssueMedia(gameID string, userID int64, displayName string) (string, error) {
	if len(s.mediaKey) == 0 {
		return "", errors.New("media signing not configured")
	}
	now := s.now()
	return sign(s.mediaKey, mediaClaims{
		Iss:  s.mediaIss,
		Sub:  strconv.FormatInt(userID, 10),
		Name: displayName,
		Iat:  now.Unix(),
		Exp:  now.Add(MediaTokenTTL).Unix(),
		Video: videoGrant{
			Room:         MediaRoom(gameID),
			RoomJoin:     true,
			CanPublish:   true,
			CanSubscribe: true,
		},
	})
}

var headerB64 = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

func sign(key []byte, claims any) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	signing := headerB64 + "." + base64.RawURLEncoding.EncodeToString(payload)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(signing))
	return signing + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func verify(key []byte, tok string, claims any) error {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return ErrMalformed
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(parts[0] + "." + parts[1]))
	want := mac.Sum(nil)
	got, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || !hmac.Equal(want, got) {
		return ErrSignature
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := json.Unmarshal(payload, claims); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
