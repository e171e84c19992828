// Package auth issues and verifies admin bearer tokens.
//
// Tokens are stateless: an HMAC-signed, AES-encrypted set of claims produced
// by securecookie. Nothing is stored server side, so any instance holding the
// same secret can verify a token.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/jonboulle/clockwork"
)

const (
	TokenType = "Bearer"

	// tokenName binds the signature to this use so a value signed for
	// anything else with the same secret is rejected.
	tokenName = "taskstream-admin"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token expired")
)

// Claims is the payload carried inside a token.
type Claims struct {
	Subject   string    `json:"sub"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// Token is what a successful login hands back to the client.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type TokenService struct {
	codec    *securecookie.SecureCookie
	username string
	password string
	ttl      time.Duration
	clock    clockwork.Clock
}

// NewTokenService derives signing and encryption keys from secret.
func NewTokenService(secret, username, password string, ttl time.Duration, clock clockwork.Clock) (*TokenService, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("token secret must be at least 32 bytes, got %d", len(secret))
	}
	if username == "" || password == "" {
		return nil, errors.New("admin username and password are required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}

	hashKey := sha256.Sum256([]byte("sign:" + secret))
	blockKey := sha256.Sum256([]byte("encrypt:" + secret))

	codec := securecookie.New(hashKey[:], blockKey[:])
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(ttl.Seconds()) + 1)
	codec.MaxLength(0)

	return &TokenService{
		codec:    codec,
		username: username,
		password: password,
		ttl:      ttl,
		clock:    clock,
	}, nil
}

// Login checks the admin credentials and issues a token on success.
func (s *TokenService) Login(username, password string) (*Token, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) == 1
	if !userOK || !passOK {
		return nil, ErrInvalidCredentials
	}
	return s.Issue(username)
}

func (s *TokenService) Issue(subject string) (*Token, error) {
	now := s.clock.Now().UTC()
	claims := Claims{
		Subject:   subject,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	encoded, err := s.codec.Encode(tokenName, claims)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token: %w", err)
	}

	return &Token{
		AccessToken: encoded,
		TokenType:   TokenType,
		ExpiresAt:   claims.ExpiresAt,
	}, nil
}

// Verify decodes a token and checks it has not expired.
func (s *TokenService) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	var claims Claims
	if err := s.codec.Decode(tokenName, token, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	if !s.clock.Now().Before(claims.ExpiresAt) {
		return nil, ErrExpiredToken
	}
	return &claims, nil
}
