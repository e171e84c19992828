package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestService(t *testing.T, clock clockwork.Clock) *TokenService {
	t.Helper()
	svc, err := NewTokenService(testSecret, "admin", "hunter22", time.Hour, clock)
	require.NoError(t, err)
	return svc
}

func TestNewTokenService_Validation(t *testing.T) {
	clock := clockwork.NewRealClock()

	_, err := NewTokenService("short", "admin", "pw", time.Hour, clock)
	assert.Error(t, err)

	_, err = NewTokenService(testSecret, "", "pw", time.Hour, clock)
	assert.Error(t, err)

	_, err = NewTokenService(testSecret, "admin", "pw", 0, clock)
	assert.Error(t, err)
}

func TestLogin_Success(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now())
	svc := newTestService(t, clock)

	token, err := svc.Login("admin", "hunter22")
	require.NoError(t, err)

	assert.NotEmpty(t, token.AccessToken)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.Equal(t, clock.Now().UTC().Add(time.Hour), token.ExpiresAt)

	claims, err := svc.Verify(token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
}

func TestLogin_WrongCredentials(t *testing.T) {
	svc := newTestService(t, clockwork.NewRealClock())

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", "admin", "nope"},
		{"wrong username", "root", "hunter22"},
		{"empty", "", ""},
		{"password prefix", "admin", "hunter2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := svc.Login(tt.username, tt.password)
			assert.ErrorIs(t, err, ErrInvalidCredentials)
			assert.Nil(t, token)
		})
	}
}

func TestVerify_Expired(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now())
	svc := newTestService(t, clock)

	token, err := svc.Issue("admin")
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	_, err = svc.Verify(token.AccessToken)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = svc.Verify(token.AccessToken)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerify_Tampered(t *testing.T) {
	svc := newTestService(t, clockwork.NewFakeClockAt(time.Now()))

	token, err := svc.Issue("admin")
	require.NoError(t, err)

	raw := []byte(token.AccessToken)
	mid := len(raw) / 2
	if raw[mid] == 'A' {
		raw[mid] = 'B'
	} else {
		raw[mid] = 'A'
	}
	tampered := string(raw)

	_, err = svc.Verify(tampered)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Garbage(t *testing.T) {
	svc := newTestService(t, clockwork.NewRealClock())

	for _, raw := range []string{"", "not-a-token", strings.Repeat("x", 300)} {
		_, err := svc.Verify(raw)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", raw)
	}
}

func TestVerify_OtherSecretRejected(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now())
	issuer := newTestService(t, clock)
	other, err := NewTokenService("ffffffffffffffffffffffffffffffff", "admin", "hunter22", time.Hour, clock)
	require.NoError(t, err)

	token, err := issuer.Issue("admin")
	require.NoError(t, err)

	_, err = other.Verify(token.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
