package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/lorawan-server/lorawan-analyzer/internal/config"
)

func newManager(t *testing.T) *JWTManager {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewJWTManager(&config.JWTConfig{
		Secret:            "0123456789abcdef0123",
		TokenTTL:          time.Hour,
		AdminUser:         "admin",
		AdminPasswordHash: string(hash),
	})
}

func TestLogin(t *testing.T) {
	m := newManager(t)

	token, expires, err := m.Login("admin", "s3cret")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
	assert.True(t, claims.Admin)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	m := newManager(t)

	_, _, err := m.Login("admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = m.Login("root", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginDisabled(t *testing.T) {
	m := NewJWTManager(&config.JWTConfig{Secret: "x", TokenTTL: time.Hour})
	assert.False(t, m.Enabled())

	_, _, err := m.Login("admin", "")
	assert.ErrorIs(t, err, ErrLoginDisabled)
}

func TestValidateTokenRejects(t *testing.T) {
	m := newManager(t)

	other := NewJWTManager(&config.JWTConfig{Secret: "another-secret-value", TokenTTL: time.Hour})
	foreign, _, err := other.GenerateToken("admin")
	require.NoError(t, err)
	_, err = m.ValidateToken(foreign)
	assert.Error(t, err)

	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := m.GenerateToken("admin")
	require.NoError(t, err)
	_, err = m.ValidateToken(expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, err = m.ValidateToken("not.a.token")
	assert.Error(t, err)
}
