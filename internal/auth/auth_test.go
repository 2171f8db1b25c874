package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agw/gateway/internal/models"
)

func TestServiceDisabledWithNoCredentials(t *testing.T) {
	s := NewService(Config{})
	assert.False(t, s.Enabled())
	_, err := s.Authenticate("anything")
	assert.ErrorIs(t, err, ErrAuthDisabled)
}

func TestServiceAPIKeyAccepted(t *testing.T) {
	s := NewService(Config{APIKeys: []string{"key-a", "key-b"}})
	require.True(t, s.Enabled())
	user, err := s.Authenticate("key-b")
	require.NoError(t, err)
	assert.Equal(t, "api-key", user.ID)
}

func TestServiceAPIKeyRejected(t *testing.T) {
	s := NewService(Config{APIKeys: []string{"key-a"}})
	_, err := s.Authenticate("wrong-key")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestServiceJWTModeIssuesAndValidates(t *testing.T) {
	s := NewService(Config{Mode: ModeJWT, JWTSecret: "shared-secret", TokenExpiry: time.Hour})
	require.True(t, s.Enabled())

	token, err := s.Issue(models.User{ID: "user-1", DisplayName: "User One"})
	require.NoError(t, err)

	user, err := s.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, "User One", user.DisplayName)
}

func TestServiceJWTModeRejectsGarbageToken(t *testing.T) {
	s := NewService(Config{Mode: ModeJWT, JWTSecret: "shared-secret"})
	_, err := s.Authenticate("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestServiceJWTModeWithoutSecretIsDisabled(t *testing.T) {
	s := NewService(Config{Mode: ModeJWT})
	assert.False(t, s.Enabled())
	_, err := s.Authenticate("token")
	assert.ErrorIs(t, err, ErrAuthDisabled)
}

func TestJWTServiceGenerateValidate(t *testing.T) {
	svc := newJWTService("secret", time.Hour)
	token, err := svc.Generate(models.User{ID: "user-1", DisplayName: "User One"})
	require.NoError(t, err)

	user, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, "User One", user.DisplayName)
}

func TestJWTServiceRejectsWrongSecret(t *testing.T) {
	issuer := newJWTService("secret-a", time.Hour)
	token, err := issuer.Generate(models.User{ID: "user-1"})
	require.NoError(t, err)

	verifier := newJWTService("secret-b", time.Hour)
	_, err = verifier.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
