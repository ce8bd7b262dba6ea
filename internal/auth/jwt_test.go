package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	cfg := Config{JWTSecret: "test-secret", TokenExpiry: time.Hour, Issuer: "twinlink"}

	token, err := GenerateToken(cfg, "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ValidateToken(cfg.JWTSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "twinlink", claims.Issuer)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	cfg := Config{JWTSecret: "test-secret", TokenExpiry: time.Hour}

	token, err := GenerateToken(cfg, "user-1")
	require.NoError(t, err)

	_, err = ValidateToken("other-secret", token)
	assert.Error(t, err)
}

func TestValidateTokenExpired(t *testing.T) {
	cfg := Config{JWTSecret: "test-secret", TokenExpiry: -time.Minute}

	token, err := GenerateToken(cfg, "user-1")
	require.NoError(t, err)

	_, err = ValidateToken(cfg.JWTSecret, token)
	assert.Error(t, err)
}

func TestGenerateTokenMissingSecret(t *testing.T) {
	_, err := GenerateToken(Config{}, "user-1")
	assert.Error(t, err)
}
