package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerify(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	tok, err := m.GenerateToken(42, "alice", "USER")
	require.NoError(t, err)

	claims, err := m.VerifyToken(tok)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "USER", claims.Role)
}

func TestVerifyToken_Rejects(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	other := NewJWTManager("other-secret", time.Hour)
	foreign, err := other.GenerateToken(1, "bob", "USER")
	require.NoError(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, CustomClaims{
		Username: "carol",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	expiredStr, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, CustomClaims{Username: "mallory"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"wrong secret", foreign},
		{"expired", expiredStr},
		{"none alg", none},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.VerifyToken(tt.token)
			assert.Error(t, err)
		})
	}
}
