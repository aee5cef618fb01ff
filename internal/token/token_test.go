package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("backend-secret"))
	require.NoError(t, err)
	return s
}

func TestParse(t *testing.T) {
	exp := time.Date(2026, 10, 19, 18, 0, 0, 0, time.UTC)
	tok := sign(t, jwt.MapClaims{
		"sub":      "42",
		"role":     "MANAGER",
		"store_id": 3,
		"exp":      exp.Unix(),
	})

	claims, err := Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID())
	assert.Equal(t, "MANAGER", claims.Role)
	require.NotNil(t, claims.StoreID)
	assert.Equal(t, int64(3), *claims.StoreID)
	assert.True(t, claims.Expiry().Equal(exp))
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse("")
	assert.Error(t, err)

	_, err = Parse("not-a-jwt")
	assert.Error(t, err)
}
