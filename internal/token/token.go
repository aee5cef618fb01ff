// Package token reads claims from backend-issued access tokens.
//
// Tokens are not verified here: the signing secret belongs to the backend and
// every request is authorised server-side. The claims are only used for display.
package token

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims mirrors the payload the backend signs into access tokens.
type Claims struct {
	Role    string `json:"role"`
	StoreID *int64 `json:"store_id"`
	jwt.RegisteredClaims
}

// UserID returns the numeric subject, or 0 when the subject is not a number.
func (c *Claims) UserID() int64 {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Expiry returns the exp claim, zero when absent.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Parse decodes tokenString without checking its signature.
func Parse(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("token: empty")
	}
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, err
	}
	return claims, nil
}
