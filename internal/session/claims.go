package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is what the client can read from a session token without
// verifying it. The clinic API signs tokens with a server-side secret, so
// the client never treats these claims as proof of anything; they only
// drive the expiry check on restore and the `status` output.
type Claims struct {
	jwt.RegisteredClaims
	Role int `json:"role"`
}

// ParseClaims decodes token as a JWT without verifying its signature.
// Opaque (non-JWT) tokens return an error.
func ParseClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse token claims: %w", err)
	}
	return claims, nil
}

// Expired reports whether the claims carry an expiry at or before now.
// Tokens without an exp claim never expire from the client's point of
// view.
func (c *Claims) Expired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !now.Before(c.ExpiresAt.Time)
}
