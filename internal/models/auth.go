package models

import (
	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenTypeAccess = "access"
)

// TokenClaims are the claims carried by a signed access token.
// The subject (sub) holds the user id.
type TokenClaims struct {
	Type  string `json:"type"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *TokenClaims) UserID() string {
	return c.Subject
}
