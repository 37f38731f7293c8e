package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims — claims bearer-токена вызывающего. UserID — субъект резолва.
type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "resolver.admin": true
	jwt.RegisteredClaims
}

// EffectiveUserID — user id из claims, с откатом на стандартный sub.
func (c *CustomClaims) EffectiveUserID() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}
