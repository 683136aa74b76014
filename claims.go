package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// BearerClaims is the payload of a bearer token. The subject is the
// account email; role is informational, authorization always uses the
// live account.
type BearerClaims struct {
	jwt.RegisteredClaims
	UserRole string `json:"role,omitempty"`
}

// Subject returns the subject claim
func (c *BearerClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// Role returns the role captured at issue time
func (c *BearerClaims) Role() string {
	return c.UserRole
}

// Expires returns the expiration time
func (c *BearerClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *BearerClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}
