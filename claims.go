package appkit

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthClaims represents structured JWT claims with plan aware checks
type AuthClaims interface {
	Subject() string
	UserID() string
	Email() string
	Plan() string
	IsAdmin() bool
	AllowsCategory(category string) bool
	IsAtLeast(minPlan string) bool
	Expires() time.Time
	IssuedAt() time.Time
}

// JWTClaims is the concrete implementation of AuthClaims
type JWTClaims struct {
	jwt.RegisteredClaims
	UID       string         `json:"uid,omitempty"`
	UserEmail string         `json:"email,omitempty"`
	Admin     bool           `json:"adm,omitempty"`
	PlanTier  string         `json:"plan,omitempty"`
	Scopes    []string       `json:"scopes,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"` // extension payload
}

// Verify interface compliance
var _ AuthClaims = (*JWTClaims)(nil)

// Subject returns the subject claim
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the user ID
func (c *JWTClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject()
}

// Email returns the principal email
func (c *JWTClaims) Email() string {
	return c.UserEmail
}

// Plan returns the subscription tier
func (c *JWTClaims) Plan() string {
	return c.PlanTier
}

// IsAdmin reports the admin flag carried in the token
func (c *JWTClaims) IsAdmin() bool {
	return c.Admin
}

// AllowsCategory checks if the plan covers a given job category
func (c *JWTClaims) AllowsCategory(category string) bool {
	return PlanTier(c.PlanTier).AllowsCategory(category)
}

// IsAtLeast checks if the plan meets a minimum tier
func (c *JWTClaims) IsAtLeast(minPlan string) bool {
	return PlanTier(c.PlanTier).IsAtLeast(PlanTier(minPlan))
}

// HasScope reports whether the token carries a given scope.
func (c *JWTClaims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ClaimsMetadata exposes metadata extensions for optional context enrichment.
func (c *JWTClaims) ClaimsMetadata() map[string]any {
	return c.Metadata
}

// Expires returns the expiration time
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}
