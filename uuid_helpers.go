package appkit

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ensureTokenID assigns a jti when the claims have none, so every issued
// token is individually identifiable in logs and audits.
func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims == nil {
		return
	}
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
}

// HasPrincipalUUID reports whether the identity ID parses as a UUID.
func HasPrincipalUUID(identity Identity) bool {
	if identity == nil {
		return false
	}
	_, err := uuid.Parse(identity.ID())
	return err == nil
}
