package appkit

import (
	"context"

	"github.com/goliatone/go-router"
)

// WSTokenValidator implements go-router's WSTokenValidator interface
// using the appkit TokenService for seamless WebSocket authentication
type WSTokenValidator struct {
	tokenService TokenService
}

// NewWSTokenValidator creates a new WebSocket token validator using the provided TokenService
func NewWSTokenValidator(tokenService TokenService) *WSTokenValidator {
	return &WSTokenValidator{
		tokenService: tokenService,
	}
}

// Validate validates a token string and returns WebSocket-compatible auth claims
func (w *WSTokenValidator) Validate(tokenString string) (router.WSAuthClaims, error) {
	claims, err := w.tokenService.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	return &WSAuthClaimsAdapter{claims: claims}, nil
}

// WSAuthClaimsAdapter adapts appkit AuthClaims to go-router's WSAuthClaims
// interface. go-router speaks in roles and CRUD verbs; we map those onto
// plan tiers: the role is the plan (admin overrides), creation rights come
// from the plan's category allowance, and edit/delete stay admin-only.
type WSAuthClaimsAdapter struct {
	claims AuthClaims
}

// Subject returns the subject claim
func (w *WSAuthClaimsAdapter) Subject() string {
	return w.claims.Subject()
}

// UserID returns the principal ID
func (w *WSAuthClaimsAdapter) UserID() string {
	return w.claims.UserID()
}

// Role reports "admin" for admin principals, otherwise the plan tier.
func (w *WSAuthClaimsAdapter) Role() string {
	if w.claims.IsAdmin() {
		return "admin"
	}
	return w.claims.Plan()
}

// CanRead checks if the principal can read a specific resource.
// Authenticated principals can read what they are subscribed to.
func (w *WSAuthClaimsAdapter) CanRead(resource string) bool {
	return true
}

// CanEdit checks if the principal can edit a specific resource
func (w *WSAuthClaimsAdapter) CanEdit(resource string) bool {
	return w.claims.IsAdmin()
}

// CanCreate maps resource creation to the plan's job category allowance
func (w *WSAuthClaimsAdapter) CanCreate(resource string) bool {
	return w.claims.AllowsCategory(resource)
}

// CanDelete checks if the principal can delete a specific resource
func (w *WSAuthClaimsAdapter) CanDelete(resource string) bool {
	return w.claims.IsAdmin()
}

// HasRole checks if the principal has a specific role
func (w *WSAuthClaimsAdapter) HasRole(role string) bool {
	if role == "admin" {
		return w.claims.IsAdmin()
	}
	return w.claims.Plan() == role
}

// IsAtLeast checks if the principal's plan is at least the minimum required tier
func (w *WSAuthClaimsAdapter) IsAtLeast(minRole string) bool {
	return w.claims.IsAtLeast(minRole)
}

// NewWSAuthMiddleware creates a fully configured WebSocket authentication
// middleware using the gate's TokenService. This is a convenience for
// pushing job status updates to authenticated clients.
func (g *AuthGate) NewWSAuthMiddleware(config ...router.WSAuthConfig) router.WebSocketMiddleware {
	validator := NewWSTokenValidator(g.TokenService())

	var cfg router.WSAuthConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	// Always set our token validator
	cfg.TokenValidator = validator

	return router.NewWSAuth(cfg)
}

// WSAuthClaimsFromContext is a convenience function to retrieve auth claims from WebSocket context.
// It returns the underlying appkit AuthClaims for easier access to plan helpers.
func WSAuthClaimsFromContext(ctx context.Context) (AuthClaims, bool) {
	wsAuthClaims, ok := router.WSAuthClaimsFromContext(ctx)
	if !ok {
		return nil, false
	}

	if adapter, ok := wsAuthClaims.(*WSAuthClaimsAdapter); ok {
		return adapter.claims, true
	}

	return nil, false
}
