package appkit

import (
	"context"
	"reflect"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// AuthGate is the request-level authorization surface. It sorts every
// request into one of three outcomes: unauthenticated, authenticated, or
// authenticated but forbidden. A request with an expired access token and a
// live refresh session is silently upgraded to a fresh token instead of
// being bounced back to login.
type AuthGate struct {
	provider     IdentityProvider
	tokens       TokenService
	validator    TokenValidator
	logger       Logger
	activitySink ActivitySink
	nowFn        func() time.Time
}

// NewAuthGate returns a gate wired to the given identity provider and token
// service.
func NewAuthGate(provider IdentityProvider, tokens TokenService) *AuthGate {
	return &AuthGate{
		provider:     provider,
		tokens:       tokens,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		nowFn:        time.Now,
	}
}

func (g *AuthGate) WithLogger(logger Logger) *AuthGate {
	if logger != nil {
		g.logger = logger
	}
	return g
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (g *AuthGate) WithActivitySink(sink ActivitySink) *AuthGate {
	g.activitySink = normalizeActivitySink(sink)
	return g
}

// WithTokenValidator sets a custom token validator for externally issued tokens.
func (g *AuthGate) WithTokenValidator(validator TokenValidator) *AuthGate {
	g.validator = validator
	return g
}

// WithClock overrides the clock, mainly for tests.
func (g *AuthGate) WithClock(now func() time.Time) *AuthGate {
	if now != nil {
		g.nowFn = now
	}
	return g
}

// TokenService returns the TokenService instance used by this gate
func (g *AuthGate) TokenService() TokenService {
	return g.tokens
}

// Login verifies credentials and mints a full token pair.
func (g *AuthGate) Login(ctx context.Context, identifier, password string) (TokenPair, Identity, error) {
	identity, err := g.provider.VerifyIdentity(ctx, identifier, password)
	if err != nil {
		g.logger.Error("Login verify identity error: %v", err)
		g.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"identifier": identifier,
			"error":      err.Error(),
		})
		return TokenPair{}, nil, err
	}

	if identity == nil || reflect.ValueOf(identity).IsZero() {
		g.logger.Error("Login identity is nil or zero value")
		g.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"identifier": identifier,
			"error":      ErrIdentityNotFound.Error(),
		})
		return TokenPair{}, nil, ErrIdentityNotFound
	}

	pair, err := g.tokens.IssuePair(ctx, identity)
	if err != nil {
		g.emitAuthEvent(ctx, ActivityEventLoginFailure, g.actorFromIdentity(identity), identity.ID(), map[string]any{
			"identifier": identifier,
			"error":      err.Error(),
		})
		return TokenPair{}, nil, err
	}

	g.emitAuthEvent(ctx, ActivityEventLoginSuccess, g.actorFromIdentity(identity), identity.ID(), map[string]any{
		"identifier": identifier,
	})

	return pair, identity, nil
}

// Authenticate resolves the request credentials into an identity. A
// bearer token is required; a refresh token alone is not a credential
// here, the explicit Refresh endpoint is the only place that accepts
// one. The identity is always re-read from storage, so a demotion or
// plan change takes effect on the next request even while the bearer
// token still carries the old values.
//
// An expired bearer plus a live refresh token yields a rotated access token
// in the result; the caller is responsible for handing it back to the
// client. A revoked session does not cut short bearer tokens already issued
// against it, they simply age out.
func (g *AuthGate) Authenticate(ctx context.Context, creds Credentials) (GateResult, error) {
	if creds.Bearer == "" {
		return GateResult{}, ErrUnauthenticated
	}

	claims, err := g.tokenValidator().Validate(creds.Bearer)
	if err == nil {
		identity, ierr := g.resolveIdentity(ctx, claims.UserID())
		if ierr != nil {
			return GateResult{}, ierr
		}
		return GateResult{Identity: identity, Claims: claims}, nil
	}

	if !IsTokenExpiredError(err) {
		g.logger.Debug("Authenticate bearer rejected: %v", err)
		return GateResult{}, ErrUnauthenticated
	}

	// expired bearer: rotate against the session if a refresh token came along
	if creds.RefreshToken == "" {
		return GateResult{}, ErrUnauthenticated
	}

	return g.refresh(ctx, creds.RefreshToken)
}

// Refresh exchanges a refresh token for a rotated access token and a fully
// resolved identity. An unknown or revoked session comes back as
// ErrUnauthenticated.
func (g *AuthGate) Refresh(ctx context.Context, refreshToken string) (GateResult, error) {
	if refreshToken == "" {
		return GateResult{}, ErrUnauthenticated
	}
	return g.refresh(ctx, refreshToken)
}

// refresh exchanges a refresh token for a fresh access token and a fully
// resolved identity.
func (g *AuthGate) refresh(ctx context.Context, refreshToken string) (GateResult, error) {
	access, identity, err := g.tokens.Rotate(ctx, refreshToken)
	if err != nil {
		if IsSessionNotFound(err) || goerrors.Is(err, ErrPrincipalNotFound) {
			return GateResult{}, ErrUnauthenticated
		}
		return GateResult{}, err
	}

	claims, err := g.tokenValidator().Validate(access)
	if err != nil {
		return GateResult{}, err
	}

	return GateResult{
		Identity:           identity,
		Claims:             claims,
		RotatedAccessToken: access,
	}, nil
}

// RequireAdmin rejects identities without the admin flag.
func (g *AuthGate) RequireAdmin(identity Identity) error {
	if identity == nil {
		return ErrUnauthenticated
	}
	if !identity.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

// GuardSelfDemotion blocks an admin from removing their own admin flag.
// It is checked before the generic admin check so the caller can surface
// the specific failure rather than a generic forbidden.
func (g *AuthGate) GuardSelfDemotion(actor Identity, targetID string, makeAdmin bool) error {
	if actor == nil {
		return ErrUnauthenticated
	}
	if !makeAdmin && actor.IsAdmin() && actor.ID() == targetID {
		return ErrSelfDemotion
	}
	return nil
}

// Logout revokes the refresh session. Bearer tokens already issued keep
// working until expiry; callers should also clear client-side state.
// Logging out with an unknown or already-revoked token succeeds quietly.
func (g *AuthGate) Logout(ctx context.Context, refreshToken string) error {
	if err := g.tokens.RevokeRefreshToken(ctx, refreshToken); err != nil {
		return err
	}

	g.emitAuthEvent(ctx, ActivityEventLogout, ActorRef{Type: "user"}, "", nil)
	return nil
}

// Impersonate mints an access token for a principal without a password
// check. Admin tooling only; no refresh session is created so the grant
// cannot outlive the access token, and the token carries an impersonation
// scope so audit trails can tell it apart from a real login.
func (g *AuthGate) Impersonate(ctx context.Context, identifier string) (string, error) {
	identity, err := g.provider.FindIdentityByIdentifier(ctx, identifier)
	if err != nil {
		g.logger.Error("Impersonate find identity error: %v", err)
		return "", err
	}

	if identity == nil || reflect.ValueOf(identity).IsZero() {
		g.logger.Error("Impersonate identity is nil")
		return "", ErrIdentityNotFound
	}

	access, _, err := MintScopedToken(g.tokens, identity, ScopedTokenOptions{
		IssuedAt: g.nowFn(),
		Scopes:   []string{ScopeImpersonation},
	})
	return access, err
}

func (g *AuthGate) resolveIdentity(ctx context.Context, principalID string) (Identity, error) {
	identity, err := g.provider.FindIdentityByIdentifier(ctx, principalID)
	if err != nil {
		if goerrors.Is(err, ErrPrincipalNotFound) || goerrors.IsNotFound(err) {
			// the token outlived the account
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	return identity, nil
}

func (g *AuthGate) tokenValidator() TokenValidator {
	if g.validator != nil {
		return g.validator
	}
	return g.tokens
}

func (g *AuthGate) emitAuthEvent(ctx context.Context, eventType ActivityEventType, actor ActorRef, userID string, metadata map[string]any) {
	sink := normalizeActivitySink(g.activitySink)
	event := ActivityEvent{
		EventType: eventType,
		Actor:     actor,
		UserID:    userID,
		Metadata:  metadata,
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = g.nowFn()
	}

	if err := sink.Record(ctx, event); err != nil {
		g.logger.Warn("activity sink record error: %v", err)
	}
}

func (g *AuthGate) actorFromIdentity(identity Identity) ActorRef {
	if identity == nil {
		return ActorRef{Type: "unknown"}
	}

	return ActorRef{
		ID:   identity.ID(),
		Type: "user",
	}
}
