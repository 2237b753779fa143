package appkit

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const refreshTokenBytes = 32

// TokenService mints and validates the two credential kinds: short-lived
// signed access tokens and opaque persistent refresh tokens.
type TokenService interface {
	IssueAccessToken(ctx context.Context, identity Identity) (string, time.Time, error)
	IssueRefreshToken(ctx context.Context, identity Identity) (string, error)
	IssuePair(ctx context.Context, identity Identity) (TokenPair, error)
	SignClaims(claims *JWTClaims) (string, error)
	Validate(tokenString string) (AuthClaims, error)
	Rotate(ctx context.Context, refreshToken string) (string, Identity, error)
	RevokeRefreshToken(ctx context.Context, refreshToken string) error
}

// SessionStore is the persistence surface the token service depends on.
type SessionStore interface {
	CreateSession(ctx context.Context, principalID uuid.UUID, token string, issuedAt, expiresAt time.Time) (*Session, error)
	FindByToken(ctx context.Context, token string) (*Session, error)
	FindByPrincipal(ctx context.Context, principalID uuid.UUID) (*Session, error)
	DeleteByToken(ctx context.Context, token string) error
	SweepExpired(ctx context.Context, cutoff time.Time) (int, error)
}

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	signingKey  []byte
	accessTTL   time.Duration
	refreshTTL  time.Duration
	issuer      string
	audience    jwt.ClaimStrings
	sessions    SessionStore
	identities  IdentityProvider
	decorator   ClaimsDecorator
	activitySvc ActivitySink
	nowFn       func() time.Time
	logger      Logger
}

// TokenServiceOption mutates the service during construction.
type TokenServiceOption func(*TokenServiceImpl)

// WithTokenServiceClock overrides the clock, mainly for tests.
func WithTokenServiceClock(now func() time.Time) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if now != nil {
			ts.nowFn = now
		}
	}
}

// WithClaimsDecorator installs a decorator run before each access token is signed.
func WithClaimsDecorator(d ClaimsDecorator) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		ts.decorator = normalizeClaimsDecorator(d)
	}
}

// WithTokenActivitySink installs a best-effort audit sink.
func WithTokenActivitySink(s ActivitySink) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		ts.activitySvc = normalizeActivitySink(s)
	}
}

// NewTokenService creates a new TokenService instance. The signing key is
// mandatory: there is no fallback secret, hosts without one must not start.
func NewTokenService(cfg Config, sessions SessionStore, identities IdentityProvider, logger Logger, opts ...TokenServiceOption) (TokenService, error) {
	if cfg == nil {
		return nil, errors.New("config is required", errors.CategoryBadInput)
	}

	if cfg.GetSigningKey() == "" {
		return nil, ErrMissingSigningKey
	}

	if sessions == nil {
		return nil, errors.New("session store is required", errors.CategoryBadInput)
	}

	if logger == nil {
		logger = defLogger{}
	}

	ts := &TokenServiceImpl{
		signingKey:  []byte(cfg.GetSigningKey()),
		accessTTL:   cfg.GetAccessTokenExpiration(),
		refreshTTL:  cfg.GetRefreshTokenExpiration(),
		issuer:      cfg.GetIssuer(),
		audience:    jwt.ClaimStrings(cfg.GetAudience()),
		sessions:    sessions,
		identities:  identities,
		decorator:   noopClaimsDecorator{},
		activitySvc: noopActivitySink{},
		nowFn:       time.Now,
		logger:      logger,
	}

	if ts.accessTTL <= 0 {
		ts.accessTTL = 15 * time.Minute
	}

	if ts.refreshTTL <= 0 {
		ts.refreshTTL = 7 * 24 * time.Hour
	}

	for _, opt := range opts {
		opt(ts)
	}

	return ts, nil
}

// IssueAccessToken creates a signed JWT for the identity
func (ts *TokenServiceImpl) IssueAccessToken(ctx context.Context, identity Identity) (string, time.Time, error) {
	if identity == nil {
		return "", time.Time{}, errors.New("identity is required", errors.CategoryBadInput)
	}

	now := ts.nowFn()
	expiresAt := now.Add(ts.accessTTL)

	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   identity.ID(),
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UID:       identity.ID(),
		UserEmail: identity.Email(),
		Admin:     identity.IsAdmin(),
		PlanTier:  identity.Plan(),
	}

	snapshot := captureImmutableClaims(claims)
	if err := ts.decorator.Decorate(ctx, identity, claims); err != nil {
		return "", time.Time{}, errors.Wrap(err, errors.CategoryInternal, "claims decorator failed")
	}
	if err := snapshot.validate(claims); err != nil {
		return "", time.Time{}, err
	}

	ensureTokenID(&claims.RegisteredClaims)

	signed, err := ts.SignClaims(claims)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// IssueRefreshToken mints an opaque random token and persists the session
// backing it. The token itself carries no structure or signature.
func (ts *TokenServiceImpl) IssueRefreshToken(ctx context.Context, identity Identity) (string, error) {
	if identity == nil {
		return "", errors.New("identity is required", errors.CategoryBadInput)
	}

	principalID, err := ParsePrincipalID(identity.ID())
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryBadInput, "identity has no usable id")
	}

	token, err := newOpaqueToken()
	if err != nil {
		return "", err
	}

	now := ts.nowFn()
	if _, err := ts.sessions.CreateSession(ctx, principalID, token, now, now.Add(ts.refreshTTL)); err != nil {
		return "", wrapStorageError(err, "failed to persist refresh session")
	}

	return token, nil
}

// IssuePair mints both tokens for a freshly authenticated identity.
func (ts *TokenServiceImpl) IssuePair(ctx context.Context, identity Identity) (TokenPair, error) {
	access, expiresAt, err := ts.IssueAccessToken(ctx, identity)
	if err != nil {
		return TokenPair{}, err
	}

	refresh, err := ts.IssueRefreshToken(ctx, identity)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	}, nil
}

// SignClaims signs arbitrary JWT claims using the configured signing key.
func (ts *TokenServiceImpl) SignClaims(claims *JWTClaims) (string, error) {
	if claims == nil {
		return "", errors.New("claims must not be nil", errors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// Validate parses and validates a token string, returning structured claims.
// Expired tokens come back as ErrTokenExpired; everything else that fails
// parsing or signature checks comes back as ErrTokenMalformed.
func (ts *TokenServiceImpl) Validate(tokenString string) (AuthClaims, error) {
	parserOptions := make([]jwt.ParserOption, 0, 2)
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("TokenService validate encountered unexpected signing method: %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).WithTextCode(ErrTokenMalformed.TextCode)
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	ts.logger.Error("TokenService validate could not decode or validate claims")
	return nil, ErrUnableToDecodeSession
}

// Rotate exchanges a live refresh token for a fresh access token. The
// backing session keeps its original expiry: rotation never extends a
// session's life. An expired session is removed and reported as missing.
func (ts *TokenServiceImpl) Rotate(ctx context.Context, refreshToken string) (string, Identity, error) {
	if refreshToken == "" {
		return "", nil, ErrSessionNotFound
	}

	session, err := ts.sessions.FindByToken(ctx, refreshToken)
	if err != nil {
		return "", nil, err
	}

	now := ts.nowFn()
	if session.Expired(now) {
		if derr := ts.sessions.DeleteByToken(ctx, refreshToken); derr != nil {
			ts.logger.Warn("TokenService rotate failed to drop expired session: %v", derr)
		}
		return "", nil, ErrSessionNotFound
	}

	if ts.identities == nil {
		return "", nil, errors.New("identity provider is required for rotation", errors.CategoryInternal)
	}

	// Re-resolve the principal from storage so demotions and plan changes
	// made since login land in the new token.
	identity, err := ts.identities.FindIdentityByIdentifier(ctx, session.PrincipalID.String())
	if err != nil {
		return "", nil, err
	}

	access, _, err := ts.IssueAccessToken(ctx, identity)
	if err != nil {
		return "", nil, err
	}

	ts.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventTokenRotated,
		Actor:      ActorRef{ID: identity.ID()},
		UserID:     identity.ID(),
		OccurredAt: now,
	})

	return access, identity, nil
}

// RevokeRefreshToken drops the session backing a refresh token. Revoking a
// token that never existed or was already revoked is a no-op. Access tokens
// already in flight stay valid until they expire on their own.
func (ts *TokenServiceImpl) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return ts.sessions.DeleteByToken(ctx, refreshToken)
}

func (ts *TokenServiceImpl) recordActivity(ctx context.Context, event ActivityEvent) {
	if err := ts.activitySvc.Record(ctx, event); err != nil {
		ts.logger.Warn("TokenService activity sink error: %v", err)
	}
}

func (ts *TokenServiceImpl) tokenDefaults() tokenDefaults {
	var aud jwt.ClaimStrings
	if len(ts.audience) > 0 {
		aud = make(jwt.ClaimStrings, len(ts.audience))
		copy(aud, ts.audience)
	}

	return tokenDefaults{
		issuer:   ts.issuer,
		audience: aud,
		ttl:      ts.accessTTL,
	}
}

func newOpaqueToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to read random bytes")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
