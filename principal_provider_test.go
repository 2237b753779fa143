package appkit_test

import (
	"context"
	"testing"
	"time"

	appkit "github.com/goliatone/go-appkit"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryPrincipalTracker mimics the login-attempt bookkeeping the real
// repository does in SQL.
type memoryPrincipalTracker struct {
	byIdentifier map[string]*appkit.Principal
}

func newMemoryPrincipalTracker(principals ...*appkit.Principal) *memoryPrincipalTracker {
	tracker := &memoryPrincipalTracker{byIdentifier: map[string]*appkit.Principal{}}
	for _, p := range principals {
		tracker.byIdentifier[p.Email] = p
		tracker.byIdentifier[p.ID.String()] = p
	}
	return tracker
}

func (m *memoryPrincipalTracker) GetByIdentifier(ctx context.Context, identifier string) (*appkit.Principal, error) {
	principal, ok := m.byIdentifier[identifier]
	if !ok {
		return nil, appkit.ErrPrincipalNotFound
	}
	return principal, nil
}

func (m *memoryPrincipalTracker) TrackAttemptedLogin(ctx context.Context, principal *appkit.Principal) error {
	now := time.Now()
	principal.LoginAttempts++
	principal.LoginAttemptAt = &now
	return nil
}

func (m *memoryPrincipalTracker) TrackSuccessfulLogin(ctx context.Context, principal *appkit.Principal) error {
	now := time.Now()
	principal.LoginAttempts = 0
	principal.LoginAttemptAt = nil
	principal.LoggedInAt = &now
	return nil
}

func seedPrincipal(t *testing.T, password string) *appkit.Principal {
	t.Helper()

	hash, err := appkit.HashPassword(password)
	require.NoError(t, err)

	return &appkit.Principal{
		ID:           uuid.New(),
		Email:        "pepe.rone@example.com",
		DisplayName:  "Pepe Rone",
		Plan:         appkit.PlanCreator,
		PasswordHash: hash,
	}
}

func TestVerifyIdentitySuccess(t *testing.T) {
	principal := seedPrincipal(t, "s3cret")
	provider := appkit.NewPrincipalProvider(newMemoryPrincipalTracker(principal))

	identity, err := provider.VerifyIdentity(context.Background(), principal.Email, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, principal.ID.String(), identity.ID())
	assert.Equal(t, principal.Email, identity.Email())
	assert.Equal(t, string(appkit.PlanCreator), identity.Plan())
	assert.NotNil(t, principal.LoggedInAt)
}

func TestVerifyIdentityWrongPasswordTracksAttempt(t *testing.T) {
	principal := seedPrincipal(t, "s3cret")
	provider := appkit.NewPrincipalProvider(newMemoryPrincipalTracker(principal))

	_, err := provider.VerifyIdentity(context.Background(), principal.Email, "wrong")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appkit.ErrMismatchedHashAndPassword))
	assert.Equal(t, 1, principal.LoginAttempts)
	assert.NotNil(t, principal.LoginAttemptAt)
}

func TestVerifyIdentityUnknownAccountLooksLikeWrongPassword(t *testing.T) {
	provider := appkit.NewPrincipalProvider(newMemoryPrincipalTracker())

	_, err := provider.VerifyIdentity(context.Background(), "ghost@example.com", "whatever")
	require.Error(t, err)

	// indistinguishable from a bad password, so responses cannot be used
	// to probe which emails have accounts
	assert.True(t, errors.Is(err, appkit.ErrMismatchedHashAndPassword))
	assert.False(t, errors.Is(err, appkit.ErrPrincipalNotFound))
}

func TestVerifyIdentityLockoutAfterRepeatedFailures(t *testing.T) {
	principal := seedPrincipal(t, "s3cret")
	provider := appkit.NewPrincipalProvider(newMemoryPrincipalTracker(principal))

	for i := 0; i <= appkit.MaxLoginAttempts; i++ {
		_, err := provider.VerifyIdentity(context.Background(), principal.Email, "wrong")
		assert.True(t, errors.Is(err, appkit.ErrMismatchedHashAndPassword))
	}

	// even the right password is refused while the account cools down
	_, err := provider.VerifyIdentity(context.Background(), principal.Email, "s3cret")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appkit.ErrTooManyLoginAttempts))
}

func TestVerifyIdentityCooldownExpires(t *testing.T) {
	principal := seedPrincipal(t, "s3cret")
	principal.LoginAttempts = appkit.MaxLoginAttempts + 1
	stale := time.Now().Add(-25 * time.Hour)
	principal.LoginAttemptAt = &stale

	provider := appkit.NewPrincipalProvider(newMemoryPrincipalTracker(principal))

	identity, err := provider.VerifyIdentity(context.Background(), principal.Email, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, principal.ID.String(), identity.ID())
	assert.Equal(t, 0, principal.LoginAttempts)
}

func TestVerifyIdentityRejectsUnknownPlan(t *testing.T) {
	principal := seedPrincipal(t, "s3cret")
	principal.Plan = appkit.PlanTier("enterprise")

	provider := appkit.NewPrincipalProvider(newMemoryPrincipalTracker(principal))

	_, err := provider.VerifyIdentity(context.Background(), principal.Email, "s3cret")
	require.Error(t, err)

	var richErr *errors.Error
	require.True(t, errors.As(err, &richErr))
	assert.Equal(t, "INVALID_PLAN", richErr.TextCode)
}

func TestFindIdentityByIdentifier(t *testing.T) {
	principal := seedPrincipal(t, "s3cret")
	provider := appkit.NewPrincipalProvider(newMemoryPrincipalTracker(principal))

	identity, err := provider.FindIdentityByIdentifier(context.Background(), principal.ID.String())
	require.NoError(t, err)
	assert.Equal(t, principal.Email, identity.Email())

	_, err = provider.FindIdentityByIdentifier(context.Background(), uuid.NewString())
	require.Error(t, err)
	assert.True(t, errors.Is(err, appkit.ErrPrincipalNotFound))
}

func TestIdentityPlanDefaultsToFree(t *testing.T) {
	principal := seedPrincipal(t, "s3cret")
	principal.Plan = ""

	provider := appkit.NewPrincipalProvider(newMemoryPrincipalTracker(principal))

	identity, err := provider.FindIdentityByIdentifier(context.Background(), principal.Email)
	require.NoError(t, err)
	assert.Equal(t, string(appkit.PlanFree), identity.Plan())
}
