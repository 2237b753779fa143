package appkit

import (
	"context"
	"testing"

	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticValidator struct {
	claims AuthClaims
	err    error
}

func (v staticValidator) Validate(tokenString string) (AuthClaims, error) {
	return v.claims, v.err
}

type wsValidatorService struct {
	TokenService
	validator staticValidator
}

func (s wsValidatorService) Validate(tokenString string) (AuthClaims, error) {
	return s.validator.Validate(tokenString)
}

func TestWSTokenValidatorValidate(t *testing.T) {
	claims := &JWTClaims{UID: "user-1", PlanTier: string(PlanCreator)}

	t.Run("wraps claims in the adapter", func(t *testing.T) {
		validator := NewWSTokenValidator(wsValidatorService{validator: staticValidator{claims: claims}})

		result, err := validator.Validate("valid-token")
		require.NoError(t, err)
		require.IsType(t, &WSAuthClaimsAdapter{}, result)

		adapter := result.(*WSAuthClaimsAdapter)
		assert.Equal(t, claims, adapter.claims)
	})

	t.Run("propagates validation errors", func(t *testing.T) {
		validator := NewWSTokenValidator(wsValidatorService{validator: staticValidator{err: ErrTokenMalformed}})

		result, err := validator.Validate("garbage")
		assert.Nil(t, result)
		assert.Equal(t, ErrTokenMalformed, err)
	})
}

func TestWSAuthClaimsAdapterRoleMapping(t *testing.T) {
	t.Run("plan tier is the role", func(t *testing.T) {
		adapter := &WSAuthClaimsAdapter{claims: &JWTClaims{UID: "u1", PlanTier: string(PlanCreator)}}

		assert.Equal(t, string(PlanCreator), adapter.Role())
		assert.True(t, adapter.HasRole(string(PlanCreator)))
		assert.False(t, adapter.HasRole(string(PlanStudio)))
		assert.False(t, adapter.HasRole("admin"))
	})

	t.Run("admin overrides the plan role", func(t *testing.T) {
		adapter := &WSAuthClaimsAdapter{claims: &JWTClaims{UID: "u1", PlanTier: string(PlanFree), Admin: true}}

		assert.Equal(t, "admin", adapter.Role())
		assert.True(t, adapter.HasRole("admin"))
	})

	t.Run("role floor follows the plan hierarchy", func(t *testing.T) {
		adapter := &WSAuthClaimsAdapter{claims: &JWTClaims{UID: "u1", PlanTier: string(PlanCreator)}}

		assert.True(t, adapter.IsAtLeast(string(PlanFree)))
		assert.True(t, adapter.IsAtLeast(string(PlanCreator)))
		assert.False(t, adapter.IsAtLeast(string(PlanStudio)))
	})
}

func TestWSAuthClaimsAdapterPermissions(t *testing.T) {
	free := &WSAuthClaimsAdapter{claims: &JWTClaims{UID: "u1", PlanTier: string(PlanFree)}}
	creator := &WSAuthClaimsAdapter{claims: &JWTClaims{UID: "u2", PlanTier: string(PlanCreator)}}
	admin := &WSAuthClaimsAdapter{claims: &JWTClaims{UID: "u3", PlanTier: string(PlanFree), Admin: true}}

	// reads are open to any authenticated principal
	assert.True(t, free.CanRead(JobCategoryVideo))

	// creation follows the plan's category allowance
	assert.True(t, free.CanCreate(JobCategoryText))
	assert.False(t, free.CanCreate(JobCategoryImage))
	assert.False(t, free.CanCreate(JobCategoryVideo))
	assert.True(t, creator.CanCreate(JobCategoryImage))
	assert.True(t, creator.CanCreate(JobCategoryVideo))

	// edits and deletes stay admin only regardless of plan
	assert.False(t, creator.CanEdit(JobCategoryImage))
	assert.False(t, creator.CanDelete(JobCategoryImage))
	assert.True(t, admin.CanEdit(JobCategoryImage))
	assert.True(t, admin.CanDelete(JobCategoryImage))
}

func TestWSAuthClaimsFromContext(t *testing.T) {
	t.Run("unwraps the adapter claims", func(t *testing.T) {
		claims := &JWTClaims{UID: "user-1", PlanTier: string(PlanStudio)}
		adapter := &WSAuthClaimsAdapter{claims: claims}
		ctx := context.WithValue(context.Background(), router.WSAuthContextKey{}, router.WSAuthClaims(adapter))

		result, ok := WSAuthClaimsFromContext(ctx)
		require.True(t, ok)
		assert.Equal(t, AuthClaims(claims), result)
	})

	t.Run("empty context", func(t *testing.T) {
		result, ok := WSAuthClaimsFromContext(context.Background())
		assert.False(t, ok)
		assert.Nil(t, result)
	})
}
