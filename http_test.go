package appkit_test

import (
	"context"
	"testing"

	appkit "github.com/goliatone/go-appkit"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newHTTPFixture(t *testing.T, provider appkit.IdentityProvider, cfg appkit.Config) (*appkit.RouteAuthenticator, *appkit.AuthGate) {
	t.Helper()

	gate, _ := newGateFixture(t, provider)
	auther, err := appkit.NewHTTPAuthenticator(gate, cfg)
	require.NoError(t, err)

	return auther, gate
}

func TestWorkerAuthFailsClosedWithoutSecret(t *testing.T) {
	cfg := newTestConfig()
	auther, _ := newHTTPFixture(t, &MockIdentityProvider{}, cfg)

	var captured error
	auther.ErrorHandler = func(c router.Context, err error) error {
		captured = err
		return err
	}

	mockCtx := new(MockContext)
	handlerCalled := false
	handler := auther.WorkerAuth()(func(c router.Context) error {
		handlerCalled = true
		return nil
	})

	err := handler(mockCtx)
	require.Error(t, err)
	assert.True(t, errors.Is(captured, appkit.ErrUnauthenticated))
	assert.False(t, handlerCalled)
	// the secret header is never even read when no secret is configured
	mockCtx.AssertNotCalled(t, "GetString", appkit.HeaderWorkerSecret, "")
}

func TestWorkerAuthRejectsWrongSecret(t *testing.T) {
	cfg := newTestConfig()
	cfg.workerSecret = "w0rker-s3cret"
	auther, _ := newHTTPFixture(t, &MockIdentityProvider{}, cfg)

	var captured error
	auther.ErrorHandler = func(c router.Context, err error) error {
		captured = err
		return err
	}

	mockCtx := new(MockContext)
	mockCtx.On("GetString", appkit.HeaderWorkerSecret, "").Return("guessed")

	handlerCalled := false
	handler := auther.WorkerAuth()(func(c router.Context) error {
		handlerCalled = true
		return nil
	})

	err := handler(mockCtx)
	require.Error(t, err)
	assert.True(t, errors.Is(captured, appkit.ErrUnauthenticated))
	assert.False(t, handlerCalled)
	mockCtx.AssertExpectations(t)
}

func TestWorkerAuthAcceptsMatchingSecret(t *testing.T) {
	cfg := newTestConfig()
	cfg.workerSecret = "w0rker-s3cret"
	auther, _ := newHTTPFixture(t, &MockIdentityProvider{}, cfg)

	mockCtx := new(MockContext)
	mockCtx.On("GetString", appkit.HeaderWorkerSecret, "").Return("w0rker-s3cret")

	handlerCalled := false
	handler := auther.WorkerAuth()(func(c router.Context) error {
		handlerCalled = true
		return nil
	})

	require.NoError(t, handler(mockCtx))
	assert.True(t, handlerCalled)
	mockCtx.AssertExpectations(t)
}

func TestLoginSetsHardenedCookies(t *testing.T) {
	identity := newTestIdentity()
	provider := &MockIdentityProvider{}
	provider.On("VerifyIdentity", mock.Anything, identity.Email(), "s3cret").
		Return(identity, nil)

	cfg := newTestConfig()
	auther, _ := newHTTPFixture(t, provider, cfg)

	mockCtx := new(MockContext)
	mockCtx.On("Context").Return(context.Background())
	mockCtx.On("Cookie", mock.MatchedBy(func(c *router.Cookie) bool {
		return c.Name == cfg.GetContextKey() && c.Value != "" && c.HTTPOnly && c.Secure
	})).Return()
	// the refresh cookie never leaves same-site navigation
	mockCtx.On("Cookie", mock.MatchedBy(func(c *router.Cookie) bool {
		return c.Name == cfg.GetRefreshCookieName() && c.Value != "" &&
			c.HTTPOnly && c.Secure && c.SameSite == "Strict"
	})).Return()
	mockCtx.On("Locals", "auth_token_pair", mock.Anything).Return(nil)

	payload := appkit.LoginRequest{Identifier: identity.Email(), Password: "s3cret"}
	require.NoError(t, auther.Login(mockCtx, payload))

	mockCtx.AssertExpectations(t)
	provider.AssertExpectations(t)
}

func TestRouteRefreshRotatesAccessCookie(t *testing.T) {
	identity := newTestIdentity()
	provider := &MockIdentityProvider{}
	provider.On("FindIdentityByIdentifier", mock.Anything, identity.ID()).
		Return(identity, nil)

	cfg := newTestConfig()
	auther, gate := newHTTPFixture(t, provider, cfg)

	refresh, err := gate.TokenService().IssueRefreshToken(context.Background(), identity)
	require.NoError(t, err)

	mockCtx := new(MockContext)
	mockCtx.On("Context").Return(context.Background())
	mockCtx.On("Cookies", cfg.GetRefreshCookieName()).Return(refresh)
	mockCtx.On("Cookie", mock.MatchedBy(func(c *router.Cookie) bool {
		return c.Name == cfg.GetContextKey() && c.Value != "" && c.HTTPOnly
	})).Return()

	result, err := auther.Refresh(mockCtx)
	require.NoError(t, err)
	assert.NotEmpty(t, result.RotatedAccessToken)
	assert.Equal(t, identity.ID(), result.Identity.ID())
	mockCtx.AssertExpectations(t)
}

func TestRouteRefreshWithoutCookie(t *testing.T) {
	cfg := newTestConfig()
	auther, _ := newHTTPFixture(t, &MockIdentityProvider{}, cfg)

	mockCtx := new(MockContext)
	mockCtx.On("Cookies", cfg.GetRefreshCookieName()).Return("")

	_, err := auther.Refresh(mockCtx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appkit.ErrUnauthenticated))
}
