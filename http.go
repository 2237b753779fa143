package appkit

import (
	"crypto/subtle"
	"time"

	"github.com/goliatone/go-appkit/middleware/jwtware"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// HeaderWorkerSecret carries the shared secret on worker callback requests.
const HeaderWorkerSecret = "X-Worker-Secret"

const tokenPairLocalKey = "auth_token_pair"

type RouteAuthenticator struct {
	gate             *AuthGate
	cfg              Config
	Logger           Logger
	AuthErrorHandler func(c router.Context, err error) error
	ErrorHandler     func(c router.Context, err error) error
}

func NewHTTPAuthenticator(gate *AuthGate, cfg Config) (*RouteAuthenticator, error) {
	if gate == nil {
		return nil, errors.New("auth gate is required", errors.CategoryBadInput)
	}

	a := &RouteAuthenticator{
		cfg:    cfg,
		gate:   gate,
		Logger: defLogger{},
	}

	a.ErrorHandler = a.defaultErrHandler
	a.AuthErrorHandler = a.defaultAuthErrHandler

	return a, nil
}

// claimsValidator adapts the gate's token validator to the jwtware interface.
type claimsValidator struct {
	validator TokenValidator
}

func (v claimsValidator) Validate(tokenString string) (jwtware.AuthClaims, error) {
	claims, err := v.validator.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// ProtectedRoute guards a route with bearer token validation only. Use
// GateRoute when the route should also pick up silent refresh.
func (a *RouteAuthenticator) ProtectedRoute(cfg Config, errorHandler func(router.Context, error) error) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return jwtware.New(jwtware.Config{
			ErrorHandler: errorHandler,
			SigningKey: jwtware.SigningKey{
				Key:    []byte(cfg.GetSigningKey()),
				JWTAlg: cfg.GetSigningMethod(),
			},
			AuthScheme:     cfg.GetAuthScheme(),
			ContextKey:     cfg.GetContextKey(),
			TokenLookup:    cfg.GetTokenLookup(),
			TokenValidator: claimsValidator{validator: a.gate.tokenValidator()},
		})(hf)
	}
}

// GateRoute authenticates via the full gate: a valid bearer passes, an
// expired bearer with a live refresh cookie is silently upgraded, anything
// else is handed to the error handler. Fresh access tokens are re-issued
// into the access token cookie.
func (a *RouteAuthenticator) GateRoute(errorHandler func(router.Context, error) error) router.MiddlewareFunc {
	if errorHandler == nil {
		errorHandler = a.AuthErrorHandler
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			creds := Credentials{
				Bearer:       a.bearerFromRequest(ctx),
				RefreshToken: ctx.Cookies(a.cfg.GetRefreshCookieName()),
			}

			result, err := a.gate.Authenticate(ctx.Context(), creds)
			if err != nil {
				return errorHandler(ctx, err)
			}

			if result.RotatedAccessToken != "" {
				a.setCookieToken(ctx, result.RotatedAccessToken, a.cfg.GetAccessTokenExpiration())
			}

			ctx.Locals(a.cfg.GetContextKey(), result.Claims)
			ctx.SetContext(WithClaimsContext(ctx.Context(), result.Claims))

			return next(ctx)
		}
	}
}

// bearerFromRequest pulls the raw access token using the configured lookup
// chain, falling back to the access token cookie.
func (a *RouteAuthenticator) bearerFromRequest(ctx router.Context) string {
	lookup := a.cfg.GetTokenLookup()
	if lookup == "" {
		lookup = "header:" + router.HeaderAuthorization
	}

	raw, err := jwtware.ExtractRawTokenFromContext(ctx, jwtware.GetExtractors(lookup, a.cfg.GetAuthScheme()))
	if err == nil && raw != "" {
		return raw
	}

	return ctx.Cookies(a.cfg.GetContextKey())
}

func (a *RouteAuthenticator) Login(ctx router.Context, payload LoginPayload) error {
	pair, _, err := a.gate.Login(ctx.Context(), payload.GetIdentifier(), payload.GetPassword())
	if err != nil {
		a.Logger.Error("Login error: %s", err)
		return err
	}

	a.setCookieToken(ctx, pair.AccessToken, a.cfg.GetAccessTokenExpiration())
	a.setRefreshCookie(ctx, pair.RefreshToken)

	ctx.Locals(tokenPairLocalKey, pair)
	return nil
}

// Logout revokes the refresh session and clears both auth cookies. Access
// tokens already handed out keep working until they expire.
func (a *RouteAuthenticator) Logout(ctx router.Context) {
	refresh := ctx.Cookies(a.cfg.GetRefreshCookieName())
	if err := a.gate.Logout(ctx.Context(), refresh); err != nil {
		a.Logger.Error("Logout revoke error: %s", err)
	}

	a.cookieDel(ctx, a.cfg.GetContextKey())
	a.cookieDel(ctx, a.cfg.GetRefreshCookieName())
}

// Refresh exchanges the refresh cookie for a fresh access token.
func (a *RouteAuthenticator) Refresh(ctx router.Context) (GateResult, error) {
	refresh := ctx.Cookies(a.cfg.GetRefreshCookieName())
	if refresh == "" {
		return GateResult{}, ErrUnauthenticated
	}

	result, err := a.gate.Refresh(ctx.Context(), refresh)
	if err != nil {
		return GateResult{}, err
	}

	if result.RotatedAccessToken != "" {
		a.setCookieToken(ctx, result.RotatedAccessToken, a.cfg.GetAccessTokenExpiration())
	}

	return result, nil
}

func (a *RouteAuthenticator) MakeClientRouteAuthErrorHandler(optional bool) func(router.Context, error) error {
	return func(ctx router.Context, err error) error {
		var richErr *errors.Error

		if IsTokenExpiredError(err) {
			richErr = ErrTokenExpired
		} else if IsMalformedError(err) {
			richErr = ErrTokenMalformed
		} else {
			richErr = errors.Wrap(err, errors.CategoryAuth, "Invalid authentication token").
				WithCode(errors.CodeUnauthorized)
		}

		if optional {
			a.Logger.Info("Optional auth failed, proceeding: %s", richErr.Message)
			return ctx.Next()
		}

		return a.ErrorHandler(ctx, richErr)
	}
}

func (a *RouteAuthenticator) GetRedirect(ctx router.Context, def ...string) string {
	rejectedRoute := a.cfg.GetRejectedRouteKey()
	r := ctx.Cookies(rejectedRoute)
	if r == "" {
		return def[0]
	}
	a.cookieDel(ctx, rejectedRoute)
	return r
}

func (a *RouteAuthenticator) GetRedirectOrDefault(ctx router.Context) string {
	rejectedRoute := a.cfg.GetRejectedRouteKey()
	refererHeader := string(ctx.Referer())

	r := ctx.Cookies(rejectedRoute, refererHeader)
	if r == "" {
		r = a.cfg.GetRejectedRouteDefault()
	}
	a.cookieDel(ctx, rejectedRoute)
	return r
}

func (a *RouteAuthenticator) SetRedirect(ctx router.Context) {
	rejectedRoute := a.cfg.GetRejectedRouteKey()

	a.Logger.Info("Setting redirect cookie key=%s path=%s", rejectedRoute, ctx.OriginalURL())

	ctx.Cookie(&router.Cookie{
		Name:     rejectedRoute,
		Value:    ctx.OriginalURL(),
		Expires:  time.Now().Add(time.Minute * 5),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) Impersonate(c router.Context, identifier string) error {
	token, err := a.gate.Impersonate(c.Context(), identifier)
	if err != nil {
		a.Logger.Error("Impersonate authentication error: %s", err)
		return err
	}

	a.setCookieToken(c, token, a.cfg.GetAccessTokenExpiration())
	return nil
}

// WorkerAuth guards worker callback routes with the static shared secret.
// The comparison is constant time, and an unconfigured secret fails closed:
// no request passes until one is set.
func (a *RouteAuthenticator) WorkerAuth() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			secret := a.cfg.GetWorkerSecret()
			if secret == "" {
				a.Logger.Error("Worker callback rejected, no worker secret configured")
				return a.ErrorHandler(ctx, ErrUnauthenticated)
			}

			presented := ctx.GetString(HeaderWorkerSecret, "")
			if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
				return a.ErrorHandler(ctx, ErrUnauthenticated)
			}

			return next(ctx)
		}
	}
}

func (a *RouteAuthenticator) setCookieToken(c router.Context, val string, duration time.Duration) {
	if duration <= 0 {
		duration = 15 * time.Minute
	}
	c.Cookie(&router.Cookie{
		Name:     a.cfg.GetContextKey(),
		Value:    val,
		Expires:  time.Now().Add(duration),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) setRefreshCookie(c router.Context, val string) {
	duration := a.cfg.GetRefreshTokenExpiration()
	if duration <= 0 {
		duration = 7 * 24 * time.Hour
	}
	c.Cookie(&router.Cookie{
		Name:     a.cfg.GetRefreshCookieName(),
		Value:    val,
		Expires:  time.Now().Add(duration),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Strict",
	})
}

func (a *RouteAuthenticator) cookieDel(c router.Context, name string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) defaultAuthErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryAuth, "An unexpected authentication error").
			WithCode(errors.CodeUnauthorized)
	}

	a.Logger.Info(
		"Authentication error error=%s text_code=%s path=%s",
		richErr.Message,
		richErr.TextCode,
		c.OriginalURL(),
	)

	return c.JSON(router.StatusUnauthorized, map[string]any{
		"error":     richErr.Message,
		"text_code": richErr.TextCode,
	})
}

func (a *RouteAuthenticator) defaultErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	a.Logger.Info(
		"Middleware error handler error=%s category=%s details=%s",
		richErr.Message,
		richErr.Category,
		print.MaybePrettyJSON(richErr.Metadata),
	)

	switch richErr.Category {
	case errors.CategoryAuth, errors.CategoryAuthz:
		return a.AuthErrorHandler(c, richErr)
	default:
		code := richErr.Code
		if code == 0 {
			code = router.StatusInternalServerError
		}
		return c.JSON(code, map[string]any{
			"error":     richErr.Message,
			"text_code": richErr.TextCode,
		})
	}
}
