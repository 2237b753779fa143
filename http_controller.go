package appkit

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

type Middleware interface {
	Impersonate(c router.Context, identifier string) error
	ProtectedRoute(cfg Config, errorHandler func(router.Context, error) error) router.MiddlewareFunc
}

func GetRouterSession(c router.Context, key string) (*SessionObject, error) {
	cookie := c.Locals(key)
	if cookie == nil {
		return nil, ErrUnableToFindSession
	}

	if claims, ok := cookie.(AuthClaims); ok {
		return sessionFromAuthClaims(claims)
	}

	token, ok := cookie.(*jwt.Token)
	if token == nil || !ok {
		return nil, ErrUnableToDecodeSession
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if claims == nil || !ok {
		return nil, ErrUnableToMapClaims
	}

	return sessionFromClaims(claims)
}

func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) {

	controller := NewAuthController(opts...)

	app.
		Post(
			controller.Routes.Login,
			controller.LoginPost,
		).
		SetName("auth.login")

	app.Post(controller.Routes.Logout, controller.LogOut).SetName("auth.logout")
	app.Post(controller.Routes.Refresh, controller.RefreshPost).SetName("auth.refresh")
	app.Post(controller.Routes.Register, controller.RegistrationCreate).SetName("auth.register")
}

type AuthControllerRoutes struct {
	Login    string
	Logout   string
	Refresh  string
	Register string
}

type AuthController struct {
	Debug        bool
	Logger       Logger
	Repo         RepositoryManager
	Routes       *AuthControllerRoutes
	Auther       HTTPAuthenticator
	ErrorHandler router.ErrorHandler
}

type AuthControllerOption func(*AuthController) *AuthController

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:       defLogger{},
		ErrorHandler: defaultErrHandler,
		Routes: &AuthControllerRoutes{
			Login:    "/auth/login",
			Logout:   "/auth/logout",
			Refresh:  "/auth/refresh",
			Register: "/auth/register",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}

	if c.Auther == nil {
		panic("Missing HTTPAuthenticator in auth controller...")
	}

	return c
}

func WithControllerRepo(repo RepositoryManager) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Repo = repo
		return c
	}
}

func WithControllerAuther(auther HTTPAuthenticator) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Auther = auther
		return c
	}
}

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithControllerDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

// LoginRequest payload
type LoginRequest struct {
	Identifier string `form:"identifier" json:"identifier"`
	Password   string `form:"password" json:"password"`
	RememberMe bool   `form:"remember_me" json:"remember_me"`
}

// GetIdentifier returns the identifier
func (r LoginRequest) GetIdentifier() string {
	return r.Identifier
}

// GetPassword will return the password
func (r LoginRequest) GetPassword() string {
	return r.Password
}

// GetExtendedSession reports if the client asked for a long-lived session
func (r LoginRequest) GetExtendedSession() bool {
	return r.RememberMe
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Identifier,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

func (a *AuthController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"validation": FormatValidationErrorToMap(err),
		})
	}

	if a.Debug {
		a.Logger.Debug("auth login payload: %s", print.MaybePrettyJSON(payload))
	}

	if err := a.Auther.Login(ctx, payload); err != nil {
		return respondAuthError(ctx, err)
	}

	pair, _ := ctx.Locals(tokenPairLocalKey).(TokenPair)

	return ctx.JSON(router.StatusOK, map[string]any{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_at":    pair.ExpiresAt,
	})
}

func (a *AuthController) LogOut(ctx router.Context) error {
	a.Auther.Logout(ctx)
	return ctx.JSON(router.StatusOK, map[string]any{
		"ok": true,
	})
}

func (a *AuthController) RefreshPost(ctx router.Context) error {
	result, err := a.Auther.Refresh(ctx)
	if err != nil {
		return respondAuthError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"access_token": result.RotatedAccessToken,
	})
}

// RegistrationCreatePayload is the signup payload
type RegistrationCreatePayload struct {
	DisplayName     string `form:"display_name" json:"display_name"`
	Email           string `form:"email" json:"email"`
	Phone           string `form:"phone_number" json:"phone_number"`
	Plan            string `form:"plan" json:"plan"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r RegistrationCreatePayload) Validate() error {

	return validation.ValidateStruct(&r,
		validation.Field(&r.DisplayName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Phone, validation.Length(10, 15)),
		validation.Field(&r.Plan, validation.In(
			string(PlanFree),
			string(PlanCreator),
			string(PlanStudio),
		)),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.Length(10, 100),
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AuthController) RegistrationCreate(ctx router.Context) error {
	payload := new(RegistrationCreatePayload)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("register principal parse payload: %v", err)
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error": "failed to parse body",
		})
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("register principal validate payload: %v", err)
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"validation": FormatValidationErrorToMap(err),
		})
	}

	req := RegisterPrincipalMessage{
		DisplayName: payload.DisplayName,
		Email:       payload.Email,
		Phone:       payload.Phone,
		Plan:        payload.Plan,
		Password:    payload.Password,
	}

	registerPrincipal := NewRegisterPrincipalHandler(a.Repo)
	if err := registerPrincipal.Execute(ctx.Context(), req); err != nil {
		a.Logger.Error("register principal error: %v", err)
		return respondDomainError(ctx, err)
	}

	return ctx.JSON(router.StatusCreated, map[string]any{
		"ok": true,
	})
}

// JobControllerRoutes names the job endpoints.
type JobControllerRoutes struct {
	Submit      string
	Get         string
	WorkerEvent string
}

type JobController struct {
	Debug        bool
	Logger       Logger
	Machine      JobStateMachine
	Routes       *JobControllerRoutes
	ContextKey   string
	ErrorHandler router.ErrorHandler
	Protected    []router.MiddlewareFunc
	WorkerGuard  []router.MiddlewareFunc
}

type JobControllerOption func(*JobController) *JobController

func NewJobController(opts ...JobControllerOption) *JobController {
	c := &JobController{
		Logger:       defLogger{},
		ErrorHandler: defaultErrHandler,
		ContextKey:   "user",
		Routes: &JobControllerRoutes{
			Submit:      "/jobs",
			Get:         "/jobs/:job_id",
			WorkerEvent: "/internal/jobs/:job_id/events",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Machine == nil {
		panic("Missing JobStateMachine in job controller...")
	}

	return c
}

func WithJobMachine(machine JobStateMachine) JobControllerOption {
	return func(c *JobController) *JobController {
		c.Machine = machine
		return c
	}
}

func WithJobLogger(logger Logger) JobControllerOption {
	return func(c *JobController) *JobController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithJobContextKey(key string) JobControllerOption {
	return func(c *JobController) *JobController {
		if key != "" {
			c.ContextKey = key
		}
		return c
	}
}

// WithJobProtectedMiddleware sets the auth middleware applied to the
// principal-facing job routes.
func WithJobProtectedMiddleware(mw ...router.MiddlewareFunc) JobControllerOption {
	return func(c *JobController) *JobController {
		c.Protected = append(c.Protected, mw...)
		return c
	}
}

// WithWorkerMiddleware sets the shared-secret middleware applied to the
// worker callback route.
func WithWorkerMiddleware(mw ...router.MiddlewareFunc) JobControllerOption {
	return func(c *JobController) *JobController {
		c.WorkerGuard = append(c.WorkerGuard, mw...)
		return c
	}
}

// RegisterJobRoutes mounts the job endpoints. Submit and Get run behind the
// configured auth middleware, WorkerEvent behind the worker secret guard.
func RegisterJobRoutes[T any](app router.Router[T], opts ...JobControllerOption) {
	controller := NewJobController(opts...)

	app.Post(controller.Routes.Submit, controller.SubmitJob, controller.Protected...).SetName("jobs.submit")
	app.Get(controller.Routes.Get, controller.GetJob, controller.Protected...).SetName("jobs.get")
	app.Post(controller.Routes.WorkerEvent, controller.WorkerEvent, controller.WorkerGuard...).SetName("jobs.worker_event")
}

// SubmitJobPayload is the job submission body.
type SubmitJobPayload struct {
	JobID    string         `json:"job_id"`
	Type     string         `json:"type"`
	Category string         `json:"category"`
	Input    map[string]any `json:"input,omitempty"`
}

// Validate will run validation rules
func (r SubmitJobPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.JobID, validation.Required, validation.Length(1, 128)),
		validation.Field(&r.Type, validation.Required, validation.Length(1, 64)),
		validation.Field(&r.Category, validation.Required, validation.In(
			JobCategoryText,
			JobCategoryImage,
			JobCategoryVideo,
		)),
	)
}

func (a *JobController) SubmitJob(ctx router.Context) error {
	claims, ok := GetRouterClaims(ctx, a.ContextKey)
	if !ok {
		return respondAuthError(ctx, ErrUnauthenticated)
	}

	payload := new(SubmitJobPayload)
	if err := ctx.Bind(payload); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error": "failed to parse body",
		})
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"validation": FormatValidationErrorToMap(err),
		})
	}

	if !claims.AllowsCategory(payload.Category) {
		return respondAuthError(ctx, ErrForbidden.Clone().WithMetadata(map[string]any{
			"category": payload.Category,
			"plan":     claims.Plan(),
		}))
	}

	ownerID, err := uuid.Parse(claims.UserID())
	if err != nil {
		return respondAuthError(ctx, ErrUnauthenticated)
	}

	job := &Job{
		JobID:    payload.JobID,
		OwnerID:  ownerID,
		Type:     payload.Type,
		Category: payload.Category,
	}

	created, err := a.Machine.Submit(ctx.Context(), ActorRef{ID: claims.UserID(), Type: "user"}, job)
	if err != nil {
		return respondDomainError(ctx, err)
	}

	return ctx.JSON(router.StatusCreated, created)
}

func (a *JobController) GetJob(ctx router.Context) error {
	claims, ok := GetRouterClaims(ctx, a.ContextKey)
	if !ok {
		return respondAuthError(ctx, ErrUnauthenticated)
	}

	jobID := ctx.Param("job_id")

	job, err := a.Machine.Get(ctx.Context(), jobID)
	if err != nil {
		return respondDomainError(ctx, err)
	}

	if !job.OwnedBy(claims.UserID()) && !claims.IsAdmin() {
		// hide other principals' jobs entirely
		return respondDomainError(ctx, ErrJobNotFound)
	}

	return ctx.JSON(router.StatusOK, job)
}

// JobEventPayload is the worker callback body.
type JobEventPayload struct {
	Status string         `json:"status"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Validate will run validation rules
func (r JobEventPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Status, validation.Required, validation.In(
			string(JobStatusProcessing),
			string(JobStatusCompleted),
			string(JobStatusFailed),
		)),
	)
}

// WorkerEvent applies a worker-reported status change. The route is
// authenticated by the shared worker secret, not by a principal: workers
// act on jobs regardless of who owns them.
func (a *JobController) WorkerEvent(ctx router.Context) error {
	jobID := ctx.Param("job_id")

	payload := new(JobEventPayload)
	if err := ctx.Bind(payload); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error": "failed to parse body",
		})
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"validation": FormatValidationErrorToMap(err),
		})
	}

	opts := []TransitionOption{}
	switch JobStatus(payload.Status) {
	case JobStatusCompleted:
		opts = append(opts, WithJobResult(payload.Result))
	case JobStatusFailed:
		opts = append(opts, WithJobError(payload.Error))
	}

	job, err := a.Machine.Transition(
		ctx.Context(),
		ActorRef{Type: "worker"},
		jobID,
		JobStatus(payload.Status),
		opts...,
	)
	if err != nil {
		return respondDomainError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, job)
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return fmt.Errorf("values must match")
		}
		return nil
	}
}

// FormatValidationErrorToMap flattens ozzo validation errors to field->message.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	if verrs, ok := err.(validation.Errors); ok {
		for field, ferr := range verrs {
			if ferr != nil {
				out[field] = ferr.Error()
			}
		}
		return out
	}

	out["error"] = err.Error()
	return out
}

func respondAuthError(ctx router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryAuth, "authentication failed").
			WithCode(errors.CodeUnauthorized)
	}

	code := richErr.Code
	if code == 0 {
		code = router.StatusUnauthorized
	}

	return ctx.JSON(code, map[string]any{
		"error":     richErr.Message,
		"text_code": richErr.TextCode,
	})
}

func respondDomainError(ctx router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "request failed").
			WithCode(errors.CodeInternal)
	}

	code := richErr.Code
	if code == 0 {
		switch richErr.Category {
		case errors.CategoryNotFound:
			code = router.StatusNotFound
		case errors.CategoryConflict:
			code = router.StatusConflict
		case errors.CategoryValidation, errors.CategoryBadInput:
			code = router.StatusBadRequest
		case errors.CategoryRateLimit:
			code = router.StatusTooManyRequests
		default:
			code = router.StatusInternalServerError
		}
	}

	return ctx.JSON(code, map[string]any{
		"error":     richErr.Message,
		"text_code": richErr.TextCode,
	})
}

func defaultErrHandler(c router.Context, err error) error {
	return respondDomainError(c, err)
}
