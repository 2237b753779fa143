package appkit

import (
	"context"

	"github.com/goliatone/go-errors"
)

// AccountRegistrerer is the interface we need to handle new registrations
type AccountRegistrerer interface {
	RegisterPrincipal(ctx context.Context, email, displayName, password string) (*Principal, error)
}

// PrincipalTracker is a store we can use to retrieve principals
type PrincipalTracker interface {
	GetByIdentifier(ctx context.Context, identifier string) (*Principal, error)
	TrackAttemptedLogin(ctx context.Context, principal *Principal) error
	TrackSuccessfulLogin(ctx context.Context, principal *Principal) error
}

// PrincipalProvider resolves identities from principal storage
type PrincipalProvider struct {
	store     PrincipalTracker
	Validator func(*Principal) error
	logger    Logger
}

// MaxLoginAttempts is the maximun number of attempts a principal gets
// in a period
var MaxLoginAttempts = 5

// CoolDownPeriod is the period in which we enforce a cool down
var CoolDownPeriod = "24h"

// NewPrincipalProvider will create a new PrincipalProvider
func NewPrincipalProvider(store PrincipalTracker) *PrincipalProvider {
	return &PrincipalProvider{
		store:     store,
		logger:    defLogger{},
		Validator: defaultValidator,
	}
}

func (u *PrincipalProvider) WithLogger(l Logger) *PrincipalProvider {
	if l != nil {
		u.logger = l
	}
	return u
}

func (u *PrincipalProvider) validate(principal *Principal) error {
	if u.Validator != nil {
		return u.Validator(principal)
	}
	return defaultValidator(principal)
}

// VerifyIdentity will find the principal, compare to the password, and return
// identity. A missing principal and a wrong password both come back as the
// same credential error so responses cannot confirm which emails exist.
func (u PrincipalProvider) VerifyIdentity(ctx context.Context, identifier, password string) (Identity, error) {
	principal, err := u.store.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, ErrMismatchedHashAndPassword
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve principal during verification")
	}

	if principal == nil {
		return nil, ErrIdentityNotFound
	}

	if principal.LoginAttemptAt != nil {
		expired, err := IsOutsideThresholdPeriod(*principal.LoginAttemptAt, CoolDownPeriod)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to calculate login attempt cooldown")
		}

		if expired {
			principal.LoginAttempts = 0
		}
	}

	//if we have too many attempts in the given window, cool off!
	if principal.LoginAttempts > MaxLoginAttempts {
		return nil, ErrTooManyLoginAttempts
	}

	if err := ComparePasswordAndHash(password, principal.PasswordHash); err != nil {
		// We have to increment the login_attempts counter and login_attempt_at
		if err2 := u.store.TrackAttemptedLogin(ctx, principal); err2 != nil {
			return nil, errors.Wrap(err2, errors.CategoryInternal, "failed to track login attempt")
		}

		return nil, ErrMismatchedHashAndPassword
	}

	// reset the login_attempts counter and login_attempt_at
	if err := u.store.TrackSuccessfulLogin(ctx, principal); err != nil {
		u.logger.Error("failed to track successful login: %v", err)
	}

	if err := u.validate(principal); err != nil {
		return nil, err
	}

	return identityFromPrincipal(principal), nil
}

func (u PrincipalProvider) FindIdentityByIdentifier(ctx context.Context, identifier string) (Identity, error) {
	principal, err := u.store.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, ErrPrincipalNotFound
		}
		return nil, err
	}

	if principal == nil {
		return nil, ErrPrincipalNotFound
	}

	if err := u.validate(principal); err != nil {
		return nil, err
	}

	return identityFromPrincipal(principal), nil
}

func identityFromPrincipal(principal *Principal) authIdentity {
	principal.EnsurePlan()
	return authIdentity{
		id:          principal.ID.String(),
		email:       principal.Email,
		displayName: principal.DisplayName,
		plan:        string(principal.Plan),
		admin:       principal.Admin,
	}
}

type authIdentity struct {
	id          string
	email       string
	displayName string
	plan        string
	admin       bool
}

func (a authIdentity) ID() string {
	return a.id
}

func (a authIdentity) Email() string {
	return a.email
}

func (a authIdentity) DisplayName() string {
	return a.displayName
}

func (a authIdentity) Plan() string {
	if a.plan == "" {
		return string(PlanFree)
	}
	return a.plan
}

func (a authIdentity) IsAdmin() bool {
	return a.admin
}

var _ Identity = authIdentity{}

func defaultValidator(p *Principal) error {
	switch p.Plan {
	case PlanFree, PlanCreator, PlanStudio:
		return nil
	default:
		return errors.New("principal has an unknown or invalid plan", errors.CategoryAuth).
			WithTextCode("INVALID_PLAN").
			WithMetadata(map[string]any{"plan": p.Plan, "principal_id": p.ID.String()})
	}
}
