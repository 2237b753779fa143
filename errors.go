package appkit

import (
	"strings"

	"github.com/goliatone/go-errors"
)

const (
	// TextCodeInvalidCreds is returned for any identity/password mismatch.
	TextCodeInvalidCreds = "INVALID_CREDENTIALS"
	// TextCodeTooManyAttempts is returned when login throttling kicks in.
	TextCodeTooManyAttempts = "TOO_MANY_LOGIN_ATTEMPTS"
	// TextCodeUnauthenticated is returned when no usable credential is present.
	TextCodeUnauthenticated = "UNAUTHENTICATED"
	// TextCodeForbidden is returned for a valid identity lacking privilege.
	TextCodeForbidden = "FORBIDDEN"
	// TextCodeSelfDemotion is returned when an admin tries to drop their own flag.
	TextCodeSelfDemotion = "ADMIN_SELF_DEMOTION"
	// TextCodeSessionNotFound is returned for absent or expired refresh sessions.
	TextCodeSessionNotFound = "SESSION_NOT_FOUND"
	// TextCodePrincipalNotFound is returned when no principal matches.
	TextCodePrincipalNotFound = "PRINCIPAL_NOT_FOUND"
	// TextCodeTokenExpired is returned for a well-signed but stale access token.
	TextCodeTokenExpired = "TOKEN_EXPIRED"
	// TextCodeTokenMalformed is returned for unparseable or badly signed tokens.
	TextCodeTokenMalformed = "TOKEN_MALFORMED"
	// TextCodeMissingSigningKey is a startup-fatal configuration failure.
	TextCodeMissingSigningKey = "MISSING_SIGNING_KEY"
	// TextCodeImmutableClaim is returned when a decorator touches identity claims.
	TextCodeImmutableClaim = "IMMUTABLE_CLAIM_MUTATION"
	// TextCodeDuplicateJob is returned when a job id is submitted twice.
	TextCodeDuplicateJob = "DUPLICATE_JOB"
	// TextCodeJobNotFound is returned when no job matches the given id.
	TextCodeJobNotFound = "JOB_NOT_FOUND"
	// TextCodeInvalidTransition is returned for disallowed status changes.
	TextCodeInvalidTransition = "INVALID_JOB_TRANSITION"
)

// ErrInvalidCredentials deliberately covers both "no such principal" and
// "wrong password" so responses cannot be used for account enumeration.
var ErrInvalidCredentials = errors.New("the credentials provided are invalid", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(errors.CodeUnauthorized)

// ErrTooManyLoginAttempts is returned when a principal exceeded the
// attempt budget inside the cooldown window.
var ErrTooManyLoginAttempts = errors.New("too many login attempts", errors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyAttempts)

// ErrUnauthenticated is returned when a request carries no valid access
// token and no usable refresh session.
var ErrUnauthenticated = errors.New("authentication required", errors.CategoryAuth).
	WithTextCode(TextCodeUnauthenticated).
	WithCode(errors.CodeUnauthorized)

// ErrForbidden is returned for an authenticated principal lacking a
// required capability.
var ErrForbidden = errors.New("insufficient privilege", errors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(errors.CodeForbidden)

// ErrSelfDemotion is returned when an admin attempts to remove their own
// admin flag. Kept distinct from ErrForbidden so callers (and audits) can
// tell the guard apart from the generic capability check.
var ErrSelfDemotion = errors.New("admins cannot demote themselves", errors.CategoryAuthz).
	WithTextCode(TextCodeSelfDemotion).
	WithCode(errors.CodeForbidden)

// ErrSessionNotFound is returned when a refresh token matches no live session.
var ErrSessionNotFound = errors.New("session not found", errors.CategoryNotFound).
	WithTextCode(TextCodeSessionNotFound).
	WithCode(errors.CodeNotFound)

// ErrPrincipalNotFound is returned when an identifier matches no principal.
var ErrPrincipalNotFound = errors.New("principal not found", errors.CategoryNotFound).
	WithTextCode(TextCodePrincipalNotFound).
	WithCode(errors.CodeNotFound)

// ErrTokenExpired means the signature checked out but the expiry passed.
// Callers distinguish it from ErrTokenMalformed to decide whether a
// silent refresh is worth attempting.
var ErrTokenExpired = errors.New("token is expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrTokenMalformed covers bad signatures, wrong algorithms, and garbage input.
var ErrTokenMalformed = errors.New("token is malformed", errors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(errors.CodeUnauthorized)

// ErrMissingSigningKey is returned at construction time when the signing
// secret is absent or empty. There is no weak default; hosts must fail.
var ErrMissingSigningKey = errors.New("token signing key is missing or empty", errors.CategoryOperation).
	WithTextCode(TextCodeMissingSigningKey).
	WithCode(errors.CodeInternal)

// ErrIdentityNotFound is returned when verification resolves no identity.
var ErrIdentityNotFound = errors.New("identity not found", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(errors.CodeUnauthorized)

// ErrDuplicateJob is returned when a job with the same external id already
// exists. Submissions are not idempotent: the caller must pick a new id.
var ErrDuplicateJob = errors.New("job already exists", errors.CategoryConflict).
	WithTextCode(TextCodeDuplicateJob).
	WithCode(errors.CodeConflict)

// ErrJobNotFound is returned when a job id matches nothing.
var ErrJobNotFound = errors.New("job not found", errors.CategoryNotFound).
	WithTextCode(TextCodeJobNotFound).
	WithCode(errors.CodeNotFound)

// ErrInvalidTransition is returned for a status change the lifecycle does
// not allow, including any attempt to move a job out of a terminal status.
var ErrInvalidTransition = errors.New("job status transition not allowed", errors.CategoryConflict).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(errors.CodeConflict)

// ErrNoEmptyString is returned when a required string argument is empty.
var ErrNoEmptyString = errors.New("value cannot be an empty string", errors.CategoryBadInput).
	WithCode(errors.CodeBadRequest)

// ErrMismatchedHashAndPassword is returned when a password comparison fails.
var ErrMismatchedHashAndPassword = errors.New("password does not match", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(errors.CodeUnauthorized)

// ErrUnableToDecodeSession is returned when a parsed token carries claims
// that cannot be read back as JWTClaims.
var ErrUnableToDecodeSession = errors.New("unable to decode session claims", errors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(errors.CodeUnauthorized)

// ErrUnableToFindSession is the error when our request has no usable cookie
var ErrUnableToFindSession = errors.New("unable to find session", errors.CategoryAuth).
	WithTextCode(TextCodeUnauthenticated).
	WithCode(errors.CodeUnauthorized)

// ErrUnableToMapClaims unable to get claims from token
var ErrUnableToMapClaims = errors.New("unable to map claims", errors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(errors.CodeUnauthorized)

// ErrUnableToParseData parse error
var ErrUnableToParseData = errors.New("unable to parse data", errors.CategoryBadInput).
	WithCode(errors.CodeBadRequest)

// ErrImmutableClaimMutation is returned when a claims decorator modifies a
// registered or identity claim it is not allowed to touch.
var ErrImmutableClaimMutation = errors.New("immutable claim mutated", errors.CategoryInternal).
	WithTextCode(TextCodeImmutableClaim).
	WithCode(errors.CodeInternal)

// wrapStorageError surfaces persistence failures with context instead of
// swallowing them.
func wrapStorageError(err error, msg string) error {
	return errors.Wrap(err, errors.CategoryInternal, msg)
}

// IsTokenExpiredError will check for expired tokens, including errors from
// jwt libraries that only expose string messages.
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsDuplicateJobError checks if the error marks a job id collision.
func IsDuplicateJobError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrDuplicateJob)
}

// IsJobNotFoundError checks if the error marks a missing job.
func IsJobNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrJobNotFound)
}

// IsMalformedError will check for malformed token errors.
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenMalformed) {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
