package appkit

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Principal is the account model. The admin flag is only ever mutated
// through SetAdminHandler so the self-demotion guard cannot be skipped.
type Principal struct {
	bun.BaseModel  `bun:"table:principals,alias:prn"`
	ID             uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email          string         `bun:"email,notnull,unique" json:"email,omitempty"`
	DisplayName    string         `bun:"display_name,notnull" json:"display_name,omitempty"`
	Phone          string         `bun:"phone_number" json:"phone_number,omitempty"`
	Plan           PlanTier       `bun:"plan_tier,notnull" json:"plan_tier,omitempty"`
	Admin          bool           `bun:"is_admin" json:"is_admin,omitempty"`
	PasswordHash   string         `bun:"password_hash" json:"password_hash,omitempty"`
	LoginAttempts  int            `bun:"login_attempts" json:"login_attempts,omitempty"`
	LoginAttemptAt *time.Time     `bun:"login_attempt_at" json:"login_attempt_at,omitempty"`
	LoggedInAt     *time.Time     `bun:"loggedin_at" json:"loggedin_at,omitempty"`
	Metadata       map[string]any `bun:"metadata" json:"metadata,omitempty"`
	CreatedAt      *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt      *time.Time     `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// EnsurePlan defaults an empty plan to the free tier.
func (p *Principal) EnsurePlan() {
	if p != nil && p.Plan == "" {
		p.Plan = PlanFree
	}
}

// AddMetadata will append information to a metadata attribute
func (p *Principal) AddMetadata(key string, val any) *Principal {
	if p.Metadata == nil {
		p.Metadata = make(map[string]any)
	}
	p.Metadata[key] = val
	return p
}

// Session is one refresh-token row. A principal may hold several rows at
// once (multi-device). Expiry is fixed at issue time; rotation mints new
// access tokens but never rewrites the row.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:ses"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Token         string     `bun:"token,notnull,unique" json:"-"`
	PrincipalID   uuid.UUID  `bun:"principal_id,notnull,type:uuid" json:"principal_id,omitempty"`
	IssuedAt      time.Time  `bun:"issued_at,notnull" json:"issued_at,omitempty"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Expired reports whether the session's expiry has passed at the given time.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.After(now)
}

// PasswordResetStep step on password reset
type PasswordResetStep = string

const (
	// ResetUnknown is the unknown status
	ResetUnknown PasswordResetStep = "unknown"
	// ResetInit is the initial step
	ResetInit PasswordResetStep = "show-reset"
	// AccountVerification notification sent
	AccountVerification PasswordResetStep = "email-sent"
	// ChangingPassword principal will change password
	ChangingPassword PasswordResetStep = "change-password"
	// ChangeFinalized processing change
	ChangeFinalized PasswordResetStep = "password-changed"
)

const (
	// ResetUnknownStatus is the unknown status
	ResetUnknownStatus = "unknown"
	// ResetRequestedStatus is the requested status
	ResetRequestedStatus = "requested"
	// ResetExpiredStatus is the expired status
	ResetExpiredStatus = "expired"
	// ResetChangedStatus is the changed status
	ResetChangedStatus = "changed"
)

// PasswordReset tracks one reset request from initiation to use.
type PasswordReset struct {
	bun.BaseModel `bun:"table:password_reset,alias:pwdr"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	PrincipalID   *uuid.UUID `bun:"principal_id,notnull" json:"principal_id,omitempty"`
	Principal     *Principal `bun:"rel:has-one,join:principal_id=id" json:"principal,omitempty"`
	Status        string     `bun:"status,notnull" json:"status,omitempty"`
	Email         string     `bun:"email,notnull" json:"email,omitempty"`
	DeletedAt     *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
	ResetedAt     *time.Time `bun:"reseted_at,nullzero" json:"reseted_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// MarkPasswordAsReseted will create a new instance
func MarkPasswordAsReseted(id uuid.UUID) *PasswordReset {
	r := &PasswordReset{}
	r.ID = id
	r.Status = ResetChangedStatus
	n := time.Now()
	r.ResetedAt = &n
	return r
}

// JobStatus is the lifecycle status of a generation job.
type JobStatus string

const (
	// JobStatusPending is the initial status at submission time.
	JobStatusPending JobStatus = "pending"
	// JobStatusProcessing means a worker picked the job up. Workers may
	// skip it and report a terminal status directly.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted is terminal and carries the result payload.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed is terminal and carries the error message.
	JobStatusFailed JobStatus = "failed"
)

// IsValid checks if the status is one of the predefined statuses.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is permitted.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job tracks one asynchronously executed unit of work. JobID is the
// caller-supplied identifier and is unique across the table; ID is the
// storage surrogate key.
type Job struct {
	bun.BaseModel `bun:"table:jobs,alias:job"`
	ID            uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"-"`
	JobID         string         `bun:"job_id,notnull,unique" json:"job_id,omitempty"`
	OwnerID       uuid.UUID      `bun:"owner_id,notnull,type:uuid" json:"owner_id,omitempty"`
	Type          string         `bun:"job_type,notnull" json:"job_type,omitempty"`
	Category      string         `bun:"category,notnull" json:"category,omitempty"`
	Status        JobStatus      `bun:"status,notnull" json:"status,omitempty"`
	Result        map[string]any `bun:"result" json:"result,omitempty"`
	ErrorMessage  string         `bun:"error_message" json:"error_message,omitempty"`
	CreatedAt     *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// EnsureStatus defaults an empty status to pending.
func (j *Job) EnsureStatus() {
	if j != nil && j.Status == "" {
		j.Status = JobStatusPending
	}
}

// IsTerminal reports whether the job reached a terminal status.
func (j *Job) IsTerminal() bool {
	if j == nil {
		return false
	}
	return j.Status.IsTerminal()
}

// OwnedBy reports whether the given principal id owns this job.
func (j *Job) OwnedBy(principalID string) bool {
	if j == nil {
		return false
	}
	return j.OwnerID.String() == principalID
}
