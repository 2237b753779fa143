package appkit

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

type RegisterPrincipalMessage struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	PhoneRegion string `json:"phone_region"`
	Plan        string `json:"plan"`
	Password    string `json:"password"`
	UseHashid   bool
}

func (e RegisterPrincipalMessage) Type() string { return "principal.register" }

type RegisterPrincipalHandler struct {
	repo   RepositoryManager
	sink   ActivitySink
	logger Logger
}

func NewRegisterPrincipalHandler(repo RepositoryManager, opts ...RegisterPrincipalOption) *RegisterPrincipalHandler {
	h := &RegisterPrincipalHandler{
		repo:   repo,
		sink:   noopActivitySink{},
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

type RegisterPrincipalOption func(*RegisterPrincipalHandler)

func WithRegisterActivitySink(sink ActivitySink) RegisterPrincipalOption {
	return func(h *RegisterPrincipalHandler) {
		h.sink = normalizeActivitySink(sink)
	}
}

func WithRegisterLogger(logger Logger) RegisterPrincipalOption {
	return func(h *RegisterPrincipalHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func (h *RegisterPrincipalHandler) Execute(ctx context.Context, event RegisterPrincipalMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during principal registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterPrincipalHandler) execute(ctx context.Context, event RegisterPrincipalMessage) error {
	principal := &Principal{}
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		hash, err := HashPassword(event.Password)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		principal.PasswordHash = hash
		principal.Email = event.Email
		principal.Phone = normalizePhone(event.Phone, event.PhoneRegion)
		principal.DisplayName = getDisplayName(event.DisplayName, event.Email)

		if plan, ok := ParsePlan(event.Plan); ok {
			principal.Plan = plan
		}

		if event.UseHashid {
			if id, err := hashid.NewUUID(event.Email); err == nil {
				principal.ID = id
			}
		}

		if principal, err = h.repo.Principals().CreateTx(ctx, tx, principal); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create principal")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}

		return goerrors.Wrap(err, goerrors.CategoryInternal, "principal registration transaction failed")
	}

	if err := h.sink.Record(ctx, ActivityEvent{
		EventType:  ActivityEventRegistered,
		Actor:      ActorRef{ID: principal.ID.String(), Type: "user"},
		UserID:     principal.ID.String(),
		OccurredAt: time.Now(),
	}); err != nil {
		h.logger.Warn("register activity sink error: %v", err)
	}

	return nil
}

func getDisplayName(displayName, email string) string {
	if displayName != "" {
		return displayName
	}

	if strings.Contains(email, "@") {
		displayName = strings.Split(email, "@")[0]
	}

	return displayName
}

// normalizePhone stores phone numbers in E.164 form. Input that does not
// parse is kept as provided rather than rejected.
func normalizePhone(phone, region string) string {
	if phone == "" {
		return ""
	}
	if region == "" {
		region = "US"
	}
	parsed, err := phonenumbers.Parse(phone, region)
	if err != nil {
		return phone
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return phone
	}
	return phonenumbers.Format(parsed, phonenumbers.E164)
}
