package appkit

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

type SetAdminMessage struct {
	Actor       Identity
	PrincipalID string `json:"principal_id"`
	Admin       bool   `json:"admin"`
	Reason      string `json:"reason,omitempty"`
}

func (e SetAdminMessage) Type() string { return "principal.set_admin" }

// SetAdminHandler flips a principal's admin flag. The self-demotion guard
// runs before the admin check so an admin acting on themselves sees the
// specific error, not the generic forbidden.
type SetAdminHandler struct {
	repo   RepositoryManager
	gate   *AuthGate
	sink   ActivitySink
	logger Logger
}

func NewSetAdminHandler(repo RepositoryManager, gate *AuthGate, opts ...SetAdminOption) *SetAdminHandler {
	h := &SetAdminHandler{
		repo:   repo,
		gate:   gate,
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

type SetAdminOption func(*SetAdminHandler)

func WithSetAdminActivitySink(sink ActivitySink) SetAdminOption {
	return func(h *SetAdminHandler) {
		h.sink = normalizeActivitySink(sink)
	}
}

func WithSetAdminLogger(logger Logger) SetAdminOption {
	return func(h *SetAdminHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func (h *SetAdminHandler) Execute(ctx context.Context, event SetAdminMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during admin change",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *SetAdminHandler) execute(ctx context.Context, event SetAdminMessage) error {
	if err := h.gate.GuardSelfDemotion(event.Actor, event.PrincipalID, event.Admin); err != nil {
		return err
	}

	if err := h.gate.RequireAdmin(event.Actor); err != nil {
		return err
	}

	id, err := uuid.Parse(event.PrincipalID)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid principal id")
	}

	updated, err := h.repo.Principals().SetAdmin(ctx, id, event.Admin)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return ErrPrincipalNotFound
		}
		return err
	}

	if err := h.sink.Record(ctx, ActivityEvent{
		EventType: ActivityEventAdminChanged,
		Actor:     ActorRef{ID: event.Actor.ID(), Type: "user"},
		UserID:    updated.ID.String(),
		Metadata: map[string]any{
			"admin":  event.Admin,
			"reason": event.Reason,
		},
		OccurredAt: time.Now(),
	}); err != nil {
		h.logger.Warn("set admin activity sink error: %v", err)
	}

	return nil
}
