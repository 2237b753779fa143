package appkit

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var SetPrincipalAdminSQL = `UPDATE "principals" AS "prn"
SET
	"is_admin" = ?
WHERE
	"prn"."deleted_at" IS NULL
AND (
	"prn"."id" = ?
) RETURNING *;`

var ResetPrincipalPasswordSQL = `UPDATE "principals" AS "prn"
SET
	"password_hash" = ?,
	"login_attempts" = 0
WHERE
	"prn"."deleted_at" IS NULL
AND (
	"prn"."id" = ?
) RETURNING *;`

type Principals interface {
	repository.Repository[*Principal]

	TrackAttemptedLogin(ctx context.Context, principal *Principal) error
	TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, principal *Principal) error
	TrackSuccessfulLogin(ctx context.Context, principal *Principal) error
	TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, principal *Principal) error

	Register(ctx context.Context, principal *Principal) (*Principal, error)
	RegisterTx(ctx context.Context, tx bun.IDB, principal *Principal) (*Principal, error)
	GetOrCreate(ctx context.Context, record *Principal) (*Principal, error)
	GetOrCreateTx(ctx context.Context, tx bun.IDB, record *Principal) (*Principal, error)
	Create(ctx context.Context, record *Principal, criteria ...repository.InsertCriteria) (*Principal, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Principal, criteria ...repository.InsertCriteria) (*Principal, error)
	Upsert(ctx context.Context, record *Principal, criteria ...repository.UpdateCriteria) (*Principal, error)
	UpsertTx(ctx context.Context, tx bun.IDB, record *Principal, criteria ...repository.UpdateCriteria) (*Principal, error)

	SetAdmin(ctx context.Context, id uuid.UUID, admin bool) (*Principal, error)
	SetAdminTx(ctx context.Context, tx bun.IDB, id uuid.UUID, admin bool) (*Principal, error)
	SetPlan(ctx context.Context, id uuid.UUID, plan PlanTier) (*Principal, error)
	SetPlanTx(ctx context.Context, tx bun.IDB, id uuid.UUID, plan PlanTier) (*Principal, error)
}

type principals struct {
	repository.Repository[*Principal]
	db *bun.DB
}

var (
	_ Principals                        = (*principals)(nil)
	_ repository.Repository[*Principal] = (*principals)(nil)
)

func NewPrincipalsRepository(db *bun.DB) Principals {
	repo := repository.NewRepository[*Principal](db, repository.ModelHandlers[*Principal]{
		NewRecord: func() *Principal { return &Principal{} },
		GetID: func(p *Principal) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *Principal, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
	})

	return &principals{
		Repository: repo,
		db:         db,
	}
}

func (a *principals) Register(ctx context.Context, principal *Principal) (*Principal, error) {
	return a.RegisterTx(ctx, a.db, principal)
}

func (a *principals) RegisterTx(ctx context.Context, tx bun.IDB, principal *Principal) (*Principal, error) {
	return a.CreateTx(ctx, tx, principal)
}

func (a *principals) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*Principal, error) {
	return a.GetByIdentifierTx(ctx, a.db, identifier, criteria...)
}

func (a *principals) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*Principal, error) {
	options := resolvePrincipalIdentifier(identifier)
	if len(options) == 0 {
		options = []identifierOption{
			{
				column: "id",
				value:  strings.TrimSpace(identifier),
			},
		}
	}

	for _, opt := range options {
		record := &Principal{}
		q := tx.NewSelect().Model(record)

		for _, c := range criteria {
			q.Apply(c)
		}

		err := q.
			Where(fmt.Sprintf("?TableAlias.%s = ?", opt.column), opt.value).
			Limit(1).
			Scan(ctx)

		if err != nil {
			if repository.IsRecordNotFound(err) {
				continue
			}
			return nil, err
		}

		return record, nil
	}

	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			"identifier": identifier,
		})
}

func (a *principals) Create(ctx context.Context, record *Principal, criteria ...repository.InsertCriteria) (*Principal, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *principals) CreateTx(ctx context.Context, tx bun.IDB, record *Principal, criteria ...repository.InsertCriteria) (*Principal, error) {
	preparePrincipalDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *principals) TrackSuccessfulLogin(ctx context.Context, principal *Principal) error {
	return a.TrackSuccessfulLoginTx(ctx, a.db, principal)
}

func (a *principals) TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, principal *Principal) error {
	// NOTE: Updating using the ORM fails due to a bug, it wont reset
	// login_attempt_at, login_attempts fields.
	loggedInAt := time.Now()
	_, err := tx.NewRaw(`
		UPDATE "principals" AS "prn"
		SET
			"loggedin_at" = ?,
			"login_attempt_at" = NULL,
			"login_attempts" = 0
		WHERE
			("prn".id = ?)
			AND "prn"."deleted_at" IS NULL;
	`, loggedInAt, principal.ID).Exec(ctx)

	return err
}

func (a *principals) TrackAttemptedLogin(ctx context.Context, principal *Principal) error {
	return a.TrackAttemptedLoginTx(ctx, a.db, principal)
}

func (a *principals) TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, principal *Principal) error {
	criteria := []repository.UpdateCriteria{
		repository.UpdateByID(principal.ID.String()),
	}

	record := &Principal{}
	record.ID = principal.ID
	record.LoginAttempts = principal.LoginAttempts + 1
	now := time.Now()
	record.LoginAttemptAt = &now

	_, err := a.Repository.UpdateTx(ctx, tx, record, criteria...)

	return err
}

func (a *principals) Upsert(ctx context.Context, record *Principal, criteria ...repository.UpdateCriteria) (*Principal, error) {
	return a.UpsertTx(ctx, a.db, record, criteria...)
}

func (a *principals) UpsertTx(ctx context.Context, tx bun.IDB, record *Principal, criteria ...repository.UpdateCriteria) (*Principal, error) {
	identifier := record.Email
	if record.ID != uuid.Nil {
		identifier = record.ID.String()
	}

	principal, err := a.Repository.GetByIdentifierTx(ctx, tx, identifier)
	if err == nil {
		record.ID = principal.ID
		return a.Repository.UpdateTx(ctx, tx, record, criteria...)
	}

	if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	return a.RegisterTx(ctx, tx, record)
}

func (a *principals) GetOrCreate(ctx context.Context, record *Principal) (*Principal, error) {
	return a.GetOrCreateTx(ctx, a.db, record)
}

func (a *principals) GetOrCreateTx(ctx context.Context, tx bun.IDB, record *Principal) (*Principal, error) {
	identifier := record.Email
	if record.ID != uuid.Nil {
		identifier = record.ID.String()
	}

	principal, err := a.Repository.GetByIdentifierTx(ctx, tx, identifier)
	if err == nil {
		return principal, nil
	}

	if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	return a.CreateTx(ctx, tx, record)
}

func (a *principals) SetAdmin(ctx context.Context, id uuid.UUID, admin bool) (*Principal, error) {
	return a.SetAdminTx(ctx, a.db, id, admin)
}

func (a *principals) SetAdminTx(ctx context.Context, tx bun.IDB, id uuid.UUID, admin bool) (*Principal, error) {
	res, err := a.Repository.RawTx(ctx, tx, SetPrincipalAdminSQL, admin, id.String())
	if err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return res[0], nil
}

func (a *principals) SetPlan(ctx context.Context, id uuid.UUID, plan PlanTier) (*Principal, error) {
	return a.SetPlanTx(ctx, a.db, id, plan)
}

func (a *principals) SetPlanTx(ctx context.Context, tx bun.IDB, id uuid.UUID, plan PlanTier) (*Principal, error) {
	record := &Principal{
		ID:   id,
		Plan: plan,
	}

	return a.Repository.UpdateTx(ctx, tx, record, repository.UpdateByID(id.String()))
}

func preparePrincipalDefaults(record *Principal) {
	if record == nil {
		return
	}

	record.EnsurePlan()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

type identifierOption struct {
	column string
	value  string
}

func resolvePrincipalIdentifier(identifier string) []identifierOption {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil
	}

	options := make([]identifierOption, 0, 2)

	if isUUID(trimmed) {
		options = append(options, identifierOption{
			column: "id",
			value:  trimmed,
		})
	}

	if isEmail(trimmed) {
		options = append(options, identifierOption{
			column: "email",
			value:  trimmed,
		})
	}

	return options
}

func isEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

func isUUID(identifier string) bool {
	_, err := uuid.Parse(identifier)
	return err == nil
}
