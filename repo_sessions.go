package appkit

import (
	"context"
	"database/sql"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Sessions persists refresh sessions. Tokens are stored verbatim; they are
// high-entropy random values, not secrets derived from user input.
type Sessions interface {
	repository.Repository[*Session]

	CreateSession(ctx context.Context, principalID uuid.UUID, token string, issuedAt, expiresAt time.Time) (*Session, error)
	CreateSessionTx(ctx context.Context, tx bun.IDB, principalID uuid.UUID, token string, issuedAt, expiresAt time.Time) (*Session, error)
	FindByToken(ctx context.Context, token string) (*Session, error)
	FindByTokenTx(ctx context.Context, tx bun.IDB, token string) (*Session, error)
	FindByPrincipal(ctx context.Context, principalID uuid.UUID) (*Session, error)
	FindByPrincipalTx(ctx context.Context, tx bun.IDB, principalID uuid.UUID) (*Session, error)
	DeleteByToken(ctx context.Context, token string) error
	DeleteByTokenTx(ctx context.Context, tx bun.IDB, token string) error
	DeleteByPrincipal(ctx context.Context, principalID uuid.UUID) (int, error)
	SweepExpired(ctx context.Context, cutoff time.Time) (int, error)
	SweepExpiredTx(ctx context.Context, tx bun.IDB, cutoff time.Time) (int, error)
}

type sessions struct {
	repository.Repository[*Session]
	db *bun.DB
}

var (
	_ Sessions                        = (*sessions)(nil)
	_ SessionStore                    = (*sessions)(nil)
	_ repository.Repository[*Session] = (*sessions)(nil)
)

func NewSessionsRepository(db *bun.DB) Sessions {
	repo := repository.NewRepository[*Session](db, repository.ModelHandlers[*Session]{
		NewRecord: func() *Session { return &Session{} },
		GetID: func(s *Session) uuid.UUID {
			if s == nil {
				return uuid.Nil
			}
			return s.ID
		},
		SetID: func(s *Session, id uuid.UUID) {
			if s != nil {
				s.ID = id
			}
		},
		GetIdentifier: func() string {
			return "token"
		},
	})

	return &sessions{
		Repository: repo,
		db:         db,
	}
}

func (a *sessions) CreateSession(ctx context.Context, principalID uuid.UUID, token string, issuedAt, expiresAt time.Time) (*Session, error) {
	return a.CreateSessionTx(ctx, a.db, principalID, token, issuedAt, expiresAt)
}

// CreateSessionTx inserts a session row. Re-creating a session with a token
// that already exists returns the existing row untouched, so retried create
// calls settle on a single session.
func (a *sessions) CreateSessionTx(ctx context.Context, tx bun.IDB, principalID uuid.UUID, token string, issuedAt, expiresAt time.Time) (*Session, error) {
	existing, err := a.FindByTokenTx(ctx, tx, token)
	if err == nil {
		return existing, nil
	}
	if !IsSessionNotFound(err) {
		return nil, err
	}

	record := &Session{
		ID:          uuid.New(),
		Token:       token,
		PrincipalID: principalID,
		IssuedAt:    issuedAt,
		ExpiresAt:   expiresAt,
	}

	return a.Repository.CreateTx(ctx, tx, record)
}

func (a *sessions) FindByToken(ctx context.Context, token string) (*Session, error) {
	return a.FindByTokenTx(ctx, a.db, token)
}

func (a *sessions) FindByTokenTx(ctx context.Context, tx bun.IDB, token string) (*Session, error) {
	record := &Session{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.token = ?", token).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, wrapStorageError(err, "failed to load session by token")
	}

	return record, nil
}

func (a *sessions) FindByPrincipal(ctx context.Context, principalID uuid.UUID) (*Session, error) {
	return a.FindByPrincipalTx(ctx, a.db, principalID)
}

// FindByPrincipalTx returns the newest session for the principal that has
// not yet expired.
func (a *sessions) FindByPrincipalTx(ctx context.Context, tx bun.IDB, principalID uuid.UUID) (*Session, error) {
	record := &Session{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.principal_id = ?", principalID).
		Where("?TableAlias.expires_at > ?", time.Now()).
		OrderExpr("?TableAlias.issued_at DESC").
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, wrapStorageError(err, "failed to load session by principal")
	}

	return record, nil
}

func (a *sessions) DeleteByToken(ctx context.Context, token string) error {
	return a.DeleteByTokenTx(ctx, a.db, token)
}

// DeleteByTokenTx removes the session backing a token. Deleting a token
// that does not exist is not an error.
func (a *sessions) DeleteByTokenTx(ctx context.Context, tx bun.IDB, token string) error {
	_, err := tx.NewDelete().
		Model((*Session)(nil)).
		Where("?TableAlias.token = ?", token).
		Exec(ctx)

	if err != nil {
		return wrapStorageError(err, "failed to delete session")
	}

	return nil
}

// DeleteByPrincipal removes every session a principal holds, for full
// logout across devices. Returns the number of sessions removed.
func (a *sessions) DeleteByPrincipal(ctx context.Context, principalID uuid.UUID) (int, error) {
	res, err := a.db.NewDelete().
		Model((*Session)(nil)).
		Where("?TableAlias.principal_id = ?", principalID).
		Exec(ctx)

	if err != nil {
		return 0, wrapStorageError(err, "failed to delete principal sessions")
	}

	return rowsAffected(res), nil
}

func (a *sessions) SweepExpired(ctx context.Context, cutoff time.Time) (int, error) {
	return a.SweepExpiredTx(ctx, a.db, cutoff)
}

// SweepExpiredTx deletes sessions whose expiry is at or before the cutoff
// and reports how many were removed. Meant to run on a periodic schedule.
func (a *sessions) SweepExpiredTx(ctx context.Context, tx bun.IDB, cutoff time.Time) (int, error) {
	res, err := tx.NewDelete().
		Model((*Session)(nil)).
		Where("?TableAlias.expires_at <= ?", cutoff).
		Exec(ctx)

	if err != nil {
		return 0, wrapStorageError(err, "failed to sweep expired sessions")
	}

	return rowsAffected(res), nil
}

// IsSessionNotFound checks if the error marks a missing session.
func IsSessionNotFound(err error) bool {
	if err == nil {
		return false
	}
	return goerrors.Is(err, ErrSessionNotFound)
}

func rowsAffected(res sql.Result) int {
	if res == nil {
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}
