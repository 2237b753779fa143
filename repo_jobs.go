package appkit

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Jobs persists generation jobs. The external job id is the caller-supplied
// key; the uuid primary key exists only so the table fits the shared
// repository plumbing.
type Jobs interface {
	repository.Repository[*Job]

	Submit(ctx context.Context, job *Job) (*Job, error)
	SubmitTx(ctx context.Context, tx bun.IDB, job *Job) (*Job, error)
	GetByJobID(ctx context.Context, jobID string) (*Job, error)
	GetByJobIDTx(ctx context.Context, tx bun.IDB, jobID string) (*Job, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, criteria ...repository.SelectCriteria) ([]*Job, error)
	CompareAndSetStatus(ctx context.Context, jobID string, from, to JobStatus, apply func(*Job)) (*Job, bool, error)
	CompareAndSetStatusTx(ctx context.Context, tx bun.IDB, jobID string, from, to JobStatus, apply func(*Job)) (*Job, bool, error)
}

type jobs struct {
	repository.Repository[*Job]
	db *bun.DB
}

var (
	_ Jobs                        = (*jobs)(nil)
	_ repository.Repository[*Job] = (*jobs)(nil)
)

func NewJobsRepository(db *bun.DB) Jobs {
	repo := repository.NewRepository[*Job](db, repository.ModelHandlers[*Job]{
		NewRecord: func() *Job { return &Job{} },
		GetID: func(j *Job) uuid.UUID {
			if j == nil {
				return uuid.Nil
			}
			return j.ID
		},
		SetID: func(j *Job, id uuid.UUID) {
			if j != nil {
				j.ID = id
			}
		},
		GetIdentifier: func() string {
			return "job_id"
		},
	})

	return &jobs{
		Repository: repo,
		db:         db,
	}
}

func (a *jobs) Submit(ctx context.Context, job *Job) (*Job, error) {
	return a.SubmitTx(ctx, a.db, job)
}

// SubmitTx inserts a fresh pending job. A second submit with the same job id
// fails with ErrDuplicateJob regardless of the first job's current status.
func (a *jobs) SubmitTx(ctx context.Context, tx bun.IDB, job *Job) (*Job, error) {
	if job == nil {
		return nil, goerrors.New("job is required", goerrors.CategoryBadInput)
	}

	if strings.TrimSpace(job.JobID) == "" {
		return nil, goerrors.New("job id is required", goerrors.CategoryBadInput)
	}

	if _, err := a.GetByJobIDTx(ctx, tx, job.JobID); err == nil {
		return nil, duplicateJobError(job.JobID)
	} else if !IsJobNotFoundError(err) {
		return nil, err
	}

	prepareJobDefaults(job)

	created, err := a.Repository.CreateTx(ctx, tx, job)
	if err != nil {
		// A concurrent submit can slip between our existence check and the
		// insert; the unique index on job_id is the arbiter.
		if isUniqueViolation(err) {
			return nil, duplicateJobError(job.JobID)
		}
		return nil, wrapStorageError(err, "failed to create job")
	}

	return created, nil
}

func (a *jobs) GetByJobID(ctx context.Context, jobID string) (*Job, error) {
	return a.GetByJobIDTx(ctx, a.db, jobID)
}

func (a *jobs) GetByJobIDTx(ctx context.Context, tx bun.IDB, jobID string) (*Job, error) {
	record := &Job{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.job_id = ?", jobID).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, jobNotFoundError(jobID)
		}
		return nil, wrapStorageError(err, "failed to load job")
	}

	return record, nil
}

func (a *jobs) ListByOwner(ctx context.Context, ownerID uuid.UUID, criteria ...repository.SelectCriteria) ([]*Job, error) {
	records := []*Job{}
	q := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.owner_id = ?", ownerID).
		OrderExpr("?TableAlias.created_at DESC")

	for _, c := range criteria {
		q.Apply(c)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, wrapStorageError(err, "failed to list jobs")
	}

	return records, nil
}

func (a *jobs) CompareAndSetStatus(ctx context.Context, jobID string, from, to JobStatus, apply func(*Job)) (*Job, bool, error) {
	return a.CompareAndSetStatusTx(ctx, a.db, jobID, from, to, apply)
}

// CompareAndSetStatusTx moves a job from one status to another only if the
// stored status still matches. The guarded update is what makes transitions
// safe against concurrent workers: whichever update lands first wins, the
// loser sees zero affected rows and gets swapped=false back along with the
// row as it stands now.
func (a *jobs) CompareAndSetStatusTx(ctx context.Context, tx bun.IDB, jobID string, from, to JobStatus, apply func(*Job)) (*Job, bool, error) {
	record, err := a.GetByJobIDTx(ctx, tx, jobID)
	if err != nil {
		return nil, false, err
	}

	if record.Status != from {
		return record, false, nil
	}

	record.Status = to
	now := time.Now()
	record.UpdatedAt = &now
	// apply runs after the default stamp so callers with their own clock
	// can override updated_at along with the outcome fields
	if apply != nil {
		apply(record)
	}

	res, err := tx.NewUpdate().
		Model(record).
		WherePK().
		Where("?TableAlias.status = ?", from).
		Exec(ctx)

	if err != nil {
		return nil, false, wrapStorageError(err, "failed to update job status")
	}

	if rowsAffected(res) == 0 {
		current, gerr := a.GetByJobIDTx(ctx, tx, jobID)
		if gerr != nil {
			return nil, false, gerr
		}
		return current, false, nil
	}

	return record, true, nil
}

func prepareJobDefaults(record *Job) {
	if record == nil {
		return
	}

	record.EnsureStatus()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

func duplicateJobError(jobID string) error {
	clone := ErrDuplicateJob.Clone()
	if clone == nil {
		return ErrDuplicateJob
	}
	clone.Source = ErrDuplicateJob
	return clone.WithMetadata(map[string]any{"job_id": jobID})
}

func jobNotFoundError(jobID string) error {
	clone := ErrJobNotFound.Clone()
	if clone == nil {
		return ErrJobNotFound
	}
	clone.Source = ErrJobNotFound
	return clone.WithMetadata(map[string]any{"job_id": jobID})
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}
