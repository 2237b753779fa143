package appkit_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/goliatone/go-appkit"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	sqliteCreatePrincipals = `CREATE TABLE principals (
    id TEXT NOT NULL PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL,
    phone_number TEXT,
    plan_tier TEXT NOT NULL,
    is_admin INTEGER NOT NULL DEFAULT 0,
    password_hash TEXT,
    login_attempts INTEGER NOT NULL DEFAULT 0,
    login_attempt_at TIMESTAMP NULL,
    loggedin_at TIMESTAMP NULL,
    metadata TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP,
    deleted_at TIMESTAMP NULL
);`

	sqliteCreateSessions = `CREATE TABLE sessions (
    id TEXT NOT NULL PRIMARY KEY,
    token TEXT NOT NULL UNIQUE,
    principal_id TEXT NOT NULL,
    issued_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP
);`

	sqliteCreateJobs = `CREATE TABLE jobs (
    id TEXT NOT NULL PRIMARY KEY,
    job_id TEXT NOT NULL UNIQUE,
    owner_id TEXT NOT NULL,
    job_type TEXT NOT NULL,
    category TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    result TEXT,
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP
);`
)

func setupRepoManager(t *testing.T) appkit.RepositoryManager {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	for _, ddl := range []string{sqliteCreatePrincipals, sqliteCreateSessions, sqliteCreateJobs} {
		_, err = db.Exec(ddl)
		require.NoError(t, err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return appkit.NewRepositoryManager(db)
}

func TestSessionsRepositoryCreateIsIdempotent(t *testing.T) {
	repo := setupRepoManager(t)
	ctx := context.Background()

	principalID := uuid.New()
	issued := time.Now().UTC().Truncate(time.Second)
	expires := issued.Add(7 * 24 * time.Hour)

	first, err := repo.Sessions().CreateSession(ctx, principalID, "token-one", issued, expires)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := repo.Sessions().CreateSession(ctx, principalID, "token-one", issued.Add(time.Hour), expires.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.WithinDuration(t, expires, second.ExpiresAt, time.Second)
}

func TestSessionsRepositoryFindByPrincipalPicksNewestLive(t *testing.T) {
	repo := setupRepoManager(t)
	ctx := context.Background()

	principalID := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)

	_, err := repo.Sessions().CreateSession(ctx, principalID, "expired", now.Add(-48*time.Hour), now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = repo.Sessions().CreateSession(ctx, principalID, "older-live", now.Add(-2*time.Hour), now.Add(24*time.Hour))
	require.NoError(t, err)
	_, err = repo.Sessions().CreateSession(ctx, principalID, "newest-live", now.Add(-time.Minute), now.Add(24*time.Hour))
	require.NoError(t, err)

	found, err := repo.Sessions().FindByPrincipal(ctx, principalID)
	require.NoError(t, err)
	assert.Equal(t, "newest-live", found.Token)

	_, err = repo.Sessions().FindByPrincipal(ctx, uuid.New())
	assert.True(t, appkit.IsSessionNotFound(err))
}

func TestSessionsRepositoryDeleteByTokenIsNoop(t *testing.T) {
	repo := setupRepoManager(t)
	ctx := context.Background()

	err := repo.Sessions().DeleteByToken(ctx, "never-issued")
	assert.NoError(t, err)
}

func TestSessionsRepositorySweepExpired(t *testing.T) {
	repo := setupRepoManager(t)
	ctx := context.Background()

	principalID := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)

	_, err := repo.Sessions().CreateSession(ctx, principalID, "stale-a", now.Add(-10*24*time.Hour), now.Add(-3*24*time.Hour))
	require.NoError(t, err)
	_, err = repo.Sessions().CreateSession(ctx, principalID, "stale-b", now.Add(-9*24*time.Hour), now.Add(-2*24*time.Hour))
	require.NoError(t, err)
	_, err = repo.Sessions().CreateSession(ctx, principalID, "live", now, now.Add(24*time.Hour))
	require.NoError(t, err)

	removed, err := repo.Sessions().SweepExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	found, err := repo.Sessions().FindByPrincipal(ctx, principalID)
	require.NoError(t, err)
	assert.Equal(t, "live", found.Token)
}

func TestPrincipalsRepositoryGetByIdentifier(t *testing.T) {
	repo := setupRepoManager(t)
	ctx := context.Background()

	created, err := repo.Principals().Create(ctx, &appkit.Principal{
		Email:       "mara@example.com",
		DisplayName: "Mara",
	})
	require.NoError(t, err)
	assert.Equal(t, appkit.PlanFree, created.Plan)

	byEmail, err := repo.Principals().GetByIdentifier(ctx, "mara@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	byID, err := repo.Principals().GetByIdentifier(ctx, created.ID.String())
	require.NoError(t, err)
	assert.Equal(t, created.Email, byID.Email)
}

func TestJobsRepositorySubmitRejectsDuplicate(t *testing.T) {
	repo := setupRepoManager(t)
	ctx := context.Background()

	job := &appkit.Job{
		JobID:    "gen-001",
		OwnerID:  uuid.New(),
		Type:     "caption.generate",
		Category: appkit.JobCategoryText,
	}

	created, err := repo.Jobs().Submit(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, appkit.JobStatusPending, created.Status)

	_, err = repo.Jobs().Submit(ctx, &appkit.Job{
		JobID:    "gen-001",
		OwnerID:  uuid.New(),
		Type:     "caption.generate",
		Category: appkit.JobCategoryText,
	})
	assert.True(t, appkit.IsDuplicateJobError(err))
}

func TestJobsRepositoryCompareAndSetStatus(t *testing.T) {
	repo := setupRepoManager(t)
	ctx := context.Background()

	_, err := repo.Jobs().Submit(ctx, &appkit.Job{
		JobID:    "gen-002",
		OwnerID:  uuid.New(),
		Type:     "image.generate",
		Category: appkit.JobCategoryImage,
	})
	require.NoError(t, err)

	updated, swapped, err := repo.Jobs().CompareAndSetStatus(ctx, "gen-002", appkit.JobStatusPending, appkit.JobStatusProcessing, nil)
	require.NoError(t, err)
	assert.True(t, swapped)
	assert.Equal(t, appkit.JobStatusProcessing, updated.Status)

	// stale expectation: the row already left pending
	current, swapped, err := repo.Jobs().CompareAndSetStatus(ctx, "gen-002", appkit.JobStatusPending, appkit.JobStatusCompleted, nil)
	require.NoError(t, err)
	assert.False(t, swapped)
	assert.Equal(t, appkit.JobStatusProcessing, current.Status)

	// apply can override the default updated_at stamp with its own clock
	stamp := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	done, swapped, err := repo.Jobs().CompareAndSetStatus(ctx, "gen-002", appkit.JobStatusProcessing, appkit.JobStatusCompleted, func(j *appkit.Job) {
		j.Result = map[string]any{"url": "https://cdn.example.com/out.png"}
		j.UpdatedAt = &stamp
	})
	require.NoError(t, err)
	assert.True(t, swapped)
	assert.Equal(t, appkit.JobStatusCompleted, done.Status)
	assert.Equal(t, "https://cdn.example.com/out.png", done.Result["url"])
	require.NotNil(t, done.UpdatedAt)
	assert.True(t, done.UpdatedAt.Equal(stamp))

	_, _, err = repo.Jobs().CompareAndSetStatus(ctx, "gen-404", appkit.JobStatusPending, appkit.JobStatusProcessing, nil)
	assert.True(t, appkit.IsJobNotFoundError(err))
}

func TestJobsRepositoryListByOwner(t *testing.T) {
	repo := setupRepoManager(t)
	ctx := context.Background()

	owner := uuid.New()
	other := uuid.New()

	for _, id := range []string{"mine-1", "mine-2"} {
		_, err := repo.Jobs().Submit(ctx, &appkit.Job{
			JobID:    id,
			OwnerID:  owner,
			Type:     "caption.generate",
			Category: appkit.JobCategoryText,
		})
		require.NoError(t, err)
	}

	_, err := repo.Jobs().Submit(ctx, &appkit.Job{
		JobID:    "theirs-1",
		OwnerID:  other,
		Type:     "caption.generate",
		Category: appkit.JobCategoryText,
	})
	require.NoError(t, err)

	jobs, err := repo.Jobs().ListByOwner(ctx, owner)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, job := range jobs {
		assert.True(t, job.OwnedBy(owner.String()))
	}
}
