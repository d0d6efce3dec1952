package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/modelforge/scoregate/internal/store"
	"github.com/modelforge/scoregate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("scoregate_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr)
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func terminalJob(id, status string) *models.Job {
	created := time.Now().UTC().Add(-2 * time.Minute).Truncate(time.Microsecond)
	started := created.Add(5 * time.Second)
	ended := started.Add(time.Minute)
	job := &models.Job{
		ID:             id,
		SubmissionType: models.SubmissionTypeLink,
		Content:        "https://hub.example/models/demo",
		Status:         status,
		CreatedAt:      created,
		StartedAt:      &started,
		EndedAt:        &ended,
	}
	switch status {
	case models.JobStatusCompleted:
		job.Result = &models.Result{Score: 91.25, Metrics: map[string]string{"accuracy": "0.9125"}}
	case models.JobStatusFailed:
		job.Error = &models.JobError{Code: "EVALUATOR_NONZERO_EXIT", Detail: "exit status 2"}
	case models.JobStatusTimedOut:
		job.Error = &models.JobError{Code: "TIMEOUT"}
	}
	return job
}

func TestArchive_InsertAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	a := store.NewArchive(pool)
	ctx := context.Background()

	require.NoError(t, a.Ping(ctx))

	want := terminalJob("job-arch-1", models.JobStatusCompleted)
	require.NoError(t, a.InsertTerminal(ctx, want))

	got, err := a.GetArchived(ctx, "job-arch-1")
	require.NoError(t, err)
	assert.Equal(t, want.Status, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, 91.25, got.Result.Score)
	assert.Equal(t, "0.9125", got.Result.Metrics["accuracy"])
	assert.Nil(t, got.Error)
}

func TestArchive_InsertFailedJob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	a := store.NewArchive(pool)
	ctx := context.Background()

	require.NoError(t, a.InsertTerminal(ctx, terminalJob("job-arch-2", models.JobStatusFailed)))

	got, err := a.GetArchived(ctx, "job-arch-2")
	require.NoError(t, err)
	assert.Nil(t, got.Result)
	require.NotNil(t, got.Error)
	assert.Equal(t, "EVALUATOR_NONZERO_EXIT", got.Error.Code)
	assert.Equal(t, "exit status 2", got.Error.Detail)
}

func TestArchive_RejectsNonTerminal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	a := store.NewArchive(pool)

	job := terminalJob("job-arch-3", models.JobStatusCompleted)
	job.Status = models.JobStatusRunning
	job.Result = nil
	assert.Error(t, a.InsertTerminal(context.Background(), job))
}

func TestArchive_ListRecentOrdering(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	a := store.NewArchive(pool)
	ctx := context.Background()

	older := terminalJob("job-old", models.JobStatusTimedOut)
	newer := terminalJob("job-new", models.JobStatusCompleted)
	bumped := newer.EndedAt.Add(time.Hour)
	newer.EndedAt = &bumped

	require.NoError(t, a.InsertTerminal(ctx, older))
	require.NoError(t, a.InsertTerminal(ctx, newer))

	jobs, err := a.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-new", jobs[0].ID)
	assert.Equal(t, "job-old", jobs[1].ID)
}

func TestArchive_GetUnknown(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	a := store.NewArchive(pool)

	_, err := a.GetArchived(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
