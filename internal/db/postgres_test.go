package db

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Kamar-Folarin/commerce-sync/internal/errors"
	"github.com/Kamar-Folarin/commerce-sync/internal/models"
)

func setupTestDB(t *testing.T) (*PostgresStore, func()) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sql.Open("postgres", url)
	require.NoError(t, err)
	require.NoError(t, db.Ping())

	store := NewPostgresStoreFromDB(db)
	require.NoError(t, store.Migrate())

	cleanup := func() {
		_, err := db.Exec(`
			TRUNCATE sync_performance_metrics, sync_conflicts, sync_schedules, sync_queue, sync_jobs, integrations CASCADE;
		`)
		require.NoError(t, err)
		db.Close()
	}

	return store, cleanup
}

func seedIntegration(t *testing.T, store Store) {
	require.NoError(t, store.SaveIntegration(context.Background(), &models.Integration{
		ID:             "int-1",
		OrganizationID: "org-1",
		Platform:       "rest",
		Name:           "test shop",
		Credentials:    map[string]string{"token": "secret"},
		Active:         true,
	}))
}

func TestPostgresStore_JobLifecycle(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seedIntegration(t, store)
	seedJob(t, store, "job-1", 50, time.Now().Add(-time.Minute))

	t.Run("integration round trip", func(t *testing.T) {
		integration, err := store.GetIntegration(ctx, "int-1")
		require.NoError(t, err)
		assert.Equal(t, "org-1", integration.OrganizationID)
		assert.Equal(t, "secret", integration.Credentials["token"])
	})

	t.Run("claim and release", func(t *testing.T) {
		jobID, err := store.ClaimNextSyncJob(ctx, "worker-1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, "job-1", jobID)

		require.NoError(t, store.MarkJobStarted(ctx, jobID, time.Now()))
		require.NoError(t, store.ReleaseSyncJob(ctx, jobID, time.Hour))

		item, err := store.GetQueueItem(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, 1, item.Attempts)
		assert.Nil(t, item.LockedBy)

		jobID, err = store.ClaimNextSyncJob(ctx, "worker-1", time.Minute)
		require.NoError(t, err)
		assert.Empty(t, jobID)
	})

	t.Run("complete", func(t *testing.T) {
		result := models.NewSyncResult()
		result.Success = false
		require.NoError(t, store.CompleteSyncJob(ctx, "job-1", result, nil))

		job, err := store.GetSyncJob(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusCompletedWithErrors, job.Status)
		require.NotNil(t, job.Result)
		assert.False(t, job.Result.Success)

		_, err = store.GetQueueItem(ctx, "job-1")
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestPostgresStore_ConcurrentClaim(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seedIntegration(t, store)
	seedJob(t, store, "job-1", 50, time.Now().Add(-time.Minute))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			jobID, err := store.ClaimNextSyncJob(ctx, "worker", time.Minute)
			assert.NoError(t, err)
			if jobID != "" {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, claims)
}

func TestPostgresStore_CancelIsSticky(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seedIntegration(t, store)
	seedJob(t, store, "job-1", 50, time.Now())

	require.NoError(t, store.MarkJobStarted(ctx, "job-1", time.Now()))
	require.NoError(t, store.CancelSyncJob(ctx, "job-1", time.Now()))
	require.NoError(t, store.CompleteSyncJob(ctx, "job-1", models.NewSyncResult(), nil))

	job, err := store.GetSyncJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
}
