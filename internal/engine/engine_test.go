package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kamar-Folarin/commerce-sync/internal/config"
	"github.com/Kamar-Folarin/commerce-sync/internal/connector"
	"github.com/Kamar-Folarin/commerce-sync/internal/db"
	apperrors "github.com/Kamar-Folarin/commerce-sync/internal/errors"
	"github.com/Kamar-Folarin/commerce-sync/internal/events"
	"github.com/Kamar-Folarin/commerce-sync/internal/models"
)

const testPlatform = "fake"

type fakeConnector struct {
	mu           sync.Mutex
	results      map[string]*models.EntityResult
	errs         map[string]error
	block        bool
	started      chan string
	healthy      bool
	healthErr    error
	calls        []string
	options      []connector.SyncOptions
	disconnected bool
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		results: make(map[string]*models.EntityResult),
		errs:    make(map[string]error),
		started: make(chan string, 10),
		healthy: true,
	}
}

func (f *fakeConnector) Initialize(ctx context.Context) error { return nil }

func (f *fakeConnector) Sync(ctx context.Context, entityType string, opts connector.SyncOptions) (*models.EntityResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, entityType)
	f.options = append(f.options, opts)
	block := f.block
	result, err := f.results[entityType], f.errs[entityType]
	f.mu.Unlock()

	f.started <- entityType
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &models.EntityResult{}
	}
	return result, nil
}

func (f *fakeConnector) TestConnection(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy, f.healthErr
}

func (f *fakeConnector) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
	return nil
}

type testEnv struct {
	engine *Engine
	store  *db.MemoryStore
	conn   *fakeConnector
	events *eventRecorder
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) HandleEvent(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) ofType(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func setupEngine(t *testing.T, mutate func(*config.EngineConfig)) *testEnv {
	cfg := config.DefaultEngineConfig()
	cfg.BatchConfig.BatchDelay = time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	store := db.NewMemoryStore()
	require.NoError(t, store.SaveIntegration(context.Background(), &models.Integration{
		ID:             "int-1",
		OrganizationID: "org-1",
		Platform:       testPlatform,
		Name:           "shop",
		Active:         true,
	}))

	conn := newFakeConnector()
	registry := connector.NewRegistry()
	registry.Register(testPlatform, func(*models.Integration) (connector.Connector, error) {
		return conn, nil
	})

	recorder := &eventRecorder{}
	bus := events.NewBus()
	bus.Subscribe(recorder)

	return &testEnv{
		engine: New(store, registry, bus, cfg, testLogger()),
		store:  store,
		conn:   conn,
		events: recorder,
	}
}

func jobConfig(entityTypes ...string) models.SyncJobConfig {
	return models.SyncJobConfig{
		IntegrationID:  "int-1",
		OrganizationID: "org-1",
		CreatedBy:      "user-1",
		EntityTypes:    entityTypes,
	}
}

func TestEngine_CreateSyncJob(t *testing.T) {
	env := setupEngine(t, nil)
	ctx := context.Background()

	cfg := jobConfig("products")
	cfg.Priority = models.PriorityHigh

	job, err := env.engine.CreateSyncJob(ctx, cfg)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, models.JobTypeManual, job.JobType)
	assert.Equal(t, models.SyncModeIncremental, job.Config.SyncMode)
	assert.Equal(t, 100, job.Config.BatchSize)
	assert.Equal(t, models.StrategySourceWins, job.Config.ConflictStrategy)

	item, err := env.store.GetQueueItem(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 80, item.Priority)
	assert.Equal(t, 3, item.MaxAttempts)
	assert.Equal(t, 0, item.Attempts)

	assert.Len(t, env.events.ofType(events.JobCreated), 1)
}

func TestEngine_CreateSyncJobValidation(t *testing.T) {
	env := setupEngine(t, nil)
	ctx := context.Background()

	t.Run("foreign organization", func(t *testing.T) {
		cfg := jobConfig("products")
		cfg.OrganizationID = "org-2"

		_, err := env.engine.CreateSyncJob(ctx, cfg)
		assert.True(t, apperrors.IsAuthorization(err))

		jobs, err := env.store.ListSyncJobs(ctx, models.JobFilter{})
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})

	t.Run("no entity types", func(t *testing.T) {
		_, err := env.engine.CreateSyncJob(ctx, jobConfig())
		assert.True(t, apperrors.IsInvalidInput(err))
	})

	t.Run("unknown strategy", func(t *testing.T) {
		cfg := jobConfig("products")
		cfg.ConflictStrategy = "coin_flip"
		_, err := env.engine.CreateSyncJob(ctx, cfg)
		assert.True(t, apperrors.IsInvalidInput(err))
	})

	t.Run("missing integration", func(t *testing.T) {
		cfg := jobConfig("products")
		cfg.IntegrationID = "int-missing"
		_, err := env.engine.CreateSyncJob(ctx, cfg)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("inactive integration", func(t *testing.T) {
		require.NoError(t, env.store.SaveIntegration(ctx, &models.Integration{
			ID: "int-off", OrganizationID: "org-1", Platform: testPlatform, Active: false,
		}))
		cfg := jobConfig("products")
		cfg.IntegrationID = "int-off"
		_, err := env.engine.CreateSyncJob(ctx, cfg)
		assert.True(t, apperrors.IsInvalidInput(err))
	})
}

type failingEnqueueStore struct {
	*db.MemoryStore
}

func (s *failingEnqueueStore) EnqueueJob(ctx context.Context, item *models.QueueItem) error {
	return errors.New("queue table unavailable")
}

func TestEngine_CreateSyncJobRollsBackOnEnqueueFailure(t *testing.T) {
	env := setupEngine(t, nil)
	ctx := context.Background()

	store := &failingEnqueueStore{MemoryStore: env.store}
	engine := New(store, connector.NewRegistry(), events.NewBus(), config.DefaultEngineConfig(), testLogger())

	job, err := engine.CreateSyncJob(ctx, jobConfig("products"))
	require.Error(t, err)
	assert.Nil(t, job)
	assert.True(t, apperrors.IsStore(err))

	jobs, err := env.store.ListSyncJobs(ctx, models.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs, "job row must be deleted when the queue insert fails")
}

func TestEngine_ExecuteJobPartialFailure(t *testing.T) {
	env := setupEngine(t, nil)
	ctx := context.Background()

	env.conn.errs["products"] = errors.New("upstream rejected page 3")
	env.conn.results["orders"] = &models.EntityResult{ItemsProcessed: 7, ItemsCreated: 3, ItemsUpdated: 4}

	cfg := jobConfig("products", "orders")
	cfg.SyncMode = models.SyncModeFull
	cfg.BatchSize = 25
	job, err := env.engine.CreateSyncJob(ctx, cfg)
	require.NoError(t, err)

	require.NoError(t, env.engine.ExecuteJob(ctx, job.ID))

	saved, err := env.store.GetSyncJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompletedWithErrors, saved.Status)
	assert.NotNil(t, saved.StartedAt)
	assert.NotNil(t, saved.CompletedAt)

	require.NotNil(t, saved.Result)
	assert.False(t, saved.Result.Success)
	require.Len(t, saved.Result.Errors, 1)
	assert.Equal(t, "products", saved.Result.Errors[0].EntityType)
	assert.Equal(t, 7, saved.Result.Entities["orders"].ItemsProcessed)
	assert.Equal(t, 7, saved.Result.Summary.TotalProcessed)

	require.NotNil(t, saved.Progress)
	assert.Equal(t, models.PhaseFinalizing, saved.Progress.Phase)
	assert.Equal(t, 100, saved.Progress.Percentage)

	assert.Equal(t, []string{"products", "orders"}, env.conn.calls)
	assert.Equal(t, 25, env.conn.options[0].Limit)
	assert.True(t, env.conn.options[0].Force)

	_, err = env.store.GetQueueItem(ctx, job.ID)
	assert.True(t, apperrors.IsNotFound(err))

	m, err := env.store.GetMetrics(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, m.JobID)
	assert.Greater(t, m.DBQueries, int64(0))

	assert.Len(t, env.events.ofType(events.JobStarted), 1)
	assert.Len(t, env.events.ofType(events.JobProgress), 3)
	assert.Len(t, env.events.ofType(events.JobCompleted), 1)
}

func TestEngine_ExecuteJobDetectsConflicts(t *testing.T) {
	env := setupEngine(t, nil)
	ctx := context.Background()

	env.conn.results["products"] = &models.EntityResult{
		ItemsProcessed: 2,
		Conflicts: []models.PotentialConflict{
			{RecordID: "sku-1", FieldName: "price", SourceValue: 10.0, TargetValue: 12.0, AutoResolvable: true},
			{RecordID: "sku-2", FieldName: "title", SourceValue: "A", TargetValue: "B"},
		},
	}

	cfg := jobConfig("products")
	cfg.ConflictStrategy = models.StrategyTargetWins
	job, err := env.engine.CreateSyncJob(ctx, cfg)
	require.NoError(t, err)

	require.NoError(t, env.engine.ExecuteJob(ctx, job.ID))

	conflicts, err := env.store.ListConflicts(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, conflicts, 2)

	byRecord := map[string]*models.SyncConflict{}
	for _, c := range conflicts {
		byRecord[c.RecordID] = c
	}
	require.True(t, byRecord["sku-1"].Resolved())
	assert.Equal(t, 12.0, byRecord["sku-1"].Resolution.ResolvedValue)
	assert.Equal(t, models.StrategyTargetWins, byRecord["sku-1"].Resolution.Strategy)
	assert.False(t, byRecord["sku-2"].Resolved())

	saved, err := env.store.GetSyncJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, saved.Status)
	assert.Equal(t, 2, saved.Result.Summary.TotalConflicts)

	assert.Len(t, env.events.ofType(events.ConflictDetected), 2)

	var persisting []*models.SyncProgress
	for _, e := range env.events.ofType(events.JobProgress) {
		if e.Progress.Phase == models.PhasePersistingConflicts {
			persisting = append(persisting, e.Progress)
		}
	}
	require.Len(t, persisting, 1)
	assert.Equal(t, "products", persisting[0].CurrentEntity)
	assert.Equal(t, 2, persisting[0].ConflictsSaved)
	assert.Equal(t, 2, persisting[0].ConflictsTotal)
	assert.Equal(t, 2, persisting[0].ItemsProcessed)
}

func TestEngine_ConflictDetectionDisabled(t *testing.T) {
	env := setupEngine(t, func(cfg *config.EngineConfig) {
		cfg.EnableConflictDetection = false
	})
	ctx := context.Background()

	env.conn.results["products"] = &models.EntityResult{
		Conflicts: []models.PotentialConflict{{RecordID: "sku-1", FieldName: "price"}},
	}

	job, err := env.engine.CreateSyncJob(ctx, jobConfig("products"))
	require.NoError(t, err)
	require.NoError(t, env.engine.ExecuteJob(ctx, job.ID))

	conflicts, err := env.store.ListConflicts(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func startBlockedJob(t *testing.T, env *testEnv) (string, chan error) {
	ctx := context.Background()
	env.conn.block = true

	job, err := env.engine.CreateSyncJob(ctx, jobConfig("products", "orders"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- env.engine.ExecuteJob(ctx, job.ID)
	}()

	select {
	case <-env.conn.started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never reached the connector")
	}
	return job.ID, done
}

func waitForResult(t *testing.T, done chan error) error {
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("job did not stop")
		return nil
	}
}

func TestEngine_CancelJob(t *testing.T) {
	env := setupEngine(t, nil)
	ctx := context.Background()

	jobID, done := startBlockedJob(t, env)
	require.NoError(t, env.engine.CancelJob(ctx, jobID))

	err := waitForResult(t, done)
	syncErr, ok := apperrors.AsSyncError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeJobCancelled, syncErr.Code)
	assert.False(t, syncErr.Retryable)

	job, err := env.store.GetSyncJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
	assert.NotNil(t, job.CompletedAt)
	require.NotNil(t, job.Progress)
	assert.Equal(t, "products", job.Progress.CurrentEntity)
	assert.Equal(t, []string{"products"}, env.conn.calls, "no entity may start after cancellation")

	assert.Len(t, env.events.ofType(events.JobCancelled), 1)
	assert.Empty(t, env.events.ofType(events.JobFailed))
	assert.Equal(t, 0, env.engine.ActiveJobCount())

	err = env.engine.CancelJob(ctx, jobID)
	assert.True(t, apperrors.IsInvalidInput(err))
}

func TestEngine_JobTimeoutIsRetryable(t *testing.T) {
	env := setupEngine(t, func(cfg *config.EngineConfig) {
		cfg.JobTimeout = 50 * time.Millisecond
	})
	ctx := context.Background()

	jobID, done := startBlockedJob(t, env)

	err := waitForResult(t, done)
	syncErr, ok := apperrors.AsSyncError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeJobTimeout, syncErr.Code)
	assert.True(t, syncErr.Retryable)

	job, err := env.store.GetSyncJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusInProgress, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, apperrors.CodeJobTimeout, job.Error.Code)

	_, err = env.store.GetQueueItem(ctx, jobID)
	assert.NoError(t, err, "retryable failures keep the queue item")

	assert.Len(t, env.events.ofType(events.JobFailed), 1)
}

func TestEngine_ConcurrencyLimit(t *testing.T) {
	env := setupEngine(t, func(cfg *config.EngineConfig) {
		cfg.MaxConcurrentJobs = 1
	})
	ctx := context.Background()

	jobID, done := startBlockedJob(t, env)

	other, err := env.engine.CreateSyncJob(ctx, jobConfig("orders"))
	require.NoError(t, err)

	err = env.engine.ExecuteJob(ctx, other.ID)
	assert.True(t, apperrors.IsConcurrencyLimit(err))

	require.NoError(t, env.engine.CancelJob(ctx, jobID))
	waitForResult(t, done)
}

func TestEngine_GetHealthStatus(t *testing.T) {
	env := setupEngine(t, nil)
	ctx := context.Background()

	health := env.engine.GetHealthStatus(ctx)
	assert.Equal(t, StatusHealthy, health.Status)
	assert.Empty(t, health.Issues)

	job, err := env.engine.CreateSyncJob(ctx, jobConfig("products"))
	require.NoError(t, err)
	require.NoError(t, env.engine.ExecuteJob(ctx, job.ID))

	env.conn.healthy = false
	health = env.engine.GetHealthStatus(ctx)
	assert.Equal(t, StatusDegraded, health.Status)
	assert.Len(t, health.Issues, 1)
	assert.False(t, health.Connectors[testPlatform+":int-1"])
}

func TestEngine_GetHealthStatusUnhealthy(t *testing.T) {
	env := setupEngine(t, nil)
	ctx := context.Background()

	failing := &fakeConnector{healthErr: errors.New("dial tcp: connection refused")}
	for _, key := range []string{"a:1", "b:2", "c:3"} {
		env.engine.connectors[key] = newReadyEntry(failing)
	}

	health := env.engine.GetHealthStatus(ctx)
	assert.Equal(t, StatusUnhealthy, health.Status)
	assert.Len(t, health.Issues, 3)
}

func TestEngine_ShutdownDisconnectsConnectors(t *testing.T) {
	env := setupEngine(t, nil)
	ctx := context.Background()

	job, err := env.engine.CreateSyncJob(ctx, jobConfig("products"))
	require.NoError(t, err)
	require.NoError(t, env.engine.ExecuteJob(ctx, job.ID))

	require.NoError(t, env.engine.Shutdown(ctx))
	assert.True(t, env.conn.disconnected)
	assert.Empty(t, env.engine.connectors)
}

func TestEngine_ResolveConflictManually(t *testing.T) {
	env := setupEngine(t, nil)
	ctx := context.Background()

	env.conn.results["products"] = &models.EntityResult{
		Conflicts: []models.PotentialConflict{{RecordID: "sku-1", FieldName: "title", SourceValue: "A", TargetValue: "B"}},
	}
	job, err := env.engine.CreateSyncJob(ctx, jobConfig("products"))
	require.NoError(t, err)
	require.NoError(t, env.engine.ExecuteJob(ctx, job.ID))

	conflicts, err := env.engine.ListConflicts(ctx, "org-1", job.ID)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	_, err = env.engine.ResolveConflict(ctx, "org-2", "user-2", conflicts[0].ID, "C")
	assert.True(t, apperrors.IsNotFound(err))

	resolved, err := env.engine.ResolveConflict(ctx, "org-1", "user-1", conflicts[0].ID, "C")
	require.NoError(t, err)
	assert.Equal(t, "C", resolved.Resolution.ResolvedValue)
	assert.Equal(t, "user-1", resolved.Resolution.ResolvedBy)

	_, err = env.engine.ResolveConflict(ctx, "org-1", "user-1", conflicts[0].ID, "D")
	assert.True(t, apperrors.IsInvalidInput(err))
}

// gatedConnector blocks Initialize until release is closed and
// TestConnection until its context ends
type gatedConnector struct {
	*fakeConnector
	entered chan struct{}
	release chan struct{}
}

func newGatedConnector() *gatedConnector {
	return &gatedConnector{
		fakeConnector: newFakeConnector(),
		entered:       make(chan struct{}, 1),
		release:       make(chan struct{}),
	}
}

func (g *gatedConnector) Initialize(ctx context.Context) error {
	g.entered <- struct{}{}
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gatedConnector) TestConnection(ctx context.Context) (bool, error) {
	g.entered <- struct{}{}
	<-ctx.Done()
	return false, ctx.Err()
}

func TestEngine_HealthCheckDoesNotBlockExecution(t *testing.T) {
	env := setupEngine(t, nil)
	ctx := context.Background()

	slow := newGatedConnector()
	env.engine.connectors["slow:int-9"] = newReadyEntry(slow)

	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	healthDone := make(chan *HealthStatus, 1)
	go func() {
		healthDone <- env.engine.GetHealthStatus(healthCtx)
	}()
	<-slow.entered

	job, err := env.engine.CreateSyncJob(ctx, jobConfig("products"))
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, env.engine.ExecuteJob(ctx, job.ID))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	cancel()
	health := <-healthDone
	assert.False(t, health.Connectors["slow:int-9"])
}

func TestEngine_ConnectorInitializationIsPerIntegration(t *testing.T) {
	env := setupEngine(t, nil)
	ctx := context.Background()

	require.NoError(t, env.store.SaveIntegration(ctx, &models.Integration{
		ID:             "int-2",
		OrganizationID: "org-1",
		Platform:       "slow",
		Active:         true,
	}))
	slow := newGatedConnector()
	env.engine.registry.Register("slow", func(*models.Integration) (connector.Connector, error) {
		return slow, nil
	})

	slowCfg := jobConfig("products")
	slowCfg.IntegrationID = "int-2"
	slowJob, err := env.engine.CreateSyncJob(ctx, slowCfg)
	require.NoError(t, err)

	slowDone := make(chan error, 1)
	go func() {
		slowDone <- env.engine.ExecuteJob(ctx, slowJob.ID)
	}()
	<-slow.entered

	job, err := env.engine.CreateSyncJob(ctx, jobConfig("products"))
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, env.engine.ExecuteJob(ctx, job.ID))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	close(slow.release)
	require.NoError(t, waitForResult(t, slowDone))

	stored, err := env.store.GetSyncJob(ctx, slowJob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
}

func TestEngine_FailedConnectorInitializationIsRetried(t *testing.T) {
	env := setupEngine(t, nil)
	ctx := context.Background()

	builds := 0
	env.engine.registry.Register(testPlatform, func(*models.Integration) (connector.Connector, error) {
		builds++
		if builds == 1 {
			return nil, errors.New("bad credentials")
		}
		return env.conn, nil
	})

	integration, err := env.store.GetIntegration(ctx, "int-1")
	require.NoError(t, err)

	_, err = env.engine.getConnector(ctx, integration)
	require.Error(t, err)
	assert.Empty(t, env.engine.connectors)

	conn, err := env.engine.getConnector(ctx, integration)
	require.NoError(t, err)
	assert.Same(t, env.conn, conn)
	assert.Equal(t, 2, builds)
}

func TestEngine_NoProgressAfterCancellation(t *testing.T) {
	env := setupEngine(t, nil)

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(ErrJobCancelled)

	env.engine.publishProgress(ctx, &models.SyncJob{ID: "job-1"}, &models.SyncProgress{Phase: models.PhaseFetching}, nil)
	assert.Empty(t, env.events.ofType(events.JobProgress))
}
