package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kamar-Folarin/commerce-sync/internal/models"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WORKER_ID", "worker-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, "worker-test", cfg.Manager.WorkerID)
	assert.Equal(t, 5*time.Second, cfg.Manager.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.Manager.LockDuration)
	assert.Equal(t, 5, cfg.Engine.MaxConcurrentJobs)
	assert.Equal(t, models.StrategySourceWins, cfg.Engine.DefaultConflictStrategy)
	assert.True(t, cfg.Manager.AutoRetry)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WORKER_ID", "w2")
	t.Setenv("MAX_CONCURRENT_JOBS", "2")
	t.Setenv("POLL_INTERVAL_MS", "250")
	t.Setenv("LOCK_DURATION_SECONDS", "60")
	t.Setenv("AUTO_RETRY", "false")
	t.Setenv("DEFAULT_CONFLICT_STRATEGY", "newest_wins")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Engine.MaxConcurrentJobs)
	assert.Equal(t, 2, cfg.Manager.MaxConcurrentJobs)
	assert.Equal(t, 250*time.Millisecond, cfg.Manager.PollInterval)
	assert.Equal(t, time.Minute, cfg.Manager.LockDuration)
	assert.False(t, cfg.Manager.AutoRetry)
	assert.Equal(t, models.StrategyNewestWins, cfg.Engine.DefaultConflictStrategy)
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "non numeric concurrency", key: "MAX_CONCURRENT_JOBS", value: "many"},
		{name: "non boolean retry flag", key: "AUTO_RETRY", value: "sometimes"},
		{name: "unknown strategy", key: "DEFAULT_CONFLICT_STRATEGY", value: "coin_flip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("WORKER_ID", "w")
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
