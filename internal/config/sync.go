package config

import (
	"time"

	"github.com/Kamar-Folarin/commerce-sync/internal/models"
)

// EngineConfig holds sync engine configuration
type EngineConfig struct {
	MaxConcurrentJobs       int
	JobTimeout              time.Duration
	EnableConflictDetection bool
	DefaultConflictStrategy models.ConflictStrategy
	EnableMetrics           bool
	DefaultBatchSize        int
	DefaultMaxAttempts      int
	BatchConfig             BatchConfig
}

// ManagerConfig holds job manager configuration
type ManagerConfig struct {
	WorkerID          string
	PollInterval      time.Duration
	MaxConcurrentJobs int
	LockDuration      time.Duration
	EnableScheduling  bool
	AutoRetry         bool
	GracefulShutdown  time.Duration
	ForceKillAfter    time.Duration
	// ShutdownCheckInterval is how often Stop polls the active job set
	ShutdownCheckInterval time.Duration
}

// BatchConfig holds batch persistence configuration
type BatchConfig struct {
	Size       int
	Workers    int
	MaxRetries int
	BatchDelay time.Duration
}

// DefaultEngineConfig returns the default engine configuration
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		MaxConcurrentJobs:       5,
		JobTimeout:              30 * time.Minute,
		EnableConflictDetection: true,
		DefaultConflictStrategy: models.StrategySourceWins,
		EnableMetrics:           true,
		DefaultBatchSize:        100,
		DefaultMaxAttempts:      3,
		BatchConfig: BatchConfig{
			Size:       100,
			Workers:    2,
			MaxRetries: 3,
			BatchDelay: 100 * time.Millisecond,
		},
	}
}

// DefaultManagerConfig returns the default manager configuration
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		WorkerID:              "worker-1",
		PollInterval:          5 * time.Second,
		MaxConcurrentJobs:     5,
		LockDuration:          5 * time.Minute,
		EnableScheduling:      true,
		AutoRetry:             true,
		GracefulShutdown:      30 * time.Second,
		ForceKillAfter:        60 * time.Second,
		ShutdownCheckInterval: time.Second,
	}
}
