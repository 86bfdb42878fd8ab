package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Kamar-Folarin/commerce-sync/internal/models"
)

// Config is the process configuration loaded from the environment
type Config struct {
	Port               string
	DBConnectionString string
	StoreDriver        string
	LogLevel           string
	AMQPURL            string
	AMQPExchange       string

	Engine    *EngineConfig
	Manager   *ManagerConfig
	Connector *ConnectorConfig
}

func Load() (*Config, error) {
	engine := DefaultEngineConfig()
	manager := DefaultManagerConfig()
	connector := DefaultConnectorConfig()

	var err error
	if manager.WorkerID, err = workerID(); err != nil {
		return nil, err
	}

	pollMs, err := getEnvInt("POLL_INTERVAL_MS", int(manager.PollInterval/time.Millisecond))
	if err != nil {
		return nil, err
	}
	manager.PollInterval = time.Duration(pollMs) * time.Millisecond

	maxJobs, err := getEnvInt("MAX_CONCURRENT_JOBS", engine.MaxConcurrentJobs)
	if err != nil {
		return nil, err
	}
	engine.MaxConcurrentJobs = maxJobs
	manager.MaxConcurrentJobs = maxJobs

	lockSeconds, err := getEnvInt("LOCK_DURATION_SECONDS", int(manager.LockDuration/time.Second))
	if err != nil {
		return nil, err
	}
	manager.LockDuration = time.Duration(lockSeconds) * time.Second

	timeoutMs, err := getEnvInt("JOB_TIMEOUT_MS", int(engine.JobTimeout/time.Millisecond))
	if err != nil {
		return nil, err
	}
	engine.JobTimeout = time.Duration(timeoutMs) * time.Millisecond

	gracefulMs, err := getEnvInt("GRACEFUL_SHUTDOWN_MS", int(manager.GracefulShutdown/time.Millisecond))
	if err != nil {
		return nil, err
	}
	manager.GracefulShutdown = time.Duration(gracefulMs) * time.Millisecond

	forceMs, err := getEnvInt("FORCE_KILL_AFTER_MS", int(manager.ForceKillAfter/time.Millisecond))
	if err != nil {
		return nil, err
	}
	manager.ForceKillAfter = time.Duration(forceMs) * time.Millisecond

	if manager.EnableScheduling, err = getEnvBool("ENABLE_SCHEDULING", manager.EnableScheduling); err != nil {
		return nil, err
	}
	if manager.AutoRetry, err = getEnvBool("AUTO_RETRY", manager.AutoRetry); err != nil {
		return nil, err
	}
	if engine.EnableConflictDetection, err = getEnvBool("ENABLE_CONFLICT_DETECTION", engine.EnableConflictDetection); err != nil {
		return nil, err
	}
	if engine.EnableMetrics, err = getEnvBool("ENABLE_METRICS", engine.EnableMetrics); err != nil {
		return nil, err
	}

	strategy := models.ConflictStrategy(getEnv("DEFAULT_CONFLICT_STRATEGY", string(engine.DefaultConflictStrategy)))
	if !strategy.Valid() {
		return nil, fmt.Errorf("invalid DEFAULT_CONFLICT_STRATEGY: %s", strategy)
	}
	engine.DefaultConflictStrategy = strategy

	connector.BaseURL = getEnv("CONNECTOR_BASE_URL", connector.BaseURL)
	connector.Token = getEnv("CONNECTOR_TOKEN", "")
	timeoutSeconds, err := getEnvInt("CONNECTOR_TIMEOUT_SECONDS", int(connector.Timeout/time.Second))
	if err != nil {
		return nil, err
	}
	connector.Timeout = time.Duration(timeoutSeconds) * time.Second

	return &Config{
		Port:               getEnv("PORT", "8080"),
		DBConnectionString: getEnv("DB_CONNECTION_STRING", ""),
		StoreDriver:        getEnv("STORE_DRIVER", "postgres"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		AMQPURL:            getEnv("AMQP_URL", ""),
		AMQPExchange:       getEnv("AMQP_EXCHANGE", "sync.events"),
		Engine:             engine,
		Manager:            manager,
		Connector:          connector,
	}, nil
}

func workerID() (string, error) {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id, nil
	}
	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to resolve hostname for worker id: %w", err)
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid()), nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
