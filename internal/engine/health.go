package engine

import (
	"context"
	"fmt"
	"time"
)

// Health levels reported by GetHealthStatus
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus summarizes the engine's ability to take work
type HealthStatus struct {
	Status            string          `json:"status"`
	ActiveJobs        int             `json:"active_jobs"`
	MaxConcurrentJobs int             `json:"max_concurrent_jobs"`
	Connectors        map[string]bool `json:"connectors"`
	Issues            []string        `json:"issues"`
	CheckedAt         time.Time       `json:"checked_at"`
}

const connectionCheckTimeout = 10 * time.Second

// GetHealthStatus tests every initialized connector without holding the
// connector cache. One or two issues degrade the engine; three or more make
// it unhealthy.
func (e *Engine) GetHealthStatus(ctx context.Context) *HealthStatus {
	active := e.ActiveJobCount()
	health := &HealthStatus{
		ActiveJobs:        active,
		MaxConcurrentJobs: e.config.MaxConcurrentJobs,
		Connectors:        make(map[string]bool),
		Issues:            []string{},
		CheckedAt:         e.now(),
	}

	if active >= e.config.MaxConcurrentJobs {
		health.Issues = append(health.Issues, "at concurrency limit")
	}

	for key, conn := range e.cachedConnectors() {
		checkCtx, cancel := context.WithTimeout(ctx, connectionCheckTimeout)
		ok, err := conn.TestConnection(checkCtx)
		cancel()

		health.Connectors[key] = ok && err == nil
		switch {
		case err != nil:
			health.Issues = append(health.Issues, fmt.Sprintf("connector %s: %v", key, err))
		case !ok:
			health.Issues = append(health.Issues, fmt.Sprintf("connector %s: connection test failed", key))
		}
	}

	switch n := len(health.Issues); {
	case n == 0:
		health.Status = StatusHealthy
	case n <= 2:
		health.Status = StatusDegraded
	default:
		health.Status = StatusUnhealthy
	}
	return health
}
