// Package connector defines the contract every external commerce platform
// adapter implements and a registry that builds them per integration.
package connector

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/Kamar-Folarin/commerce-sync/internal/errors"
	"github.com/Kamar-Folarin/commerce-sync/internal/metrics"
	"github.com/Kamar-Folarin/commerce-sync/internal/models"
)

// SyncOptions parameterize one entity sync. Cancellation travels on the context.
type SyncOptions struct {
	Limit   int
	Force   bool
	Tracker *metrics.Tracker
}

// Connector talks to one external platform on behalf of one integration
type Connector interface {
	Initialize(ctx context.Context) error
	Sync(ctx context.Context, entityType string, opts SyncOptions) (*models.EntityResult, error)
	TestConnection(ctx context.Context) (bool, error)
	Disconnect(ctx context.Context) error
}

// Factory builds an uninitialized connector for an integration
type Factory func(integration *models.Integration) (Connector, error)

// Registry maps platform names to factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(platform string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[platform] = factory
}

// New builds the connector for the integration's platform
func (r *Registry) New(integration *models.Integration) (Connector, error) {
	r.mu.RLock()
	factory, ok := r.factories[integration.Platform]
	r.mu.RUnlock()

	if !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("no connector registered for platform %q", integration.Platform), nil)
	}
	return factory(integration)
}

// Platforms lists the registered platform names
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	platforms := make([]string, 0, len(r.factories))
	for p := range r.factories {
		platforms = append(platforms, p)
	}
	return platforms
}
