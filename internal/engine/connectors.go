package engine

import (
	"context"
	"errors"

	"github.com/Kamar-Folarin/commerce-sync/internal/connector"
	"github.com/Kamar-Folarin/commerce-sync/internal/models"
)

// connectorEntry is one cached connector. ready is closed once conn and err
// are set; they are read-only afterwards.
type connectorEntry struct {
	ready chan struct{}
	conn  connector.Connector
	err   error
}

func newReadyEntry(conn connector.Connector) *connectorEntry {
	entry := &connectorEntry{ready: make(chan struct{}), conn: conn}
	close(entry.ready)
	return entry
}

// initialized returns the connector if initialization finished successfully
func (c *connectorEntry) initialized() (connector.Connector, bool) {
	select {
	case <-c.ready:
		return c.conn, c.err == nil
	default:
		return nil, false
	}
}

func connectorKey(integration *models.Integration) string {
	return integration.Platform + ":" + integration.ID
}

// getConnector returns the cached connector of the integration, building and
// initializing it on first use. connMu only guards the map; callers for the
// same key wait on the entry while other integrations proceed.
func (e *Engine) getConnector(ctx context.Context, integration *models.Integration) (connector.Connector, error) {
	key := connectorKey(integration)

	e.connMu.Lock()
	entry, cached := e.connectors[key]
	if !cached {
		entry = &connectorEntry{ready: make(chan struct{})}
		e.connectors[key] = entry
	}
	e.connMu.Unlock()

	if cached {
		select {
		case <-entry.ready:
			return entry.conn, entry.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	entry.conn, entry.err = e.newConnector(ctx, integration)
	if entry.err != nil {
		// Failed entries are dropped so the next job tries again.
		entry.conn = nil
		e.connMu.Lock()
		if e.connectors[key] == entry {
			delete(e.connectors, key)
		}
		e.connMu.Unlock()
	}
	close(entry.ready)
	return entry.conn, entry.err
}

func (e *Engine) newConnector(ctx context.Context, integration *models.Integration) (connector.Connector, error) {
	conn, err := e.registry.New(integration)
	if err != nil {
		return nil, err
	}
	if err := conn.Initialize(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// cachedConnectors snapshots the initialized connectors by key
func (e *Engine) cachedConnectors() map[string]connector.Connector {
	e.connMu.Lock()
	defer e.connMu.Unlock()

	out := make(map[string]connector.Connector, len(e.connectors))
	for key, entry := range e.connectors {
		if conn, ok := entry.initialized(); ok {
			out[key] = conn
		}
	}
	return out
}

// disconnectAll empties the cache and disconnects every connector it held.
// Entries still initializing are waited for until ctx ends.
func (e *Engine) disconnectAll(ctx context.Context) error {
	e.connMu.Lock()
	entries := e.connectors
	e.connectors = make(map[string]*connectorEntry)
	e.connMu.Unlock()

	var errs []error
	for key, entry := range entries {
		select {
		case <-entry.ready:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
			continue
		}
		if entry.err != nil {
			continue
		}
		if err := entry.conn.Disconnect(ctx); err != nil {
			e.logger.WithError(err).WithField("connector", key).Warn("Failed to disconnect connector")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
