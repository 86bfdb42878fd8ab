package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kamar-Folarin/commerce-sync/internal/config"
	"github.com/Kamar-Folarin/commerce-sync/internal/connector"
	"github.com/Kamar-Folarin/commerce-sync/internal/metrics"
	"github.com/Kamar-Folarin/commerce-sync/internal/models"
)

func setupTestClient(t *testing.T, handler http.HandlerFunc) (*Client, func()) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	server := httptest.NewServer(handler)

	cfg := config.DefaultConnectorConfig()
	cfg.Token = "shared-token"
	integration := &models.Integration{
		ID:          "int-1",
		Platform:    Platform,
		BaseURL:     server.URL,
		Credentials: map[string]string{"token": "test-token"},
	}

	client := NewClient(integration, cfg, logger, WithRetryConfig(3, time.Millisecond, 10*time.Millisecond))
	require.NoError(t, client.Initialize(context.Background()))

	return client, server.Close
}

func TestClient_Sync(t *testing.T) {
	t.Run("successful request", func(t *testing.T) {
		client, cleanup := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/sync/products", r.URL.Path)
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

			var req syncRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, 50, req.Limit)
			assert.True(t, req.Force)

			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{
				"items_processed": 10,
				"items_created": 4,
				"items_updated": 5,
				"items_failed": 1,
				"errors": ["sku-9: invalid price"],
				"conflicts": [{"record_id": "sku-1", "field_name": "price", "source_value": 10, "target_value": 12, "auto_resolvable": true}]
			}`))
		})
		defer cleanup()

		tracker := metrics.NewTracker("job-1")
		result, err := client.Sync(context.Background(), "products", connector.SyncOptions{Limit: 50, Force: true, Tracker: tracker})
		require.NoError(t, err)

		assert.Equal(t, 10, result.ItemsProcessed)
		assert.Equal(t, 4, result.ItemsCreated)
		assert.Equal(t, 1, result.ItemsFailed)
		require.Len(t, result.Conflicts, 1)
		assert.Equal(t, "price", result.Conflicts[0].FieldName)
		assert.True(t, result.Conflicts[0].AutoResolvable)

		m := tracker.Finish()
		assert.Equal(t, int64(1), m.APICalls)
		assert.Greater(t, m.BytesSent, int64(0))
		assert.Greater(t, m.BytesReceived, int64(0))
	})

	t.Run("retries server errors", func(t *testing.T) {
		var calls int32
		client, cleanup := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte(`{"items_processed": 1}`))
		})
		defer cleanup()

		result, err := client.Sync(context.Background(), "orders", connector.SyncOptions{Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 1, result.ItemsProcessed)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("honors retry-after on 429", func(t *testing.T) {
		var calls int32
		client, cleanup := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Write([]byte(`{"items_processed": 2}`))
		})
		defer cleanup()

		result, err := client.Sync(context.Background(), "inventory", connector.SyncOptions{})
		require.NoError(t, err)
		assert.Equal(t, 2, result.ItemsProcessed)
	})

	t.Run("persistent throttling", func(t *testing.T) {
		client, cleanup := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		})
		defer cleanup()

		_, err := client.Sync(context.Background(), "inventory", connector.SyncOptions{})
		require.Error(t, err)
		assert.True(t, IsRateLimitError(err))
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls int32
		client, cleanup := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte("unknown entity type"))
		})
		defer cleanup()

		_, err := client.Sync(context.Background(), "widgets", connector.SyncOptions{})
		require.Error(t, err)

		apiErr, ok := err.(*APIError)
		require.True(t, ok)
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		assert.Equal(t, "unknown entity type", apiErr.Message)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("cancelled context", func(t *testing.T) {
		client, cleanup := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		defer cleanup()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := client.Sync(ctx, "products", connector.SyncOptions{})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("requires initialization", func(t *testing.T) {
		client, cleanup := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
		defer cleanup()

		require.NoError(t, client.Disconnect(context.Background()))
		_, err := client.Sync(context.Background(), "products", connector.SyncOptions{})
		assert.Error(t, err)
	})
}

func TestClient_TestConnection(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		client, cleanup := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/health", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		})
		defer cleanup()

		ok, err := client.TestConnection(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("unhealthy", func(t *testing.T) {
		client, cleanup := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
		defer cleanup()

		ok, err := client.TestConnection(context.Background())
		assert.Error(t, err)
		assert.False(t, ok)
	})
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 5*time.Second, retryAfter("5", time.Second))
	assert.Equal(t, time.Second, retryAfter("", time.Second))
	assert.Equal(t, time.Second, retryAfter("soon", time.Second))
	assert.Equal(t, time.Duration(0), retryAfter(time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat), time.Second))
}

func TestRegistry(t *testing.T) {
	registry := connector.NewRegistry()
	registry.Register(Platform, NewFactory(config.DefaultConnectorConfig(), logrus.New()))

	c, err := registry.New(&models.Integration{ID: "int-1", Platform: Platform})
	require.NoError(t, err)
	assert.IsType(t, &Client{}, c)

	_, err = registry.New(&models.Integration{ID: "int-2", Platform: "unknown"})
	assert.Error(t, err)
}
