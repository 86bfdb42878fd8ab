// Package rest implements the connector contract against an HTTP connector
// gateway that fronts the platform-specific APIs.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/Kamar-Folarin/commerce-sync/internal/config"
	"github.com/Kamar-Folarin/commerce-sync/internal/connector"
	"github.com/Kamar-Folarin/commerce-sync/internal/metrics"
	"github.com/Kamar-Folarin/commerce-sync/internal/models"
)

// Platform is the registry name of this connector
const Platform = "rest"

// Client syncs entities through the gateway's REST API
type Client struct {
	client      *http.Client
	baseURL     string
	platform    string
	integration string
	logger      *logrus.Logger

	maxRetries      int
	initialBackoff  time.Duration
	maxBackoff      time.Duration
	retryMultiplier float64

	mu          sync.Mutex
	initialized bool
}

// ClientOption allows configuring the client
type ClientOption func(*Client)

// WithRetryConfig configures retry behavior
func WithRetryConfig(maxRetries int, initialBackoff, maxBackoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.initialBackoff = initialBackoff
		c.maxBackoff = maxBackoff
	}
}

// WithPlatform overrides the platform label used in metrics and logs
func WithPlatform(platform string) ClientOption {
	return func(c *Client) {
		c.platform = platform
	}
}

// NewClient creates a client for one integration. The integration's base URL
// and "token" credential take precedence over the shared configuration.
func NewClient(integration *models.Integration, cfg *config.ConnectorConfig, logger *logrus.Logger, opts ...ClientOption) *Client {
	baseURL := cfg.BaseURL
	if integration.BaseURL != "" {
		baseURL = integration.BaseURL
	}
	token := cfg.Token
	if t := integration.Credentials["token"]; t != "" {
		token = t
	}

	var httpClient *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	} else {
		httpClient = &http.Client{}
	}
	httpClient.Timeout = cfg.Timeout

	client := &Client{
		client:          httpClient,
		baseURL:         strings.TrimRight(baseURL, "/"),
		platform:        integration.Platform,
		integration:     integration.ID,
		logger:          logger,
		maxRetries:      cfg.RateLimit.MaxRetries,
		initialBackoff:  cfg.RateLimit.InitialBackoff,
		maxBackoff:      cfg.RateLimit.MaxBackoff,
		retryMultiplier: cfg.RateLimit.RetryMultiplier,
	}

	for _, opt := range opts {
		opt(client)
	}
	if client.maxRetries <= 0 {
		client.maxRetries = 1
	}
	if client.retryMultiplier < 1 {
		client.retryMultiplier = 2
	}

	return client
}

// NewFactory returns a registry factory building clients with cfg
func NewFactory(cfg *config.ConnectorConfig, logger *logrus.Logger, opts ...ClientOption) connector.Factory {
	return func(integration *models.Integration) (connector.Connector, error) {
		return NewClient(integration, cfg, logger, opts...), nil
	}
}

func (c *Client) Initialize(ctx context.Context) error {
	if _, err := url.ParseRequestURI(c.baseURL); err != nil {
		return fmt.Errorf("invalid connector base URL %q: %w", c.baseURL, err)
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"integration_id": c.integration,
		"platform":       c.platform,
		"base_url":       c.baseURL,
	}).Debug("Connector initialized")
	return nil
}

type syncRequest struct {
	Limit int  `json:"limit"`
	Force bool `json:"force"`
}

// Sync asks the gateway to synchronize one entity type
func (c *Client) Sync(ctx context.Context, entityType string, opts connector.SyncOptions) (*models.EntityResult, error) {
	if !c.isInitialized() {
		return nil, fmt.Errorf("connector for integration %s is not initialized", c.integration)
	}
	if entityType == "" {
		return nil, fmt.Errorf("entity type cannot be empty")
	}

	body, err := json.Marshal(syncRequest{Limit: opts.Limit, Force: opts.Force})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sync request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/sync/%s", c.baseURL, url.PathEscape(entityType))

	var result models.EntityResult
	if err := c.doRequestWithBackoff(ctx, http.MethodPost, endpoint, body, &result, opts.Tracker); err != nil {
		return nil, err
	}
	return &result, nil
}

// TestConnection reports whether the gateway answers its health endpoint
func (c *Client) TestConnection(ctx context.Context) (bool, error) {
	if err := c.doRequestWithBackoff(ctx, http.MethodGet, c.baseURL+"/health", nil, nil, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.initialized = false
	c.client.CloseIdleConnections()
	return nil
}

func (c *Client) isInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// doRequestWithBackoff performs an HTTP request with exponential backoff on
// transport errors, 5xx and 429 responses. Retry-After overrides the backoff.
func (c *Client) doRequestWithBackoff(ctx context.Context, method, endpoint string, body []byte, result interface{}, tracker *metrics.Tracker) error {
	logger := c.logger.WithFields(logrus.Fields{
		"integration_id": c.integration,
		"method":         method,
		"url":            endpoint,
	})

	var lastErr error
	backoff := c.initialBackoff

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			backoff = time.Duration(math.Min(float64(backoff)*c.retryMultiplier, float64(c.maxBackoff)))
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		tracker.RecordAPICall()
		tracker.RecordBytesSent(int64(len(body)))
		metrics.ConnectorAPICalls.WithLabelValues(c.platform).Inc()

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = NewAPIError(0, "request failed", err)
			logger.WithError(err).Warnf("Request attempt %d failed", attempt+1)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		tracker.RecordBytesReceived(int64(len(respBody)))
		if err != nil {
			lastErr = NewAPIError(resp.StatusCode, "failed to read response body", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfter(resp.Header.Get("Retry-After"), backoff)
			lastErr = &RateLimitError{RetryAfter: wait}
			logger.Warnf("Rate limit exceeded. Waiting %v before retry", wait)
			backoff = wait
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastErr = NewAPIError(resp.StatusCode, strings.TrimSpace(string(respBody)), nil)
			if resp.StatusCode >= 500 {
				logger.WithField("status", resp.StatusCode).Warnf("Server error on attempt %d", attempt+1)
				continue
			}
			return lastErr
		}

		if result != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, result); err != nil {
				return NewAPIError(resp.StatusCode, "failed to decode response", err)
			}
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date
func retryAfter(header string, fallback time.Duration) time.Duration {
	if header == "" {
		return fallback
	}
	if seconds, err := strconv.ParseInt(header, 10, 64); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait
		}
		return 0
	}
	return fallback
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
