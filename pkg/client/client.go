// Package client provides the core Canvas HTTP transport with retry,
// throttle tracking, and error classification.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/edukit/canvas-mcp/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for Canvas request operations.
var (
	canvasRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_requests_total",
		Help: "Total Canvas requests by endpoint and status",
	}, []string{"endpoint", "status"})

	canvasRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "canvas_request_duration_seconds",
		Help:    "Canvas request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	canvasErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_errors_total",
		Help: "Total Canvas errors by kind",
	}, []string{"kind"})
)

// Credential identifies one Canvas tenant for the lifetime of one request.
// It is supplied per call or from process-wide default configuration and is
// never persisted or logged.
type Credential struct {
	BaseURL     string
	AccessToken string
}

// Validate checks that both credential fields are present.
func (c Credential) Validate() error {
	if c.BaseURL == "" || c.AccessToken == "" {
		return ErrMissingCredential
	}
	return nil
}

// apiRoot returns the base URL with exactly one /api/v1 suffix.
func (c Credential) apiRoot() string {
	root := strings.TrimRight(c.BaseURL, "/")
	if !strings.HasSuffix(root, "/api/v1") {
		root += "/api/v1"
	}
	return root
}

// PageRequest identifies exactly one upstream call. Path is either an
// endpoint path under /api/v1 or, when the paginator follows a Link-header
// cursor, a complete URL.
type PageRequest struct {
	Path     string
	Query    url.Values
	PageSize int
}

// RawResponse is the raw status/headers/body triple from one upstream call.
type RawResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// Config holds the transport configuration.
type Config struct {
	// UserAgent header sent on every request.
	UserAgent string

	// HTTPTimeout bounds one underlying HTTP round trip.
	HTTPTimeout time.Duration

	// Retry configures the retry policy wrapping each fetch.
	Retry RetryConfig

	// Throttle is the optional Canvas quota tracker consulted before each
	// outbound call and fed from response headers.
	Throttle *ratelimit.Tracker
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent:   userAgent,
		HTTPTimeout: 30 * time.Second,
		Retry:       DefaultRetryConfig(),
	}
}

// Client is the Canvas transport client.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new Canvas transport client.
func New(cfg Config) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "canvas-mcp/1.0"
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		config: cfg,
		logger: log.With().Str("component", "canvas-client").Logger(),
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// FetchPage performs one logical page fetch: a single upstream GET wrapped
// by the retry policy. Transport errors propagate unchanged once retries
// are exhausted.
func (c *Client) FetchPage(ctx context.Context, req PageRequest, cred Credential) (*RawResponse, error) {
	if err := cred.Validate(); err != nil {
		return nil, err
	}

	return retryWithBackoff(ctx, c.logger, c.config.Retry, func() (*RawResponse, error) {
		return c.fetchOnce(ctx, req, cred)
	})
}

// fetchOnce issues exactly one outbound HTTP call and classifies the result.
// No retries happen at this layer.
func (c *Client) fetchOnce(ctx context.Context, req PageRequest, cred Credential) (*RawResponse, error) {
	target, err := buildURL(req, cred)
	if err != nil {
		return nil, fmt.Errorf("build request URL: %w", err)
	}
	endpoint := target.Path

	start := time.Now()
	defer func() {
		canvasRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	if c.config.Throttle != nil {
		allowed, err := c.config.Throttle.ShouldAllowRequest(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Throttle check failed, allowing request")
		} else if !allowed {
			canvasRequestsTotal.WithLabelValues(endpoint, "throttled").Inc()
			return nil, ErrThrottled
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Only the caller's deadline is a timeout; a stall that trips the
		// per-request HTTPTimeout is a transient network fault and stays
		// retryable.
		kind := KindNetwork
		if ctx.Err() != nil {
			kind = KindTimeout
		}
		canvasErrorsTotal.WithLabelValues(string(kind)).Inc()
		canvasRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		return nil, &APIError{Kind: kind, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if c.config.Throttle != nil {
		if err := c.config.Throttle.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update throttle state from headers")
		}
	}

	canvasRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		apiErr := classifyStatus(resp)
		canvasErrorsTotal.WithLabelValues(string(apiErr.Kind)).Inc()
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("kind", string(apiErr.Kind)).
			Msg("Canvas request error")
		return nil, apiErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		canvasErrorsTotal.WithLabelValues(string(KindNetwork)).Inc()
		return nil, &APIError{Kind: KindNetwork, Message: "read response body", Err: err}
	}

	if len(body) > 0 && !json.Valid(body) {
		canvasErrorsTotal.WithLabelValues(string(KindDecode)).Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Kind:       KindDecode,
			Message:    "response body is not valid JSON",
		}
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Msg("Canvas request complete")

	return &RawResponse{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}, nil
}

// buildURL resolves a PageRequest against a credential's API root. A Path
// that is already a complete URL (a followed Link cursor) passes through
// with its own query intact.
func buildURL(req PageRequest, cred Credential) (*url.URL, error) {
	if strings.HasPrefix(req.Path, "http://") || strings.HasPrefix(req.Path, "https://") {
		return url.Parse(req.Path)
	}

	target, err := url.Parse(cred.apiRoot() + "/" + strings.TrimLeft(req.Path, "/"))
	if err != nil {
		return nil, err
	}

	query := target.Query()
	for key, values := range req.Query {
		for _, v := range values {
			query.Add(key, v)
		}
	}
	if req.PageSize > 0 && query.Get("per_page") == "" {
		query.Set("per_page", strconv.Itoa(req.PageSize))
	}
	target.RawQuery = query.Encode()

	return target, nil
}

// classifyStatus maps a non-2xx response to a typed error.
func classifyStatus(resp *http.Response) *APIError {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &APIError{
			StatusCode: resp.StatusCode,
			Kind:       KindRateLimited,
			Message:    resp.Status,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &APIError{
			StatusCode: resp.StatusCode,
			Kind:       KindAuth,
			Message:    resp.Status,
		}
	default:
		return &APIError{
			StatusCode: resp.StatusCode,
			Kind:       KindHTTP,
			Message:    resp.Status,
		}
	}
}

// parseRetryAfter handles both delay-seconds and HTTP-date forms.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil && seconds > 0 {
		return time.Duration(seconds * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
