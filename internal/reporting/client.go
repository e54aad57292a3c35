// Package reporting is the HTTP client for the remote reporting API.
package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pitabwire/clubpulse/internal/config"
	"github.com/pitabwire/clubpulse/internal/observability"
	"github.com/pitabwire/clubpulse/model"
)

const defaultMaxResponseBytes = 10 << 20

// Recorder receives outbound request telemetry. *observability.Metrics
// satisfies it.
type Recorder interface {
	RecordBackendRequest(endpoint string, status int, duration time.Duration)
	RecordBackendRetry(endpoint string)
	SetBackendCircuitBreakerState(state float64)
}

// Getter is the read side of the client used by the aggregator, the
// drill-down controller, lookups and exports.
type Getter interface {
	Get(ctx context.Context, rctx *model.RequestContext, endpoint string, params model.Params, dest any) error
}

// Client issues GET requests against the reporting API with rate limiting,
// retries and a circuit breaker. It is safe for concurrent use.
type Client struct {
	baseURL          string
	http             *http.Client
	breaker          *CircuitBreaker
	limiter          *rate.Limiter
	retry            config.RetryConfig
	clock            clockwork.Clock
	serviceToken     string
	authScheme       string
	forwardUserToken bool
	maxBytes         int64
	metrics          Recorder
	logger           *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMetrics attaches a telemetry recorder.
func WithMetrics(r Recorder) Option {
	return func(c *Client) { c.metrics = r }
}

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithServiceToken sets the token sent when no user token is forwarded.
func WithServiceToken(token string) Option {
	return func(c *Client) { c.serviceToken = token }
}

// WithClock replaces the clock used for backoff and the circuit breaker.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// NewClient creates a Client from cfg.
func NewClient(cfg config.ReportingConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		retry:            cfg.Retry,
		authScheme:       cfg.AuthScheme,
		forwardUserToken: cfg.ForwardUserToken,
		maxBytes:         cfg.MaxResponseBytes,
		clock:            clockwork.NewRealClock(),
		logger:           zap.NewNop(),
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.authScheme == "" {
		c.authScheme = "Bearer"
	}
	if c.maxBytes <= 0 {
		c.maxBytes = defaultMaxResponseBytes
	}

	c.limiter = rate.NewLimiter(rate.Inf, 0)
	if rl := cfg.RateLimit; rl.RequestsPerSecond > 0 {
		burst := rl.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), burst)
	}

	c.breaker = NewCircuitBreaker(cfg.CircuitBreaker, c.clock)
	if c.metrics != nil {
		c.breaker.OnStateChange(func(s BreakerState) {
			c.metrics.SetBackendCircuitBreakerState(float64(s))
		})
	}
	return c
}

// Breaker exposes the client's circuit breaker.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

// HealthCheck reports the reporting API as unhealthy while the breaker is open.
func (c *Client) HealthCheck(_ context.Context) error {
	if c.breaker.State() == BreakerOpen {
		return errors.New("reporting: circuit breaker open")
	}
	return nil
}

// Get fetches endpoint with params and decodes the JSON body into dest.
// Failures are returned as *model.ErrorEnvelope: BACKEND_TIMEOUT,
// BACKEND_UNAVAILABLE (connection failure or open breaker) or
// BACKEND_ERROR carrying the upstream status.
func (c *Client) Get(ctx context.Context, rctx *model.RequestContext, endpoint string, params model.Params, dest any) error {
	ctx, span := observability.StartClientSpan(ctx, endpoint)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	reqURL := c.baseURL + endpoint
	if q := params.Encode(); q != "" {
		reqURL += "?" + q
	}
	headers := c.buildHeaders(ctx, rctx)

	var body []byte
	body, err = c.executeWithRetry(ctx, endpoint, reqURL, headers)
	if err != nil {
		return err
	}
	if dest == nil || len(body) == 0 {
		return nil
	}
	if uerr := json.Unmarshal(body, dest); uerr != nil {
		err = model.NewBackendError(http.StatusBadGateway, "malformed response body")
		c.loggerFor(ctx).Warn("reporting: decode response",
			zap.String("endpoint", endpoint),
			zap.Error(uerr),
		)
		return err
	}
	return nil
}

func (c *Client) executeWithRetry(ctx context.Context, endpoint, reqURL string, headers http.Header) ([]byte, error) {
	maxAttempts := c.retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if c.metrics != nil {
				c.metrics.RecordBackendRetry(endpoint)
			}
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("reporting: %s: %w", endpoint, ctx.Err())
			case <-c.clock.After(calculateBackoff(c.retry, attempt)):
			}
		}

		body, status, retryable, err := c.executeOnce(ctx, endpoint, reqURL, headers)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		c.loggerFor(ctx).Debug("reporting: retrying",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt+1),
			zap.Int("max", maxAttempts),
			zap.Int("status", status),
		)
	}
	return nil, lastErr
}

// executeOnce performs one request. status is 0 when no response arrived.
// An open breaker, a limiter rejection and a cancelled context are never
// retryable.
func (c *Client) executeOnce(
	ctx context.Context,
	endpoint, reqURL string,
	headers http.Header,
) (body []byte, status int, retryable bool, err error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, 0, false, model.NewBackendUnavailableError()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, 0, false, fmt.Errorf("reporting: %s: %w", endpoint, ctx.Err())
		}
		return nil, 0, false, model.NewRateLimitedError()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, false, fmt.Errorf("reporting: build request: %w", err)
	}
	req.Header = headers.Clone()

	start := c.clock.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		c.record(endpoint, 0, start)
		c.loggerFor(ctx).Error("reporting: request failed",
			zap.String("endpoint", endpoint),
			zap.Error(err),
		)
		classified := classifyTransportError(ctx, err)
		return nil, 0, model.IsCode(classified, model.ErrBackendTimeout) ||
			model.IsCode(classified, model.ErrBackendUnavailable), classified
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, c.maxBytes))
	c.record(endpoint, resp.StatusCode, start)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, resp.StatusCode, true, model.NewBackendUnavailableError()
	}

	switch {
	case resp.StatusCode >= 500:
		c.breaker.RecordFailure()
	default:
		// 4xx responses say nothing about upstream health.
		c.breaker.RecordSuccess()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := errorDetail(body)
		c.loggerFor(ctx).Warn("reporting: non-2xx response",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.String("detail", detail),
		)
		// Server-side details stay in the log.
		if resp.StatusCode >= 500 {
			detail = ""
		}
		return nil, resp.StatusCode, isRetryableStatus(resp.StatusCode),
			model.NewBackendError(resp.StatusCode, detail)
	}
	return body, resp.StatusCode, false, nil
}

func (c *Client) buildHeaders(ctx context.Context, rctx *model.RequestContext) http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json")

	token, scheme := c.serviceToken, c.authScheme
	if rctx != nil {
		if c.forwardUserToken && rctx.Token != "" {
			token, scheme = rctx.Token, "Bearer"
		}
		if rctx.CorrelationID != "" {
			h.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
		}
		if rctx.SubjectID != "" {
			h.Set("X-Request-Subject", sanitizeHeader(rctx.SubjectID))
		}
	}
	if token != "" {
		h.Set("Authorization", scheme+" "+sanitizeHeader(token))
	}
	observability.InjectTraceHeaders(ctx, h)
	return h
}

func (c *Client) record(endpoint string, status int, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordBackendRequest(endpoint, status, c.clock.Since(start))
	}
}

func (c *Client) loggerFor(ctx context.Context) *zap.Logger {
	return observability.LoggerFrom(ctx, c.logger)
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

// errorDetail extracts a short message from an error body. The reporting
// API answers with {"detail": "..."} for most failures.
func errorDetail(body []byte) string {
	var payload struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Detail != "" {
			return payload.Detail
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewBackendTimeoutError()
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return fmt.Errorf("reporting: %w", ctx.Err())
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.NewBackendTimeoutError()
	}
	if isConnectionError(err) {
		return model.NewBackendUnavailableError()
	}
	return fmt.Errorf("reporting: request failed: %w", err)
}

func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func calculateBackoff(cfg config.RetryConfig, attempt int) time.Duration {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}

	delay := cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.BackoffMax {
			return cfg.BackoffMax
		}
	}
	return delay
}
