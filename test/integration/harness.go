// Package integration provides a reusable test harness for end-to-end
// integration testing of the clubpulse server. It starts a full HTTP server
// wired to a mock reporting API, an in-memory session store and an HS256
// token issuer.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pitabwire/clubpulse/internal/aggregate"
	"github.com/pitabwire/clubpulse/internal/config"
	"github.com/pitabwire/clubpulse/internal/dashboard"
	"github.com/pitabwire/clubpulse/internal/daterange"
	"github.com/pitabwire/clubpulse/internal/drilldown"
	"github.com/pitabwire/clubpulse/internal/export"
	"github.com/pitabwire/clubpulse/internal/lookup"
	"github.com/pitabwire/clubpulse/internal/observability"
	"github.com/pitabwire/clubpulse/internal/query"
	"github.com/pitabwire/clubpulse/internal/reporting"
	"github.com/pitabwire/clubpulse/internal/session"
	"github.com/pitabwire/clubpulse/internal/transport"
)

// Today as seen by the date range calculator in every harness.
var harnessNow = time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

// TestHarness encapsulates a fully wired server with a mock reporting API
// for integration testing.
type TestHarness struct {
	t       *testing.T
	server  *httptest.Server
	issuer  *tokenIssuer
	backend *MockBackend

	// Internal components exposed for advanced test scenarios.
	Store    *session.MemoryStore
	Client   *reporting.Client
	Lookups  *lookup.Provider
	Service  *dashboard.Service
	Metrics  *observability.Metrics
	Registry *prometheus.Registry

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*config.Config)

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *config.Config) { c.Server.HandlerTimeout = d }
}

// WithCircuitBreaker overrides the reporting client's breaker settings.
func WithCircuitBreaker(cb config.CircuitBreakerConfig) HarnessOption {
	return func(c *config.Config) { c.Reporting.CircuitBreaker = cb }
}

// WithRetry overrides the reporting client's retry settings.
func WithRetry(r config.RetryConfig) HarnessOption {
	return func(c *config.Config) { c.Reporting.Retry = r }
}

// WithReportingTimeout sets the per-call reporting API timeout.
func WithReportingTimeout(d time.Duration) HarnessOption {
	return func(c *config.Config) { c.Reporting.Timeout = d }
}

// WithRateLimit sets the inbound per-subject rate limit.
func WithRateLimit(requests int, window time.Duration) HarnessOption {
	return func(c *config.Config) {
		c.Server.RateLimit = config.RateLimitConfig{Enabled: true, Requests: requests, Window: window}
	}
}

// NewTestHarness creates and starts a full server test instance. Default
// reporting responses are installed for every endpoint; tests override
// them through Backend(). The server is cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	h := &TestHarness{
		t:       t,
		issuer:  newTokenIssuer(),
		backend: newMockBackend(t),
	}

	// Step 1: Build config pointing at the mock reporting API.
	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = 10 * time.Second
	cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Server.RateLimit.Enabled = false
	cfg.Identity.Issuer = h.issuer.issuer
	cfg.Identity.Audience = h.issuer.audience
	cfg.Reporting.BaseURL = h.backend.URL()
	cfg.Reporting.Timeout = 5 * time.Second
	cfg.Reporting.Retry = config.RetryConfig{MaxAttempts: 1}
	cfg.Reporting.RateLimit = config.OutboundLimitConfig{}
	cfg.Dashboard.PageSize = 10
	for _, opt := range opts {
		opt(cfg)
	}
	h.cfg = cfg

	// Step 2: Telemetry.
	h.Registry = prometheus.NewRegistry()
	h.Metrics = observability.InitMetrics(h.Registry)

	// Step 3: Reporting client, date ranges and lookups.
	dateClock := clockwork.NewFakeClockAt(harnessNow)
	h.Client = reporting.NewClient(cfg.Reporting, reporting.WithMetrics(h.Metrics))
	builder := query.NewBuilder(daterange.NewCalculator(dateClock, time.UTC))
	h.Lookups = lookup.NewProvider(h.Client, cfg.Lookup.Cache.TTL, cfg.Lookup.Cache.MaxEntries,
		lookup.WithMetrics(h.Metrics),
	)

	// Step 4: Session store and dashboard components.
	h.Store = session.NewMemoryStore(cfg.Session.TTL, clockwork.NewRealClock())
	aggregator := aggregate.New(h.Client, builder, h.Lookups,
		aggregate.WithClock(dateClock),
		aggregate.WithMetrics(h.Metrics),
	)
	controller := drilldown.NewController(h.Client, builder, h.Lookups,
		drilldown.WithPageSize(cfg.Dashboard.PageSize),
		drilldown.WithMetrics(h.Metrics),
	)
	h.Service = dashboard.NewService(h.Store, aggregator, controller, cfg.Dashboard,
		dashboard.WithMetrics(h.Metrics),
	)
	exporter := export.New(h.Client, builder, h.Lookups, export.WithMetrics(h.Metrics))

	// Step 5: Authentication with the issuer's shared secret.
	env := map[string]string{cfg.Identity.SecretEnv: string(h.issuer.secret)}
	authenticate, err := transport.NewAuthenticator(cfg.Identity, func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("build authenticator: %v", err)
	}

	// Step 6: Build router with full middleware chain.
	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Authenticate: authenticate,
		Dashboard:    h.Service,
		Lookups:      h.Lookups,
		Exporter:     exporter,
		Metrics:      h.Metrics,
		Gatherer:     h.Registry,
		Readiness: observability.ReadinessChecks{
			SessionStore: h.Store,
			Reporting:    h.Client,
			LookupCache:  h.Lookups,
		},
	})

	installDefaultResponses(h.backend)

	// Step 7: Start test server.
	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// Backend returns the mock reporting API.
func (h *TestHarness) Backend() *MockBackend {
	return h.backend
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// GenerateForeignToken creates a JWT signed with an unknown secret.
func (h *TestHarness) GenerateForeignToken(claims TestClaims) string {
	return h.issuer.GenerateForeignToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// GETWithHeaders performs an authenticated GET request with additional headers.
func (h *TestHarness) GETWithHeaders(path, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, headers)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("DELETE", path, nil, token, nil)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
		return
	}
	resp.Body.Close()
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// --- Dashboard helpers ---

// CreateSession starts a dashboard session and returns its state.
func (h *TestHarness) CreateSession(t *testing.T, token string) dashboard.State {
	t.Helper()
	var st dashboard.State
	h.AssertJSON(t, h.POST("/ui/sessions", nil, token), http.StatusCreated, &st)
	return st
}

// Dispatch sends an action and returns the resulting state.
func (h *TestHarness) Dispatch(t *testing.T, token, sessionID string, action map[string]any) dashboard.State {
	t.Helper()
	var st dashboard.State
	h.AssertJSON(t, h.POST("/ui/sessions/"+sessionID+"/actions", action, token), http.StatusOK, &st)
	return st
}

// --- Default test claims ---

// ManagerClaims returns TestClaims for a club manager.
func ManagerClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-manager",
		Email:     "manager@club.example.com",
		Roles:     []string{"club_manager"},
	}
}

// AnalystClaims returns TestClaims for a second, unrelated user.
func AnalystClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-analyst",
		Email:     "analyst@club.example.com",
		Roles:     []string{"analyst"},
	}
}

// --- Default reporting responses ---

const (
	salesMetricsBody = `{"total_leads": 200, "total_njms": 37, "contacted_leads": 150,
		"online_njms": 12, "offline_njms": 25, "total_agreements": 30, "total_revenue": "1,250.50"}`
	appointmentStatsBody = `{"total_appointments": 80, "showed": 60, "no_show": 20}`
	breakdownBody        = `{"lead_sources": {"Walk-in": 3, "Facebook": 1}, "njm_sources": {"Walk-in": 2}}`
	trendBody            = `{"daily": [{"period": "2024-03-14", "leads": 4, "appointments": 2, "njms": 1}],
		"weekly": [], "monthly": []}`
	leadSourcesBody   = `["Walk-in", "Facebook"]`
	pipelinesBody     = `{"Sales": ["Sales Pipeline", "Corporate Sales"], "Retention": ["Renewals"]}`
	locationsBody     = `[{"id": 1, "name": "Makati", "country": "ph"}, {"id": 2, "name": "Orchard", "country": "sg"}]`
	locationWiseBody  = `[{"location_id": 1, "location_name": "Makati", "country": "ph", "leads": 12, "appointments": 6, "njms": 3, "revenue": "4,500"}]`
	opportunitiesBody = `{"count": 23, "results": [{"id": 101, "contact": {"first_name": "Ana", "last_name": "Cruz"},
		"stage": {"name": "Won"}, "pipeline": "Sales Pipeline", "monetary_value": "1,500", "created_at": "2024-03-01T08:30:00Z"}]}`
	csvBody = `{"file_url": "https://files.example.com/export.csv", "time_taken_seconds": 1.25}`
)

func installDefaultResponses(mb *MockBackend) {
	mb.OnEndpoint(reporting.EndpointSalesMetrics).RespondWith(http.StatusOK, salesMetricsBody)
	mb.OnEndpoint(reporting.EndpointAppointmentStats).RespondWith(http.StatusOK, appointmentStatsBody)
	mb.OnEndpoint(reporting.EndpointBreakdownData).RespondWith(http.StatusOK, breakdownBody)
	mb.OnEndpoint(reporting.EndpointTrendData).RespondWith(http.StatusOK, trendBody)
	mb.OnEndpoint(reporting.EndpointValidLeadSources).RespondWith(http.StatusOK, leadSourcesBody)
	mb.OnEndpoint(reporting.EndpointPipelineNames).RespondWith(http.StatusOK, pipelinesBody)
	mb.OnEndpoint(reporting.EndpointLocations).RespondWith(http.StatusOK, locationsBody)
	mb.OnEndpoint(reporting.EndpointLocationWise).RespondWith(http.StatusOK, locationWiseBody)
	mb.OnEndpoint(reporting.EndpointOpportunities).RespondWith(http.StatusOK, opportunitiesBody)
	mb.OnEndpoint(reporting.EndpointGenerateCSV).RespondWith(http.StatusOK, csvBody)
	mb.OnEndpoint(reporting.EndpointOnboarding).RespondWith(http.StatusOK, `{}`)
	mb.OnEndpoint(reporting.EndpointDefaulters).RespondWith(http.StatusOK, `{}`)
	mb.OnEndpoint(reporting.EndpointLocationStats).RespondWith(http.StatusOK, `[]`)
}
