package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"
)

// MockBackend is a configurable HTTP test server that simulates the
// reporting API. Responses are configured per endpoint path and every
// request is recorded for later assertion.
type MockBackend struct {
	t      *testing.T
	server *httptest.Server

	mu         sync.RWMutex
	endpoints  map[string]*endpointConfig
	received   map[string][]*RecordedRequest
	totalCalls int
}

// RecordedRequest captures the details of a request received by the mock backend.
type RecordedRequest struct {
	Method     string
	Path       string
	RawQuery   string
	Query      url.Values
	Headers    http.Header
	ReceivedAt time.Time
}

// endpointConfig holds the configured responses for a single endpoint.
type endpointConfig struct {
	mu        sync.Mutex
	responses []*mockResponse
	current   int
}

type mockResponse struct {
	status    int
	body      any
	delay     time.Duration
	connError bool
	respond   func(r *http.Request) (int, any)
}

// EndpointMock is a builder for configuring mock responses for an endpoint.
type EndpointMock struct {
	backend *MockBackend
	path    string
}

// newMockBackend creates a new mock backend and starts the HTTP test server.
func newMockBackend(t *testing.T) *MockBackend {
	t.Helper()

	mb := &MockBackend{
		t:         t,
		endpoints: make(map[string]*endpointConfig),
		received:  make(map[string][]*RecordedRequest),
	}
	mb.server = httptest.NewServer(http.HandlerFunc(mb.handle))
	t.Cleanup(mb.server.Close)

	return mb
}

// URL returns the base URL of the mock backend server.
func (mb *MockBackend) URL() string {
	return mb.server.URL
}

// OnEndpoint returns a builder for configuring responses for the endpoint path.
func (mb *MockBackend) OnEndpoint(path string) *EndpointMock {
	return &EndpointMock{backend: mb, path: path}
}

// RespondWith configures the endpoint to respond with the given status and
// body. A string or []byte body is written verbatim.
func (em *EndpointMock) RespondWith(status int, body any) *EndpointMock {
	em.backend.addResponse(em.path, &mockResponse{status: status, body: body})
	return em
}

// RespondWithFunc configures the endpoint to compute its response per request.
func (em *EndpointMock) RespondWithFunc(fn func(r *http.Request) (int, any)) *EndpointMock {
	em.backend.addResponse(em.path, &mockResponse{respond: fn})
	return em
}

// RespondWithDelay configures a delayed response to simulate a slow backend.
func (em *EndpointMock) RespondWithDelay(delay time.Duration, status int, body any) *EndpointMock {
	em.backend.addResponse(em.path, &mockResponse{status: status, body: body, delay: delay})
	return em
}

// RespondWithConnectionError configures the endpoint to close the connection
// to simulate a backend failure.
func (em *EndpointMock) RespondWithConnectionError() *EndpointMock {
	em.backend.addResponse(em.path, &mockResponse{connError: true})
	return em
}

func (mb *MockBackend) addResponse(path string, resp *mockResponse) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	cfg, ok := mb.endpoints[path]
	if !ok {
		cfg = &endpointConfig{}
		mb.endpoints[path] = cfg
	}
	cfg.responses = append(cfg.responses, resp)
}

func (mb *MockBackend) handle(w http.ResponseWriter, r *http.Request) {
	rec := &RecordedRequest{
		Method:     r.Method,
		Path:       r.URL.Path,
		RawQuery:   r.URL.RawQuery,
		Query:      r.URL.Query(),
		Headers:    r.Header.Clone(),
		ReceivedAt: time.Now(),
	}

	mb.mu.Lock()
	mb.received[r.URL.Path] = append(mb.received[r.URL.Path], rec)
	mb.totalCalls++
	mb.mu.Unlock()

	resp := mb.nextResponse(r.URL.Path)
	if resp == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail": "mock: no response configured"}`))
		return
	}

	if resp.connError {
		if hj, ok := w.(http.Hijacker); ok {
			conn, _, _ := hj.Hijack()
			if conn != nil {
				conn.Close()
			}
		}
		return
	}

	if resp.delay > 0 {
		select {
		case <-time.After(resp.delay):
		case <-r.Context().Done():
			return
		}
	}

	status, body := resp.status, resp.body
	if resp.respond != nil {
		status, body = resp.respond(r)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	switch b := body.(type) {
	case nil:
	case string:
		_, _ = w.Write([]byte(b))
	case []byte:
		_, _ = w.Write(b)
	default:
		_ = json.NewEncoder(w).Encode(b)
	}
}

func (mb *MockBackend) nextResponse(path string) *mockResponse {
	mb.mu.RLock()
	cfg, ok := mb.endpoints[path]
	mb.mu.RUnlock()
	if !ok {
		return nil
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	if len(cfg.responses) == 0 {
		return nil
	}
	idx := cfg.current
	if idx >= len(cfg.responses) {
		// Repeat the last response for subsequent calls.
		idx = len(cfg.responses) - 1
	} else {
		cfg.current++
	}
	return cfg.responses[idx]
}

// AssertCalled verifies that the endpoint was called the expected number of times.
func (mb *MockBackend) AssertCalled(t *testing.T, path string, expectedCount int) {
	t.Helper()
	mb.mu.RLock()
	actual := len(mb.received[path])
	mb.mu.RUnlock()
	if actual != expectedCount {
		t.Errorf("mock: endpoint %q called %d times, want %d", path, actual, expectedCount)
	}
}

// AssertNotCalled verifies that the endpoint was never called.
func (mb *MockBackend) AssertNotCalled(t *testing.T, path string) {
	t.Helper()
	mb.AssertCalled(t, path, 0)
}

// TotalCalls returns the number of requests received across all endpoints.
func (mb *MockBackend) TotalCalls() int {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return mb.totalCalls
}

// LastRequest returns the last request received for the endpoint, or nil.
func (mb *MockBackend) LastRequest(path string) *RecordedRequest {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	reqs := mb.received[path]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// AllRequests returns all requests received for the endpoint.
func (mb *MockBackend) AllRequests(path string) []*RecordedRequest {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	reqs := mb.received[path]
	copied := make([]*RecordedRequest, len(reqs))
	copy(copied, reqs)
	return copied
}

// ResetRecorded clears recorded requests but keeps configured responses.
func (mb *MockBackend) ResetRecorded() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.received = make(map[string][]*RecordedRequest)
	mb.totalCalls = 0
}

// ResetEndpoint clears recorded requests and configured responses for one endpoint.
func (mb *MockBackend) ResetEndpoint(path string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	delete(mb.endpoints, path)
	delete(mb.received, path)
}
