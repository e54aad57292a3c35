package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// Readiness states.
const (
	StatusReady    = "ready"
	StatusDegraded = "degraded"
	StatusNotReady = "not_ready"
)

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the readiness payload.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Status    string `json:"status"`
	Optional  bool   `json:"optional,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ReadinessChecks holds the dependencies probed by the readiness endpoint.
// Nil checkers are skipped. The session store and the reporting API gate
// readiness; a failing lookup cache only degrades it, since lookups fall
// back to the reporting API.
type ReadinessChecks struct {
	SessionStore HealthChecker
	Reporting    HealthChecker
	LookupCache  HealthChecker
}

type namedCheck struct {
	name     string
	checker  HealthChecker
	optional bool
}

func (c ReadinessChecks) list() []namedCheck {
	all := []namedCheck{
		{"session_store", c.SessionStore, false},
		{"reporting_api", c.Reporting, false},
		{"lookup_cache", c.LookupCache, true},
	}
	out := all[:0]
	for _, nc := range all {
		if nc.checker != nil {
			out = append(out, nc)
		}
	}
	return out
}

const checkTimeout = 2 * time.Second

// HandleHealth answers liveness probes.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealthJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Service: "clubpulse",
			Version: Version,
			Commit:  Commit,
		})
	}
}

// HandleReady runs every check concurrently and answers 503 when a required
// dependency fails.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	list := checks.list()
	return func(w http.ResponseWriter, r *http.Request) {
		results := make(map[string]CheckResult, len(list))
		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		for _, nc := range list {
			wg.Go(func() {
				res := runCheck(r.Context(), nc.checker)
				res.Optional = nc.optional
				mu.Lock()
				results[nc.name] = res
				mu.Unlock()
			})
		}
		wg.Wait()

		status := readinessStatus(results)
		code := http.StatusOK
		if status == StatusNotReady {
			code = http.StatusServiceUnavailable
		}
		writeHealthJSON(w, code, ReadinessResponse{Status: status, Checks: results})
	}
}

func readinessStatus(results map[string]CheckResult) string {
	status := StatusReady
	for _, res := range results {
		if res.Status == "ok" {
			continue
		}
		if !res.Optional {
			return StatusNotReady
		}
		status = StatusDegraded
	}
	return status
}

func runCheck(parent context.Context, checker HealthChecker) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
	}
	return res
}

func writeHealthJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
