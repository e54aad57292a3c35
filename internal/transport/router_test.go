package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pitabwire/clubpulse/internal/config"
	"github.com/pitabwire/clubpulse/internal/dashboard"
	"github.com/pitabwire/clubpulse/internal/export"
	"github.com/pitabwire/clubpulse/internal/observability"
	"github.com/pitabwire/clubpulse/model"
)

// testDeps returns Dependencies with sensible defaults for testing.
func testDeps() Dependencies {
	cfg := config.Defaults()
	cfg.Server.CORS.AllowedOrigins = []string{"https://app.example.com"}
	cfg.Server.HandlerTimeout = 5 * time.Second
	return Dependencies{Config: cfg}
}

type fakeDashboard struct {
	states     map[string]dashboard.State
	dispatched []dashboard.Action
	locations  []model.LocationStats
}

func newFakeDashboard() *fakeDashboard {
	return &fakeDashboard{states: map[string]dashboard.State{}}
}

func (f *fakeDashboard) lookup(rctx *model.RequestContext, id string) (dashboard.State, error) {
	st, ok := f.states[id]
	if !ok || st.OwnerID != rctx.SubjectID {
		return dashboard.State{}, model.NewNotFoundError("session not found")
	}
	return st, nil
}

func (f *fakeDashboard) Create(_ context.Context, rctx *model.RequestContext) (dashboard.State, error) {
	st := dashboard.NewState("s-1", rctx.SubjectID, model.DateRange(""), model.SectionSales)
	f.states[st.ID] = st
	return st, nil
}

func (f *fakeDashboard) Get(_ context.Context, rctx *model.RequestContext, id string) (dashboard.State, error) {
	return f.lookup(rctx, id)
}

func (f *fakeDashboard) Delete(_ context.Context, rctx *model.RequestContext, id string) error {
	if _, err := f.lookup(rctx, id); err != nil {
		return err
	}
	delete(f.states, id)
	return nil
}

func (f *fakeDashboard) Dispatch(_ context.Context, rctx *model.RequestContext, id string, action dashboard.Action) (dashboard.State, error) {
	st, err := f.lookup(rctx, id)
	if err != nil {
		return st, err
	}
	f.dispatched = append(f.dispatched, action)
	st.Version++
	f.states[id] = st
	return st, nil
}

func (f *fakeDashboard) LocationWise(_ context.Context, rctx *model.RequestContext, id string) ([]model.LocationStats, error) {
	if _, err := f.lookup(rctx, id); err != nil {
		return nil, err
	}
	return f.locations, nil
}

type fakeLookups struct{ lastQ string }

func (f *fakeLookups) Get(_ context.Context, _ *model.RequestContext, lookupID, q string) (model.LookupResponse, error) {
	if lookupID != "locations" {
		return model.LookupResponse{}, model.NewNotFoundError("unknown lookup")
	}
	f.lastQ = q
	return model.LookupResponse{Data: model.LookupPayload{Options: []model.OptionDescriptor{{Label: "Makati", Value: "loc-1"}}}}, nil
}

type fakeExporter struct {
	filters model.FilterState
	req     export.Request
}

func (f *fakeExporter) Export(_ context.Context, _ *model.RequestContext, filters model.FilterState, req export.Request) (model.ExportResult, error) {
	f.filters = filters
	f.req = req
	return model.ExportResult{FileURL: "https://files.example.com/x.csv", TimeTakenSeconds: 1.5}, nil
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// --- Router tests ---

func TestNewRouter_health(t *testing.T) {
	r := NewRouter(testDeps())
	w := serve(r, "GET", "/ui/health", "")

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestNewRouter_ready(t *testing.T) {
	r := NewRouter(testDeps())
	w := serve(r, "GET", "/ui/ready", "")

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestNewRouter_metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	deps := testDeps()
	deps.Metrics = observability.InitMetrics(reg)
	deps.Gatherer = reg
	r := NewRouter(deps)

	serve(r, "GET", "/ui/health", "")
	w := serve(r, "GET", "/metrics", "")

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "clubpulse_") {
		t.Error("metrics output should contain clubpulse_ series")
	}
}

func TestNewRouter_metricsAbsentWithoutGatherer(t *testing.T) {
	r := NewRouter(testDeps())
	w := serve(r, "GET", "/metrics", "")

	if w.Code == 200 {
		t.Error("metrics endpoint should not be registered without a gatherer")
	}
}

func TestNewRouter_authenticatedRoutesRejectWithoutToken(t *testing.T) {
	deps := testDeps()
	deps.Authenticate = JWTAuthenticator(testIdentityCfg(), testSecret)
	deps.Dashboard = newFakeDashboard()
	deps.Lookups = &fakeLookups{}
	r := NewRouter(deps)

	routes := []struct{ method, path string }{
		{"POST", "/ui/sessions"},
		{"GET", "/ui/sessions/s-1"},
		{"DELETE", "/ui/sessions/s-1"},
		{"POST", "/ui/sessions/s-1/actions"},
		{"GET", "/ui/sessions/s-1/locations"},
		{"GET", "/ui/lookups/locations"},
	}
	for _, rt := range routes {
		w := serve(r, rt.method, rt.path, "")
		if w.Code != 401 {
			t.Errorf("%s %s: status = %d, want 401", rt.method, rt.path, w.Code)
		}
	}
}

func TestNewRouter_publicRoutesBypassAuth(t *testing.T) {
	deps := testDeps()
	deps.Authenticate = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			WriteError(w, r, model.NewUnauthorizedError("no"))
		})
	}
	r := NewRouter(deps)

	for _, path := range []string{"/ui/health", "/ui/ready"} {
		if w := serve(r, "GET", path, ""); w.Code != 200 {
			t.Errorf("%s: status = %d, want 200", path, w.Code)
		}
	}
}

func TestNewRouter_sessionFlow(t *testing.T) {
	dash := newFakeDashboard()
	dash.locations = []model.LocationStats{{LocationID: "loc-1", Name: "Makati", Leads: 12}}
	deps := testDeps()
	deps.Dashboard = dash
	r := NewRouter(deps)

	w := serve(r, "POST", "/ui/sessions", "")
	if w.Code != 201 {
		t.Fatalf("create status = %d, want 201", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/ui/sessions/s-1" {
		t.Errorf("Location = %q", loc)
	}

	w = serve(r, "GET", "/ui/sessions/s-1", "")
	if w.Code != 200 {
		t.Fatalf("get status = %d, want 200", w.Code)
	}
	var st dashboard.State
	json.NewDecoder(w.Body).Decode(&st)
	if st.ID != "s-1" || st.OwnerID != "anonymous" {
		t.Errorf("state = %s/%s, want s-1/anonymous", st.ID, st.OwnerID)
	}

	w = serve(r, "POST", "/ui/sessions/s-1/actions", `{"type":"select_section","section":"sales"}`)
	if w.Code != 200 {
		t.Fatalf("dispatch status = %d, want 200", w.Code)
	}
	if len(dash.dispatched) != 1 || dash.dispatched[0].Type != dashboard.ActionSelectSection {
		t.Errorf("dispatched = %+v", dash.dispatched)
	}

	w = serve(r, "GET", "/ui/sessions/s-1/locations", "")
	if w.Code != 200 {
		t.Fatalf("locations status = %d, want 200", w.Code)
	}
	var rows struct {
		Data []model.LocationStats `json:"data"`
	}
	json.NewDecoder(w.Body).Decode(&rows)
	if len(rows.Data) != 1 || rows.Data[0].Name != "Makati" {
		t.Errorf("rows = %+v", rows.Data)
	}

	w = serve(r, "DELETE", "/ui/sessions/s-1", "")
	if w.Code != 204 {
		t.Fatalf("delete status = %d, want 204", w.Code)
	}
	if w = serve(r, "GET", "/ui/sessions/s-1", ""); w.Code != 404 {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
}

func TestNewRouter_dispatchValidation(t *testing.T) {
	dash := newFakeDashboard()
	deps := testDeps()
	deps.Dashboard = dash
	r := NewRouter(deps)
	serve(r, "POST", "/ui/sessions", "")

	if w := serve(r, "POST", "/ui/sessions/s-1/actions", `{"field":"status"}`); w.Code != 400 {
		t.Errorf("missing type: status = %d, want 400", w.Code)
	}
	if w := serve(r, "POST", "/ui/sessions/s-1/actions", `{bad json`); w.Code != 400 {
		t.Errorf("bad json: status = %d, want 400", w.Code)
	}
	if w := serve(r, "POST", "/ui/sessions/unknown/actions", `{"type":"reload"}`); w.Code != 404 {
		t.Errorf("unknown session: status = %d, want 404", w.Code)
	}
	if len(dash.dispatched) != 0 {
		t.Errorf("no action should reach the service, got %d", len(dash.dispatched))
	}
}

func TestNewRouter_export(t *testing.T) {
	dash := newFakeDashboard()
	exp := &fakeExporter{}
	deps := testDeps()
	deps.Dashboard = dash
	deps.Exporter = exp
	r := NewRouter(deps)
	serve(r, "POST", "/ui/sessions", "")

	w := serve(r, "POST", "/ui/sessions/s-1/export", `{"metric_type":"leads"}`)
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var res model.ExportResult
	json.NewDecoder(w.Body).Decode(&res)
	if res.FileURL != "https://files.example.com/x.csv" {
		t.Errorf("file_url = %q", res.FileURL)
	}
	if exp.req.MetricType != "leads" {
		t.Errorf("metric_type = %q, want leads", exp.req.MetricType)
	}
}

func TestNewRouter_exportAbsentWithoutExporter(t *testing.T) {
	deps := testDeps()
	deps.Dashboard = newFakeDashboard()
	r := NewRouter(deps)
	serve(r, "POST", "/ui/sessions", "")

	if w := serve(r, "POST", "/ui/sessions/s-1/export", `{"metric_type":"leads"}`); w.Code == 200 {
		t.Error("export route should not be registered without an exporter")
	}
}

func TestNewRouter_lookup(t *testing.T) {
	lookups := &fakeLookups{}
	deps := testDeps()
	deps.Lookups = lookups
	r := NewRouter(deps)

	w := serve(r, "GET", "/ui/lookups/locations?q=mak", "")
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if lookups.lastQ != "mak" {
		t.Errorf("q = %q, want mak", lookups.lastQ)
	}
	var resp model.LookupResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Data.Options) != 1 || resp.Data.Options[0].Value != "loc-1" {
		t.Errorf("options = %+v", resp.Data.Options)
	}

	if w := serve(r, "GET", "/ui/lookups/nope", ""); w.Code != 404 {
		t.Errorf("unknown lookup: status = %d, want 404", w.Code)
	}
}

func TestNewRouter_corsPreflight(t *testing.T) {
	r := NewRouter(testDeps())

	req := httptest.NewRequest("OPTIONS", "/ui/sessions", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestNewRouter_correlationHeader(t *testing.T) {
	r := NewRouter(testDeps())
	w := serve(r, "GET", "/ui/health", "")

	if w.Header().Get(CorrelationHeader) == "" {
		t.Error("every response should carry a correlation id")
	}
}
