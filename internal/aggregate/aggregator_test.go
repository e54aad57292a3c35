package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/clubpulse/internal/daterange"
	"github.com/pitabwire/clubpulse/internal/query"
	"github.com/pitabwire/clubpulse/internal/reporting"
	"github.com/pitabwire/clubpulse/model"
)

// fakeReporting answers Get from canned JSON bodies keyed by endpoint.
type fakeReporting struct {
	mu       sync.Mutex
	bodies   map[string]string
	failures map[string]error
	calls    []string
	params   map[string]model.Params
}

func newFakeReporting(bodies map[string]string) *fakeReporting {
	return &fakeReporting{
		bodies:   bodies,
		failures: map[string]error{},
		params:   map[string]model.Params{},
	}
}

func (f *fakeReporting) Get(_ context.Context, _ *model.RequestContext, endpoint string, params model.Params, dest any) error {
	f.mu.Lock()
	f.calls = append(f.calls, endpoint)
	f.params[endpoint] = params.Clone()
	err := f.failures[endpoint]
	body, ok := f.bodies[endpoint]
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if !ok {
		body = "{}"
	}
	return json.Unmarshal([]byte(body), dest)
}

func (f *fakeReporting) sortedCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.calls...)
	sort.Strings(out)
	return out
}

type staticCategories struct {
	cats  model.PipelineCategoryMap
	err   error
	calls int
}

func (s *staticCategories) PipelineCategories(context.Context, *model.RequestContext) (model.PipelineCategoryMap, error) {
	s.calls++
	return s.cats, s.err
}

type loadRecord struct {
	section string
	err     error
}

type fakeRecorder struct{ loads []loadRecord }

func (r *fakeRecorder) RecordSectionLoad(section string, err error, _ time.Duration) {
	r.loads = append(r.loads, loadRecord{section, err})
}

var testNow = time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

func newTestAggregator(client reporting.Getter, cats CategorySource, opts ...Option) *Aggregator {
	clock := clockwork.NewFakeClockAt(testNow)
	builder := query.NewBuilder(daterange.NewCalculator(clock, time.UTC))
	return New(client, builder, cats, append([]Option{WithClock(clock)}, opts...)...)
}

func salesBodies() map[string]string {
	return map[string]string{
		reporting.EndpointValidLeadSources: `["Walk-in", "Facebook", null]`,
		reporting.EndpointSalesMetrics: `{"total_leads": 200, "total_njms": "37", "contacted_leads": 150,
			"online_njms": 12, "offline_njms": 25, "total_agreements": 30, "total_revenue": "1,250.50"}`,
		reporting.EndpointAppointmentStats: `{"total_appointments": 80, "showed": 60, "no_show": null}`,
		reporting.EndpointBreakdownData:    `{"lead_sources": {"Walk-in": 3, "Facebook": 1}, "njm_sources": {}}`,
		reporting.EndpointTrendData: `{"daily": [{"period": "2024-03-14", "leads": 4, "appointments": 2, "njms": 1},
			{"period": "2024-03-15", "leads": "6"}], "weekly": [], "monthly": null}`,
	}
}

func TestLoadSection_salesIssuesFiveFetchesAndDerivesRatios(t *testing.T) {
	client := newFakeReporting(salesBodies())
	rec := &fakeRecorder{}
	agg := newTestAggregator(client, nil, WithMetrics(rec))

	snap, err := agg.LoadSection(context.Background(), nil, model.DefaultFilters(model.Last30Days), model.SectionSales)
	require.NoError(t, err)

	assert.Equal(t, []string{
		reporting.EndpointAppointmentStats,
		reporting.EndpointBreakdownData,
		reporting.EndpointSalesMetrics,
		reporting.EndpointTrendData,
		reporting.EndpointValidLeadSources,
	}, client.sortedCalls())

	require.NotNil(t, snap.Sales)
	assert.Equal(t, model.SectionSales, snap.Section)
	assert.Equal(t, testNow, snap.LoadedAt)
	assert.Equal(t, []string{"Walk-in", "Facebook"}, snap.ValidLeadSources)
	assert.Equal(t, 18.5, snap.Sales.LeadToSaleRatio)
	assert.Equal(t, 40.0, snap.Sales.LeadToAppointmentRatio)
	assert.Equal(t, 46.25, snap.Sales.AppointmentToSaleRatio)
	assert.Equal(t, 53.33, snap.Sales.ContactedToAppointmentRatio)
	assert.Equal(t, 75.0, snap.Sales.ShowedRatio)
	assert.Equal(t, 81.08, snap.Sales.AgreementToNJMRatio)
	assert.Equal(t, 32.43, snap.Sales.OnlineShare)
	assert.Equal(t, 1250.5, snap.Sales.TotalRevenue)
	assert.Equal(t, 0.0, snap.Sales.AppointmentsNoShow)

	require.NotNil(t, snap.Breakdowns)
	assert.Equal(t, []model.BreakdownItem{
		{Name: "Walk-in", Value: 3, Percentage: 75},
		{Name: "Facebook", Value: 1, Percentage: 25},
	}, snap.Breakdowns.LeadSources)
	assert.Empty(t, snap.Breakdowns.NJMSources)

	require.NotNil(t, snap.Trends)
	assert.Equal(t, model.TrendTotals{Leads: 10, Appointments: 2, NJMs: 1, Periods: 2}, snap.Trends.Daily)
	assert.Equal(t, model.TrendTotals{}, snap.Trends.Monthly)

	assert.Nil(t, snap.Onboarding)
	assert.Nil(t, snap.Defaulters)
	require.Len(t, rec.loads, 1)
	assert.Equal(t, "sales", rec.loads[0].section)
	assert.NoError(t, rec.loads[0].err)
}

func TestLoadSection_everyFetchSharesTheSameParams(t *testing.T) {
	client := newFakeReporting(salesBodies())
	agg := newTestAggregator(client, nil)

	f := model.DefaultFilters(model.Last7Days)
	f.Country = model.NewSelection("ph", "id")
	_, err := agg.LoadSection(context.Background(), nil, f, model.SectionSales)
	require.NoError(t, err)

	want := "country=ph,id&raw_created_at_max=2024-03-15&raw_created_at_min=2024-03-08"
	for ep, p := range client.params {
		assert.Equal(t, want, p.Encode(), "params for %s", ep)
	}
}

func TestLoadSection_singleEndpointSections(t *testing.T) {
	tests := []struct {
		section  model.Section
		endpoint string
	}{
		{model.SectionOnboarding, reporting.EndpointOnboarding},
		{model.SectionDefaulters, reporting.EndpointDefaulters},
		{model.SectionRegional, reporting.EndpointLocationStats},
	}
	for _, tt := range tests {
		t.Run(string(tt.section), func(t *testing.T) {
			client := newFakeReporting(nil)
			agg := newTestAggregator(client, nil)

			_, err := agg.LoadSection(context.Background(), nil, model.DefaultFilters(model.Last30Days), tt.section)
			require.NoError(t, err)

			want := []string{tt.endpoint, reporting.EndpointValidLeadSources}
			sort.Strings(want)
			assert.Equal(t, want, client.sortedCalls())
		})
	}
}

func TestLoadSection_onboardingAndDefaulters(t *testing.T) {
	client := newFakeReporting(map[string]string{
		reporting.EndpointOnboarding: `{"total_members": 40, "completed": 30, "in_progress": 6, "pending": 4,
			"types": {"Gym": 20, "Pool": 20}}`,
		reporting.EndpointDefaulters: `{"total_defaulters": 8, "ptp_count": 2, "recovered_count": "3",
			"outstanding_amount": 1000, "statuses": {"Paid": 0, "PTP": 0}}`,
		reporting.EndpointValidLeadSources: `{"lead_sources": ["Walk-in"]}`,
	})
	agg := newTestAggregator(client, nil)

	snap, err := agg.LoadSection(context.Background(), nil, model.DefaultFilters(model.Last30Days), model.SectionOnboarding)
	require.NoError(t, err)
	require.NotNil(t, snap.Onboarding)
	assert.Equal(t, 75.0, snap.Onboarding.CompletionRate)
	assert.Equal(t, []model.BreakdownItem{
		{Name: "Gym", Value: 20, Percentage: 50},
		{Name: "Pool", Value: 20, Percentage: 50},
	}, snap.Onboarding.Types)
	assert.Equal(t, []string{"Walk-in"}, snap.ValidLeadSources)

	snap, err = agg.LoadSection(context.Background(), nil, model.DefaultFilters(model.Last30Days), model.SectionDefaulters)
	require.NoError(t, err)
	require.NotNil(t, snap.Defaulters)
	assert.Equal(t, 25.0, snap.Defaulters.PTPRate)
	assert.Equal(t, 37.5, snap.Defaulters.RecoveryRate)
	assert.Empty(t, snap.Defaulters.Statuses, "all-zero breakdowns are empty")
}

func TestLoadSection_regionalLocations(t *testing.T) {
	client := newFakeReporting(map[string]string{
		reporting.EndpointLocationStats: `{"results": [
			{"location_id": 7, "name": "Makati", "country": "PH", "leads": 10, "njms": 4},
			{"id": "x", "location_name": "Jakarta"}]}`,
	})
	agg := newTestAggregator(client, nil)

	snap, err := agg.LoadSection(context.Background(), nil, model.DefaultFilters(model.Last30Days), model.SectionRegional)
	require.NoError(t, err)
	require.Len(t, snap.Locations, 2)
	assert.Equal(t, model.LocationStats{
		LocationID: "7", Name: "Makati", Country: "PH", Leads: 10, NJMs: 4, ConversionRate: 40,
	}, snap.Locations[0])
	assert.Equal(t, "x", snap.Locations[1].LocationID)
	assert.Equal(t, "Jakarta", snap.Locations[1].Name)
	assert.Equal(t, "-", snap.Locations[1].Country)
	assert.Empty(t, snap.ValidLeadSources)
}

func TestLoadSection_anyFailureFailsTheBatch(t *testing.T) {
	client := newFakeReporting(salesBodies())
	client.failures[reporting.EndpointTrendData] = model.NewBackendError(500, "boom")
	rec := &fakeRecorder{}
	agg := newTestAggregator(client, nil, WithMetrics(rec))

	snap, err := agg.LoadSection(context.Background(), nil, model.DefaultFilters(model.Last30Days), model.SectionSales)

	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.ErrBackendError))
	assert.Equal(t, model.Snapshot{}, snap, "no partial snapshot")
	require.Len(t, rec.loads, 1)
	assert.Error(t, rec.loads[0].err)
}

func TestLoadSection_unknownSection(t *testing.T) {
	client := newFakeReporting(nil)
	agg := newTestAggregator(client, nil)

	_, err := agg.LoadSection(context.Background(), nil, model.DefaultFilters(model.Last30Days), "finance")
	assert.True(t, model.IsCode(err, model.ErrBadRequest))
	assert.Empty(t, client.sortedCalls())
}

func TestLoadSection_pipelineFilterConsultsCategories(t *testing.T) {
	client := newFakeReporting(nil)
	cats := &staticCategories{cats: model.PipelineCategoryMap{"Sales": {"Sales Pipeline", "Corporate"}}}
	agg := newTestAggregator(client, cats)

	_, err := agg.LoadSection(context.Background(), nil, model.DefaultFilters(model.Last30Days), model.SectionOnboarding)
	require.NoError(t, err)
	assert.Equal(t, 0, cats.calls, "unrestricted pipeline filter needs no categories")

	f := model.DefaultFilters(model.Last30Days)
	f.Pipeline = model.NewSelection("Sales")
	_, err = agg.LoadSection(context.Background(), nil, f, model.SectionOnboarding)
	require.NoError(t, err)
	assert.Equal(t, 1, cats.calls)
	assert.Equal(t, []string{"Sales Pipeline", "Corporate"}, client.params[reporting.EndpointOnboarding][query.ParamPipelineName])
}

func TestLoadSection_categoryFailureDegrades(t *testing.T) {
	client := newFakeReporting(nil)
	cats := &staticCategories{err: errors.New("lookup down")}
	agg := newTestAggregator(client, cats)

	f := model.DefaultFilters(model.Last30Days)
	f.Pipeline = model.NewSelection("Sales")
	_, err := agg.LoadSection(context.Background(), nil, f, model.SectionDefaulters)

	require.NoError(t, err)
	assert.False(t, client.params[reporting.EndpointDefaulters].Has(query.ParamPipelineName))
}

func TestLoadLocationWise(t *testing.T) {
	client := newFakeReporting(map[string]string{
		reporting.EndpointLocationWise: `[{"location_id": "1", "name": "BGC", "country": "PH", "leads": "20", "njms": 5, "revenue": 900}]`,
	})
	agg := newTestAggregator(client, nil)

	rows, err := agg.LoadLocationWise(context.Background(), nil, model.DefaultFilters(model.Last30Days))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 25.0, rows[0].ConversionRate)
	assert.Equal(t, 900.0, rows[0].Revenue)
	assert.Equal(t, []string{reporting.EndpointLocationWise}, client.sortedCalls())
}

func TestLoadLocationWise_error(t *testing.T) {
	client := newFakeReporting(nil)
	client.failures[reporting.EndpointLocationWise] = model.NewBackendUnavailableError()
	agg := newTestAggregator(client, nil)

	_, err := agg.LoadLocationWise(context.Background(), nil, model.DefaultFilters(model.Last30Days))
	assert.True(t, model.IsCode(err, model.ErrBackendUnavailable))
}
