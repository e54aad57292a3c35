package dashboard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/clubpulse/internal/config"
	"github.com/pitabwire/clubpulse/internal/drilldown"
	"github.com/pitabwire/clubpulse/internal/query"
	"github.com/pitabwire/clubpulse/internal/session"
	"github.com/pitabwire/clubpulse/model"
)

type fakeSections struct {
	mu      sync.Mutex
	calls   []model.Section
	err     error
	onLoad  func(call int)
	applied []model.FilterState
}

func (f *fakeSections) LoadSection(_ context.Context, _ *model.RequestContext, filters model.FilterState, section model.Section) (model.Snapshot, error) {
	f.mu.Lock()
	f.calls = append(f.calls, section)
	call := len(f.calls)
	hook := f.onLoad
	err := f.err
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if err != nil {
		return model.Snapshot{}, err
	}
	return model.Snapshot{Section: section, ValidLeadSources: []string{"Walk-in"}}, nil
}

func (f *fakeSections) LoadLocationWise(_ context.Context, _ *model.RequestContext, filters model.FilterState) ([]model.LocationStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, filters)
	return []model.LocationStats{{Name: "Makati"}}, nil
}

type pageCall struct {
	metric model.MetricTypeID
	page   int
}

type fakeDrilldown struct {
	mu        sync.Mutex
	pageCalls []pageCall
	tabsCalls []map[model.Role]int
	tabCalls  []pageCall
	failPage  int
}

func (f *fakeDrilldown) FetchPage(_ context.Context, _ *model.RequestContext, _ model.FilterState, metric model.MetricTypeID, page int, _ model.Params) (model.OpportunityPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCalls = append(f.pageCalls, pageCall{metric, page})
	if page == f.failPage {
		return model.OpportunityPage{}, model.NewBackendUnavailableError()
	}
	return model.OpportunityPage{
		Records:    records(string(metric)+"-p"+string(rune('0'+page)), 10),
		TotalCount: 25,
		Page:       page,
		PageSize:   10,
		TotalPages: 3,
	}, nil
}

func (f *fakeDrilldown) FetchTabs(_ context.Context, _ *model.RequestContext, _ model.FilterState, composite model.CompositeID, pages map[model.Role]int) ([]model.DrilldownTab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tabsCalls = append(f.tabsCalls, pages)
	sides, _ := drilldown.Sides(composite)
	tabs := make([]model.DrilldownTab, len(sides))
	for i, side := range sides {
		tabs[i] = model.DrilldownTab{
			Label:      side.Label,
			MetricType: side.MetricType,
			Role:       side.Role,
			Data:       records(string(side.Role)+"-p1", 10),
			TotalCount: 30,
			Page:       max(pages[side.Role], 1),
			TotalPages: 3,
		}
	}
	return tabs, nil
}

func (f *fakeDrilldown) FetchTab(_ context.Context, _ *model.RequestContext, _ model.FilterState, side drilldown.Side, page int) (model.DrilldownTab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tabCalls = append(f.tabCalls, pageCall{side.MetricType, page})
	return model.DrilldownTab{
		Label:      side.Label,
		MetricType: side.MetricType,
		Role:       side.Role,
		Data:       records(string(side.Role)+"-p2", 10),
		TotalCount: 30,
		Page:       page,
		TotalPages: 3,
	}, nil
}

type fakeRecorder struct {
	mu        sync.Mutex
	actions   map[string]int
	stale     map[string]int
	conflicts int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{actions: map[string]int{}, stale: map[string]int{}}
}

func (r *fakeRecorder) RecordAction(action string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[action]++
}

func (r *fakeRecorder) RecordStaleCompletion(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stale[target]++
}

func (r *fakeRecorder) RecordSessionConflict() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts++
}

// conflictingStore fails the first n updates with a version conflict.
type conflictingStore struct {
	session.Store
	mu sync.Mutex
	n  int
}

func (c *conflictingStore) Update(ctx context.Context, rec session.Record) error {
	c.mu.Lock()
	if c.n > 0 {
		c.n--
		c.mu.Unlock()
		return model.NewConflictError("version moved")
	}
	c.mu.Unlock()
	return c.Store.Update(ctx, rec)
}

type fixture struct {
	svc      *Service
	store    session.Store
	sections *fakeSections
	drill    *fakeDrilldown
	metrics  *fakeRecorder
	rctx     *model.RequestContext
}

func newFixture(t *testing.T, wrap func(session.Store) session.Store) *fixture {
	t.Helper()
	var store session.Store = session.NewMemoryStore(time.Hour, nil)
	if wrap != nil {
		store = wrap(store)
	}
	f := &fixture{
		store:    store,
		sections: &fakeSections{},
		drill:    &fakeDrilldown{},
		metrics:  newFakeRecorder(),
		rctx:     &model.RequestContext{SubjectID: "user-1"},
	}
	f.svc = NewService(store, f.sections, f.drill, config.DashboardConfig{
		PageSize:        10,
		DefaultRange:    model.Last30Days,
		DefaultSection:  model.SectionSales,
		ConflictRetries: 3,
	}, WithMetrics(f.metrics))
	return f
}

func TestService_CreateLoadsDefaultSection(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	st, err := f.svc.Create(ctx, f.rctx)
	require.NoError(t, err)

	assert.True(t, session.ValidID(st.ID))
	assert.Equal(t, "user-1", st.OwnerID)
	assert.Equal(t, model.SectionSales, st.Section)
	assert.False(t, st.Loading)
	require.NotNil(t, st.Snapshot)
	assert.Equal(t, []string{"Walk-in"}, st.Snapshot.ValidLeadSources)
	assert.Equal(t, model.Last30Days, st.Applied.DateRange)
	assert.Equal(t, int64(1), st.Version)

	got, err := f.svc.Get(ctx, f.rctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, st.Snapshot.Section, got.Snapshot.Section)
	assert.Equal(t, st.Version, got.Version)
}

func TestService_ApplyFilters(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	st, err := f.svc.Create(ctx, f.rctx)
	require.NoError(t, err)

	_, err = f.svc.Dispatch(ctx, f.rctx, st.ID, Action{Type: ActionSetPendingSelection, Field: model.FieldCountry, Values: []string{"ph"}})
	require.NoError(t, err)
	assert.Len(t, f.sections.calls, 1, "editing pending must not load")

	st, err = f.svc.Dispatch(ctx, f.rctx, st.ID, Action{Type: ActionApplyFilters})
	require.NoError(t, err)
	assert.Len(t, f.sections.calls, 2)
	assert.Equal(t, []string{"ph"}, st.Applied.Country.Values())
	assert.False(t, st.Loading)

	rows, err := f.svc.LocationWise(ctx, f.rctx, st.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	require.Len(t, f.sections.applied, 1)
	assert.Equal(t, []string{"ph"}, f.sections.applied[0].Country.Values())
}

func TestService_InvalidApplyMakesNoCall(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	st, err := f.svc.Create(ctx, f.rctx)
	require.NoError(t, err)

	_, err = f.svc.Dispatch(ctx, f.rctx, st.ID, Action{Type: ActionSetPendingDateRange, DateRange: model.CustomRange})
	require.NoError(t, err)
	_, err = f.svc.Dispatch(ctx, f.rctx, st.ID, Action{Type: ActionApplyFilters})
	assert.True(t, model.IsCode(err, model.ErrValidationError), "got %v", err)
	assert.Len(t, f.sections.calls, 1)
}

func TestService_SectionFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	st, err := f.svc.Create(ctx, f.rctx)
	require.NoError(t, err)

	f.sections.err = model.NewBackendTimeoutError()
	st, err = f.svc.Dispatch(ctx, f.rctx, st.ID, Action{Type: ActionReload})
	require.NoError(t, err)

	assert.False(t, st.Loading)
	assert.Equal(t, model.HumanMessage(model.NewBackendTimeoutError()), st.Error)
	require.NotNil(t, st.Snapshot, "previous snapshot stays visible")
}

func TestService_TabbedDrilldownPagesOneTab(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	st, err := f.svc.Create(ctx, f.rctx)
	require.NoError(t, err)

	st, err = f.svc.Dispatch(ctx, f.rctx, st.ID, Action{Type: ActionOpenTabbedDrilldown, Composite: drilldown.LeadToSale})
	require.NoError(t, err)
	require.Len(t, f.drill.tabsCalls, 1)
	assert.Equal(t, map[model.Role]int{model.RoleNJM: 1, model.RoleLead: 1}, f.drill.tabsCalls[0])
	require.Len(t, st.Modal.Tabs, 2)
	assert.Equal(t, query.TotalNJMs, st.Modal.Tabs[0].MetricType)
	assert.Equal(t, query.TotalLeads, st.Modal.Tabs[1].MetricType)

	st, err = f.svc.Dispatch(ctx, f.rctx, st.ID, Action{Type: ActionSelectTab, Tab: 1})
	require.NoError(t, err)
	assert.Empty(t, f.drill.tabCalls, "switching tabs must not fetch")

	st, err = f.svc.Dispatch(ctx, f.rctx, st.ID, Action{Type: ActionChangeTabPage, Tab: 0, Page: 2})
	require.NoError(t, err)
	require.Equal(t, []pageCall{{query.TotalNJMs, 2}}, f.drill.tabCalls)
	assert.Len(t, f.drill.tabsCalls, 1)

	assert.Equal(t, "njm-p2-0", st.Modal.Tabs[0].Data[0].ID)
	assert.Equal(t, 2, st.Modal.Tabs[0].Page)
	assert.Equal(t, "lead-p1-0", st.Modal.Tabs[1].Data[0].ID)
	assert.Equal(t, 1, st.Modal.Tabs[1].Page)
	assert.Equal(t, map[model.Role]int{model.RoleNJM: 2, model.RoleLead: 1}, st.Modal.Pages)
	assert.Equal(t, 1, st.Modal.ActiveTab)
}

func TestService_FlatPageFailureKeepsPageOne(t *testing.T) {
	f := newFixture(t, nil)
	f.drill.failPage = 2
	ctx := context.Background()
	st, err := f.svc.Create(ctx, f.rctx)
	require.NoError(t, err)

	st, err = f.svc.Dispatch(ctx, f.rctx, st.ID, Action{Type: ActionOpenDrilldown, MetricType: query.TotalLeads, Title: "Total Leads"})
	require.NoError(t, err)
	require.Len(t, st.Modal.Records, 10)
	firstID := st.Modal.Records[0].ID

	st, err = f.svc.Dispatch(ctx, f.rctx, st.ID, Action{Type: ActionChangePage, Page: 2})
	require.NoError(t, err)

	assert.True(t, st.Modal.Open)
	assert.False(t, st.Modal.Loading)
	assert.NotEmpty(t, st.Modal.Error)
	require.Len(t, st.Modal.Records, 10)
	assert.Equal(t, firstID, st.Modal.Records[0].ID)
}

func TestService_RetriesVersionConflicts(t *testing.T) {
	var cs *conflictingStore
	f := newFixture(t, func(s session.Store) session.Store {
		cs = &conflictingStore{Store: s}
		return cs
	})
	ctx := context.Background()
	st, err := f.svc.Create(ctx, f.rctx)
	require.NoError(t, err)

	cs.n = 2
	st, err = f.svc.Dispatch(ctx, f.rctx, st.ID, Action{Type: ActionTogglePending, Field: model.FieldClub, Value: "c1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, st.Pending.Club.Values())
	assert.Equal(t, 2, f.metrics.conflicts)

	cs.n = 10
	_, err = f.svc.Dispatch(ctx, f.rctx, st.ID, Action{Type: ActionDiscardPending})
	assert.True(t, model.IsCode(err, model.ErrConflict), "got %v", err)
}

func TestService_DiscardsStaleSectionLoad(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	st, err := f.svc.Create(ctx, f.rctx)
	require.NoError(t, err)

	// While the reload triggered below is in flight, the user switches
	// section. The reload finishes last and must not overwrite onboarding.
	f.sections.onLoad = func(call int) {
		if call != 2 {
			return
		}
		_, err := f.svc.Dispatch(ctx, f.rctx, st.ID, Action{Type: ActionSelectSection, Section: model.SectionOnboarding})
		require.NoError(t, err)
	}

	st, err = f.svc.Dispatch(ctx, f.rctx, st.ID, Action{Type: ActionReload})
	require.NoError(t, err)

	assert.Equal(t, model.SectionOnboarding, st.Section)
	require.NotNil(t, st.Snapshot)
	assert.Equal(t, model.SectionOnboarding, st.Snapshot.Section)
	assert.False(t, st.Loading)
	assert.Equal(t, 1, f.metrics.stale["section"])
}

func TestService_RejectsCompletionsAndForeignSessions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	st, err := f.svc.Create(ctx, f.rctx)
	require.NoError(t, err)

	_, err = f.svc.Dispatch(ctx, f.rctx, st.ID, Action{Type: ActionSectionLoaded})
	assert.True(t, model.IsCode(err, model.ErrBadRequest), "got %v", err)

	other := &model.RequestContext{SubjectID: "user-2"}
	_, err = f.svc.Get(ctx, other, st.ID)
	assert.True(t, model.IsCode(err, model.ErrNotFound), "got %v", err)
	_, err = f.svc.Dispatch(ctx, other, st.ID, Action{Type: ActionReload})
	assert.True(t, model.IsCode(err, model.ErrNotFound), "got %v", err)

	_, err = f.svc.Get(ctx, f.rctx, "not-a-session")
	assert.True(t, model.IsCode(err, model.ErrNotFound), "got %v", err)

	require.NoError(t, f.svc.Delete(ctx, f.rctx, st.ID))
	_, err = f.svc.Get(ctx, f.rctx, st.ID)
	assert.True(t, model.IsCode(err, model.ErrNotFound), "got %v", err)
}
