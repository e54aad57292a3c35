package dashboard

import (
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/pitabwire/clubpulse/internal/drilldown"
	"github.com/pitabwire/clubpulse/internal/query"
	"github.com/pitabwire/clubpulse/model"
)

func newTestState() State {
	return NewState("s1", "u1", model.Last30Days, model.SectionSales)
}

func mustReduce(t *testing.T, s State, a Action) (State, Effect) {
	t.Helper()
	next, eff, err := Reduce(s, a)
	if err != nil {
		t.Fatalf("Reduce(%s): %v", a.Type, err)
	}
	return next, eff
}

func records(prefix string, n int) []model.Opportunity {
	out := make([]model.Opportunity, n)
	for i := range out {
		out[i] = model.Opportunity{ID: fmt.Sprintf("%s-%d", prefix, i), Name: prefix}
	}
	return out
}

func TestReduce_pendingIsIndependentUntilApplied(t *testing.T) {
	s := newTestState()

	s, eff := mustReduce(t, s, Action{Type: ActionTogglePending, Field: model.FieldCountry, Value: "ph"})
	if eff.Kind != EffectNone {
		t.Errorf("toggle effect = %v, want none", eff.Kind)
	}
	s, _ = mustReduce(t, s, Action{Type: ActionTogglePending, Field: model.FieldCountry, Value: "id"})
	if got := s.Pending.Country.Values(); len(got) != 2 || got[0] != "ph" || got[1] != "id" {
		t.Errorf("pending country = %v, want [ph id]", got)
	}
	if !s.Applied.Country.IsAll() {
		t.Errorf("applied country changed before apply: %v", s.Applied.Country.Values())
	}

	s, eff = mustReduce(t, s, Action{Type: ActionApplyFilters})
	if eff.Kind != EffectLoadSection || eff.Generation != 1 {
		t.Errorf("apply effect = %+v, want section load generation 1", eff)
	}
	if !slices.Equal(eff.Filters.Country.Values(), []string{"ph", "id"}) {
		t.Errorf("effect filters country = %v", eff.Filters.Country.Values())
	}
	if !s.Loading || s.Error != "" {
		t.Errorf("after apply: loading=%v error=%q", s.Loading, s.Error)
	}
	if !slices.Equal(s.Applied.Country.Values(), s.Pending.Country.Values()) {
		t.Error("applied and pending differ after apply")
	}
}

func TestReduce_applyInvalidBlocksLoad(t *testing.T) {
	s := newTestState()
	start := "2024-01-01"
	s, _ = mustReduce(t, s, Action{Type: ActionSetPendingDateRange, DateRange: model.CustomRange, StartDate: &start})

	next, eff, err := Reduce(s, Action{Type: ActionApplyFilters})
	if !model.IsCode(err, model.ErrValidationError) {
		t.Fatalf("apply = %v, want VALIDATION_ERROR", err)
	}
	if eff.Kind != EffectNone {
		t.Errorf("effect = %v, want none", eff.Kind)
	}
	if next.Applied.DateRange != model.Last30Days || next.LoadGeneration != 0 {
		t.Errorf("state changed on failed apply: %+v", next.Applied)
	}
}

func TestReduce_discardAndReset(t *testing.T) {
	s := newTestState()
	s, _ = mustReduce(t, s, Action{Type: ActionSetPendingSelection, Field: model.FieldClub, Values: []string{"c1"}})
	s, _ = mustReduce(t, s, Action{Type: ActionDiscardPending})
	if !s.Pending.Club.IsAll() {
		t.Errorf("discard kept pending club %v", s.Pending.Club.Values())
	}

	s, _ = mustReduce(t, s, Action{Type: ActionSetPendingSelection, Field: model.FieldClub, Values: []string{"c1"}})
	s, _ = mustReduce(t, s, Action{Type: ActionApplyFilters})
	s, eff := mustReduce(t, s, Action{Type: ActionResetFilters})
	if !s.Applied.Club.IsAll() || !s.Pending.Club.IsAll() {
		t.Errorf("reset left club applied=%v pending=%v", s.Applied.Club.Values(), s.Pending.Club.Values())
	}
	if eff.Kind != EffectLoadSection || eff.Generation != 2 {
		t.Errorf("reset effect = %+v, want load generation 2", eff)
	}
}

func TestReduce_rejectsUnknownInput(t *testing.T) {
	s := newTestState()
	cases := []Action{
		{Type: "explode"},
		{Type: ActionSetPendingSelection, Field: "planet", Values: []string{"x"}},
		{Type: ActionTogglePending, Field: "planet", Value: "x"},
		{Type: ActionSetPendingDateRange, DateRange: "forever"},
		{Type: ActionSelectSection, Section: "finance"},
		{Type: ActionOpenDrilldown, MetricType: "mystery"},
		{Type: ActionOpenTabbedDrilldown, Composite: "apples-to-oranges"},
		{Type: ActionSelectTab, Tab: 1},
		{Type: ActionChangePage, Page: 2},
		{Type: ActionSectionLoaded},
	}
	for _, a := range cases {
		if _, _, err := Reduce(s, a); !model.IsCode(err, model.ErrBadRequest) {
			t.Errorf("Reduce(%+v) = %v, want BAD_REQUEST", a, err)
		}
	}
}

func TestReduce_unknownDrilldownListsKnownIDs(t *testing.T) {
	s := newTestState()

	_, _, err := Reduce(s, Action{Type: ActionOpenDrilldown, MetricType: "mystery"})
	if err == nil || !strings.Contains(err.Error(), string(query.TotalLeads)) {
		t.Errorf("unknown metric type error = %v, want the known list", err)
	}

	_, _, err = Reduce(s, Action{Type: ActionOpenTabbedDrilldown, Composite: "apples-to-oranges"})
	if err == nil || !strings.Contains(err.Error(), "lead-to-sale") {
		t.Errorf("unknown composite error = %v, want the known list", err)
	}
}

func TestReduce_staleSectionCompletionIsDiscarded(t *testing.T) {
	s := newTestState()
	s, first := mustReduce(t, s, Action{Type: ActionReload})
	s, second := mustReduce(t, s, Action{Type: ActionSelectSection, Section: model.SectionOnboarding})

	next, eff := mustReduce(t, s, sectionLoaded(first.Generation, model.Snapshot{Section: model.SectionSales}))
	if !eff.Stale {
		t.Error("old generation completion not reported stale")
	}
	if next.Snapshot != nil || !next.Loading {
		t.Errorf("stale completion applied: snapshot=%v loading=%v", next.Snapshot, next.Loading)
	}

	next, eff = mustReduce(t, s, sectionLoaded(second.Generation, model.Snapshot{Section: model.SectionOnboarding}))
	if eff.Stale || next.Loading || next.Snapshot == nil || next.Snapshot.Section != model.SectionOnboarding {
		t.Errorf("current completion: stale=%v loading=%v snapshot=%+v", eff.Stale, next.Loading, next.Snapshot)
	}
}

func TestReduce_sectionFailureKeepsPreviousSnapshot(t *testing.T) {
	s := newTestState()
	s, eff := mustReduce(t, s, Action{Type: ActionReload})
	s, _ = mustReduce(t, s, sectionLoaded(eff.Generation, model.Snapshot{Section: model.SectionSales}))

	s, eff = mustReduce(t, s, Action{Type: ActionReload})
	s, _ = mustReduce(t, s, sectionFailed(eff.Generation, "Failed to load data. Please try again."))
	if s.Loading {
		t.Error("still loading after failure")
	}
	if s.Error == "" {
		t.Error("error not set")
	}
	if s.Snapshot == nil || s.Snapshot.Section != model.SectionSales {
		t.Errorf("previous snapshot dropped: %+v", s.Snapshot)
	}

	s, eff = mustReduce(t, s, Action{Type: ActionReload})
	if s.Error != "" {
		t.Errorf("reload kept error %q", s.Error)
	}
	s, _ = mustReduce(t, s, sectionLoaded(eff.Generation, model.Snapshot{Section: model.SectionSales}))
	if s.Error != "" || s.Loading {
		t.Errorf("after success: error=%q loading=%v", s.Error, s.Loading)
	}
}

func TestReduce_flatPageFailureKeepsStaleRecords(t *testing.T) {
	s := newTestState()
	s, eff := mustReduce(t, s, Action{
		Type:       ActionOpenDrilldown,
		MetricType: query.TotalLeads,
		Title:      "Total Leads",
		Page:       1,
	})
	if eff.Kind != EffectFetchPage || eff.MetricType != query.TotalLeads || eff.Page != 1 {
		t.Fatalf("open effect = %+v", eff)
	}
	if !s.Modal.Open || !s.Modal.Loading {
		t.Fatalf("modal after open = %+v", s.Modal)
	}

	page1 := records("p1", 10)
	s, _ = mustReduce(t, s, pageLoaded(eff.Generation, model.OpportunityPage{
		Records: page1, TotalCount: 25, Page: 1, PageSize: 10, TotalPages: 3,
	}))

	s, eff = mustReduce(t, s, Action{Type: ActionChangePage, Page: 2})
	if eff.Page != 2 || !s.Modal.Loading || len(s.Modal.Records) != 10 {
		t.Fatalf("change_page: effect page %d loading %v records %d", eff.Page, s.Modal.Loading, len(s.Modal.Records))
	}

	s, _ = mustReduce(t, s, drilldownFailed(eff, "Reporting API is temporarily unavailable."))
	if s.Modal.Loading {
		t.Error("modal still loading after failure")
	}
	if s.Modal.Error == "" {
		t.Error("modal error not set")
	}
	if len(s.Modal.Records) != 10 || s.Modal.Records[0].ID != "p1-0" {
		t.Errorf("page-1 records not kept after failed page 2: %v", s.Modal.Records)
	}
	if !s.Modal.Open {
		t.Error("modal closed on failure")
	}
}

func TestReduce_changePageClampsToKnownTotal(t *testing.T) {
	s := newTestState()
	s, eff := mustReduce(t, s, Action{Type: ActionOpenDrilldown, MetricType: query.TotalLeads})
	s, _ = mustReduce(t, s, pageLoaded(eff.Generation, model.OpportunityPage{
		Records: records("p1", 10), TotalCount: 25, Page: 1, TotalPages: 3,
	}))

	_, eff = mustReduce(t, s, Action{Type: ActionChangePage, Page: 9})
	if eff.Page != 3 {
		t.Errorf("page 9 of 3 requested page %d, want 3", eff.Page)
	}
	_, eff = mustReduce(t, s, Action{Type: ActionChangePage, Page: -4})
	if eff.Page != 1 {
		t.Errorf("page -4 requested page %d, want 1", eff.Page)
	}
}

func TestReduce_tabPageChangeTouchesOneTab(t *testing.T) {
	s := newTestState()
	s, eff := mustReduce(t, s, Action{Type: ActionOpenTabbedDrilldown, Composite: drilldown.LeadToSale})
	if eff.Kind != EffectFetchTabs || eff.Pages[model.RoleNJM] != 1 || eff.Pages[model.RoleLead] != 1 {
		t.Fatalf("open effect = %+v", eff)
	}
	if len(s.Modal.Tabs) != 2 || !s.Modal.Tabs[0].Loading {
		t.Fatalf("placeholder tabs = %+v", s.Modal.Tabs)
	}

	s, _ = mustReduce(t, s, tabsLoaded(eff.Generation, []model.DrilldownTab{
		{Label: "NJMs", MetricType: query.TotalNJMs, Role: model.RoleNJM, Data: records("njm", 10), TotalCount: 30, Page: 1, TotalPages: 3},
		{Label: "Leads", MetricType: query.TotalLeads, Role: model.RoleLead, Data: records("lead", 10), TotalCount: 40, Page: 1, TotalPages: 4},
	}))
	if s.Modal.Loading || s.Modal.Tabs[0].Loading {
		t.Error("still loading after tabs loaded")
	}

	s, eff = mustReduce(t, s, Action{Type: ActionSelectTab, Tab: 1})
	if eff.Kind != EffectNone || s.Modal.ActiveTab != 1 {
		t.Errorf("select_tab: effect %v active %d", eff.Kind, s.Modal.ActiveTab)
	}

	s, eff = mustReduce(t, s, Action{Type: ActionChangeTabPage, Tab: 0, Page: 2})
	if eff.Kind != EffectFetchTab || eff.Side.MetricType != query.TotalNJMs || eff.Page != 2 {
		t.Fatalf("change_tab_page effect = %+v", eff)
	}
	if !s.Modal.Tabs[0].Loading || s.Modal.Tabs[1].Loading {
		t.Errorf("loading flags: tab0 %v tab1 %v", s.Modal.Tabs[0].Loading, s.Modal.Tabs[1].Loading)
	}

	s, _ = mustReduce(t, s, tabLoaded(eff.Generation, eff.TabGeneration, eff.Tab, model.DrilldownTab{
		Label: "NJMs", MetricType: query.TotalNJMs, Role: model.RoleNJM, Data: records("njm2", 10), TotalCount: 30, Page: 2, TotalPages: 3,
	}))
	if s.Modal.Tabs[0].Data[0].ID != "njm2-0" || s.Modal.Tabs[0].Page != 2 {
		t.Errorf("tab 0 = page %d first %s", s.Modal.Tabs[0].Page, s.Modal.Tabs[0].Data[0].ID)
	}
	if s.Modal.Tabs[1].Data[0].ID != "lead-0" || s.Modal.Tabs[1].Page != 1 {
		t.Errorf("tab 1 changed: page %d first %s", s.Modal.Tabs[1].Page, s.Modal.Tabs[1].Data[0].ID)
	}
	if s.Modal.Pages[model.RoleNJM] != 2 || s.Modal.Pages[model.RoleLead] != 1 {
		t.Errorf("pages = %v", s.Modal.Pages)
	}
	if s.Modal.ActiveTab != 1 {
		t.Errorf("active tab = %d, want 1", s.Modal.ActiveTab)
	}
}

func TestReduce_staleTabCompletionIsDiscarded(t *testing.T) {
	s := newTestState()
	s, eff := mustReduce(t, s, Action{Type: ActionOpenTabbedDrilldown, Composite: drilldown.OnlineVsOffline})
	s, _ = mustReduce(t, s, tabsLoaded(eff.Generation, []model.DrilldownTab{
		{Role: model.RoleOnline, Data: records("on", 10), Page: 1, TotalPages: 5},
		{Role: model.RoleOffline, Data: records("off", 10), Page: 1, TotalPages: 5},
	}))

	s, older := mustReduce(t, s, Action{Type: ActionChangeTabPage, Tab: 0, Page: 2})
	s, newer := mustReduce(t, s, Action{Type: ActionChangeTabPage, Tab: 0, Page: 3})

	_, eff = mustReduce(t, s, tabLoaded(older.Generation, older.TabGeneration, 0, model.DrilldownTab{Role: model.RoleOnline, Page: 2}))
	if !eff.Stale {
		t.Error("older tab page completion not stale")
	}
	s, eff = mustReduce(t, s, tabLoaded(newer.Generation, newer.TabGeneration, 0, model.DrilldownTab{Role: model.RoleOnline, Page: 3}))
	if eff.Stale || s.Modal.Tabs[0].Page != 3 {
		t.Errorf("newer completion: stale %v page %d", eff.Stale, s.Modal.Tabs[0].Page)
	}
}

func TestReduce_tabFailureScopedToTab(t *testing.T) {
	s := newTestState()
	s, eff := mustReduce(t, s, Action{Type: ActionOpenTabbedDrilldown, Composite: drilldown.LeadToAppointment})
	s, _ = mustReduce(t, s, tabsLoaded(eff.Generation, []model.DrilldownTab{
		{Role: model.RoleAppointment, Data: records("a", 10), Page: 1, TotalPages: 2},
		{Role: model.RoleLead, Data: records("l", 10), Page: 1, TotalPages: 2},
	}))
	s, eff = mustReduce(t, s, Action{Type: ActionChangeTabPage, Tab: 1, Page: 2})
	s, _ = mustReduce(t, s, drilldownFailed(eff, "boom"))

	if s.Modal.Tabs[1].Error != "boom" || s.Modal.Tabs[1].Loading {
		t.Errorf("tab 1 = error %q loading %v", s.Modal.Tabs[1].Error, s.Modal.Tabs[1].Loading)
	}
	if len(s.Modal.Tabs[1].Data) != 10 {
		t.Error("tab 1 data dropped on failure")
	}
	if s.Modal.Tabs[0].Error != "" || s.Modal.Error != "" {
		t.Errorf("failure leaked: tab0 %q modal %q", s.Modal.Tabs[0].Error, s.Modal.Error)
	}
}

func TestReduce_closeInvalidatesInflightFetch(t *testing.T) {
	s := newTestState()
	s, eff := mustReduce(t, s, Action{Type: ActionOpenDrilldown, MetricType: query.TotalLeads})
	s, _ = mustReduce(t, s, Action{Type: ActionCloseDrilldown})
	if s.Modal.Open {
		t.Fatal("modal open after close")
	}

	s, done := mustReduce(t, s, pageLoaded(eff.Generation, model.OpportunityPage{Records: records("x", 1), Page: 1, TotalPages: 1}))
	if !done.Stale || s.Modal.Open || len(s.Modal.Records) != 0 {
		t.Errorf("completion after close: stale %v modal %+v", done.Stale, s.Modal)
	}

	s, eff = mustReduce(t, s, Action{Type: ActionOpenDrilldown, MetricType: query.TotalNJMs})
	if eff.Generation != 3 {
		t.Errorf("reopened modal generation = %d, want 3", eff.Generation)
	}
	if s.Modal.MetricType != query.TotalNJMs {
		t.Errorf("metric type = %s", s.Modal.MetricType)
	}
}

func TestReduce_doesNotAliasInput(t *testing.T) {
	s := newTestState()
	s, _ = mustReduce(t, s, Action{Type: ActionOpenTabbedDrilldown, Composite: drilldown.LeadToSale})

	_, _ = mustReduce(t, s, Action{Type: ActionChangeTabPage, Tab: 0, Page: 2})
	if s.Modal.Pages[model.RoleNJM] != 1 || s.Modal.Tabs[0].Page != 1 {
		t.Errorf("input state mutated: pages %v tab page %d", s.Modal.Pages, s.Modal.Tabs[0].Page)
	}
}
