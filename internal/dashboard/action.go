package dashboard

import (
	"github.com/pitabwire/clubpulse/internal/drilldown"
	"github.com/pitabwire/clubpulse/model"
)

// ActionType names a state transition.
type ActionType string

// Browser actions.
const (
	ActionSetPendingSelection ActionType = "set_pending_selection"
	ActionTogglePending       ActionType = "toggle_pending"
	ActionSetPendingDateRange ActionType = "set_pending_date_range"
	ActionDiscardPending      ActionType = "discard_pending"
	ActionApplyFilters        ActionType = "apply_filters"
	ActionResetFilters        ActionType = "reset_filters"
	ActionSelectSection       ActionType = "select_section"
	ActionReload              ActionType = "reload"
	ActionOpenDrilldown       ActionType = "open_drilldown"
	ActionOpenTabbedDrilldown ActionType = "open_tabbed_drilldown"
	ActionSelectTab           ActionType = "select_tab"
	ActionChangePage          ActionType = "change_page"
	ActionChangeTabPage       ActionType = "change_tab_page"
	ActionCloseDrilldown      ActionType = "close_drilldown"
)

// Completions produced by the service once an effect has run. Browsers
// cannot dispatch these.
const (
	ActionSectionLoaded   ActionType = "section_loaded"
	ActionSectionFailed   ActionType = "section_failed"
	ActionDrilldownLoaded ActionType = "drilldown_loaded"
	ActionDrilldownFailed ActionType = "drilldown_failed"
)

// Internal reports whether t is a completion.
func (t ActionType) Internal() bool {
	switch t {
	case ActionSectionLoaded, ActionSectionFailed, ActionDrilldownLoaded, ActionDrilldownFailed:
		return true
	}
	return false
}

// Action is one dispatched transition. Only the fields relevant to Type are
// read.
type Action struct {
	Type ActionType `json:"type" validate:"required"`

	Field     model.FilterField `json:"field,omitempty"`
	Values    []string          `json:"values,omitempty"`
	Value     string            `json:"value,omitempty"`
	DateRange model.DateRange   `json:"date_range,omitempty"`
	StartDate *string           `json:"custom_start_date,omitempty"`
	EndDate   *string           `json:"custom_end_date,omitempty"`

	Section model.Section `json:"section,omitempty"`

	MetricType    model.MetricTypeID `json:"metric_type,omitempty"`
	Composite     model.CompositeID  `json:"composite,omitempty"`
	Title         string             `json:"title,omitempty"`
	ExpectedCount int                `json:"expected_count,omitempty"`
	ExtraParams   model.Params       `json:"extra_params,omitempty"`
	Tab           int                `json:"tab,omitempty"`
	Page          int                `json:"page,omitempty"`

	completion *completion
}

// completion carries the outcome of an effect back into the reducer.
type completion struct {
	generation    int64
	tabGeneration int64
	mode          string
	tab           int
	snapshot      *model.Snapshot
	page          model.OpportunityPage
	tabs          []model.DrilldownTab
	err           string
}

// EffectKind names the fetch a reduction asks for.
type EffectKind int

// Effect kinds.
const (
	EffectNone EffectKind = iota
	EffectLoadSection
	EffectFetchPage
	EffectFetchTabs
	EffectFetchTab
)

// String returns the metrics label for k.
func (k EffectKind) String() string {
	switch k {
	case EffectLoadSection:
		return "section"
	case EffectFetchPage:
		return drilldown.ModeFlat
	case EffectFetchTabs:
		return drilldown.ModeTabs
	case EffectFetchTab:
		return drilldown.ModeTab
	}
	return "none"
}

// Effect describes the work to run after a reduction has been persisted.
// Stale is set when the reduction discarded an outdated completion.
type Effect struct {
	Kind          EffectKind
	Generation    int64
	TabGeneration int64
	Filters       model.FilterState
	Section       model.Section
	MetricType    model.MetricTypeID
	Composite     model.CompositeID
	ExtraParams   model.Params
	Page          int
	Pages         map[model.Role]int
	Tab           int
	Side          drilldown.Side
	Stale         bool
}

func sectionLoaded(gen int64, snap model.Snapshot) Action {
	return Action{Type: ActionSectionLoaded, completion: &completion{generation: gen, snapshot: &snap}}
}

func sectionFailed(gen int64, msg string) Action {
	return Action{Type: ActionSectionFailed, completion: &completion{generation: gen, err: msg}}
}

func pageLoaded(gen int64, p model.OpportunityPage) Action {
	return Action{Type: ActionDrilldownLoaded, completion: &completion{
		generation: gen, mode: drilldown.ModeFlat, page: p,
	}}
}

func tabsLoaded(gen int64, tabs []model.DrilldownTab) Action {
	return Action{Type: ActionDrilldownLoaded, completion: &completion{
		generation: gen, mode: drilldown.ModeTabs, tabs: tabs,
	}}
}

func tabLoaded(gen, tabGen int64, tab int, t model.DrilldownTab) Action {
	return Action{Type: ActionDrilldownLoaded, completion: &completion{
		generation: gen, tabGeneration: tabGen, mode: drilldown.ModeTab, tab: tab,
		tabs: []model.DrilldownTab{t},
	}}
}

func drilldownFailed(eff Effect, msg string) Action {
	return Action{Type: ActionDrilldownFailed, completion: &completion{
		generation:    eff.Generation,
		tabGeneration: eff.TabGeneration,
		mode:          eff.Kind.String(),
		tab:           eff.Tab,
		err:           msg,
	}}
}
