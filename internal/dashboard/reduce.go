package dashboard

import (
	"fmt"
	"strings"

	"github.com/pitabwire/clubpulse/internal/drilldown"
	"github.com/pitabwire/clubpulse/internal/query"
	"github.com/pitabwire/clubpulse/model"
)

// Reduce applies action to state and returns the new state together with
// the fetch to run next. It performs no I/O. On error the input state is
// returned unchanged and no effect is requested.
func Reduce(state State, action Action) (State, Effect, error) {
	s := state.Clone()
	switch action.Type {
	case ActionSetPendingSelection:
		pending, err := s.Pending.WithSelection(action.Field, model.NewSelection(action.Values...))
		if err != nil {
			return state, Effect{}, err
		}
		s.Pending = pending
		return s, Effect{}, nil

	case ActionTogglePending:
		sel, ok := s.Pending.Selection(action.Field)
		if !ok {
			return state, Effect{}, model.NewBadRequestError(fmt.Sprintf("unknown filter field %q", action.Field))
		}
		pending, err := s.Pending.WithSelection(action.Field, sel.Toggle(action.Value))
		if err != nil {
			return state, Effect{}, err
		}
		s.Pending = pending
		return s, Effect{}, nil

	case ActionSetPendingDateRange:
		if !action.DateRange.Valid() {
			return state, Effect{}, model.NewBadRequestError(fmt.Sprintf("unknown date range %q", action.DateRange))
		}
		s.Pending = s.Pending.WithDateRange(action.DateRange, action.StartDate, action.EndDate)
		return s, Effect{}, nil

	case ActionDiscardPending:
		s.Pending = s.Applied
		return s, Effect{}, nil

	case ActionApplyFilters:
		if err := s.Pending.Validate(); err != nil {
			return state, Effect{}, err
		}
		s.Applied = s.Pending
		return s, startLoad(&s), nil

	case ActionResetFilters:
		s.Applied = model.DefaultFilters(s.DefaultRange)
		s.Pending = s.Applied
		return s, startLoad(&s), nil

	case ActionSelectSection:
		if !action.Section.Valid() {
			return state, Effect{}, model.NewBadRequestError(fmt.Sprintf("unknown section %q", action.Section))
		}
		s.Section = action.Section
		return s, startLoad(&s), nil

	case ActionReload:
		return s, startLoad(&s), nil

	case ActionOpenDrilldown:
		return openDrilldown(state, s, action)
	case ActionOpenTabbedDrilldown:
		return openTabbedDrilldown(state, s, action)

	case ActionSelectTab:
		if !s.Modal.Open || !s.Modal.Tabbed() {
			return state, Effect{}, model.NewBadRequestError("no tabbed drill-down is open")
		}
		if action.Tab < 0 || action.Tab >= len(s.Modal.Tabs) {
			return state, Effect{}, model.NewBadRequestError(fmt.Sprintf("tab %d out of range", action.Tab))
		}
		s.Modal.ActiveTab = action.Tab
		return s, Effect{}, nil

	case ActionChangePage:
		return changePage(state, s, action)
	case ActionChangeTabPage:
		return changeTabPage(state, s, action)

	case ActionCloseDrilldown:
		s.Modal = model.DrilldownModal{Generation: s.Modal.Generation + 1}
		return s, Effect{}, nil

	case ActionSectionLoaded, ActionSectionFailed:
		return completeSection(state, s, action)
	case ActionDrilldownLoaded, ActionDrilldownFailed:
		return completeDrilldown(state, s, action)
	}
	return state, Effect{}, model.NewBadRequestError(fmt.Sprintf("unknown action %q", action.Type))
}

// startLoad marks s as loading the active section under a new generation.
// The previous snapshot stays visible until the new one replaces it.
func startLoad(s *State) Effect {
	s.LoadGeneration++
	s.Loading = true
	s.Error = ""
	return Effect{
		Kind:       EffectLoadSection,
		Generation: s.LoadGeneration,
		Filters:    s.Applied,
		Section:    s.Section,
	}
}

func openDrilldown(prev, s State, action Action) (State, Effect, error) {
	if _, ok := query.Lookup(action.MetricType); !ok {
		return prev, Effect{}, model.NewBadRequestError(fmt.Sprintf("unknown metric type %q (known: %s)",
			action.MetricType, joinIDs(query.MetricTypes())))
	}
	page := max(action.Page, 1)
	s.Modal = model.DrilldownModal{
		Open:          true,
		Title:         action.Title,
		MetricType:    action.MetricType,
		ExpectedCount: action.ExpectedCount,
		ExtraParams:   action.ExtraParams,
		Page:          page,
		Loading:       true,
		Generation:    prev.Modal.Generation + 1,
	}
	return s, Effect{
		Kind:        EffectFetchPage,
		Generation:  s.Modal.Generation,
		Filters:     s.Applied,
		MetricType:  action.MetricType,
		ExtraParams: action.ExtraParams,
		Page:        page,
	}, nil
}

func openTabbedDrilldown(prev, s State, action Action) (State, Effect, error) {
	sides, ok := drilldown.Sides(action.Composite)
	if !ok {
		return prev, Effect{}, model.NewBadRequestError(fmt.Sprintf("unknown composite %q (known: %s)",
			action.Composite, joinIDs(drilldown.Composites())))
	}
	if action.Tab < 0 || action.Tab >= len(sides) {
		return prev, Effect{}, model.NewBadRequestError(fmt.Sprintf("tab %d out of range", action.Tab))
	}

	pages := make(map[model.Role]int, len(sides))
	tabs := make([]model.DrilldownTab, len(sides))
	for i, side := range sides {
		pages[side.Role] = 1
		tabs[i] = model.DrilldownTab{
			Label:      side.Label,
			MetricType: side.MetricType,
			Role:       side.Role,
			Page:       1,
			Loading:    true,
		}
	}
	if action.Page > 1 {
		pages[sides[action.Tab].Role] = action.Page
		tabs[action.Tab].Page = action.Page
	}

	title := action.Title
	if title == "" {
		title = sides[0].Label + " vs " + sides[1].Label
	}
	s.Modal = model.DrilldownModal{
		Open:          true,
		Title:         title,
		Composite:     action.Composite,
		ExpectedCount: action.ExpectedCount,
		Tabs:          tabs,
		ActiveTab:     action.Tab,
		Pages:         pages,
		Loading:       true,
		Generation:    prev.Modal.Generation + 1,
	}
	return s, Effect{
		Kind:       EffectFetchTabs,
		Generation: s.Modal.Generation,
		Filters:    s.Applied,
		Composite:  action.Composite,
		Pages:      pages,
	}, nil
}

// changePage refetches a flat drill-down. The records on screen are kept
// until the new page arrives, and kept as they are if it fails.
func changePage(prev, s State, action Action) (State, Effect, error) {
	if !s.Modal.Open || s.Modal.Tabbed() {
		return prev, Effect{}, model.NewBadRequestError("no flat drill-down is open")
	}
	page := max(action.Page, 1)
	if s.Modal.TotalPages > 0 {
		page = drilldown.ClampPage(page, s.Modal.TotalPages)
	}
	s.Modal.Page = page
	s.Modal.Loading = true
	s.Modal.Error = ""
	s.Modal.Generation++
	return s, Effect{
		Kind:        EffectFetchPage,
		Generation:  s.Modal.Generation,
		Filters:     s.Applied,
		MetricType:  s.Modal.MetricType,
		ExtraParams: s.Modal.ExtraParams,
		Page:        page,
	}, nil
}

// changeTabPage refetches one side of a tabbed drill-down. The other side
// keeps its data and cursor.
func changeTabPage(prev, s State, action Action) (State, Effect, error) {
	if !s.Modal.Open || !s.Modal.Tabbed() {
		return prev, Effect{}, model.NewBadRequestError("no tabbed drill-down is open")
	}
	sides, ok := drilldown.Sides(s.Modal.Composite)
	if !ok || action.Tab < 0 || action.Tab >= len(s.Modal.Tabs) {
		return prev, Effect{}, model.NewBadRequestError(fmt.Sprintf("tab %d out of range", action.Tab))
	}

	tab := &s.Modal.Tabs[action.Tab]
	page := max(action.Page, 1)
	if tab.TotalPages > 0 {
		page = drilldown.ClampPage(page, tab.TotalPages)
	}
	setRolePage(&s.Modal, tab.Role, page)
	tab.Page = page
	tab.Loading = true
	tab.Error = ""
	tab.Generation++
	return s, Effect{
		Kind:          EffectFetchTab,
		Generation:    s.Modal.Generation,
		TabGeneration: tab.Generation,
		Filters:       s.Applied,
		Composite:     s.Modal.Composite,
		Tab:           action.Tab,
		Side:          sides[action.Tab],
		Page:          page,
	}, nil
}

func completeSection(prev, s State, action Action) (State, Effect, error) {
	c := action.completion
	if c == nil {
		return prev, Effect{}, model.NewBadRequestError(fmt.Sprintf("action %q cannot be dispatched", action.Type))
	}
	if c.generation != s.LoadGeneration {
		return prev, Effect{Stale: true}, nil
	}
	s.Loading = false
	if action.Type == ActionSectionFailed {
		s.Error = c.err
		return s, Effect{}, nil
	}
	s.Error = ""
	s.Snapshot = c.snapshot
	return s, Effect{}, nil
}

func completeDrilldown(prev, s State, action Action) (State, Effect, error) {
	c := action.completion
	if c == nil {
		return prev, Effect{}, model.NewBadRequestError(fmt.Sprintf("action %q cannot be dispatched", action.Type))
	}
	if !s.Modal.Open || c.generation != s.Modal.Generation {
		return prev, Effect{Stale: true}, nil
	}
	failed := action.Type == ActionDrilldownFailed

	switch c.mode {
	case drilldown.ModeTab:
		if c.tab < 0 || c.tab >= len(s.Modal.Tabs) || s.Modal.Tabs[c.tab].Generation != c.tabGeneration {
			return prev, Effect{Stale: true}, nil
		}
		tab := &s.Modal.Tabs[c.tab]
		tab.Loading = false
		if failed {
			tab.Error = c.err
			return s, Effect{}, nil
		}
		fresh := c.tabs[0]
		fresh.Generation = tab.Generation
		*tab = fresh
		setRolePage(&s.Modal, tab.Role, tab.Page)
		return s, Effect{}, nil

	case drilldown.ModeTabs:
		s.Modal.Loading = false
		if failed {
			s.Modal.Error = c.err
			for i := range s.Modal.Tabs {
				s.Modal.Tabs[i].Loading = false
			}
			return s, Effect{}, nil
		}
		s.Modal.Error = ""
		tabs := make([]model.DrilldownTab, len(c.tabs))
		for i, t := range c.tabs {
			if i < len(s.Modal.Tabs) {
				t.Generation = s.Modal.Tabs[i].Generation
			}
			t.Loading = false
			tabs[i] = t
			setRolePage(&s.Modal, t.Role, t.Page)
		}
		s.Modal.Tabs = tabs
		return s, Effect{}, nil

	default:
		s.Modal.Loading = false
		if failed {
			s.Modal.Error = c.err
			return s, Effect{}, nil
		}
		s.Modal.Error = ""
		s.Modal.Records = c.page.Records
		s.Modal.TotalCount = c.page.TotalCount
		s.Modal.Page = c.page.Page
		s.Modal.TotalPages = c.page.TotalPages
		return s, Effect{}, nil
	}
}

func setRolePage(m *model.DrilldownModal, role model.Role, page int) {
	if m.Pages == nil {
		m.Pages = make(map[model.Role]int, 2)
	}
	m.Pages[role] = page
}

func joinIDs[T ~string](ids []T) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}
