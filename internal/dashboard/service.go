package dashboard

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pitabwire/clubpulse/internal/config"
	"github.com/pitabwire/clubpulse/internal/drilldown"
	"github.com/pitabwire/clubpulse/internal/observability"
	"github.com/pitabwire/clubpulse/internal/session"
	"github.com/pitabwire/clubpulse/model"
)

// SectionLoader produces section snapshots. Implemented by
// aggregate.Aggregator.
type SectionLoader interface {
	LoadSection(ctx context.Context, rctx *model.RequestContext, filters model.FilterState, section model.Section) (model.Snapshot, error)
	LoadLocationWise(ctx context.Context, rctx *model.RequestContext, filters model.FilterState) ([]model.LocationStats, error)
}

// DrilldownFetcher fetches drill-down pages. Implemented by
// drilldown.Controller.
type DrilldownFetcher interface {
	FetchPage(ctx context.Context, rctx *model.RequestContext, filters model.FilterState, metricType model.MetricTypeID, page int, extra model.Params) (model.OpportunityPage, error)
	FetchTabs(ctx context.Context, rctx *model.RequestContext, filters model.FilterState, composite model.CompositeID, pages map[model.Role]int) ([]model.DrilldownTab, error)
	FetchTab(ctx context.Context, rctx *model.RequestContext, filters model.FilterState, side drilldown.Side, page int) (model.DrilldownTab, error)
}

// Recorder receives dashboard telemetry.
type Recorder interface {
	RecordAction(action string, err error)
	RecordStaleCompletion(target string)
	RecordSessionConflict()
}

// Service owns dashboard sessions. Every change goes through Reduce and an
// optimistic store update; fetches run between two such updates.
type Service struct {
	store     session.Store
	sections  SectionLoader
	drilldown DrilldownFetcher
	cfg       config.DashboardConfig
	metrics   Recorder
	logger    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics attaches a telemetry recorder.
func WithMetrics(r Recorder) Option { return func(s *Service) { s.metrics = r } }

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

// NewService creates a Service.
func NewService(
	store session.Store,
	sections SectionLoader,
	fetcher DrilldownFetcher,
	cfg config.DashboardConfig,
	opts ...Option,
) *Service {
	s := &Service{
		store:     store,
		sections:  sections,
		drilldown: fetcher,
		cfg:       cfg,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create starts a session with default filters and loads its first section.
func (s *Service) Create(ctx context.Context, rctx *model.RequestContext) (st State, err error) {
	ctx, span := observability.StartSpan(ctx, "dashboard.create")
	defer func() {
		observability.EndSpanWithError(span, err)
		s.recordAction("create", err)
	}()

	st = NewState(session.NewID(), ownerOf(rctx), s.cfg.DefaultRange, s.cfg.DefaultSection)
	eff := startLoad(&st)
	data, err := encodeState(st)
	if err != nil {
		return State{}, err
	}
	if err = s.store.Create(ctx, session.Record{ID: st.ID, OwnerID: st.OwnerID, State: data}); err != nil {
		return State{}, err
	}
	observability.SessionLogger(ctx, s.logger, st.ID).Info("dashboard: session created",
		zap.String("section", string(st.Section)),
	)
	return s.complete(ctx, rctx, st.ID, eff)
}

// Get returns the stored state of a session.
func (s *Service) Get(ctx context.Context, rctx *model.RequestContext, id string) (State, error) {
	if !session.ValidID(id) {
		return State{}, model.NewNotFoundError(fmt.Sprintf("session %q not found", id))
	}
	return s.load(ctx, ownerOf(rctx), id)
}

// Delete ends a session.
func (s *Service) Delete(ctx context.Context, rctx *model.RequestContext, id string) error {
	if !session.ValidID(id) {
		return model.NewNotFoundError(fmt.Sprintf("session %q not found", id))
	}
	return s.store.Delete(ctx, ownerOf(rctx), id)
}

// Dispatch applies a browser action, runs the fetch it asks for and returns
// the state after the fetch has been folded in.
func (s *Service) Dispatch(ctx context.Context, rctx *model.RequestContext, id string, action Action) (st State, err error) {
	ctx, span := observability.StartSpan(ctx, "dashboard.dispatch",
		observability.AttrSessionID.String(id),
		observability.AttrAction.String(string(action.Type)),
	)
	defer func() {
		observability.EndSpanWithError(span, err)
		s.recordAction(string(action.Type), err)
	}()

	if action.Type.Internal() || action.completion != nil {
		return State{}, model.NewBadRequestError(fmt.Sprintf("action %q cannot be dispatched", action.Type))
	}
	if !session.ValidID(id) {
		return State{}, model.NewNotFoundError(fmt.Sprintf("session %q not found", id))
	}

	// 1. Reduce and persist the action.
	st, eff, err := s.update(ctx, ownerOf(rctx), id, action)
	if err != nil {
		return State{}, err
	}
	if eff.Kind == EffectNone {
		return st, nil
	}

	// 2. Run the fetch and fold its outcome into the latest state.
	return s.complete(ctx, rctx, id, eff)
}

// LocationWise loads the per-club table for the session's applied filters.
func (s *Service) LocationWise(ctx context.Context, rctx *model.RequestContext, id string) ([]model.LocationStats, error) {
	st, err := s.Get(ctx, rctx, id)
	if err != nil {
		return nil, err
	}
	return s.sections.LoadLocationWise(ctx, rctx, st.Applied)
}

// complete runs eff and reduces its completion. The completion is written
// even when the caller has gone away so the session never stays loading.
func (s *Service) complete(ctx context.Context, rctx *model.RequestContext, id string, eff Effect) (State, error) {
	result := s.run(ctx, rctx, eff)

	wctx := context.WithoutCancel(ctx)
	st, applied, err := s.update(wctx, ownerOf(rctx), id, result)
	if err != nil {
		return State{}, err
	}
	if applied.Stale {
		target := "drilldown"
		if eff.Kind == EffectLoadSection {
			target = "section"
		}
		if s.metrics != nil {
			s.metrics.RecordStaleCompletion(target)
		}
		observability.SessionLogger(ctx, s.logger, id).Debug("dashboard: discarded stale completion",
			zap.String("target", target),
			zap.Int64("generation", eff.Generation),
		)
	}
	return st, nil
}

// run performs the fetch eff describes and turns the outcome into a
// completion action.
func (s *Service) run(ctx context.Context, rctx *model.RequestContext, eff Effect) Action {
	logFailure := func(err error) string {
		observability.RequestLogger(ctx, s.logger).Warn("dashboard: fetch failed",
			zap.String("effect", eff.Kind.String()),
			zap.Error(err),
		)
		return model.HumanMessage(err)
	}

	switch eff.Kind {
	case EffectLoadSection:
		snap, err := s.sections.LoadSection(ctx, rctx, eff.Filters, eff.Section)
		if err != nil {
			return sectionFailed(eff.Generation, logFailure(err))
		}
		return sectionLoaded(eff.Generation, snap)

	case EffectFetchPage:
		p, err := s.drilldown.FetchPage(ctx, rctx, eff.Filters, eff.MetricType, eff.Page, eff.ExtraParams)
		if err != nil {
			return drilldownFailed(eff, logFailure(err))
		}
		return pageLoaded(eff.Generation, p)

	case EffectFetchTabs:
		tabs, err := s.drilldown.FetchTabs(ctx, rctx, eff.Filters, eff.Composite, eff.Pages)
		if err != nil {
			return drilldownFailed(eff, logFailure(err))
		}
		return tabsLoaded(eff.Generation, tabs)

	case EffectFetchTab:
		tab, err := s.drilldown.FetchTab(ctx, rctx, eff.Filters, eff.Side, eff.Page)
		if err != nil {
			return drilldownFailed(eff, logFailure(err))
		}
		return tabLoaded(eff.Generation, eff.TabGeneration, eff.Tab, tab)
	}
	return Action{}
}

// update loads the session, reduces action into it and writes it back. A
// version conflict reloads and re-applies, up to the configured retries.
func (s *Service) update(ctx context.Context, ownerID, id string, action Action) (State, Effect, error) {
	attempts := max(s.cfg.ConflictRetries, 0) + 1
	for range attempts {
		cur, err := s.load(ctx, ownerID, id)
		if err != nil {
			return State{}, Effect{}, err
		}
		next, eff, err := Reduce(cur, action)
		if err != nil {
			return State{}, Effect{}, err
		}
		if eff.Stale {
			return cur, eff, nil
		}

		data, err := encodeState(next)
		if err != nil {
			return State{}, Effect{}, err
		}
		err = s.store.Update(ctx, session.Record{ID: id, OwnerID: ownerID, Version: cur.Version, State: data})
		if model.IsCode(err, model.ErrConflict) {
			if s.metrics != nil {
				s.metrics.RecordSessionConflict()
			}
			observability.SessionLogger(ctx, s.logger, id).Debug("dashboard: version conflict, retrying",
				zap.String("action", string(action.Type)),
				zap.Int64("version", cur.Version),
			)
			continue
		}
		if err != nil {
			return State{}, Effect{}, err
		}
		next.Version = cur.Version + 1
		return next, eff, nil
	}
	return State{}, Effect{}, model.NewConflictError(fmt.Sprintf("session %q is being modified concurrently", id))
}

func (s *Service) load(ctx context.Context, ownerID, id string) (State, error) {
	rec, err := s.store.Get(ctx, ownerID, id)
	if err != nil {
		return State{}, err
	}
	st, err := decodeState(rec.State)
	if err != nil {
		return State{}, err
	}
	st.ID = rec.ID
	st.OwnerID = rec.OwnerID
	st.Version = rec.Version
	st.CreatedAt = rec.CreatedAt
	st.UpdatedAt = rec.UpdatedAt
	return st, nil
}

func (s *Service) recordAction(action string, err error) {
	if s.metrics != nil {
		s.metrics.RecordAction(action, err)
	}
}

func ownerOf(rctx *model.RequestContext) string {
	if rctx == nil {
		return ""
	}
	return rctx.SubjectID
}
