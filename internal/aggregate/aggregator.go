// Package aggregate loads a dashboard section by fanning out to the
// reporting API and folding the responses into one model.Snapshot.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pitabwire/clubpulse/internal/observability"
	"github.com/pitabwire/clubpulse/internal/query"
	"github.com/pitabwire/clubpulse/internal/reporting"
	"github.com/pitabwire/clubpulse/model"
)

// CategorySource supplies the pipeline category map.
type CategorySource interface {
	PipelineCategories(ctx context.Context, rctx *model.RequestContext) (model.PipelineCategoryMap, error)
}

// Recorder receives section load telemetry.
type Recorder interface {
	RecordSectionLoad(section string, err error, duration time.Duration)
}

// Aggregator loads section snapshots. It is safe for concurrent use.
type Aggregator struct {
	client     reporting.Getter
	builder    *query.Builder
	categories CategorySource
	clock      clockwork.Clock
	metrics    Recorder
	logger     *zap.Logger
}

// Option customises an Aggregator.
type Option func(*Aggregator)

// WithClock sets the clock stamping Snapshot.LoadedAt.
func WithClock(c clockwork.Clock) Option { return func(a *Aggregator) { a.clock = c } }

// WithMetrics attaches a telemetry recorder.
func WithMetrics(r Recorder) Option { return func(a *Aggregator) { a.metrics = r } }

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option { return func(a *Aggregator) { a.logger = l } }

// New creates an Aggregator. categories may be nil, in which case pipeline
// filters never resolve.
func New(client reporting.Getter, builder *query.Builder, categories CategorySource, opts ...Option) *Aggregator {
	a := &Aggregator{
		client:     client,
		builder:    builder,
		categories: categories,
		clock:      clockwork.NewRealClock(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// LoadSection fetches the valid lead sources plus every endpoint section
// needs, concurrently, and derives the snapshot once all of them succeeded.
// The first failure fails the whole load; no partial snapshot is returned.
func (a *Aggregator) LoadSection(
	ctx context.Context,
	rctx *model.RequestContext,
	filters model.FilterState,
	section model.Section,
) (snap model.Snapshot, err error) {
	if !section.Valid() {
		return model.Snapshot{}, model.NewBadRequestError(fmt.Sprintf("unknown section %q", section))
	}

	ctx, span := observability.StartSpan(ctx, "aggregate.load_section",
		observability.AttrSection.String(string(section)),
	)
	start := a.clock.Now()
	defer func() {
		observability.EndSpanWithError(span, err)
		if a.metrics != nil {
			a.metrics.RecordSectionLoad(string(section), err, a.clock.Since(start))
		}
	}()

	params := a.builder.Build(filters, "", a.pipelineCategories(ctx, rctx, filters), nil)
	if a.builder.InvertedRange(filters) {
		observability.RequestLogger(ctx, a.logger).Warn("aggregate: custom range starts after it ends",
			zap.Stringp("start", filters.CustomStartDate),
			zap.Stringp("end", filters.CustomEndDate),
		)
	}
	observability.RequestLogger(ctx, a.logger).Debug("aggregate: section query",
		zap.String("section", string(section)),
		zap.String("params", params.Encode()),
	)

	var (
		leadSources model.List[model.Text]
		sales       salesPayload
		appts       appointmentPayload
		breakdown   breakdownPayload
		trends      trendPayload
		onboarding  onboardingPayload
		defaulters  defaulterPayload
		locations   model.List[locationRow]
	)

	g, gctx := errgroup.WithContext(ctx)
	fetch := func(endpoint string, dest any) {
		g.Go(func() error {
			return a.client.Get(gctx, rctx, endpoint, params, dest)
		})
	}

	fetch(reporting.EndpointValidLeadSources, &leadSources)
	switch section {
	case model.SectionSales:
		fetch(reporting.EndpointSalesMetrics, &sales)
		fetch(reporting.EndpointTrendData, &trends)
		fetch(reporting.EndpointAppointmentStats, &appts)
		fetch(reporting.EndpointBreakdownData, &breakdown)
	case model.SectionOnboarding:
		fetch(reporting.EndpointOnboarding, &onboarding)
	case model.SectionDefaulters:
		fetch(reporting.EndpointDefaulters, &defaulters)
	case model.SectionRegional:
		fetch(reporting.EndpointLocationStats, &locations)
	}

	if err = g.Wait(); err != nil {
		observability.RequestLogger(ctx, a.logger).Warn("aggregate: section load failed",
			zap.String("section", string(section)),
			zap.Error(err),
		)
		return model.Snapshot{}, err
	}

	snap = model.Snapshot{
		Section:          section,
		ValidLeadSources: texts(leadSources.Items),
		LoadedAt:         a.clock.Now(),
	}
	switch section {
	case model.SectionSales:
		snap.Sales = salesMetrics(sales, appts)
		snap.Breakdowns = &model.Breakdowns{
			LeadSources: Breakdown(breakdown.LeadSources),
			NJMSources:  Breakdown(breakdown.NJMSources),
		}
		t := sumTrends(trends)
		snap.Trends = &t
	case model.SectionOnboarding:
		snap.Onboarding = onboardingMetrics(onboarding)
	case model.SectionDefaulters:
		snap.Defaulters = defaulterMetrics(defaulters)
	case model.SectionRegional:
		snap.Locations = locationStats(locations.Items)
	}
	return snap, nil
}

// LoadLocationWise fetches the per-club table of the regional section.
func (a *Aggregator) LoadLocationWise(
	ctx context.Context,
	rctx *model.RequestContext,
	filters model.FilterState,
) (rows []model.LocationStats, err error) {
	ctx, span := observability.StartSpan(ctx, "aggregate.load_location_wise")
	defer func() { observability.EndSpanWithError(span, err) }()

	params := a.builder.Build(filters, "", a.pipelineCategories(ctx, rctx, filters), nil)
	var payload model.List[locationRow]
	if err = a.client.Get(ctx, rctx, reporting.EndpointLocationWise, params, &payload); err != nil {
		return nil, err
	}
	return locationStats(payload.Items), nil
}

// pipelineCategories is only consulted when the user restricted the
// pipeline filter; section queries carry no descriptor pipeline. A failed
// lookup degrades to an unrestricted pipeline.
func (a *Aggregator) pipelineCategories(
	ctx context.Context,
	rctx *model.RequestContext,
	filters model.FilterState,
) model.PipelineCategoryMap {
	if a.categories == nil || filters.Pipeline.IsAll() {
		return nil
	}
	cats, err := a.categories.PipelineCategories(ctx, rctx)
	if err != nil {
		observability.RequestLogger(ctx, a.logger).Warn("aggregate: pipeline categories unavailable",
			zap.Error(err),
		)
		return nil
	}
	return cats
}

func texts(in []model.Text) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		if t != "" {
			out = append(out, t.String())
		}
	}
	return out
}
