// Package drilldown fetches the paginated opportunity records behind a
// dashboard metric, either as one flat list or as the two tabs of a
// composite metric.
package drilldown

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pitabwire/clubpulse/internal/observability"
	"github.com/pitabwire/clubpulse/internal/query"
	"github.com/pitabwire/clubpulse/internal/reporting"
	"github.com/pitabwire/clubpulse/model"
)

// Fetch modes reported to the Recorder.
const (
	ModeFlat = "flat"
	ModeTabs = "tabs"
	ModeTab  = "tab"
)

// DefaultPageSize is used when the controller is built without one.
const DefaultPageSize = 10

// CategorySource supplies the pipeline category map.
type CategorySource interface {
	PipelineCategories(ctx context.Context, rctx *model.RequestContext) (model.PipelineCategoryMap, error)
}

// Recorder receives drill-down fetch telemetry.
type Recorder interface {
	RecordDrilldownFetch(mode string, err error)
}

// Controller issues drill-down fetches. It holds no per-modal state; page
// cursors and generations live on the dashboard state. Safe for concurrent
// use.
type Controller struct {
	client     reporting.Getter
	builder    *query.Builder
	categories CategorySource
	pageSize   int
	metrics    Recorder
	logger     *zap.Logger
}

// Option customises a Controller.
type Option func(*Controller)

// WithPageSize sets the server-side page size.
func WithPageSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithMetrics attaches a telemetry recorder.
func WithMetrics(r Recorder) Option { return func(c *Controller) { c.metrics = r } }

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option { return func(c *Controller) { c.logger = l } }

// NewController creates a Controller.
func NewController(client reporting.Getter, builder *query.Builder, categories CategorySource, opts ...Option) *Controller {
	c := &Controller{
		client:     client,
		builder:    builder,
		categories: categories,
		pageSize:   DefaultPageSize,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PageSize returns the configured page size.
func (c *Controller) PageSize() int { return c.pageSize }

// FetchPage fetches one page of a flat drill-down. extra is merged over the
// built parameters and wins for its keys.
func (c *Controller) FetchPage(
	ctx context.Context,
	rctx *model.RequestContext,
	filters model.FilterState,
	metricType model.MetricTypeID,
	page int,
	extra model.Params,
) (result model.OpportunityPage, err error) {
	ctx, span := observability.StartSpan(ctx, "drilldown.fetch_page",
		observability.AttrMetricType.String(string(metricType)),
	)
	defer func() {
		observability.EndSpanWithError(span, err)
		c.record(ModeFlat, err)
	}()

	if _, ok := query.Lookup(metricType); !ok {
		return model.OpportunityPage{}, model.NewBadRequestError(fmt.Sprintf("unknown metric type %q", metricType))
	}
	return c.fetch(ctx, rctx, filters, metricType, page, extra, c.pipelineCategories(ctx, rctx))
}

// FetchTabs fetches both sides of composite concurrently, each at the page
// recorded for its role (1 when absent). Either failure fails both tabs.
func (c *Controller) FetchTabs(
	ctx context.Context,
	rctx *model.RequestContext,
	filters model.FilterState,
	composite model.CompositeID,
	pages map[model.Role]int,
) (tabs []model.DrilldownTab, err error) {
	ctx, span := observability.StartSpan(ctx, "drilldown.fetch_tabs",
		observability.AttrComposite.String(string(composite)),
	)
	defer func() {
		observability.EndSpanWithError(span, err)
		c.record(ModeTabs, err)
	}()

	sides, ok := Sides(composite)
	if !ok {
		return nil, model.NewBadRequestError(fmt.Sprintf("unknown composite %q", composite))
	}

	cats := c.pipelineCategories(ctx, rctx)
	out := make([]model.DrilldownTab, len(sides))
	g, gctx := errgroup.WithContext(ctx)
	for i, side := range sides {
		g.Go(func() error {
			p, err := c.fetch(gctx, rctx, filters, side.MetricType, pages[side.Role], nil, cats)
			if err != nil {
				return err
			}
			out[i] = tabFromPage(side, p)
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchTab refetches a single side of a composite at page.
func (c *Controller) FetchTab(
	ctx context.Context,
	rctx *model.RequestContext,
	filters model.FilterState,
	side Side,
	page int,
) (tab model.DrilldownTab, err error) {
	ctx, span := observability.StartSpan(ctx, "drilldown.fetch_tab",
		observability.AttrMetricType.String(string(side.MetricType)),
	)
	defer func() {
		observability.EndSpanWithError(span, err)
		c.record(ModeTab, err)
	}()

	p, err := c.fetch(ctx, rctx, filters, side.MetricType, page, nil, c.pipelineCategories(ctx, rctx))
	if err != nil {
		return model.DrilldownTab{}, err
	}
	return tabFromPage(side, p), nil
}

func (c *Controller) fetch(
	ctx context.Context,
	rctx *model.RequestContext,
	filters model.FilterState,
	metricType model.MetricTypeID,
	page int,
	extra model.Params,
	cats model.PipelineCategoryMap,
) (model.OpportunityPage, error) {
	if page < 1 {
		page = 1
	}
	params := c.builder.Build(filters, metricType, cats, extra)
	paged := query.Page(params, page, c.pageSize)

	observability.RequestLogger(ctx, c.logger).Debug("drilldown: fetching page",
		zap.String("metric_type", string(metricType)),
		zap.String("params", paged.Encode()),
	)

	var list opportunityList
	if err := c.client.Get(ctx, rctx, reporting.EndpointOpportunities, paged, &list); err != nil {
		return model.OpportunityPage{}, err
	}

	total := list.Count.Int()
	if total == 0 {
		total = len(list.Results)
	}
	totalPages := TotalPages(total, c.pageSize)
	return model.OpportunityPage{
		Records:    normalizeAll(list.Results),
		TotalCount: total,
		Page:       page,
		PageSize:   c.pageSize,
		TotalPages: totalPages,
		Params:     params,
	}, nil
}

// pipelineCategories resolves the category map for descriptor pipelines.
// A failure degrades to literal pipeline names.
func (c *Controller) pipelineCategories(ctx context.Context, rctx *model.RequestContext) model.PipelineCategoryMap {
	if c.categories == nil {
		return nil
	}
	cats, err := c.categories.PipelineCategories(ctx, rctx)
	if err != nil {
		observability.RequestLogger(ctx, c.logger).Warn("drilldown: pipeline categories unavailable",
			zap.Error(err),
		)
		return nil
	}
	return cats
}

func (c *Controller) record(mode string, err error) {
	if c.metrics != nil {
		c.metrics.RecordDrilldownFetch(mode, err)
	}
}

func tabFromPage(side Side, p model.OpportunityPage) model.DrilldownTab {
	return model.DrilldownTab{
		Label:      side.Label,
		MetricType: side.MetricType,
		Role:       side.Role,
		Data:       p.Records,
		TotalCount: p.TotalCount,
		Page:       p.Page,
		TotalPages: p.TotalPages,
		Params:     p.Params,
	}
}

// TotalPages returns ceil(total/pageSize).
func TotalPages(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// ClampPage clamps page into [1, max(1, totalPages)].
func ClampPage(page, totalPages int) int {
	if page < 1 {
		return 1
	}
	if totalPages < 1 {
		totalPages = 1
	}
	if page > totalPages {
		return totalPages
	}
	return page
}
