// Package export asks the reporting API to render the current dashboard
// filters as a CSV file. The browser downloads the returned file itself.
package export

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/clubpulse/internal/observability"
	"github.com/pitabwire/clubpulse/internal/query"
	"github.com/pitabwire/clubpulse/internal/reporting"
	"github.com/pitabwire/clubpulse/model"
)

// CategorySource resolves pipeline categories.
type CategorySource interface {
	PipelineCategories(ctx context.Context, rctx *model.RequestContext) (model.PipelineCategoryMap, error)
}

// Recorder receives export telemetry.
type Recorder interface {
	RecordExport(err error)
}

// Request selects what to export. An empty MetricType exports every
// opportunity matching the filters.
type Request struct {
	MetricType  model.MetricTypeID `json:"metric_type,omitempty"`
	ExtraParams model.Params       `json:"extra_params,omitempty"`
}

// Exporter forwards CSV generation requests.
type Exporter struct {
	client     reporting.Getter
	builder    *query.Builder
	categories CategorySource
	metrics    Recorder
	logger     *zap.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithMetrics attaches a telemetry recorder.
func WithMetrics(r Recorder) Option { return func(e *Exporter) { e.metrics = r } }

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option { return func(e *Exporter) { e.logger = l } }

// New creates an Exporter.
func New(client reporting.Getter, builder *query.Builder, categories CategorySource, opts ...Option) *Exporter {
	e := &Exporter{client: client, builder: builder, categories: categories, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type exportWire struct {
	FileURL          model.Text   `json:"file_url"`
	TimeTakenSeconds model.Number `json:"time_taken_seconds"`
}

// Export requests a CSV for filters and returns where to fetch it.
func (e *Exporter) Export(
	ctx context.Context,
	rctx *model.RequestContext,
	filters model.FilterState,
	req Request,
) (result model.ExportResult, err error) {
	ctx, span := observability.StartSpan(ctx, "export.generate_csv",
		observability.AttrMetricType.String(string(req.MetricType)),
	)
	defer func() {
		observability.EndSpanWithError(span, err)
		if e.metrics != nil {
			e.metrics.RecordExport(err)
		}
	}()

	if req.MetricType != "" {
		if _, ok := query.Lookup(req.MetricType); !ok {
			return model.ExportResult{}, model.NewBadRequestError(fmt.Sprintf("unknown metric type %q", req.MetricType))
		}
	}

	params := e.builder.Build(filters, req.MetricType, e.pipelineCategories(ctx, rctx), req.ExtraParams)
	var wire exportWire
	if err = e.client.Get(ctx, rctx, reporting.EndpointGenerateCSV, params, &wire); err != nil {
		return model.ExportResult{}, err
	}

	url := strings.TrimSpace(wire.FileURL.String())
	if url == "" {
		err = model.NewBackendError(http.StatusBadGateway, "export returned no file")
		return model.ExportResult{}, err
	}
	result = model.ExportResult{FileURL: url, TimeTakenSeconds: wire.TimeTakenSeconds.Float()}
	observability.RequestLogger(ctx, e.logger).Info("export: csv generated",
		zap.String("metric_type", string(req.MetricType)),
		zap.Float64("time_taken_seconds", result.TimeTakenSeconds),
	)
	return result, nil
}

func (e *Exporter) pipelineCategories(ctx context.Context, rctx *model.RequestContext) model.PipelineCategoryMap {
	if e.categories == nil {
		return nil
	}
	cats, err := e.categories.PipelineCategories(ctx, rctx)
	if err != nil {
		observability.RequestLogger(ctx, e.logger).Warn("export: pipeline categories unavailable", zap.Error(err))
		return nil
	}
	return cats
}
