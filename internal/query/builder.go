// Package query translates dashboard filter state into reporting API query
// parameters.
package query

import (
	"strconv"

	"github.com/pitabwire/clubpulse/internal/daterange"
	"github.com/pitabwire/clubpulse/model"
)

// selectionParams pairs each plain multi-select filter with its API name.
var selectionParams = []struct {
	field model.FilterField
	param string
}{
	{model.FieldAssignedUser, ParamAssignedTo},
	{model.FieldCountry, ParamCountry},
	{model.FieldClub, ParamLocation},
	{model.FieldLeadSource, ParamLeadSource},
}

// Builder produces flat query parameters for section and drill-down queries.
// It is safe for concurrent use.
type Builder struct {
	dates *daterange.Calculator
}

// NewBuilder creates a Builder resolving date ranges with dates.
func NewBuilder(dates *daterange.Calculator) *Builder {
	return &Builder{dates: dates}
}

// Build translates filters into query parameters. metricType may be empty
// for section queries; unknown metric types contribute nothing.
//
// Rules, in order: plain selections; pipeline (an explicit user selection
// beats the descriptor's pipeline); date bounds on the descriptor's date
// field; descriptor static filters, which never replace pipeline_name;
// caller overrides, which win for their keys.
func (b *Builder) Build(
	filters model.FilterState,
	metricType model.MetricTypeID,
	categories model.PipelineCategoryMap,
	overrides model.Params,
) model.Params {
	params := model.Params{}
	desc, _ := Lookup(metricType)

	for _, sp := range selectionParams {
		sel, _ := filters.Selection(sp.field)
		if !sel.IsAll() {
			params.Set(sp.param, sel.Values()...)
		}
	}

	if names := ResolvePipelines(filters.Pipeline, categories); names != nil {
		params.Set(ParamPipelineName, names...)
	} else if names := resolveDescriptorPipeline(desc.Pipeline, categories); names != nil {
		params.Set(ParamPipelineName, names...)
	}

	bounds := b.dates.Calculate(filters.DateRange, filters.CustomStartDate, filters.CustomEndDate)
	if bounds.Complete() {
		field := desc.DateField
		if field == "" {
			field = DefaultDateField
		}
		params.Set(field+"_min", *bounds.Start)
		params.Set(field+"_max", *bounds.End)
	}

	for k, vs := range desc.Static {
		if k == ParamPipelineName {
			continue
		}
		params.Set(k, vs...)
	}

	params.Merge(overrides)
	return params
}

// InvertedRange reports whether filters carry a custom range whose start is
// after its end. Such ranges are still sent as-is.
func (b *Builder) InvertedRange(filters model.FilterState) bool {
	return daterange.Inverted(b.dates.Calculate(filters.DateRange, filters.CustomStartDate, filters.CustomEndDate))
}

// Page returns a copy of params with pagination applied.
func Page(params model.Params, page, pageSize int) model.Params {
	out := params.Clone()
	if page < 1 {
		page = 1
	}
	out.Set(ParamPage, strconv.Itoa(page))
	if pageSize > 0 {
		out.Set(ParamPageSize, strconv.Itoa(pageSize))
	}
	return out
}
