package query

import (
	"sort"

	"github.com/pitabwire/clubpulse/model"
)

// Query parameter names understood by the reporting API.
const (
	ParamAssignedTo   = "assigned_to"
	ParamCountry      = "country"
	ParamLocation     = "location"
	ParamLeadSource   = "lead_source"
	ParamPipelineName = "pipeline_name"
	ParamStageName    = "stage_name"
	ParamContactTags  = "contact_tags"
	ParamStatus       = "status"
	ParamPage         = "page"
	ParamPageSize     = "page_size"

	// DefaultDateField is filtered on unless a descriptor overrides it.
	DefaultDateField = "raw_created_at"
)

// Pipeline categories referenced by descriptors.
const (
	PipelineSales      = "Sales"
	PipelineOnboarding = "Onboarding"
	PipelineDefaulters = "Defaulters"
)

// Metric types.
const (
	TotalLeads          model.MetricTypeID = "total-leads"
	TotalNJMs           model.MetricTypeID = "total-njms"
	OnlineNJMs          model.MetricTypeID = "online-njms"
	OfflineNJMs         model.MetricTypeID = "offline-njms"
	TotalAppointments   model.MetricTypeID = "total-appointments"
	AppointmentsShowed  model.MetricTypeID = "appointments-showed"
	ContactedLeads      model.MetricTypeID = "contacted-leads"
	Agreements          model.MetricTypeID = "agreements"
	TotalOnboarding     model.MetricTypeID = "total-onboarding"
	OnboardingCompleted model.MetricTypeID = "onboarding-completed"
	OnboardingPending   model.MetricTypeID = "onboarding-pending"
	TotalDefaulters     model.MetricTypeID = "total-defaulters"
	PTPDefaulters       model.MetricTypeID = "ptp-defaulters"
	RecoveredDefaulters model.MetricTypeID = "recovered-defaulters"
)

// Descriptor is the static query configuration of a metric type.
type Descriptor struct {
	ID    model.MetricTypeID
	Label string
	// Pipeline is a category name or a literal pipeline name.
	Pipeline string
	// DateField overrides DefaultDateField when set.
	DateField string
	// Static holds fixed filters such as stage_name or contact_tags.
	Static model.Params
}

var catalog = map[model.MetricTypeID]Descriptor{
	TotalLeads: {
		ID:       TotalLeads,
		Label:    "Total Leads",
		Pipeline: PipelineSales,
	},
	TotalNJMs: {
		ID:       TotalNJMs,
		Label:    "Total NJMs",
		Pipeline: PipelineSales,
		Static:   model.Params{ParamStatus: {"won"}},
	},
	OnlineNJMs: {
		ID:       OnlineNJMs,
		Label:    "Online NJMs",
		Pipeline: PipelineSales,
		Static:   model.Params{ParamStatus: {"won"}, ParamContactTags: {"online"}},
	},
	OfflineNJMs: {
		ID:       OfflineNJMs,
		Label:    "Offline NJMs",
		Pipeline: PipelineSales,
		Static:   model.Params{ParamStatus: {"won"}, ParamContactTags: {"offline"}},
	},
	TotalAppointments: {
		ID:       TotalAppointments,
		Label:    "Total Appointments",
		Pipeline: PipelineSales,
		Static:   model.Params{ParamStageName: {"Appointment Booked"}},
	},
	AppointmentsShowed: {
		ID:       AppointmentsShowed,
		Label:    "Appointments Showed",
		Pipeline: PipelineSales,
		Static:   model.Params{ParamStageName: {"Appointment Showed"}},
	},
	ContactedLeads: {
		ID:       ContactedLeads,
		Label:    "Contacted Leads",
		Pipeline: PipelineSales,
		Static:   model.Params{ParamStageName: {"Contacted"}},
	},
	Agreements: {
		ID:       Agreements,
		Label:    "Agreements",
		Pipeline: PipelineSales,
		Static:   model.Params{ParamStageName: {"Agreement Signed"}},
	},
	TotalOnboarding: {
		ID:       TotalOnboarding,
		Label:    "Total Onboarding",
		Pipeline: PipelineOnboarding,
	},
	OnboardingCompleted: {
		ID:        OnboardingCompleted,
		Label:     "Onboarding Completed",
		Pipeline:  PipelineOnboarding,
		DateField: "raw_updated_at",
		Static:    model.Params{ParamStageName: {"Completed"}},
	},
	OnboardingPending: {
		ID:       OnboardingPending,
		Label:    "Onboarding Pending",
		Pipeline: PipelineOnboarding,
		Static:   model.Params{ParamStageName: {"Pending"}},
	},
	TotalDefaulters: {
		ID:       TotalDefaulters,
		Label:    "Total Defaulters",
		Pipeline: PipelineDefaulters,
	},
	PTPDefaulters: {
		ID:        PTPDefaulters,
		Label:     "Promise to Pay",
		Pipeline:  PipelineDefaulters,
		DateField: "raw_updated_at",
		Static:    model.Params{ParamStageName: {"PTP"}},
	},
	RecoveredDefaulters: {
		ID:        RecoveredDefaulters,
		Label:     "Recovered",
		Pipeline:  PipelineDefaulters,
		DateField: "raw_updated_at",
		Static:    model.Params{ParamStageName: {"Paid"}},
	},
}

// Lookup returns the descriptor for id.
func Lookup(id model.MetricTypeID) (Descriptor, bool) {
	d, ok := catalog[id]
	return d, ok
}

// MetricTypes returns every known metric type, sorted.
func MetricTypes() []model.MetricTypeID {
	ids := make([]model.MetricTypeID, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
