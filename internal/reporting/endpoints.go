package reporting

// Reporting API paths, relative to the configured base URL.
const (
	EndpointOpportunities    = "/opportunities/"
	EndpointGenerateCSV      = "/opportunities/generate_csv/"
	EndpointPipelineNames    = "/pipelines/names/"
	EndpointLocations        = "/locations/"
	EndpointSalesMetrics     = "/opportunity_dash/sales-metrics/"
	EndpointTrendData        = "/opportunity_dash/trend-data/"
	EndpointAppointmentStats = "/opportunity_dash/appointment-stats/"
	EndpointBreakdownData    = "/opportunity_dash/breakdown-data/"
	EndpointOnboarding       = "/opportunity_dash/member-onboarding-metrics/"
	EndpointDefaulters       = "/opportunity_dash/defaulter-metrics/"
	EndpointLocationStats    = "/opportunity_dash/location-stats/"
	EndpointLocationWise     = "/opportunity_dash/location-vise/"
	EndpointValidLeadSources = "/opportunity_dash/valid-lead-source/"
)

// Endpoints lists every path the dashboard calls.
func Endpoints() []string {
	return []string{
		EndpointOpportunities,
		EndpointGenerateCSV,
		EndpointPipelineNames,
		EndpointLocations,
		EndpointSalesMetrics,
		EndpointTrendData,
		EndpointAppointmentStats,
		EndpointBreakdownData,
		EndpointOnboarding,
		EndpointDefaulters,
		EndpointLocationStats,
		EndpointLocationWise,
		EndpointValidLeadSources,
	}
}
