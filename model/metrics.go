package model

import "time"

// Section is a dashboard view.
type Section string

// Dashboard sections.
const (
	SectionSales      Section = "sales"
	SectionOnboarding Section = "onboarding"
	SectionDefaulters Section = "defaulters"
	SectionRegional   Section = "regional"
)

// Valid reports whether s is a known section.
func (s Section) Valid() bool {
	switch s {
	case SectionSales, SectionOnboarding, SectionDefaulters, SectionRegional:
		return true
	}
	return false
}

// Snapshot is the result of one section load. It is built only after every
// fetch in the batch has succeeded and is replaced wholesale.
type Snapshot struct {
	Section          Section            `json:"section"`
	ValidLeadSources []string           `json:"valid_lead_sources"`
	Sales            *SalesMetrics      `json:"sales,omitempty"`
	Breakdowns       *Breakdowns        `json:"breakdowns,omitempty"`
	Trends           *TrendSums         `json:"trends,omitempty"`
	Onboarding       *OnboardingMetrics `json:"onboarding,omitempty"`
	Defaulters       *DefaulterMetrics  `json:"defaulters,omitempty"`
	Locations        []LocationStats    `json:"locations,omitempty"`
	LoadedAt         time.Time          `json:"loaded_at"`
}

// SalesMetrics combines the sales-metrics and appointment-stats payloads with
// the ratios derived from them.
type SalesMetrics struct {
	TotalLeads         float64 `json:"total_leads"`
	TotalNJMs          float64 `json:"total_njms"`
	ContactedLeads     float64 `json:"contacted_leads"`
	OnlineNJMs         float64 `json:"online_njms"`
	OfflineNJMs        float64 `json:"offline_njms"`
	TotalAgreements    float64 `json:"total_agreements"`
	TotalRevenue       float64 `json:"total_revenue"`
	TotalAppointments  float64 `json:"total_appointments"`
	AppointmentsShowed float64 `json:"appointments_showed"`
	AppointmentsNoShow float64 `json:"appointments_no_show"`
	Cancelled          float64 `json:"appointments_cancelled"`

	LeadToSaleRatio             float64 `json:"lead_to_sale_ratio"`
	LeadToAppointmentRatio      float64 `json:"lead_to_appointment_ratio"`
	AppointmentToSaleRatio      float64 `json:"appointment_to_sale_ratio"`
	ContactedToAppointmentRatio float64 `json:"contacted_to_appointment_ratio"`
	ShowedRatio                 float64 `json:"showed_ratio"`
	AgreementToNJMRatio         float64 `json:"agreement_to_njm_ratio"`
	OnlineShare                 float64 `json:"online_share"`
}

// BreakdownItem is one slice of a categorical breakdown.
type BreakdownItem struct {
	Name       string  `json:"name"`
	Value      float64 `json:"value"`
	Percentage float64 `json:"percentage"`
}

// Breakdowns holds the lead-source charts of the sales section.
type Breakdowns struct {
	LeadSources []BreakdownItem `json:"lead_sources"`
	NJMSources  []BreakdownItem `json:"njm_sources"`
}

// TrendTotals sums one granularity of the trend series.
type TrendTotals struct {
	Leads        float64 `json:"leads"`
	Appointments float64 `json:"appointments"`
	NJMs         float64 `json:"njms"`
	Periods      int     `json:"periods"`
}

// TrendSums holds per-granularity totals of the trend series.
type TrendSums struct {
	Daily   TrendTotals `json:"daily"`
	Weekly  TrendTotals `json:"weekly"`
	Monthly TrendTotals `json:"monthly"`
}

// OnboardingMetrics is the onboarding section snapshot.
type OnboardingMetrics struct {
	TotalMembers   float64         `json:"total_members"`
	Completed      float64         `json:"completed"`
	InProgress     float64         `json:"in_progress"`
	Pending        float64         `json:"pending"`
	CompletionRate float64         `json:"completion_rate"`
	Types          []BreakdownItem `json:"types"`
}

// DefaulterMetrics is the defaulter-management section snapshot.
type DefaulterMetrics struct {
	TotalDefaulters   float64         `json:"total_defaulters"`
	PTPCount          float64         `json:"ptp_count"`
	RecoveredCount    float64         `json:"recovered_count"`
	OutstandingAmount float64         `json:"outstanding_amount"`
	RecoveredAmount   float64         `json:"recovered_amount"`
	PTPRate           float64         `json:"ptp_rate"`
	RecoveryRate      float64         `json:"recovery_rate"`
	Statuses          []BreakdownItem `json:"statuses"`
}

// LocationStats is one row of the regional tables.
type LocationStats struct {
	LocationID     string  `json:"location_id"`
	Name           string  `json:"name"`
	Country        string  `json:"country"`
	Leads          float64 `json:"leads"`
	Appointments   float64 `json:"appointments"`
	NJMs           float64 `json:"njms"`
	Revenue        float64 `json:"revenue"`
	ConversionRate float64 `json:"conversion_rate"`
}
