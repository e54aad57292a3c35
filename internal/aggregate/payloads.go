package aggregate

import "github.com/pitabwire/clubpulse/model"

// Wire shapes of the /opportunity_dash/ endpoints. Every numeric field goes
// through model.Number so strings, nulls and absent keys read as 0.

type salesPayload struct {
	TotalLeads      model.Number `json:"total_leads"`
	TotalNJMs       model.Number `json:"total_njms"`
	ContactedLeads  model.Number `json:"contacted_leads"`
	OnlineNJMs      model.Number `json:"online_njms"`
	OfflineNJMs     model.Number `json:"offline_njms"`
	TotalAgreements model.Number `json:"total_agreements"`
	TotalRevenue    model.Number `json:"total_revenue"`
}

type appointmentPayload struct {
	TotalAppointments model.Number `json:"total_appointments"`
	Showed            model.Number `json:"showed"`
	NoShow            model.Number `json:"no_show"`
	Cancelled         model.Number `json:"cancelled"`
}

type breakdownPayload struct {
	LeadSources map[string]model.Number `json:"lead_sources"`
	NJMSources  map[string]model.Number `json:"njm_sources"`
}

type trendPoint struct {
	Period       model.Text   `json:"period"`
	Leads        model.Number `json:"leads"`
	Appointments model.Number `json:"appointments"`
	NJMs         model.Number `json:"njms"`
}

type trendPayload struct {
	Daily   []trendPoint `json:"daily"`
	Weekly  []trendPoint `json:"weekly"`
	Monthly []trendPoint `json:"monthly"`
}

type onboardingPayload struct {
	TotalMembers model.Number            `json:"total_members"`
	Completed    model.Number            `json:"completed"`
	InProgress   model.Number            `json:"in_progress"`
	Pending      model.Number            `json:"pending"`
	Types        map[string]model.Number `json:"types"`
}

type defaulterPayload struct {
	TotalDefaulters   model.Number            `json:"total_defaulters"`
	PTPCount          model.Number            `json:"ptp_count"`
	RecoveredCount    model.Number            `json:"recovered_count"`
	OutstandingAmount model.Number            `json:"outstanding_amount"`
	RecoveredAmount   model.Number            `json:"recovered_amount"`
	Statuses          map[string]model.Number `json:"statuses"`
}

type locationRow struct {
	LocationID   model.Text   `json:"location_id"`
	ID           model.Text   `json:"id"`
	Name         model.Text   `json:"name"`
	LocationName model.Text   `json:"location_name"`
	Country      model.Text   `json:"country"`
	Leads        model.Number `json:"leads"`
	Appointments model.Number `json:"appointments"`
	NJMs         model.Number `json:"njms"`
	Revenue      model.Number `json:"revenue"`
}

func (r locationRow) stats() model.LocationStats {
	id := r.LocationID
	if id == "" {
		id = r.ID
	}
	name := r.Name
	if name == "" {
		name = r.LocationName
	}
	return model.LocationStats{
		LocationID:     id.String(),
		Name:           name.Or("-"),
		Country:        r.Country.Or("-"),
		Leads:          r.Leads.Float(),
		Appointments:   r.Appointments.Float(),
		NJMs:           r.NJMs.Float(),
		Revenue:        r.Revenue.Float(),
		ConversionRate: Ratio(r.NJMs.Float(), r.Leads.Float()),
	}
}
