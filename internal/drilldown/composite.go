package drilldown

import (
	"sort"

	"github.com/pitabwire/clubpulse/internal/query"
	"github.com/pitabwire/clubpulse/model"
)

// Composite metrics.
const (
	OnlineVsOffline        model.CompositeID = "online-vs-offline"
	LeadToSale             model.CompositeID = "lead-to-sale"
	LeadToAppointment      model.CompositeID = "lead-to-appointment"
	AppointmentToSale      model.CompositeID = "appointment-to-sale"
	AgreementVsNJM         model.CompositeID = "agreement-vs-njm"
	NJMToApptShowed        model.CompositeID = "njm-to-appt-showed"
	ContactedToAppointment model.CompositeID = "contacted-to-appointment"
)

// Side is one tab of a composite drill-down.
type Side struct {
	Label      string
	MetricType model.MetricTypeID
	Role       model.Role
}

var composites = map[model.CompositeID][2]Side{
	OnlineVsOffline: {
		{Label: "Online", MetricType: query.OnlineNJMs, Role: model.RoleOnline},
		{Label: "Offline", MetricType: query.OfflineNJMs, Role: model.RoleOffline},
	},
	LeadToSale: {
		{Label: "NJMs", MetricType: query.TotalNJMs, Role: model.RoleNJM},
		{Label: "Leads", MetricType: query.TotalLeads, Role: model.RoleLead},
	},
	LeadToAppointment: {
		{Label: "Appointments", MetricType: query.TotalAppointments, Role: model.RoleAppointment},
		{Label: "Leads", MetricType: query.TotalLeads, Role: model.RoleLead},
	},
	AppointmentToSale: {
		{Label: "NJMs", MetricType: query.TotalNJMs, Role: model.RoleNJM},
		{Label: "Appointments", MetricType: query.TotalAppointments, Role: model.RoleAppointment},
	},
	AgreementVsNJM: {
		{Label: "Agreements", MetricType: query.Agreements, Role: model.RoleAgreement},
		{Label: "NJMs", MetricType: query.TotalNJMs, Role: model.RoleNJM},
	},
	NJMToApptShowed: {
		{Label: "NJMs", MetricType: query.TotalNJMs, Role: model.RoleNJM},
		{Label: "Appointments Showed", MetricType: query.AppointmentsShowed, Role: model.RoleShowed},
	},
	ContactedToAppointment: {
		{Label: "Appointments", MetricType: query.TotalAppointments, Role: model.RoleAppointment},
		{Label: "Contacted", MetricType: query.ContactedLeads, Role: model.RoleContacted},
	},
}

// Sides returns the two tabs of composite, in display order.
func Sides(composite model.CompositeID) ([2]Side, bool) {
	s, ok := composites[composite]
	return s, ok
}

// Composites returns every known composite, sorted.
func Composites() []model.CompositeID {
	ids := make([]model.CompositeID, 0, len(composites))
	for id := range composites {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
