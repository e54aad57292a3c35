package aggregate

import (
	"math"
	"sort"

	"github.com/pitabwire/clubpulse/model"
)

// Ratio returns numerator/denominator as a percentage rounded to two
// decimals, or 0 when either operand is 0 or the result is not finite.
func Ratio(numerator, denominator float64) float64 {
	if numerator == 0 || denominator == 0 {
		return 0
	}
	r := numerator / denominator * 100
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return round(r, 2)
}

// Breakdown turns a label to count mapping into items ordered by count
// descending, then name ascending. Percentages are of the mapping's total,
// rounded to one decimal. An empty or all-zero mapping yields an empty slice.
func Breakdown(counts map[string]model.Number) []model.BreakdownItem {
	var total float64
	for _, v := range counts {
		total += v.Float()
	}
	items := make([]model.BreakdownItem, 0, len(counts))
	if total == 0 {
		return items
	}
	for name, v := range counts {
		items = append(items, model.BreakdownItem{
			Name:       name,
			Value:      v.Float(),
			Percentage: round(v.Float()/total*100, 1),
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Value != items[j].Value {
			return items[i].Value > items[j].Value
		}
		return items[i].Name < items[j].Name
	})
	return items
}

// sumTrends totals each granularity of a trend payload.
func sumTrends(p trendPayload) model.TrendSums {
	return model.TrendSums{
		Daily:   sumSeries(p.Daily),
		Weekly:  sumSeries(p.Weekly),
		Monthly: sumSeries(p.Monthly),
	}
}

func sumSeries(points []trendPoint) model.TrendTotals {
	var t model.TrendTotals
	for _, p := range points {
		t.Leads += p.Leads.Float()
		t.Appointments += p.Appointments.Float()
		t.NJMs += p.NJMs.Float()
	}
	t.Periods = len(points)
	return t
}

func salesMetrics(s salesPayload, a appointmentPayload) *model.SalesMetrics {
	m := &model.SalesMetrics{
		TotalLeads:         s.TotalLeads.Float(),
		TotalNJMs:          s.TotalNJMs.Float(),
		ContactedLeads:     s.ContactedLeads.Float(),
		OnlineNJMs:         s.OnlineNJMs.Float(),
		OfflineNJMs:        s.OfflineNJMs.Float(),
		TotalAgreements:    s.TotalAgreements.Float(),
		TotalRevenue:       s.TotalRevenue.Float(),
		TotalAppointments:  a.TotalAppointments.Float(),
		AppointmentsShowed: a.Showed.Float(),
		AppointmentsNoShow: a.NoShow.Float(),
		Cancelled:          a.Cancelled.Float(),
	}
	m.LeadToSaleRatio = Ratio(m.TotalNJMs, m.TotalLeads)
	m.LeadToAppointmentRatio = Ratio(m.TotalAppointments, m.TotalLeads)
	m.AppointmentToSaleRatio = Ratio(m.TotalNJMs, m.TotalAppointments)
	m.ContactedToAppointmentRatio = Ratio(m.TotalAppointments, m.ContactedLeads)
	m.ShowedRatio = Ratio(m.AppointmentsShowed, m.TotalAppointments)
	m.AgreementToNJMRatio = Ratio(m.TotalAgreements, m.TotalNJMs)
	m.OnlineShare = Ratio(m.OnlineNJMs, m.OnlineNJMs+m.OfflineNJMs)
	return m
}

func onboardingMetrics(p onboardingPayload) *model.OnboardingMetrics {
	return &model.OnboardingMetrics{
		TotalMembers:   p.TotalMembers.Float(),
		Completed:      p.Completed.Float(),
		InProgress:     p.InProgress.Float(),
		Pending:        p.Pending.Float(),
		CompletionRate: Ratio(p.Completed.Float(), p.TotalMembers.Float()),
		Types:          Breakdown(p.Types),
	}
}

func defaulterMetrics(p defaulterPayload) *model.DefaulterMetrics {
	return &model.DefaulterMetrics{
		TotalDefaulters:   p.TotalDefaulters.Float(),
		PTPCount:          p.PTPCount.Float(),
		RecoveredCount:    p.RecoveredCount.Float(),
		OutstandingAmount: p.OutstandingAmount.Float(),
		RecoveredAmount:   p.RecoveredAmount.Float(),
		PTPRate:           Ratio(p.PTPCount.Float(), p.TotalDefaulters.Float()),
		RecoveryRate:      Ratio(p.RecoveredCount.Float(), p.TotalDefaulters.Float()),
		Statuses:          Breakdown(p.Statuses),
	}
}

func locationStats(rows []locationRow) []model.LocationStats {
	out := make([]model.LocationStats, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.stats())
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
