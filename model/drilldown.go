package model

// MetricTypeID names a single drill-down metric type.
type MetricTypeID string

// CompositeID names a tabbed drill-down that joins two metric types.
type CompositeID string

// Role identifies one side of a tabbed drill-down. Page cursors are tracked
// per role so switching tabs keeps each side's position.
type Role string

// Drill-down roles.
const (
	RoleOnline      Role = "online"
	RoleOffline     Role = "offline"
	RoleNJM         Role = "njm"
	RoleLead        Role = "lead"
	RoleAppointment Role = "appointment"
	RoleContacted   Role = "contacted"
	RoleAgreement   Role = "agreement"
	RoleShowed      Role = "showed"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleOnline, RoleOffline, RoleNJM, RoleLead, RoleAppointment,
		RoleContacted, RoleAgreement, RoleShowed:
		return true
	}
	return false
}

// Opportunity is a normalised opportunity record ready for display. Every
// string field falls back to "-" when the reporting API omits it.
type Opportunity struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	Phone        string  `json:"phone"`
	AssignedTo   string  `json:"assigned_to"`
	LeadSource   string  `json:"lead_source"`
	Stage        string  `json:"stage"`
	Pipeline     string  `json:"pipeline"`
	Location     string  `json:"location"`
	Status       string  `json:"status"`
	Value        float64 `json:"value"`
	CreatedAt    string  `json:"created_at"`
	LastActivity string  `json:"last_activity"`
}

// OpportunityPage is one server-side page of opportunities.
type OpportunityPage struct {
	Records    []Opportunity `json:"records"`
	TotalCount int           `json:"total_count"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
	Params     Params        `json:"query_params,omitempty"`
}

// DrilldownTab is one side of a tabbed drill-down.
type DrilldownTab struct {
	Label      string        `json:"label"`
	MetricType MetricTypeID  `json:"metric_type"`
	Role       Role          `json:"role"`
	Data       []Opportunity `json:"data"`
	TotalCount int           `json:"total_count"`
	Page       int           `json:"page"`
	TotalPages int           `json:"total_pages"`
	Params     Params        `json:"query_params,omitempty"`
	Loading    bool          `json:"loading"`
	Error      string        `json:"error,omitempty"`
	Generation int64         `json:"generation"`
}

// DrilldownModal is the single active drill-down. It is either flat
// (MetricType set, Tabs empty) or tabbed (Composite set, two Tabs).
type DrilldownModal struct {
	Open          bool           `json:"open"`
	Title         string         `json:"title"`
	MetricType    MetricTypeID   `json:"metric_type,omitempty"`
	Composite     CompositeID    `json:"composite,omitempty"`
	ExpectedCount int            `json:"expected_count,omitempty"`
	ExtraParams   Params         `json:"extra_params,omitempty"`
	Records       []Opportunity  `json:"records,omitempty"`
	TotalCount    int            `json:"total_count"`
	Page          int            `json:"page"`
	TotalPages    int            `json:"total_pages"`
	Tabs          []DrilldownTab `json:"tabs,omitempty"`
	ActiveTab     int            `json:"active_tab"`
	Pages         map[Role]int   `json:"pages,omitempty"`
	Loading       bool           `json:"loading"`
	Error         string         `json:"error,omitempty"`
	Generation    int64          `json:"generation"`
}

// Tabbed reports whether the modal shows a composite metric.
func (m DrilldownModal) Tabbed() bool {
	return m.Composite != ""
}

// Clone returns a deep copy of m.
func (m DrilldownModal) Clone() DrilldownModal {
	out := m
	if m.ExtraParams != nil {
		out.ExtraParams = m.ExtraParams.Clone()
	}
	if m.Records != nil {
		out.Records = append([]Opportunity(nil), m.Records...)
	}
	if m.Tabs != nil {
		out.Tabs = make([]DrilldownTab, len(m.Tabs))
		for i, t := range m.Tabs {
			if t.Data != nil {
				t.Data = append([]Opportunity(nil), t.Data...)
			}
			if t.Params != nil {
				t.Params = t.Params.Clone()
			}
			out.Tabs[i] = t
		}
	}
	if m.Pages != nil {
		out.Pages = make(map[Role]int, len(m.Pages))
		for r, p := range m.Pages {
			out.Pages[r] = p
		}
	}
	return out
}

// ExportResult is the reporting API answer to a CSV generation request.
type ExportResult struct {
	FileURL          string  `json:"file_url"`
	TimeTakenSeconds float64 `json:"time_taken_seconds"`
}
