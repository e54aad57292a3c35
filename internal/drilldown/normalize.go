package drilldown

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/pitabwire/clubpulse/model"
)

// DisplayDateLayout is how record dates are rendered.
const DisplayDateLayout = "Jan 2, 2006"

const missing = "-"

// opportunityList is the /opportunities/ response.
type opportunityList struct {
	Count   model.Number        `json:"count"`
	Results []opportunityRecord `json:"results"`
}

type opportunityRecord struct {
	ID            model.Text   `json:"id"`
	Name          model.Text   `json:"name"`
	Contact       contactRef   `json:"contact"`
	AssignedTo    nameRef      `json:"assigned_to"`
	LeadSource    nameRef      `json:"lead_source"`
	Stage         nameRef      `json:"stage"`
	Pipeline      nameRef      `json:"pipeline"`
	Location      nameRef      `json:"location"`
	Status        model.Text   `json:"status"`
	MonetaryValue model.Number `json:"monetary_value"`
	Value         model.Number `json:"value"`
	CreatedAt     model.Text   `json:"created_at"`
	LastActivity  model.Text   `json:"last_activity"`
	UpdatedAt     model.Text   `json:"updated_at"`
}

type contactRef struct {
	Name      model.Text `json:"name"`
	FullName  model.Text `json:"full_name"`
	FirstName model.Text `json:"first_name"`
	LastName  model.Text `json:"last_name"`
	Email     model.Text `json:"email"`
	Phone     model.Text `json:"phone"`
}

// UnmarshalJSON leaves c empty unless data is an object, so a contact sent
// as a bare id or string renders as missing.
func (c *contactRef) UnmarshalJSON(data []byte) error {
	*c = contactRef{}
	raw := bytes.TrimSpace(data)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	type plain contactRef
	var v plain
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	*c = contactRef(v)
	return nil
}

func (c contactRef) displayName() string {
	if c.Name != "" {
		return c.Name.String()
	}
	if c.FullName != "" {
		return c.FullName.String()
	}
	return strings.TrimSpace(c.FirstName.String() + " " + c.LastName.String())
}

// nameRef is a reference the reporting API sends either as a scalar or as a
// nested object carrying a name-like field.
type nameRef string

var nameKeys = []string{"name", "full_name", "title", "display_name", "label"}

func (n *nameRef) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if len(raw) == 0 || raw[0] != '{' {
		var t model.Text
		_ = t.UnmarshalJSON(raw)
		*n = nameRef(t)
		return nil
	}
	var obj map[string]model.Text
	if err := json.Unmarshal(raw, &obj); err != nil {
		*n = ""
		return nil
	}
	for _, k := range nameKeys {
		if v := obj[k]; v != "" {
			*n = nameRef(v)
			return nil
		}
	}
	*n = ""
	return nil
}

func (n nameRef) or(fallback string) string {
	if n == "" {
		return fallback
	}
	return string(n)
}

// normalize flattens a wire record into its display form.
func normalize(r opportunityRecord) model.Opportunity {
	name := r.Contact.displayName()
	if name == "" {
		name = r.Name.String()
	}
	value := r.MonetaryValue.Float()
	if value == 0 {
		value = r.Value.Float()
	}
	lastActivity := r.LastActivity
	if lastActivity == "" {
		lastActivity = r.UpdatedAt
	}
	return model.Opportunity{
		ID:           r.ID.Or(missing),
		Name:         orMissing(name),
		Email:        r.Contact.Email.Or(missing),
		Phone:        r.Contact.Phone.Or(missing),
		AssignedTo:   r.AssignedTo.or(missing),
		LeadSource:   r.LeadSource.or(missing),
		Stage:        r.Stage.or(missing),
		Pipeline:     r.Pipeline.or(missing),
		Location:     r.Location.or(missing),
		Status:       r.Status.Or(missing),
		Value:        value,
		CreatedAt:    formatDate(r.CreatedAt.String()),
		LastActivity: formatDate(lastActivity.String()),
	}
}

func normalizeAll(records []opportunityRecord) []model.Opportunity {
	out := make([]model.Opportunity, 0, len(records))
	for _, r := range records {
		out = append(out, normalize(r))
	}
	return out
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// formatDate renders a reporting API timestamp as DisplayDateLayout, keeping
// the calendar date the API sent. Absent or unparseable input renders "-".
func formatDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return missing
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(DisplayDateLayout)
		}
	}
	return missing
}

func orMissing(s string) string {
	if strings.TrimSpace(s) == "" {
		return missing
	}
	return s
}
