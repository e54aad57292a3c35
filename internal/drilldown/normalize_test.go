package drilldown

import (
	"encoding/json"
	"testing"

	"github.com/pitabwire/clubpulse/internal/query"
	"github.com/pitabwire/clubpulse/model"
)

func TestComposites_referenceKnownMetricTypes(t *testing.T) {
	ids := Composites()
	if len(ids) != 7 {
		t.Fatalf("Composites() = %d entries, want 7", len(ids))
	}
	for _, id := range ids {
		sides, ok := Sides(id)
		if !ok {
			t.Fatalf("Sides(%q) missing", id)
		}
		if sides[0].Role == sides[1].Role {
			t.Errorf("%s: both sides share role %q", id, sides[0].Role)
		}
		for _, s := range sides {
			if _, ok := query.Lookup(s.MetricType); !ok {
				t.Errorf("%s: unknown metric type %q", id, s.MetricType)
			}
			if !s.Role.Valid() {
				t.Errorf("%s: invalid role %q", id, s.Role)
			}
			if s.Label == "" {
				t.Errorf("%s: empty label", id)
			}
		}
	}
}

func TestNameRef_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in   string
		want nameRef
	}{
		{`"Sales Pipeline"`, "Sales Pipeline"},
		{`42`, "42"},
		{`null`, ""},
		{`{"id": 3, "name": "Won"}`, "Won"},
		{`{"full_name": "Ben Ong"}`, "Ben Ong"},
		{`{"title": "Makati"}`, "Makati"},
		{`{"id": 3}`, ""},
		{`{"name": {"nested": true}}`, ""},
		{`[1, 2]`, ""},
	}
	for _, tt := range tests {
		var got nameRef
		if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
			t.Fatalf("Unmarshal(%s): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("Unmarshal(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalize_fallbacks(t *testing.T) {
	var r opportunityRecord
	if err := json.Unmarshal([]byte(`{}`), &r); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	got := normalize(r)
	want := model.Opportunity{
		ID: "-", Name: "-", Email: "-", Phone: "-", AssignedTo: "-", LeadSource: "-",
		Stage: "-", Pipeline: "-", Location: "-", Status: "-", CreatedAt: "-", LastActivity: "-",
	}
	if got != want {
		t.Errorf("normalize({}) = %+v, want %+v", got, want)
	}

	for _, contact := range []string{`55`, `"Cara"`, `null`, `[1, 2]`, `{"name": 7, "email": ["x"]}`} {
		var list opportunityList
		body := `{"count": 1, "results": [{"id": 1, "name": "Walk-in lead", "contact": ` + contact + `}]}`
		if err := json.Unmarshal([]byte(body), &list); err != nil {
			t.Fatalf("contact %s: Unmarshal: %v", contact, err)
		}
		if len(list.Results) != 1 {
			t.Fatalf("contact %s: %d results", contact, len(list.Results))
		}
		got := normalize(list.Results[0])
		if got.ID != "1" || got.Email != "-" || got.Phone != "-" {
			t.Errorf("contact %s: normalize = %+v", contact, got)
		}
	}
}

func TestNormalize_valueAndDates(t *testing.T) {
	var r opportunityRecord
	body := `{"id": 5, "contact": {"name": "Cara", "phone": "+63 900"}, "value": 250.5,
		"created_at": "2024-01-09", "updated_at": "2024-02-29T23:59:59.123456"}`
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	got := normalize(r)
	if got.Name != "Cara" || got.Phone != "+63 900" {
		t.Errorf("contact = %q %q", got.Name, got.Phone)
	}
	if got.Value != 250.5 {
		t.Errorf("Value = %v, want 250.5", got.Value)
	}
	if got.CreatedAt != "Jan 9, 2024" {
		t.Errorf("CreatedAt = %q", got.CreatedAt)
	}
	if got.LastActivity != "Feb 29, 2024" {
		t.Errorf("LastActivity = %q", got.LastActivity)
	}
}

func TestFormatDate(t *testing.T) {
	tests := map[string]string{
		"":                          "-",
		"   ":                       "-",
		"not a date":                "-",
		"2024-03-01T08:30:00Z":      "Mar 1, 2024",
		"2024-03-01T23:30:00+08:00": "Mar 1, 2024",
		"2024-12-25 10:00:00":       "Dec 25, 2024",
		"2023-07-04":                "Jul 4, 2023",
	}
	for in, want := range tests {
		if got := formatDate(in); got != want {
			t.Errorf("formatDate(%q) = %q, want %q", in, got, want)
		}
	}
}
