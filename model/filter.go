package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// AllValue is the sentinel member meaning "no restriction".
const AllValue = "all"

// Selection is a multi-select filter value. It is either "all" or a
// non-empty, de-duplicated list of concrete members kept in the order they
// were selected. The zero value is "all"; a Selection is never empty.
type Selection struct {
	values []string
}

// All returns the unrestricted selection.
func All() Selection {
	return Selection{}
}

// NewSelection builds a Selection from raw values. Blank values are dropped
// and duplicates collapse. Any "all" member, or no concrete members at all,
// yields the unrestricted selection.
func NewSelection(values ...string) Selection {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		if v == AllValue {
			return All()
		}
		seen[v] = true
		out = append(out, v)
	}
	return Selection{values: out}
}

// IsAll reports whether the selection is unrestricted.
func (s Selection) IsAll() bool {
	return len(s.values) == 0
}

// Values returns a copy of the concrete members, or nil for "all".
func (s Selection) Values() []string {
	if s.IsAll() {
		return nil
	}
	out := make([]string, len(s.values))
	copy(out, s.values)
	return out
}

// Contains reports whether v is a concrete member of the selection.
func (s Selection) Contains(v string) bool {
	for _, m := range s.values {
		if m == v {
			return true
		}
	}
	return false
}

// Toggle flips membership of v. Toggling "all" resets the selection; toggling
// a concrete value while "all" is selected narrows to just that value;
// removing the last concrete member collapses back to "all".
func (s Selection) Toggle(v string) Selection {
	v = strings.TrimSpace(v)
	if v == "" {
		return s
	}
	if v == AllValue {
		return All()
	}
	if s.IsAll() {
		return Selection{values: []string{v}}
	}
	if !s.Contains(v) {
		out := make([]string, 0, len(s.values)+1)
		out = append(out, s.values...)
		return Selection{values: append(out, v)}
	}
	out := make([]string, 0, len(s.values)-1)
	for _, m := range s.values {
		if m != v {
			out = append(out, m)
		}
	}
	return Selection{values: out}
}

// MarshalJSON renders "all" as ["all"] so the browser never sees an empty set.
func (s Selection) MarshalJSON() ([]byte, error) {
	if s.IsAll() {
		return json.Marshal([]string{AllValue})
	}
	return json.Marshal(s.values)
}

// UnmarshalJSON accepts an array of strings, a single string, or null.
func (s *Selection) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*s = All()
		return nil
	}
	if strings.HasPrefix(trimmed, "\"") {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*s = NewSelection(single)
		return nil
	}
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("selection: %w", err)
	}
	*s = NewSelection(values...)
	return nil
}

// DateRange is the symbolic date range selector.
type DateRange string

// Supported date ranges.
const (
	Last7Days   DateRange = "last-7-days"
	Last30Days  DateRange = "last-30-days"
	Last90Days  DateRange = "last-90-days"
	LastYear    DateRange = "last-year"
	CustomRange DateRange = "custom-range"
)

// Valid reports whether r is one of the known ranges.
func (r DateRange) Valid() bool {
	switch r {
	case Last7Days, Last30Days, Last90Days, LastYear, CustomRange:
		return true
	}
	return false
}

// FilterField names one of the multi-select filters.
type FilterField string

// Multi-select filter fields.
const (
	FieldCountry      FilterField = "country"
	FieldClub         FilterField = "club"
	FieldAssignedUser FilterField = "assigned_user"
	FieldLeadSource   FilterField = "lead_source"
	FieldPipeline     FilterField = "pipeline"
)

// FilterState is the single source of truth for query scoping.
type FilterState struct {
	Country         Selection `json:"country"`
	Club            Selection `json:"club"`
	AssignedUser    Selection `json:"assigned_user"`
	LeadSource      Selection `json:"lead_source"`
	Pipeline        Selection `json:"pipeline"`
	DateRange       DateRange `json:"date_range" validate:"required,oneof=last-7-days last-30-days last-90-days last-year custom-range"`
	CustomStartDate *string   `json:"custom_start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	CustomEndDate   *string   `json:"custom_end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// DefaultFilters returns filters with every selection set to "all".
func DefaultFilters(r DateRange) FilterState {
	if !r.Valid() || r == CustomRange {
		r = Last30Days
	}
	return FilterState{DateRange: r}
}

// Selection returns the selection held in field.
func (f FilterState) Selection(field FilterField) (Selection, bool) {
	switch field {
	case FieldCountry:
		return f.Country, true
	case FieldClub:
		return f.Club, true
	case FieldAssignedUser:
		return f.AssignedUser, true
	case FieldLeadSource:
		return f.LeadSource, true
	case FieldPipeline:
		return f.Pipeline, true
	}
	return Selection{}, false
}

// WithSelection returns a copy of f with field replaced.
func (f FilterState) WithSelection(field FilterField, sel Selection) (FilterState, error) {
	switch field {
	case FieldCountry:
		f.Country = sel
	case FieldClub:
		f.Club = sel
	case FieldAssignedUser:
		f.AssignedUser = sel
	case FieldLeadSource:
		f.LeadSource = sel
	case FieldPipeline:
		f.Pipeline = sel
	default:
		return f, NewBadRequestError(fmt.Sprintf("unknown filter field %q", field))
	}
	return f, nil
}

// WithDateRange returns a copy of f with the date range replaced. Custom
// dates are kept only for custom-range.
func (f FilterState) WithDateRange(r DateRange, start, end *string) FilterState {
	f.DateRange = r
	if r != CustomRange {
		f.CustomStartDate = nil
		f.CustomEndDate = nil
		return f
	}
	f.CustomStartDate = cloneString(start)
	f.CustomEndDate = cloneString(end)
	return f
}

// Validate checks the filters before they are applied.
func (f FilterState) Validate() error {
	err := filterValidator().Struct(f)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewBadRequestError(err.Error())
	}
	details := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, FieldError{
			Field:   fe.Field(),
			Code:    fe.Tag(),
			Message: fieldMessage(fe),
		})
	}
	return NewValidationError(details)
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func filterValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		v.RegisterStructValidation(customRangeRequiresDates, FilterState{})
		validate = v
	})
	return validate
}

// customRangeRequiresDates reports missing custom dates when the range is
// custom-range.
func customRangeRequiresDates(sl validator.StructLevel) {
	f := sl.Current().Interface().(FilterState)
	if f.DateRange != CustomRange {
		return
	}
	if f.CustomStartDate == nil || strings.TrimSpace(*f.CustomStartDate) == "" {
		sl.ReportError(f.CustomStartDate, "custom_start_date", "CustomStartDate", "required", "")
	}
	if f.CustomEndDate == nil || strings.TrimSpace(*f.CustomEndDate) == "" {
		sl.ReportError(f.CustomEndDate, "custom_end_date", "CustomEndDate", "required", "")
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "datetime":
		return fmt.Sprintf("%s must be a date formatted YYYY-MM-DD", fe.Field())
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
