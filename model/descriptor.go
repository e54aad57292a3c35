package model

// PipelineCategoryMap maps a user-facing pipeline category to the concrete
// pipeline names the reporting API filters on. It is read-only once fetched.
type PipelineCategoryMap map[string][]string

// OptionDescriptor is a single selectable value of a filter.
type OptionDescriptor struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Group string `json:"group,omitempty"`
}

// LookupResponse is returned by the lookup endpoint.
type LookupResponse struct {
	Data LookupPayload  `json:"data"`
	Meta map[string]any `json:"meta,omitempty"`
}

// LookupPayload wraps the options of a lookup.
type LookupPayload struct {
	Options []OptionDescriptor `json:"options"`
}

// Location is a club as returned by the reporting API's /locations/ endpoint.
type Location struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Country        string `json:"country"`
	CountryDisplay string `json:"country_display"`
}
