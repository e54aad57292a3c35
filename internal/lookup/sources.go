package lookup

import (
	"bytes"
	"encoding/json"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/pitabwire/clubpulse/model"
)

// Lookup ids served by the provider.
const (
	PipelineCategories = "pipeline-categories"
	Clubs              = "clubs"
	Countries          = "countries"
	LeadSources        = "lead-sources"
)

// source is one reporting API resource backing one or more lookups.
type source string

const (
	sourcePipelines   source = "pipelines"
	sourceLocations   source = "locations"
	sourceLeadSources source = "lead-sources"
)

var lookupSources = map[string]source{
	PipelineCategories: sourcePipelines,
	Clubs:              sourceLocations,
	Countries:          sourceLocations,
	LeadSources:        sourceLeadSources,
}

// IDs returns every lookup id, sorted.
func IDs() []string {
	ids := make([]string, 0, len(lookupSources))
	for id := range lookupSources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// sourceData is what gets cached per source.
type sourceData struct {
	Categories  model.PipelineCategoryMap `json:"categories,omitempty"`
	Locations   []model.Location          `json:"locations,omitempty"`
	LeadSources []string                  `json:"lead_sources,omitempty"`
}

// categoryPayload decodes /pipelines/names/, which is either an object
// mapping category to pipeline names or a list of {category, pipelines}.
type categoryPayload struct {
	Categories model.PipelineCategoryMap
}

type categoryEntry struct {
	Category  model.Text   `json:"category"`
	Name      model.Text   `json:"name"`
	Pipelines []model.Text `json:"pipelines"`
	Names     []model.Text `json:"names"`
}

func (p *categoryPayload) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	p.Categories = model.PipelineCategoryMap{}
	if len(raw) == 0 {
		return nil
	}
	if raw[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return err
		}
		if inner, ok := obj["results"]; ok {
			return p.UnmarshalJSON(inner)
		}
		for category, v := range obj {
			var names model.List[model.Text]
			if err := json.Unmarshal(v, &names); err != nil {
				continue
			}
			p.add(category, names.Items)
		}
		return nil
	}
	if raw[0] == '[' {
		var entries []categoryEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return err
		}
		for _, e := range entries {
			category := e.Category
			if category == "" {
				category = e.Name
			}
			names := e.Pipelines
			if len(names) == 0 {
				names = e.Names
			}
			p.add(category.String(), names)
		}
	}
	return nil
}

func (p *categoryPayload) add(category string, names []model.Text) {
	if category == "" {
		return
	}
	for _, n := range names {
		if n != "" {
			p.Categories[category] = append(p.Categories[category], n.String())
		}
	}
}

type locationWire struct {
	ID             model.Text `json:"id"`
	Name           model.Text `json:"name"`
	Country        model.Text `json:"country"`
	CountryDisplay model.Text `json:"country_display"`
}

func (l locationWire) location() model.Location {
	return model.Location{
		ID:             l.ID.String(),
		Name:           l.Name.String(),
		Country:        l.Country.String(),
		CountryDisplay: l.CountryDisplay.String(),
	}
}

// options derives the option list of lookupID from d.
func options(lookupID string, d sourceData) []model.OptionDescriptor {
	switch lookupID {
	case PipelineCategories:
		names := make([]string, 0, len(d.Categories))
		for c := range d.Categories {
			names = append(names, c)
		}
		sort.Strings(names)
		return plainOptions(names)
	case Clubs:
		return clubOptions(d.Locations)
	case Countries:
		return countryOptions(d.Locations)
	case LeadSources:
		return plainOptions(d.LeadSources)
	}
	return nil
}

func plainOptions(values []string) []model.OptionDescriptor {
	out := make([]model.OptionDescriptor, 0, len(values))
	for _, v := range values {
		out = append(out, model.OptionDescriptor{Label: v, Value: v})
	}
	return out
}

// clubOptions lists clubs by name, grouped under their country.
func clubOptions(locs []model.Location) []model.OptionDescriptor {
	out := make([]model.OptionDescriptor, 0, len(locs))
	for _, l := range locs {
		if l.ID == "" {
			continue
		}
		label := l.Name
		if label == "" {
			label = l.ID
		}
		out = append(out, model.OptionDescriptor{Label: label, Value: l.ID, Group: countryLabel(l)})
	}
	c := newCollator()
	sort.SliceStable(out, func(i, j int) bool {
		if g := c.CompareString(out[i].Group, out[j].Group); g != 0 {
			return g < 0
		}
		return c.CompareString(out[i].Label, out[j].Label) < 0
	})
	return out
}

// countryOptions lists the distinct countries of locs, by display name.
func countryOptions(locs []model.Location) []model.OptionDescriptor {
	seen := make(map[string]bool)
	out := make([]model.OptionDescriptor, 0)
	for _, l := range locs {
		if l.Country == "" || seen[l.Country] {
			continue
		}
		seen[l.Country] = true
		out = append(out, model.OptionDescriptor{Label: countryLabel(l), Value: l.Country})
	}
	c := newCollator()
	sort.SliceStable(out, func(i, j int) bool { return c.CompareString(out[i].Label, out[j].Label) < 0 })
	return out
}

// newCollator compares labels ignoring case and accents. Collators are not
// safe for concurrent use.
func newCollator() *collate.Collator {
	return collate.New(language.English, collate.IgnoreCase, collate.Loose)
}

func countryLabel(l model.Location) string {
	if l.CountryDisplay != "" {
		return l.CountryDisplay
	}
	return l.Country
}
