package query

import "github.com/pitabwire/clubpulse/model"

// ResolvePipelines expands selected pipeline categories into concrete
// pipeline names, in selection order. It returns nil, meaning no pipeline
// restriction, when the selection is "all" or when no selected category is
// known to the map.
func ResolvePipelines(selected model.Selection, categories model.PipelineCategoryMap) []string {
	if selected.IsAll() {
		return nil
	}
	var names []string
	for _, category := range selected.Values() {
		names = append(names, categories[category]...)
	}
	if len(names) == 0 {
		return nil
	}
	return names
}

// resolveDescriptorPipeline maps a descriptor pipeline through the category
// map when it names a category, otherwise it is used literally.
func resolveDescriptorPipeline(pipeline string, categories model.PipelineCategoryMap) []string {
	if pipeline == "" {
		return nil
	}
	if names, ok := categories[pipeline]; ok && len(names) > 0 {
		out := make([]string, len(names))
		copy(out, names)
		return out
	}
	return []string{pipeline}
}
