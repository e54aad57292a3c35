package reporting

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// VerifyContract loads the reporting API's OpenAPI document and returns the
// endpoints this client calls that the document does not declare as GET
// operations. A document path matches when it equals an endpoint or ends
// with it, ignoring trailing slashes, so server prefixes such as /api are
// tolerated.
func VerifyContract(ctx context.Context, specPath string) ([]string, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromFile(specPath)
	if err != nil {
		return nil, fmt.Errorf("reporting: loading %s: %w", specPath, err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("reporting: validating %s: %w", specPath, err)
	}

	var declared []string
	if doc.Paths != nil {
		for path, item := range doc.Paths.Map() {
			if item.Get != nil {
				declared = append(declared, normalizePath(path))
			}
		}
	}

	var missing []string
	for _, ep := range Endpoints() {
		want := normalizePath(ep)
		found := false
		for _, d := range declared {
			if d == want || strings.HasSuffix(d, want) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, ep)
		}
	}
	sort.Strings(missing)
	return missing, nil
}

func normalizePath(p string) string {
	return "/" + strings.Trim(p, "/")
}
