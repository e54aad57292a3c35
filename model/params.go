package model

import (
	"net/url"
	"sort"
	"strings"
)

// Params is a flat reporting API query. Every value is array-valued; scalars
// are stored as one-element slices.
type Params map[string][]string

// Set replaces the values stored under key. Empty input removes the key.
func (p Params) Set(key string, values ...string) {
	if len(values) == 0 {
		delete(p, key)
		return
	}
	out := make([]string, len(values))
	copy(out, values)
	p[key] = out
}

// Get returns the first value stored under key.
func (p Params) Get(key string) string {
	if vs := p[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Has reports whether key is present.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Clone returns a deep copy of p.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, vs := range p {
		out.Set(k, vs...)
	}
	return out
}

// Merge copies every key of other into p, replacing existing values.
func (p Params) Merge(other Params) {
	for k, vs := range other {
		p.Set(k, vs...)
	}
}

// Encode serialises p as a query string. Keys are sorted and each key appears
// once, its members joined with a literal comma: country=ph,id.
func (p Params) Encode() string {
	if len(p) == 0 {
		return ""
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vs := p[k]
		if len(vs) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		for i, v := range vs {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}
