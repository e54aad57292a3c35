package model

import (
	"bytes"
	"encoding/json"
)

// ListKeys are the object keys a wrapped list may sit under, in lookup order.
var ListKeys = []string{"results", "data", "items", "locations", "lead_sources"}

// List decodes a reporting API list that arrives either as a bare JSON array
// or as an object wrapping the array under one of ListKeys. Anything else
// decodes as an empty list.
type List[T any] struct {
	Items []T
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *List[T]) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	l.Items = nil
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '[' {
		return json.Unmarshal(raw, &l.Items)
	}
	if raw[0] != '{' {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return err
	}
	for _, k := range ListKeys {
		if v, ok := obj[k]; ok {
			return json.Unmarshal(v, &l.Items)
		}
	}
	return nil
}
