package model

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Text is a reporting API scalar rendered as a string. It decodes from JSON
// strings, numbers and booleans; null and objects decode as "".
type Text string

// UnmarshalJSON implements json.Unmarshaler and never fails.
func (t *Text) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	switch {
	case len(raw) == 0, bytes.Equal(raw, []byte("null")):
		*t = ""
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			*t = ""
			return nil
		}
		*t = Text(s)
	case raw[0] == '{', raw[0] == '[':
		*t = ""
	default:
		if f, err := strconv.ParseFloat(string(raw), 64); err == nil {
			*t = Text(strconv.FormatFloat(f, 'f', -1, 64))
			return nil
		}
		*t = Text(raw)
	}
	return nil
}

// String returns t as a plain string.
func (t Text) String() string { return string(t) }

// Or returns t, or fallback when t is empty.
func (t Text) Or(fallback string) string {
	if t == "" {
		return fallback
	}
	return string(t)
}
