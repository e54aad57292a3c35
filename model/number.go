package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Number is a reporting API numeric field. It decodes from JSON numbers,
// numeric strings and null; anything unparseable decodes as 0.
type Number float64

// UnmarshalJSON implements json.Unmarshaler and never fails.
func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number(ParseNumber(json.RawMessage(data)))
	return nil
}

// Float returns n as a float64.
func (n Number) Float() float64 {
	return float64(n)
}

// Int returns n truncated to an int.
func (n Number) Int() int {
	return int(n)
}

// ParseNumber converts a loosely typed JSON value into a float64. Strings are
// trimmed and may carry thousands separators. NaN and infinities become 0.
func ParseNumber(v any) float64 {
	var f float64
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		f, _ = t.Float64()
	case Number:
		f = float64(t)
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(t), ",", "")
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		f = parsed
	case json.RawMessage:
		raw := bytes.TrimSpace(t)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			return 0
		}
		if raw[0] == '"' {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return 0
			}
			return ParseNumber(s)
		}
		parsed, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
