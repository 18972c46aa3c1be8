package core

import (
	"encoding/json"
	"time"
)

// Serialize encodes an arbitrary structured value to JSON text. time.Time
// values encode to RFC 3339 strings, which Deserialize restores, so tool
// arguments and results survive the round trip across the LLM text boundary.
func Serialize(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Deserialize decodes JSON text into generic Go values, reviving RFC 3339
// date strings into time.Time so Deserialize(Serialize(x)) preserves nested
// dates.
func Deserialize(text string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, err
	}
	return reviveDates(v), nil
}

// reviveDates walks a decoded JSON value converting RFC 3339 strings into
// time.Time. Maps and slices are rewritten in place.
func reviveDates(v any) any {
	switch val := v.(type) {
	case string:
		if t, ok := parseDate(val); ok {
			return t
		}
		return val
	case map[string]any:
		for k, elem := range val {
			val[k] = reviveDates(elem)
		}
		return val
	case []any:
		for i, elem := range val {
			val[i] = reviveDates(elem)
		}
		return val
	default:
		return v
	}
}

func parseDate(s string) (time.Time, bool) {
	// Cheap shape check before the full parse: RFC 3339 is at least
	// "2006-01-02T15:04:05Z" and starts with a 4-digit year.
	if len(s) < 20 || s[4] != '-' || s[7] != '-' || s[10] != 'T' {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
