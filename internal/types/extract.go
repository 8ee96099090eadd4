package types

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// ANALYZER FIELD EXTRACTION UTILITIES
// =============================================================================
//
// Analyzer output is decoded into map[string]interface{} and the model does
// not always respect the requested field types. These helpers pull typed
// values out of such maps without panicking. Decoded JSON values are one of:
//   - string
//   - float64 (json.Number is also accepted)
//   - bool
//   - []interface{}
//   - map[string]interface{}
//   - nil

// ExtractString extracts a string representation from a decoded value.
func ExtractString(arg interface{}) string {
	switch v := arg.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ExtractFloat64 extracts a float64 value from a decoded value. Numeric
// strings ("7", "0.8") are accepted since models quote numbers often.
// Returns (value, true) on success, (0, false) if the value is not numeric.
func ExtractFloat64(arg interface{}) (float64, bool) {
	switch v := arg.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case interface{ Float64() (float64, error) }:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// ExtractStrings extracts a list of non-empty strings. A lone string is
// treated as a one-element list.
func ExtractStrings(arg interface{}) []string {
	switch v := arg.(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := strings.TrimSpace(ExtractString(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return []string{s}
		}
		return []string{}
	default:
		return []string{}
	}
}

// FieldString returns m[key] as a string, or def when absent or blank.
func FieldString(m map[string]interface{}, key, def string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	s := strings.TrimSpace(ExtractString(v))
	if s == "" {
		return def
	}
	return s
}

// FieldFloat64 returns m[key] as a float64, or def when absent or non-numeric.
func FieldFloat64(m map[string]interface{}, key string, def float64) float64 {
	v, ok := m[key]
	if !ok {
		return def
	}
	f, ok := ExtractFloat64(v)
	if !ok {
		return def
	}
	return f
}

// FieldStrings returns m[key] as a string list (never nil).
func FieldStrings(m map[string]interface{}, key string) []string {
	return ExtractStrings(m[key])
}

// Clamp01 limits a confidence value to [0,1].
func Clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
