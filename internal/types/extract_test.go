package types

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExtractString(t *testing.T) {
	tests := []struct {
		name string
		arg  interface{}
		want string
	}{
		{"string", "hello", "hello"},
		{"float64 integral", 7.0, "7"},
		{"float64", 3.14, "3.14"},
		{"int", 7, "7"},
		{"bool", true, "true"},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractString(tt.arg)
			if got != tt.want {
				t.Errorf("ExtractString(%v) = %q, want %q", tt.arg, got, tt.want)
			}
		})
	}
}

func TestExtractFloat64(t *testing.T) {
	tests := []struct {
		name   string
		arg    interface{}
		want   float64
		wantOK bool
	}{
		{"float64", 0.85, 0.85, true},
		{"int", 8, 8, true},
		{"numeric string", " 7.5 ", 7.5, true},
		{"json.Number", json.Number("6"), 6, true},
		{"word", "high", 0, false},
		{"nil", nil, 0, false},
		{"bool", true, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractFloat64(tt.arg)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ExtractFloat64(%v) = (%v, %v), want (%v, %v)", tt.arg, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestExtractStrings(t *testing.T) {
	tests := []struct {
		name string
		arg  interface{}
		want []string
	}{
		{"list", []interface{}{"a", " b ", "", 3.0}, []string{"a", "b", "3"}},
		{"single string", "solo", []string{"solo"}},
		{"blank string", "  ", []string{}},
		{"nil", nil, []string{}},
		{"object", map[string]interface{}{"x": 1.0}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ExtractStrings(tt.arg)); diff != "" {
				t.Errorf("ExtractStrings mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFieldDefaults(t *testing.T) {
	m := map[string]interface{}{
		"topic":      "  ",
		"confidence": "n/a",
		"score":      "9",
	}

	if got := FieldString(m, "topic", "Unknown"); got != "Unknown" {
		t.Errorf("blank field should fall back, got %q", got)
	}
	if got := FieldString(m, "missing", "Unknown"); got != "Unknown" {
		t.Errorf("missing field should fall back, got %q", got)
	}
	if got := FieldFloat64(m, "confidence", 0.5); got != 0.5 {
		t.Errorf("non-numeric field should fall back, got %v", got)
	}
	if got := FieldFloat64(m, "score", 0); got != 9 {
		t.Errorf("quoted number should parse, got %v", got)
	}
	if got := FieldStrings(m, "missing"); got == nil || len(got) != 0 {
		t.Errorf("missing list should be empty and non-nil, got %#v", got)
	}
}

func TestClamp01(t *testing.T) {
	for in, want := range map[float64]float64{-0.2: 0, 0.4: 0.4, 1.7: 1} {
		if got := Clamp01(in); got != want {
			t.Errorf("Clamp01(%v) = %v, want %v", in, got, want)
		}
	}
}
