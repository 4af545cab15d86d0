package sheetcalc

import (
	"testing"
	"time"
)

func TestToNumber(t *testing.T) {
	tests := []struct {
		name  string
		value Primitive
		want  float64
		ok    bool
	}{
		{"float", 2.5, 2.5, true},
		{"int", 3, 3, true},
		{"int64", int64(4), 4, true},
		{"true", true, 1, true},
		{"false", false, 0, true},
		{"numeric string", "12.5", 12.5, true},
		{"scientific string", "1e3", 1000, true},
		{"text", "abc", 0, false},
		{"empty cell", nil, 0, false},
		{"time packs to serial", time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC), 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := toNumber(tt.value)
			if ok != tt.ok || (ok && got != tt.want) {
				t.Errorf("toNumber(%v) = %v, %v; want %v, %v", tt.value, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestToString(t *testing.T) {
	tests := []struct {
		name  string
		value Primitive
		want  string
	}{
		{"empty", nil, ""},
		{"text", "hi", "hi"},
		{"true", true, "TRUE"},
		{"false", false, "FALSE"},
		{"integer-valued float", 3.0, "3"},
		{"fractional float", 2.5, "2.5"},
		{"error value", NewCalcError(ErrorCodeDiv0, "detail"), "#DIV/0!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toString(tt.value); got != tt.want {
				t.Errorf("toString(%v) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestIsTruthy(t *testing.T) {
	truthy := []Primitive{true, 1.0, -1.0, "x", NewCalcError(ErrorCodeNA, "")}
	falsy := []Primitive{false, 0.0, "", nil}

	for _, v := range truthy {
		if !isTruthy(v) {
			t.Errorf("isTruthy(%v) = false, want true", v)
		}
	}
	for _, v := range falsy {
		if isTruthy(v) {
			t.Errorf("isTruthy(%v) = true, want false", v)
		}
	}
}
