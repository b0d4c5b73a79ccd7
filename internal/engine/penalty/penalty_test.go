package penalty

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestApplyModels(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		descriptor string
		amount     float64
		want       float64
	}{
		{name: "linear", descriptor: `{"model":"linear","weight":2,"perViolation":5}`, amount: 3, want: 11},
		{name: "default linear", descriptor: `{"weight":4}`, amount: 2.5, want: 10},
		{name: "quadratic default exponent", descriptor: `{"model":"quadratic","weight":3}`, amount: 4, want: 48},
		{name: "quadratic exponent", descriptor: `{"model":"quadratic","weight":1,"exponent":3}`, amount: 2, want: 8},
		{name: "exponential base", descriptor: `{"model":"exponential","weight":2,"base":2}`, amount: 3, want: 14},
		{name: "logarithmic", descriptor: `{"model":"logarithmic","weight":10}`, amount: math.E - 1, want: 10},
		{name: "step", descriptor: `{"model":"step","weight":7}`, amount: 12, want: 7},
		{name: "flat", descriptor: `{"model":"flat","weight":7}`, amount: 0.5, want: 7},
		{name: "lexicographic default weight", descriptor: `{"model":"lexicographic"}`, amount: 2, want: 2e9},
		{name: "piecewise with above", descriptor: `{"model":"piecewise","tiers":[{"upTo":2,"weight":10},{"above":0,"weight":1}]}`, amount: 5, want: 23},
		{name: "piecewise unsorted remainder at base", descriptor: `{"model":"piecewise","weight":100,"tiers":[{"upTo":3,"weight":2},{"upTo":1,"weight":10}]}`, amount: 5, want: 10 + 3*2 + 100},
		{name: "unknown model falls back to linear", descriptor: `{"model":"cubic-ish","weight":3,"perViolation":100}`, amount: 2, want: 6},
		{name: "zero amount", descriptor: `{"model":"flat","weight":7}`, amount: 0, want: 0},
		{name: "negative amount", descriptor: `{"model":"linear","weight":2,"perViolation":5}`, amount: -1, want: 0},
		{name: "nan amount", descriptor: `{"model":"linear","weight":2}`, amount: math.NaN(), want: 0},
		{name: "inf amount", descriptor: `{"model":"linear","weight":2}`, amount: math.Inf(1), want: 0},
		{name: "overflow saturates", descriptor: `{"model":"exponential","weight":1,"base":10}`, amount: 400, want: math.MaxFloat64},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			model, err := Parse(json.RawMessage(tc.descriptor))
			if err != nil {
				t.Fatalf("unexpected parse error: %v", err)
			}
			got := Apply(model, tc.amount)
			if math.Abs(got-tc.want) > 1e-9 && got != tc.want {
				t.Fatalf("%s: expected %v, got %v", model.Describe(), tc.want, got)
			}
		})
	}
}

func TestParseRejectsMalformedTier(t *testing.T) {
	t.Parallel()

	_, err := Parse(json.RawMessage(`{"model":"piecewise","tiers":[{"upTo":2,"weight":1},{"weight":5}]}`))
	if !errors.Is(err, ErrMalformedTier) {
		t.Fatalf("expected malformed tier error, got %v", err)
	}
}

func TestParseRequiresDescriptor(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "null", "  "} {
		if _, err := Parse(json.RawMessage(raw)); !errors.Is(err, ErrMissingDescriptor) {
			t.Fatalf("expected missing descriptor error for %q, got %v", raw, err)
		}
	}
	if _, err := Parse(json.RawMessage(`{"weight":"heavy"}`)); err == nil {
		t.Fatalf("expected decode error for non-numeric weight")
	}
}

func TestParseRejectsNonObjectDescriptor(t *testing.T) {
	t.Parallel()

	if _, err := Parse(json.RawMessage(`[1,2]`)); err == nil {
		t.Fatalf("expected decode error for array descriptor")
	}
	model, err := Parse(json.RawMessage(`{"model":"linear","weight":2,"perViolation":5}`))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if got := Apply(model, 3); got != 11 {
		t.Fatalf("expected 11, got %v", got)
	}
}

func TestDescribeNamesVariant(t *testing.T) {
	t.Parallel()

	model, err := Parse(json.RawMessage(`{"model":"tiered","weight":1,"tiers":[{"upTo":2,"weight":10},{"above":2,"weight":3}]}`))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if model.Tag() != TagPiecewise {
		t.Fatalf("expected tiered to parse as piecewise, got %s", model.Tag())
	}
	if got := model.Describe(); got != "piecewise(weight=1, tiers=[2@10, rest@3])" {
		t.Fatalf("unexpected description: %s", got)
	}
}
