package penalty

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Model tags accepted in a penalty descriptor.
const (
	TagLinear        = "linear"
	TagQuadratic     = "quadratic"
	TagExponential   = "exponential"
	TagLogarithmic   = "logarithmic"
	TagStep          = "step"
	TagFlat          = "flat"
	TagLexicographic = "lexicographic"
	TagPiecewise     = "piecewise"
	TagTiered        = "tiered"
)

// LexicographicScale makes one lexicographic unit dominate any ordinary penalty.
const LexicographicScale = 1e9

var (
	// ErrMissingDescriptor is returned when no penalty descriptor is present.
	ErrMissingDescriptor = errors.New("penalty descriptor is required")
	// ErrMalformedTier is returned for a piecewise tier without upTo or above.
	ErrMalformedTier = errors.New("piecewise tier requires a positive upTo or an above bound")
)

// Model converts a violation amount into penalty points.
type Model interface {
	// Tag is the descriptor model name.
	Tag() string
	// Describe renders the model parameters for explanations.
	Describe() string
	compute(x float64) float64
}

// Linear charges weight·x + perViolation.
type Linear struct {
	Weight       float64
	PerViolation float64
}

func (Linear) Tag() string { return TagLinear }
func (m Linear) Describe() string {
	return fmt.Sprintf("linear(weight=%s, perViolation=%s)", num(m.Weight), num(m.PerViolation))
}
func (m Linear) compute(x float64) float64 { return m.Weight*x + m.PerViolation }

// Quadratic charges weight·x^exponent.
type Quadratic struct {
	Weight   float64
	Exponent float64
}

func (Quadratic) Tag() string { return TagQuadratic }
func (m Quadratic) Describe() string {
	return fmt.Sprintf("quadratic(weight=%s, exponent=%s)", num(m.Weight), num(m.Exponent))
}
func (m Quadratic) compute(x float64) float64 { return m.Weight * math.Pow(x, m.Exponent) }

// Exponential charges weight·(base^x − 1).
type Exponential struct {
	Weight float64
	Base   float64
}

func (Exponential) Tag() string { return TagExponential }
func (m Exponential) Describe() string {
	return fmt.Sprintf("exponential(weight=%s, base=%s)", num(m.Weight), num(m.Base))
}
func (m Exponential) compute(x float64) float64 { return m.Weight * (math.Pow(m.Base, x) - 1) }

// Logarithmic charges weight·ln(1+x).
type Logarithmic struct {
	Weight float64
}

func (Logarithmic) Tag() string { return TagLogarithmic }
func (m Logarithmic) Describe() string {
	return fmt.Sprintf("logarithmic(weight=%s)", num(m.Weight))
}
func (m Logarithmic) compute(x float64) float64 { return m.Weight * math.Log1p(x) }

// Step charges a flat weight once any violation exists.
type Step struct {
	Weight float64
	Flat   bool
}

func (m Step) Tag() string {
	if m.Flat {
		return TagFlat
	}
	return TagStep
}
func (m Step) Describe() string { return fmt.Sprintf("%s(weight=%s)", m.Tag(), num(m.Weight)) }
func (m Step) compute(float64) float64 {
	return m.Weight
}

// Lexicographic charges weight·1e9·x.
type Lexicographic struct {
	Weight float64
}

func (Lexicographic) Tag() string { return TagLexicographic }
func (m Lexicographic) Describe() string {
	return fmt.Sprintf("lexicographic(weight=%s)", num(m.Weight))
}
func (m Lexicographic) compute(x float64) float64 { return m.Weight * LexicographicScale * x }

// Tier is one piecewise band. Above tiers absorb whatever remains.
type Tier struct {
	UpTo   float64
	Above  bool
	Weight float64
}

// Piecewise charges each tier's weight for the part of x it absorbs.
type Piecewise struct {
	Weight float64
	Tiers  []Tier
}

func (Piecewise) Tag() string { return TagPiecewise }
func (m Piecewise) Describe() string {
	parts := make([]string, 0, len(m.Tiers))
	for _, tier := range m.Tiers {
		if tier.Above {
			parts = append(parts, fmt.Sprintf("rest@%s", num(tier.Weight)))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s@%s", num(tier.UpTo), num(tier.Weight)))
	}
	return fmt.Sprintf("piecewise(weight=%s, tiers=[%s])", num(m.Weight), strings.Join(parts, ", "))
}
func (m Piecewise) compute(x float64) float64 {
	remaining := x
	total := 0.0
	for _, tier := range m.Tiers {
		if remaining <= 0 {
			break
		}
		if tier.Above {
			total += remaining * tier.Weight
			remaining = 0
			break
		}
		used := math.Min(remaining, tier.UpTo)
		total += used * tier.Weight
		remaining -= used
	}
	if remaining > 0 {
		total += remaining * m.Weight
	}
	return total
}

// Fallback is used for unknown model tags and charges weight·x.
type Fallback struct {
	Name   string
	Weight float64
}

func (m Fallback) Tag() string { return m.Name }
func (m Fallback) Describe() string {
	return fmt.Sprintf("%s(weight=%s, as linear)", m.Name, num(m.Weight))
}
func (m Fallback) compute(x float64) float64 { return m.Weight * x }

// Apply evaluates m at x. It never fails: non-finite or non-positive amounts
// yield 0, NaN results yield 0 and infinite results saturate.
func Apply(m Model, x float64) float64 {
	if m == nil || math.IsNaN(x) || math.IsInf(x, 0) || x <= 0 {
		return 0
	}
	out := m.compute(x)
	switch {
	case math.IsNaN(out):
		return 0
	case math.IsInf(out, 1):
		return math.MaxFloat64
	case math.IsInf(out, -1):
		return -math.MaxFloat64
	}
	return out
}

type tierWire struct {
	UpTo   *float64 `json:"upTo"`
	Above  *float64 `json:"above"`
	Weight *float64 `json:"weight"`
}

type descriptorWire struct {
	Model        string     `json:"model"`
	Weight       *float64   `json:"weight"`
	PerViolation *float64   `json:"perViolation"`
	Exponent     *float64   `json:"exponent"`
	Base         *float64   `json:"base"`
	Tiers        []tierWire `json:"tiers"`
}

// Parse decodes a penalty descriptor into its model variant.
func Parse(raw json.RawMessage) (Model, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrMissingDescriptor
	}
	var wire descriptorWire
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return nil, fmt.Errorf("decode penalty descriptor: %w", err)
	}

	weight := value(wire.Weight, 0)
	tag := strings.ToLower(strings.TrimSpace(wire.Model))
	switch tag {
	case "", TagLinear:
		return Linear{Weight: weight, PerViolation: value(wire.PerViolation, 0)}, nil
	case TagQuadratic:
		return Quadratic{Weight: weight, Exponent: nonZero(wire.Exponent, 2)}, nil
	case TagExponential:
		return Exponential{Weight: weight, Base: nonZero(wire.Base, math.E)}, nil
	case TagLogarithmic:
		return Logarithmic{Weight: weight}, nil
	case TagStep:
		return Step{Weight: weight}, nil
	case TagFlat:
		return Step{Weight: weight, Flat: true}, nil
	case TagLexicographic:
		return Lexicographic{Weight: nonZero(wire.Weight, 1)}, nil
	case TagPiecewise, TagTiered:
		tiers, err := parseTiers(wire.Tiers)
		if err != nil {
			return nil, err
		}
		return Piecewise{Weight: weight, Tiers: tiers}, nil
	default:
		return Fallback{Name: tag, Weight: weight}, nil
	}
}

func parseTiers(in []tierWire) ([]Tier, error) {
	tiers := make([]Tier, 0, len(in))
	for i, t := range in {
		w := value(t.Weight, 0)
		switch {
		case t.UpTo != nil && *t.UpTo > 0:
			tiers = append(tiers, Tier{UpTo: *t.UpTo, Weight: w})
		case t.Above != nil:
			tiers = append(tiers, Tier{Above: true, Weight: w})
		default:
			return nil, fmt.Errorf("tier %d: %w", i, ErrMalformedTier)
		}
	}
	// Above tiers sort last; bounded tiers ascend by upTo.
	sort.SliceStable(tiers, func(i, j int) bool {
		if tiers[i].Above != tiers[j].Above {
			return !tiers[i].Above
		}
		return tiers[i].UpTo < tiers[j].UpTo
	})
	return tiers, nil
}

func value(v *float64, def float64) float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return def
	}
	return *v
}

func nonZero(v *float64, def float64) float64 {
	out := value(v, def)
	if out == 0 {
		return def
	}
	return out
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
