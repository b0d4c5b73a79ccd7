package normalize

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotObject is returned when the document is not a JSON object.
var ErrNotObject = errors.New("result document must be a JSON object")

// Adapter rewrites one concern of a result document in place and returns a
// warning per deviation it repaired. Adapters leave canonical documents alone.
type Adapter interface {
	Name() string
	Adapt(doc map[string]any) []string
}

// Input is the raw decoded result document.
type Input struct {
	Document any
}

// Output is the normalized document plus the deviations that were repaired.
type Output struct {
	Document map[string]any
	Warnings []string
}

// Changed reports whether any adapter rewrote the document.
func (o Output) Changed() bool { return len(o.Warnings) > 0 }

// Service applies adapters in order. The zero value uses DefaultAdapters.
type Service struct {
	Adapters []Adapter
}

// DefaultAdapters returns feasibility, assignments and scores adapters in
// that order. Feasibility runs first so it sees the original assignment layout.
func DefaultAdapters() []Adapter {
	return []Adapter{Feasibility{}, Assignments{}, Scores{}}
}

// Normalize returns a shallow copy of the document with every adapter applied.
// The input is never mutated.
func (s Service) Normalize(in Input) (Output, error) {
	raw, ok := in.Document.(map[string]any)
	if !ok || raw == nil {
		return Output{}, ErrNotObject
	}
	doc := make(map[string]any, len(raw)+3)
	for k, v := range raw {
		doc[k] = v
	}
	adapters := s.Adapters
	if adapters == nil {
		adapters = DefaultAdapters()
	}
	var warnings []string
	for _, adapter := range adapters {
		if adapter == nil {
			return Output{}, fmt.Errorf("adapter cannot be nil")
		}
		warnings = append(warnings, adapter.Adapt(doc)...)
	}
	return Output{Document: doc, Warnings: warnings}, nil
}

// Feasibility fills a missing top-level feasible flag.
type Feasibility struct{}

func (Feasibility) Name() string { return "feasibility" }

func (Feasibility) Adapt(doc map[string]any) []string {
	if v, present := doc["feasible"]; present {
		if s, isString := v.(string); isString {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "true":
				doc["feasible"] = true
				return []string{"Result 'feasible' is a string, coerced to boolean"}
			case "false":
				doc["feasible"] = false
				return []string{"Result 'feasible' is a string, coerced to boolean"}
			}
		}
		return nil
	}
	if v, ok := lookup(doc, "details", "feasible"); ok {
		doc["feasible"] = v
		return []string{"Result uses 'details.feasible' instead of top-level 'feasible'"}
	}
	if v, ok := lookup(doc, "schedule", "feasible"); ok {
		doc["feasible"] = v
		return []string{"Result uses 'schedule.feasible' instead of top-level 'feasible'"}
	}
	_, hasAssignments := doc["assignments"]
	_, hasFixtures := lookup(doc, "schedule", "fixtures")
	doc["feasible"] = hasAssignments || hasFixtures
	if hasAssignments || hasFixtures {
		return []string{"Result missing 'feasible' field, inferred true from presence of schedule data"}
	}
	return nil
}

// Assignments maps alternative fixture arrays onto assignments.
type Assignments struct{}

func (Assignments) Name() string { return "assignments" }

func (Assignments) Adapt(doc map[string]any) []string {
	if _, ok := doc["assignments"].([]any); ok {
		return nil
	}
	var (
		source string
		items  []any
	)
	if v, ok := lookup(doc, "schedule", "fixtures"); ok {
		if list, isList := v.([]any); isList {
			source, items = "schedule.fixtures", list
		}
	}
	if source == "" {
		for _, key := range []string{"scheduledFixtures", "fixtures"} {
			if list, isList := doc[key].([]any); isList {
				source, items = key, list
				break
			}
		}
	}
	if source == "" {
		return nil
	}

	assignments := make([]any, 0, len(items))
	for _, item := range items {
		f, _ := item.(map[string]any)
		a := map[string]any{
			"fixtureId": first(f, "fixtureId", "id"),
			"startTime": first(f, "startTime", "dateTime"),
		}
		if v := first(f, "endTime"); v != nil {
			a["endTime"] = v
		}
		if v := first(f, "venueId", "venue"); v != nil {
			a["venueId"] = v
		}
		if v := first(f, "resourceId"); v != nil {
			a["resourceId"] = v
		}
		if v, ok := f["officialIds"]; ok {
			a["officialIds"] = v
		}
		for k, v := range a {
			if v == nil {
				delete(a, k)
			}
		}
		assignments = append(assignments, a)
	}
	doc["assignments"] = assignments
	return []string{fmt.Sprintf("Result uses '%s' format instead of 'assignments' array (%d fixtures mapped)", source, len(assignments))}
}

// Scores fills a missing scores ledger from score, scoring or loose fields.
type Scores struct{}

func (Scores) Name() string { return "scores" }

func (Scores) Adapt(doc map[string]any) []string {
	if v, ok := doc["scores"]; ok && v != nil {
		return nil
	}
	for _, key := range []string{"score", "scoring"} {
		if v, ok := doc[key]; ok && v != nil {
			doc["scores"] = v
			return []string{fmt.Sprintf("Result uses '%s' instead of 'scores'", key)}
		}
	}

	total := 0.0
	for _, path := range [][]string{{"totalPenalty"}, {"schedule", "totalPenalty"}, {"details", "totalPenalty"}} {
		if v, ok := lookup(doc, path...); ok {
			if n, isNum := v.(float64); isNum {
				total = n
				break
			}
		}
	}
	var results []any
	if list, ok := doc["constraintResults"].([]any); ok {
		results = list
	} else if v, ok := lookup(doc, "schedule", "constraintResults"); ok {
		results, _ = v.([]any)
	}
	byConstraint := make([]any, 0, len(results))
	for _, item := range results {
		c, _ := item.(map[string]any)
		entry := map[string]any{
			"constraintId": first(c, "constraintId", "id", "ruleId"),
			"violations":   numberOr(c["violations"]),
			"penalty":      numberOr(c["penalty"]),
		}
		if entry["constraintId"] == nil {
			entry["constraintId"] = ""
		}
		if v, ok := c["explanation"]; ok && v != nil && v != "" {
			entry["explanation"] = v
		}
		byConstraint = append(byConstraint, entry)
	}
	doc["scores"] = map[string]any{"totalPenalty": total, "byConstraint": byConstraint}
	return []string{"Result missing 'scores' object, constructed from available data"}
}

func lookup(doc map[string]any, path ...string) (any, bool) {
	var cur any = doc
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// first returns the first non-empty value among keys.
func first(m map[string]any, keys ...string) any {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil || v == "" {
			continue
		}
		return v
	}
	return nil
}

func numberOr(v any) any {
	if v == nil {
		return 0.0
	}
	return v
}
