package report

import (
	"fmt"
	"sort"
)

// Exit codes in ascending severity.
const (
	ExitValid        = 0
	ExitSchema       = 1
	ExitInfeasible   = 2
	ExitHardViolated = 3
	ExitConsistency  = 4
)

// Kind classifies a validation issue.
type Kind string

const (
	KindSchemaViolation           Kind = "schema_violation"
	KindMissingRegistryEntry      Kind = "missing_registry_entry"
	KindMissingRuleImplementation Kind = "missing_rule_implementation"
	KindMissingRuleID             Kind = "missing_rule_id"
	KindInvalidParams             Kind = "invalid_params"
	KindInvalidSelector           Kind = "invalid_selector"
	KindInvalidPenalty            Kind = "invalid_penalty"
	KindMissingPenalty            Kind = "missing_penalty"
	KindScoringInconsistency      Kind = "scoring_inconsistency"
	KindCardinalityViolation      Kind = "cardinality_violation"
	KindReferentialIntegrity      Kind = "referential_integrity"
	KindMalformedTimestamp        Kind = "malformed_timestamp"
	KindRuleExecution             Kind = "rule_execution"
	KindNormalizationApplied      Kind = "normalization_applied"
	KindInfeasible                Kind = "infeasible"
	KindHardViolation             Kind = "hard_violation"
)

// ExitCode is the process exit code a fatal issue of this kind implies.
func (k Kind) ExitCode() int {
	switch k {
	case KindScoringInconsistency, KindCardinalityViolation, KindRuleExecution, KindMissingRuleImplementation:
		return ExitConsistency
	case KindHardViolation:
		return ExitHardViolated
	case KindInfeasible:
		return ExitInfeasible
	case KindNormalizationApplied, KindMissingRegistryEntry:
		return ExitValid
	default:
		return ExitSchema
	}
}

// Issue is one recorded warning or error.
type Issue struct {
	Kind         Kind   `json:"kind"`
	Fatal        bool   `json:"fatal"`
	ConstraintID string `json:"constraintId,omitempty"`
	Message      string `json:"message"`
}

// ConstraintSummary is the per-constraint evaluation line in a report.
type ConstraintSummary struct {
	ConstraintID string   `json:"constraintId"`
	RuleID       string   `json:"ruleId,omitempty"`
	Type         string   `json:"type"`
	Status       string   `json:"status"`
	Violations   int      `json:"violations"`
	Amount       float64  `json:"amount,omitempty"`
	Penalty      float64  `json:"penalty"`
	Messages     []string `json:"messages,omitempty"`
	Explanation  string   `json:"explanation,omitempty"`
}

// Details carries result-specific findings.
type Details struct {
	Feasible             bool                `json:"feasible"`
	TotalPenalty         float64             `json:"totalPenalty"`
	ReportedTotalPenalty float64             `json:"reportedTotalPenalty"`
	HardViolations       []string            `json:"hardViolations"`
	ByConstraint         []ConstraintSummary `json:"byConstraint,omitempty"`
}

// Report is the outcome of one validation run.
type Report struct {
	Valid    bool     `json:"valid"`
	ExitCode int      `json:"exitCode"`
	Summary  string   `json:"summary"`
	Warnings []string `json:"warnings"`
	Errors   []string `json:"errors"`
	Details  *Details `json:"details,omitempty"`
	// Instance is set by instance validation.
	Instance *InstanceDetails `json:"instance,omitempty"`
	// Ranked is set by compare runs.
	Ranked []Ranked `json:"ranked,omitempty"`
	// Bundle is set by bundle runs.
	Bundle []BundleEntry `json:"bundle,omitempty"`
	Issues []Issue       `json:"issues,omitempty"`
}

// InstanceDetails summarises a validated instance.
type InstanceDetails struct {
	InstanceID      string `json:"instanceId,omitempty"`
	FixtureCount    int    `json:"fixtureCount"`
	ConstraintCount int    `json:"constraintCount"`
	ObjectiveCount  int    `json:"objectiveCount"`
}

// New returns an empty report.
func New() *Report {
	return &Report{Warnings: []string{}, Errors: []string{}}
}

// Warn records a non-fatal issue.
func (r *Report) Warn(kind Kind, constraintID, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.Warnings = append(r.Warnings, msg)
	r.Issues = append(r.Issues, Issue{Kind: kind, ConstraintID: constraintID, Message: msg})
}

// Fail records a fatal issue and raises the exit code to the kind's code.
func (r *Report) Fail(kind Kind, constraintID, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.Errors = append(r.Errors, msg)
	r.Issues = append(r.Issues, Issue{Kind: kind, Fatal: true, ConstraintID: constraintID, Message: msg})
	r.Raise(kind.ExitCode())
}

// Raise lifts the exit code without recording a message.
func (r *Report) Raise(code int) {
	if code > r.ExitCode {
		r.ExitCode = code
	}
}

// Merge appends another report's issues and keeps the worst exit code.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	r.Warnings = append(r.Warnings, other.Warnings...)
	r.Errors = append(r.Errors, other.Errors...)
	r.Issues = append(r.Issues, other.Issues...)
	r.Raise(other.ExitCode)
}

// Finalize fixes validity and the summary line. Call once.
func (r *Report) Finalize(okSummary, issueSummary string) *Report {
	if len(r.Errors) > 0 && r.ExitCode == ExitValid {
		r.ExitCode = ExitSchema
	}
	r.Valid = r.ExitCode == ExitValid
	if r.Valid {
		r.Summary = okSummary
	} else {
		r.Summary = issueSummary
	}
	return r
}

// CountByKind tallies issues per kind with deterministic key order.
func (r *Report) CountByKind() []KindCount {
	counts := make(map[Kind]int)
	for _, issue := range r.Issues {
		counts[issue.Kind]++
	}
	out := make([]KindCount, 0, len(counts))
	for kind, n := range counts {
		out = append(out, KindCount{Kind: kind, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// KindCount is one CountByKind entry.
type KindCount struct {
	Kind  Kind
	Count int
}

// Ranked is one entry of a compare run.
type Ranked struct {
	Rank         int     `json:"rank"`
	Path         string  `json:"path"`
	Valid        bool    `json:"valid"`
	Feasible     bool    `json:"feasible"`
	ExitCode     int     `json:"exitCode"`
	TotalPenalty float64 `json:"totalPenalty"`
	Summary      string  `json:"summary"`
}

// Clean reports a valid, feasible result with nothing to flag.
func (r Ranked) Clean() bool {
	return r.Valid && r.Feasible && r.ExitCode == ExitValid
}

// BundleEntry is one example directory of a bundle run.
type BundleEntry struct {
	Name     string  `json:"name"`
	Instance *Report `json:"instance"`
	Result   *Report `json:"result,omitempty"`
	ExitCode int     `json:"exitCode"`
}
