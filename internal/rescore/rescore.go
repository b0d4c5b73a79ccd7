package rescore

import (
	"math"
	"strconv"
	"time"

	"github.com/tiger/osss-validator/api/report"
	"github.com/tiger/osss-validator/api/schedule"
	"github.com/tiger/osss-validator/internal/engine/evaluator"
)

const (
	// DefaultTolerance bounds the accepted absolute difference between penalties.
	DefaultTolerance = 1e-6
	// ValidatedBy is the provenance stamp written in fix mode.
	ValidatedBy = "osss-validator"
	// TimestampLayout matches ISO-8601 with millisecond precision in UTC.
	TimestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Reconciler compares outcomes with a reported ledger. The zero value uses
// DefaultTolerance and time.Now.
type Reconciler struct {
	Tolerance float64
	Clock     func() time.Time
	// Fix downgrades ledger disagreements to warnings because the ledger is
	// about to be rewritten.
	Fix bool
}

// Reconciliation is the authoritative ledger plus every disagreement found.
type Reconciliation struct {
	HardViolations []string
	// Scores lists executed soft constraints in instance order.
	Scores        []schedule.ConstraintScore
	TotalPenalty  float64
	ReportedTotal float64
	Findings      *report.Report
}

func (r Reconciler) tolerance() float64 {
	if r.Tolerance > 0 {
		return r.Tolerance
	}
	return DefaultTolerance
}

func (r Reconciler) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}

func (r Reconciler) nearlyEqual(a, b float64) bool {
	return math.Abs(a-b) <= r.tolerance()
}

// record routes a ledger disagreement to errors, or to warnings in fix mode.
func (r Reconciler) record(rep *report.Report, constraintID, format string, args ...any) {
	if r.Fix {
		rep.Warn(report.KindScoringInconsistency, constraintID, format, args...)
		return
	}
	rep.Fail(report.KindScoringInconsistency, constraintID, format, args...)
}

// Reconcile walks outcomes in order. Hard violations are collected verbatim;
// executed soft outcomes become the authoritative ledger.
func (r Reconciler) Reconcile(outcomes []evaluator.Outcome, reported schedule.Scores) Reconciliation {
	rec := Reconciliation{
		HardViolations: []string{},
		Scores:         []schedule.ConstraintScore{},
		ReportedTotal:  reported.TotalPenalty,
		Findings:       report.New(),
	}

	byID := make(map[string]schedule.ConstraintScore, len(reported.ByConstraint))
	sum := 0.0
	for _, entry := range reported.ByConstraint {
		byID[entry.ConstraintID] = entry
		sum += finite(entry.Penalty)
	}

	for _, out := range outcomes {
		c := out.Constraint
		if !out.Soft() {
			rec.HardViolations = append(rec.HardViolations, out.Messages()...)
			continue
		}
		entry, present := byID[c.ID]
		if !present {
			r.record(rec.Findings, c.ID, "Missing soft constraint score entry in results: '%s'", c.ID)
		}
		if !out.Status.Executed() {
			continue
		}

		count := len(out.Violations)
		rec.Scores = append(rec.Scores, schedule.ConstraintScore{
			ConstraintID: c.ID,
			Violations:   float64(count),
			Penalty:      out.Penalty,
			Explanation:  out.Explanation,
		})
		rec.TotalPenalty += out.Penalty

		if !present {
			continue
		}
		var diffs []string
		if !r.nearlyEqual(entry.Penalty, out.Penalty) {
			diffs = append(diffs, "reported="+num(entry.Penalty)+", expected="+num(out.Penalty))
		}
		if !r.nearlyEqual(entry.Violations, float64(count)) {
			diffs = append(diffs, "reported violations="+num(entry.Violations)+", expected="+strconv.Itoa(count))
		}
		if len(diffs) > 0 {
			msg := diffs[0]
			for _, d := range diffs[1:] {
				msg += "; " + d
			}
			r.record(rec.Findings, c.ID, "Soft re-score mismatch for '%s': %s", c.ID, msg)
		}
	}

	if !r.nearlyEqual(reported.TotalPenalty, sum) {
		r.record(rec.Findings, "", "Scoring inconsistency: totalPenalty=%s but sum(byConstraint.penalty)=%s", num(reported.TotalPenalty), num(sum))
	}
	return rec
}

// Apply rewrites the scores object of a raw result document in place with
// the authoritative ledger and stamps provenance. Unknown fields survive.
func (r Reconciler) Apply(doc map[string]any, rec Reconciliation) {
	scores, _ := doc["scores"].(map[string]any)
	if scores == nil {
		scores = map[string]any{}
	}
	entries := make([]any, 0, len(rec.Scores))
	for _, s := range rec.Scores {
		entry := map[string]any{
			"constraintId": s.ConstraintID,
			"violations":   s.Violations,
			"penalty":      s.Penalty,
		}
		if s.Explanation != nil && s.Explanation != "" {
			entry["explanation"] = s.Explanation
		}
		entries = append(entries, entry)
	}
	scores["byConstraint"] = entries
	scores["totalPenalty"] = rec.TotalPenalty
	scores["_validatedBy"] = ValidatedBy
	scores["_validatedAt"] = r.now().UTC().Format(TimestampLayout)
	doc["scores"] = scores
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
