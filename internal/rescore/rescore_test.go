package rescore

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiger/osss-validator/api/report"
	"github.com/tiger/osss-validator/api/schedule"
	"github.com/tiger/osss-validator/internal/engine/evaluator"
	"github.com/tiger/osss-validator/internal/rules"
)

func soft(id string, penalty float64, violations int) evaluator.Outcome {
	out := evaluator.Outcome{
		Constraint:  schedule.Constraint{ID: id, RuleID: "home_away_balance", Type: schedule.ConstraintSoft},
		Status:      evaluator.StatusOK,
		Penalty:     penalty,
		Explanation: "explained",
		Findings:    report.New(),
	}
	for i := 0; i < violations; i++ {
		out.Violations = append(out.Violations, rules.Violation{Message: "v"})
	}
	if violations > 0 {
		out.Status = evaluator.StatusViolated
	}
	return out
}

func hard(id string, messages ...string) evaluator.Outcome {
	out := evaluator.Outcome{
		Constraint: schedule.Constraint{ID: id, RuleID: "no_overlap_team", Type: schedule.ConstraintHard},
		Status:     evaluator.StatusOK,
		Findings:   report.New(),
	}
	for _, m := range messages {
		out.Violations = append(out.Violations, rules.Violation{Message: m})
	}
	return out
}

func TestReconcileConsistentLedger(t *testing.T) {
	t.Parallel()

	outcomes := []evaluator.Outcome{hard("H1", "Team 'T' overlap between fixtures 'F1' and 'F2'"), soft("S1", 11, 3), soft("S2", 0, 0)}
	reported := schedule.Scores{TotalPenalty: 11, ByConstraint: []schedule.ConstraintScore{
		{ConstraintID: "S1", Violations: 3, Penalty: 11.0000001},
		{ConstraintID: "S2", Violations: 0, Penalty: 0},
	}}

	rec := Reconciler{}.Reconcile(outcomes, reported)
	require.Empty(t, rec.Findings.Errors)
	assert.Equal(t, []string{"Team 'T' overlap between fixtures 'F1' and 'F2'"}, rec.HardViolations)
	assert.Equal(t, 11.0, rec.TotalPenalty)
	assert.Len(t, rec.Scores, 2)
}

func TestReconcileOneMismatchErrorPerConstraint(t *testing.T) {
	t.Parallel()

	outcomes := []evaluator.Outcome{soft("S1", 11, 3), soft("S2", 4, 1)}
	reported := schedule.Scores{TotalPenalty: 9, ByConstraint: []schedule.ConstraintScore{
		{ConstraintID: "S1", Violations: 2, Penalty: 5},
		{ConstraintID: "S2", Violations: 1, Penalty: 4},
	}}

	rec := Reconciler{}.Reconcile(outcomes, reported)
	want := []string{"Soft re-score mismatch for 'S1': reported=5, expected=11; reported violations=2, expected=3"}
	if diff := cmp.Diff(want, rec.Findings.Errors); diff != "" {
		t.Fatalf("errors mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, report.ExitConsistency, rec.Findings.ExitCode)
}

func TestReconcileTotalAndMissingEntries(t *testing.T) {
	t.Parallel()

	outcomes := []evaluator.Outcome{soft("S1", 2, 1), soft("S2", 0, 0)}
	reported := schedule.Scores{TotalPenalty: 10, ByConstraint: []schedule.ConstraintScore{
		{ConstraintID: "S1", Violations: 1, Penalty: 2},
	}}

	rec := Reconciler{}.Reconcile(outcomes, reported)
	want := []string{
		"Missing soft constraint score entry in results: 'S2'",
		"Scoring inconsistency: totalPenalty=10 but sum(byConstraint.penalty)=2",
	}
	if diff := cmp.Diff(want, rec.Findings.Errors); diff != "" {
		t.Fatalf("errors mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcileSkipsUnexecutedSoftConstraints(t *testing.T) {
	t.Parallel()

	unchecked := soft("S1", 0, 0)
	unchecked.Status = evaluator.StatusUnchecked
	rec := Reconciler{}.Reconcile([]evaluator.Outcome{unchecked}, schedule.Scores{ByConstraint: []schedule.ConstraintScore{{ConstraintID: "S1", Penalty: 0}}})
	assert.Empty(t, rec.Scores)
	assert.Empty(t, rec.Findings.Errors)
}

func TestFixModeDowngradesAndRewrites(t *testing.T) {
	t.Parallel()

	outcomes := []evaluator.Outcome{soft("S1", 11, 3), hard("H1")}
	reported := schedule.Scores{TotalPenalty: 1, ByConstraint: []schedule.ConstraintScore{{ConstraintID: "S1", Violations: 0, Penalty: 1}}}
	fixed := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	r := Reconciler{Fix: true, Clock: func() time.Time { return fixed }}

	rec := r.Reconcile(outcomes, reported)
	require.Empty(t, rec.Findings.Errors)
	require.Len(t, rec.Findings.Warnings, 1)

	doc := map[string]any{
		"feasible": true,
		"scores":   map[string]any{"totalPenalty": 1.0, "byConstraint": []any{}, "solverNote": "kept"},
	}
	r.Apply(doc, rec)
	want := map[string]any{
		"feasible": true,
		"scores": map[string]any{
			"totalPenalty": 11.0,
			"byConstraint": []any{map[string]any{
				"constraintId": "S1",
				"violations":   3.0,
				"penalty":      11.0,
				"explanation":  "explained",
			}},
			"solverNote":   "kept",
			"_validatedBy": "osss-validator",
			"_validatedAt": "2025-05-10T12:00:00.000Z",
		},
	}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Fatalf("rewritten document mismatch (-want +got):\n%s", diff)
	}
}
