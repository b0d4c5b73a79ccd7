package validate

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiger/osss-validator/api/report"
	"github.com/tiger/osss-validator/internal/engine/evaluator"
	"github.com/tiger/osss-validator/internal/registry"
	"github.com/tiger/osss-validator/internal/rules/builtin"
	"github.com/tiger/osss-validator/internal/schema"
)

const instanceJSON = `{
  "id": "league-1",
  "timezone": "UTC",
  "teams": [{"id": "T"}, {"id": "U"}, {"id": "W"}],
  "venues": [{"id": "V1"}, {"id": "V2"}],
  "fixtures": [
    {"id": "F1", "participants": ["T", "U"]},
    {"id": "F2", "participants": ["T", "W"]},
    {"id": "F3", "participants": ["U", "W"]}
  ],
  "constraints": [
    {"id": "H1", "ruleId": "no_overlap_team", "type": "hard"},
    {"id": "S1", "ruleId": "home_away_balance", "type": "soft", "params": {"max_delta": 0},
     "penalty": {"model": "linear", "weight": 3}}
  ]
}`

// cleanResult has home/away deltas T=2, U=0, W=2, so S1 costs 3·4 = 12.
const cleanResult = `{
  "feasible": true,
  "assignments": [
    {"fixtureId": "F1", "startTime": "2025-05-10T10:00:00Z", "venueId": "V1"},
    {"fixtureId": "F2", "startTime": "2025-05-11T10:00:00Z", "venueId": "V2"},
    {"fixtureId": "F3", "startTime": "2025-05-12T10:00:00Z", "venueId": "V1"}
  ],
  "scores": {"totalPenalty": 12, "byConstraint": [{"constraintId": "S1", "violations": 2, "penalty": 12}]}
}`

func doc(t *testing.T, raw string) any {
	t.Helper()
	var out any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("unexpected fixture decode error: %v", err)
	}
	return out
}

func service(t *testing.T, reg *registry.Registry) *Service {
	t.Helper()
	schemas, err := schema.Embedded()
	if err != nil {
		t.Fatalf("unexpected schema load error: %v", err)
	}
	catalog, err := builtin.Catalog(nil)
	if err != nil {
		t.Fatalf("unexpected catalog error: %v", err)
	}
	return &Service{
		Schemas:  schemas,
		Registry: reg,
		Engine:   &evaluator.Engine{Catalog: catalog, Registry: reg, RuleTimeout: time.Second, Workers: 2},
	}
}

func TestResultCleanRun(t *testing.T) {
	t.Parallel()

	run, err := service(t, nil).Result(context.Background(), doc(t, instanceJSON), doc(t, cleanResult), ResultOptions{})
	require.NoError(t, err)

	rep := run.Report
	require.Empty(t, rep.Errors)
	assert.True(t, rep.Valid)
	assert.Equal(t, report.ExitValid, rep.ExitCode)
	assert.Equal(t, "Result is valid and feasible", rep.Summary)
	require.NotNil(t, rep.Details)
	assert.Equal(t, 12.0, rep.Details.TotalPenalty)
	assert.Empty(t, rep.Details.HardViolations)
	assert.Len(t, rep.Details.ByConstraint, 2)
	assert.Nil(t, run.Document)
}

func TestResultOverlapIsHardViolation(t *testing.T) {
	t.Parallel()

	overlapping := `{
  "feasible": true,
  "assignments": [
    {"fixtureId": "F1", "startTime": "2025-05-10T10:00:00Z"},
    {"fixtureId": "F2", "startTime": "2025-05-10T11:00:00Z"},
    {"fixtureId": "F3", "startTime": "2025-05-12T10:00:00Z"}
  ],
  "scores": {"totalPenalty": 12, "byConstraint": [{"constraintId": "S1", "violations": 2, "penalty": 12}]}
}`
	run, err := service(t, nil).Result(context.Background(), doc(t, instanceJSON), doc(t, overlapping), ResultOptions{})
	require.NoError(t, err)

	rep := run.Report
	assert.False(t, rep.Valid)
	assert.Equal(t, report.ExitHardViolated, rep.ExitCode)
	want := []string{"Team 'T' overlap between fixtures 'F1' and 'F2'"}
	if diff := cmp.Diff(want, rep.Details.HardViolations); diff != "" {
		t.Fatalf("hard violations mismatch (-want +got):\n%s", diff)
	}
}

func TestResultMissingAssignmentIsCardinalityError(t *testing.T) {
	t.Parallel()

	partial := `{
  "feasible": true,
  "assignments": [
    {"fixtureId": "F1", "startTime": "2025-05-10T10:00:00Z"},
    {"fixtureId": "F2", "startTime": "2025-05-11T10:00:00Z"}
  ],
  "scores": {"totalPenalty": 12, "byConstraint": [{"constraintId": "S1", "violations": 2, "penalty": 12}]}
}`
	run, err := service(t, nil).Result(context.Background(), doc(t, instanceJSON), doc(t, partial), ResultOptions{})
	require.NoError(t, err)

	rep := run.Report
	assert.Contains(t, rep.Errors, "Fixture 'F3' must be assigned exactly once, found 0")
	assert.GreaterOrEqual(t, rep.ExitCode, report.ExitSchema)
	assert.False(t, rep.Valid)
}

func TestResultScoreMismatch(t *testing.T) {
	t.Parallel()

	misreported := `{
  "feasible": true,
  "assignments": [
    {"fixtureId": "F1", "startTime": "2025-05-10T10:00:00Z"},
    {"fixtureId": "F2", "startTime": "2025-05-11T10:00:00Z"},
    {"fixtureId": "F3", "startTime": "2025-05-12T10:00:00Z"}
  ],
  "scores": {"totalPenalty": 5, "byConstraint": [{"constraintId": "S1", "violations": 2, "penalty": 5}]}
}`
	run, err := service(t, nil).Result(context.Background(), doc(t, instanceJSON), doc(t, misreported), ResultOptions{})
	require.NoError(t, err)

	want := []string{"Soft re-score mismatch for 'S1': reported=5, expected=12"}
	if diff := cmp.Diff(want, run.Report.Errors); diff != "" {
		t.Fatalf("errors mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, report.ExitConsistency, run.Report.ExitCode)
	assert.Equal(t, 5.0, run.Report.Details.ReportedTotalPenalty)
}

func TestResultFixScoresRewritesCopy(t *testing.T) {
	t.Parallel()

	misreported := doc(t, `{
  "feasible": true,
  "assignments": [
    {"fixtureId": "F1", "startTime": "2025-05-10T10:00:00Z"},
    {"fixtureId": "F2", "startTime": "2025-05-11T10:00:00Z"},
    {"fixtureId": "F3", "startTime": "2025-05-12T10:00:00Z"}
  ],
  "scores": {"totalPenalty": 5, "byConstraint": [{"constraintId": "S1", "violations": 2, "penalty": 5}]}
}`)
	svc := service(t, nil)
	svc.Clock = func() time.Time { return time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC) }

	run, err := svc.Result(context.Background(), doc(t, instanceJSON), misreported, ResultOptions{FixScores: true})
	require.NoError(t, err)
	assert.True(t, run.Report.Valid)
	assert.Len(t, run.Report.Warnings, 1)

	require.NotNil(t, run.Document)
	scores := run.Document["scores"].(map[string]any)
	assert.Equal(t, 12.0, scores["totalPenalty"])
	assert.Equal(t, "osss-validator", scores["_validatedBy"])
	assert.Equal(t, "2025-05-10T12:00:00.000Z", scores["_validatedAt"])

	original := misreported.(map[string]any)["scores"].(map[string]any)
	assert.Equal(t, 5.0, original["totalPenalty"])
	assert.NotContains(t, original, "_validatedBy")
}

func TestResultNormalizesAlternativeLayout(t *testing.T) {
	t.Parallel()

	alternative := `{
  "schedule": {
    "feasible": true,
    "fixtures": [
      {"id": "F1", "dateTime": "2025-05-10T10:00:00Z", "venue": "V1"},
      {"id": "F2", "dateTime": "2025-05-11T10:00:00Z", "venue": "V2"},
      {"id": "F3", "dateTime": "2025-05-12T10:00:00Z", "venue": "V1"}
    ]
  },
  "score": {"totalPenalty": 12, "byConstraint": [{"constraintId": "S1", "violations": 2, "penalty": 12}]}
}`
	run, err := service(t, nil).Result(context.Background(), doc(t, instanceJSON), doc(t, alternative), ResultOptions{})
	require.NoError(t, err)

	rep := run.Report
	require.Empty(t, rep.Errors)
	assert.Equal(t, "Result valid (after normalization from alternative format)", rep.Summary)
	assert.Equal(t, []string{
		"Result uses 'schedule.feasible' instead of top-level 'feasible'",
		"Result uses 'schedule.fixtures' format instead of 'assignments' array (3 fixtures mapped)",
		"Result uses 'score' instead of 'scores'",
	}, rep.Warnings)
}

func TestResultSchemaFailureAfterNormalization(t *testing.T) {
	t.Parallel()

	run, err := service(t, nil).Result(context.Background(), doc(t, instanceJSON), doc(t, `{"feasible": "maybe"}`), ResultOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Result schema validation failed", run.Report.Summary)
	assert.Equal(t, report.ExitSchema, run.Report.ExitCode)
	assert.NotEmpty(t, run.Report.Errors)
	assert.Nil(t, run.Outcomes)
}

func TestResultInfeasibleFlag(t *testing.T) {
	t.Parallel()

	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(cleanResult), &raw))
	raw["feasible"] = false

	run, err := service(t, nil).Result(context.Background(), doc(t, instanceJSON), raw, ResultOptions{})
	require.NoError(t, err)
	assert.Equal(t, report.ExitInfeasible, run.Report.ExitCode)
	assert.Contains(t, run.Report.Warnings, "Result feasible=false (solver reports infeasible).")
}

func TestInstanceValidation(t *testing.T) {
	t.Parallel()

	rep, err := service(t, nil).Instance(context.Background(), doc(t, instanceJSON))
	require.NoError(t, err)
	require.Empty(t, rep.Errors)
	assert.Equal(t, "Instance is valid", rep.Summary)
	assert.Equal(t, &report.InstanceDetails{InstanceID: "league-1", FixtureCount: 3, ConstraintCount: 2}, rep.Instance)
}

func TestInstanceValidationFindings(t *testing.T) {
	t.Parallel()

	broken := `{
  "teams": [{"id": "T"}, {"id": "T"}, {"id": "U"}],
  "venues": [{"id": "V1"}],
  "fixtures": [
    {"id": "F1", "participants": ["T", "X"], "lockedVenueId": "V9"}
  ],
  "objectives": [{"id": "O1", "metric": "travel_distanc"}],
  "constraints": [
    {"id": "S1", "ruleId": "home_away_balance", "type": "soft"},
    {"id": "H1", "ruleId": "no_overlap_teams", "type": "hard"}
  ]
}`
	reg := registry.New(
		[]registry.Entry{{RuleID: "no_overlap_team"}, {RuleID: "home_away_balance"}},
		[]registry.ObjectiveEntry{{ID: "travel_distance"}},
	)
	rep, err := service(t, reg).Instance(context.Background(), doc(t, broken))
	require.NoError(t, err)

	wantErrors := []string{
		"Duplicate team id 'T'",
		"Fixture 'F1' is locked to unknown venue 'V9'",
		"Soft constraint 'S1' missing penalty model",
	}
	if diff := cmp.Diff(wantErrors, rep.Errors); diff != "" {
		t.Fatalf("errors mismatch (-want +got):\n%s", diff)
	}
	wantWarnings := []string{
		"Fixture 'F1' references unknown team 'X'",
		"Objective metric not found in registry: travel_distanc (did you mean: travel_distance?)",
		"Constraint 'H1' references unknown ruleId 'no_overlap_teams' (did you mean: no_overlap_team?)",
		"No implementation for rule 'no_overlap_teams' (constraint 'H1'); constraint not checked",
	}
	if diff := cmp.Diff(wantWarnings, rep.Warnings); diff != "" {
		t.Fatalf("warnings mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, report.ExitSchema, rep.ExitCode)
	assert.Equal(t, "Instance validation failed", rep.Summary)
}

func TestCompareRanksCleanResultsFirst(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}
	var cheaper map[string]any
	require.NoError(t, json.Unmarshal([]byte(cleanResult), &cheaper))
	cheaper["feasible"] = false
	body, err := json.Marshal(cheaper)
	require.NoError(t, err)

	infeasible := write("infeasible.json", string(body))
	clean := write("clean.json", cleanResult)
	broken := write("broken.json", "{not json")

	rep, err := service(t, nil).Compare(context.Background(), doc(t, instanceJSON), []string{broken, infeasible, clean})
	require.NoError(t, err)
	require.Len(t, rep.Ranked, 3)
	assert.Equal(t, clean, rep.Ranked[0].Path)
	assert.Equal(t, 1, rep.Ranked[0].Rank)
	assert.Equal(t, infeasible, rep.Ranked[1].Path)
	assert.Equal(t, broken, rep.Ranked[2].Path)
	assert.Equal(t, report.ExitValid, rep.ExitCode)
}

func TestBundle(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mk := func(name string, files map[string]string) {
		dir := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		for file, body := range files {
			require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(body), 0o644))
		}
	}
	mk("a-complete", map[string]string{InstanceFile: instanceJSON, ResultFile: cleanResult})
	mk("b-instance-only", map[string]string{InstanceFile: instanceJSON})
	mk("c-empty", nil)

	rep, err := service(t, nil).Bundle(context.Background(), root, false)
	require.NoError(t, err)
	require.Len(t, rep.Bundle, 3)
	assert.Equal(t, report.ExitValid, rep.Bundle[0].ExitCode)
	assert.NotNil(t, rep.Bundle[0].Result)
	assert.Nil(t, rep.Bundle[1].Result)
	assert.Equal(t, "Missing osss-instance.json", rep.Bundle[2].Instance.Summary)
	assert.Equal(t, report.ExitSchema, rep.ExitCode)
	assert.Equal(t, "Bundle validation found issues", rep.Summary)

	strict, err := service(t, nil).Bundle(context.Background(), root, true)
	require.NoError(t, err)
	require.NotNil(t, strict.Bundle[1].Result)
	assert.Equal(t, "Missing osss-results.json", strict.Bundle[1].Result.Summary)
}

func TestServiceRequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := (&Service{}).Instance(context.Background(), map[string]any{}); err != ErrNoSchemas {
		t.Fatalf("expected ErrNoSchemas, got %v", err)
	}
}
