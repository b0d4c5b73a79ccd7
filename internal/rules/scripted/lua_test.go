package scripted

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tiger/osss-validator/api/schedule"
	"github.com/tiger/osss-validator/internal/engine/index"
	"github.com/tiger/osss-validator/internal/rules"
)

const noSundays = `
function evaluate(ctx)
  local out = { violations = {}, explanation = "checked " .. ctx.constraintId }
  local limit = ctx.params.limit or 0
  for _, slot in ipairs(ctx.slots) do
    if slot.weekday == "sunday" then
      table.insert(out.violations, {
        message = "Fixture '" .. slot.fixtureId .. "' is on a sunday",
        fixtures = { slot.fixtureId },
        subject = slot.participants[1],
      })
    end
  end
  out.amount = #out.violations * 10 + limit
  return out
end
`

func sundayInput() rules.Input {
	inst := schedule.Instance{
		Teams: []schedule.Team{{ID: "A"}, {ID: "B"}},
		Fixtures: []schedule.Fixture{
			{ID: "F1", Participants: []string{"A", "B"}},
			{ID: "F2", Participants: []string{"B", "A"}},
		},
	}
	res := schedule.Result{Assignments: []schedule.Assignment{
		{FixtureID: "F1", StartTime: "2025-05-10T12:00:00Z"},
		{FixtureID: "F2", StartTime: "2025-05-11T12:00:00Z"},
	}}
	idx := index.Builder{}.Build(inst, res)
	return rules.Input{
		Instance:     &inst,
		Result:       &res,
		ConstraintID: "C-sun",
		RuleID:       "no_sundays",
		Type:         schedule.ConstraintSoft,
		Params:       map[string]any{"limit": 2},
		View:         idx.View,
		Location:     idx.Location,
	}
}

func TestLuaRuleEvaluates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "no_sundays.lua")
	if err := os.WriteFile(path, []byte(noSundays), 0o644); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	rule, err := Load("no_sundays", path)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if rule.ID() != "no_sundays" || !rules.UsesTime(rule) {
		t.Fatalf("unexpected rule identity: %q", rule.ID())
	}

	out, err := rule.Evaluate(context.Background(), sundayInput())
	if err != nil {
		t.Fatalf("unexpected evaluate error: %v", err)
	}
	want := []rules.Violation{{Message: "Fixture 'F2' is on a sunday", Fixtures: []string{"F2"}, Subject: "B"}}
	if diff := cmp.Diff(want, out.Violations); diff != "" {
		t.Fatalf("violations mismatch (-want +got):\n%s", diff)
	}
	if out.Amount != 12 {
		t.Fatalf("expected amount 12, got %v", out.Amount)
	}
	if out.Explanation != "checked C-sun" {
		t.Fatalf("unexpected explanation %q", out.Explanation)
	}
}

func TestLuaRuleStateIsNotShared(t *testing.T) {
	t.Parallel()

	rule, err := New("counter", "counter.lua", `
calls = (calls or 0) + 1
function evaluate(ctx)
  return { violations = { "call " .. calls } }
end
`)
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}
	for i := 0; i < 2; i++ {
		out, err := rule.Evaluate(context.Background(), sundayInput())
		if err != nil {
			t.Fatalf("unexpected evaluate error: %v", err)
		}
		if diff := cmp.Diff([]string{"call 1"}, rules.Messages(out.Violations)); diff != "" {
			t.Fatalf("run %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestLuaRuleErrors(t *testing.T) {
	t.Parallel()

	if _, err := New("broken", "broken.lua", "function evaluate(ctx"); err == nil {
		t.Fatalf("expected compile error")
	}

	missing, err := New("missing", "missing.lua", "x = 1")
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}
	if _, err := missing.Evaluate(context.Background(), sundayInput()); !errors.Is(err, ErrNoEntryPoint) {
		t.Fatalf("expected ErrNoEntryPoint, got %v", err)
	}

	raising, err := New("raise", "raise.lua", `function evaluate(ctx) error("boom") end`)
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}
	if _, err := raising.Evaluate(context.Background(), sundayInput()); err == nil {
		t.Fatalf("expected runtime error")
	}
}

func TestLuaRuleCoercesMalformedOutput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		source     string
		messages   []string
		amount     float64
		warnings   int
		warningHas string
	}{
		{
			name:       "non table return",
			source:     "function evaluate(ctx) return 4 end",
			messages:   []string{},
			warnings:   1,
			warningHas: "returned number instead of a table",
		},
		{
			name:       "string violations and amount",
			source:     `function evaluate(ctx) return { violations = "oops", amount = "x" } end`,
			messages:   []string{},
			warnings:   2,
			warningHas: "violations is string instead of a list",
		},
		{
			name:       "malformed entries skipped",
			source:     `function evaluate(ctx) return { violations = { "late", 7, {}, { message = "early" } } } end`,
			messages:   []string{"late", "early"},
			amount:     2,
			warnings:   2,
			warningHas: "violations[2] is number without a message",
		},
		{
			name:       "non finite amount",
			source:     `function evaluate(ctx) return { violations = { "x" }, amount = 1/0 } end`,
			messages:   []string{"x"},
			warnings:   1,
			warningHas: "amount is not finite",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rule, err := New("weird", "weird.lua", tt.source)
			if err != nil {
				t.Fatalf("unexpected compile error: %v", err)
			}
			out, err := rule.Evaluate(context.Background(), sundayInput())
			if err != nil {
				t.Fatalf("unexpected evaluate error: %v", err)
			}
			if diff := cmp.Diff(tt.messages, rules.Messages(out.Violations)); diff != "" {
				t.Fatalf("messages mismatch (-want +got):\n%s", diff)
			}
			if out.Amount != tt.amount {
				t.Fatalf("expected amount %v, got %v", tt.amount, out.Amount)
			}
			if len(out.Warnings) != tt.warnings {
				t.Fatalf("expected %d warnings, got %v", tt.warnings, out.Warnings)
			}
			if !strings.Contains(strings.Join(out.Warnings, "\n"), tt.warningHas) {
				t.Fatalf("expected warning containing %q, got %v", tt.warningHas, out.Warnings)
			}
		})
	}
}
