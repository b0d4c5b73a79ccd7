package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/tiger/osss-validator/api/report"
	"github.com/tiger/osss-validator/api/schedule"
	"github.com/tiger/osss-validator/internal/engine/index"
	"github.com/tiger/osss-validator/internal/engine/penalty"
	"github.com/tiger/osss-validator/internal/engine/selector"
	"github.com/tiger/osss-validator/internal/metrics"
	"github.com/tiger/osss-validator/internal/registry"
	"github.com/tiger/osss-validator/internal/rules"
)

// Status is the evaluation state of one constraint.
type Status string

const (
	StatusOK              Status = "ok"
	StatusViolated        Status = "violated"
	StatusUnchecked       Status = "unchecked"
	StatusMissingRuleID   Status = "missing_rule_id"
	StatusInvalidParams   Status = "invalid_params"
	StatusInvalidSelector Status = "invalid_selector"
	StatusInvalidPenalty  Status = "invalid_penalty"
	StatusRuleError       Status = "rule_error"
)

// Executed reports whether the rule ran to completion.
func (s Status) Executed() bool {
	return s == StatusOK || s == StatusViolated
}

// Target is the instance/result pair under evaluation.
type Target struct {
	Instance *schedule.Instance
	Result   *schedule.Result
	Index    *index.Index
}

// Outcome is the evaluated state of one constraint.
type Outcome struct {
	Constraint schedule.Constraint
	Status     Status
	Violations []rules.Violation
	// Amount is the rule's violation amount before penalty conversion.
	Amount float64
	// Penalty is the authoritative penalty; always 0 for hard constraints.
	Penalty     float64
	Model       penalty.Model
	Explanation string
	// Partial is set when a time-dependent rule skipped malformed slots.
	Partial  bool
	Duration time.Duration
	// Findings holds the warnings and errors this constraint produced.
	Findings *report.Report
}

// Soft reports whether the constraint is soft.
func (o Outcome) Soft() bool { return o.Constraint.Kind() == schedule.ConstraintSoft }

// Messages returns the violation lines.
func (o Outcome) Messages() []string { return rules.Messages(o.Violations) }

// Engine evaluates constraints. The zero value is not usable; Catalog is required.
type Engine struct {
	Registry *registry.Registry
	Catalog  rules.Catalog
	// Strict turns a missing capability for a hard constraint into a fatal error.
	Strict      bool
	RuleTimeout time.Duration
	// Workers bounds parallel evaluation; <=0 means GOMAXPROCS.
	Workers int
	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics *metrics.Recorder
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.Logger
}

func (e *Engine) tracer() trace.Tracer {
	if e.Tracer == nil {
		return noop.NewTracerProvider().Tracer("")
	}
	return e.Tracer
}

// plan is a constraint that passed static checks.
type plan struct {
	rule     rules.Rule
	selector selector.Selector
	model    penalty.Model
}

// Check performs every static check on c without executing its rule.
func (e *Engine) Check(c schedule.Constraint, loc *time.Location) Outcome {
	out, _ := e.check(c, loc)
	return out
}

// check returns a nil plan when a static check failed.
func (e *Engine) check(c schedule.Constraint, loc *time.Location) (Outcome, *plan) {
	out := Outcome{Constraint: c, Status: StatusUnchecked, Violations: []rules.Violation{}, Findings: report.New()}
	ruleID := strings.TrimSpace(c.RuleID)
	if ruleID == "" {
		out.Status = StatusMissingRuleID
		out.Findings.Fail(report.KindMissingRuleID, c.ID, "Constraint '%s' is missing ruleId", c.ID)
		return out, nil
	}
	if err := c.Kind().Validate(); err != nil {
		out.Findings.Fail(report.KindSchemaViolation, c.ID, "Constraint '%s' has invalid type: %v", c.ID, err)
		return out, nil
	}

	if e.Registry != nil && e.Registry.Len() > 0 {
		if _, ok := e.Registry.Lookup(ruleID); !ok {
			msg := fmt.Sprintf("Constraint '%s' references unknown ruleId '%s'", c.ID, ruleID)
			if suggestions := e.Registry.Suggest(ruleID); len(suggestions) > 0 {
				msg += fmt.Sprintf(" (did you mean: %s?)", strings.Join(suggestions, ", "))
			}
			out.Findings.Warn(report.KindMissingRegistryEntry, c.ID, "%s", msg)
		} else {
			problems, err := e.Registry.ValidateParams(ruleID, c.Params)
			if err != nil {
				problems = append(problems, err.Error())
			}
			if len(problems) > 0 {
				out.Status = StatusInvalidParams
				for _, problem := range problems {
					out.Findings.Fail(report.KindInvalidParams, c.ID, "Constraint '%s' params invalid for rule '%s': %s", c.ID, ruleID, problem)
				}
				return out, nil
			}
		}
	}

	p := &plan{}
	if out.Soft() {
		if !c.HasPenalty() {
			out.Status = StatusInvalidPenalty
			out.Findings.Fail(report.KindMissingPenalty, c.ID, "Soft constraint '%s' missing penalty model", c.ID)
			return out, nil
		}
		model, err := penalty.Parse(c.Penalty)
		if err != nil {
			out.Status = StatusInvalidPenalty
			out.Findings.Fail(report.KindInvalidPenalty, c.ID, "Constraint '%s' has invalid penalty: %v", c.ID, err)
			return out, nil
		}
		p.model = model
		out.Model = model
	}

	sel, err := selector.Parse(c.Selector, loc)
	if err != nil {
		out.Status = StatusInvalidSelector
		out.Findings.Fail(report.KindInvalidSelector, c.ID, "Constraint '%s' has invalid selector: %v", c.ID, err)
		return out, nil
	}
	p.selector = sel

	rule, ok := e.Catalog.Rule(ruleID)
	if !ok {
		if e.Strict && !out.Soft() {
			out.Findings.Fail(report.KindMissingRuleImplementation, c.ID, "No implementation for hard rule '%s' (constraint '%s')", ruleID, c.ID)
		} else {
			out.Findings.Warn(report.KindMissingRuleImplementation, c.ID, "No implementation for rule '%s' (constraint '%s'); constraint not checked", ruleID, c.ID)
		}
		return out, nil
	}
	p.rule = rule
	return out, p
}

// Evaluate runs one constraint. It never returns an error: failures become
// outcome statuses and findings scoped to this constraint.
func (e *Engine) Evaluate(ctx context.Context, c schedule.Constraint, t Target) Outcome {
	started := time.Now()
	ctx, span := e.tracer().Start(ctx, "constraint.evaluate", trace.WithAttributes(
		attribute.String("constraint.id", c.ID),
		attribute.String("rule.id", c.RuleID),
		attribute.String("constraint.type", string(c.Kind())),
	))
	defer span.End()

	loc := time.UTC
	if t.Index != nil && t.Index.Location != nil {
		loc = t.Index.Location
	}
	out, p := e.check(c, loc)
	if p != nil {
		e.execute(ctx, c, t, p, &out)
	}
	out.Duration = time.Since(started)

	span.SetAttributes(
		attribute.String("outcome.status", string(out.Status)),
		attribute.Int("outcome.violations", len(out.Violations)),
		attribute.Float64("outcome.penalty", out.Penalty),
	)
	if out.Status == StatusRuleError {
		span.SetStatus(codes.Error, "rule execution failed")
	}
	e.Metrics.ObserveConstraint(c.RuleID, string(c.Kind()), string(out.Status), len(out.Violations), out.Duration)
	e.logger().Debug("constraint evaluated",
		"constraint", c.ID, "rule", c.RuleID, "status", out.Status,
		"violations", len(out.Violations), "penalty", out.Penalty, "duration", out.Duration)
	return out
}

func (e *Engine) execute(ctx context.Context, c schedule.Constraint, t Target, p *plan, out *Outcome) {
	view := index.View{}
	if t.Index != nil {
		view = selector.Scope(t.Index.View, p.selector)
	}
	in := rules.Input{
		Instance:     t.Instance,
		Result:       t.Result,
		ConstraintID: c.ID,
		RuleID:       c.RuleID,
		Type:         c.Kind(),
		Params:       c.Params,
		View:         view,
	}
	if t.Index != nil {
		in.Location = t.Index.Location
	}

	result, err := invoke(ctx, p.rule, in, e.RuleTimeout)
	if err != nil {
		out.Status = StatusRuleError
		out.Findings.Fail(report.KindRuleExecution, c.ID, "Rule '%s' failed for constraint '%s': %v", c.RuleID, c.ID, err)
		e.logger().Warn("rule execution failed", "constraint", c.ID, "rule", c.RuleID, "error", err)
		return
	}

	for _, w := range result.Warnings {
		out.Findings.Warn(report.KindRuleExecution, c.ID, "Rule '%s' output for constraint '%s' was coerced: %s", c.RuleID, c.ID, w)
	}
	if result.Violations == nil {
		result.Violations = []rules.Violation{}
	}
	if math.IsNaN(result.Amount) || math.IsInf(result.Amount, 0) || result.Amount < 0 {
		result.Amount = 0
	}
	out.Violations = result.Violations
	out.Amount = result.Amount
	out.Explanation = result.Explanation
	out.Status = StatusOK
	if len(out.Violations) > 0 {
		out.Status = StatusViolated
	}
	if out.Explanation == "" {
		out.Explanation = defaultExplanation(len(out.Violations))
	}
	if p.model != nil {
		out.Penalty = penalty.Apply(p.model, out.Amount)
	}

	if rules.UsesTime(p.rule) && view.HasInvalidSlots() {
		out.Partial = true
		skipped := 0
		for _, s := range view.Slots {
			if !s.Valid {
				skipped++
			}
		}
		if out.Soft() {
			out.Findings.Warn(report.KindMalformedTimestamp, c.ID, "Constraint '%s' skipped %d assignment(s) with malformed timestamps", c.ID, skipped)
		} else {
			out.Findings.Fail(report.KindMalformedTimestamp, c.ID, "Hard constraint '%s' could not check %d assignment(s) with malformed timestamps", c.ID, skipped)
		}
	}
}

func defaultExplanation(n int) string {
	if n == 0 {
		return "No violations"
	}
	return fmt.Sprintf("%d violation(s)", n)
}

// EvaluateAll evaluates constraints in parallel and returns outcomes in
// input order. The error is non-nil only when ctx is cancelled.
func (e *Engine) EvaluateAll(ctx context.Context, constraints []schedule.Constraint, t Target) ([]Outcome, error) {
	ctx, span := e.tracer().Start(ctx, "constraints.evaluate", trace.WithAttributes(
		attribute.Int("constraints.count", len(constraints)),
	))
	defer span.End()

	workers := e.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	outcomes := make([]Outcome, len(constraints))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range constraints {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = e.Evaluate(gctx, constraints[i], t)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("evaluate constraints: %w", err)
	}
	return outcomes, nil
}
