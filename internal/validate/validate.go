package validate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/tiger/osss-validator/api/report"
	"github.com/tiger/osss-validator/api/schedule"
	"github.com/tiger/osss-validator/internal/engine/evaluator"
	"github.com/tiger/osss-validator/internal/engine/index"
	"github.com/tiger/osss-validator/internal/normalize"
	"github.com/tiger/osss-validator/internal/registry"
	"github.com/tiger/osss-validator/internal/rescore"
	"github.com/tiger/osss-validator/internal/schema"
)

const (
	instanceValid   = "Instance is valid"
	instanceInvalid = "Instance validation failed"

	resultValid           = "Result is valid and feasible"
	resultValidNormalized = "Result valid (after normalization from alternative format)"
	resultIssues          = "Result validation completed with issues"
	resultSchemaFailed    = "Result schema validation failed"
)

var (
	// ErrNoSchemas is returned when a Service has no schema set.
	ErrNoSchemas = errors.New("schema set is required")
	// ErrNoEngine is returned when a Service has no evaluation engine.
	ErrNoEngine = errors.New("evaluation engine is required")
)

// Service validates documents. Schemas and Engine are required.
type Service struct {
	Schemas    *schema.Set
	Registry   *registry.Registry
	Engine     *evaluator.Engine
	Normalizer normalize.Service
	Index      index.Builder
	// Clock stamps _validatedAt in fix mode; nil means time.Now.
	Clock  func() time.Time
	Logger *slog.Logger
	Tracer trace.Tracer
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.Logger
}

func (s *Service) tracer() trace.Tracer {
	if s.Tracer == nil {
		return noop.NewTracerProvider().Tracer("")
	}
	return s.Tracer
}

func (s *Service) registry() *registry.Registry {
	if s.Registry == nil {
		return registry.Empty()
	}
	return s.Registry
}

func (s *Service) ready() error {
	if s.Schemas == nil {
		return ErrNoSchemas
	}
	if s.Engine == nil {
		return ErrNoEngine
	}
	return nil
}

// ReadJSON reads and decodes a JSON document into its generic form.
func ReadJSON(path string) (any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %s: %w", path, err)
	}
	return doc, nil
}

func decode[T any](doc any) (T, error) {
	var out T
	raw, err := json.Marshal(doc)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

// schemaErrors returns leaf messages, or a single message when the schema
// itself is unavailable.
func (s *Service) schemaErrors(doc any, name string) []string {
	msgs, err := s.Schemas.Validate(doc, name)
	if err != nil {
		return []string{fmt.Sprintf("Could not load %s: %v", name, err)}
	}
	return msgs
}

// Instance validates an instance document on its own.
func (s *Service) Instance(ctx context.Context, doc any) (*report.Report, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	_, span := s.tracer().Start(ctx, "validate.instance")
	defer span.End()

	rep := report.New()
	for _, msg := range s.schemaErrors(doc, schema.CoreSchema) {
		rep.Fail(report.KindSchemaViolation, "", "%s", msg)
	}
	inst, err := decode[schedule.Instance](doc)
	if err != nil {
		rep.Fail(report.KindSchemaViolation, "", "Instance could not be decoded: %v", err)
		return rep.Finalize(instanceValid, instanceInvalid), nil
	}
	rep.Instance = &report.InstanceDetails{
		InstanceID:      inst.ID,
		FixtureCount:    len(inst.Fixtures),
		ConstraintCount: len(inst.Constraints),
		ObjectiveCount:  len(inst.Objectives),
	}

	loc, err := time.LoadLocation(inst.Location())
	if err != nil {
		rep.Fail(report.KindSchemaViolation, "", "Unknown timezone '%s'", inst.Timezone)
		loc = time.UTC
	}
	checkReferences(rep, inst)
	s.checkObjectives(rep, inst)

	if len(inst.Constraints) == 0 {
		rep.Warn(report.KindSchemaViolation, "", "No constraints[] found on instance (allowed, but unusual).")
	}
	for _, c := range inst.Constraints {
		rep.Merge(s.Engine.Check(c, loc).Findings)
	}

	rep.Finalize(instanceValid, instanceInvalid)
	span.SetAttributes(attribute.Int("report.exit_code", rep.ExitCode))
	s.logger().Info("instance validated", "instance", inst.ID, "exit_code", rep.ExitCode,
		"errors", len(rep.Errors), "warnings", len(rep.Warnings))
	return rep, nil
}

func (s *Service) checkObjectives(rep *report.Report, inst schedule.Instance) {
	reg := s.registry()
	if len(reg.ObjectiveIDs()) == 0 {
		return
	}
	for _, obj := range inst.Objectives {
		metric := obj.Metric
		if metric == "" {
			metric = obj.ID
		}
		if reg.HasObjective(metric) {
			continue
		}
		msg := fmt.Sprintf("Objective metric not found in registry: %s", metric)
		if suggestions := reg.SuggestObjective(metric); len(suggestions) > 0 {
			msg += fmt.Sprintf(" (did you mean: %s?)", strings.Join(suggestions, ", "))
		}
		rep.Warn(report.KindReferentialIntegrity, "", "%s", msg)
	}
}

// checkReferences records duplicate ids and dangling entity references.
func checkReferences(rep *report.Report, inst schedule.Instance) {
	duplicates := func(kind string, ids []string) {
		seen := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				rep.Fail(report.KindReferentialIntegrity, "", "Duplicate %s id '%s'", kind, id)
				continue
			}
			seen[id] = struct{}{}
		}
	}
	teams := make([]string, 0, len(inst.Teams))
	for _, t := range inst.Teams {
		teams = append(teams, t.ID)
	}
	venues := make([]string, 0, len(inst.Venues))
	for _, v := range inst.Venues {
		venues = append(venues, v.ID)
	}
	fixtures := make([]string, 0, len(inst.Fixtures))
	for _, f := range inst.Fixtures {
		fixtures = append(fixtures, f.ID)
	}
	constraints := make([]string, 0, len(inst.Constraints))
	for _, c := range inst.Constraints {
		constraints = append(constraints, c.ID)
	}
	duplicates("team", teams)
	duplicates("venue", venues)
	duplicates("fixture", fixtures)
	duplicates("constraint", constraints)

	knownTeams := toSet(teams)
	knownVenues := toSet(venues)
	for _, f := range inst.Fixtures {
		if len(knownTeams) > 0 {
			for _, team := range f.Teams() {
				if _, ok := knownTeams[team]; !ok {
					rep.Warn(report.KindReferentialIntegrity, "", "Fixture '%s' references unknown team '%s'", f.ID, team)
				}
			}
		}
		if f.LockedVenueID != "" {
			if _, ok := knownVenues[f.LockedVenueID]; !ok {
				rep.Fail(report.KindReferentialIntegrity, "", "Fixture '%s' is locked to unknown venue '%s'", f.ID, f.LockedVenueID)
			}
		}
	}
}

// ResultOptions tunes a result validation run.
type ResultOptions struct {
	// FixScores rewrites the ledger with authoritative values.
	FixScores bool
}

// ResultRun is the output of one result validation.
type ResultRun struct {
	Report *report.Report
	// Document is the rewritten result document; set only with FixScores.
	Document map[string]any
	Outcomes []evaluator.Outcome
}

// Result validates a result document against an instance document. The
// error is non-nil only for misconfiguration or a cancelled ctx; every
// document problem lands in the report.
func (s *Service) Result(ctx context.Context, instanceDoc, resultDoc any, opts ResultOptions) (ResultRun, error) {
	if err := s.ready(); err != nil {
		return ResultRun{}, err
	}
	ctx, span := s.tracer().Start(ctx, "validate.result", trace.WithAttributes(
		attribute.Bool("fix_scores", opts.FixScores),
	))
	defer span.End()

	rep := report.New()
	run := ResultRun{Report: rep}

	doc, normalized, ok := s.conform(rep, resultDoc)
	if !ok {
		rep.Details = &report.Details{HardViolations: []string{}}
		rep.Finalize(resultValid, resultSchemaFailed)
		return run, nil
	}

	inst, err := decode[schedule.Instance](instanceDoc)
	if err != nil {
		rep.Fail(report.KindSchemaViolation, "", "Instance could not be decoded: %v", err)
		rep.Details = &report.Details{HardViolations: []string{}}
		rep.Finalize(resultValid, resultIssues)
		return run, nil
	}
	res, err := decode[schedule.Result](doc)
	if err != nil {
		rep.Fail(report.KindSchemaViolation, "", "Result could not be decoded: %v", err)
		rep.Details = &report.Details{HardViolations: []string{}}
		rep.Finalize(resultValid, resultIssues)
		return run, nil
	}

	if !res.Feasible {
		rep.Warn(report.KindInfeasible, "", "Result feasible=false (solver reports infeasible).")
		rep.Raise(report.KindInfeasible.ExitCode())
	}

	idx := s.Index.Build(inst, res)
	for _, msg := range idx.ParseErrors {
		rep.Warn(report.KindMalformedTimestamp, "", "%s", msg)
	}
	for _, id := range idx.UnknownFixtures {
		rep.Warn(report.KindReferentialIntegrity, "", "Assignment references non-existent fixture: '%s'", id)
	}
	checkCardinality(rep, idx)

	outcomes, err := s.Engine.EvaluateAll(ctx, inst.Constraints, evaluator.Target{Instance: &inst, Result: &res, Index: idx})
	if err != nil {
		return ResultRun{}, err
	}
	run.Outcomes = outcomes
	for _, out := range outcomes {
		rep.Merge(out.Findings)
	}

	reconciler := rescore.Reconciler{Clock: s.Clock, Fix: opts.FixScores}
	rec := reconciler.Reconcile(outcomes, res.Scores)
	rep.Merge(rec.Findings)
	if len(rec.HardViolations) > 0 {
		rep.Raise(report.KindHardViolation.ExitCode())
	}

	if opts.FixScores {
		run.Document = rewritable(doc)
		reconciler.Apply(run.Document, rec)
	}

	rep.Details = &report.Details{
		Feasible:             res.Feasible,
		TotalPenalty:         rec.TotalPenalty,
		ReportedTotalPenalty: res.Scores.TotalPenalty,
		HardViolations:       rec.HardViolations,
		ByConstraint:         summarize(outcomes),
	}
	okSummary := resultValid
	if normalized {
		okSummary = resultValidNormalized
	}
	rep.Finalize(okSummary, resultIssues)

	span.SetAttributes(
		attribute.Int("report.exit_code", rep.ExitCode),
		attribute.Int("report.hard_violations", len(rec.HardViolations)),
		attribute.Float64("report.total_penalty", rec.TotalPenalty),
	)
	s.logger().Info("result validated", "exit_code", rep.ExitCode, "feasible", res.Feasible,
		"hard_violations", len(rec.HardViolations), "total_penalty", rec.TotalPenalty,
		"errors", len(rep.Errors), "warnings", len(rep.Warnings))
	return run, nil
}

// conform validates the raw result against the results schema, retrying
// once after normalization. It returns the document to decode and whether
// the normalizer had to repair it.
func (s *Service) conform(rep *report.Report, raw any) (map[string]any, bool, bool) {
	original := s.schemaErrors(raw, schema.ResultsSchema)
	if len(original) == 0 {
		doc, _ := raw.(map[string]any)
		return doc, false, true
	}

	out, err := s.Normalizer.Normalize(normalize.Input{Document: raw})
	if err != nil {
		for _, msg := range original {
			rep.Fail(report.KindSchemaViolation, "", "%s", msg)
		}
		return nil, false, false
	}
	for _, w := range out.Warnings {
		rep.Warn(report.KindNormalizationApplied, "", "%s", w)
	}
	if retry := s.schemaErrors(out.Document, schema.ResultsSchema); len(retry) > 0 {
		for _, msg := range original {
			rep.Fail(report.KindSchemaViolation, "", "%s", msg)
		}
		return nil, false, false
	}
	s.logger().Debug("result normalized", "warnings", len(out.Warnings))
	return out.Document, out.Changed(), true
}

func checkCardinality(rep *report.Report, idx *index.Index) {
	for _, id := range idx.FixtureOrder {
		n := idx.AssignmentCounts[id]
		if n == 1 || (n == 0 && idx.Fixtures[id].Conditional) {
			continue
		}
		rep.Fail(report.KindCardinalityViolation, "", "Fixture '%s' must be assigned exactly once, found %d", id, n)
	}
}

// rewritable copies the top level and the scores object so the ledger
// rewrite never reaches the caller's document.
func rewritable(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	if scores, ok := doc["scores"].(map[string]any); ok {
		copied := make(map[string]any, len(scores))
		for k, v := range scores {
			copied[k] = v
		}
		out["scores"] = copied
	}
	return out
}

func summarize(outcomes []evaluator.Outcome) []report.ConstraintSummary {
	out := make([]report.ConstraintSummary, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, report.ConstraintSummary{
			ConstraintID: o.Constraint.ID,
			RuleID:       o.Constraint.RuleID,
			Type:         string(o.Constraint.Kind()),
			Status:       string(o.Status),
			Violations:   len(o.Violations),
			Amount:       o.Amount,
			Penalty:      o.Penalty,
			Messages:     o.Messages(),
			Explanation:  o.Explanation,
		})
	}
	return out
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
