package validate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/tiger/osss-validator/api/report"
)

const (
	// InstanceFile is the instance file name inside a bundle example.
	InstanceFile = "osss-instance.json"
	// ResultFile is the optional result file name inside a bundle example.
	ResultFile = "osss-results.json"
)

// Compare validates each result against one instance and ranks them:
// clean feasible results first, then ascending authoritative penalty.
func (s *Service) Compare(ctx context.Context, instanceDoc any, paths []string) (*report.Report, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	ctx, span := s.tracer().Start(ctx, "validate.compare")
	defer span.End()

	ranked := make([]report.Ranked, 0, len(paths))
	for _, p := range paths {
		entry := report.Ranked{Path: p, TotalPenalty: math.Inf(1)}
		doc, err := ReadJSON(p)
		if err != nil {
			entry.ExitCode = report.ExitSchema
			entry.Summary = err.Error()
			ranked = append(ranked, entry)
			continue
		}
		run, err := s.Result(ctx, instanceDoc, doc, ResultOptions{})
		if err != nil {
			return nil, err
		}
		entry.Valid = run.Report.Valid
		entry.ExitCode = run.Report.ExitCode
		entry.Summary = run.Report.Summary
		if d := run.Report.Details; d != nil && run.Outcomes != nil {
			entry.Feasible = d.Feasible
			entry.TotalPenalty = d.TotalPenalty
		}
		ranked = append(ranked, entry)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Clean() != b.Clean() {
			return a.Clean()
		}
		return a.TotalPenalty < b.TotalPenalty
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
		if math.IsInf(ranked[i].TotalPenalty, 1) {
			ranked[i].TotalPenalty = math.MaxFloat64
		}
	}

	rep := report.New()
	rep.Ranked = ranked
	return rep.Finalize("Comparison complete", "Comparison complete"), nil
}

// Bundle validates every example directory under root. Each directory holds
// an instance file and, optionally, a result file.
func (s *Service) Bundle(ctx context.Context, root string, requireResults bool) (*report.Report, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	ctx, span := s.tracer().Start(ctx, "validate.bundle")
	defer span.End()

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read examples directory %s: %w", root, err)
	}

	rep := report.New()
	rep.Bundle = []report.BundleEntry{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		entry, err := s.bundleEntry(ctx, dir, requireResults)
		if err != nil {
			return nil, err
		}
		entry.Name = e.Name()
		rep.Raise(entry.ExitCode)
		rep.Bundle = append(rep.Bundle, entry)
	}
	return rep.Finalize("Bundle validation succeeded", "Bundle validation found issues"), nil
}

func (s *Service) bundleEntry(ctx context.Context, dir string, requireResults bool) (report.BundleEntry, error) {
	instancePath := filepath.Join(dir, InstanceFile)
	resultPath := filepath.Join(dir, ResultFile)

	instanceDoc, err := ReadJSON(instancePath)
	if err != nil {
		entry := report.BundleEntry{Instance: missing(instancePath, err, "Missing "+InstanceFile)}
		entry.ExitCode = entry.Instance.ExitCode
		return entry, nil
	}
	instRep, err := s.Instance(ctx, instanceDoc)
	if err != nil {
		return report.BundleEntry{}, err
	}
	entry := report.BundleEntry{Instance: instRep, ExitCode: instRep.ExitCode}

	resultDoc, err := ReadJSON(resultPath)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !requireResults:
		return entry, nil
	case err != nil:
		entry.Result = missing(resultPath, err, "Missing "+ResultFile)
	default:
		run, err := s.Result(ctx, instanceDoc, resultDoc, ResultOptions{})
		if err != nil {
			return report.BundleEntry{}, err
		}
		entry.Result = run.Report
	}
	if entry.Result.ExitCode > entry.ExitCode {
		entry.ExitCode = entry.Result.ExitCode
	}
	return entry, nil
}

func missing(path string, err error, summary string) *report.Report {
	rep := report.New()
	if errors.Is(err, fs.ErrNotExist) {
		rep.Fail(report.KindSchemaViolation, "", "Missing file: %s", path)
	} else {
		rep.Fail(report.KindSchemaViolation, "", "%v", err)
		summary = "Could not read " + filepath.Base(path)
	}
	return rep.Finalize(summary, summary)
}
