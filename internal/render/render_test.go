package render

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiger/osss-validator/api/report"
)

func sampleReport() *report.Report {
	rep := report.New()
	rep.Warn(report.KindMissingRegistryEntry, "S1", "Constraint 'S1' references unknown ruleId 'x'")
	rep.Raise(report.ExitHardViolated)
	rep.Details = &report.Details{
		Feasible:             true,
		TotalPenalty:         12,
		ReportedTotalPenalty: 5,
		HardViolations:       []string{"Team 'T' overlap between fixtures 'F1' and 'F2'"},
	}
	return rep.Finalize("Result is valid and feasible", "Result validation completed with issues")
}

func TestTextRendering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Text(&buf, sampleReport()))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "✖ Result validation completed with issues (exit 3)\n"), out)
	assert.Contains(t, out, "Total penalty: 12 (reported 5)\n")
	assert.Contains(t, out, "\nWarnings:\n- Constraint 'S1' references unknown ruleId 'x'\n")
	assert.Contains(t, out, "\nHard constraint violations:\n- Team 'T' overlap between fixtures 'F1' and 'F2'\n")
	assert.NotContains(t, out, "Errors:")
	assert.NotContains(t, out, "\x1b[", "non-terminal output must not carry escape codes")
}

func TestTextRenderingRankingAndBundle(t *testing.T) {
	t.Parallel()

	rep := report.New()
	rep.Ranked = []report.Ranked{
		{Rank: 1, Path: "a.json", Valid: true, Feasible: true, TotalPenalty: 3},
		{Rank: 2, Path: "b.json", ExitCode: 1, TotalPenalty: math.MaxFloat64},
	}
	child := report.New().Finalize("Instance is valid", "Instance validation failed")
	rep.Bundle = []report.BundleEntry{{Name: "league-a", Instance: child}}
	rep.Finalize("Comparison complete", "Comparison complete")

	var buf bytes.Buffer
	require.NoError(t, Text(&buf, rep))
	out := buf.String()
	assert.Contains(t, out, "1. ✔ a.json penalty=3 exit=0 feasible=true\n")
	assert.Contains(t, out, "2. ✖ b.json penalty=1.79769e+308 exit=1 feasible=false\n")
	assert.Contains(t, out, "league-a (exit 0)\n  ✔ Instance is valid (exit 0)\n")
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleReport(), "json"))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, false, decoded["valid"])
	assert.Equal(t, 3.0, decoded["exitCode"])
	details := decoded["details"].(map[string]any)
	assert.Len(t, details["hardViolations"], 1)
}

func TestWriteRejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	if err := Write(&bytes.Buffer{}, report.New(), "xml"); err == nil {
		t.Fatalf("expected unknown format error")
	}
}
