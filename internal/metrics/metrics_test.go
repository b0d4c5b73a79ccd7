package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	t.Parallel()

	r := New()
	r.ObserveConstraint("no_overlap_team", "hard", "violated", 2, 3*time.Millisecond)
	r.ObserveConstraint("no_overlap_team", "hard", "ok", 0, time.Millisecond)
	r.ObserveConstraint("home_away_balance", "soft", "violated", 1, time.Millisecond)
	r.ObserveRun("result", 3)

	if got := testutil.ToFloat64(r.evaluations.WithLabelValues("hard", "violated")); got != 1 {
		t.Fatalf("expected 1 violated hard evaluation, got %v", got)
	}
	if got := testutil.ToFloat64(r.violations.WithLabelValues("hard")); got != 2 {
		t.Fatalf("expected 2 hard violations, got %v", got)
	}
	if got := testutil.ToFloat64(r.runs.WithLabelValues("result", "3")); got != 1 {
		t.Fatalf("expected one run, got %v", got)
	}
	if got := testutil.CollectAndCount(r.duration); got != 2 {
		t.Fatalf("expected 2 duration series, got %d", got)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	t.Parallel()

	var r *Recorder
	r.ObserveConstraint("x", "hard", "ok", 1, time.Second)
	r.ObserveRun("instance", 0)
	if err := r.WriteTextfile(filepath.Join(t.TempDir(), "m.prom")); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
}

func TestWriteTextfile(t *testing.T) {
	t.Parallel()

	r := New()
	r.ObserveRun("instance", 0)
	path := filepath.Join(t.TempDir(), "osss.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if !strings.Contains(string(raw), `osss_validator_runs_total{command="instance",exit_code="0"} 1`) {
		t.Fatalf("textfile missing run counter:\n%s", raw)
	}
}
