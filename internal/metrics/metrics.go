package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "osss"

// Recorder holds the validator's collectors. A nil *Recorder is a valid no-op.
type Recorder struct {
	registry    *prometheus.Registry
	evaluations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	violations  *prometheus.CounterVec
	runs        *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		// Labels: type (hard, soft), status (ok, violated, unchecked, rule_error, ...)
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "constraints_evaluated_total",
			Help:      "Constraints evaluated by type and outcome status",
		}, []string{"type", "status"}),
		// Labels: rule
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "rule_duration_seconds",
			Help:      "Rule invocation latency in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"rule"}),
		// Labels: type
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "violations_total",
			Help:      "Violations reported by rules",
		}, []string{"type"}),
		// Labels: command, exit_code
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validator",
			Name:      "runs_total",
			Help:      "Validation runs by command and exit code",
		}, []string{"command", "exit_code"}),
	}
	r.registry.MustRegister(r.evaluations, r.duration, r.violations, r.runs)
	return r
}

// Registry exposes the underlying registry for gathering.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveConstraint records one constraint outcome.
func (r *Recorder) ObserveConstraint(ruleID, kind, status string, violations int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.evaluations.WithLabelValues(kind, status).Inc()
	if ruleID != "" {
		r.duration.WithLabelValues(ruleID).Observe(elapsed.Seconds())
	}
	if violations > 0 {
		r.violations.WithLabelValues(kind).Add(float64(violations))
	}
}

// ObserveRun records the exit code of a command.
func (r *Recorder) ObserveRun(command string, exitCode int) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(command, fmt.Sprint(exitCode)).Inc()
}

// WriteTextfile writes the registry in node-exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
