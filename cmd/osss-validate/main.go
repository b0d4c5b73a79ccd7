package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/tiger/osss-validator/api/report"
	"github.com/tiger/osss-validator/internal/config"
	"github.com/tiger/osss-validator/internal/engine/evaluator"
	"github.com/tiger/osss-validator/internal/engine/index"
	"github.com/tiger/osss-validator/internal/logging"
	"github.com/tiger/osss-validator/internal/metrics"
	"github.com/tiger/osss-validator/internal/registry"
	"github.com/tiger/osss-validator/internal/render"
	"github.com/tiger/osss-validator/internal/rules/builtin"
	"github.com/tiger/osss-validator/internal/schema"
	"github.com/tiger/osss-validator/internal/telemetry"
	"github.com/tiger/osss-validator/internal/validate"
)

const (
	serviceName = "osss-validate"
	version     = "0.3.0"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], environ(), os.Stdout, os.Stderr))
}

func environ() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

// app carries state shared by the subcommands of one invocation.
type app struct {
	env    map[string]string
	stdout io.Writer
	stderr io.Writer

	flags    globalFlags
	cfg      config.Config
	logger   *slog.Logger
	metrics  *metrics.Recorder
	service  *validate.Service
	shutdown func(context.Context) error
	exitCode int
}

type globalFlags struct {
	format          string
	schemas         string
	registry        string
	strict          bool
	workers         int
	ruleTimeout     string
	defaultDuration int
	ruleScripts     map[string]string
	logLevel        string
	logFormat       string
	metricsTextfile string
	trace           string
}

func bindGlobalFlags(fs *flag.FlagSet, g *globalFlags) {
	fs.StringVar(&g.format, "format", "", "output format: text|json")
	fs.StringVar(&g.schemas, "schemas", "", "schemas directory (default: embedded schemas)")
	fs.StringVar(&g.registry, "registry", "", "registry directory with constraints.{json,yaml}")
	fs.BoolVar(&g.strict, "strict-missing-rules", false, "fail when a hard constraint has no implementation")
	fs.IntVar(&g.workers, "workers", 0, "parallel constraint evaluations (0 = GOMAXPROCS)")
	fs.StringVar(&g.ruleTimeout, "rule-timeout", "", "per-rule timeout, e.g. 5s")
	fs.IntVar(&g.defaultDuration, "default-duration", 0, "fallback fixture duration in minutes")
	fs.StringToStringVar(&g.ruleScripts, "rule-script", nil, "Lua rule as id=path (repeatable)")
	fs.StringVar(&g.logLevel, "log-level", "", "debug|info|warn|error")
	fs.StringVar(&g.logFormat, "log-format", "", "text|json")
	fs.StringVar(&g.metricsTextfile, "metrics-textfile", "", "write prometheus metrics to this file")
	fs.StringVar(&g.trace, "trace", "", "trace exporter: none|stdout")
}

// applyFlags overrides env configuration with explicitly set flags.
func (a *app) applyFlags(fs *flag.FlagSet) error {
	g := a.flags
	if fs.Changed("format") {
		a.cfg.Format = g.format
	}
	if fs.Changed("schemas") {
		a.cfg.SchemasDir = g.schemas
	}
	if fs.Changed("registry") {
		a.cfg.RegistryDir = g.registry
	}
	if fs.Changed("strict-missing-rules") {
		a.cfg.StrictMissingRules = g.strict
	}
	if fs.Changed("workers") {
		a.cfg.Workers = g.workers
	}
	if fs.Changed("rule-timeout") {
		d, err := time.ParseDuration(g.ruleTimeout)
		if err != nil {
			return fmt.Errorf("--rule-timeout: %w", err)
		}
		a.cfg.RuleTimeout = d
	}
	if fs.Changed("default-duration") {
		a.cfg.DefaultDurationMinutes = g.defaultDuration
	}
	if fs.Changed("rule-script") {
		merged := make(map[string]string, len(a.cfg.RuleScripts)+len(g.ruleScripts))
		for id, path := range a.cfg.RuleScripts {
			merged[id] = path
		}
		for id, path := range g.ruleScripts {
			merged[id] = path
		}
		a.cfg.RuleScripts = merged
	}
	if fs.Changed("log-level") {
		a.cfg.LogLevel = g.logLevel
	}
	if fs.Changed("log-format") {
		a.cfg.LogFormat = g.logFormat
	}
	if fs.Changed("metrics-textfile") {
		a.cfg.MetricsTextfile = g.metricsTextfile
	}
	if fs.Changed("trace") {
		a.cfg.TraceExporter = g.trace
	}
	return a.cfg.Validate()
}

// setup resolves configuration and builds the validation service.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadFrom(a.env)
	if err != nil {
		return err
	}
	a.cfg = cfg
	if err := a.applyFlags(cmd.Flags()); err != nil {
		return err
	}

	logger, err := logging.New(a.stderr, a.cfg.LogLevel, a.cfg.LogFormat)
	if err != nil {
		return err
	}
	a.logger = logger

	shutdown, err := telemetry.Init(cmd.Context(), telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Exporter:       a.cfg.TraceExporter,
		Writer:         a.stderr,
	})
	if err != nil {
		return err
	}
	a.shutdown = shutdown

	schemas, err := schema.LoadDir(a.cfg.SchemasDir)
	if err != nil {
		return err
	}
	reg, err := registry.Load(a.cfg.RegistryDir)
	if err != nil {
		return err
	}
	catalog, err := builtin.Catalog(a.cfg.RuleScripts)
	if err != nil {
		return err
	}
	a.metrics = metrics.New()
	tracer := telemetry.Tracer()

	a.service = &validate.Service{
		Schemas:  schemas,
		Registry: reg,
		Engine: &evaluator.Engine{
			Registry:    reg,
			Catalog:     catalog,
			Strict:      a.cfg.StrictMissingRules,
			RuleTimeout: a.cfg.RuleTimeout,
			Workers:     a.cfg.Workers,
			Logger:      logging.Component(logger, "engine"),
			Tracer:      tracer,
			Metrics:     a.metrics,
		},
		Index:  index.Builder{DefaultDuration: a.cfg.DefaultDuration()},
		Logger: logging.Component(logger, "validate"),
		Tracer: tracer,
	}
	logger.Debug("validator configured",
		"schemas", a.cfg.SchemasDir, "registry", a.cfg.RegistryDir, "rules", catalog.IDs(),
		"strict", a.cfg.StrictMissingRules, "workers", a.cfg.Workers)
	return nil
}

// finish prints rep and records the exit code.
func (a *app) finish(cmd *cobra.Command, rep *report.Report) error {
	a.exitCode = rep.ExitCode
	a.metrics.ObserveRun(cmd.Name(), rep.ExitCode)
	return render.Write(a.stdout, rep, a.cfg.Format)
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Validate OSSS instances and solver results",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	bindGlobalFlags(root.PersistentFlags(), &a.flags)
	root.AddCommand(newInstanceCommand(a), newResultCommand(a), newCompareCommand(a), newBundleCommand(a))
	return root
}

func newInstanceCommand(a *app) *cobra.Command {
	var instancePath string
	cmd := &cobra.Command{
		Use:   "instance",
		Short: "Validate an instance document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := validate.ReadJSON(instancePath)
			if err != nil {
				return err
			}
			rep, err := a.service.Instance(cmd.Context(), doc)
			if err != nil {
				return err
			}
			return a.finish(cmd, rep)
		},
	}
	cmd.Flags().StringVar(&instancePath, "instance", "", "path to osss-instance.json")
	_ = cmd.MarkFlagRequired("instance")
	return cmd
}

func newResultCommand(a *app) *cobra.Command {
	var (
		instancePath string
		resultPath   string
		fixScores    bool
		outPath      string
	)
	cmd := &cobra.Command{
		Use:   "result",
		Short: "Validate a solver result against its instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			instanceDoc, err := validate.ReadJSON(instancePath)
			if err != nil {
				return err
			}
			resultDoc, err := validate.ReadJSON(resultPath)
			if err != nil {
				return err
			}
			run, err := a.service.Result(cmd.Context(), instanceDoc, resultDoc, validate.ResultOptions{FixScores: fixScores})
			if err != nil {
				return err
			}
			if fixScores && run.Document != nil {
				target := outPath
				if target == "" {
					target = resultPath
				}
				if err := writeDocument(target, run.Document); err != nil {
					return err
				}
				a.logger.Info("scores rewritten", "path", target, "total_penalty", run.Report.Details.TotalPenalty)
			}
			return a.finish(cmd, run.Report)
		},
	}
	cmd.Flags().StringVar(&instancePath, "instance", "", "path to osss-instance.json")
	cmd.Flags().StringVar(&resultPath, "result", "", "path to osss-results.json")
	cmd.Flags().BoolVar(&fixScores, "fix-scores", false, "rewrite scores with authoritative values")
	cmd.Flags().StringVar(&outPath, "out", "", "write the rewritten result here instead of in place")
	_ = cmd.MarkFlagRequired("instance")
	_ = cmd.MarkFlagRequired("result")
	return cmd
}

func newCompareCommand(a *app) *cobra.Command {
	var (
		instancePath string
		resultPaths  []string
	)
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Rank several solver results for one instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			instanceDoc, err := validate.ReadJSON(instancePath)
			if err != nil {
				return err
			}
			rep, err := a.service.Compare(cmd.Context(), instanceDoc, resultPaths)
			if err != nil {
				return err
			}
			return a.finish(cmd, rep)
		},
	}
	cmd.Flags().StringVar(&instancePath, "instance", "", "path to osss-instance.json")
	cmd.Flags().StringSliceVar(&resultPaths, "results", nil, "result files to rank")
	_ = cmd.MarkFlagRequired("instance")
	_ = cmd.MarkFlagRequired("results")
	return cmd
}

func newBundleCommand(a *app) *cobra.Command {
	var (
		examplesDir    string
		requireResults bool
	)
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Validate every example directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rep, err := a.service.Bundle(cmd.Context(), examplesDir, requireResults)
			if err != nil {
				return err
			}
			return a.finish(cmd, rep)
		},
	}
	cmd.Flags().StringVar(&examplesDir, "examples", "", "examples directory, e.g. ./examples")
	cmd.Flags().BoolVar(&requireResults, "require-results", false, "fail when an example has no "+validate.ResultFile)
	_ = cmd.MarkFlagRequired("examples")
	return cmd
}

// writeDocument replaces path atomically with indented JSON.
func writeDocument(path string, doc map[string]any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	data = append(data, '\n')
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func run(ctx context.Context, args []string, env map[string]string, stdout, stderr io.Writer) int {
	a := &app{env: env, stdout: stdout, stderr: stderr}
	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if a.shutdown != nil {
		if shutdownErr := a.shutdown(context.Background()); shutdownErr != nil {
			fmt.Fprintf(stderr, "trace shutdown: %v\n", shutdownErr)
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return report.ExitSchema
	}
	if err := a.metrics.WriteTextfile(a.cfg.MetricsTextfile); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
	}
	return a.exitCode
}
