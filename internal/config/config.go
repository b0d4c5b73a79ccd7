package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// ErrInvalid wraps every validation failure returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config is the resolved runtime configuration.
type Config struct {
	// SchemasDir overrides the embedded schemas when set.
	SchemasDir  string `env:"OSSS_SCHEMAS_DIR"`
	RegistryDir string `env:"OSSS_REGISTRY_DIR"`
	Format      string `env:"OSSS_FORMAT" envDefault:"text" validate:"oneof=text json"`

	StrictMissingRules     bool          `env:"OSSS_STRICT_MISSING_RULES"`
	Workers                int           `env:"OSSS_WORKERS" validate:"gte=0,lte=1024"`
	RuleTimeout            time.Duration `env:"OSSS_RULE_TIMEOUT" envDefault:"5s" validate:"gte=0"`
	DefaultDurationMinutes int           `env:"OSSS_DEFAULT_DURATION_MINUTES" envDefault:"90" validate:"gt=0"`
	// RuleScripts maps rule ids to Lua files, e.g. "weekend_cap:rules/weekend.lua,...".
	RuleScripts map[string]string `env:"OSSS_RULE_SCRIPTS" envSeparator:"," envKeyValSeparator:":" validate:"dive,keys,required,endkeys,required"`

	LogLevel        string `env:"OSSS_LOG_LEVEL" envDefault:"warn" validate:"oneof=debug info warn warning error"`
	LogFormat       string `env:"OSSS_LOG_FORMAT" envDefault:"text" validate:"oneof=text json"`
	MetricsTextfile string `env:"OSSS_METRICS_TEXTFILE"`
	TraceExporter   string `env:"OSSS_TRACE_EXPORTER" envDefault:"none" validate:"oneof=none stdout"`
}

// DefaultDuration returns the fallback fixture length.
func (c Config) DefaultDuration() time.Duration {
	return time.Duration(c.DefaultDurationMinutes) * time.Minute
}

// LoadFrom parses the OSSS_* variables in environ and validates the result.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints. Every failing field is listed.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		msgs = append(msgs, fmt.Sprintf("%s=%v violates %s", fe.Namespace(), fe.Value(), rule))
	}
	sort.Strings(msgs)
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}
