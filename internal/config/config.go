// Package config loads the engine settings.
//
// Values come from, in increasing precedence: built-in defaults, a YAML
// file, and TANDA_* environment variables. The result is checked against
// an embedded CUE schema before use.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. TANDA_RETRY_MAX_ATTEMPTS.
const EnvPrefix = "tanda"

//go:embed schema.cue
var schemaSource string

// Config is the full engine configuration.
type Config struct {
	// Wallet is the address this device acts for.
	Wallet  string        `yaml:"wallet"  json:"wallet,omitempty"`
	Retry   RetryConfig   `yaml:"retry"   json:"retry"`
	Cycle   CycleConfig   `yaml:"cycle"   json:"cycle"`
	Ledger  LedgerConfig  `yaml:"ledger"  json:"ledger"`
	Store   StoreConfig   `yaml:"store"   json:"store"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// RetryConfig drives the failed-deposit registry and its scheduler.
type RetryConfig struct {
	GracePeriod   time.Duration `yaml:"gracePeriod"   json:"gracePeriod"   split_words:"true"`
	RetryInterval time.Duration `yaml:"retryInterval" json:"retryInterval" split_words:"true"`
	MaxAttempts   int           `yaml:"maxAttempts"   json:"maxAttempts"   split_words:"true"`
	TickInterval  time.Duration `yaml:"tickInterval"  json:"tickInterval"  split_words:"true"`
	CallTimeout   time.Duration `yaml:"callTimeout"   json:"callTimeout"   split_words:"true"`
	CleanupAge    time.Duration `yaml:"cleanupAge"    json:"cleanupAge"    split_words:"true"`
}

// CycleConfig holds the advancement policy timings.
type CycleConfig struct {
	DelinquencyWindow time.Duration `yaml:"delinquencyWindow" json:"delinquencyWindow" split_words:"true"`
	Interval          time.Duration `yaml:"interval"          json:"interval"`
}

// LedgerConfig locates the ledger facade. An empty URL means no remote
// ledger is configured.
type LedgerConfig struct {
	URL string `yaml:"url" json:"url,omitempty"`
}

// StoreConfig selects the persistent store.
type StoreConfig struct {
	Backend string `yaml:"backend" json:"backend"`
	Path    string `yaml:"path"    json:"path"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level     string `yaml:"level"     json:"level"`
	Format    string `yaml:"format"    json:"format"`
	AddSource bool   `yaml:"addSource" json:"addSource" split_words:"true"`
}

// MetricsConfig configures the prometheus endpoint of the run command.
// An empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen" json:"listen,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Retry: RetryConfig{
			GracePeriod:   24 * time.Hour,
			RetryInterval: 24 * time.Hour,
			MaxAttempts:   7,
			TickInterval:  time.Hour,
			CallTimeout:   30 * time.Second,
			CleanupAge:    30 * 24 * time.Hour,
		},
		Cycle: CycleConfig{
			DelinquencyWindow: 6 * 24 * time.Hour,
			Interval:          7 * 24 * time.Hour,
		},
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    "tanda.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath returns ~/.tanda/tanda.yaml, or "" without a home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".tanda", "tanda.yaml")
}

// Load builds the configuration. With an empty path the default file is
// used if it exists; an explicit path must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		if p := DefaultPath(); p != "" {
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := Decode(buf, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode overlays YAML onto cfg. Unknown keys are rejected. An empty
// document leaves cfg untouched.
func Decode(buf []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks cfg against the embedded schema.
func Validate(cfg Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.Unify(ctx.Encode(cfg))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Details: cueerrors.Details(err, nil)}
	}
	if cfg.Store.Backend != "memory" && cfg.Store.Path == "" {
		return &ValidationError{Details: "store.path is required for the " + cfg.Store.Backend + " backend"}
	}
	return nil
}

// ValidationError reports a configuration the schema rejects.
type ValidationError struct {
	Details string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + e.Details
}
