// Package config loads and validates the risk-core configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/cryptorisk/internal/domain/alpha"
	"github.com/sawpanic/cryptorisk/internal/domain/factors"
	"github.com/sawpanic/cryptorisk/internal/domain/risk"
	"github.com/sawpanic/cryptorisk/internal/domain/sizing"
	"github.com/sawpanic/cryptorisk/internal/exits"
)

// ErrInvalid marks a configuration that must halt startup.
var ErrInvalid = errors.New("invalid configuration")

// ValidationError lists every configuration problem found.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalid.Error(), strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalid
}

// Config is the complete, immutable configuration of the risk core. Each
// component receives its own section by value.
type Config struct {
	Portfolio Portfolio      `yaml:"portfolio" json:"portfolio"`
	Factors   factors.Config `yaml:"factors" json:"factors"`
	Signals   Signals        `yaml:"signals" json:"signals"`
	Alpha     Alpha          `yaml:"alpha" json:"alpha"`
	Sizing    sizing.Config  `yaml:"sizing" json:"sizing"`
	Exits     exits.Config   `yaml:"exits" json:"exits"`
	Risk      risk.Config    `yaml:"risk" json:"risk"`
	Data      Data           `yaml:"data" json:"data"`
	Storage   Storage        `yaml:"storage" json:"storage"`
	HTTP      HTTP           `yaml:"http" json:"http"`
}

// Portfolio holds account-level settings. Limits set here take precedence
// over the same keys in the sizing section.
type Portfolio struct {
	InitialCapital   float64  `yaml:"initial_capital" json:"initial_capital"`
	MaxOpenPositions *int     `yaml:"max_open_positions,omitempty" json:"max_open_positions,omitempty"`
	MaxLeverage      *float64 `yaml:"max_leverage,omitempty" json:"max_leverage,omitempty"`
}

// Signals configures alpha generation. The entry threshold lives here in the
// file but is enforced by the sizer.
type Signals struct {
	alpha.Config   `yaml:",inline"`
	EntryThreshold *float64 `yaml:"entry_threshold,omitempty" json:"entry_threshold,omitempty"`
}

// Alpha groups the decay keys shared by the combiner and the exit engine.
type Alpha struct {
	DecayHalfLifeHours  *float64 `yaml:"decay_halflife_hours,omitempty" json:"decay_halflife_hours,omitempty"`
	ExhaustionThreshold *float64 `yaml:"exhaustion_threshold,omitempty" json:"exhaustion_threshold,omitempty"`
}

// Breaker configures the circuit breakers around external providers.
type Breaker struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" json:"consecutive_failures"`
	Interval            time.Duration `yaml:"interval" json:"interval"`
	Timeout             time.Duration `yaml:"timeout" json:"timeout"`
}

// Data configures market-data intake.
type Data struct {
	MaxSnapshotAge time.Duration `yaml:"max_snapshot_age" json:"max_snapshot_age"`
	ProviderRPS    float64       `yaml:"provider_rps" json:"provider_rps"`
	ProviderBurst  int           `yaml:"provider_burst" json:"provider_burst"`
	Breaker        Breaker       `yaml:"breaker" json:"breaker"`
}

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Storage configures position persistence and the risk snapshot archive.
type Storage struct {
	Driver       string        `yaml:"driver" json:"driver"`
	DSN          string        `yaml:"dsn" json:"-"`
	SQLitePath   string        `yaml:"sqlite_path" json:"sqlite_path"`
	QueryTimeout time.Duration `yaml:"query_timeout" json:"query_timeout"`
	RedisAddr    string        `yaml:"redis_addr" json:"redis_addr"`
	ArchiveTTL   time.Duration `yaml:"archive_ttl" json:"archive_ttl"`
}

// HTTP configures the monitoring server. An empty address disables it.
type HTTP struct {
	Addr string `yaml:"addr" json:"addr"`
}

// Default returns the documented defaults. Safety-relevant bounds still have
// to appear in a loaded file.
func Default() Config {
	return Config{
		Portfolio: Portfolio{InitialCapital: 10000},
		Factors:   factors.DefaultConfig(),
		Signals:   Signals{Config: alpha.DefaultConfig()},
		Sizing:    sizing.DefaultConfig(),
		Exits:     *exits.DefaultExitConfig(),
		Risk:      risk.DefaultConfig(),
		Data: Data{
			MaxSnapshotAge: 5 * time.Minute,
			ProviderRPS:    5,
			ProviderBurst:  10,
			Breaker: Breaker{
				ConsecutiveFailures: 3,
				Interval:            60 * time.Second,
				Timeout:             60 * time.Second,
			},
		},
		Storage: Storage{
			Driver:       DriverMemory,
			SQLitePath:   "cryptorisk.db",
			QueryTimeout: 5 * time.Second,
			ArchiveTTL:   24 * time.Hour,
		},
	}
}

// flatKeys are the top-level option names accepted alongside the sections.
// When both forms are present the top-level key wins.
type flatKeys struct {
	BasePositionPct          *float64                     `yaml:"base_position_pct"`
	MinPositionPct           *float64                     `yaml:"min_position_pct"`
	MaxPositionPct           *float64                     `yaml:"max_position_pct"`
	AbsoluteMin              *float64                     `yaml:"absolute_min"`
	AbsoluteMax              *float64                     `yaml:"absolute_max"`
	StopLossPct              *float64                     `yaml:"stop_loss_pct"`
	ExitLevels               []exits.Level                `yaml:"exit_levels"`
	TrailingStop             *trailingPatch               `yaml:"trailing_stop"`
	FactorLimits             map[factors.Name]sizing.Band `yaml:"factor_limits"`
	KellySafetyFactor        *float64                     `yaml:"kelly_safety_factor"`
	AlphaDecayHalfLifeHours  *float64                     `yaml:"alpha_decay_halflife_hours"`
	AlphaExhaustionThreshold *float64                     `yaml:"alpha_exhaustion_threshold"`
	VaRConfidence            *float64                     `yaml:"var_confidence"`
	CVaRConfidence           *float64                     `yaml:"cvar_confidence"`
	SharpeTarget             *float64                     `yaml:"sharpe_target"`
	CorrelationLimit         *float64                     `yaml:"correlation_limit"`
	MaxFactorExposure        *float64                     `yaml:"max_factor_exposure"`
	TargetIdiosyncraticRatio *float64                     `yaml:"target_idiosyncratic_ratio"`
}

type document struct {
	Config `yaml:",inline"`
	Flat   flatKeys `yaml:",inline"`
}

// presence records whether the safety-relevant keys were written explicitly.
type presence struct {
	Exits struct {
		StopLossPct *float64 `yaml:"stop_loss_pct"`
	} `yaml:"exits"`
	Sizing struct {
		MaxPositionPct *float64 `yaml:"max_position_pct"`
		AbsoluteMax    *float64 `yaml:"absolute_max"`
	} `yaml:"sizing"`
	StopLossPct    *float64 `yaml:"stop_loss_pct"`
	MaxPositionPct *float64 `yaml:"max_position_pct"`
	AbsoluteMax    *float64 `yaml:"absolute_max"`
}

func (p presence) missing() []string {
	var out []string
	if p.Exits.StopLossPct == nil && p.StopLossPct == nil {
		out = append(out, "missing required key exits.stop_loss_pct")
	}
	if p.Sizing.MaxPositionPct == nil && p.MaxPositionPct == nil {
		out = append(out, "missing required key sizing.max_position_pct")
	}
	if p.Sizing.AbsoluteMax == nil && p.AbsoluteMax == nil {
		out = append(out, "missing required key sizing.absolute_max")
	}
	return out
}

// Load reads the YAML file at path, applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults, applies environment
// overrides and validates the result. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	var seen presence
	if err := yaml.Unmarshal(data, &seen); err != nil {
		return Config{}, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	doc := document{Config: Default()}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg := doc.Config
	if err := doc.Flat.apply(&cfg); err != nil {
		return Config{}, err
	}
	cfg.resolve()
	cfg.ApplyEnv(os.LookupEnv)

	problems := seen.missing()
	if err := cfg.Validate(); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			problems = append(problems, ve.Problems...)
		}
	}
	if len(problems) > 0 {
		return Config{}, &ValidationError{Problems: problems}
	}
	return cfg, nil
}

// trailingPatch is the top-level trailing_stop block. Keys left out keep
// their current value.
type trailingPatch struct {
	Enabled       *bool    `yaml:"enabled"`
	ActivationPct *float64 `yaml:"activation_pct"`
	TrailDistance *float64 `yaml:"trail_distance"`
}

func (f flatKeys) apply(c *Config) error {
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&c.Sizing.BasePositionPct, f.BasePositionPct)
	set(&c.Sizing.MinPositionPct, f.MinPositionPct)
	set(&c.Sizing.MaxPositionPct, f.MaxPositionPct)
	set(&c.Sizing.AbsoluteMin, f.AbsoluteMin)
	set(&c.Sizing.AbsoluteMax, f.AbsoluteMax)
	set(&c.Sizing.Kelly.SafetyFactor, f.KellySafetyFactor)
	set(&c.Sizing.MaxFactorExposure, f.MaxFactorExposure)
	set(&c.Sizing.TargetIdiosyncraticRatio, f.TargetIdiosyncraticRatio)
	set(&c.Exits.StopLossPct, f.StopLossPct)
	set(&c.Risk.VaRConfidence, f.VaRConfidence)
	set(&c.Risk.CVaRConfidence, f.CVaRConfidence)
	set(&c.Risk.SharpeTarget, f.SharpeTarget)
	set(&c.Risk.CorrelationLimit, f.CorrelationLimit)

	if f.ExitLevels != nil {
		c.Exits.Levels = f.ExitLevels
	}
	if t := f.TrailingStop; t != nil {
		if t.Enabled != nil {
			c.Exits.Trailing.Enabled = *t.Enabled
		}
		set(&c.Exits.Trailing.ActivationPct, t.ActivationPct)
		set(&c.Exits.Trailing.TrailDistance, t.TrailDistance)
	}
	if len(f.FactorLimits) > 0 {
		limits := make(map[factors.Name]sizing.Band, len(c.Sizing.FactorLimits)+len(f.FactorLimits))
		for k, v := range c.Sizing.FactorLimits {
			limits[k] = v
		}
		for k, v := range f.FactorLimits {
			limits[k] = v
		}
		c.Sizing.FactorLimits = limits
	}
	if f.AlphaDecayHalfLifeHours != nil {
		c.Alpha.DecayHalfLifeHours = f.AlphaDecayHalfLifeHours
	}
	if f.AlphaExhaustionThreshold != nil {
		c.Alpha.ExhaustionThreshold = f.AlphaExhaustionThreshold
	}
	return nil
}

// resolve copies keys that are written in one section but consumed by another.
func (c *Config) resolve() {
	if v := c.Portfolio.MaxOpenPositions; v != nil {
		c.Sizing.MaxOpenPositions = *v
	}
	if v := c.Portfolio.MaxLeverage; v != nil {
		c.Sizing.MaxLeverage = *v
	}
	if v := c.Signals.EntryThreshold; v != nil {
		c.Sizing.EntryThreshold = *v
	}
	if v := c.Alpha.DecayHalfLifeHours; v != nil {
		c.Signals.DecayHalfLifeHours = *v
	}
	if v := c.Alpha.ExhaustionThreshold; v != nil {
		c.Exits.ExhaustionThreshold = *v
	}
}

// ApplyEnv overrides endpoints and secrets from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("CRYPTORISK_PG_DSN"); ok && v != "" {
		c.Storage.DSN = v
	}
	if v, ok := lookup("CRYPTORISK_SQLITE_PATH"); ok && v != "" {
		c.Storage.SQLitePath = v
	}
	if v, ok := lookup("CRYPTORISK_REDIS_ADDR"); ok && v != "" {
		c.Storage.RedisAddr = v
	}
	if v, ok := lookup("CRYPTORISK_HTTP_ADDR"); ok && v != "" {
		c.HTTP.Addr = v
	}
}

// LoadEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. With no arguments it reads
// .env when that file exists.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Validate checks every section and aggregates all problems into a
// *ValidationError.
func (c Config) Validate() error {
	var problems []string
	if c.Portfolio.InitialCapital <= 0 {
		problems = append(problems, "portfolio.initial_capital must be positive")
	}
	problems = append(problems, c.Factors.Validate()...)
	problems = append(problems, c.Signals.Validate()...)
	problems = append(problems, c.Sizing.Validate()...)
	problems = append(problems, c.Exits.Validate()...)
	problems = append(problems, c.Risk.Validate()...)

	if c.Data.MaxSnapshotAge < 0 {
		problems = append(problems, "data.max_snapshot_age must not be negative")
	}
	if c.Data.ProviderRPS < 0 || c.Data.ProviderBurst < 0 {
		problems = append(problems, "data.provider_rps and data.provider_burst must not be negative")
	}
	if c.Data.ProviderRPS > 0 && c.Data.ProviderBurst < 1 {
		problems = append(problems, "data.provider_burst must be at least 1 when provider_rps is set")
	}
	if c.Data.Breaker.ConsecutiveFailures == 0 {
		problems = append(problems, "data.breaker.consecutive_failures must be positive")
	}
	if c.Data.Breaker.Timeout <= 0 {
		problems = append(problems, "data.breaker.timeout must be positive")
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			problems = append(problems, "storage.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			problems = append(problems, "storage.dsn is required for the postgres driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.driver %q must be one of memory, sqlite, postgres", c.Storage.Driver))
	}
	if c.Storage.QueryTimeout <= 0 {
		problems = append(problems, "storage.query_timeout must be positive")
	}
	if c.Storage.ArchiveTTL < 0 {
		problems = append(problems, "storage.archive_ttl must not be negative")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// SizingConfig returns the sizing section with the exit engine's systematic
// ceiling applied.
func (c Config) SizingConfig() sizing.Config {
	s := c.Sizing
	s.SystematicCeiling = c.Exits.SystematicCeiling
	return s
}

// SnapshotMaxAge returns the staleness bound for market snapshots.
func (c Config) SnapshotMaxAge() time.Duration {
	return c.Data.MaxSnapshotAge
}
