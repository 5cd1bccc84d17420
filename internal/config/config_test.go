package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptorisk/internal/domain/factors"
	"github.com/sawpanic/cryptorisk/internal/domain/sizing"
	"github.com/sawpanic/cryptorisk/internal/exits"
)

const sectioned = `
portfolio:
  initial_capital: 5000
  max_open_positions: 4
  max_leverage: 1.5
signals:
  entry_threshold: 0.4
  weights:
    momentum: 0.5
    mean_reversion: 0.1
    volume_breakout: 0.1
    cross_sectional: 0
    external_prediction: 0.3
alpha:
  decay_halflife_hours: 12
  exhaustion_threshold: -0.3
sizing:
  max_position_pct: 0.08
  absolute_max: 3
  factor_limits:
    volatility: [0, 2]
exits:
  stop_loss_pct: 0.07
  mean_reversion_max_hold: 12h
  levels:
    - {threshold: 0.3, fraction: 0.5}
risk:
  var_confidence: 0.99
storage:
  driver: sqlite
  sqlite_path: /tmp/risk.db
`

func TestParseSections(t *testing.T) {
	cfg, err := Parse([]byte(sectioned))
	require.NoError(t, err)

	assert.Equal(t, 5000.0, cfg.Portfolio.InitialCapital)
	assert.Equal(t, 4, cfg.Sizing.MaxOpenPositions)
	assert.Equal(t, 1.5, cfg.Sizing.MaxLeverage)
	assert.Equal(t, 0.4, cfg.Sizing.EntryThreshold)
	assert.Equal(t, 0.5, cfg.Signals.Weights.Momentum)
	assert.Equal(t, 12.0, cfg.Signals.DecayHalfLifeHours)
	assert.Equal(t, -0.3, cfg.Exits.ExhaustionThreshold)
	assert.Equal(t, 0.08, cfg.Sizing.MaxPositionPct)
	assert.Equal(t, 0.07, cfg.Exits.StopLossPct)
	assert.Equal(t, 12*time.Hour, cfg.Exits.MeanReversionMaxHold)
	assert.Equal(t, []exits.Level{{Threshold: 0.3, Fraction: 0.5}}, cfg.Exits.Levels)
	assert.Equal(t, 0.99, cfg.Risk.VaRConfidence)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)

	// overridden band, defaults kept for the rest
	assert.Equal(t, sizing.Band{Min: 0, Max: 2}, cfg.Sizing.FactorLimits[factors.Volatility])
	assert.Contains(t, cfg.Sizing.FactorLimits, factors.MarketBeta)

	// untouched sections keep their defaults
	assert.Equal(t, Default().Risk.SharpeTarget, cfg.Risk.SharpeTarget)
	assert.True(t, cfg.Exits.Trailing.Enabled)
}

func TestParseFlatKeys(t *testing.T) {
	doc := `
max_position_pct: 0.05
absolute_max: 2
stop_loss_pct: 0.04
exit_levels:
  - {threshold: 0.25, fraction: 0.2}
  - {threshold: 0.75, fraction: 0.3}
trailing_stop: {activation_pct: 1.5}
factor_limits:
  momentum: [-1, 1]
kelly_safety_factor: 0.5
alpha_decay_halflife_hours: 6
alpha_exhaustion_threshold: -0.5
sharpe_target: 1.5
max_factor_exposure: 3
target_idiosyncratic_ratio: 0.7
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, 0.05, cfg.Sizing.MaxPositionPct)
	assert.Equal(t, 2.0, cfg.Sizing.AbsoluteMax)
	assert.Equal(t, 0.04, cfg.Exits.StopLossPct)
	assert.Len(t, cfg.Exits.Levels, 2)
	assert.Equal(t, 1.5, cfg.Exits.Trailing.ActivationPct)
	assert.Equal(t, 0.2, cfg.Exits.Trailing.TrailDistance, "unspecified trailing keys keep defaults")
	assert.Equal(t, sizing.Band{Min: -1, Max: 1}, cfg.Sizing.FactorLimits[factors.Momentum])
	assert.Equal(t, 0.5, cfg.Sizing.Kelly.SafetyFactor)
	assert.Equal(t, 6.0, cfg.Signals.DecayHalfLifeHours)
	assert.Equal(t, -0.5, cfg.Exits.ExhaustionThreshold)
	assert.Equal(t, 1.5, cfg.Risk.SharpeTarget)
	assert.Equal(t, 3.0, cfg.Sizing.MaxFactorExposure)
	assert.Equal(t, 0.7, cfg.Sizing.TargetIdiosyncraticRatio)
}

func TestParseRequiresSafetyKeys(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		missing []string
	}{
		{
			name:    "empty",
			doc:     "",
			missing: []string{"exits.stop_loss_pct", "sizing.max_position_pct", "sizing.absolute_max"},
		},
		{
			name:    "stop loss only",
			doc:     "exits:\n  stop_loss_pct: 0.05\n",
			missing: []string{"sizing.max_position_pct", "sizing.absolute_max"},
		},
		{
			name:    "flat max position",
			doc:     "max_position_pct: 0.1\nabsolute_max: 5\n",
			missing: []string{"exits.stop_loss_pct"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Len(t, ve.Problems, len(tt.missing))
			for _, key := range tt.missing {
				assert.Contains(t, err.Error(), key)
			}
		})
	}
}

func TestParseAggregatesRangeProblems(t *testing.T) {
	doc := `
sizing:
  max_position_pct: 1.5
  absolute_max: 5
exits:
  stop_loss_pct: 1.2
risk:
  var_confidence: 1.5
storage:
  driver: oracle
`
	_, err := Parse([]byte(doc))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.GreaterOrEqual(t, len(ve.Problems), 4)
	assert.Contains(t, err.Error(), "exits.stop_loss_pct")
	assert.Contains(t, err.Error(), "storage.driver")
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("stop_los_pct: 0.05\n"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalid)
}

func TestPostgresRequiresDSN(t *testing.T) {
	cfg := Default()
	cfg.Storage.Driver = DriverPostgres
	require.ErrorIs(t, cfg.Validate(), ErrInvalid)

	cfg.ApplyEnv(func(key string) (string, bool) {
		if key == "CRYPTORISK_PG_DSN" {
			return "postgres://risk@localhost/risk", true
		}
		return "", false
	})
	assert.NoError(t, cfg.Validate())
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadAndLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "risk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sectioned), 0o600))

	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("CRYPTORISK_HTTP_ADDR=127.0.0.1:9191\n"), 0o600))
	t.Setenv("CRYPTORISK_HTTP_ADDR", "")
	require.NoError(t, os.Unsetenv("CRYPTORISK_HTTP_ADDR"))
	require.NoError(t, LoadEnv(envFile))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9191", cfg.HTTP.Addr)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
	assert.Error(t, LoadEnv(filepath.Join(dir, "missing.env")))
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "cryptorisk.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, 8, cfg.Sizing.MaxOpenPositions)
	assert.Equal(t, 24*time.Hour, cfg.Exits.MeanReversionMaxHold)
	assert.Equal(t, 5*time.Minute, cfg.Data.MaxSnapshotAge)
	assert.Len(t, cfg.Exits.Levels, 4)
	assert.Equal(t, sizing.Band{Min: 0.5, Max: 5.0}, cfg.Sizing.FactorLimits[factors.Liquidity])
	assert.Equal(t, 0.1, cfg.Exits.OpportunityAlpha)
	assert.Equal(t, 10, cfg.Signals.Amplification.MinTrades)
	assert.False(t, cfg.Signals.Amplification.Enabled)
}

func TestParseTopLevelTrailingStop(t *testing.T) {
	doc := `
max_position_pct: 0.05
absolute_max: 2
stop_loss_pct: 0.04
var_confidence: 0.99
trailing_stop: {enabled: false, activation_pct: 1.5, trail_distance: 0.1}
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.False(t, cfg.Exits.Trailing.Enabled)
	assert.Equal(t, 1.5, cfg.Exits.Trailing.ActivationPct)
	assert.Equal(t, 0.1, cfg.Exits.Trailing.TrailDistance)
	assert.Equal(t, 0.99, cfg.Risk.VaRConfidence)

	_, err = Parse([]byte(doc + "exits:\n  stop_loss_pct: 0.04\n  trailing_stop: {trail_step: 1}\n"))
	assert.Error(t, err)
}
