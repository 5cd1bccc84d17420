package exits

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptorisk/internal/domain/alpha"
	"github.com/sawpanic/cryptorisk/internal/domain/factors"
	"github.com/sawpanic/cryptorisk/internal/ledger"
)

var t0 = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

// calm is a low-beta factor set that trips no risk rule.
func calm() factors.Snapshot {
	f := factors.Neutral()
	f.MarketBeta = 0.5
	f.EcosystemBeta = 0.5
	f.Volatility = 1.0
	f.SystematicRisk = 0.5
	f.IdiosyncraticRisk = 0.5
	return f
}

func twoLevelConfig() *Config {
	cfg := DefaultExitConfig()
	cfg.Levels = []Level{{Threshold: 0.2, Fraction: 0.25}, {Threshold: 0.5, Fraction: 0.25}}
	return cfg
}

func setup(t *testing.T, cfg *Config, tag string) (*Engine, *ledger.Ledger, ledger.Position) {
	t.Helper()
	l := ledger.New(1000)
	pos, err := l.Open(ledger.OpenRequest{Asset: "WIF", Price: 1.0, Amount: 100, Time: t0, Factors: calm(), Alpha: 0.6, Tag: tag})
	require.NoError(t, err)
	return NewEngine(cfg, l, alpha.NewCombiner(alpha.DefaultConfig())), l, pos
}

func tick(id string, price float64, at time.Time) Tick {
	return Tick{PositionID: id, Price: price, Factors: calm(), Time: at}
}

func TestExitReasonStrings(t *testing.T) {
	assert.Equal(t, "stop_loss", StopLoss.String())
	assert.Equal(t, "trailing_stop", TrailingStop.String())
	assert.Equal(t, "alpha_exhausted", AlphaExhausted.String())
	assert.Equal(t, "risk_increased", RiskIncreased.String())
	assert.Equal(t, "time_limit", TimeLimit.String())
	assert.Equal(t, "better_opportunity", Opportunity.String())
	assert.Equal(t, "partial_exit", PartialExit.String())
	assert.True(t, StopLoss < PartialExit, "full exits outrank partial exits")
	assert.False(t, PartialExit.Full())
	assert.True(t, TimeLimit.Full())
}

func TestStagedPartialExits(t *testing.T) {
	e, l, pos := setup(t, twoLevelConfig(), "")

	instr, err := e.Process(tick(pos.ID, 1.10, t0.Add(time.Hour)))
	require.NoError(t, err)
	assert.False(t, instr.ShouldExit)

	instr, err = e.Process(tick(pos.ID, 1.25, t0.Add(2*time.Hour)))
	require.NoError(t, err)
	require.True(t, instr.ShouldExit)
	assert.Equal(t, PartialExit, instr.Reason)
	assert.Equal(t, 1, instr.Level)
	assert.InDelta(t, 25.0, instr.Amount, 1e-9)
	_, rec, err := e.Settle(instr, instr.Amount, 1.25, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Level)

	// level 1 never re-fires
	instr, err = e.Process(tick(pos.ID, 1.30, t0.Add(3*time.Hour)))
	require.NoError(t, err)
	assert.False(t, instr.ShouldExit)

	instr, err = e.Process(tick(pos.ID, 1.55, t0.Add(4*time.Hour)))
	require.NoError(t, err)
	require.True(t, instr.ShouldExit)
	assert.Equal(t, 2, instr.Level)
	assert.InDelta(t, 18.75, instr.Amount, 1e-9)
	p, _, err := e.Settle(instr, instr.Amount, 1.55, t0.Add(4*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusPartiallyExited, p.Status)
	assert.Equal(t, []int{1, 2}, p.FiredLevels)
	assert.InDelta(t, 56.25, p.Remaining(), 1e-9)
	assert.Len(t, l.Records(pos.ID), 2)
}

func TestOneLevelPerTick(t *testing.T) {
	e, _, pos := setup(t, twoLevelConfig(), "")

	// both thresholds met at once: only the lowest fires
	instr, err := e.Process(tick(pos.ID, 1.60, t0.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, 1, instr.Level)
	_, _, err = e.Settle(instr, instr.Amount, 1.60, t0.Add(time.Hour))
	require.NoError(t, err)

	instr, err = e.Process(tick(pos.ID, 1.60, t0.Add(2*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, 2, instr.Level)
}

func TestStopLoss(t *testing.T) {
	e, _, pos := setup(t, nil, "")

	instr, err := e.Process(tick(pos.ID, 0.96, t0.Add(time.Hour)))
	require.NoError(t, err)
	assert.False(t, instr.ShouldExit)

	instr, err = e.Process(tick(pos.ID, 0.94, t0.Add(2*time.Hour)))
	require.NoError(t, err)
	require.True(t, instr.ShouldExit)
	assert.Equal(t, StopLoss, instr.Reason)
	assert.InDelta(t, 100.0, instr.Amount, 1e-9)

	p, rec, err := e.Settle(instr, instr.Amount, 0.94, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusClosed, p.Status)
	assert.Equal(t, "stop_loss", p.CloseReason)
	assert.Equal(t, 0, rec.Level)
	assert.InDelta(t, -6.0, rec.RealizedPnL, 1e-9)
}

func TestTrailingStopRatchets(t *testing.T) {
	cfg := DefaultExitConfig()
	cfg.Levels = nil
	e, l, pos := setup(t, cfg, "")

	// below activation: untouched
	instr, err := e.Process(tick(pos.ID, 3.5, t0.Add(time.Hour)))
	require.NoError(t, err)
	assert.False(t, instr.Trailing.Activated)

	instr, err = e.Process(tick(pos.ID, 4.0, t0.Add(2*time.Hour)))
	require.NoError(t, err)
	assert.True(t, instr.Trailing.Activated)
	assert.InDelta(t, 3.2, instr.Trailing.StopPrice, 1e-9)
	assert.False(t, instr.ShouldExit)

	instr, err = e.Process(tick(pos.ID, 5.0, t0.Add(3*time.Hour)))
	require.NoError(t, err)
	assert.InDelta(t, 4.0, instr.Trailing.StopPrice, 1e-9)

	// pullback above the stop keeps the high and the stop
	instr, err = e.Process(tick(pos.ID, 4.5, t0.Add(4*time.Hour)))
	require.NoError(t, err)
	assert.False(t, instr.ShouldExit)
	assert.InDelta(t, 5.0, instr.Trailing.HighestPrice, 1e-9)
	assert.InDelta(t, 4.0, instr.Trailing.StopPrice, 1e-9)

	stored, err := l.Get(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, instr.Trailing, stored.Trailing)

	instr, err = e.Process(tick(pos.ID, 3.9, t0.Add(5*time.Hour)))
	require.NoError(t, err)
	require.True(t, instr.ShouldExit)
	assert.Equal(t, TrailingStop, instr.Reason)
}

func TestFullExitOverridesPartial(t *testing.T) {
	e, _, pos := setup(t, twoLevelConfig(), "")

	// profit level met but volatility has tripled since entry
	tk := tick(pos.ID, 1.30, t0.Add(time.Hour))
	tk.Factors.Volatility = 3.0
	instr, err := e.Process(tk)
	require.NoError(t, err)
	assert.Equal(t, RiskIncreased, instr.Reason)
	assert.Equal(t, 0, instr.Level)
	assert.InDelta(t, 100.0, instr.Amount, 1e-9)
}

func TestSystematicCeiling(t *testing.T) {
	e, _, pos := setup(t, nil, "")
	tk := tick(pos.ID, 1.01, t0.Add(time.Hour))
	tk.Factors.SystematicRisk = 0.9
	instr, err := e.Process(tk)
	require.NoError(t, err)
	assert.Equal(t, RiskIncreased, instr.Reason)
}

func TestAlphaExhaustion(t *testing.T) {
	e, _, pos := setup(t, nil, "")
	fresh := -0.9
	tk := tick(pos.ID, 1.01, t0.Add(48*time.Hour))
	tk.FreshAlpha = &fresh
	instr, err := e.Process(tk)
	require.NoError(t, err)
	assert.Equal(t, AlphaExhausted, instr.Reason)
	assert.Less(t, instr.CurrentAlpha, -0.2)

	// without a fresh reading a positive entry alpha only decays
	e2, _, pos2 := setup(t, nil, "")
	instr, err = e2.Process(tick(pos2.ID, 0.99, t0.Add(240*time.Hour)))
	require.NoError(t, err)
	assert.False(t, instr.ShouldExit)
	assert.Greater(t, instr.CurrentAlpha, 0.0)
}

func TestBetterOpportunity(t *testing.T) {
	e, _, pos := setup(t, nil, "")
	// entry alpha 0.6 has decayed to ~0.02 after five half-lives
	faded := 0.05
	tk := tick(pos.ID, 1.05, t0.Add(120*time.Hour))
	tk.FreshAlpha = &faded
	instr, err := e.Process(tk)
	require.NoError(t, err)
	require.True(t, instr.ShouldExit)
	assert.Equal(t, Opportunity, instr.Reason)
	assert.InDelta(t, 100.0, instr.Amount, 1e-9)

	// same alpha at a loss is held
	e2, _, pos2 := setup(t, nil, "")
	tk = tick(pos2.ID, 0.98, t0.Add(120*time.Hour))
	tk.FreshAlpha = &faded
	instr, err = e2.Process(tk)
	require.NoError(t, err)
	assert.False(t, instr.ShouldExit)

	// disabled
	cfg := DefaultExitConfig()
	cfg.OpportunityAlpha = 0
	e3, _, pos3 := setup(t, cfg, "")
	tk = tick(pos3.ID, 1.05, t0.Add(120*time.Hour))
	tk.FreshAlpha = &faded
	instr, err = e3.Process(tk)
	require.NoError(t, err)
	assert.False(t, instr.ShouldExit)
}

func TestMeanReversionTimeLimit(t *testing.T) {
	e, _, pos := setup(t, nil, "mean_reversion")

	instr, err := e.Process(tick(pos.ID, 1.02, t0.Add(23*time.Hour)))
	require.NoError(t, err)
	assert.False(t, instr.ShouldExit)

	// past the limit but losing: held
	instr, err = e.Process(tick(pos.ID, 0.99, t0.Add(25*time.Hour)))
	require.NoError(t, err)
	assert.False(t, instr.ShouldExit)

	instr, err = e.Process(tick(pos.ID, 1.02, t0.Add(26*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, TimeLimit, instr.Reason)

	// other tags are not time limited
	e2, _, pos2 := setup(t, nil, "momentum")
	instr, err = e2.Process(tick(pos2.ID, 1.02, t0.Add(26*time.Hour)))
	require.NoError(t, err)
	assert.False(t, instr.ShouldExit)
}

func TestClosedPositionIsNoOp(t *testing.T) {
	e, l, pos := setup(t, nil, "")
	instr, err := e.Process(tick(pos.ID, 0.90, t0.Add(time.Hour)))
	require.NoError(t, err)
	_, _, err = e.Settle(instr, instr.Amount, 0.90, t0.Add(time.Hour))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		again, err := e.Process(tick(pos.ID, 0.80, t0.Add(2*time.Hour)))
		require.NoError(t, err)
		assert.False(t, again.ShouldExit)
		assert.Equal(t, NoExit, again.Reason)
	}
	assert.Len(t, l.Records(pos.ID), 1)

	_, _, err = e.Settle(Instruction{PositionID: pos.ID}, 1, 1, t0)
	assert.ErrorIs(t, err, ledger.ErrInvalidFill)
}

func TestEvaluateExitIsPure(t *testing.T) {
	ev := NewExitEvaluator(nil)
	p := ledger.Position{ID: "x", Asset: "WIF", EntryPrice: 1, EntryAmount: 10, CurrentPrice: 4.2, EntryTime: t0, Status: ledger.StatusOpen, EntryFactors: calm()}

	instr := ev.EvaluateExit(Inputs{Position: p, Factors: calm(), CurrentAlpha: 0.3, Now: t0.Add(time.Hour)})
	assert.True(t, instr.Trailing.Activated)
	assert.False(t, p.Trailing.Activated)
	assert.Equal(t, PartialExit, instr.Reason)
	assert.Equal(t, 1, instr.Level)
	assert.InDelta(t, 2.5, instr.Amount, 1e-9)
}

func TestSummarize(t *testing.T) {
	ev := NewExitEvaluator(twoLevelConfig())
	s := ev.Summarize(ledger.Position{FiredLevels: []int{1}})
	assert.Equal(t, []float64{0.2}, s.FiredLevels)
	assert.Equal(t, []float64{0.5}, s.RemainingLevels)
}

func TestConfigValidate(t *testing.T) {
	assert.Empty(t, DefaultExitConfig().Validate())

	cfg := DefaultExitConfig()
	cfg.StopLossPct = 0
	cfg.Levels = []Level{{Threshold: 0.5, Fraction: 0.25}, {Threshold: 0.2, Fraction: 1.5}}
	cfg.ExhaustionThreshold = 0.1
	assert.Len(t, cfg.Validate(), 4)
}
