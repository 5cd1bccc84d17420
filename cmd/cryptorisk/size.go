package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sawpanic/cryptorisk/internal/config"
	"github.com/sawpanic/cryptorisk/internal/domain/alpha"
	"github.com/sawpanic/cryptorisk/internal/domain/factors"
	"github.com/sawpanic/cryptorisk/internal/domain/market"
	"github.com/sawpanic/cryptorisk/internal/domain/risk"
	"github.com/sawpanic/cryptorisk/internal/domain/sizing"
)

type sizeOptions struct {
	asset      string
	price      float64
	equity     float64
	asJSON     bool
	change1h   float64
	change6h   float64
	change24h  float64
	volume     float64
	avgVolume  float64
	liquidity  float64
	marketCap  float64
	holders    float64
	rsi        float64
	prediction float64
}

// sizeResult is everything computed for one candidate
type sizeResult struct {
	Factors  factors.Snapshot `json:"factors"`
	Alpha    alpha.Combined   `json:"alpha"`
	Decision sizing.Decision  `json:"decision"`
}

func newSizeCmd(root *rootOptions) *cobra.Command {
	opts := &sizeOptions{}
	cmd := &cobra.Command{
		Use:   "size",
		Short: "Size a single candidate against an empty book",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			res := sizeCandidate(cfg, buildSnapshot(cmd.Flags(), opts), predictionFlag(cmd.Flags(), opts), opts.equity)
			if opts.asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			renderSize(cmd, res)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.asset, "asset", "", "Asset symbol (required)")
	f.Float64Var(&opts.price, "price", 0, "Current price (required)")
	f.Float64Var(&opts.equity, "equity", 0, "Portfolio value (default portfolio.initial_capital)")
	f.BoolVar(&opts.asJSON, "json", false, "Print the full result as JSON")
	f.Float64Var(&opts.change1h, "change-1h", 0, "1h price change in percent")
	f.Float64Var(&opts.change6h, "change-6h", 0, "6h price change in percent")
	f.Float64Var(&opts.change24h, "change-24h", 0, "24h price change in percent")
	f.Float64Var(&opts.volume, "volume", 0, "24h volume")
	f.Float64Var(&opts.avgVolume, "avg-volume-7d", 0, "7-day average volume")
	f.Float64Var(&opts.liquidity, "liquidity", 0, "Liquidity in USD")
	f.Float64Var(&opts.marketCap, "market-cap", 0, "Market capitalization")
	f.Float64Var(&opts.holders, "holders", 0, "Holder count")
	f.Float64Var(&opts.rsi, "rsi", 0, "RSI reading")
	f.Float64Var(&opts.prediction, "prediction", 0, "External model score in [0,1]")
	_ = cmd.MarkFlagRequired("asset")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

// buildSnapshot sets only the optional fields whose flags were given
func buildSnapshot(flags *pflag.FlagSet, opts *sizeOptions) market.Snapshot {
	snap := market.Snapshot{Asset: opts.asset, Price: opts.price, Timestamp: time.Now().UTC()}
	optional := []struct {
		flag  string
		value float64
		dst   **float64
	}{
		{"change-1h", opts.change1h, &snap.PriceChange1h},
		{"change-6h", opts.change6h, &snap.PriceChange6h},
		{"change-24h", opts.change24h, &snap.PriceChange24h},
		{"volume", opts.volume, &snap.Volume24h},
		{"avg-volume-7d", opts.avgVolume, &snap.AvgVolume7d},
		{"liquidity", opts.liquidity, &snap.LiquidityUSD},
		{"market-cap", opts.marketCap, &snap.MarketCap},
		{"holders", opts.holders, &snap.Holders},
		{"rsi", opts.rsi, &snap.RSI},
	}
	for _, o := range optional {
		if flags.Changed(o.flag) {
			*o.dst = market.Float(o.value)
		}
	}
	return snap
}

func predictionFlag(flags *pflag.FlagSet, opts *sizeOptions) *float64 {
	if !flags.Changed("prediction") {
		return nil
	}
	return market.Float(opts.prediction)
}

func sizeCandidate(cfg config.Config, snap market.Snapshot, prediction *float64, equity float64) sizeResult {
	if equity <= 0 {
		equity = cfg.Portfolio.InitialCapital
	}
	f := factors.NewModel(cfg.Factors).Compute(snap)
	combined := alpha.NewCombiner(cfg.Signals.Config).Combine(alpha.NewGenerator(cfg.Signals.Config).Evaluate(alpha.Input{
		Snapshot:   snap,
		Factors:    f,
		Prediction: prediction,
	}))
	gate := risk.NewEngine(cfg.Risk).Assess(nil, risk.MarketContext{Timestamp: snap.Timestamp, PortfolioValue: equity})
	decision := sizing.NewSizer(cfg.SizingConfig(), nil).Size(sizing.Request{
		Asset:          snap.Asset,
		Alpha:          combined.Alpha,
		Factors:        f,
		Risk:           gate,
		PortfolioValue: equity,
	})
	return sizeResult{Factors: f, Alpha: combined, Decision: decision}
}

func renderSize(cmd *cobra.Command, res sizeResult) {
	d := res.Decision
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetTitle("POSITION SIZE " + d.Asset)
	t.SetStyle(table.StyleRounded)
	t.AppendRows([]table.Row{
		{"Alpha", fmt.Sprintf("%.4f", res.Alpha.Alpha)},
		{"Dominant signal", res.Alpha.Dominant.String()},
		{"Volatility factor", fmt.Sprintf("%.3f", res.Factors.Volatility)},
		{"Systematic risk", fmt.Sprintf("%.3f", res.Factors.SystematicRisk)},
	})
	t.AppendSeparator()
	if !d.Sized() {
		t.AppendRow(table.Row{"Skipped", d.SkipReason})
		t.Render()
		return
	}
	t.AppendRows([]table.Row{
		{"Kelly", fmt.Sprintf("%.4f", d.Kelly)},
		{"Win probability", fmt.Sprintf("%.3f", d.WinProbability)},
		{"Win/loss ratio", fmt.Sprintf("%.3f", d.WinLossRatio)},
		{"Risk parity", fmt.Sprintf("%.3f", d.RiskParity)},
		{"Factor constraint", fmt.Sprintf("%.3f", d.FactorConstraint)},
		{"Exposure constraint", fmt.Sprintf("%.3f", d.ExposureConstraint)},
		{"Limit constraint", fmt.Sprintf("%.3f", d.LimitConstraint)},
		{"Volatility scalar", fmt.Sprintf("%.3f", d.VolatilityScalar)},
		{"Alpha multiplier", fmt.Sprintf("%.3f", d.AlphaMultiplier)},
		{"Bounds", fmt.Sprintf("[%.2f, %.2f]", d.Lower, d.Upper)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Notional", fmt.Sprintf("%.2f", d.Notional)},
		{"Percent of equity", fmt.Sprintf("%.2f%%", d.Pct*100)},
	})
	for _, b := range d.Breaches {
		t.AppendRow(table.Row{"Breach", b})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 20, Align: text.AlignLeft},
		{Number: 2, WidthMin: 16, Align: text.AlignRight},
	})
	t.Render()
}
