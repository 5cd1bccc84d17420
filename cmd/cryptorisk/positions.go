package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/sawpanic/cryptorisk/internal/config"
	"github.com/sawpanic/cryptorisk/internal/exits"
	"github.com/sawpanic/cryptorisk/internal/infrastructure/db"
	"github.com/sawpanic/cryptorisk/internal/ledger"
)

func newPositionsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "List persisted open positions with their exit progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if cfg.Storage.Driver == config.DriverMemory {
				fmt.Fprintln(cmd.OutOrStdout(), "storage.driver is memory; no positions are persisted")
				return nil
			}
			mgr, err := db.NewManager(cmd.Context(), cfg.Storage, db.DefaultPool())
			if err != nil {
				return err
			}
			defer mgr.Close()

			positions, err := mgr.Repository().Positions.LoadOpenPositions(cmd.Context())
			if err != nil {
				return err
			}
			exitConfig := cfg.Exits
			renderPositions(cmd, positions, exits.NewExitEvaluator(&exitConfig))
			return nil
		},
	}
}

func renderPositions(cmd *cobra.Command, positions []ledger.Position, evaluator *exits.ExitEvaluator) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetTitle(fmt.Sprintf("OPEN POSITIONS (%d)", len(positions)))
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "Asset", "Status", "Entry", "Current", "Remaining", "PnL %", "Levels fired", "Trailing stop"})
	for _, p := range positions {
		s := evaluator.Summarize(p)
		fired := make([]string, 0, len(s.FiredLevels))
		for _, l := range s.FiredLevels {
			fired = append(fired, fmt.Sprintf("%.0f%%", l*100))
		}
		trailing := "-"
		if s.TrailingArmed {
			trailing = fmt.Sprintf("%.4f", s.StopPrice)
		}
		t.AppendRow(table.Row{
			shortID(p.ID),
			p.Asset,
			string(p.Status),
			fmt.Sprintf("%.4f", p.EntryPrice),
			fmt.Sprintf("%.4f", p.CurrentPrice),
			fmt.Sprintf("%.6f", p.Remaining()),
			fmt.Sprintf("%.2f", p.PnLPct()*100),
			strings.Join(fired, ","),
			trailing,
		})
	}
	t.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
