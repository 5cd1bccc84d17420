package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/cryptorisk/infra/breakers"
	"github.com/sawpanic/cryptorisk/internal/application/tick"
	"github.com/sawpanic/cryptorisk/internal/config"
	"github.com/sawpanic/cryptorisk/internal/exits"
	"github.com/sawpanic/cryptorisk/internal/infrastructure/db"
	httpapi "github.com/sawpanic/cryptorisk/internal/interfaces/http"
	"github.com/sawpanic/cryptorisk/internal/ledger"
	"github.com/sawpanic/cryptorisk/internal/net/ratelimit"
	"github.com/sawpanic/cryptorisk/internal/providers"
)

type runOptions struct {
	replay      string
	slippageBps float64
	httpAddr    string
	pace        bool
	hold        bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay recorded snapshots through the tick loop with paper execution",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			return runReplay(cmd, cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.replay, "replay", "", "JSON-lines snapshot file (required)")
	cmd.Flags().Float64Var(&opts.slippageBps, "slippage-bps", 10, "Paper fill slippage in basis points")
	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", "", "Monitoring address (overrides http.addr)")
	cmd.Flags().BoolVar(&opts.pace, "pace", false, "Apply provider rate limits to replay reads")
	cmd.Flags().BoolVar(&opts.hold, "hold", false, "Keep the monitoring server up after the replay until interrupted")
	_ = cmd.MarkFlagRequired("replay")
	return cmd
}

func runReplay(cmd *cobra.Command, cfg config.Config, opts *runOptions) error {
	ctx := cmd.Context()

	replay, err := providers.OpenReplay(opts.replay)
	if err != nil {
		return err
	}

	mgr, err := db.NewManager(ctx, cfg.Storage, db.DefaultPool())
	if err != nil {
		return err
	}
	defer mgr.Close()
	repo := mgr.Repository()

	rps, burst := 0.0, 0
	if opts.pace {
		rps, burst = cfg.Data.ProviderRPS, cfg.Data.ProviderBurst
	}
	guard := func(name string) *providers.Guard {
		return providers.NewGuard(name, breakers.New(name, breakers.Settings{
			ConsecutiveFailures: cfg.Data.Breaker.ConsecutiveFailures,
			Interval:            cfg.Data.Breaker.Interval,
			Timeout:             cfg.Data.Breaker.Timeout,
			OnStateChange: func(name, from, to string) {
				log.Warn().Str("breaker", name).Str("from", from).Str("to", to).Msg("Circuit breaker state changed")
			},
		}), ratelimit.NewLimiter(rps, burst))
	}

	book := ledger.New(cfg.Portfolio.InitialCapital)
	metrics := httpapi.NewMetricsRegistry()
	paper := providers.NewPaperExecutor(replay, opts.slippageBps).WithClock(replay.Now)

	loop, err := tick.New(cfg, tick.Deps{
		Snapshots:   providers.NewGuardedSnapshots(replay, guard("snapshots")),
		Predictions: providers.NewGuardedPredictions(replay, guard("predictions")),
		Executor:    providers.NewGuardedExecutor(paper, guard("entries"), guard("exits")),
		Ledger:      book,
		Store:       repo.Positions,
		Archive:     repo.Archive,
		Observer:    metrics,
		Clock:       replay.Now,
	})
	if err != nil {
		return err
	}
	if err := loop.Start(ctx); err != nil {
		return err
	}

	addr := cfg.HTTP.Addr
	if opts.httpAddr != "" {
		addr = opts.httpAddr
	}
	if addr != "" {
		exitConfig := cfg.Exits
		server, err := httpapi.NewServer(httpapi.DefaultServerConfig(addr), httpapi.Deps{
			Metrics:   metrics,
			Health:    mgr.Health(),
			Risk:      repo.Archive,
			Positions: book,
			Exits:     exits.NewExitEvaluator(&exitConfig),
			Version:   version,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := server.Start(); err != nil {
				log.Error().Err(err).Msg("Monitoring server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	var sum replaySummary
	for replay.Advance() {
		if ctx.Err() != nil {
			break
		}
		sum.add(loop.Run(ctx, replay.Assets()))
	}

	if err := loop.Stop(ctx); err != nil {
		return err
	}
	sum.render(cmd, book)

	if opts.hold && addr != "" && ctx.Err() == nil {
		log.Info().Str("addr", addr).Msg("Replay complete, serving until interrupted")
		<-ctx.Done()
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		log.Info().Msg("Interrupted")
	}
	return nil
}

type replaySummary struct {
	ticks    int
	entries  int
	exits    int
	closed   int
	skipped  int
	failures int
	last     tick.TickReport
}

func (s *replaySummary) add(r tick.TickReport) {
	s.ticks++
	s.entries += len(r.Entries)
	s.exits += len(r.Exits)
	for _, e := range r.Exits {
		if e.Closed {
			s.closed++
		}
	}
	s.skipped += len(r.Skipped)
	s.failures += len(r.Failures)
	s.last = r
}

func (s *replaySummary) render(cmd *cobra.Command, book *ledger.Ledger) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetTitle("REPLAY SUMMARY")
	t.SetStyle(table.StyleRounded)
	t.AppendRows([]table.Row{
		{"Ticks", s.ticks},
		{"Entries", s.entries},
		{"Exit fills", s.exits},
		{"Positions closed", s.closed},
		{"Assets skipped", s.skipped},
		{"Failures", s.failures},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Open positions", len(book.OpenPositions())},
		{"Cash", fmt.Sprintf("%.2f", book.Cash())},
		{"Equity", fmt.Sprintf("%.2f", book.Equity())},
		{"Risk score", fmt.Sprintf("%.2f", s.last.Risk.RiskScore)},
		{"Can trade", s.last.Risk.CanTrade},
	})
	t.Render()
}
