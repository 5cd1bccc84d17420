package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/cryptorisk/internal/config"
)

const (
	appName = "cryptorisk"
	version = "v0.4.0"
)

// rootOptions are the persistent flags shared by every command
type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:     appName,
		Short:   "Factor-aware portfolio risk core for crypto positions",
		Version: version,
		Long: `cryptorisk computes factor exposures and alpha for each asset, gates new
entries on portfolio risk, sizes positions with fractional Kelly and manages
staged exits for the open book.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(opts.logLevel)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "config/cryptorisk.yaml", "Configuration file")
	flags.StringVar(&opts.envFile, "env-file", "", "Env file with secrets (default .env when present)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug|info|warn|error)")

	root.AddCommand(
		newRunCmd(opts),
		newSizeCmd(opts),
		newValidateCmd(opts),
		newPositionsCmd(opts),
		newVersionCmd(),
	)
	return root
}

// setupLogging writes human-readable logs to a terminal and JSON otherwise
func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return nil
}

// loadConfig reads the env file and the configuration, failing on any
// invalid or missing safety bound
func loadConfig(opts *rootOptions) (config.Config, error) {
	var files []string
	if opts.envFile != "" {
		files = append(files, opts.envFile)
	}
	if err := config.LoadEnv(files...); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	log.Debug().
		Str("path", opts.configPath).
		Str("storage", cfg.Storage.Driver).
		Float64("initial_capital", cfg.Portfolio.InitialCapital).
		Msg("Configuration loaded")
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, version)
		},
	}
}
