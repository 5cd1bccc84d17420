package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/cryptorisk/internal/config"
)

func newValidateCmd(root *rootOptions) *cobra.Command {
	var printConfig bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and list every problem",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			var verr *config.ValidationError
			if errors.As(err, &verr) {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s is invalid:\n", root.configPath)
				for _, p := range verr.Problems {
					fmt.Fprintf(out, "  - %s\n", p)
				}
				return err
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", root.configPath)
			if printConfig {
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				defer enc.Close()
				if cfg.Storage.DSN != "" {
					cfg.Storage.DSN = "***"
				}
				return enc.Encode(cfg)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&printConfig, "print", false, "Print the effective configuration")
	return cmd
}
