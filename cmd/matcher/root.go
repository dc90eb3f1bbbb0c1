package main

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/logger"
	"github.com/spf13/cobra"
)

// app carries the loaded configuration from the root command to the
// subcommands.
type app struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "matcher",
		Short: "Bounded-mismatch subset matching over an indexed corpus of item sets",
		Long: `matcher indexes a corpus of item sets into a forest and reports, for every
transaction, each indexed set whose items are all present in the transaction
except for at most a configured number of mismatches.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if a.logLevel != "" {
				cfg.Logging.Level = a.logLevel
			}
			logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(
		newRunCommand(a),
		newServeCommand(a),
		newSnapshotCommand(a),
		newConsumeCommand(a),
		newLoadTestCommand(),
	)
	return root
}

// validate applies flag overrides and checks the result.
func (a *app) validate() error {
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
