package main

import (
	"fmt"

	"github.com/sifan077/TempLink/config"
	"github.com/sifan077/TempLink/internal/infra/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	appConfig *config.Config
	appLogger *zap.Logger
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "templink",
	Short: "Temporary disguise links for services without public DNS",
	Long: `templink issues short-lived links of the form <id>.<disguise domain> that
relay browser traffic to an origin reachable only by IP address, while
presenting the origin's real domain in the Host header.

Links live for 24 hours and are retired by a background sweeper.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		appConfig = cfg
		appLogger = logger.MustInit(cfg.Log)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
