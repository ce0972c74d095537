package main

import (
	"fmt"
	"time"

	"github.com/sifan077/TempLink/internal/app/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Retire expired links once and exit",
	Long: `Run a single expiration pass over the link registry. Expired links are
deleted and, when notifications are enabled, reported on the expiration
webhook. Useful from cron when the server runs without its sweeper.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	c, err := openCore(appConfig, appLogger)
	if err != nil {
		return err
	}
	defer c.Close()

	sweeper := service.NewExpirationSweeper(service.SweeperDeps{
		Logger:         appLogger.Named("sweeper"),
		Links:          c.links,
		Notifier:       c.notifier,
		Events:         c.events,
		DisguiseDomain: appConfig.Disguise.Domain,
		Interval:       appConfig.Sweeper.Interval,
	})

	report := sweeper.SweepOnce(cmd.Context(), time.Now())
	for id, ferr := range report.Failed {
		appLogger.Warn("link left for the next pass", zap.String("identifier", id), zap.Error(ferr))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Scanned %d, retired %d, failed %d\n",
		report.Scanned, len(report.Retired), len(report.Failed))
	return nil
}
