package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "ytharvest",
		Short: "Incremental YouTube channel, video and recommendation harvester",
		Long: `ytharvest keeps an append-only store of channels, videos, recommendations
and captions up to date, and publishes query-friendly index snapshots built
from the SQL warehouse.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ytharvest %s (%s, %s)\n", version, commit, buildDate)
		},
	})
	rootCmd.AddCommand(
		updateCmd(),
		indexCmd(),
		backfillExtraCmd(),
		pipeWorkerCmd(),
		userScrapeCmd(),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
