package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ruslano69/bridgestation/cmd/bridgestation/commands"
)

var version = "dev"

func main() {
	opts := &commands.Options{}
	root := &cobra.Command{
		Use:   "bridgestation",
		Short: "Transaction merge, deduplication and backup station",
		Long: `Bridgestation receives batches of production transactions, reconciles them
against the stored history (exact duplicates, measurement/history merges,
ready rows) and keeps per-process tables, daily backup files and hourly
row ledgers in step.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return opts.Load()
		},
	}
	root.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "bridgestation.yaml", "configuration file")
	root.PersistentFlags().StringVar(&opts.EnvFile, "env", ".env", "environment file loaded before the configuration")
	root.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		commands.NewEvolveCmd(opts),
		commands.NewReindexCmd(opts),
		commands.NewCastCmd(opts),
		commands.NewPartitionCmd(opts),
		commands.NewImportCmd(opts),
		commands.NewCountCmd(opts),
		commands.NewBackupCmd(opts),
		commands.NewRestoreCmd(opts),
		commands.NewFeedCmd(opts),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
