package commands

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ruslano69/bridgestation/pkg/audit"
	"github.com/ruslano69/bridgestation/pkg/backup"
)

// NewBackupCmd создает команду backup
func NewBackupCmd(opts *Options) *cobra.Command {
	return newTransferCmd(opts, "backup", audit.OpBackup,
		"Move a time window of transactions from the database into daily backup files",
		(*backup.Orchestrator).Backup)
}

// NewRestoreCmd создает команду restore
func NewRestoreCmd(opts *Options) *cobra.Command {
	return newTransferCmd(opts, "restore", audit.OpRestore,
		"Return a time window of transactions from backup files into the database",
		(*backup.Orchestrator).Restore)
}

type transferFunc func(o *backup.Orchestrator, ctx context.Context, start, end time.Time) iter.Seq2[backup.Progress, error]

func newTransferCmd(opts *Options, name string, op audit.Operation, short string, run transferFunc) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   name + " <process-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parseProcessID(args[0])
			if err != nil {
				return err
			}
			start, end, err := parseWindow(from, to)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return opts.withStation(ctx, func(st *Station) error {
				s, err := st.Store(ctx, pid)
				if err != nil {
					return err
				}
				files, err := st.Files(ctx)
				if err != nil {
					return err
				}
				retryer, err := st.Retryer()
				if err != nil {
					return err
				}
				logger := log.Logger.With().Str("op", name).Int64("process_id", pid).Logger()
				o := &backup.Orchestrator{
					Store:   s,
					Files:   files,
					Ledger:  st.Ledger,
					Retryer: retryer,
					Logger:  &logger,
				}

				out := cmd.OutOrStdout()
				var total int64
				for p, err := range run(o, ctx, start, end) {
					st.Audit.Record(ctx, op, pid, p.Key.String(), p.Rows, time.Now(), err)
					if err != nil {
						return fmt.Errorf("%s %s: %w", name, p.Key, err)
					}
					total += p.Rows
					fmt.Fprintf(out, "[%3.0f%%] %s: %d row(s)\n", p.Percent, p.Key, p.Rows)
				}
				fmt.Fprintf(out, "✓ %s %s: %d row(s) moved\n", name, s.Table(), total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start, inclusive (e.g. 2024-01-01)")
	cmd.Flags().StringVar(&to, "to", "", "window end, exclusive")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
