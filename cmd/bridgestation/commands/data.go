package commands

import (
	"fmt"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/ruslano69/bridgestation/pkg/audit"
	"github.com/ruslano69/bridgestation/pkg/ingest"
	"github.com/ruslano69/bridgestation/pkg/ledger"
)

// fileFlags - флаги чтения CSV/XLSX
type fileFlags struct {
	dataSource int64
	comma      string
	sheet      string
}

func (f *fileFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.dataSource, "data-source", 0, "data source id of the batch")
	cmd.Flags().StringVar(&f.comma, "comma", "", "CSV delimiter (default \",\", tab for .tsv)")
	cmd.Flags().StringVar(&f.sheet, "sheet", "", "XLSX sheet (default first sheet)")
	_ = cmd.MarkFlagRequired("data-source")
}

func (f *fileFlags) options() (ingest.Options, error) {
	var opts ingest.Options
	if f.comma != "" {
		r, size := utf8.DecodeRuneInString(f.comma)
		if size != len(f.comma) {
			return opts, fmt.Errorf("--comma must be a single character, got %q", f.comma)
		}
		opts.Comma = r
	}
	opts.Sheet = f.sheet
	return opts, nil
}

// NewImportCmd создает команду import
func NewImportCmd(opts *Options) *cobra.Command {
	var flags fileFlags
	cmd := &cobra.Command{
		Use:   "import <process-id> <file>",
		Short: "Reconcile a CSV or XLSX batch into the process table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parseProcessID(args[0])
			if err != nil {
				return err
			}
			readOpts, err := flags.options()
			if err != nil {
				return err
			}
			batch, err := ingest.ReadFile(args[1], readOpts)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			return opts.withStation(ctx, func(st *Station) error {
				start := time.Now()
				s, err := st.Store(ctx, pid)
				if err != nil {
					return err
				}
				res, err := s.ImportData(ctx, batch, flags.dataSource)
				_ = st.Audit.Log(ctx, audit.NewEntry(audit.OpImport, audit.StatusSuccess).
					WithProcess(pid).
					WithDataSource(flags.dataSource).
					WithResource(filepath.Base(args[1])).
					WithRecordsAffected(res.Counted).
					WithDuration(start).
					WithMetadata("duplicates", res.Duplicates).
					WithMetadata("merged", res.Merged).
					WithError(err))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "✓ %s: %d row(s) read, %d inserted, %d deleted (max id %d)\n",
					s.Table(), batch.Len(), res.Inserted, res.Deleted, res.MaxID)
				fmt.Fprintf(out, "  duplicates %d, merged %d, subsumed %d, without get-date %d\n",
					res.Duplicates, res.Merged, res.Subsumed, res.NoGetDate)
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

// NewCountCmd создает команду count
func NewCountCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "count [process-id...]",
		Short: "Show stored row counts and ledger totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return opts.withStation(ctx, func(st *Station) error {
				ids, err := processIDs(st, args)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-10s %-20s %12s %12s %12s\n", "PROCESS", "TABLE", "ROWS", "LEDGER DB", "LEDGER FILE")
				for _, pid := range ids {
					s, err := st.Store(ctx, pid)
					if err != nil {
						return fmt.Errorf("process %d: %w", pid, err)
					}
					n, err := s.DataCount(ctx)
					if err != nil {
						return err
					}
					db, err := st.Totals.Total(ctx, pid, ledger.TargetDB)
					if err != nil {
						return err
					}
					file, err := st.Totals.Total(ctx, pid, ledger.TargetFile)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%-10d %-20s %12d %12d %12d\n", pid, s.Table(), n, db, file)
				}
				return nil
			})
		},
	}
}
