package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ruslano69/bridgestation/pkg/audit"
	"github.com/ruslano69/bridgestation/pkg/core/schema"
	"github.com/ruslano69/bridgestation/pkg/store"
)

// NewEvolveCmd создает команду evolve
func NewEvolveCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "evolve [process-id...]",
		Short: "Create or evolve process tables to the configured schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			return opts.withStation(ctx, func(st *Station) error {
				ids, err := processIDs(st, args)
				if err != nil {
					return err
				}
				for _, pid := range ids {
					start := time.Now()
					s, report, err := st.Evolve(ctx, pid)
					st.Audit.Record(ctx, audit.OpEvolve, pid, tableOf(s, pid), 0, start, err)
					if err != nil {
						return fmt.Errorf("process %d: %w", pid, err)
					}
					printEvolve(cmd, s.Table(), report)
				}
				fmt.Fprintf(out, "✓ %d process table(s) up to date\n", len(ids))
				return nil
			})
		},
	}
}

func printEvolve(cmd *cobra.Command, table string, r *store.EvolveReport) {
	out := cmd.OutOrStdout()
	switch {
	case r.Created:
		fmt.Fprintf(out, "%s: created\n", table)
	case len(r.Added) > 0:
		fmt.Fprintf(out, "%s: added %s\n", table, strings.Join(r.Added, ", "))
	default:
		fmt.Fprintf(out, "%s: unchanged\n", table)
	}
	printCast(cmd, table, r.Cast)
	printIndexes(cmd, table, r.Indexes)
}

func printCast(cmd *cobra.Command, table string, r store.CastReport) {
	out := cmd.OutOrStdout()
	if len(r.Converted) > 0 {
		fmt.Fprintf(out, "%s: converted %s\n", table, strings.Join(r.Converted, ", "))
	}
	for _, f := range r.Failed {
		fmt.Fprintf(out, "⚠ %s.%s -> %s: %s (%d value(s))\n", table, f.Column, f.To, f.Reason, len(f.Values))
	}
}

func printIndexes(cmd *cobra.Command, table string, c store.IndexChanges) {
	out := cmd.OutOrStdout()
	for _, name := range c.Dropped {
		fmt.Fprintf(out, "%s: dropped index %s\n", table, name)
	}
	for _, name := range c.Created {
		fmt.Fprintf(out, "%s: created index %s\n", table, name)
	}
}

// NewReindexCmd создает команду reindex
func NewReindexCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex [process-id...]",
		Short: "Rebuild process table indexes from the configured descriptors",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return opts.withStation(ctx, func(st *Station) error {
				ids, err := processIDs(st, args)
				if err != nil {
					return err
				}
				for _, pid := range ids {
					start := time.Now()
					s, err := st.Store(ctx, pid)
					var changes store.IndexChanges
					if err == nil {
						changes, err = s.ReStructureIndex(ctx)
					}
					st.Audit.Record(ctx, audit.OpReindex, pid, tableOf(s, pid), 0, start, err)
					if err != nil {
						return fmt.Errorf("process %d: %w", pid, err)
					}
					if len(changes.Dropped)+len(changes.Created) == 0 {
						fmt.Fprintf(cmd.OutOrStdout(), "%s: indexes unchanged\n", s.Table())
					}
					printIndexes(cmd, s.Table(), changes)
				}
				return nil
			})
		},
	}
}

// NewCastCmd создает команду cast
func NewCastCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "cast <process-id> <column=TYPE>...",
		Short: "Change stored column types, reporting values that do not convert",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parseProcessID(args[0])
			if err != nil {
				return err
			}
			targets, err := parseCasts(args[1:])
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
				current := s.ColumnTypes(ctx)
				changes := make([]store.TypeChange, 0, len(targets))
				for _, t := range targets {
					from, ok := current[t.Column]
					if !ok {
						return fmt.Errorf("%s has no column %q", s.Table(), t.Column)
					}
					changes = append(changes, store.TypeChange{Column: t.Column, From: from, To: t.To})
				}
				report, err := s.CastDataTypeForColumns(ctx, changes)
				st.Audit.Record(ctx, audit.OpCast, pid, s.Table(), int64(len(report.Converted)), start, err)
				if err != nil {
					return err
				}
				printCast(cmd, s.Table(), report)
				if len(report.Failed) > 0 {
					return fmt.Errorf("%d column(s) not converted", len(report.Failed))
				}
				return nil
			})
		},
	}
}

// parseCasts разбирает аргументы вида column=TYPE
func parseCasts(args []string) ([]store.TypeChange, error) {
	out := make([]store.TypeChange, 0, len(args))
	for _, a := range args {
		col, typ, ok := strings.Cut(a, "=")
		if !ok || col == "" {
			return nil, fmt.Errorf("invalid cast %q, expected column=TYPE", a)
		}
		to := schema.NormalizeType(schema.DataType(strings.ToUpper(typ)))
		if !schema.IsValidType(to) {
			return nil, fmt.Errorf("invalid cast %q: unknown type %q", a, typ)
		}
		out = append(out, store.TypeChange{Column: col, To: to})
	}
	return out, nil
}

// NewPartitionCmd создает команду partition
func NewPartitionCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "partition <process-id> <yyyy-mm>",
		Short: "Create the monthly partition of a process table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parseProcessID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return opts.withStation(ctx, func(st *Station) error {
				start := time.Now()
				s, err := st.Store(ctx, pid)
				if err == nil {
					err = s.CreatePartitionByTime(ctx, args[1])
				}
				st.Audit.Record(ctx, audit.OpPartition, pid, args[1], 0, start, err)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s partition %s ready\n", s.Table(), args[1])
				return nil
			})
		},
	}
}

func tableOf(s *store.Store, pid int64) string {
	if s == nil {
		return fmt.Sprintf("process %d", pid)
	}
	return s.Table()
}
