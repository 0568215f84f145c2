package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ruslano69/bridgestation/pkg/brokers"
	"github.com/ruslano69/bridgestation/pkg/ingest"
	"github.com/ruslano69/bridgestation/pkg/resilience"
)

// NewFeedCmd создает группу команд feed
func NewFeedCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Consume or publish transaction batches through the message broker",
	}
	cmd.AddCommand(newFeedRunCmd(opts), newFeedPublishCmd(opts))
	return cmd
}

func connectBroker(ctx context.Context, opts *Options) (brokers.MessageBroker, error) {
	cfg := opts.Config().Broker
	if !cfg.Enabled() {
		return nil, errors.New("broker is not configured")
	}
	b, err := brokers.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := b.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", b.Type(), err)
	}
	return b, nil
}

func newFeedRunCmd(opts *Options) *cobra.Command {
	var retryDelay time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Import feed packets until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return opts.withStation(ctx, func(st *Station) error {
				b, err := connectBroker(ctx, opts)
				if err != nil {
					return err
				}
				defer b.Close()

				cb, err := resilience.New(brokers.BreakerConfig(st.Config.Breaker), resilience.WithLogger(log.Logger))
				if err != nil {
					return err
				}
				stores := func(ctx context.Context, pid int64) (brokers.Importer, error) {
					s, err := st.Store(ctx, pid)
					if err != nil {
						return nil, err
					}
					return s, nil
				}

				st.ServeMetrics(ctx)
				feed := brokers.NewFeed(b, stores,
					brokers.WithBreaker(cb),
					brokers.WithAudit(st.Audit),
					brokers.WithFeedLogger(log.Logger),
					brokers.WithRetryDelay(retryDelay))
				return feed.Run(ctx)
			})
		},
	}
	cmd.Flags().DurationVar(&retryDelay, "retry-delay", 5*time.Second, "pause before retrying a failed import")
	return cmd
}

func newFeedPublishCmd(opts *Options) *cobra.Command {
	var flags fileFlags
	cmd := &cobra.Command{
		Use:   "publish <process-id> <file>",
		Short: "Send a CSV or XLSX batch as a feed packet",
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
			if opts.Config() == nil {
				if err := opts.Load(); err != nil {
					return err
				}
			}
			reg, _, err := opts.Config().Catalog.Build()
			if err != nil {
				return err
			}
			schema, err := reg.Schema(ctx, pid)
			if err != nil {
				return err
			}

			b, err := connectBroker(ctx, opts)
			if err != nil {
				return err
			}
			defer b.Close()

			if err := brokers.Publish(ctx, b, pid, flags.dataSource, schema.Table(), batch); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Published %d row(s) of process %d to %s\n", batch.Len(), pid, b.Type())
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
