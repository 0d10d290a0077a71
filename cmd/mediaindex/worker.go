package main

import (
	"github.com/Aleph-Alpha/mediaindex/internal/ingest"
	"github.com/Aleph-Alpha/mediaindex/pkg/metrics"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func (c *cli) workerCmd() *cobra.Command {
	var sweep bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume ingestion jobs until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []fx.Option{
				pipeline(c.cfg),
				metrics.ServerModule,
				ingest.WorkerModule,
			}
			if sweep {
				opts = append(opts, ingest.RunSweeperModule)
			}
			return serve(cmd.Context(), fx.Options(opts...))
		},
	}
	cmd.Flags().BoolVar(&sweep, "sweep", true, "also run the periodic reconciliation sweep")
	return cmd
}

func (c *cli) reconcileCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile the metadata store, the vector index and the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !once {
				return serve(cmd.Context(), fx.Options(
					pipeline(c.cfg),
					metrics.ServerModule,
					ingest.RunSweeperModule,
				))
			}

			var sweeper *ingest.Sweeper
			stop, err := start(cmd.Context(), pipeline(c.cfg), &sweeper)
			if err != nil {
				return err
			}
			defer stop()

			report, ran := sweeper.RunOnce(cmd.Context())
			if !ran {
				cmd.PrintErrln("another sweeper holds the lock, nothing done")
				return nil
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single sweep and print its report")
	return cmd
}
