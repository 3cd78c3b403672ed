package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"txspout/internal/engine"
)

var (
	PipelineYml string
	GRPCPort    int
	MetricsPort int
)

func init() {
	run.Flags().StringVar(&PipelineYml, "pipeline", "pipeline.yml", "pipeline YAML; empty serves health only")
	run.Flags().IntVar(&GRPCPort, "grpc-port", 7070, "gRPC health port")
	run.Flags().IntVar(&MetricsPort, "metrics-port", 9100, "Prometheus port, 0 disables")
	rootCmd.AddCommand(run)
}

var run = &cobra.Command{
	Use:   "run",
	Short: "run the spout rounds against the configured broker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, engine.Config{
			GRPCPort:    GRPCPort,
			MetricsPort: MetricsPort,
			PipelineYml: PipelineYml,
		})
	},
}

func serve(ctx context.Context, cfg engine.Config) error {
	e, err := engine.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	return e.Run(ctx)
}
