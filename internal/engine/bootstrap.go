package engine

import (
	"context"
	"fmt"

	"txspout/internal/logging"
	"txspout/internal/pipeline"
	"txspout/internal/telemetry"
	"txspout/internal/transport"
)

type Config struct {
	GRPCPort    int
	MetricsPort int    // <= 0 disables /metrics
	PipelineYml string // empty = health endpoint only
}

func Bootstrap(ctx context.Context, cfg Config) (*Engine, error) {
	// 1. transport server
	srv, err := transport.StartServer(cfg.GRPCPort)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	// 2. pipeline runner
	var runner *pipeline.Runner
	if cfg.PipelineYml != "" {
		runner, err = pipeline.Compile(cfg.PipelineYml)
		if err != nil {
			srv.Stop()
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		runner.OnState(srv.SetServing)
		if err := runner.Start(ctx); err != nil {
			srv.Stop()
			_ = runner.Close()
			return nil, err
		}
	}

	// 3. metrics
	telemetry.Expose(cfg.MetricsPort)

	logging.L().Info("engine: started", "grpc", cfg.GRPCPort, "metrics", cfg.MetricsPort, "pipeline", cfg.PipelineYml)
	return &Engine{
		transport: srv,
		runner:    runner,
	}, nil
}
