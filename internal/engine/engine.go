package engine

import (
	"context"

	"txspout/internal/logging"
	"txspout/internal/pipeline"
	"txspout/internal/transport"
)

type Engine struct {
	transport *transport.Server
	runner    *pipeline.Runner
}

// Run serves until ctx is cancelled, then stops the runner before the
// transport so the health endpoint reports NOT_SERVING on the way down.
func (e *Engine) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if e.runner != nil {
			if err := e.runner.Close(); err != nil {
				logging.L().Warn("engine: runner close", "err", err)
			}
		}
		e.transport.Stop()
	}()

	return e.transport.Serve()
}
